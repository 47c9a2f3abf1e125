package routers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/penggy/cors"

	"github.com/EasyDarwin/StreamStudio/backend"
	"github.com/EasyDarwin/StreamStudio/capture"
	"github.com/EasyDarwin/StreamStudio/log"
	"github.com/EasyDarwin/StreamStudio/models"
	"github.com/EasyDarwin/StreamStudio/studio"
)

var (
	BuildVersion  = "v1.0"
	BuildDateTime = ""
)

const previewPrefix = "/preview"

// Studio is the state container the HTTP surface drives.
type Studio interface {
	Snapshot() studio.State
	SetCredentials(c models.Credentials)
	ToggleSettings()
	StartStream(ctx context.Context) error
	StopStream(ctx context.Context) error
	TestCredentials(ctx context.Context) error
}

// Supervisor reports on the backend process.
type Supervisor interface {
	State() backend.State
	Interpreter() string
	Usage() (backend.Usage, error)
	ExitInfo() (backend.ExitInfo, bool)
}

type Options struct {
	Studio     Studio
	Supervisor Supervisor
	Preview    *capture.Preview
	PreviewDir string
	Pprof      bool
	// Context bounds stream operations. Requests do not cancel them.
	Context context.Context
}

type APIHandler struct {
	studio     Studio
	supervisor Supervisor
	preview    *capture.Preview
	previewDir string
	ctx        context.Context
}

func Errors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		for _, err := range c.Errors {
			switch err.Type {
			case gin.ErrorTypeBind:
				switch errs := err.Err.(type) {
				case validator.ValidationErrors:
					for _, fe := range errs {
						c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s %s", fe.Field(), fe.Tag())})
						return
					}
				default:
					log.Error(err.Err.Error())
					c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Inner Error"})
					return
				}
			}
		}
	}
}

// Init builds the engine for the local control surface.
func Init(opts Options) (*gin.Engine, error) {
	if opts.Studio == nil {
		return nil, fmt.Errorf("routers: studio is required")
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	h := &APIHandler{
		studio:     opts.Studio,
		supervisor: opts.Supervisor,
		preview:    opts.Preview,
		previewDir: opts.PreviewDir,
		ctx:        opts.Context,
	}

	gin.DisableConsoleColor()
	if !log.IsDebug() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if opts.Pprof {
		pprof.Register(router)
	}
	router.Use(gin.Recovery())
	router.Use(Errors())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "PUT", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           50 * time.Second,
	}))
	if h.previewDir != "" {
		router.Use(static.Serve(previewPrefix, static.LocalFile(h.previewDir, false)))
	}

	api := router.Group("/api/v1")
	{
		api.GET("/version", h.Version)
		api.GET("/state", h.State)
		api.PUT("/credentials", h.SetCredentials)
		api.POST("/credentials/test", h.TestCredentials)
		api.POST("/settings/toggle", h.ToggleSettings)
		api.POST("/stream/start", h.StreamStart)
		api.POST("/stream/stop", h.StreamStop)
		api.GET("/preview", h.PreviewFiles)
		api.GET("/backend", h.Backend)
	}
	return router, nil
}

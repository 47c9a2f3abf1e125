package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MeloQi/service"

	"github.com/EasyDarwin/StreamStudio/api"
	"github.com/EasyDarwin/StreamStudio/backend"
	"github.com/EasyDarwin/StreamStudio/capture"
	"github.com/EasyDarwin/StreamStudio/encoder"
	"github.com/EasyDarwin/StreamStudio/log"
	"github.com/EasyDarwin/StreamStudio/models"
	"github.com/EasyDarwin/StreamStudio/routers"
	"github.com/EasyDarwin/StreamStudio/studio"
	"github.com/EasyDarwin/StreamStudio/utils"
)

var (
	gitCommitCode string
	buildDateTime string
)

// program owns every long-lived part of the application.
type program struct {
	cfg      *utils.Config
	headless bool

	supervisor *backend.Supervisor
	client     *api.Client
	preview    *capture.Preview
	capture    *capture.Controller
	studio     *studio.Studio
	httpServer *http.Server

	ctx          context.Context
	cancel       context.CancelFunc
	watchDone    chan struct{}
	shutdownOnce sync.Once
}

func newProgram(cfg *utils.Config, headless bool) *program {
	client := api.NewClient(cfg.API.BaseURL, api.WithTimeout(cfg.API.Timeout))

	var supervisor *backend.Supervisor
	if cfg.Backend.Autostart {
		bc := backend.ConfigFrom(cfg.Backend, cfg.LogFile())
		bc.Health = client
		supervisor = backend.NewSupervisor(bc)
	}

	source := capture.NewFFmpegSource(cfg.Encoder.Binary, cfg.Capture, cfg.LogFile())
	ctrl := capture.NewController(source, capture.DefaultConstraints(), capture.Settings{
		Width:      cfg.Capture.Width,
		Height:     cfg.Capture.Height,
		FrameRate:  cfg.Capture.FrameRate,
		SampleRate: cfg.Capture.SampleRate,
		Audio:      cfg.Capture.Audio,
	})
	preview := &capture.Preview{}
	ctrl.SetPreview(preview)

	streamCfg := models.StreamConfig{
		Width:     cfg.Stream.Width,
		Height:    cfg.Stream.Height,
		FrameRate: cfg.Stream.FrameRate,
		Bitrate:   cfg.Stream.Bitrate,
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &program{
		cfg:        cfg,
		headless:   headless,
		supervisor: supervisor,
		client:     client,
		preview:    preview,
		capture:    ctrl,
		studio:     studio.New(client, ctrl, streamCfg),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// boot starts the backend, probes the encoder, opens the HTTP surface and
// the status watcher, then logs the studio start. Only a *backend.FatalError
// aborts it.
func (p *program) boot() error {
	if p.supervisor != nil {
		p.supervisor.OnExit(func(info backend.ExitInfo) {
			if !info.Requested {
				p.studio.BackendExited(info.Code)
			}
		})
		ready, err := p.supervisor.Start(p.ctx)
		var fatal *backend.FatalError
		switch {
		case errors.As(err, &fatal):
			return err
		case err != nil:
			log.Error("failed to start backend: ", err)
		default:
			log.Infof("backend ready (%s)", ready)
			p.studio.BackendStarted()
		}
	}

	if _, err := encoder.Probe(p.ctx, p.cfg.Encoder.Binary); err != nil {
		if p.headless {
			log.Warnf("FFmpeg not found, streaming will not work: %v", err)
		} else {
			p.studio.EncoderMissing()
		}
	}

	if p.cfg.HTTP.Enabled {
		if err := p.StartHTTP(); err != nil {
			log.Error("http surface disabled: ", err)
		}
	}

	if p.cfg.API.Watch {
		p.watchDone = make(chan struct{})
		go func() {
			defer close(p.watchDone)
			p.client.WatchStatus(p.ctx, p.studio.ApplyBackendStatus)
		}()
	}

	p.studio.Boot(p.ctx)
	return nil
}

// shutdown releases everything boot acquired. It is safe to call more
// than once.
func (p *program) shutdown() {
	p.shutdownOnce.Do(func() {
		p.studio.StopCapture()
		p.cancel()
		if p.watchDone != nil {
			select {
			case <-p.watchDone:
			case <-time.After(2 * time.Second):
			}
		}
		if p.httpServer != nil {
			if err := p.StopHTTP(); err != nil {
				log.Warn("stop http: ", err)
			}
		}
		if p.supervisor != nil {
			if err := p.supervisor.Stop(); err != nil {
				log.Warn("stop backend: ", err)
			}
		}
	})
}

func (p *program) StartHTTP() (err error) {
	if utils.IsPortInUse(p.cfg.HTTP.Port) {
		return fmt.Errorf("HTTP port[%d] In Use", p.cfg.HTTP.Port)
	}
	opts := routers.Options{
		Studio:     p.studio,
		Preview:    p.preview,
		PreviewDir: p.cfg.Capture.PreviewDir,
		Pprof:      p.cfg.HTTP.Pprof,
		Context:    p.ctx,
	}
	if p.supervisor != nil {
		opts.Supervisor = p.supervisor
	}
	router, err := routers.Init(opts)
	if err != nil {
		return
	}
	p.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", p.cfg.HTTP.Host, p.cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	link := fmt.Sprintf("http://%s:%d", p.cfg.HTTP.Host, p.cfg.HTTP.Port)
	log.Info("http server start --> ", link)
	go func() {
		if err := p.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("start http server error: ", err)
		}
		log.Info("http server end")
	}()
	return
}

func (p *program) StopHTTP() (err error) {
	if p.httpServer == nil {
		err = fmt.Errorf("HTTP Server Not Found")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = p.httpServer.Shutdown(ctx); err != nil {
		return
	}
	return
}

// usage is the footer line describing the backend process.
func (p *program) usage() string {
	if p.supervisor == nil {
		return "backend: external"
	}
	u, err := p.supervisor.Usage()
	if err != nil {
		return "backend: " + p.supervisor.State().String()
	}
	return fmt.Sprintf("backend pid %d · %.1f MB · cpu %.1f%%", u.PID, float64(u.RSS)/(1<<20), u.CPUPercent)
}

func (p *program) Start(s service.Service) (err error) {
	log.Info("********** START **********")
	return p.boot()
}

func (p *program) Stop(s service.Service) (err error) {
	defer log.Info("********** STOP **********")
	defer log.CloseLogWriters()
	p.shutdown()
	return
}

package routers

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/EasyDarwin/StreamStudio/api"
	"github.com/EasyDarwin/StreamStudio/capture"
	"github.com/EasyDarwin/StreamStudio/log"
	"github.com/EasyDarwin/StreamStudio/models"
	"github.com/EasyDarwin/StreamStudio/studio"
	"github.com/EasyDarwin/StreamStudio/utils"
)

type credentialsView struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	StreamKey    string `json:"streamKey"`
	Complete     bool   `json:"complete"`
}

// credentialsForm may be partial. Completeness is checked on start and test.
type credentialsForm struct {
	ClientID     string `json:"clientId" binding:"max=128"`
	ClientSecret string `json:"clientSecret" binding:"max=128"`
	StreamKey    string `json:"streamKey" binding:"max=256"`
}

type stateView struct {
	Credentials    credentialsView       `json:"credentials"`
	ShowSettings   bool                  `json:"showSettings"`
	IsStreaming    bool                  `json:"isStreaming"`
	Status         models.StreamStatus   `json:"status"`
	StatusLabel    string                `json:"statusLabel"`
	StatusColor    string                `json:"statusColor"`
	Banner         string                `json:"error"`
	Logs           []models.LogEntry     `json:"logs"`
	Capture        string                `json:"capture"`
	Preview        string                `json:"preview,omitempty"`
	EncoderMissing bool                  `json:"encoderMissing"`
	BackendRunning bool                  `json:"backendRunning"`
	Backend        *models.BackendStatus `json:"backend,omitempty"`
}

// newStateView masks the client secret and the stream key.
func (h *APIHandler) newStateView(st studio.State) stateView {
	logs := st.Logs
	if logs == nil {
		logs = []models.LogEntry{}
	}
	v := stateView{
		Credentials: credentialsView{
			ClientID:     st.Credentials.ClientID,
			ClientSecret: utils.MaskSecret(st.Credentials.ClientSecret),
			StreamKey:    utils.MaskSecret(st.Credentials.StreamKey),
			Complete:     st.Credentials.Complete(),
		},
		ShowSettings:   st.ShowSettings,
		IsStreaming:    st.IsStreaming,
		Status:         st.Status,
		StatusLabel:    st.Status.Label(),
		StatusColor:    st.Status.Color(),
		Banner:         st.Banner,
		Logs:           logs,
		Capture:        st.Capture,
		EncoderMissing: st.EncoderMissing,
		BackendRunning: st.BackendRunning,
		Backend:        st.Backend,
	}
	if h.preview != nil {
		v.Preview = h.preview.Playlist(previewPrefix, capture.Video)
	}
	return v
}

func errorStatus(err error) int {
	var apiErr *api.APIError
	switch {
	case errors.Is(err, studio.ErrMissingCredentials):
		return http.StatusBadRequest
	case errors.Is(err, studio.ErrValidationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, studio.ErrStreamActive):
		return http.StatusConflict
	case errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, capture.ErrDeviceUnavailable), errors.Is(err, capture.ErrOverconstrained):
		return http.StatusUnprocessableEntity
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	return http.StatusServiceUnavailable
}

func (h *APIHandler) respond(c *gin.Context, err error) {
	view := h.newStateView(h.studio.Snapshot())
	if err != nil {
		c.IndentedJSON(errorStatus(err), gin.H{"error": err.Error(), "state": view})
		return
	}
	c.IndentedJSON(http.StatusOK, view)
}

/**
 * @api {get} /api/v1/version version
 * @apiGroup studio
 * @apiName Version
 * @apiSuccess (200) {String} version
 * @apiSuccess (200) {String} buildDateTime
 */
func (h *APIHandler) Version(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, gin.H{
		"version":       BuildVersion,
		"buildDateTime": BuildDateTime,
	})
}

/**
 * @api {get} /api/v1/state current studio state
 * @apiGroup studio
 * @apiName State
 * @apiSuccess (200) {Object} credentials clientSecret and streamKey are masked
 * @apiSuccess (200) {String=disconnected,connecting,live,error} status
 * @apiSuccess (200) {Array} logs at most 10 entries, most recent last
 */
func (h *APIHandler) State(c *gin.Context) {
	h.respond(c, nil)
}

/**
 * @api {put} /api/v1/credentials set twitch credentials
 * @apiGroup studio
 * @apiName SetCredentials
 * @apiParam {String} clientId
 * @apiParam {String} clientSecret
 * @apiParam {String} [streamKey]
 */
func (h *APIHandler) SetCredentials(c *gin.Context) {
	var form credentialsForm
	if err := c.BindJSON(&form); err != nil {
		return
	}
	h.studio.SetCredentials(models.Credentials{
		ClientID:     strings.TrimSpace(form.ClientID),
		ClientSecret: strings.TrimSpace(form.ClientSecret),
		StreamKey:    strings.TrimSpace(form.StreamKey),
	})
	h.respond(c, nil)
}

/**
 * @api {post} /api/v1/credentials/test validate credentials with the backend
 * @apiGroup studio
 * @apiName TestCredentials
 */
func (h *APIHandler) TestCredentials(c *gin.Context) {
	h.respond(c, h.studio.TestCredentials(h.ctx))
}

/**
 * @api {post} /api/v1/settings/toggle show or hide the settings panel
 * @apiGroup studio
 * @apiName ToggleSettings
 */
func (h *APIHandler) ToggleSettings(c *gin.Context) {
	h.studio.ToggleSettings()
	h.respond(c, nil)
}

/**
 * @api {post} /api/v1/stream/start start capture and go live
 * @apiGroup stream
 * @apiName StreamStart
 */
func (h *APIHandler) StreamStart(c *gin.Context) {
	err := h.studio.StartStream(h.ctx)
	if err != nil {
		log.Warnf("stream start: %v", err)
	}
	h.respond(c, err)
}

/**
 * @api {post} /api/v1/stream/stop stop the stream and the capture
 * @apiGroup stream
 * @apiName StreamStop
 */
func (h *APIHandler) StreamStop(c *gin.Context) {
	h.respond(c, h.studio.StopStream(h.ctx))
}

/**
 * @api {get} /api/v1/preview files of the active preview
 * @apiGroup stream
 * @apiName PreviewFiles
 * @apiSuccess (200) {String} id capture id, empty when idle
 * @apiSuccess (200) {Array} rows
 * @apiSuccess (200) {String} rows.path URL path under /preview
 * @apiSuccess (200) {Number} rows.size
 * @apiSuccess (200) {String} rows.modTime
 */
func (h *APIHandler) PreviewFiles(c *gin.Context) {
	rows := make([]interface{}, 0)
	var id string
	if h.preview != nil {
		if s := h.preview.Source(); s != nil {
			id = s.ID
		}
	}
	if id == "" || h.previewDir == "" {
		c.IndentedJSON(http.StatusOK, gin.H{"id": id, "rows": rows})
		return
	}

	dir := filepath.Join(h.previewDir, id)
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		log.Error("preview dir read err: ", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.IsDir() {
			continue
		}
		rows = append(rows, map[string]interface{}{
			"path":    previewPrefix + "/" + id + "/" + e.Name(),
			"size":    info.Size(),
			"modTime": info.ModTime().Format(time.RFC3339),
		})
	}
	c.IndentedJSON(http.StatusOK, gin.H{"id": id, "rows": rows})
}

/**
 * @api {get} /api/v1/backend backend process
 * @apiGroup backend
 * @apiName Backend
 * @apiSuccess (200) {String=stopped,running} state
 * @apiSuccess (200) {String} interpreter
 * @apiSuccess (200) {Object} usage pid, rss and cpu of the child
 */
func (h *APIHandler) Backend(c *gin.Context) {
	if h.supervisor == nil {
		c.IndentedJSON(http.StatusOK, gin.H{"state": "unmanaged"})
		return
	}
	out := gin.H{
		"state":       h.supervisor.State().String(),
		"interpreter": h.supervisor.Interpreter(),
	}
	if u, err := h.supervisor.Usage(); err == nil {
		out["usage"] = gin.H{"pid": u.PID, "rss": u.RSS, "cpu": u.CPUPercent}
	}
	if info, ok := h.supervisor.ExitInfo(); ok {
		out["lastExit"] = gin.H{"code": info.Code, "at": info.At.Format(time.RFC3339), "requested": info.Requested}
	}
	c.IndentedJSON(http.StatusOK, out)
}

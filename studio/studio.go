package studio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/EasyDarwin/StreamStudio/api"
	"github.com/EasyDarwin/StreamStudio/capture"
	"github.com/EasyDarwin/StreamStudio/log"
	"github.com/EasyDarwin/StreamStudio/models"
)

const (
	DeveloperConsoleURL = "https://dev.twitch.tv/console/apps"

	msgStarted           = "Twitch Stream Studio started"
	msgBackendOK         = "Backend connection established"
	msgBackendFailed     = "Backend connection failed - some features may not work"
	msgConfigureCreds    = "Please configure Twitch credentials in settings"
	msgEnterCreds        = "Please enter both Client ID and Client Secret"
	msgMissingCreds      = "Missing Twitch credentials"
	msgAlreadyActive     = "Stream already active"
	msgStarting          = "Starting stream..."
	msgRequestCapture    = "Requesting screen capture permission..."
	msgCaptureStarted    = "Screen capture started successfully"
	msgCaptureStopped    = "Screen capture stopped"
	msgLive              = "Stream started successfully! You are now live on Twitch!"
	msgStopping          = "Stopping stream..."
	msgStopped           = "Stream stopped"
	msgTesting           = "Testing Twitch credentials..."
	msgValidated         = "Credentials validated successfully!"
	msgInvalidCreds      = "Invalid credentials"
	msgStartFailedReason = "Failed to start stream"
)

var (
	ErrMissingCredentials = errors.New("missing twitch credentials")
	ErrValidationFailed   = errors.New("credential validation failed")
	ErrStreamActive       = errors.New("stream already active")
)

var logger = log.NewLogger("studio", log.Component)

// Backend is the part of the stream session client the studio drives.
type Backend interface {
	Health(ctx context.Context) (*models.HealthResponse, error)
	ValidateCredentials(ctx context.Context, creds models.Credentials) (*models.ValidateResponse, error)
	StartStream(ctx context.Context, req models.StartStreamRequest) (*models.StreamResponse, error)
	StopStream(ctx context.Context) (*models.StreamResponse, error)
}

// Capturer is the screen capture controller.
type Capturer interface {
	Start(ctx context.Context) (*capture.Stream, error)
	Stop() error
}

// Studio holds the UI state shared by the terminal UI and the HTTP surface.
// Network and capture calls are made without holding the lock.
type Studio struct {
	backend   Backend
	capturer  Capturer
	streamCfg models.StreamConfig

	lock  sync.Mutex
	state State

	subsLock sync.Mutex
	subs     map[int]func(State)
	nextSub  int
}

func New(backend Backend, capturer Capturer, streamCfg models.StreamConfig) *Studio {
	return &Studio{
		backend:   backend,
		capturer:  capturer,
		streamCfg: streamCfg,
		subs:      make(map[int]func(State)),
	}
}

func (s *Studio) Snapshot() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state.clone()
}

// Subscribe calls fn with a snapshot after every change. The returned func
// removes the subscription.
func (s *Studio) Subscribe(fn func(State)) func() {
	s.subsLock.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsLock.Unlock()
	return func() {
		s.subsLock.Lock()
		delete(s.subs, id)
		s.subsLock.Unlock()
	}
}

// Dispatch applies actions in order and notifies subscribers once.
func (s *Studio) Dispatch(actions ...Action) State {
	s.lock.Lock()
	for _, a := range actions {
		s.state = Reduce(s.state, a)
	}
	snap := s.state.clone()
	s.lock.Unlock()

	s.notify(snap, actions)
	return snap
}

// dispatchIf applies actions only when guard accepts the current state.
func (s *Studio) dispatchIf(guard func(State) bool, actions ...Action) bool {
	s.lock.Lock()
	if !guard(s.state) {
		s.lock.Unlock()
		return false
	}
	for _, a := range actions {
		s.state = Reduce(s.state, a)
	}
	snap := s.state.clone()
	s.lock.Unlock()

	s.notify(snap, actions)
	return true
}

func (s *Studio) notify(snap State, applied []Action) {
	for _, a := range applied {
		if l, ok := a.(AddLog); ok {
			if l.Entry.Category == models.Failure {
				logger.Error(l.Entry.Message)
			} else {
				logger.Info(l.Entry.Message)
			}
		}
	}

	s.subsLock.Lock()
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsLock.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func addLog(msg string, cat models.LogCategory) Action {
	return AddLog{Entry: models.NewLogEntry(msg, cat)}
}

// failure sets the banner and appends the same message as an error entry.
func failure(msg string) []Action {
	return []Action{SetBanner{Message: msg}, addLog(msg, models.Failure)}
}

// Boot logs the start and checks backend connectivity. The result never
// blocks the UI.
func (s *Studio) Boot(ctx context.Context) {
	s.Dispatch(addLog(msgStarted, models.Success))

	h, err := s.backend.Health(ctx)
	switch {
	case err != nil:
		s.Dispatch(addLog(msgBackendFailed, models.Failure))
	case h.Healthy():
		s.Dispatch(addLog(msgBackendOK, models.Success))
	}
}

func (s *Studio) SetCredentials(c models.Credentials) {
	s.Dispatch(SetCredentials{Credentials: c})
}

func (s *Studio) ToggleSettings() {
	s.Dispatch(ToggleSettings{})
}

// StartStream captures the screen and asks the backend to go live. Any
// failure after the capture started tears the capture down again.
func (s *Studio) StartStream(ctx context.Context) error {
	var (
		creds   models.Credentials
		missing bool
	)
	started := s.dispatchIf(func(st State) bool {
		creds = st.Credentials
		if !creds.Complete() {
			missing = true
			return false
		}
		return st.Status != models.Connecting && st.Status != models.Live
	},
		SetBanner{},
		addLog(msgStarting, models.Info),
		SetStatus{Status: models.Connecting},
	)
	if missing {
		s.Dispatch(SetBanner{Message: msgConfigureCreds}, addLog(msgMissingCreds, models.Failure))
		return ErrMissingCredentials
	}
	if !started {
		s.Dispatch(addLog(msgAlreadyActive, models.Info))
		return ErrStreamActive
	}

	s.Dispatch(addLog(msgRequestCapture, models.Info))
	stream, err := s.capturer.Start(ctx)
	if err != nil {
		msg := fmt.Sprintf("Screen capture failed: %v", err)
		s.Dispatch(append(failure(msg), SetStatus{Status: models.Error}, SetStreaming{Streaming: false})...)
		return err
	}
	s.Dispatch(SetCapture{Summary: stream.String()}, addLog(msgCaptureStarted, models.Info))

	res, err := s.backend.StartStream(ctx, models.StartStreamRequest{Credentials: creds, StreamConfig: s.streamCfg})
	if err == nil && !res.Success {
		reason := res.Error
		if reason == "" {
			reason = msgStartFailedReason
		}
		err = errors.New(reason)
	}
	if err != nil {
		msg := fmt.Sprintf("Stream start failed: %v", err)
		actions := failure(msg)
		actions = append(actions, s.stopCapture()...)
		actions = append(actions, SetStatus{Status: models.Error}, SetStreaming{Streaming: false})
		s.Dispatch(actions...)
		return err
	}

	s.Dispatch(
		SetStreaming{Streaming: true},
		SetStatus{Status: models.Live},
		addLog(msgLive, models.Success),
	)
	return nil
}

// StopStream asks the backend to stop. Any HTTP answer clears the local
// streaming state. A transport error leaves it untouched.
func (s *Studio) StopStream(ctx context.Context) error {
	s.Dispatch(addLog(msgStopping, models.Info))

	res, err := s.backend.StopStream(ctx)
	reported := ""
	if err != nil {
		var apiErr *api.APIError
		if !errors.As(err, &apiErr) {
			s.Dispatch(failure(fmt.Sprintf("Stop stream failed: %v", err))...)
			return err
		}
		reported = apiErr.Error()
	} else if res != nil && !res.Success {
		switch {
		case res.Error != "":
			reported = res.Error
		case res.Message != "":
			reported = res.Message
		default:
			reported = "unknown error"
		}
	}

	actions := s.stopCapture()
	actions = append(actions,
		SetStreaming{Streaming: false},
		SetStatus{Status: models.Disconnected},
		addLog(msgStopped, models.Info),
	)
	if reported != "" {
		actions = append(actions, addLog(fmt.Sprintf("Backend reported stop failure: %s", reported), models.Failure))
	}
	s.Dispatch(actions...)
	return nil
}

// TestCredentials validates the current credentials against the backend.
func (s *Studio) TestCredentials(ctx context.Context) error {
	creds := s.Snapshot().Credentials
	if !creds.Complete() {
		s.Dispatch(SetBanner{Message: msgEnterCreds}, addLog(msgMissingCreds, models.Failure))
		return ErrMissingCredentials
	}

	s.Dispatch(addLog(msgTesting, models.Info))
	res, err := s.backend.ValidateCredentials(ctx, creds)
	if err == nil && !res.Valid {
		reason := res.Error
		if reason == "" {
			reason = msgInvalidCreds
		}
		err = fmt.Errorf("%w: %s", ErrValidationFailed, reason)
		s.Dispatch(failure(fmt.Sprintf("Credential validation failed: %s", reason))...)
		return err
	}
	if err != nil {
		s.Dispatch(failure(fmt.Sprintf("Credential validation failed: %v", err))...)
		return err
	}

	s.Dispatch(addLog(msgValidated, models.Success), SetBanner{})
	return nil
}

// BackendExited records an unexpected backend exit. A running stream loses
// its capture and ends in the error state.
func (s *Studio) BackendExited(code int) {
	var wasActive bool
	s.lock.Lock()
	wasActive = s.state.IsStreaming || s.state.Status == models.Connecting || s.state.Status == models.Live
	s.lock.Unlock()

	actions := []Action{SetBackendRunning{Running: false}}
	if wasActive {
		if err := s.capturer.Stop(); err != nil {
			logger.Warnf("stop capture: %v", err)
		}
		actions = append(actions, SetCapture{}, SetStreaming{Streaming: false}, SetStatus{Status: models.Error})
	}
	actions = append(actions, addLog(fmt.Sprintf("Backend process exited with code %d", code), models.Failure))
	s.Dispatch(actions...)
}

func (s *Studio) BackendStarted() {
	s.Dispatch(SetBackendRunning{Running: true})
}

// EncoderMissing raises the FFmpeg Not Found notice.
func (s *Studio) EncoderMissing() {
	s.Dispatch(SetEncoderMissing{Missing: true})
}

func (s *Studio) DismissEncoderNotice() {
	s.Dispatch(SetEncoderMissing{Missing: false})
}

func (s *Studio) ApplyBackendStatus(st models.BackendStatus) {
	s.Dispatch(SetBackendStatus{Status: st})
}

// StopCapture stops local capture on shutdown.
func (s *Studio) StopCapture() {
	if actions := s.stopCapture(); len(actions) > 0 {
		s.Dispatch(actions...)
	}
}

// stopCapture stops the capture and returns the actions describing it.
func (s *Studio) stopCapture() []Action {
	s.lock.Lock()
	active := s.state.Capture != ""
	s.lock.Unlock()

	if err := s.capturer.Stop(); err != nil {
		logger.Warnf("stop capture: %v", err)
	}
	if !active {
		return nil
	}
	return []Action{SetCapture{}, addLog(msgCaptureStopped, models.Info)}
}

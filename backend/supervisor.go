package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/EasyDarwin/StreamStudio/log"
	"github.com/EasyDarwin/StreamStudio/models"
	"github.com/EasyDarwin/StreamStudio/utils"
)

const (
	DefaultReadyTimeout   = 10 * time.Second
	DefaultHealthInterval = 500 * time.Millisecond
	DefaultReadyMarker    = "Uvicorn running on"

	stopWait     = 2 * time.Second
	probeTimeout = 5 * time.Second
)

var logger = log.NewLogger("backend", log.Component)

type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	return [...]string{"stopped", "running"}[s]
}

// Readiness tells which signal ended the wait in Start.
type Readiness int

const (
	ReadyMarker Readiness = iota
	ReadyHealth
	ReadyTimeout
)

func (r Readiness) String() string {
	return [...]string{"marker", "health", "timeout"}[r]
}

// HealthChecker is polled during startup. *api.Client satisfies it.
type HealthChecker interface {
	Health(ctx context.Context) (*models.HealthResponse, error)
}

type Config struct {
	Dir            string
	Dev            bool
	Interpreters   []string
	Module         string
	App            string
	Host           string
	Port           int
	PathEnv        string
	ReadyMarker    string
	ReadyTimeout   time.Duration
	HealthInterval time.Duration
	Health         HealthChecker
	LogFile        log.FileConfig
}

// ConfigFrom maps the [backend] configuration section.
func ConfigFrom(c utils.BackendConf, lf log.FileConfig) Config {
	return Config{
		Dir:            c.Dir,
		Dev:            c.Dev,
		Interpreters:   c.Interpreters,
		Module:         c.Module,
		App:            c.App,
		Host:           c.Host,
		Port:           c.Port,
		PathEnv:        c.PathEnv,
		ReadyMarker:    c.ReadyMarker,
		ReadyTimeout:   c.ReadyTimeout,
		HealthInterval: c.HealthInterval,
		LogFile:        lf,
	}
}

func (c *Config) applyDefaults() {
	if len(c.Interpreters) == 0 {
		c.Interpreters = []string{"python", "python3"}
	}
	if c.Module == "" {
		c.Module = "uvicorn"
	}
	if c.App == "" {
		c.App = "server:app"
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8001
	}
	if c.PathEnv == "" {
		c.PathEnv = "PYTHONPATH"
	}
	if c.ReadyMarker == "" {
		c.ReadyMarker = DefaultReadyMarker
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = DefaultHealthInterval
	}
}

// ExitInfo describes how the child ended. Code is -1 when it was killed by a
// signal. Requested is set when the exit followed a call to Stop.
type ExitInfo struct {
	Code      int
	Err       error
	At        time.Time
	Requested bool
}

type Usage struct {
	PID        int32
	RSS        uint64
	CPUPercent float64
}

// Supervisor owns the backend child process.
type Supervisor struct {
	cfg Config

	lock        sync.Mutex
	state       State
	cmd         *exec.Cmd
	interpreter string
	done        chan struct{}
	exit        *ExitInfo
	stopping    bool
	onExit      []func(ExitInfo)
}

func NewSupervisor(cfg Config) *Supervisor {
	cfg.applyDefaults()
	done := make(chan struct{})
	close(done)
	return &Supervisor{cfg: cfg, done: done}
}

func (s *Supervisor) Config() Config {
	return s.cfg
}

// ResolveBaseDir picks the backend directory: the configured one, then
// ./backend in dev mode, then resources/backend next to the executable.
func ResolveBaseDir(cfg Config) string {
	if cfg.Dir != "" {
		return cfg.Dir
	}
	if cfg.Dev {
		return filepath.Join(utils.CWD(), "backend")
	}
	return filepath.Join(utils.ExeDir(), "resources", "backend")
}

// FindInterpreter returns the first candidate that answers --version.
func FindInterpreter(ctx context.Context, candidates []string) (string, error) {
	for _, name := range candidates {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		out, err := exec.CommandContext(pctx, name, "--version").CombinedOutput()
		cancel()
		if err != nil {
			logger.Debugf("interpreter %s unavailable: %v", name, err)
			continue
		}
		logger.Infof("using %s (%s)", name, strings.TrimSpace(string(out)))
		return name, nil
	}
	return "", ErrInterpreterNotFound
}

// Start spawns the backend and waits until it looks ready. A *FatalError
// means no interpreter exists. A *UnavailableError means this attempt failed.
func (s *Supervisor) Start(ctx context.Context) (Readiness, error) {
	s.lock.Lock()
	if s.state == Running {
		s.lock.Unlock()
		return 0, ErrAlreadyRunning
	}
	s.lock.Unlock()

	base := ResolveBaseDir(s.cfg)
	interpreter, err := FindInterpreter(ctx, s.cfg.Interpreters)
	if err != nil {
		return 0, &FatalError{Err: err}
	}

	if utils.IsPortInUse(s.cfg.Port) {
		logger.Warnf("port %d is already in use, backend may fail to bind", s.cfg.Port)
	}

	args := []string{
		"-m", s.cfg.Module, s.cfg.App,
		"--host", s.cfg.Host,
		"--port", strconv.Itoa(s.cfg.Port),
	}
	cmd := exec.Command(interpreter, args...)
	cmd.Dir = base
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", s.cfg.PathEnv, base),
		fmt.Sprintf("PORT=%d", s.cfg.Port),
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, &UnavailableError{Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, &UnavailableError{Err: err}
	}

	logger.Infof("starting backend: %s %s (dir %s)", interpreter, strings.Join(args, " "), base)
	if err := cmd.Start(); err != nil {
		return 0, &UnavailableError{Err: err}
	}

	done := make(chan struct{})
	s.lock.Lock()
	s.state = Running
	s.cmd = cmd
	s.interpreter = interpreter
	s.done = done
	s.exit = nil
	s.stopping = false
	s.lock.Unlock()

	marker := make(chan struct{})
	var markerOnce sync.Once
	out := log.NewFileWriter(s.cfg.LogFile, "backend.log")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.scan(stdout, out, func(line string) {
			logger.Infof("Backend: %s", line)
			if strings.Contains(line, s.cfg.ReadyMarker) {
				markerOnce.Do(func() { close(marker) })
			}
		})
	}()
	go func() {
		defer wg.Done()
		s.scan(stderr, out, func(line string) {
			logger.Errorf("Backend Error: %s", line)
			// uvicorn prints its startup lines on stderr
			if strings.Contains(line, s.cfg.ReadyMarker) {
				markerOnce.Do(func() { close(marker) })
			}
		})
	}()
	go s.wait(cmd, done, &wg)

	return s.awaitReady(ctx, marker, done)
}

func (s *Supervisor) scan(r io.Reader, raw io.Writer, fn func(string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		fmt.Fprintln(raw, line)
		if line = strings.TrimSpace(line); line != "" {
			fn(line)
		}
	}
}

func (s *Supervisor) wait(cmd *exec.Cmd, done chan struct{}, wg *sync.WaitGroup) {
	wg.Wait()
	err := cmd.Wait()

	info := ExitInfo{Code: 0, At: time.Now()}
	if err != nil {
		info.Err = err
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			info.Code = exitErr.ExitCode()
		} else {
			info.Code = -1
		}
	}

	s.lock.Lock()
	info.Requested = s.stopping
	s.exit = &info
	s.state = Stopped
	s.cmd = nil
	callbacks := append([]func(ExitInfo){}, s.onExit...)
	s.lock.Unlock()

	logger.Infof("backend process exited with code %d", info.Code)
	close(done)
	for _, fn := range callbacks {
		fn(info)
	}
}

func (s *Supervisor) awaitReady(ctx context.Context, marker, done <-chan struct{}) (Readiness, error) {
	timeout := time.NewTimer(s.cfg.ReadyTimeout)
	defer timeout.Stop()

	var poll <-chan time.Time
	if s.cfg.Health != nil {
		ticker := time.NewTicker(s.cfg.HealthInterval)
		defer ticker.Stop()
		poll = ticker.C
	}

	for {
		select {
		case <-marker:
			logger.Info("backend ready")
			return ReadyMarker, nil
		case <-poll:
			hctx, cancel := context.WithTimeout(ctx, s.cfg.HealthInterval)
			h, err := s.cfg.Health.Health(hctx)
			cancel()
			if err == nil && h.Healthy() {
				logger.Info("backend answered health check")
				return ReadyHealth, nil
			}
		case <-timeout.C:
			logger.Warnf("no readiness signal after %s, assuming backend is up", s.cfg.ReadyTimeout)
			return ReadyTimeout, nil
		case <-done:
			info, _ := s.ExitInfo()
			return 0, &UnavailableError{Err: fmt.Errorf("%w (code %d)", ErrExitedEarly, info.Code)}
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Stop kills the backend and waits briefly for the exit to be observed.
// Calling it when nothing runs does nothing.
func (s *Supervisor) Stop() error {
	s.lock.Lock()
	if s.state != Running || s.cmd == nil {
		s.lock.Unlock()
		return nil
	}
	s.stopping = true
	p := s.cmd.Process
	done := s.done
	s.lock.Unlock()

	logger.Info("stopping backend")
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	select {
	case <-done:
	case <-time.After(stopWait):
		logger.Warn("backend did not exit in time")
	}
	return nil
}

func (s *Supervisor) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Done is closed when the current child exits. Before any start it is
// already closed.
func (s *Supervisor) Done() <-chan struct{} {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.done
}

func (s *Supervisor) ExitInfo() (ExitInfo, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.exit == nil {
		return ExitInfo{}, false
	}
	return *s.exit, true
}

// OnExit registers fn to run once for each child exit.
func (s *Supervisor) OnExit(fn func(ExitInfo)) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.onExit = append(s.onExit, fn)
}

func (s *Supervisor) Interpreter() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.interpreter
}

func (s *Supervisor) Usage() (Usage, error) {
	s.lock.Lock()
	cmd := s.cmd
	s.lock.Unlock()
	if cmd == nil || cmd.Process == nil {
		return Usage{}, errors.New("backend not running")
	}

	pid := int32(cmd.Process.Pid)
	p, err := process.NewProcess(pid)
	if err != nil {
		return Usage{}, err
	}
	u := Usage{PID: pid}
	if mem, err := p.MemoryInfo(); err == nil {
		u.RSS = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		u.CPUPercent = cpu
	}
	return u, nil
}

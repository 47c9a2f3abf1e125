package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EasyDarwin/StreamStudio/log"
	"github.com/EasyDarwin/StreamStudio/models"
)

const readyScript = `#!/bin/sh
if [ "$1" = "--version" ]; then echo "Python 3.11.4"; exit 0; fi
echo "INFO:     Started server process"
echo "INFO:     Uvicorn running on http://127.0.0.1:8001 (Press CTRL+C to quit)"
exec sleep 30
`

const silentScript = `#!/bin/sh
if [ "$1" = "--version" ]; then echo "Python 3.11.4"; exit 0; fi
exec sleep 30
`

const crashScript = `#!/bin/sh
if [ "$1" = "--version" ]; then echo "Python 3.11.4"; exit 0; fi
echo "ModuleNotFoundError: No module named 'uvicorn'" >&2
exit 3
`

const invocationScript = `#!/bin/sh
if [ "$1" = "--version" ]; then echo "Python 3.11.4"; exit 0; fi
{
  echo "args=$*"
  echo "pythonpath=$PYTHONPATH"
  echo "port=$PORT"
  echo "pwd=$(pwd)"
} > "$INVOCATION_OUT"
echo "INFO:     Uvicorn running on http://127.0.0.1:8001 (Press CTRL+C to quit)"
exec sleep 30
`

func fakeInterpreter(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script interpreters need a unix shell")
	}
	dir := t.TempDir()
	p := filepath.Join(dir, "fakepython")
	if err := os.WriteFile(p, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

func testConfig(t *testing.T, interpreter string) Config {
	return Config{
		Dir:          t.TempDir(),
		Interpreters: []string{interpreter},
		Port:         18001,
		ReadyTimeout: 3 * time.Second,
		LogFile:      log.FileConfig{Dir: t.TempDir()},
	}
}

func TestDefaultReadyTimeout(t *testing.T) {
	s := NewSupervisor(Config{})
	if got := s.Config().ReadyTimeout; got != 10*time.Second {
		t.Fatalf("ReadyTimeout = %s, want 10s", got)
	}
	if s.State() != Stopped {
		t.Fatalf("initial state = %s", s.State())
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("Done should be closed before any start")
	}
}

func TestStartReadyOnMarker(t *testing.T) {
	s := NewSupervisor(testConfig(t, fakeInterpreter(t, readyScript)))
	defer s.Stop()

	r, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if r != ReadyMarker {
		t.Fatalf("readiness = %s, want marker", r)
	}
	if s.State() != Running {
		t.Fatalf("state = %s, want running", s.State())
	}
	if _, err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}
}

func TestStartReadyOnTimeout(t *testing.T) {
	cfg := testConfig(t, fakeInterpreter(t, silentScript))
	cfg.ReadyTimeout = 300 * time.Millisecond
	s := NewSupervisor(cfg)
	defer s.Stop()

	begin := time.Now()
	r, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if r != ReadyTimeout {
		t.Fatalf("readiness = %s, want timeout", r)
	}
	if time.Since(begin) < 300*time.Millisecond {
		t.Fatal("resolved before the timeout elapsed")
	}
}

type healthyChecker struct{}

func (healthyChecker) Health(context.Context) (*models.HealthResponse, error) {
	return &models.HealthResponse{Status: "healthy"}, nil
}

func TestStartReadyOnHealth(t *testing.T) {
	cfg := testConfig(t, fakeInterpreter(t, silentScript))
	cfg.Health = healthyChecker{}
	cfg.HealthInterval = 50 * time.Millisecond
	s := NewSupervisor(cfg)
	defer s.Stop()

	r, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if r != ReadyHealth {
		t.Fatalf("readiness = %s, want health", r)
	}
}

func TestStartWithoutInterpreterIsFatal(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "no-such-python"))
	s := NewSupervisor(cfg)

	_, err := s.Start(context.Background())
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("err = %v, want *FatalError", err)
	}
	if !errors.Is(err, ErrInterpreterNotFound) {
		t.Fatalf("err = %v, want ErrInterpreterNotFound", err)
	}
	if s.State() != Stopped {
		t.Fatal("nothing should be spawned")
	}
}

func TestEarlyExitIsUnavailable(t *testing.T) {
	s := NewSupervisor(testConfig(t, fakeInterpreter(t, crashScript)))

	_, err := s.Start(context.Background())
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) || !errors.Is(err, ErrExitedEarly) {
		t.Fatalf("err = %v, want UnavailableError(ErrExitedEarly)", err)
	}
	info, ok := s.ExitInfo()
	if !ok || info.Code != 3 || info.Requested {
		t.Fatalf("exit info = %+v", info)
	}
}

func TestStopClosesDoneAndFiresOnExitOnce(t *testing.T) {
	s := NewSupervisor(testConfig(t, fakeInterpreter(t, readyScript)))

	var calls int32
	var last atomic.Value
	s.OnExit(func(info ExitInfo) {
		atomic.AddInt32(&calls, 1)
		last.Store(info)
	})

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := s.Done()

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Done not closed after Stop")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("OnExit called %d times, want 1", n)
	}
	if info := last.Load().(ExitInfo); !info.Requested {
		t.Fatalf("exit info = %+v, want Requested", info)
	}
	if s.State() != Stopped {
		t.Fatalf("state = %s, want stopped", s.State())
	}
}

func TestUsageWhileRunning(t *testing.T) {
	s := NewSupervisor(testConfig(t, fakeInterpreter(t, readyScript)))
	defer s.Stop()

	if _, err := s.Usage(); err == nil {
		t.Fatal("Usage before start should fail")
	}
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	u, err := s.Usage()
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if u.PID <= 0 {
		t.Fatalf("usage = %+v", u)
	}
}

func TestResolveBaseDir(t *testing.T) {
	if got := ResolveBaseDir(Config{Dir: "/opt/backend"}); got != "/opt/backend" {
		t.Fatalf("explicit dir = %s", got)
	}
	dev := ResolveBaseDir(Config{Dev: true})
	if filepath.Base(dev) != "backend" {
		t.Fatalf("dev dir = %s", dev)
	}
	packaged := ResolveBaseDir(Config{})
	if filepath.Base(filepath.Dir(packaged)) != "resources" {
		t.Fatalf("packaged dir = %s", packaged)
	}
}

func TestChildInvocation(t *testing.T) {
	interp := fakeInterpreter(t, invocationScript)
	outFile := filepath.Join(t.TempDir(), "invocation.txt")
	t.Setenv("INVOCATION_OUT", outFile)

	cfg := testConfig(t, interp)
	cfg.Port = 0
	s := NewSupervisor(cfg)
	defer s.Stop()

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	raw, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			got[k] = v
		}
	}

	base, err := filepath.EvalSymlinks(cfg.Dir)
	if err != nil {
		t.Fatal(err)
	}
	pwd, err := filepath.EvalSymlinks(got["pwd"])
	if err != nil {
		t.Fatal(err)
	}
	if want := "-m uvicorn server:app --host 127.0.0.1 --port 8001"; got["args"] != want {
		t.Errorf("args = %q, want %q", got["args"], want)
	}
	if got["pythonpath"] != cfg.Dir {
		t.Errorf("PYTHONPATH = %q, want %q", got["pythonpath"], cfg.Dir)
	}
	if got["port"] != "8001" {
		t.Errorf("PORT = %q, want 8001", got["port"])
	}
	if pwd != base {
		t.Errorf("working dir = %q, want %q", pwd, base)
	}
}

func TestInterpreterFallback(t *testing.T) {
	fake := fakeInterpreter(t, readyScript)
	cfg := testConfig(t, fake)
	cfg.Interpreters = []string{filepath.Join(t.TempDir(), "no-such-python"), fake}
	s := NewSupervisor(cfg)
	defer s.Stop()

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Interpreter() != fake {
		t.Fatalf("interpreter = %q, want %q", s.Interpreter(), fake)
	}
}

func openFDs(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skip("no /proc/self/fd on this platform")
	}
	return len(entries)
}

func TestRestartsReuseLogFile(t *testing.T) {
	s := NewSupervisor(testConfig(t, fakeInterpreter(t, readyScript)))
	defer log.CloseLogWriters()

	cycle := func() {
		if _, err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := s.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
	// the first cycle opens backend.log
	cycle()
	before := openFDs(t)
	for i := 0; i < 10; i++ {
		cycle()
	}
	if after := openFDs(t); after-before > 2 {
		t.Fatalf("open fds grew from %d to %d across restarts", before, after)
	}
}

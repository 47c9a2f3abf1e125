package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/EasyDarwin/StreamStudio/log"
	"github.com/EasyDarwin/StreamStudio/utils"
)

const (
	defaultStartupGrace = 1500 * time.Millisecond
	trackStopWait       = 3 * time.Second
	tailSize            = 4096
)

// FFmpegSource captures the desktop through ffmpeg's platform grab devices
// and writes an HLS preview per track.
type FFmpegSource struct {
	Binary           string
	GlobalArgs       string
	Display          string
	AudioDevice      string
	EchoCancelDevice string
	PreviewDir       string
	LogFile          log.FileConfig
	StartupGrace     time.Duration
	GOOS             string
}

func NewFFmpegSource(encoderBinary string, c utils.CaptureConf, lf log.FileConfig) *FFmpegSource {
	return &FFmpegSource{
		Binary:           encoderBinary,
		GlobalArgs:       c.GlobalArgs,
		Display:          c.Display,
		AudioDevice:      c.AudioDevice,
		EchoCancelDevice: c.EchoCancelDevice,
		PreviewDir:       c.PreviewDir,
		LogFile:          lf,
	}
}

func (f *FFmpegSource) goos() string {
	if f.GOOS != "" {
		return f.GOOS
	}
	return runtime.GOOS
}

// PlaylistPath is where the HLS preview of one track is written.
func (f *FFmpegSource) PlaylistPath(streamID string, kind Kind) string {
	return filepath.Join(f.PreviewDir, streamID, string(kind)+".m3u8")
}

func (f *FFmpegSource) input(kind Kind, s Settings) (string, ffmpeg.KwArgs, error) {
	fps := strconv.Itoa(s.FrameRate)
	size := fmt.Sprintf("%dx%d", s.Width, s.Height)
	cursor := "0"
	if s.Cursor {
		cursor = "1"
	}

	switch f.goos() {
	case "linux":
		if kind == Video {
			display := f.Display
			if display == "" {
				display = os.Getenv("DISPLAY")
			}
			if display == "" {
				display = ":0"
			}
			return display, ffmpeg.KwArgs{"f": "x11grab", "framerate": fps, "video_size": size, "draw_mouse": cursor}, nil
		}
		device := f.AudioDevice
		if s.EchoCancellation && f.EchoCancelDevice != "" {
			device = f.EchoCancelDevice
		}
		if device == "" {
			device = "default"
		}
		return device, ffmpeg.KwArgs{"f": "pulse", "sample_rate": strconv.Itoa(s.SampleRate)}, nil
	case "darwin":
		if kind == Video {
			screen := f.Display
			if screen == "" {
				screen = "1"
			}
			return screen + ":none", ffmpeg.KwArgs{"f": "avfoundation", "framerate": fps, "capture_cursor": cursor}, nil
		}
		device := f.AudioDevice
		if device == "" {
			device = "0"
		}
		return ":" + device, ffmpeg.KwArgs{"f": "avfoundation"}, nil
	case "windows":
		if kind == Video {
			return "desktop", ffmpeg.KwArgs{"f": "gdigrab", "framerate": fps, "draw_mouse": cursor}, nil
		}
		if f.AudioDevice == "" {
			return "", nil, fmt.Errorf("%w: no audio device configured (capture.audio_device)", ErrDeviceUnavailable)
		}
		return "audio=" + f.AudioDevice, ffmpeg.KwArgs{"f": "dshow"}, nil
	}
	return "", nil, fmt.Errorf("%w: screen capture is not supported on %s", ErrDeviceUnavailable, f.goos())
}

// Command builds the ffmpeg invocation for one track.
func (f *FFmpegSource) Command(streamID string, kind Kind, s Settings) (*ffmpeg.Stream, error) {
	filename, inArgs, err := f.input(kind, s)
	if err != nil {
		return nil, err
	}

	outArgs := ffmpeg.KwArgs{
		"f":             "hls",
		"hls_time":      "2",
		"hls_list_size": "6",
		"hls_flags":     "delete_segments",
	}
	if kind == Video {
		outArgs["c:v"] = "libx264"
		outArgs["preset"] = "veryfast"
		outArgs["tune"] = "zerolatency"
		outArgs["pix_fmt"] = "yuv420p"
		outArgs["r"] = strconv.Itoa(s.FrameRate)
		outArgs["vf"] = fmt.Sprintf("scale=%d:%d", s.Width, s.Height)
	} else {
		outArgs["c:a"] = "aac"
		outArgs["ar"] = strconv.Itoa(s.SampleRate)
		if s.NoiseSuppression {
			outArgs["af"] = "afftdn"
		}
		if s.EchoCancellation && f.goos() != "linux" {
			logger.Debugf("echo cancellation has no effect on %s", f.goos())
		}
	}

	stream := ffmpeg.Input(filename, inArgs).Output(f.PlaylistPath(streamID, kind), outArgs)
	if strings.TrimSpace(f.GlobalArgs) != "" {
		stream = stream.GlobalArgs(strings.Fields(f.GlobalArgs)...)
	}
	return stream.OverWriteOutput(), nil
}

func (f *FFmpegSource) OpenTrack(ctx context.Context, streamID string, kind Kind, s Settings) (Track, error) {
	stream, err := f.Command(streamID, kind, s)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(f.PreviewDir, streamID), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	binary := f.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	tail := &tailBuffer{}
	out := io.MultiWriter(log.NewFileWriter(f.LogFile, fmt.Sprintf("capture-%s.log", kind)), tail)
	stream = stream.WithOutput(out).WithErrorOutput(out)

	t := &ffmpegTrack{
		kind:   kind,
		label:  fmt.Sprintf("%s %s", kind, streamID),
		cancel: stream.GetCancelFunc(),
		done:   make(chan struct{}),
	}
	tlog := log.NewLogger(t.label, log.TrackId)

	go func() {
		defer close(t.done)
		tlog.Info("starting...")
		err := stream.RunWith(binary)
		t.lock.Lock()
		t.err = err
		t.lock.Unlock()
		if err != nil && !t.stopRequested() {
			tlog.Errorf("ffmpeg exited: %v", err)
		}
		tlog.Info("finished...")
	}()

	grace := f.StartupGrace
	if grace <= 0 {
		grace = defaultStartupGrace
	}
	select {
	case <-t.done:
		return nil, classify(kind, t.exitErr(), tail.String())
	case <-ctx.Done():
		t.Stop()
		return nil, ctx.Err()
	case <-time.After(grace):
		return t, nil
	}
}

// classify turns an early ffmpeg exit into one of the capture errors.
func classify(kind Kind, err error, output string) error {
	lower := strings.ToLower(output)
	reason := lastLine(output)
	if reason == "" && err != nil {
		reason = err.Error()
	}
	for _, s := range []string{"permission denied", "operation not permitted", "not authorized", "access denied", "cannot open display", "can't open display"} {
		if strings.Contains(lower, s) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, reason)
		}
	}
	return fmt.Errorf("%w: %s capture exited: %s", ErrDeviceUnavailable, kind, reason)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

type ffmpegTrack struct {
	kind   Kind
	label  string
	cancel context.CancelFunc
	done   chan struct{}

	lock     sync.Mutex
	err      error
	stopping bool
}

func (t *ffmpegTrack) Kind() Kind            { return t.kind }
func (t *ffmpegTrack) Label() string         { return t.label }
func (t *ffmpegTrack) Done() <-chan struct{} { return t.done }

func (t *ffmpegTrack) stopRequested() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.stopping
}

func (t *ffmpegTrack) exitErr() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.err
}

func (t *ffmpegTrack) Stop() error {
	t.lock.Lock()
	t.stopping = true
	t.lock.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	select {
	case <-t.done:
	case <-time.After(trackStopWait):
		return fmt.Errorf("%s did not stop in time", t.label)
	}
	return nil
}

// tailBuffer keeps the last few KB written to it.
type tailBuffer struct {
	lock sync.Mutex
	buf  []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > tailSize {
		b.buf = b.buf[len(b.buf)-tailSize:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return string(b.buf)
}

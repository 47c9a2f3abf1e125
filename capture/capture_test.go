package capture

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/EasyDarwin/StreamStudio/log"
)

func TestResolveClampsIntoBounds(t *testing.T) {
	c := DefaultConstraints()
	cases := []struct {
		name string
		req  Settings
		w, h int
		fps  int
	}{
		{"ideal", Settings{}, 1920, 1080, 30},
		{"too large", Settings{Width: 3840, Height: 2160, FrameRate: 120}, 1920, 1080, 60},
		{"too small", Settings{Width: 320, Height: 240, FrameRate: 5}, 640, 480, 15},
		{"inside", Settings{Width: 1280, Height: 720, FrameRate: 24}, 1280, 720, 24},
	}
	for _, tc := range cases {
		got, err := c.Resolve(tc.req)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got.Width != tc.w || got.Height != tc.h || got.FrameRate != tc.fps {
			t.Errorf("%s: got %s", tc.name, got)
		}
		if !got.Cursor || got.SampleRate != 44100 || !got.NoiseSuppression || !got.EchoCancellation {
			t.Errorf("%s: fixed settings lost: %+v", tc.name, got)
		}
	}
}

func TestResolveOverconstrained(t *testing.T) {
	c := DefaultConstraints()
	c.Video.Width = Range{Min: 2000, Max: 1000, Ideal: 1500}
	if _, err := c.Resolve(Settings{}); !errors.Is(err, ErrOverconstrained) {
		t.Fatalf("err = %v, want ErrOverconstrained", err)
	}
}

type fakeTrack struct {
	kind    Kind
	done    chan struct{}
	stopped int
	once    sync.Once
}

func newFakeTrack(kind Kind) *fakeTrack {
	return &fakeTrack{kind: kind, done: make(chan struct{})}
}

func (t *fakeTrack) Kind() Kind            { return t.kind }
func (t *fakeTrack) Label() string         { return string(t.kind) }
func (t *fakeTrack) Done() <-chan struct{} { return t.done }
func (t *fakeTrack) Stop() error {
	t.stopped++
	t.once.Do(func() { close(t.done) })
	return nil
}

type fakeSource struct {
	fail   map[Kind]error
	opened []*fakeTrack
}

func (s *fakeSource) OpenTrack(_ context.Context, _ string, kind Kind, _ Settings) (Track, error) {
	if err := s.fail[kind]; err != nil {
		return nil, err
	}
	t := newFakeTrack(kind)
	s.opened = append(s.opened, t)
	return t, nil
}

func TestStartOpensTracksAndAttachesPreview(t *testing.T) {
	src := &fakeSource{}
	c := NewController(src, DefaultConstraints(), Settings{Audio: true})
	preview := &Preview{}
	c.SetPreview(preview)

	s, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.ID == "" || len(s.Tracks) != 2 || s.Track(Video) == nil || s.Track(Audio) == nil {
		t.Fatalf("stream = %+v", s)
	}
	if preview.Source() != s {
		t.Fatal("preview not attached")
	}
	if got := preview.Playlist("/preview", Video); got != "/preview/"+s.ID+"/video.m3u8" {
		t.Fatalf("playlist = %s", got)
	}
	again, err := c.Start(context.Background())
	if err != nil || again != s {
		t.Fatal("second Start should return the active stream")
	}
	if len(src.opened) != 2 {
		t.Fatalf("opened %d tracks, want 2", len(src.opened))
	}
}

func TestStartRollsBackOnAudioFailure(t *testing.T) {
	src := &fakeSource{fail: map[Kind]error{Audio: ErrPermissionDenied}}
	c := NewController(src, DefaultConstraints(), Settings{Audio: true})

	_, err := c.Start(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if len(src.opened) != 1 || src.opened[0].stopped != 1 {
		t.Fatal("video track should have been stopped")
	}
	if c.Active() != nil {
		t.Fatal("failed start left an active stream")
	}
}

func TestStopIsIdempotentAndClearsPreview(t *testing.T) {
	src := &fakeSource{}
	c := NewController(src, DefaultConstraints(), Settings{})
	preview := &Preview{}
	c.SetPreview(preview)

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop without capture: %v", err)
	}
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if preview.Source() != nil || preview.Summary() != "No screen capture active" {
		t.Fatal("preview still attached")
	}
	if src.opened[0].stopped != 1 {
		t.Fatalf("track stopped %d times, want 1", src.opened[0].stopped)
	}
}

func TestFFmpegCommandLinux(t *testing.T) {
	src := &FFmpegSource{
		GOOS:             "linux",
		Display:          ":1",
		EchoCancelDevice: "echocancel_source",
		PreviewDir:       "/tmp/preview",
		GlobalArgs:       "-hide_banner -nostdin -nostats",
		LogFile:          log.FileConfig{Dir: t.TempDir()},
	}
	settings, _ := DefaultConstraints().Resolve(Settings{Audio: true})

	video, err := src.Command("abc", Video, settings)
	if err != nil {
		t.Fatal(err)
	}
	args := strings.Join(video.Compile().Args, " ")
	for _, want := range []string{"-f x11grab", "-i :1", "-video_size 1920x1080", "-draw_mouse 1", "-f hls", "/tmp/preview/abc/video.m3u8", "-hide_banner"} {
		if !strings.Contains(args, want) {
			t.Errorf("video args %q missing %q", args, want)
		}
	}

	audio, err := src.Command("abc", Audio, settings)
	if err != nil {
		t.Fatal(err)
	}
	args = strings.Join(audio.Compile().Args, " ")
	for _, want := range []string{"-f pulse", "-i echocancel_source", "-af afftdn", "-ar 44100", "/tmp/preview/abc/audio.m3u8"} {
		if !strings.Contains(args, want) {
			t.Errorf("audio args %q missing %q", args, want)
		}
	}
}

func TestFFmpegCommandPlatforms(t *testing.T) {
	settings, _ := DefaultConstraints().Resolve(Settings{})
	cases := map[string]string{
		"darwin":  "-f avfoundation",
		"windows": "-f gdigrab",
	}
	for goos, want := range cases {
		src := &FFmpegSource{GOOS: goos, PreviewDir: "/tmp/preview"}
		cmd, err := src.Command("abc", Video, settings)
		if err != nil {
			t.Fatalf("%s: %v", goos, err)
		}
		if args := strings.Join(cmd.Compile().Args, " "); !strings.Contains(args, want) {
			t.Errorf("%s: args %q missing %q", goos, args, want)
		}
	}

	src := &FFmpegSource{GOOS: "plan9"}
	if _, err := src.Command("abc", Video, settings); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("unsupported platform err = %v", err)
	}
}

func TestClassify(t *testing.T) {
	err := classify(Video, errors.New("exit status 1"), "[x11grab @ 0x1] Cannot open display :0, error 1.\n")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	err = classify(Audio, errors.New("exit status 1"), "default: No such process\n")
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
}

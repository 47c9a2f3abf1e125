package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/teris-io/shortid"

	"github.com/EasyDarwin/StreamStudio/log"
)

var logger = log.NewLogger("capture", log.Component)

type Kind string

const (
	Video Kind = "video"
	Audio Kind = "audio"
)

// Track is one running capture of a single kind.
type Track interface {
	Kind() Kind
	Label() string
	Done() <-chan struct{}
	Stop() error
}

// TrackSource opens tracks. FFmpegSource is the real one.
type TrackSource interface {
	OpenTrack(ctx context.Context, streamID string, kind Kind, settings Settings) (Track, error)
}

// PreviewSink shows the active stream. A nil source clears it.
type PreviewSink interface {
	SetSource(s *Stream)
}

type Stream struct {
	ID        string
	Settings  Settings
	Tracks    []Track
	StartedAt time.Time
}

func (s *Stream) Track(kind Kind) Track {
	if s == nil {
		return nil
	}
	for _, t := range s.Tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

func (s *Stream) String() string {
	if s == nil {
		return "no capture"
	}
	return fmt.Sprintf("capture %s (%s, %d tracks)", s.ID, s.Settings, len(s.Tracks))
}

type Controller struct {
	source      TrackSource
	constraints Constraints
	requested   Settings

	lock    sync.Mutex
	active  *Stream
	preview PreviewSink
}

func NewController(source TrackSource, constraints Constraints, requested Settings) *Controller {
	return &Controller{
		source:      source,
		constraints: constraints,
		requested:   requested,
	}
}

func (c *Controller) SetPreview(p PreviewSink) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.preview = p
}

func (c *Controller) Active() *Stream {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.active
}

// Start opens a video track and, when requested, an audio track. Either all
// tracks start or none stay running. A stream that is already active is
// returned as is.
func (c *Controller) Start(ctx context.Context) (*Stream, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.active != nil {
		return c.active, nil
	}

	settings, err := c.constraints.Resolve(c.requested)
	if err != nil {
		return nil, err
	}

	id, err := shortid.Generate()
	if err != nil {
		return nil, err
	}

	kinds := []Kind{Video}
	if settings.Audio {
		kinds = append(kinds, Audio)
	}

	s := &Stream{ID: id, Settings: settings, StartedAt: time.Now()}
	for _, kind := range kinds {
		t, err := c.source.OpenTrack(ctx, id, kind, settings)
		if err != nil {
			stopTracks(s.Tracks)
			logger.Errorf("%s track failed, capture %s rolled back: %v", kind, id, err)
			return nil, err
		}
		s.Tracks = append(s.Tracks, t)
	}

	c.active = s
	if c.preview != nil {
		c.preview.SetSource(s)
	}
	logger.Infof("capture %s started: %s", id, settings)
	return s, nil
}

// Stop ends every track of the active stream and detaches the preview.
func (c *Controller) Stop() error {
	c.lock.Lock()
	s := c.active
	c.active = nil
	preview := c.preview
	c.lock.Unlock()

	if s == nil {
		return nil
	}
	err := stopTracks(s.Tracks)
	if preview != nil {
		preview.SetSource(nil)
	}
	logger.Infof("capture %s stopped", s.ID)
	return err
}

func stopTracks(tracks []Track) error {
	var first error
	for _, t := range tracks {
		if err := t.Stop(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

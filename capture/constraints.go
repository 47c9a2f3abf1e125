package capture

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied  = errors.New("screen capture permission denied")
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	ErrOverconstrained   = errors.New("capture constraints cannot be satisfied")
)

type Range struct {
	Min   int
	Max   int
	Ideal int
}

// Fit returns v clamped into the range, or Ideal when v is zero.
func (r Range) Fit(v int) (int, error) {
	if r.Min > r.Max {
		return 0, fmt.Errorf("%w: min %d > max %d", ErrOverconstrained, r.Min, r.Max)
	}
	if v == 0 {
		v = r.Ideal
	}
	if v < r.Min {
		v = r.Min
	}
	if v > r.Max {
		v = r.Max
	}
	return v, nil
}

type VideoConstraints struct {
	Width     Range
	Height    Range
	FrameRate Range
	Cursor    bool
}

type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	SampleRate       int
}

type Constraints struct {
	Video VideoConstraints
	Audio AudioConstraints
}

func DefaultConstraints() Constraints {
	return Constraints{
		Video: VideoConstraints{
			Width:     Range{Min: 640, Max: 1920, Ideal: 1920},
			Height:    Range{Min: 480, Max: 1080, Ideal: 1080},
			FrameRate: Range{Min: 15, Max: 60, Ideal: 30},
			Cursor:    true,
		},
		Audio: AudioConstraints{
			EchoCancellation: true,
			NoiseSuppression: true,
			SampleRate:       44100,
		},
	}
}

// Settings are the concrete values a capture runs with.
type Settings struct {
	Width            int
	Height           int
	FrameRate        int
	Cursor           bool
	Audio            bool
	SampleRate       int
	EchoCancellation bool
	NoiseSuppression bool
}

func (s Settings) String() string {
	str := fmt.Sprintf("%dx%d@%dfps", s.Width, s.Height, s.FrameRate)
	if s.Audio {
		str += fmt.Sprintf(" + audio %dHz", s.SampleRate)
	}
	return str
}

// Resolve fits the requested settings into c. Zero fields take the ideal
// value.
func (c Constraints) Resolve(req Settings) (Settings, error) {
	var (
		out Settings
		err error
	)
	if out.Width, err = c.Video.Width.Fit(req.Width); err != nil {
		return Settings{}, fmt.Errorf("width: %w", err)
	}
	if out.Height, err = c.Video.Height.Fit(req.Height); err != nil {
		return Settings{}, fmt.Errorf("height: %w", err)
	}
	if out.FrameRate, err = c.Video.FrameRate.Fit(req.FrameRate); err != nil {
		return Settings{}, fmt.Errorf("frame rate: %w", err)
	}
	out.Cursor = c.Video.Cursor
	out.Audio = req.Audio
	out.SampleRate = c.Audio.SampleRate
	if req.SampleRate > 0 {
		out.SampleRate = req.SampleRate
	}
	out.EchoCancellation = c.Audio.EchoCancellation
	out.NoiseSuppression = c.Audio.NoiseSuppression
	return out, nil
}

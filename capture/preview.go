package capture

import (
	"path"
	"sync"
)

// Preview is the in-app preview element. It remembers which stream it
// shows so the UIs can link to its HLS playlists.
type Preview struct {
	lock   sync.RWMutex
	source *Stream
}

func (p *Preview) SetSource(s *Stream) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.source = s
}

func (p *Preview) Source() *Stream {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.source
}

// Playlist is the URL path of a track's playlist under prefix, or "" when
// nothing is shown.
func (p *Preview) Playlist(prefix string, kind Kind) string {
	s := p.Source()
	if s == nil || s.Track(kind) == nil {
		return ""
	}
	return path.Join(prefix, s.ID, string(kind)+".m3u8")
}

// Summary is the text shown in place of the video.
func (p *Preview) Summary() string {
	s := p.Source()
	if s == nil {
		return "No screen capture active"
	}
	return s.String()
}

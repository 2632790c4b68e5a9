package capture

import (
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/pion/webrtc/v4"
)

// Track is a captured local track. It satisfies port.LocalTrack and can be
// attached to a pion connection through TrackLocal.
type Track struct {
	id    string
	kind  domain.TrackKind
	local webrtc.TrackLocal
	stop  func() error

	once sync.Once
	err  error
}

func newTrack(kind domain.TrackKind, local webrtc.TrackLocal, stop func() error) *Track {
	return &Track{id: local.ID(), kind: kind, local: local, stop: stop}
}

func (t *Track) ID() string                    { return t.id }
func (t *Track) Kind() domain.TrackKind        { return t.kind }
func (t *Track) TrackLocal() webrtc.TrackLocal { return t.local }

// Close releases the device. Later calls return the first result.
func (t *Track) Close() error {
	t.once.Do(func() {
		if t.stop != nil {
			t.err = t.stop()
		}
	})
	return t.err
}

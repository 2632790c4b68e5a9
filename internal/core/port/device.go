package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// LocalTrack is a captured outgoing track.
type LocalTrack interface {
	ID() string
	Kind() domain.TrackKind
	Close() error
}

// CaptureDevices opens local capture. Both calls may block on a permission
// prompt and fail with domain.ErrDeviceUnavailable or
// domain.ErrPermissionDenied.
type CaptureDevices interface {
	OpenMicrophone(ctx context.Context) (LocalTrack, error)
	OpenScreen(ctx context.Context) (LocalTrack, error)
}

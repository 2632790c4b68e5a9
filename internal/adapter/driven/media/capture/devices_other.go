//go:build !linux

package capture

import (
	"context"
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

// Devices has no capture drivers outside linux; use Synthetic instead.
type Devices struct{}

var _ port.CaptureDevices = (*Devices)(nil)

func NewDevices() (*Devices, error) {
	return &Devices{}, nil
}

func (d *Devices) OpenMicrophone(context.Context) (port.LocalTrack, error) {
	return nil, fmt.Errorf("%w: no microphone driver on this platform", domain.ErrDeviceUnavailable)
}

func (d *Devices) OpenScreen(context.Context) (port.LocalTrack, error) {
	return nil, fmt.Errorf("%w: no screen driver on this platform", domain.ErrDeviceUnavailable)
}

package capture

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// captureError classifies a driver failure. Drivers often flatten the
// errno into text, so the message is checked as well.
func captureError(err error) error {
	msg := strings.ToLower(err.Error())
	if errors.Is(err, os.ErrPermission) ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "operation not permitted") ||
		strings.Contains(msg, "not authorized") {
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
}

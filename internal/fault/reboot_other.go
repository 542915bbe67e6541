//go:build !linux

package fault

import "errors"

func reboot() error {
	return errors.New("fault: reboot not supported on this platform (requires Linux)")
}

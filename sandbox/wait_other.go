//go:build !linux

package sandbox

import (
	"errors"
	"os"
)

func waitExited(*os.Process) error {
	return errors.New("waiting without reaping is not supported on this platform")
}

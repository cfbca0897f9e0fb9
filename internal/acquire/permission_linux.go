//go:build linux

package acquire

import (
	"errors"
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/mikeyg42/circlecam/internal/fault"
)

const videoNodes = "/dev/video*"

// checkPermission fails when V4L2 nodes exist but none can be opened for
// reading and writing.
func checkPermission() error {
	paths, err := filepath.Glob(videoNodes)
	if err != nil {
		return nil
	}
	return nodeAccess(paths, unix.Access)
}

// nodeAccess reports ErrPermission when every path is denied. Missing nodes
// are left for the driver to report as no device.
func nodeAccess(paths []string, access func(path string, mode uint32) error) error {
	if len(paths) == 0 {
		return nil
	}
	var deniedPaths []string
	for _, p := range paths {
		err := access(p, unix.R_OK|unix.W_OK)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
			deniedPaths = append(deniedPaths, p)
		default:
			return nil
		}
	}
	return fmt.Errorf("no access to %v, add the user to the video group: %w", deniedPaths, fault.ErrPermission)
}

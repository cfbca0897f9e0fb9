package main

import (
	"slices"

	"github.com/mikeyg42/circlecam/internal/config"
	"github.com/mikeyg42/circlecam/internal/vision"
	"github.com/mikeyg42/circlecam/internal/vision/native"
)

// opencvBackend is registered only when the binary is built with OpenCV.
const opencvBackend = "opencv"

// resolveBackend maps the configured backend name to a registered opener.
// auto prefers OpenCV and falls back to the native backend.
func resolveBackend(name string) (string, vision.Opener, error) {
	if name == "" || name == config.BackendAuto {
		name = native.Name
		if slices.Contains(vision.Backends(), opencvBackend) {
			name = opencvBackend
		}
	}
	open, err := vision.Lookup(name)
	if err != nil {
		return "", nil, err
	}
	return name, open, nil
}

//go:build !nocv

package main

import _ "github.com/mikeyg42/circlecam/internal/vision/cv"

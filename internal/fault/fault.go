// Package fault classifies camera and vision failures into the kinds the UI
// reports to the user.
package fault

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

// Kind identifies a class of failure.
type Kind string

const (
	PermissionDenied   Kind = "permission_denied"
	NoDevice           Kind = "no_device"
	DeviceBusy         Kind = "device_busy"
	UnsupportedContext Kind = "unsupported_context"
	VisionLibraryError Kind = "vision_library_error"
	Unknown            Kind = "unknown"
)

// Error carries a Kind together with the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind carried by err, or Unknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Sentinel causes used by media sources that want exact classification.
var (
	ErrPermission  = errors.New("camera permission denied")
	ErrNoDevice    = errors.New("no camera device found")
	ErrBusy        = errors.New("camera device busy")
	ErrInsecure    = errors.New("camera access requires a secure context")
	ErrUnsupported = errors.New("camera constraints not supported")
)

// Classify maps a raw acquisition error onto a Kind. Errors already carrying
// a Kind keep it; driver errors are matched on errno values and on the
// messages the camera drivers are known to return.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	switch {
	case errors.Is(err, ErrPermission), errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return PermissionDenied
	case errors.Is(err, ErrBusy), errors.Is(err, syscall.EBUSY):
		return DeviceBusy
	case errors.Is(err, ErrNoDevice), errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENOENT):
		return NoDevice
	case errors.Is(err, ErrInsecure):
		return UnsupportedContext
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "not authorized"), strings.Contains(msg, "denied"):
		return PermissionDenied
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return DeviceBusy
	case strings.Contains(msg, "failed to find the best driver"), strings.Contains(msg, "no such device"), strings.Contains(msg, "not found"):
		return NoDevice
	case strings.Contains(msg, "secure"):
		return UnsupportedContext
	}
	return Unknown
}

// Message returns the status text shown for a kind.
func Message(kind Kind) string {
	switch kind {
	case PermissionDenied:
		return "Camera permission denied. Grant access and press \"Enable camera\"."
	case NoDevice:
		return "No camera found. Connect a camera and try again."
	case DeviceBusy:
		return "Camera is in use by another application."
	case UnsupportedContext:
		return "Camera access requires a secure connection (TLS or localhost)."
	case VisionLibraryError:
		return "Circle detection failed on this frame."
	case "":
		return ""
	default:
		return "Could not access the camera."
	}
}

//go:build darwin

package acquire

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework AVFoundation -framework Foundation
#import <AVFoundation/AVFoundation.h>

static int cameraAuthorizationStatus(void) {
	return (int)[AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeVideo];
}

// requestCameraAccess blocks until the user answers the prompt.
// Returns 1 granted, 0 denied, -1 timed out.
static int requestCameraAccess(void) {
	__block int granted = 0;
	dispatch_semaphore_t sem = dispatch_semaphore_create(0);
	[AVCaptureDevice requestAccessForMediaType:AVMediaTypeVideo completionHandler:^(BOOL ok) {
		granted = ok ? 1 : 0;
		dispatch_semaphore_signal(sem);
	}];
	if (dispatch_semaphore_wait(sem, dispatch_time(DISPATCH_TIME_NOW, 60LL * NSEC_PER_SEC)) != 0) {
		return -1;
	}
	return granted;
}
*/
import "C"

import (
	"fmt"

	"github.com/mikeyg42/circlecam/internal/fault"
)

// authorizationStatus mirrors AVAuthorizationStatus.
type authorizationStatus int

const (
	notDetermined authorizationStatus = 0
	restricted    authorizationStatus = 1
	denied        authorizationStatus = 2
	authorized    authorizationStatus = 3
)

func (s authorizationStatus) String() string {
	switch s {
	case notDetermined:
		return "not determined"
	case restricted:
		return "restricted"
	case denied:
		return "denied"
	case authorized:
		return "authorized"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// checkPermission asks AVFoundation for camera access, prompting the user
// the first time.
func checkPermission() error {
	status := authorizationStatus(C.cameraAuthorizationStatus())
	switch status {
	case authorized:
		return nil
	case notDetermined:
		switch C.requestCameraAccess() {
		case 1:
			return nil
		case -1:
			return fmt.Errorf("camera permission request timed out: %w", fault.ErrPermission)
		default:
			return fmt.Errorf("camera permission denied by user: %w", fault.ErrPermission)
		}
	default:
		return fmt.Errorf("camera access %s, grant it in System Settings > Privacy & Security > Camera: %w", status, fault.ErrPermission)
	}
}

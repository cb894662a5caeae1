package capture

import "errors"

var (
	// ErrDeviceUnavailable means no camera is present or the platform has no
	// capture capability at all. Callers should offer the file-picker
	// fallback rather than treating this as a dead end.
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrPermissionDenied means the user refused camera access. Capture is
	// blocked; no fallback is implied.
	ErrPermissionDenied = errors.New("capture permission denied")

	// ErrSessionActive is returned when a second capture is started on a
	// surface whose session is still live. The first session is never
	// implicitly cancelled.
	ErrSessionActive = errors.New("capture session already active")

	// ErrSessionClosed is returned by operations on a finished session.
	ErrSessionClosed = errors.New("capture session closed")
)

package rtc

import (
	"errors"
	"fmt"
)

// MediaErrorKind distinguishes the microphone failures shown to the user.
type MediaErrorKind string

const (
	MediaPermissionDenied MediaErrorKind = "permission_denied"
	MediaNoDevice         MediaErrorKind = "no_device"
	MediaDeviceError      MediaErrorKind = "device_error"
)

// MediaError is a microphone acquisition failure.
type MediaError struct {
	Kind MediaErrorKind
	Err  error
}

func (e *MediaError) Error() string {
	switch e.Kind {
	case MediaPermissionDenied:
		return fmt.Sprintf("microphone permission denied: %v", e.Err)
	case MediaNoDevice:
		return fmt.Sprintf("no microphone found: %v", e.Err)
	default:
		return fmt.Sprintf("microphone error: %v", e.Err)
	}
}

func (e *MediaError) Unwrap() error { return e.Err }

// PeerConnectionError is a failure to create or negotiate the peer connection.
type PeerConnectionError struct {
	Op  string
	Err error
}

func (e *PeerConnectionError) Error() string {
	return fmt.Sprintf("peer connection %s: %v", e.Op, e.Err)
}

func (e *PeerConnectionError) Unwrap() error { return e.Err }

var (
	// ErrNotInitialized is returned when an envelope arrives before Initialize.
	ErrNotInitialized = errors.New("controller not initialized")
	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("controller already initialized")
	// ErrInvalidRole is returned for a role other than initiator or responder.
	ErrInvalidRole = errors.New("invalid role")
)

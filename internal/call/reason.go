package call

import (
	"errors"

	"github.com/peerline/backend/internal/rtc"
	"github.com/peerline/backend/internal/signaling"
)

// FailureReason is the machine-readable cause of a Failed call.
type FailureReason string

const (
	ReasonPermissionDenied     FailureReason = "permission_denied"
	ReasonNoDevice             FailureReason = "no_device"
	ReasonDeviceError          FailureReason = "device_error"
	ReasonConnectionLost       FailureReason = "connection_lost"
	ReasonConnectionFailed     FailureReason = "connection_failed"
	ReasonSetupTimeout         FailureReason = "setup_timeout"
	ReasonSignalingUnavailable FailureReason = "signaling_unavailable"
	ReasonNoProvider           FailureReason = "no_provider"
	ReasonCancelled            FailureReason = "cancelled"
)

var messages = map[FailureReason]string{
	ReasonPermissionDenied:     "Microphone access was denied. Allow microphone access and try again.",
	ReasonNoDevice:             "No microphone was found. Connect a microphone and try again.",
	ReasonDeviceError:          "The microphone could not be started.",
	ReasonConnectionLost:       "Connection lost.",
	ReasonConnectionFailed:     "The call could not be connected.",
	ReasonSetupTimeout:         "The call took too long to connect.",
	ReasonSignalingUnavailable: "The call server could not be reached.",
	ReasonNoProvider:           "No call provider is available right now.",
	ReasonCancelled:            "The call was cancelled.",
}

// Message is the user-facing text for the reason.
func (r FailureReason) Message() string {
	if m, ok := messages[r]; ok {
		return m
	}
	return "The call failed."
}

// reasoned lets errors from other packages carry their own reason.
type reasoned interface {
	Reason() FailureReason
}

// ReasonFor maps an error that ended a call attempt to its reason.
func ReasonFor(err error) FailureReason {
	var r reasoned
	if errors.As(err, &r) {
		return r.Reason()
	}
	var me *rtc.MediaError
	if errors.As(err, &me) {
		switch me.Kind {
		case rtc.MediaPermissionDenied:
			return ReasonPermissionDenied
		case rtc.MediaNoDevice:
			return ReasonNoDevice
		default:
			return ReasonDeviceError
		}
	}
	if signaling.IsTransportError(err) {
		return ReasonSignalingUnavailable
	}
	return ReasonConnectionFailed
}

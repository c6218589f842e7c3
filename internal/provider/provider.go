// Package provider selects the back-end that carries a call: third-party voice
// services in preference order, then the raw peer connection.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/peerline/backend/internal/call"
	"github.com/peerline/backend/internal/models"
	"github.com/peerline/backend/internal/rtc"
)

// Names of the built-in adapters.
const (
	NameZego    = "zego"
	NameLiveKit = "livekit"
	NameWebRTC  = call.ProviderWebRTC
)

// ErrNoProviderAvailable matches every NoProviderError.
var ErrNoProviderAvailable = errors.New("no call provider available")

// ErrNotInitialized is returned by MakeCall before a successful Initialize.
var ErrNotInitialized = errors.New("provider not initialized")

// ErrNoActiveCall is returned by ToggleMute without a live call.
var ErrNoActiveCall = errors.New("no active call")

// Config is what Initialize needs. Credentials are scoped to the session's room.
type Config struct {
	SessionID   string
	UserID      string
	DisplayName string
}

// CallOptions tune one call.
type CallOptions struct {
	Role         models.Role
	PartnerLabel string
	// Attempts lists the providers that failed before this one.
	Attempts []string
}

// Provider is one calling back-end. Initialization failures are returned as
// *InitError so the chain can move on to the next back-end.
type Provider interface {
	Name() string
	Initialize(ctx context.Context, cfg Config) error
	MakeCall(ctx context.Context, sessionID, recipientID string, opts CallOptions) error
	EndCall(ctx context.Context) error
	ToggleMute() (bool, error)
	// Live reports whether the placed call is still Connecting or Connected.
	Live() bool
}

// InitError is a back-end that could not be brought up.
type InitError struct {
	Provider string
	Err      error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

func initError(name string, err error) error {
	var ie *InitError
	if errors.As(err, &ie) {
		return err
	}
	return &InitError{Provider: name, Err: err}
}

// NoProviderError means every back-end, the raw fallback included, failed.
type NoProviderError struct {
	Attempts []*InitError
}

func (e *NoProviderError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrNoProviderAvailable.Error()
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return ErrNoProviderAvailable.Error() + ": " + strings.Join(parts, "; ")
}

func (e *NoProviderError) Is(target error) bool { return target == ErrNoProviderAvailable }

// Reason is the failure reason shown to the user. A raw fallback that failed on
// the microphone keeps its media reason so the user can act on it.
func (e *NoProviderError) Reason() call.FailureReason {
	if n := len(e.Attempts); n > 0 {
		var me *rtc.MediaError
		if errors.As(e.Attempts[n-1].Err, &me) {
			return call.ReasonFor(me)
		}
	}
	return call.ReasonNoProvider
}

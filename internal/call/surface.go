package call

import (
	"context"
	"errors"
	"sync"
)

// ErrCallInProgress is returned when a surface already has a live call.
var ErrCallInProgress = errors.New("a call is already in progress")

// Surface is one place a call is shown. It holds at most one call that is
// Connecting or Connected.
type Surface struct {
	mu     sync.Mutex
	active *Session
}

// Start reserves the surface for s and starts it.
func (u *Surface) Start(ctx context.Context, s *Session) error {
	u.mu.Lock()
	if u.active != nil && !u.active.State().Terminal() {
		u.mu.Unlock()
		return ErrCallInProgress
	}
	u.active = s
	u.mu.Unlock()
	return s.Start(ctx)
}

// Active returns the most recent call, live or finished, or nil.
func (u *Surface) Active() *Session {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.active
}

// Hangup hangs up the current call if any.
func (u *Surface) Hangup() {
	if s := u.Active(); s != nil {
		s.Hangup()
	}
}

package provider

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/peerline/backend/internal/call"
	"github.com/peerline/backend/internal/models"
)

// Chain tries providers in order; the first that initializes and places the
// call is selected.
type Chain struct {
	providers []Provider
	reporter  call.StatusReporter
	logger    *zap.Logger

	mu       sync.Mutex
	active   Provider
	attempts []string
}

// Order builds the provider list from preference names. Unknown names and the
// fallback's own name are skipped; fallback always comes last.
func Order(preferences []string, available map[string]Provider, fallback Provider) []Provider {
	seen := make(map[string]bool)
	var out []Provider
	for _, name := range preferences {
		p, ok := available[name]
		if !ok || seen[name] || (fallback != nil && name == fallback.Name()) {
			continue
		}
		seen[name] = true
		out = append(out, p)
	}
	if fallback != nil {
		out = append(out, fallback)
	}
	return out
}

// NewChain creates a chain. reporter may be nil.
func NewChain(providers []Provider, reporter call.StatusReporter, logger *zap.Logger) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{providers: providers, reporter: reporter, logger: logger}
}

// MakeCall initializes providers in order and places the call with the first
// that succeeds. It returns the selected provider, or *NoProviderError.
func (c *Chain) MakeCall(ctx context.Context, cfg Config, recipientID string, opts CallOptions) (Provider, error) {
	c.mu.Lock()
	if c.active != nil {
		if c.active.Live() {
			c.mu.Unlock()
			return nil, call.ErrCallInProgress
		}
		c.logger.Debug("previous call finished", zap.String("provider", c.active.Name()))
		c.active = nil
	}
	c.attempts = nil
	c.mu.Unlock()

	var failed []*InitError
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.attempts = append(c.attempts, p.Name())
		c.mu.Unlock()

		err := p.Initialize(ctx, cfg)
		if err == nil {
			callOpts := opts
			callOpts.Attempts = names(failed)
			if err = p.MakeCall(ctx, cfg.SessionID, recipientID, callOpts); err != nil {
				_ = p.EndCall(ctx)
			}
		}
		if err != nil {
			var ie *InitError
			if !errors.As(err, &ie) {
				ie = &InitError{Provider: p.Name(), Err: err}
			}
			failed = append(failed, ie)
			c.logger.Warn("provider unavailable, trying next", zap.String("provider", p.Name()), zap.String("session_id", cfg.SessionID), zap.Error(err))
			continue
		}

		c.mu.Lock()
		c.active = p
		c.mu.Unlock()
		c.logger.Info("call placed", zap.String("provider", p.Name()), zap.String("session_id", cfg.SessionID), zap.Strings("skipped", names(failed)))
		return p, nil
	}

	nerr := &NoProviderError{Attempts: failed}
	if c.reporter != nil {
		last := NameWebRTC
		if len(failed) > 0 {
			last = failed[len(failed)-1].Provider
		}
		c.reporter.Report(models.CallStatus{SessionID: cfg.SessionID, Status: models.CallStatusError, Provider: last, Error: string(nerr.Reason())})
	}
	return nil, nerr
}

// Active returns the provider selected by the last successful MakeCall, or nil.
// The call it carries may have finished since; see Provider.Live.
func (c *Chain) Active() Provider {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Attempts returns the provider names tried by the last MakeCall.
func (c *Chain) Attempts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.attempts...)
}

// EndCall ends the active call. It is a no-op without one.
func (c *Chain) EndCall(ctx context.Context) error {
	c.mu.Lock()
	p := c.active
	c.active = nil
	c.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.EndCall(ctx)
}

// ToggleMute toggles the microphone of the active call.
func (c *Chain) ToggleMute() (bool, error) {
	p := c.Active()
	if p == nil {
		return false, ErrNoActiveCall
	}
	return p.ToggleMute()
}

func names(errs []*InitError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Provider)
	}
	return out
}

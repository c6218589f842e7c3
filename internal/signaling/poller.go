package signaling

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/peerline/backend/internal/models"
)

// Fetcher is the read half of Transport.
type Fetcher interface {
	FetchEnvelopesSince(ctx context.Context, sessionID string, lastMessageID int64) ([]models.Envelope, error)
}

// Batch is the outcome of one poll. Either Envelopes (possibly empty) or Err is set.
// Failures counts consecutive failed polls including this one; it resets on success.
type Batch struct {
	Envelopes []models.Envelope
	Err       error
	Failures  int
}

// Poller fetches envelopes on a fixed interval and tracks the lastMessageId cursor.
// A missed poll is caught up by the next one because the cursor only moves forward
// after the batch has been handed over.
type Poller struct {
	fetcher   Fetcher
	sessionID string
	interval  time.Duration
	logger    *zap.Logger

	cursor   atomic.Int64
	failures int
}

// NewPoller creates a poller for one session.
func NewPoller(f Fetcher, sessionID string, interval time.Duration, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{fetcher: f, sessionID: sessionID, interval: interval, logger: logger}
}

// Cursor returns the highest id handed over so far.
func (p *Poller) Cursor() int64 { return p.cursor.Load() }

// Poll performs one fetch since the cursor. It does not advance the cursor.
func (p *Poller) Poll(ctx context.Context) Batch {
	list, err := p.fetcher.FetchEnvelopesSince(ctx, p.sessionID, p.cursor.Load())
	if err != nil {
		p.failures++
		p.logger.Warn("signaling poll failed", zap.String("session_id", p.sessionID), zap.Int("consecutive_failures", p.failures), zap.Error(err))
		return Batch{Err: err, Failures: p.failures}
	}
	p.failures = 0
	return Batch{Envelopes: list}
}

// Advance moves the cursor past the given batch.
func (p *Poller) Advance(b Batch) {
	for _, env := range b.Envelopes {
		if env.ID > p.cursor.Load() {
			p.cursor.Store(env.ID)
		}
	}
}

// Run polls immediately and then every interval until ctx is cancelled, handing each
// non-empty batch, each failure and the first success after failures to out.
func (p *Poller) Run(ctx context.Context, out chan<- Batch) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	failing := false
	for {
		b := p.Poll(ctx)
		if ctx.Err() != nil {
			return
		}
		if b.Err != nil || len(b.Envelopes) > 0 || failing {
			select {
			case out <- b:
				p.Advance(b)
			case <-ctx.Done():
				return
			}
		}
		failing = b.Err != nil

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

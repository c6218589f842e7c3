package rtc

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/peerline/backend/internal/models"
	"github.com/peerline/backend/internal/signaling"
)

type trackMic struct{ stream *fakeStream }

func (m *trackMic) Acquire(_ context.Context, a AudioConstraints) (LocalStream, error) {
	track, err := webrtc.NewTrackLocalStaticSample(OpusCapability(a), "audio", "test")
	if err != nil {
		return nil, err
	}
	m.stream = &fakeStream{enabled: true, track: track}
	return m.stream, nil
}

// deliver hands every envelope after cursor to c and returns the new cursor.
func deliver(t *testing.T, ctx context.Context, tr signaling.Transport, c *Controller, cursor int64) int64 {
	t.Helper()
	list, err := tr.FetchEnvelopesSince(ctx, testSession, cursor)
	require.NoError(t, err)
	for _, env := range list {
		require.NoError(t, c.HandleEnvelope(ctx, env))
		cursor = env.ID
	}
	return cursor
}

func TestPionOfferAnswerOverRelay(t *testing.T) {
	ctx := context.Background()
	tr := &signaling.LocalTransport{Store: signaling.NewMemoryStore()}
	factory := NewPeerConnectionFactory(DefaultAudioConstraints())
	logger := zaptest.NewLogger(t)

	initiator := NewController(Config{}, factory, &trackMic{}, tr, WithLogger(logger.Named("initiator")))
	responder := NewController(Config{}, factory, &trackMic{}, tr, WithLogger(logger.Named("responder")))
	t.Cleanup(initiator.Dispose)
	t.Cleanup(responder.Dispose)

	require.NoError(t, initiator.Initialize(ctx, models.RoleInitiator, testSession))
	require.NoError(t, responder.Initialize(ctx, models.RoleResponder, testSession))

	rc := deliver(t, ctx, tr, responder, 0)
	assert.True(t, responder.RemoteDescriptionSet())

	deliver(t, ctx, tr, initiator, 0)
	assert.True(t, initiator.RemoteDescriptionSet())

	deliver(t, ctx, tr, responder, rc)
	assert.NotNil(t, initiator.Stats())
}

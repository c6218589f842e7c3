package call

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerline/backend/internal/models"
)

func TestSurfaceAllowsOneLiveCall(t *testing.T) {
	var surface Surface
	first := newHarness(t, &fakeController{}, nil)
	second := newHarness(t, &fakeController{}, nil)
	ctx := context.Background()

	require.NoError(t, surface.Start(ctx, first.session))
	first.ctrl.emit(webrtc.PeerConnectionStateConnected)
	first.waitState(t, models.CallStateConnected)

	assert.ErrorIs(t, surface.Start(ctx, second.session), ErrCallInProgress)
	assert.Same(t, first.session, surface.Active())

	surface.Hangup()
	first.waitDone(t)

	require.NoError(t, surface.Start(ctx, second.session))
	assert.Same(t, second.session, surface.Active())
}

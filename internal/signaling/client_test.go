package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerline/backend/internal/models"
)

func TestClientOfferAnswerScenario(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(t, NewMemoryStore(), nil))
	defer srv.Close()
	ctx := context.Background()

	initiator := NewClient(srv.URL, "tok-a", nil)
	responder := NewClient(srv.URL, "tok-b", nil)

	id, err := initiator.PostEnvelope(ctx, "S1", models.RoleInitiator, models.EnvelopeOffer, models.SessionDescription{Type: "offer", SDP: "A"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	got, err := responder.FetchEnvelopesSince(ctx, "S1", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, models.EnvelopeOffer, got[0].Type)

	id, err = responder.PostEnvelope(ctx, "S1", models.RoleResponder, models.EnvelopeAnswer, models.SessionDescription{Type: "answer", SDP: "B"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)

	got, err = initiator.FetchEnvelopesSince(ctx, "S1", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Equal(t, models.EnvelopeAnswer, got[0].Type)
	var sd models.SessionDescription
	require.NoError(t, json.Unmarshal(got[0].Data, &sd))
	assert.Equal(t, "B", sd.SDP)
}

func TestClientSendsBearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"success":true,"data":{"messages":[]}}`))
	}))
	defer srv.Close()

	list, err := NewClient(srv.URL, "secret", nil).FetchEnvelopesSince(context.Background(), "S1", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, "Bearer secret", auth)
}

func TestClientErrorsAreTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"success":false,"error":"down for maintenance"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", nil).FetchEnvelopesSince(context.Background(), "S1", 0)
	require.Error(t, err)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "fetch", te.Op)
	assert.Equal(t, http.StatusServiceUnavailable, te.Status)
	assert.Contains(t, err.Error(), "down for maintenance")

	srv.Close()
	_, err = NewClient(srv.URL, "", nil).PostEnvelope(context.Background(), "S1", "", models.EnvelopeOffer, models.SessionDescription{SDP: "A"})
	assert.True(t, IsTransportError(err))
}

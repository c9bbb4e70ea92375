package verification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPVerifier_EmptyURLIsInactive(t *testing.T) {
	v := NewHTTPVerifier(HTTPVerifierConfig{})
	assert.False(t, v.Active())
	_, err := v.Verify(context.Background(), Request{DisputeID: 1})
	assert.ErrorIs(t, err, ErrVerifierUnavailable)
}

func TestHTTPVerifier_Verify(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/verify", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"winner_id": 102, "confidence": 0.97, "source": "match-history"})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(HTTPVerifierConfig{BaseURL: srv.URL + "/", APIKey: "secret", RPS: 50, Timeout: time.Second})
	require.True(t, v.Active())

	matchID := 9
	verdict, err := v.Verify(context.Background(), Request{DisputeID: 3, MatchID: &matchID})
	require.NoError(t, err)
	require.NotNil(t, verdict.WinnerID)
	assert.Equal(t, 102, *verdict.WinnerID)
	assert.InDelta(t, 0.97, verdict.Confidence, 1e-9)
	assert.Equal(t, 3, got.DisputeID)
	assert.Equal(t, 9, *got.MatchID)
}

func TestHTTPVerifier_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "server error", status: http.StatusBadGateway, body: "upstream down", wantErr: ErrVerifierResponse},
		{name: "bad confidence", status: http.StatusOK, body: `{"winner_id": 1, "confidence": 4}`, wantErr: ErrVerifierResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			v := NewHTTPVerifier(HTTPVerifierConfig{BaseURL: srv.URL, RPS: 50})
			_, err := v.Verify(context.Background(), Request{DisputeID: 1})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHTTPVerifier_RespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"confidence": 0.5}`))
	}))
	defer srv.Close()

	v := NewHTTPVerifier(HTTPVerifierConfig{BaseURL: srv.URL, RPS: 0.001})
	_, err := v.Verify(context.Background(), Request{DisputeID: 1})
	require.NoError(t, err)

	// the single token is spent; the next call cannot wait out the limiter before the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = v.Verify(ctx, Request{DisputeID: 2})
	assert.Error(t, err)
}

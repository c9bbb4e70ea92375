package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrVerifierUnavailable = errors.New("stat verification is not configured")
	ErrVerifierResponse    = errors.New("stat verification service returned an error")
)

// Request describes one disputed result to check against the game's own records.
type Request struct {
	DisputeID     int  `json:"dispute_id"`
	MatchID       *int `json:"match_id,omitempty"`
	TournamentID  *int `json:"tournament_id,omitempty"`
	Player1ID     *int `json:"player1_id,omitempty"`
	Player2ID     *int `json:"player2_id,omitempty"`
	Player1Report *int `json:"player1_report,omitempty"`
	Player2Report *int `json:"player2_report,omitempty"`
}

// Verdict is the verifier's opinion. A nil WinnerID means it could not tell.
type Verdict struct {
	WinnerID   *int    `json:"winner_id"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
}

// StatVerifier is the opaque third-party capability consulted by dispute resolution.
type StatVerifier interface {
	Active() bool
	Verify(ctx context.Context, req Request) (*Verdict, error)
}

type noopVerifier struct{}

// NewNoopVerifier returns a verifier that is never active.
func NewNoopVerifier() StatVerifier { return noopVerifier{} }

func (noopVerifier) Active() bool { return false }

func (noopVerifier) Verify(ctx context.Context, req Request) (*Verdict, error) {
	return nil, ErrVerifierUnavailable
}

type HTTPVerifierConfig struct {
	BaseURL string
	APIKey  string
	// RPS caps outgoing calls; the provider bans clients that burst.
	RPS     float64
	Timeout time.Duration
}

type httpVerifier struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPVerifier builds a client for the stat verification API. An empty BaseURL yields the
// inactive no-op verifier.
func NewHTTPVerifier(cfg HTTPVerifierConfig) StatVerifier {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return NewNoopVerifier()
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &httpVerifier{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (v *httpVerifier) Active() bool { return true }

func (v *httpVerifier) Verify(ctx context.Context, req Request) (*Verdict, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("verification rate limiter: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode verification request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/v1/verify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build verification request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("verification request for dispute %d failed: %w", req.DisputeID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrVerifierResponse, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var verdict Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("failed to decode verification response: %w", err)
	}
	if verdict.Confidence < 0 || verdict.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %.3f out of range", ErrVerifierResponse, verdict.Confidence)
	}
	return &verdict, nil
}

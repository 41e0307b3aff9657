package psicash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/gjson"
)

// ErrInvalidTokens is returned when the server rejects the auth tokens.
var ErrInvalidTokens = errors.New("psicash tokens rejected")

const nanoPsiPerPsi = 1_000_000_000

// Balance is an amount in nano-Psi.
type Balance int64

// String formats the balance in whole Psi with thousands separators.
func (b Balance) String() string {
	return humanize.Comma(int64(b)/nanoPsiPerPsi) + " Psi"
}

// Tokens authenticate the client against the PsiCash server.
type Tokens struct {
	Spender   string `json:"spender"`
	Earner    string `json:"earner"`
	Indicator string `json:"indicator"`
	// Account is true when the tokens belong to a logged-in account
	// rather than a tracker.
	Account bool `json:"account,omitempty"`
}

// Empty reports whether no tokens are held.
func (t Tokens) Empty() bool {
	return t.Spender == "" && t.Earner == "" && t.Indicator == ""
}

func (t Tokens) header() string {
	var parts []string
	for _, v := range []string{t.Spender, t.Earner, t.Indicator} {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ",")
}

// RefreshResult is the server state returned by RefreshState.
type RefreshResult struct {
	Balance     Balance
	TokensValid bool
	IsAccount   bool
}

// Client talks to the PsiCash server.
type Client interface {
	// NewTracker obtains fresh tracker tokens.
	NewTracker(ctx context.Context) (Tokens, error)
	// RefreshState fetches the balance for tokens.
	RefreshState(ctx context.Context, tokens Tokens) (RefreshResult, error)
}

// HTTPClient implements Client over the PsiCash HTTP API.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPClient creates a client for baseURL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// NewTracker implements Client.
func (c *HTTPClient) NewTracker(ctx context.Context) (Tokens, error) {
	body, err := c.do(ctx, http.MethodPost, "/v1/tracker", "")
	if err != nil {
		return Tokens{}, err
	}
	var tokens Tokens
	if err := json.Unmarshal(body, &tokens); err != nil {
		return Tokens{}, fmt.Errorf("failed to decode tracker tokens: %w", err)
	}
	if tokens.Empty() {
		return Tokens{}, errors.New("server returned no tracker tokens")
	}
	return tokens, nil
}

// RefreshState implements Client.
func (c *HTTPClient) RefreshState(ctx context.Context, tokens Tokens) (RefreshResult, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/refresh-state", tokens.header())
	if err != nil {
		return RefreshResult{}, err
	}
	if !gjson.ValidBytes(body) {
		return RefreshResult{}, errors.New("invalid refresh-state response")
	}
	res := gjson.GetManyBytes(body, "balance", "tokens_valid", "is_account")
	return RefreshResult{
		Balance:     Balance(res[0].Int()),
		TokensValid: res[1].Bool(),
		IsAccount:   res[2].Bool(),
	}, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path, auth string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if auth != "" {
		req.Header.Set("X-PsiCash-Auth", auth)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("psicash request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read psicash response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrInvalidTokens
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("psicash %s %s: status %d", method, path, resp.StatusCode)
	}
	return body, nil
}

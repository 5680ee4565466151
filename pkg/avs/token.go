package avs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const tokenEndpoint = "https://api.amazon.com/auth/o2/token"

// tokenSkew is how far ahead of actual expiry a cached token is treated
// as stale, per spec §3: "valid iff now - acquired_at < ttl - skew".
const tokenSkew = 30 * time.Second

// TokenManager acquires and caches the OAuth bearer token used to
// authorize every AVS request. Grounded on
// original_source/alexa_communication.py's get_current_token; HTTP
// style matches the teacher's providers (pkg/providers/llm/openai.go):
// raw net/http, no SDK.
type TokenManager struct {
	clientID     string
	clientSecret string
	refreshToken string
	httpClient   *http.Client
	endpoint     string

	mu         sync.Mutex
	token      string
	acquiredAt time.Time
	ttl        time.Duration
}

// NewTokenManager builds a token manager for the given OAuth2 refresh
// credentials. httpClient may be nil, in which case http.DefaultClient
// is used.
func NewTokenManager(clientID, clientSecret, refreshToken string, httpClient *http.Client) *TokenManager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenManager{
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		httpClient:   httpClient,
		endpoint:     tokenEndpoint,
	}
}

// Current returns a valid bearer token, refreshing it first if the
// cached one is absent or within tokenSkew of expiry. Any non-200 or
// malformed response from the token endpoint is an AuthError; the
// cache is left untouched on failure, and there is no internal retry —
// the caller decides (spec §4.2, §7).
func (m *TokenManager) Current(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.token != "" && time.Since(m.acquiredAt) < m.ttl-tokenSkew {
		token := m.token
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	return m.refresh(ctx)
}

func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	form := url.Values{
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
		"refresh_token": {m.refreshToken},
		"grant_type":    {"refresh_token"},
	}

	requestStart := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", &AuthError{Status: resp.StatusCode, Body: string(body)}
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &AuthError{Status: resp.StatusCode, Err: fmt.Errorf("malformed token response: %w", err)}
	}
	if result.AccessToken == "" {
		return "", &AuthError{Status: resp.StatusCode, Body: string(body), Err: fmt.Errorf("empty access_token")}
	}

	m.mu.Lock()
	m.token = result.AccessToken
	m.acquiredAt = requestStart
	m.ttl = time.Duration(result.ExpiresIn) * time.Second
	m.mu.Unlock()

	return result.AccessToken, nil
}

package avs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

const (
	avsHost        = "avs-alexa-na.amazon.com:443"
	apiVersionPath = "/v20160207"
)

// Connection owns the persistent HTTP/2 session to AVS and the
// counters/clock that every outbound message id is derived from (spec
// §3 "Connection state"). Grounded on
// original_source/alexa_communication.py's AlexaConnection.
//
// Unlike the Python original's hyper-based HTTP20Connection, Go's
// golang.org/x/net/http2 transport is safe for concurrent request
// issuance and concurrent body reads on its own. The mutex below is
// kept anyway, scoped to request issuance and close, to preserve the
// spec's explicit "one lock serializes all session interactions"
// invariant (§5). The messageId/dialogId counters are guarded by their
// own counterMu instead. The mutex is never held across a long-lived
// response body read, so the
// downchannel's open stream cannot starve event sends.
type Connection struct {
	tokens   *TokenManager
	boundary string
	baseURL  string

	client *http.Client

	mu         sync.Mutex
	closed     bool
	startEpoch int64

	counterMu      sync.Mutex
	messageCounter uint64
	dialogCounter  uint64
}

// NewConnection dials nothing yet; the underlying *http.Client is built
// here, but it opens its HTTP/2 session only on the first request. now is the connection's
// start epoch (seconds since Unix epoch), used for the message/dialog id
// prefix (spec §3, §4.6).
func NewConnection(tokens *TokenManager, boundary string, now time.Time) *Connection {
	return &Connection{
		tokens:     tokens,
		boundary:   boundary,
		baseURL:    "https://" + avsHost,
		startEpoch: now.Unix(),
		client: &http.Client{
			Transport: &http2.Transport{
				AllowHTTP: false,
			},
		},
	}
}

// NextMessageID returns the next "njc_message_id-<start_epoch>-<n>" id,
// monotonic and unique within this connection's lifetime (spec §4.6,
// invariant 3 in §8).
func (c *Connection) NextMessageID() string {
	c.counterMu.Lock()
	defer c.counterMu.Unlock()
	id := fmt.Sprintf("njc_message_id-%d-%d", c.startEpoch, c.messageCounter)
	c.messageCounter++
	return id
}

// NextDialogID returns the next "njc_dialog_id-<start_epoch>-<n>" id.
func (c *Connection) NextDialogID() string {
	c.counterMu.Lock()
	defer c.counterMu.Unlock()
	id := fmt.Sprintf("njc_dialog_id-%d-%d", c.startEpoch, c.dialogCounter)
	c.dialogCounter++
	return id
}

// SendRequest issues an HTTP request against the AVS host and returns
// once response headers have arrived (the http.Response's Body may
// still be streaming, as is the case for the downchannel). If
// includeVersion, path is prefixed with /v20160207; only /ping uses the
// raw path (spec §4.3). Headers always carry the bearer token and the
// multipart content-type with this connection's boundary.
func (c *Connection) SendRequest(ctx context.Context, method, path string, body []byte, includeVersion bool) (*http.Response, error) {
	token, err := c.tokens.Current(ctx)
	if err != nil {
		return nil, err
	}

	fullPath := path
	if includeVersion {
		fullPath = apiVersionPath + path
	}
	url := c.baseURL + fullPath

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, &NetworkError{Op: "build request", Err: err}
	}
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("content-type", "multipart/form-data; boundary="+c.boundary)

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, &NetworkError{Op: method + " " + path, Err: fmt.Errorf("connection closed")}
	}

	c.mu.Lock()
	resp, err := c.client.Do(req)
	c.mu.Unlock()
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	return resp, nil
}

// Close tears down the underlying HTTP/2 transport. Safe to call once;
// subsequent SendRequest calls fail with a NetworkError.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if t, ok := c.client.Transport.(*http2.Transport); ok {
		t.CloseIdleConnections()
	}
}

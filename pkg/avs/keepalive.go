package avs

import (
	"context"
	"net/http"
	"time"
)

// keepaliveInterval is how often a ping is sent to keep the HTTP/2
// session from being reclaimed by an intermediary (spec §4.5).
const keepaliveInterval = 240 * time.Second

// Keepalive pings AVS on a fixed interval and reports any failure (a
// transport error or a non-204 response) so the owning client can tear
// down and rebuild the connection. Grounded on
// original_source/alexa_communication.py's ping_thread.
type Keepalive struct {
	conn      *Connection
	onFailure func(error)
	logger    Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewKeepalive builds a keepalive pinger. onFailure is invoked at most
// once, from the pinger's own goroutine, the first time a ping fails;
// the pinger then stops on its own. logger may be nil.
func NewKeepalive(conn *Connection, onFailure func(error), logger Logger) *Keepalive {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &Keepalive{conn: conn, onFailure: onFailure, logger: logger}
}

// Start begins pinging in the background every keepaliveInterval.
func (k *Keepalive) Start(ctx context.Context) {
	k.stopCh = make(chan struct{})
	k.doneCh = make(chan struct{})
	go k.run(ctx)
}

// Stop halts the pinger and waits for its goroutine to exit.
func (k *Keepalive) Stop() {
	if k.stopCh == nil {
		return
	}
	close(k.stopCh)
	<-k.doneCh
}

func (k *Keepalive) run(ctx context.Context) {
	defer close(k.doneCh)

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-k.stopCh:
			return
		case <-ticker.C:
			if err := k.ping(ctx); err != nil {
				k.logger.Warn("keepalive ping failed", "error", err)
				if k.onFailure != nil {
					k.onFailure(err)
				}
				return
			}
		}
	}
}

func (k *Keepalive) ping(ctx context.Context) error {
	resp, err := k.conn.SendRequest(ctx, http.MethodGet, "/ping", nil, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return &NetworkError{Op: "ping", Err: &ProtocolError{Reason: "expected 204 from /ping"}}
	}
	return nil
}

package avs

import (
	"context"
	"io"
	"net/http"
	"sync"
)

// DirectiveHandler receives one decoded downchannel message (almost
// always exactly one JSON content part, the directive envelope).
type DirectiveHandler func(Message)

// downchannelReadSize is the chunk size used to drain the open
// directives stream. Small enough that a directive is demuxed and
// dispatched promptly after it arrives.
const downchannelReadSize = 4096

// Downchannel holds open the server-push GET /v20160207/directives
// stream and feeds whatever arrives through a FrameDecoder, handing
// each resulting Message to handler. Grounded on
// original_source/alexa_communication.py's downstream_thread.
type Downchannel struct {
	conn    *Connection
	handler DirectiveHandler
	logger  Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDownchannel builds a downchannel reader. logger may be nil, in
// which case a NoOpLogger is used.
func NewDownchannel(conn *Connection, handler DirectiveHandler, logger Logger) *Downchannel {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &Downchannel{conn: conn, handler: handler, logger: logger}
}

// Start opens the directives stream and begins demuxing it in the
// background. It returns once the stream is open (response headers
// received) or with an error if opening it failed.
func (d *Downchannel) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	resp, err := d.conn.SendRequest(runCtx, http.MethodGet, "/directives", nil, true)
	if err != nil {
		cancel()
		return err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return &ProtocolError{Reason: "downchannel open returned unexpected status"}
	}

	boundary, err := boundaryFromContentType(resp.Header.Get("Content-Type"))
	if err != nil {
		resp.Body.Close()
		cancel()
		return err
	}

	d.mu.Lock()
	d.cancel = cancel
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.watchCancel(runCtx, resp)
	go d.pump(resp, boundary)

	return nil
}

// Stop closes the downchannel stream and waits for the pump goroutine
// to exit.
func (d *Downchannel) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	done := d.done
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (d *Downchannel) watchCancel(ctx context.Context, resp *http.Response) {
	<-ctx.Done()
	resp.Body.Close()
}

func (d *Downchannel) pump(resp *http.Response, boundary string) {
	defer close(d.done)
	defer resp.Body.Close()

	decoder := NewFrameDecoder(boundary)
	buf := make([]byte, downchannelReadSize)

	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, frame := range decoder.Feed(buf[:n]) {
				msg, decodeErr := DecodeMessage(frame, boundary)
				if decodeErr != nil {
					d.logger.Warn("downchannel: dropping malformed frame", "error", decodeErr)
					continue
				}
				d.dispatch(msg)
			}
		}
		if err != nil {
			if err != io.EOF {
				d.logger.Warn("downchannel closed", "error", err)
			}
			return
		}
	}
}

func (d *Downchannel) dispatch(msg Message) {
	if d.handler == nil {
		return
	}
	d.handler(msg)
}

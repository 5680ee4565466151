package avs

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// EventBuilder assembles and sends outbound events: it stamps the
// header (namespace, name, a fresh messageId, and an optional
// dialogRequestId), attaches the live context array, and hands the
// encoded multipart body to the Connection. Grounded on
// original_source/alexa_communication.py's send_event /
// send_audio_request.
type EventBuilder struct {
	conn    *Connection
	context ContextProvider
}

// NewEventBuilder builds an EventBuilder over conn, attaching ctx's
// context array to every event.
func NewEventBuilder(conn *Connection, ctx ContextProvider) *EventBuilder {
	return &EventBuilder{conn: conn, context: ctx}
}

// eventMethod and eventPath match the original client's behavior:
// events are submitted as a GET carrying a multipart body rather than a
// POST (spec §9, "GET with a body" design decision — kept for fidelity
// rather than reworked to a more conventional POST).
const (
	eventMethod = http.MethodGet
	eventPath   = "/events"
)

// Send posts namespace/name with the given payload and no audio
// attachment. dialogRequestID may be empty. Returns the raw HTTP
// response so callers (notably the bootstrap handshake) can inspect the
// status code themselves.
func (b *EventBuilder) Send(ctx context.Context, namespace, name string, payload interface{}, dialogRequestID string) (*http.Response, error) {
	metadata, err := b.buildMetadata(namespace, name, payload, dialogRequestID)
	if err != nil {
		return nil, err
	}
	body := EncodeEvent(b.conn.boundary, metadata, nil, false)
	return b.conn.SendRequest(ctx, eventMethod, eventPath, body, true)
}

// SendRecognize submits a SpeechRecognizer.Recognize event with a
// streamed audio attachment, draining src as the multipart body is
// written (spec §4.6's audio-attached case).
func (b *EventBuilder) SendRecognize(ctx context.Context, dialogRequestID string, src AudioChunkSource) (*http.Response, error) {
	payload := struct {
		Profile string `json:"profile"`
		Format  string `json:"format"`
	}{
		Profile: "CLOSE_TALK",
		Format:  "AUDIO_L16_RATE_16000_CHANNELS_1",
	}
	metadata, err := b.buildMetadata(NamespaceSpeechRecognizer, NameRecognize, payload, dialogRequestID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	EncodeEventStreaming(&buf, b.conn.boundary, metadata, src)
	return b.conn.SendRequest(ctx, eventMethod, eventPath, buf.Bytes(), true)
}

func (b *EventBuilder) buildMetadata(namespace, name string, payload interface{}, dialogRequestID string) ([]byte, error) {
	var envelope eventEnvelope
	envelope.Context = b.context.Context()
	envelope.Event.Header = Header{
		Namespace:       namespace,
		Name:            name,
		MessageID:       b.conn.NextMessageID(),
		DialogRequestID: dialogRequestID,
	}
	envelope.Event.Payload = payload

	metadata, err := json.Marshal(envelope)
	if err != nil {
		return nil, &ProtocolError{Reason: "failed to marshal event: " + err.Error()}
	}
	return metadata, nil
}

// NewDialogRequestID mints a fresh dialogRequestId (spec §3, §4.6). The
// teacher's conversation code used google/uuid for session/request ids;
// this follows the same convention.
func NewDialogRequestID() string {
	return uuid.NewString()
}

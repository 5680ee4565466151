package avs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"
)

// Player renders audio back to the user. PlaySpeech blocks until the
// given MP3 bytes have finished playing (or ctx is canceled); PlayTone
// is handed directly to the alert scheduler as a ToneFunc.
type Player interface {
	PlaySpeech(ctx context.Context, mp3 []byte) error
	PlayTone(stop <-chan struct{})
}

// Microphone captures one user utterance. Listen blocks until speech
// has been captured, the timeout elapses, or ctx is canceled; it
// returns raw PCM16 audio (possibly empty) and whether speech was
// actually captured.
type Microphone interface {
	Listen(ctx context.Context, timeout time.Duration) (audio []byte, captured bool, err error)
}

type speakPayload struct {
	Token string `json:"token"`
}

type expectSpeechPayload struct {
	TimeoutInMilliseconds int `json:"timeoutInMilliseconds"`
}

type setAlertPayload struct {
	Token         string `json:"token"`
	Type          string `json:"type"`
	ScheduledTime string `json:"scheduledTime"`
}

type deleteAlertPayload struct {
	Token string `json:"token"`
}

type tokenPayload struct {
	Token string `json:"token"`
}

// Dispatcher routes decoded directives to their handlers and drives the
// recursive "a reply can itself carry directives" chain described in
// spec §4.9. Grounded on original_source/alexa_device.py's process_directive
// and the namespace dispatch table in alexa.py.
type Dispatcher struct {
	events *EventBuilder
	alerts *AlertScheduler
	player Player
	mic    Microphone
	logger Logger

	captureMu     sync.Mutex
	captureCancel context.CancelFunc
}

// NewDispatcher builds a Dispatcher. player and mic may be nil if the
// corresponding directives are never expected to arrive (tests commonly
// leave mic nil when only testing Speak/Alerts routing).
func NewDispatcher(events *EventBuilder, alerts *AlertScheduler, player Player, mic Microphone, logger Logger) *Dispatcher {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &Dispatcher{events: events, alerts: alerts, player: player, mic: mic, logger: logger}
}

// AlertEvent satisfies AlertEventFunc: the scheduler calls this to
// report AlertStarted/AlertStopped/AlertEnteredForeground, which the
// dispatcher forwards as ordinary events with no reply expected.
func (d *Dispatcher) AlertEvent(eventName, token string) {
	ctx := context.Background()
	resp, err := d.events.Send(ctx, NamespaceAlerts, eventName, tokenPayload{Token: token}, "")
	if err != nil {
		d.logger.Warn("failed to send alert event", "event", eventName, "error", err)
		return
	}
	d.consumeReply(ctx, resp)
}

// HandleResponse inspects an HTTP response returned by an event send: a
// 204 carries nothing further, a 200 may itself carry directives that
// must be decoded and dispatched exactly like a downchannel push (spec
// §4.9's fetch-and-recurse chain).
func (d *Dispatcher) HandleResponse(ctx context.Context, resp *http.Response) error {
	return d.consumeReply(ctx, resp)
}

func (d *Dispatcher) consumeReply(ctx context.Context, resp *http.Response) error {
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &ProtocolError{Reason: "unexpected event response status: " + resp.Status + ": " + string(body)}
	}

	boundary, err := boundaryFromContentType(resp.Header.Get("Content-Type"))
	if err != nil {
		return err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: "read event response", Err: err}
	}
	msg, err := DecodeMessage(body, boundary)
	if err != nil {
		return err
	}
	return d.Handle(ctx, msg)
}

// Handle routes every directive content part in msg. More than one
// binary attachment alongside them is a protocol error (spec §4.9); a
// single attachment is handed to every directive in the message, and
// only SpeechSynthesizer.Speak uses it.
func (d *Dispatcher) Handle(ctx context.Context, msg Message) error {
	if len(msg.Attachment) > 1 {
		return &ProtocolError{Reason: "message carries more than one attachment"}
	}

	var firstErr error
	for _, raw := range msg.Content {
		var env directiveEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			d.logger.Warn("dropping unparseable directive", "error", err)
			continue
		}
		var attachment []byte
		if len(msg.Attachment) == 1 {
			attachment = msg.Attachment[0]
		}
		if err := d.dispatchOne(ctx, env, attachment); err != nil {
			d.logger.Warn("directive handler failed", "namespace", env.Directive.Header.Namespace, "name", env.Directive.Header.Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (d *Dispatcher) dispatchOne(ctx context.Context, env directiveEnvelope, attachment []byte) error {
	h := env.Directive.Header
	switch {
	case h.Namespace == NamespaceSpeechSynthesizer && h.Name == NameSpeak:
		return d.handleSpeak(ctx, h, env.Directive.Payload, attachment)
	case h.Namespace == NamespaceSpeechRecognizer && h.Name == NameExpectSpeech:
		return d.handleExpectSpeech(ctx, h, env.Directive.Payload)
	case h.Namespace == NamespaceSpeechRecognizer && h.Name == NameStopCapture:
		return d.handleStopCapture()
	case h.Namespace == NamespaceAlerts && h.Name == NameSetAlert:
		return d.handleSetAlert(ctx, env.Directive.Payload)
	case h.Namespace == NamespaceAlerts && h.Name == NameDeleteAlert:
		return d.handleDeleteAlert(ctx, env.Directive.Payload)
	default:
		return &ProtocolError{Reason: "unknown directive " + h.Namespace + "." + h.Name}
	}
}

func (d *Dispatcher) handleSpeak(ctx context.Context, h Header, payload json.RawMessage, attachment []byte) error {
	var p speakPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return &DirectiveError{Namespace: h.Namespace, Name: h.Name, Reason: "malformed payload"}
	}
	if attachment == nil {
		return &DirectiveError{Namespace: h.Namespace, Name: h.Name, Reason: "missing audio attachment"}
	}

	if _, err := d.events.Send(ctx, NamespaceSpeechSynthesizer, NameSpeechStarted, tokenPayload{Token: p.Token}, h.DialogRequestID); err != nil {
		d.logger.Warn("failed to send SpeechStarted", "error", err)
	}

	var playErr error
	if d.player != nil {
		playErr = d.player.PlaySpeech(ctx, attachment)
	}

	resp, err := d.events.Send(ctx, NamespaceSpeechSynthesizer, NameSpeechFinished, tokenPayload{Token: p.Token}, h.DialogRequestID)
	if err != nil {
		return err
	}
	if err := d.consumeReply(ctx, resp); err != nil {
		return err
	}
	return playErr
}

func (d *Dispatcher) handleExpectSpeech(ctx context.Context, h Header, payload json.RawMessage) error {
	var p expectSpeechPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return &DirectiveError{Namespace: h.Namespace, Name: h.Name, Reason: "malformed payload"}
	}
	if d.mic == nil {
		return &DirectiveError{Namespace: h.Namespace, Name: h.Name, Reason: "no microphone configured"}
	}

	captureCtx, cancel := context.WithCancel(ctx)
	d.captureMu.Lock()
	d.captureCancel = cancel
	d.captureMu.Unlock()
	defer func() {
		d.captureMu.Lock()
		d.captureCancel = nil
		d.captureMu.Unlock()
	}()

	timeout := time.Duration(p.TimeoutInMilliseconds) * time.Millisecond
	audio, captured, err := d.mic.Listen(captureCtx, timeout)
	if err != nil {
		return err
	}

	// Inherit this directive's dialogRequestId rather than minting a new
	// one (spec §4.9: "inheriting this directive's dialogRequestId").
	dialogRequestID := h.DialogRequestID
	var resp *http.Response
	if captured {
		resp, err = d.events.SendRecognize(ctx, dialogRequestID, newFixedAudioSource(audio))
	} else {
		resp, err = d.events.Send(ctx, NamespaceSpeechRecognizer, NameExpectSpeechTimedOut, struct{}{}, dialogRequestID)
	}
	if err != nil {
		return err
	}
	return d.consumeReply(ctx, resp)
}

func (d *Dispatcher) handleStopCapture() error {
	d.captureMu.Lock()
	cancel := d.captureCancel
	d.captureMu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (d *Dispatcher) handleSetAlert(ctx context.Context, payload json.RawMessage) error {
	var p setAlertPayload
	name := NameSetAlertFailed
	if err := json.Unmarshal(payload, &p); err != nil {
		d.logger.Warn("SetAlert failed", "error", &AlertError{Token: p.Token, Reason: "malformed payload"})
	} else if d.alerts.SetAlert(p.Token, p.Type, p.ScheduledTime) {
		name = NameSetAlertSucceeded
	}
	resp, err := d.events.Send(ctx, NamespaceAlerts, name, tokenPayload{Token: p.Token}, "")
	if err != nil {
		return err
	}
	return d.consumeReply(ctx, resp)
}

func (d *Dispatcher) handleDeleteAlert(ctx context.Context, payload json.RawMessage) error {
	var p deleteAlertPayload
	name := NameDeleteAlertFailed
	if err := json.Unmarshal(payload, &p); err != nil {
		d.logger.Warn("DeleteAlert failed", "error", &AlertError{Token: p.Token, Reason: "malformed payload"})
	} else if d.alerts.DeleteAlert(p.Token) {
		name = NameDeleteAlertSucceeded
	}
	resp, err := d.events.Send(ctx, NamespaceAlerts, name, tokenPayload{Token: p.Token}, "")
	if err != nil {
		return err
	}
	return d.consumeReply(ctx, resp)
}

// fixedAudioSource adapts a single in-memory buffer to AudioChunkSource.
type fixedAudioSource struct {
	data []byte
	sent bool
}

func newFixedAudioSource(data []byte) *fixedAudioSource {
	return &fixedAudioSource{data: data}
}

func (s *fixedAudioSource) Next() ([]byte, bool) {
	if s.sent {
		return nil, false
	}
	s.sent = true
	return s.data, true
}

package avs

import (
	"context"
	"time"
)

// defaultListenTimeout bounds how long a user-initiated capture waits
// for speech after a wake word before it's treated as a timeout,
// mirroring the timeout ExpectSpeech directives typically carry.
const defaultListenTimeout = 8 * time.Second

// WakeMicrophone adds wake-word detection on top of Microphone, for the
// locally-initiated half of a dialog turn (as opposed to a
// directive-driven ExpectSpeech capture, which only needs Microphone).
type WakeMicrophone interface {
	Microphone
	WaitForWake(ctx context.Context) error
}

// Dialog drives the user-initiated wake -> listen -> Recognize -> dispatch
// loop (spec §4.10). Directive-initiated turns (ExpectSpeech, Speak,
// alerts) are handled entirely inside Dispatcher; Dialog only owns the
// half that starts from a local wake word.
type Dialog struct {
	mic        WakeMicrophone
	events     *EventBuilder
	dispatcher *Dispatcher
	logger     Logger
}

// NewDialog builds a dialog driver.
func NewDialog(mic WakeMicrophone, events *EventBuilder, dispatcher *Dispatcher, logger Logger) *Dialog {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &Dialog{mic: mic, events: events, dispatcher: dispatcher, logger: logger}
}

// Run blocks, driving dialog turns until ctx is canceled.
func (d *Dialog) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := d.mic.WaitForWake(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Warn("wake detection failed", "error", err)
			continue
		}

		if err := d.turn(ctx); err != nil {
			d.logger.Warn("dialog turn failed", "error", err)
		}
	}
}

func (d *Dialog) turn(ctx context.Context) error {
	audio, captured, err := d.mic.Listen(ctx, defaultListenTimeout)
	if err != nil {
		return err
	}
	if !captured {
		return nil
	}

	dialogRequestID := d.events.conn.NextDialogID()
	resp, err := d.events.SendRecognize(ctx, dialogRequestID, newFixedAudioSource(audio))
	if err != nil {
		return err
	}
	return d.dispatcher.HandleResponse(ctx, resp)
}

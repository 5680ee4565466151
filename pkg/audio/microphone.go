package audio

import (
	"bytes"
	"context"
	"math"
	"time"

	"github.com/gen2brain/malgo"
)

// Microphone captures 16-bit mono PCM from the default input device and
// gates both wake detection and utterance capture behind a simple RMS
// threshold with hysteresis, adapted from the energy-based VAD the
// original orchestrator used for barge-in detection. A dedicated
// wake-word engine is out of scope; this plays the same gating role the
// original respeaker.Microphone.wakeup() did.
type Microphone struct {
	mctx *malgo.AllocatedContext

	sampleRate   uint32
	threshold    float64
	silenceLimit time.Duration
	minConfirmed int
}

// NewMicrophone opens the platform audio context. sampleRate is the
// capture rate (the Recognize audio format is
// AUDIO_L16_RATE_16000_CHANNELS_1, so 16000 is the expected value here).
func NewMicrophone(sampleRate uint32, threshold float64, silenceLimit time.Duration) (*Microphone, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &Microphone{
		mctx:         mctx,
		sampleRate:   sampleRate,
		threshold:    threshold,
		silenceLimit: silenceLimit,
		minConfirmed: 7,
	}, nil
}

// Close releases the underlying audio context.
func (m *Microphone) Close() {
	m.mctx.Uninit()
}

// WaitForWake blocks until minConfirmed consecutive frames exceed
// threshold, or ctx is canceled.
func (m *Microphone) WaitForWake(ctx context.Context) error {
	device, frames, err := m.startCapture()
	if err != nil {
		return err
	}
	defer device.Uninit()

	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk := <-frames:
			if rms(chunk) > m.threshold {
				consecutive++
				if consecutive >= m.minConfirmed {
					return nil
				}
			} else {
				consecutive = 0
			}
		}
	}
}

// Listen captures audio until speech is followed by silenceLimit of
// quiet, or until timeout elapses; a timeout after speech began returns
// what was captured. Returns captured=false with no error on a timeout
// with no speech at all (the caller should send
// SpeechRecognizer.ExpectSpeechTimedOut); ctx cancellation returns
// whatever was captured so far.
func (m *Microphone) Listen(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	device, frames, err := m.startCapture()
	if err != nil {
		return nil, false, err
	}
	defer device.Uninit()

	var buf bytes.Buffer
	var silenceStart time.Time
	speaking := false
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return buf.Bytes(), buf.Len() > 0, nil
		case <-deadline.C:
			if speaking {
				return buf.Bytes(), true, nil
			}
			return nil, false, nil
		case chunk := <-frames:
			buf.Write(chunk)
			if rms(chunk) > m.threshold {
				speaking = true
				silenceStart = time.Time{}
				continue
			}
			if !speaking {
				continue
			}
			if silenceStart.IsZero() {
				silenceStart = time.Now()
			}
			if time.Since(silenceStart) >= m.silenceLimit {
				return buf.Bytes(), true, nil
			}
		}
	}
}

func (m *Microphone) startCapture() (*malgo.Device, <-chan []byte, error) {
	frames := make(chan []byte, 64)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = m.sampleRate

	onSamples := func(_, pInput []byte, _ uint32) {
		if pInput == nil {
			return
		}
		chunk := make([]byte, len(pInput))
		copy(chunk, pInput)
		select {
		case frames <- chunk:
		default:
		}
	}

	device, err := malgo.InitDevice(m.mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		return nil, nil, err
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, nil, err
	}
	return device, frames, nil
}

func rms(chunk []byte) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < len(chunk)-1; i += 2 {
		sample := int16(chunk[i]) | (int16(chunk[i+1]) << 8)
		f := float64(sample) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(chunk)/2))
}

package avs

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeEventRoundTrip(t *testing.T) {
	boundary := "test-boundary-123"
	metadata := []byte(`{"event":{"header":{"namespace":"System","name":"SynchronizeState"}}}`)

	encoded := EncodeEvent(boundary, metadata, nil, false)

	msg, err := DecodeMessage(encoded, boundary)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msg.Content) != 1 {
		t.Fatalf("expected 1 content part, got %d", len(msg.Content))
	}
	if !bytes.Equal(msg.Content[0], metadata) {
		t.Errorf("content mismatch: got %s", msg.Content[0])
	}
	if len(msg.Attachment) != 0 {
		t.Errorf("expected no attachment, got %d", len(msg.Attachment))
	}
}

func TestEncodeDecodeEventWithAudioRoundTrip(t *testing.T) {
	boundary := "test-boundary-456"
	metadata := []byte(`{"event":{"header":{"namespace":"SpeechRecognizer","name":"Recognize"}}}`)
	audio := []byte{0x01, 0x02, 0x03, 0x04, 0x05}

	encoded := EncodeEvent(boundary, metadata, audio, true)

	msg, err := DecodeMessage(encoded, boundary)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msg.Content) != 1 || !bytes.Equal(msg.Content[0], metadata) {
		t.Fatalf("content mismatch: %+v", msg.Content)
	}
	if len(msg.Attachment) != 1 || !bytes.Equal(msg.Attachment[0], audio) {
		t.Fatalf("attachment mismatch: %+v", msg.Attachment)
	}
}

type sliceAudioSource struct {
	chunks [][]byte
	i      int
}

func (s *sliceAudioSource) Next() ([]byte, bool) {
	if s.i >= len(s.chunks) {
		return nil, false
	}
	c := s.chunks[s.i]
	s.i++
	return c, true
}

func TestEncodeEventStreamingMatchesEncodeEvent(t *testing.T) {
	boundary := "stream-boundary"
	metadata := []byte(`{"event":{"header":{"namespace":"SpeechRecognizer","name":"Recognize"}}}`)
	audio := []byte("hello-world-audio-bytes")

	eager := EncodeEvent(boundary, metadata, audio, true)

	var streamed bytes.Buffer
	src := &sliceAudioSource{chunks: [][]byte{audio[:5], audio[5:12], audio[12:]}}
	EncodeEventStreaming(&streamed, boundary, metadata, src)

	if !bytes.Equal(eager, streamed.Bytes()) {
		t.Fatalf("streaming encode diverged from eager encode:\neager:    %q\nstreamed: %q", eager, streamed.Bytes())
	}
}

func TestFrameDecoderAcrossChunkBoundary(t *testing.T) {
	boundary := "downchannel-boundary"
	full := EncodeEvent(boundary, []byte(`{"directive":{"header":{"namespace":"SpeechSynthesizer","name":"Speak"}}}`), nil, false)

	// Split the encoded message at an arbitrary point inside a part, to
	// exercise the decoder's carry-over buffer.
	splitAt := len(full) / 2
	decoder := NewFrameDecoder(boundary)

	var allFrames [][]byte
	allFrames = append(allFrames, decoder.Feed(full[:splitAt])...)
	allFrames = append(allFrames, decoder.Feed(full[splitAt:])...)

	if len(allFrames) != 1 {
		t.Fatalf("expected exactly one frame, got %d: %q", len(allFrames), allFrames)
	}

	msg, err := DecodeMessage(allFrames[0], boundary)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if len(msg.Content) != 1 {
		t.Fatalf("expected 1 content part, got %d", len(msg.Content))
	}
}

func TestFrameDecoderMultipleFramesInOneFeed(t *testing.T) {
	boundary := "multi-boundary"
	first := EncodeEvent(boundary, []byte(`{"a":1}`), nil, false)
	second := EncodeEvent(boundary, []byte(`{"a":2}`), nil, false)

	decoder := NewFrameDecoder(boundary)
	frames := decoder.Feed(append(append([]byte{}, first...), second...))

	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
}

func TestDecodeMessageRejectsUnrecognizedContentType(t *testing.T) {
	boundary := "bad-boundary"
	raw := "--" + boundary + "\n" +
		"Content-Disposition: form-data; name=\"metadata\"\n" +
		"Content-Type: text/plain\n\n" +
		"not json\n" +
		"--" + boundary + "--"

	_, err := DecodeMessage([]byte(raw), boundary)
	if err == nil {
		t.Fatal("expected an error for an unrecognized content type")
	}
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected *ProtocolError, got %T: %v", err, err)
	}
}

func TestBoundaryFromContentType(t *testing.T) {
	boundary, err := boundaryFromContentType(`multipart/form-data; boundary=abc123`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if boundary != "abc123" {
		t.Errorf("expected abc123, got %q", boundary)
	}

	if _, err := boundaryFromContentType("application/json"); err == nil {
		t.Fatal("expected an error when no boundary is present")
	}
}

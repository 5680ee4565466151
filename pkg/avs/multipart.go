package avs

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Message is a parsed multipart response: zero or more JSON content
// objects and at most one binary attachment (more than one is a protocol
// error, enforced by the dispatcher rather than by the decoder).
type Message struct {
	Content    []json.RawMessage
	Attachment [][]byte
}

const (
	contentTypeJSON        = "application/json; charset=UTF-8"
	contentTypeJSONNoCS    = "application/json"
	contentTypeOctetStream = "application/octet-stream"
)

// EncodeEvent serializes an event envelope (already JSON-marshaled by the
// caller) plus an optional audio attachment into a multipart/form-data
// body using boundary. Mirrors the wire shape in spec §4.1 exactly: no
// trailing CRLF before the closing boundary, LF (not CRLF) line endings,
// matching original_source/alexa_communication.py's send_event.
func EncodeEvent(boundary string, metadataJSON []byte, audio []byte, hasAudio bool) []byte {
	var buf bytes.Buffer
	buf.WriteString("--" + boundary + "\n")
	buf.WriteString("Content-Disposition: form-data; name=\"metadata\"\n")
	buf.WriteString("Content-Type: " + contentTypeJSON + "\n\n")
	buf.Write(metadataJSON)
	buf.WriteString("--" + boundary)

	if hasAudio {
		buf.WriteString("\n--" + boundary + "\n")
		buf.WriteString("Content-Disposition: form-data; name=\"audio\"\n")
		buf.WriteString("Content-Type: " + contentTypeOctetStream + "\n\n")
		buf.Write(audio)
	}

	buf.WriteString("--" + boundary + "--")
	return buf.Bytes()
}

// AudioChunkSource yields successive audio byte chunks, for a lazily
// produced (streaming) attachment. A finite sequence: Next returns
// ok=false once exhausted.
type AudioChunkSource interface {
	Next() (chunk []byte, ok bool)
}

// EncodeEventStreaming writes the event prefix, then drains src chunk by
// chunk, then the closing boundary, into w. Behaviorally equivalent to
// EncodeEvent with hasAudio=true and the concatenation of src's chunks,
// per spec §4.1 ("behaviorally equivalent to the server").
func EncodeEventStreaming(w *bytes.Buffer, boundary string, metadataJSON []byte, src AudioChunkSource) {
	w.WriteString("--" + boundary + "\n")
	w.WriteString("Content-Disposition: form-data; name=\"metadata\"\n")
	w.WriteString("Content-Type: " + contentTypeJSON + "\n\n")
	w.Write(metadataJSON)
	w.WriteString("--" + boundary)
	w.WriteString("\n--" + boundary + "\n")
	w.WriteString("Content-Disposition: form-data; name=\"audio\"\n")
	w.WriteString("Content-Type: " + contentTypeOctetStream + "\n\n")

	for {
		chunk, ok := src.Next()
		if !ok {
			break
		}
		w.Write(chunk)
	}

	w.WriteString("--" + boundary + "--")
}

// DecodeMessage splits a complete multipart body on boundary and parses
// every part into Message, per spec §4.1. Grounded on
// original_source/alexa_communication.py's split_message/parse_data.
func DecodeMessage(data []byte, boundary string) (Message, error) {
	sep := []byte("--" + boundary)
	rawParts := bytes.Split(data, sep)

	msg := Message{}
	for _, part := range rawParts {
		if isEmptyPart(part) {
			continue
		}

		if err := decodePart(part, &msg); err != nil {
			return Message{}, err
		}
	}
	return msg, nil
}

func isEmptyPart(part []byte) bool {
	switch {
	case len(part) == 0:
		return true
	case bytes.Equal(part, []byte("--")):
		return true
	case bytes.Equal(part, []byte("\r\n")):
		return true
	case bytes.Equal(part, []byte("\r\n--")):
		return true
	case len(bytes.TrimSpace(part)) == 0:
		return true
	}
	return false
}

func decodePart(part []byte, msg *Message) error {
	// Responses from AVS use CRLF line endings; EncodeEvent uses LF. The
	// first blank line of either kind ends the part's headers.
	splitAt, sepLen := bytes.Index(part, []byte("\r\n\r\n")), 4
	if lf := bytes.Index(part, []byte("\n\n")); lf >= 0 && (splitAt < 0 || lf < splitAt) {
		splitAt, sepLen = lf, 2
	}
	if splitAt < 0 {
		return &ProtocolError{Reason: "multipart part missing header/body separator"}
	}

	header := bytes.TrimSpace(part[:splitAt])
	body := bytes.TrimSpace(part[splitAt+sepLen:])

	contentType, err := extractContentType(header)
	if err != nil {
		return err
	}

	switch contentType {
	case contentTypeJSON, contentTypeJSONNoCS:
		msg.Content = append(msg.Content, append(json.RawMessage(nil), body...))
	case contentTypeOctetStream:
		msg.Attachment = append(msg.Attachment, append([]byte(nil), body...))
	default:
		return &ProtocolError{Reason: fmt.Sprintf("unrecognized content type %q", contentType)}
	}
	return nil
}

func extractContentType(header []byte) (string, error) {
	const marker = "Content-Type: "
	idx := bytes.Index(header, []byte(marker))
	if idx < 0 {
		return "", &ProtocolError{Reason: "multipart part missing Content-Type"}
	}
	rest := header[idx+len(marker):]
	if end := bytes.Index(rest, []byte("\n")); end >= 0 {
		rest = rest[:end]
	}
	return string(bytes.TrimSpace(rest)), nil
}

// boundaryFromContentType extracts the boundary parameter from a
// "multipart/form-data; boundary=..." Content-Type header value, as
// returned when opening the downchannel (spec §4.4). Grounded on
// original_source/alexa_communication.py's get_boundary_from_response.
func boundaryFromContentType(contentType string) (string, error) {
	const marker = "boundary="
	idx := bytes.Index([]byte(contentType), []byte(marker))
	if idx < 0 {
		return "", &ProtocolError{Reason: "response missing multipart boundary"}
	}
	boundary := contentType[idx+len(marker):]
	boundary = string(bytes.Trim([]byte(boundary), "\""))
	if boundary == "" {
		return "", &ProtocolError{Reason: "response has empty multipart boundary"}
	}
	return boundary, nil
}

// FrameDecoder incrementally demuxes the downchannel's multipart stream.
// Fed arbitrary-sized chunks via Feed; emits one complete frame per
// boundary occurrence via the returned slice from Feed. Buffer retains
// only bytes after the last recognized boundary (spec §4.1 "Incremental
// decode"). Grounded on original_source/alexa_communication.py's
// downstream_thread (buffer + find, per §9's stated preference over the
// endswith-scan variant).
type FrameDecoder struct {
	boundary []byte
	buf      bytes.Buffer
}

// NewFrameDecoder constructs a decoder for the given boundary (without
// the leading "--").
func NewFrameDecoder(boundary string) *FrameDecoder {
	return &FrameDecoder{boundary: []byte("--" + boundary)}
}

// Feed appends chunk to the internal buffer and returns every complete
// frame (bytes preceding a boundary occurrence, trailing \r\n trimmed)
// found so far. Lone \r\n frames, the leading empty frame and the "--"
// left after a closing boundary are dropped, the same parts
// DecodeMessage skips (only the trailing \r\n is
// trimmed — no extra byte trim, per §9's open question resolution).
func (d *FrameDecoder) Feed(chunk []byte) [][]byte {
	d.buf.Write(chunk)

	var frames [][]byte
	for {
		data := d.buf.Bytes()
		idx := bytes.Index(data, d.boundary)
		if idx < 0 {
			break
		}

		frame := append([]byte(nil), data[:idx]...)
		frame = bytes.TrimSuffix(frame, []byte("\r\n"))

		rest := data[idx+len(d.boundary):]
		d.buf.Reset()
		d.buf.Write(rest)

		if isEmptyPart(frame) {
			continue
		}
		frames = append(frames, frame)
	}
	return frames
}

package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize is the largest payload the codec will read or write.
// A hostile or corrupt length prefix beyond this is treated as a framing
// failure rather than an allocation request.
const MaxFrameSize = 1 << 20

// headerSize is the length of the big-endian frame prefix.
const headerSize = 4

// FramingError reports a frame that could not be read or written in full:
// the stream closed mid-header or mid-payload, or the prefix was invalid.
// It is always fatal to the connection.
type FramingError struct {
	Op  string
	Err error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing: %s: %v", e.Op, e.Err)
}

func (e *FramingError) Unwrap() error { return e.Err }

// SerializationError reports a complete frame whose payload could not be
// converted to or from a Message. It is always fatal to the connection.
type SerializationError struct {
	Op  string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization: %s: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Encode serializes msg and writes one frame to w: a 4-byte big-endian
// payload length followed by the payload itself. The frame is written with a
// single Write call so concurrent encoders interleave at frame granularity
// when the caller serializes access to w.
//
// Postcondition: Exactly one complete frame is written, or an error is
// returned and the stream should be considered dead.
func Encode(w io.Writer, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return &SerializationError{Op: "encoding message", Err: err}
	}
	if len(payload) > MaxFrameSize {
		return &FramingError{Op: "writing frame", Err: fmt.Errorf("payload %d bytes exceeds limit %d", len(payload), MaxFrameSize)}
	}

	var buf bytes.Buffer
	buf.Grow(headerSize + len(payload))
	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	buf.Write(header[:])
	buf.Write(payload)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return &FramingError{Op: "writing frame", Err: err}
	}
	return nil
}

// Decode blocks until one full frame is read from r and returns the decoded
// message. A stream that closes before delivering a complete header and
// payload yields a FramingError; a payload that is not a valid message
// object yields a SerializationError.
func Decode(r io.Reader) (Message, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, &FramingError{Op: "reading header", Err: err}
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, &FramingError{Op: "reading header", Err: fmt.Errorf("declared payload %d bytes exceeds limit %d", length, MaxFrameSize)}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, &FramingError{Op: "reading payload", Err: err}
	}

	return DecodePayload(payload)
}

// DecodePayload deserializes a single already-framed payload. Transports
// that are natively message-oriented (WebSocket) deliver payloads without
// the length prefix and decode through this entry point.
func DecodePayload(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, &SerializationError{Op: "decoding payload", Err: err}
	}
	return msg, nil
}

// EncodePayload serializes a message without the frame prefix, for
// message-oriented transports.
func EncodePayload(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, &SerializationError{Op: "encoding message", Err: err}
	}
	if len(payload) > MaxFrameSize {
		return nil, &FramingError{Op: "writing payload", Err: fmt.Errorf("payload %d bytes exceeds limit %d", len(payload), MaxFrameSize)}
	}
	return payload, nil
}

// Package handshake runs lobby authentication over TCP: a Hello names the
// player, the server looks the player up, and the two sides exchange
// AuthData frames until the challenge-response mechanism completes.
package handshake

import (
	"encoding/binary"
	"fmt"

	"github.com/cyberinferno/go-lobby/session"
	"github.com/cyberinferno/go-lobby/utils"
)

// FrameType identifies a handshake frame.
type FrameType byte

// Frame types in wire order. Values outside this range are rejected.
const (
	FrameHello      FrameType = iota + 1 // client -> server, payload is the player name
	FrameHelloAck                        // server -> client, payload is the mechanism name
	FrameAuthData                        // either direction, one mechanism message
	FrameAuthResult                      // server -> client, payload is one ok byte
	FrameIdleNotice                      // server -> client, payload is the seconds left before disconnect
)

// String returns a human-readable name for the frame type.
func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "Hello"
	case FrameHelloAck:
		return "HelloAck"
	case FrameAuthData:
		return "AuthData"
	case FrameAuthResult:
		return "AuthResult"
	case FrameIdleNotice:
		return "IdleNotice"
	default:
		return fmt.Sprintf("FrameType(%d)", byte(t))
	}
}

const (
	lengthSize = 4

	// HeaderSize is the length prefix plus the type byte.
	HeaderSize = lengthSize + 1

	// MaxFrameSize bounds a whole frame, header included.
	MaxFrameSize = 64 * 1024
)

// Frame is one decoded handshake message.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// EncodeFrame builds the wire form: a little-endian uint32 total length,
// the type byte and the payload.
//
// Parameters:
//   - t: Frame type
//   - payload: Frame body; may be empty
//
// Returns:
//   - The encoded frame
//   - ErrUnknownFrame or ErrFrameTooLarge
func EncodeFrame(t FrameType, payload []byte) ([]byte, error) {
	if !t.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFrame, byte(t))
	}

	size := HeaderSize + len(payload)
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	out := make([]byte, size)
	binary.LittleEndian.PutUint32(out, uint32(size))
	out[lengthSize] = byte(t)
	copy(out[HeaderSize:], payload)

	return out, nil
}

// DecodeFrame parses exactly one encoded frame.
//
// Returns:
//   - The frame; its payload is a copy
//   - ErrShortFrame, ErrFrameTooLarge, ErrFrameLength or ErrUnknownFrame
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) < HeaderSize {
		return Frame{}, ErrShortFrame
	}

	size := binary.LittleEndian.Uint32(data)
	if err := checkSize(size); err != nil {
		return Frame{}, err
	}
	if int(size) != len(data) {
		return Frame{}, fmt.Errorf("%w: header says %d, got %d", ErrFrameLength, size, len(data))
	}

	t := FrameType(data[lengthSize])
	if !t.valid() {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnknownFrame, byte(t))
	}

	return Frame{Type: t, Payload: utils.CloneBytes(data[HeaderSize:])}, nil
}

// NextFrame takes the first complete frame off buf.
//
// Returns:
//   - The frame and true when one was complete; buf keeps any trailing bytes
//   - false with a nil error when more bytes are needed
//   - An error when the buffered length prefix is invalid
func NextFrame(buf *session.ReceiveBuffer) (Frame, bool, error) {
	head := buf.Bytes()
	if len(head) < lengthSize {
		return Frame{}, false, nil
	}

	size := binary.LittleEndian.Uint32(head)
	if err := checkSize(size); err != nil {
		return Frame{}, false, err
	}
	if len(head) < int(size) {
		return Frame{}, false, nil
	}

	raw, _ := buf.Next(int(size))
	f, err := DecodeFrame(raw)
	if err != nil {
		return Frame{}, false, err
	}

	return f, true, nil
}

func checkSize(size uint32) error {
	if size < HeaderSize {
		return fmt.Errorf("%w: length %d", ErrShortFrame, size)
	}
	if size > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	return nil
}

func (t FrameType) valid() bool {
	return t >= FrameHello && t <= FrameIdleNotice
}

func resultFrame(ok bool) []byte {
	var flag byte
	if ok {
		flag = 1
	}

	out, _ := EncodeFrame(FrameAuthResult, []byte{flag})
	return out
}

// IdleNoticeSeconds reads the seconds left before disconnect from an
// IdleNotice frame.
func IdleNoticeSeconds(f Frame) (uint32, error) {
	if f.Type != FrameIdleNotice {
		return 0, fmt.Errorf("%w: %s, want %s", ErrUnexpectedFrame, f.Type, FrameIdleNotice)
	}
	if len(f.Payload) != 4 {
		return 0, fmt.Errorf("%w: idle notice payload of %d bytes", ErrFrameLength, len(f.Payload))
	}

	return binary.LittleEndian.Uint32(f.Payload), nil
}

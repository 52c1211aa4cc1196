// Package transport implements the browser native-messaging channel: JSON
// messages framed by a 4-byte length prefix on the process's stdio.
package transport

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	// MaxInboundSize is the largest frame accepted from the browser.
	MaxInboundSize = 64 << 20
	// MaxOutboundSize is the largest frame the browser accepts from a host.
	MaxOutboundSize = 1 << 20
)

var (
	// ErrChannelClosed means the peer closed the stream between frames.
	ErrChannelClosed = errors.New("channel closed")
	// ErrProtocolViolation means a frame was truncated or had an invalid length.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrDecode means a frame payload was not a JSON object.
	ErrDecode = errors.New("decode error")
)

// Sender writes one framed message. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(msg any) error
}

type flusher interface {
	Flush() error
}

// Channel reads and writes length-prefixed JSON frames. Receive must only
// be called from a single goroutine; Send may be called from any number.
type Channel struct {
	r     io.Reader
	order binary.ByteOrder

	// mu makes length prefix + payload one atomic write.
	mu sync.Mutex
	w  io.Writer
}

// NewChannel creates a channel over r and w using the given byte order for
// the length prefix. A nil order means the host's native order.
func NewChannel(r io.Reader, w io.Writer, order binary.ByteOrder) *Channel {
	if order == nil {
		order = binary.NativeEndian
	}
	return &Channel{r: r, w: w, order: order}
}

// ParseByteOrder maps a config value to a byte order.
func ParseByteOrder(name string) (binary.ByteOrder, error) {
	switch name {
	case "", "native":
		return binary.NativeEndian, nil
	case "little":
		return binary.LittleEndian, nil
	case "big":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("unsupported byte order %q", name)
	}
}

// Send encodes msg as JSON and writes it as one frame, flushing the
// underlying writer when it buffers.
func (c *Channel) Send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if len(payload) > MaxOutboundSize {
		return fmt.Errorf("outbound message of %d bytes exceeds %d byte limit", len(payload), MaxOutboundSize)
	}

	frame := make([]byte, 4+len(payload))
	c.order.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	if f, ok := c.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flushing frame: %w", err)
		}
	}
	return nil
}

// Receive blocks until one complete frame has been read and decoded.
func (c *Channel) Receive() (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrChannelClosed
		}
		return nil, fmt.Errorf("%w: reading length prefix: %w", ErrProtocolViolation, err)
	}

	length := c.order.Uint32(header[:])
	if length == 0 || length > MaxInboundSize {
		return nil, fmt.Errorf("%w: invalid message length %d", ErrProtocolViolation, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, fmt.Errorf("%w: reading %d byte payload: %w", ErrProtocolViolation, length, err)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrDecode)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrDecode)
	}
	return msg, nil
}

package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

const lenPrefixSize = 4

// DefaultMaxFrame is the frame ceiling used when none is configured.
const DefaultMaxFrame = 1 << 20 // 1 MiB

var (
	// ErrFrameTooLarge means the length prefix announced a frame beyond
	// the ceiling. Detected before any payload allocation.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrMalformedFrame means the stream cannot be trusted past this
	// point; there is no resynchronization, callers must drop the
	// connection.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Codec reads and writes framed messages over a single stream. Reads
// are buffered; writes emit each frame in one Write call. Codec itself
// is not safe for concurrent use, callers serialize.
type Codec struct {
	r        *bufio.Reader
	w        io.Writer
	maxFrame int
}

func NewCodec(rw io.ReadWriter, maxFrame int) *Codec {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &Codec{
		r:        bufio.NewReader(rw),
		w:        rw,
		maxFrame: maxFrame,
	}
}

// ReadMessage blocks for the next frame. io.EOF is returned as-is on a
// clean close between frames; a stream cut mid-frame and any framing or
// JSON violation return ErrMalformedFrame.
func (c *Codec) ReadMessage() (Message, error) {
	var prefix [lenPrefixSize]byte
	if _, err := io.ReadFull(c.r, prefix[:]); err != nil {
		if err == io.EOF {
			return Message{}, io.EOF
		}
		return Message{}, errors.Wrap(ErrMalformedFrame, "short length prefix")
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size == 0 {
		return Message{}, errors.Wrap(ErrMalformedFrame, "zero-length frame")
	}
	if int64(size) > int64(c.maxFrame) {
		return Message{}, ErrFrameTooLarge
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return Message{}, errors.Wrap(ErrMalformedFrame, "short frame body")
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	return msg, nil
}

// WriteMessage frames and writes one message.
func (c *Codec) WriteMessage(msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encoding message")
	}
	if len(body) > c.maxFrame {
		return ErrFrameTooLarge
	}

	frame := make([]byte, lenPrefixSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[lenPrefixSize:], body)

	if _, err = c.w.Write(frame); err != nil {
		return errors.Wrap(err, "writing frame")
	}
	return nil
}

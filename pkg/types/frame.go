package types

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// Binary frame layout used by the raw socket transport:
//
//	[typeLo typeHi seqLo seqHi convLo convHi] key=value,key=value... NUL
//
// Header fields are little-endian 16-bit. Conversation id 0 means "no
// conversation". Inside the body `\` escapes `\`, `,` and `=`, and `\0` stands
// for a NUL byte so values cannot end the frame early.
const (
	FrameHeaderSize = 6
	MaxFrameSize    = 1024
	frameTerminator = 0x00
)

// EncodeFrame renders m as a single NUL-terminated frame stamped with seq.
// Frames that would not fit in MaxFrameSize are rejected with ErrFrameTooLarge.
func EncodeFrame(m *Message, seq uint16) ([]byte, error) {
	var body strings.Builder
	first := true
	m.Values.Range(func(key, value string) {
		if !first {
			body.WriteByte(',')
		}
		first = false
		body.WriteString(escapeFrameText(key))
		body.WriteByte('=')
		body.WriteString(escapeFrameText(value))
	})

	size := FrameHeaderSize + body.Len() + 1
	if size > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	var conversation int64
	if m.ConversationID != nil {
		conversation = *m.ConversationID
	}

	frame := make([]byte, 0, size)
	frame = append(frame,
		byte(m.Type&0xff), byte(m.Type>>8&0xff),
		byte(seq&0xff), byte(seq>>8&0xff),
		byte(conversation&0xff), byte(conversation>>8&0xff),
	)
	frame = append(frame, body.String()...)
	frame = append(frame, frameTerminator)
	return frame, nil
}

// DecodeFrame parses one frame. The trailing NUL is optional so the function
// accepts both raw frames and the output of FrameReader.ReadFrame.
func DecodeFrame(frame []byte) (*Message, uint16, error) {
	if len(frame) < FrameHeaderSize {
		return nil, 0, ErrFrameTooShort
	}
	if len(frame) > MaxFrameSize {
		return nil, 0, ErrFrameTooLarge
	}

	msg := &Message{
		Type: MessageType(int(frame[0]) | int(frame[1])<<8),
	}
	seq := uint16(frame[2]) | uint16(frame[3])<<8
	if conversation := int64(frame[4]) | int64(frame[5])<<8; conversation != 0 {
		msg.ConversationID = &conversation
	}

	body := frame[FrameHeaderSize:]
	if n := len(body); n > 0 && body[n-1] == frameTerminator {
		body = body[:n-1]
	}
	parseFrameBody(string(body), &msg.Values)
	return msg, seq, nil
}

// parseFrameBody splits on unescaped commas; each entry is split on its first
// unescaped '='. Entries without '=' become keys with empty values.
func parseFrameBody(body string, values *Values) {
	var (
		key, current strings.Builder
		haveKey      bool
		escaped      bool
	)

	flush := func() {
		if haveKey {
			values.Set(key.String(), current.String())
		} else if current.Len() > 0 {
			values.Set(current.String(), "")
		}
		key.Reset()
		current.Reset()
		haveKey = false
	}

	for i := 0; i < len(body); i++ {
		c := body[i]
		if escaped {
			if c == '0' {
				c = frameTerminator
			}
			current.WriteByte(c)
			escaped = false
			continue
		}
		switch {
		case c == '\\':
			escaped = true
		case c == ',':
			flush()
		case c == '=' && !haveKey:
			key.WriteString(current.String())
			current.Reset()
			haveKey = true
		default:
			current.WriteByte(c)
		}
	}
	if escaped {
		current.WriteByte('\\')
	}
	flush()
}

func escapeFrameText(s string) string {
	if !strings.ContainsAny(s, "\\,=\x00") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', ',', '=':
			b.WriteByte('\\')
		case frameTerminator:
			b.WriteString(`\0`)
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// FrameReader splits a byte stream into frames. A frame is a fixed header
// followed by a body that runs up to the NUL terminator; the header itself may
// contain zero bytes so it is read by length rather than by delimiter.
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, MaxFrameSize)}
}

// ReadFrame returns the next frame without its terminator. Oversized frames are
// consumed up to their terminator and reported as ErrFrameTooLarge so the
// caller can drop them and keep reading. io.EOF is returned at end of stream.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	header := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(fr.r, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrMissingTerminator
		}
		return nil, err
	}

	limit := MaxFrameSize - FrameHeaderSize - 1
	body := make([]byte, 0, 64)
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrMissingTerminator
			}
			return nil, err
		}
		if b == frameTerminator {
			break
		}
		if len(body) >= limit {
			if _, err := fr.r.ReadBytes(frameTerminator); err != nil {
				return nil, err
			}
			return nil, ErrFrameTooLarge
		}
		body = append(body, b)
	}

	return append(header, body...), nil
}

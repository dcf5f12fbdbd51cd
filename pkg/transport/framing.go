package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxFrameSize bounds a single message body.
const MaxFrameSize = 64 << 20

// Framer delimits JSON messages on a byte stream.
type Framer interface {
	// WriteFrame writes one framed message.
	WriteFrame(w io.Writer, body []byte) error

	// NewReader returns a reader yielding message bodies from r.
	NewReader(r io.Reader) FrameReader

	// Name identifies the framing in configuration.
	Name() string
}

// FrameReader yields one message body per call.
type FrameReader interface {
	ReadFrame() ([]byte, error)
}

// ParseFramer resolves a framing name. The empty name selects header framing.
func ParseFramer(name string) (Framer, error) {
	switch strings.ToLower(name) {
	case "", "header", "content-length":
		return HeaderFramer{}, nil
	case "line", "newline":
		return LineFramer{}, nil
	default:
		return nil, fmt.Errorf("unknown framing %q", name)
	}
}

// HeaderFramer prefixes each body with a Content-Length header block:
//
//	Content-Length: 42\r\n\r\n{...}
type HeaderFramer struct{}

func (HeaderFramer) Name() string { return "header" }

// WriteFrame writes header and body in a single Write.
func (HeaderFramer) WriteFrame(w io.Writer, body []byte) error {
	var buf bytes.Buffer
	buf.Grow(len(body) + 32)
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(body))
	buf.Write(body)
	_, err := w.Write(buf.Bytes())
	return err
}

func (HeaderFramer) NewReader(r io.Reader) FrameReader {
	return &headerReader{r: bufio.NewReader(r)}
}

type headerReader struct {
	r *bufio.Reader
}

func (h *headerReader) ReadFrame() ([]byte, error) {
	length := -1
	for {
		line, err := h.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" && length < 0 {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read header: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if length < 0 {
				// Stray blank line between messages.
				continue
			}
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid Content-Length %q", value)
			}
			length = n
		}
	}

	if length > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(h.r, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// LineFramer writes one JSON document per line.
type LineFramer struct{}

func (LineFramer) Name() string { return "line" }

func (LineFramer) WriteFrame(w io.Writer, body []byte) error {
	if bytes.IndexByte(body, '\n') >= 0 {
		return errors.New("line framing cannot carry a body containing a newline")
	}
	buf := make([]byte, 0, len(body)+1)
	buf = append(buf, body...)
	buf = append(buf, '\n')
	_, err := w.Write(buf)
	return err
}

func (LineFramer) NewReader(r io.Reader) FrameReader {
	return &lineReader{r: bufio.NewReader(r)}
}

type lineReader struct {
	r *bufio.Reader
}

func (l *lineReader) ReadFrame() ([]byte, error) {
	for {
		line, err := l.r.ReadBytes('\n')
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			if len(trimmed) > MaxFrameSize {
				return nil, fmt.Errorf("frame of %d bytes exceeds limit", len(trimmed))
			}
			return trimmed, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxMessageBytes caps a single framed message body.
const maxMessageBytes = 4 << 20

type wireMode int

const (
	wireFramed wireMode = iota
	wireJSONLine
)

// codec reads and writes JSON-RPC messages in either Content-Length framing
// or newline-delimited JSON. Replies use the mode of the last request read.
type codec struct {
	r    *bufio.Reader
	w    *bufio.Writer
	mode wireMode
}

func newCodec(in io.Reader, out io.Writer) *codec {
	return &codec{r: bufio.NewReader(in), w: bufio.NewWriter(out)}
}

func (c *codec) read() ([]byte, error) {
	first, err := c.skipSpace()
	if err != nil {
		return nil, err
	}
	if first == '{' || first == '[' {
		c.mode = wireJSONLine
		return c.readLine()
	}
	c.mode = wireFramed
	return c.readFramed()
}

func (c *codec) write(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if c.mode == wireJSONLine {
		payload = append(payload, '\n')
	} else if _, err := fmt.Fprintf(c.w, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
		return err
	}
	if _, err := c.w.Write(payload); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *codec) skipSpace() (byte, error) {
	for {
		b, err := c.r.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = c.r.ReadByte()
		default:
			return b[0], nil
		}
	}
}

func (c *codec) readLine() ([]byte, error) {
	line, err := c.r.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, io.EOF
	}
	return line, nil
}

func (c *codec) readFramed() ([]byte, error) {
	length := -1
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "content-length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid Content-Length %q: %w", value, err)
		}
		length = n
	}
	if length <= 0 {
		return nil, errors.New("missing or invalid Content-Length")
	}
	if length > maxMessageBytes {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit of %d", length, maxMessageBytes)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// MaxLineBytes caps one framed message. Bid maps scale with the roster, not
// with rounds, so a megabyte is generous.
const MaxLineBytes = 1 << 20

// Encode serializes a message to one newline-terminated JSON record.
// json.Marshal escapes control characters, so the record body can never
// contain an embedded record separator.
func Encode(m *Message) ([]byte, error) {
	if !m.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedMessage, m.Type)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return append(data, '\n'), nil
}

// Decode parses and structurally validates one record.
func Decode(line []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(bytes.TrimSpace(line), &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if !m.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedMessage, m.Type)
	}
	if m.PlayerID == "" {
		return nil, fmt.Errorf("%w: missing player_id", ErrMalformedMessage)
	}
	if len(m.Data) == 0 {
		return nil, fmt.Errorf("%w: missing data", ErrMalformedMessage)
	}
	// The payload must be a mapping, not null, a bare value or an array.
	var mapping map[string]json.RawMessage
	if err := json.Unmarshal(m.Data, &mapping); err != nil {
		return nil, fmt.Errorf("%w: data is not a mapping: %v", ErrMalformedMessage, err)
	}
	if mapping == nil {
		return nil, fmt.Errorf("%w: data is null", ErrMalformedMessage)
	}
	return &m, nil
}

// LineReader reads framed messages off a stream.
type LineReader struct {
	scanner *bufio.Scanner
}

// NewLineReader wraps a connection's read side.
func NewLineReader(r io.Reader) *LineReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxLineBytes)
	return &LineReader{scanner: scanner}
}

// ReadMessage returns the next message, io.EOF at end of stream, or the
// underlying read error. Structural violations surface as
// ErrMalformedMessage; the stream itself remains readable.
func (lr *LineReader) ReadMessage() (*Message, error) {
	for lr.scanner.Scan() {
		line := lr.scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return Decode(line)
	}
	if err := lr.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// WriteMessage frames and writes one message.
func WriteMessage(w io.Writer, m *Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", m.Type, err)
	}
	return nil
}

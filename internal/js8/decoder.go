package js8

import (
	"bytes"
	"log"
)

// Logger is the subset of *log.Logger used by this package
type Logger interface {
	Printf(format string, v ...any)
}

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}

func orDiscard(l Logger) Logger {
	if l == nil {
		return discardLogger{}
	}
	return l
}

// Decoder splits a byte stream into newline-terminated protocol messages.
// It keeps the unterminated tail between calls. Not safe for concurrent use;
// the connection's reader goroutine is its only caller.
type Decoder struct {
	buffer []byte
	logger Logger

	decoded   uint64
	malformed uint64
}

// NewDecoder creates a decoder. A nil logger discards parse errors.
func NewDecoder(logger Logger) *Decoder {
	return &Decoder{logger: orDiscard(logger)}
}

// Feed appends a chunk and returns every complete message it terminates
func (d *Decoder) Feed(chunk []byte) []*Message {
	d.buffer = append(d.buffer, chunk...)

	var messages []*Message
	for {
		idx := bytes.IndexByte(d.buffer, '\n')
		if idx < 0 {
			break
		}
		line := d.buffer[:idx]
		d.buffer = d.buffer[idx+1:]

		if msg := d.parseLine(line); msg != nil {
			messages = append(messages, msg)
		}
	}

	// Compact so the retained tail does not pin an ever-growing array
	if len(d.buffer) == 0 {
		d.buffer = nil
	} else {
		d.buffer = append([]byte(nil), d.buffer...)
	}

	return messages
}

func (d *Decoder) parseLine(line []byte) *Message {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil
	}

	msg, err := ParseMessage(trimmed)
	if err != nil {
		d.malformed++
		d.logger.Printf("Error parsing JS8Call message: %v", &MalformedFrameError{Line: string(trimmed), Cause: err})
		return nil
	}

	d.decoded++
	return msg
}

// reset discards any partial message
func (d *Decoder) reset() {
	d.buffer = nil
}

// buffered returns the number of bytes held for an unterminated message
func (d *Decoder) buffered() int {
	return len(d.buffer)
}

// stats returns decoded and malformed line counts
func (d *Decoder) stats() (decoded, malformed uint64) {
	return d.decoded, d.malformed
}

var _ Logger = (*log.Logger)(nil)

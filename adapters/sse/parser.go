package sse

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/satriahrh/cocoa-fruit/relay/domain"
	"github.com/satriahrh/cocoa-fruit/relay/utils/log"
	"go.uber.org/zap"
)

const (
	recordDelimiter = "\n\n"
	dataPrefix      = "data:"
)

// ErrClosed is returned by Feed once the stream has ended.
var ErrClosed = errors.New("sse: parser closed")

// Parser rebuilds events from a byte stream that may be split at any
// offset. One Parser serves exactly one stream.
type Parser struct {
	// carry holds bytes that cannot be decoded yet: an incomplete UTF-8
	// sequence or a trailing '\r' that may be the first half of "\r\n".
	carry []byte
	buf   string

	closed   bool
	terminal bool
	dropped  int
}

func NewParser() *Parser {
	return &Parser{}
}

// Feed consumes the next bytes of the stream and returns every event
// completed by them, in stream order. After a terminal event the parser
// is closed and the rest of the input is ignored.
func (p *Parser) Feed(chunk []byte) ([]domain.Event, error) {
	if p.closed {
		return nil, ErrClosed
	}

	p.buf += p.decode(chunk)
	if !strings.Contains(p.buf, recordDelimiter) {
		return nil, nil
	}

	parts := strings.Split(p.buf, recordDelimiter)
	p.buf = parts[len(parts)-1]

	var out []domain.Event
	for _, record := range parts[:len(parts)-1] {
		ev, ok := p.parseRecord(record)
		if !ok {
			continue
		}
		out = append(out, ev)
		if ev.Terminal() {
			p.terminal = true
			p.close()
			break
		}
	}
	return out, nil
}

// End marks the end of the underlying transport. An unterminated
// trailing record is discarded.
func (p *Parser) End() {
	if p.closed {
		return
	}
	if strings.TrimSpace(p.buf) != "" {
		log.With(zap.String("component", "sse")).Debug("discarding incomplete trailing record",
			zap.Int("bytes", len(p.buf)))
	}
	p.close()
}

func (p *Parser) Closed() bool { return p.closed }

// SawTerminal reports whether an error or done event ended the stream.
func (p *Parser) SawTerminal() bool { return p.terminal }

// Dropped is the number of records skipped because they did not decode.
func (p *Parser) Dropped() int { return p.dropped }

func (p *Parser) close() {
	p.closed = true
	p.buf = ""
	p.carry = nil
}

// decode turns the carried bytes plus chunk into text with every line
// terminator normalised to '\n', holding back whatever may still change
// meaning once more bytes arrive.
func (p *Parser) decode(chunk []byte) string {
	b := append(p.carry, chunk...)
	cut := len(b)
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				cut = i
			}
			break
		}
	}

	text := string(b[:cut])
	carry := append([]byte(nil), b[cut:]...)
	if strings.HasSuffix(text, "\r") {
		text = text[:len(text)-1]
		carry = append([]byte{'\r'}, carry...)
	}
	p.carry = carry

	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

func (p *Parser) parseRecord(record string) (domain.Event, bool) {
	var data []string
	for _, line := range strings.Split(record, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		data = append(data, strings.TrimSpace(line[len(dataPrefix):]))
	}
	if len(data) == 0 {
		return nil, false
	}

	ev, err := domain.DecodeEvent([]byte(strings.Join(data, "\n")))
	if err != nil {
		p.dropped++
		log.With(zap.String("component", "sse")).Debug("dropping record", zap.Error(err))
		return nil, false
	}
	return ev, true
}

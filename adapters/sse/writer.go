package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/satriahrh/cocoa-fruit/relay/domain"
)

const ContentType = "text/event-stream; charset=utf-8"

// SetHeaders applies the headers every event-stream response carries,
// whether the body is passed through or synthesized.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Encode renders one event as a complete record.
func Encode(ev domain.Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Type(), err)
	}
	out := make([]byte, 0, len(payload)+len(dataPrefix)+3)
	out = append(out, dataPrefix...)
	out = append(out, ' ')
	out = append(out, payload...)
	out = append(out, recordDelimiter...)
	return out, nil
}

type flusher interface {
	Flush()
}

// Writer writes records to a live response, flushing after each one.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) WriteEvent(ev domain.Event) error {
	record, err := Encode(ev)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(record); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Type(), err)
	}
	if f, ok := w.w.(flusher); ok {
		f.Flush()
	}
	return nil
}

// SyntheticStream returns a finished stream holding the given events.
func SyntheticStream(events ...domain.Event) io.ReadCloser {
	var buf bytes.Buffer
	for _, ev := range events {
		record, err := Encode(ev)
		if err != nil {
			continue
		}
		buf.Write(record)
	}
	return io.NopCloser(&buf)
}

// ErrorStream is the two-record stream used for every locally detected
// failure: an error carrying message, then done.
func ErrorStream(message string) io.ReadCloser {
	return SyntheticStream(domain.ErrorEvent{Message: message}, domain.DoneEvent{})
}

// Package sseutil decodes server-sent event streams from provider responses.
package sseutil

import (
	"bufio"
	"io"
	"strings"
)

// Providers ship whole JSON fragments in a single data line; generous cap so
// long completions with large tool arguments never split mid-event.
const maxEventSize = 1 << 20

// Event is one complete server-sent event. Type is the value of the event
// field, empty for unnamed events. Data joins consecutive data lines with
// newlines.
type Event struct {
	Type string
	Data string
}

// Reader yields complete events from an SSE byte stream. Comments and fields
// other than event and data are skipped. A pending event is flushed at EOF
// even when the final blank-line separator is missing.
type Reader struct {
	s   *bufio.Scanner
	err error
}

func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 8192), maxEventSize)
	return &Reader{s: s}
}

// Next returns the next event. It returns io.EOF once the stream is
// exhausted, or the underlying read error in its place.
func (r *Reader) Next() (Event, error) {
	if r.err != nil {
		return Event{}, r.err
	}

	var (
		ev   Event
		data []string
		have bool
	)
	for r.s.Scan() {
		line := r.s.Text()
		if line == "" {
			if !have {
				continue
			}
			ev.Data = strings.Join(data, "\n")
			return ev, nil
		}
		if line[0] == ':' {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Type = value
			have = true
		case "data":
			data = append(data, value)
			have = true
		}
	}

	if err := r.s.Err(); err != nil {
		r.err = err
	} else {
		r.err = io.EOF
	}
	if have {
		ev.Data = strings.Join(data, "\n")
		return ev, nil
	}
	return Event{}, r.err
}

// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"bufio"
	"bytes"
	"io"
	"iter"
)

const (
	sseInitialBuffer = 64 * 1024
	sseMaxBuffer     = 1024 * 1024
)

// sseEvent is one dispatched server-sent event.
type sseEvent struct {
	Event string
	Data  []byte
}

// readSSE splits r into events. Multiple data lines are joined with a
// newline; comment lines are skipped; a trailing event without a blank line
// is still dispatched at EOF.
func readSSE(r io.Reader) iter.Seq2[sseEvent, error] {
	return func(yield func(sseEvent, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, sseInitialBuffer), sseMaxBuffer)

		var (
			event   string
			data    bytes.Buffer
			hasData bool
		)
		dispatch := func() bool {
			if !hasData {
				event = ""
				return true
			}
			ev := sseEvent{Event: event, Data: bytes.Clone(data.Bytes())}
			event, hasData = "", false
			data.Reset()
			return yield(ev, nil)
		}

		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				if !dispatch() {
					return
				}
				continue
			}
			if line[0] == ':' {
				continue
			}
			field, value, _ := bytes.Cut(line, []byte(":"))
			value = bytes.TrimPrefix(value, []byte(" "))
			switch string(field) {
			case "event":
				event = string(value)
			case "data":
				if hasData {
					data.WriteByte('\n')
				}
				data.Write(value)
				hasData = true
			}
		}
		if err := sc.Err(); err != nil {
			yield(sseEvent{}, err)
			return
		}
		dispatch()
	}
}

package taskrun

import (
	"bufio"
	"bytes"
	"io"
)

const maxEventSize = 1 << 20

// eventReader yields the data payload of each server-sent event. Comment
// lines and fields other than data are skipped.
type eventReader struct {
	sc *bufio.Scanner
}

func newEventReader(r io.Reader) *eventReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxEventSize)
	return &eventReader{sc: sc}
}

// Next blocks until a complete event arrives. It returns io.EOF when the
// stream ends cleanly.
func (r *eventReader) Next() (string, error) {
	var data bytes.Buffer
	have := false
	for r.sc.Scan() {
		line := r.sc.Bytes()
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			if have {
				return data.String(), nil
			}
			continue
		}
		if line[0] == ':' {
			continue
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))
		if string(field) != "data" {
			continue
		}
		if have {
			data.WriteByte('\n')
		}
		data.Write(value)
		have = true
	}
	if err := r.sc.Err(); err != nil {
		return "", err
	}
	// A final event without its blank line still counts.
	if have {
		return data.String(), nil
	}
	return "", io.EOF
}

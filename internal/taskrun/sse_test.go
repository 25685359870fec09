package taskrun

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestEventReader(t *testing.T) {
	t.Parallel()

	raw := strings.Join([]string{
		": keep-alive",
		"",
		"event: log",
		"data: {\"event\":\"connected\"}",
		"",
		"data: first line\r",
		"data: second line\r",
		"\r",
		"id: 3",
		"data:no-space",
	}, "\n")
	r := newEventReader(strings.NewReader(raw))

	want := []string{`{"event":"connected"}`, "first line\nsecond line", "no-space"}
	for i, w := range want {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if got != w {
			t.Fatalf("event %d: got %q want %q", i, got, w)
		}
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestEventReaderPropagatesErrors(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	go func() {
		_, _ = io.WriteString(pw, "data: partial")
		_ = pw.CloseWithError(errors.New("reset"))
	}()
	if _, err := newEventReader(pr).Next(); err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

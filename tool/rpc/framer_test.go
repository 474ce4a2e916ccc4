package rpc

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

// chunkReader returns its chunks one Read at a time, regardless of line
// boundaries.
type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func collectFrames(t *testing.T, f *Framer) []string {
	t.Helper()
	var out []string
	for frame := range f.All() {
		out = append(out, string(frame))
	}
	if err := f.Err(); err != nil {
		t.Fatalf("Framer.Err() = %v, want nil", err)
	}
	return out
}

func TestFramerJoinsPartialReads(t *testing.T) {
	reader := &chunkReader{chunks: []string{
		`{"id":1,"res`,
		`ult":{"ok":true}}`,
		"\n{\"id\":2,",
		`"result":null}` + "\n",
	}}
	got := collectFrames(t, NewFramer(reader, FramerOptions{}))
	want := []string{`{"id":1,"result":{"ok":true}}`, `{"id":2,"result":null}`}
	if len(got) != len(want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestFramerSplitsMultipleDocumentsInOneRead(t *testing.T) {
	reader := &chunkReader{chunks: []string{"{\"a\":1}\n{\"b\":2}\n{\"c\":3}\n"}}
	got := collectFrames(t, NewFramer(reader, FramerOptions{}))
	if len(got) != 3 {
		t.Fatalf("frame count = %d, want 3 (%v)", len(got), got)
	}
	if got[2] != `{"c":3}` {
		t.Fatalf("frame[2] = %s, want {\"c\":3}", got[2])
	}
}

func TestFramerOneByteReads(t *testing.T) {
	input := "{\"id\":7,\"result\":\"x\"}\n{\"id\":8,\"result\":\"y\"}\n"
	got := collectFrames(t, NewFramer(iotest.OneByteReader(strings.NewReader(input)), FramerOptions{}))
	if len(got) != 2 {
		t.Fatalf("frame count = %d, want 2", len(got))
	}
}

func TestFramerSkipsInvalidAndBlankLines(t *testing.T) {
	input := strings.Join([]string{
		"starting worker v1.2",
		"",
		`{"id":1,"result":1}`,
		"   ",
		`{"id":2,"result":`,
		`{"id":3,"result":3}`,
	}, "\n") + "\n"

	got := collectFrames(t, NewFramer(strings.NewReader(input), FramerOptions{}))
	want := []string{`{"id":1,"result":1}`, `{"id":3,"result":3}`}
	if len(got) != len(want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestFramerHandlesTailAtEOF(t *testing.T) {
	t.Run("valid tail is emitted", func(t *testing.T) {
		got := collectFrames(t, NewFramer(strings.NewReader("{\"a\":1}\n{\"b\":2}"), FramerOptions{}))
		if len(got) != 2 || got[1] != `{"b":2}` {
			t.Fatalf("frames = %v, want trailing {\"b\":2}", got)
		}
	})
	t.Run("truncated tail is dropped", func(t *testing.T) {
		got := collectFrames(t, NewFramer(strings.NewReader("{\"a\":1}\n{\"b\":"), FramerOptions{}))
		if len(got) != 1 {
			t.Fatalf("frames = %v, want only the complete document", got)
		}
	})
}

func TestFramerDropsOversizedFrames(t *testing.T) {
	big := `{"blob":"` + strings.Repeat("x", 64) + `"}`
	input := big + "\n" + `{"ok":true}` + "\n"
	framer := NewFramer(strings.NewReader(input), FramerOptions{MaxFrameSize: 32})
	got := collectFrames(t, framer)
	if len(got) != 1 || got[0] != `{"ok":true}` {
		t.Fatalf("frames = %v, want only {\"ok\":true}", got)
	}
}

func TestFramerNextReturnsEOF(t *testing.T) {
	framer := NewFramer(strings.NewReader(`{"a":1}`+"\n"), FramerOptions{})
	if _, err := framer.Next(); err != nil {
		t.Fatalf("first Next() error = %v", err)
	}
	if _, err := framer.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("second Next() error = %v, want io.EOF", err)
	}
	if _, err := framer.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("third Next() error = %v, want io.EOF", err)
	}
}

func TestFramerReportsReadError(t *testing.T) {
	boom := errors.New("boom")
	framer := NewFramer(iotest.ErrReader(boom), FramerOptions{})
	if _, err := framer.Next(); !errors.Is(err, boom) {
		t.Fatalf("Next() error = %v, want boom", err)
	}
	if !errors.Is(framer.Err(), boom) {
		t.Fatalf("Err() = %v, want boom", framer.Err())
	}
}

func TestFrameDecode(t *testing.T) {
	msg, err := Frame(`{"jsonrpc":"2.0","id":"12","result":{"x":1}}`).Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !msg.IsResponse() {
		t.Fatal("expected decoded frame to be a response")
	}
	if *msg.ID != 12 {
		t.Fatalf("id = %d, want 12", *msg.ID)
	}

	note, err := Frame(`{"jsonrpc":"2.0","method":"notifications/progress"}`).Decode()
	if err != nil {
		t.Fatalf("Decode() notification error = %v", err)
	}
	if note.IsResponse() {
		t.Fatal("notification must not be treated as a response")
	}
}

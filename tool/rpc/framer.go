package rpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
)

// DefaultMaxFrameSize bounds a single line read from the worker.
const DefaultMaxFrameSize = 12 * 1024 * 1024

// Frame is one complete JSON document read from the worker's output.
type Frame []byte

// Decode parses the frame as a protocol message.
func (f Frame) Decode() (Message, error) {
	var msg Message
	if err := json.Unmarshal(f, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// FramerOptions configures a Framer.
type FramerOptions struct {
	MaxFrameSize int
	Logger       *slog.Logger
}

// Framer splits a byte stream into newline-delimited JSON documents.
// Reads need not line up with document boundaries; an incomplete tail is
// held until the rest of the line arrives. Lines that are not valid JSON
// are logged and skipped.
type Framer struct {
	reader  *bufio.Reader
	maxSize int
	logger  *slog.Logger
	done    bool
	err     error
}

// NewFramer returns a framer reading from r.
func NewFramer(r io.Reader, opts FramerOptions) *Framer {
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = DefaultMaxFrameSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Framer{
		reader:  bufio.NewReader(r),
		maxSize: opts.MaxFrameSize,
		logger:  opts.Logger,
	}
}

// Next returns the next complete frame. It returns io.EOF once the stream
// is exhausted, or the underlying read error.
func (f *Framer) Next() (Frame, error) {
	for !f.done {
		line, oversized, err := f.readLine()
		if err != nil && !errors.Is(err, io.EOF) {
			f.done = true
			f.err = err
			return nil, err
		}
		atEOF := err != nil
		if atEOF {
			f.done = true
		}

		if oversized {
			f.logger.Warn("rpc.framer.frame_too_large", "limit", f.maxSize)
			continue
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			f.logger.Warn("rpc.framer.invalid_json", "line", truncateForLog(line), "at_eof", atEOF)
			continue
		}
		return Frame(line), nil
	}
	return nil, io.EOF
}

// All yields frames until the stream ends. The terminating error, if any,
// is available from Err after iteration stops.
func (f *Framer) All() iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		for {
			frame, err := f.Next()
			if err != nil {
				return
			}
			if !yield(frame) {
				return
			}
		}
	}
}

// Err returns the read error that ended the stream, or nil on a clean EOF.
func (f *Framer) Err() error {
	return f.err
}

// readLine reads up to and including the next newline. Lines longer than the
// frame limit are consumed and discarded.
func (f *Framer) readLine() ([]byte, bool, error) {
	var (
		buf       []byte
		oversized bool
	)
	for {
		chunk, err := f.reader.ReadSlice('\n')
		if !oversized {
			if len(buf)+len(chunk) > f.maxSize {
				oversized = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return buf, oversized, err
	}
}

func truncateForLog(line []byte) string {
	const max = 256
	if len(line) <= max {
		return string(line)
	}
	return string(line[:max]) + "..."
}

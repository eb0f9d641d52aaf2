package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/taskweave/taskweave/pkg/protocol"
)

// dataPrefix marks payload-bearing records. Lines without it are
// keep-alives or comments and are ignored.
const dataPrefix = "data: "

// Source yields an ordered sequence of envelopes until io.EOF.
type Source interface {
	// Next blocks until the next envelope, io.EOF at normal end of
	// stream, a context error on cancellation, or a read error.
	Next(ctx context.Context) (protocol.Envelope, error)
	Close() error
}

// Stream decodes a newline-delimited, marker-prefixed byte stream into
// envelopes. Records split across arbitrary chunk boundaries are
// reassembled; decode failures on individual lines are dropped
// silently, distinguishing payload noise from transport failures.
type Stream struct {
	rc      io.ReadCloser
	buf     []byte
	scratch []byte
	eof     bool
	logger  zerolog.Logger
	onDrop  func()
}

// NewStream wraps a readable byte stream. onDrop, if non-nil, is
// invoked once per dropped line (malformed payload or unknown kind).
func NewStream(rc io.ReadCloser, logger zerolog.Logger, onDrop func()) *Stream {
	return &Stream{
		rc:      rc,
		scratch: make([]byte, 4096),
		logger:  logger,
		onDrop:  onDrop,
	}
}

// Next returns the next envelope in framing order. Between reads the
// rolling buffer retains at most one partial line.
func (s *Stream) Next(ctx context.Context) (protocol.Envelope, error) {
	for {
		if err := ctx.Err(); err != nil {
			return protocol.Envelope{}, err
		}

		// Drain complete lines already buffered.
		for {
			i := bytes.IndexByte(s.buf, '\n')
			if i < 0 {
				break
			}
			line := s.buf[:i]
			s.buf = s.buf[i+1:]
			if env, ok := s.decodeLine(line); ok {
				return env, nil
			}
		}

		if s.eof {
			// A trailing record without a final newline still counts.
			if len(s.buf) > 0 {
				line := s.buf
				s.buf = nil
				if env, ok := s.decodeLine(line); ok {
					return env, nil
				}
			}
			return protocol.Envelope{}, io.EOF
		}

		n, err := s.rc.Read(s.scratch)
		if n > 0 {
			s.buf = append(s.buf, s.scratch[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.eof = true
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return protocol.Envelope{}, ctxErr
			}
			return protocol.Envelope{}, fmt.Errorf("stream read: %w", err)
		}
	}
}

// Close releases the underlying stream.
func (s *Stream) Close() error {
	return s.rc.Close()
}

// decodeLine parses one complete line. ok is false for lines the
// protocol says to skip: blanks, unmarked keep-alives, malformed
// payloads, unknown kinds.
func (s *Stream) decodeLine(line []byte) (protocol.Envelope, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(bytes.TrimSpace(line)) == 0 {
		return protocol.Envelope{}, false
	}
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return protocol.Envelope{}, false
	}

	env, err := protocol.Decode(line[len(dataPrefix):])
	if err != nil {
		s.logger.Debug().Err(err).Msg("Dropping undecodable stream line")
		if s.onDrop != nil {
			s.onDrop()
		}
		return protocol.Envelope{}, false
	}
	return env, true
}

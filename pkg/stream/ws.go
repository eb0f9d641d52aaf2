package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/taskweave/taskweave/pkg/protocol"
)

// WSClient opens turn streams over a gateway WebSocket. It satisfies
// the same opener contract as the HTTP client, so callers can swap
// transports by configuration.
type WSClient struct {
	// URL is the gateway socket endpoint, e.g. "wss://pm.example.com/api/chat/ws".
	URL    string
	Logger zerolog.Logger
	OnDrop func()
}

// OpenTurn dials the gateway and starts one turn stream.
func (c *WSClient) OpenTurn(ctx context.Context, req TurnRequest) (Source, error) {
	if req.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}
	return DialTurn(ctx, c.URL, req, c.Logger, c.OnDrop)
}

// WSStream consumes a turn over a WebSocket connection: one text
// frame per record, same line format as the HTTP stream. Provided for
// backends that multiplex turns over a gateway socket.
type WSStream struct {
	conn   *websocket.Conn
	done   chan struct{}
	logger zerolog.Logger
	onDrop func()
}

// DialTurn opens a WebSocket turn stream. The request is written as
// the first frame; envelopes arrive one per frame afterwards.
// Cancelling ctx closes the connection, aborting any pending read.
func DialTurn(ctx context.Context, wsURL string, req TurnRequest, logger zerolog.Logger, onDrop func()) (*WSStream, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: err.Error()}
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	open := struct {
		ProjectID string `json:"project_id"`
		Message   string `json:"message"`
	}{ProjectID: req.ProjectID, Message: req.Message}
	if err := conn.WriteJSON(open); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open turn: %w", err)
	}

	s := &WSStream{
		conn:   conn,
		done:   make(chan struct{}),
		logger: logger,
		onDrop: onDrop,
	}

	// ReadMessage does not observe contexts; closing the connection is
	// the documented way to abort a pending read.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-s.done:
		}
	}()

	return s, nil
}

// Next returns the next envelope. Frames that fail to decode are
// dropped, matching the HTTP stream's tolerance for protocol noise.
func (s *WSStream) Next(ctx context.Context) (protocol.Envelope, error) {
	for {
		if err := ctx.Err(); err != nil {
			return protocol.Envelope{}, err
		}

		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return protocol.Envelope{}, ctxErr
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return protocol.Envelope{}, io.EOF
			}
			return protocol.Envelope{}, fmt.Errorf("stream read: %w", err)
		}

		line := bytes.TrimSuffix(frame, []byte("\r"))
		line = bytes.TrimPrefix(line, []byte(dataPrefix))
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		env, err := protocol.Decode(line)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Dropping undecodable websocket frame")
			if s.onDrop != nil {
				s.onDrop()
			}
			continue
		}
		return env, nil
	}
}

// Close closes the connection.
func (s *WSStream) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return s.conn.Close()
}

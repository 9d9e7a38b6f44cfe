package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/phoneagent/internal/audio"
	"github.com/ent0n29/phoneagent/internal/observability"
	"github.com/ent0n29/phoneagent/internal/protocol"
	"github.com/ent0n29/phoneagent/internal/session"
	"github.com/ent0n29/phoneagent/internal/telephony"
	"github.com/ent0n29/phoneagent/internal/voice"
)

const (
	maxStreamMessage  = 64 << 10
	startTimeout      = 10 * time.Second
	streamIdleTimeout = 30 * time.Second
	writeTimeout      = 5 * time.Second
	// frameBuffer holds about a second of inbound audio.
	frameBuffer = 50
)

var errTransportClosed = errors.New("media stream closed")

// handleStream serves one call's bidirectional media stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.opts.NewCall == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "call handling not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxStreamMessage)

	start, err := awaitStart(conn)
	if err != nil {
		s.logger.Warn("media stream closed before start", "error", err)
		closeWithReason(conn, websocket.ClosePolicyViolation, "expected start")
		return
	}
	s.metrics.StreamMessage("inbound", string(protocol.EventStart))

	callStart, err := start.CallStart()
	var format audio.Format
	if err == nil {
		format, err = start.StreamFormat()
	}
	if err != nil {
		s.logger.Warn("invalid stream start", "call_id", start.Start.CallSID, "error", err)
		closeWithReason(conn, websocket.ClosePolicyViolation, "invalid start")
		return
	}

	sess, err := s.registry.Create(callStart.CallID, callStart.Direction, callStart.From, callStart.To)
	if err != nil {
		reason := "duplicate"
		if errors.Is(err, session.ErrCapacityExceeded) {
			reason = "capacity"
		}
		s.metrics.AdmissionRejected(reason)
		s.logger.Warn("call not admitted", "call_id", callStart.CallID, "reason", reason)
		closeWithReason(conn, websocket.CloseTryAgainLater, err.Error())
		return
	}
	callID := sess.ID()
	logger := s.logger.With("call_id", callID)

	transport := newStreamTransport(conn, start.Start.StreamSID, callID, s.opts.Telephony, s.metrics, logger)
	ctrl := s.opts.NewCall(sess, transport, format)
	if !s.track(callID, ctrl) {
		s.registry.Remove(callID)
		s.metrics.AdmissionRejected("draining")
		transport.close(websocket.CloseTryAgainLater, "shutting down")
		return
	}
	defer s.untrack(callID)
	s.metrics.CallStarted()
	logger.Info("media stream started", "direction", callStart.Direction, "codec", format.Codec, "sample_rate", format.SampleRate)

	frames := make(chan audio.Frame, frameBuffer)
	runDone := make(chan struct{})
	var reason string
	go func() {
		defer close(runDone)
		reason = ctrl.Run(s.baseCtx, frames)
		transport.close(websocket.CloseNormalClosure, reason)
	}()

	s.pumpFrames(conn, callID, format.Codec, ctrl, frames, runDone, logger)
	close(frames)
	<-runDone
	logger.Info("media stream finished", "reason", reason)
}

// awaitStart reads until the start message, skipping the connected handshake.
func awaitStart(conn *websocket.Conn) (protocol.Start, error) {
	_ = conn.SetReadDeadline(time.Now().Add(startTimeout))
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return protocol.Start{}, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := protocol.ParseStreamMessage(data)
		if errors.Is(err, protocol.ErrUnsupportedEvent) {
			continue
		}
		if err != nil {
			return protocol.Start{}, err
		}
		switch m := msg.(type) {
		case protocol.Connected:
			continue
		case protocol.Start:
			return m, nil
		default:
			return protocol.Start{}, fmt.Errorf("%w: %T before start", protocol.ErrValidationFailed, msg)
		}
	}
}

// pumpFrames forwards inbound media to the controller until the stream stops, the connection
// drops or the controller finishes.
func (s *Server) pumpFrames(
	conn *websocket.Conn,
	callID string,
	codec audio.Codec,
	ctrl *voice.Controller,
	frames chan<- audio.Frame,
	runDone <-chan struct{},
	logger *slog.Logger,
) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(streamIdleTimeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info("media stream read ended", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := protocol.ParseStreamMessage(data)
		if err != nil {
			s.metrics.StreamMessage("inbound", "invalid")
			logger.Debug("stream message ignored", "error", err)
			continue
		}

		switch m := msg.(type) {
		case protocol.Media:
			s.metrics.StreamMessage("inbound", string(protocol.EventMedia))
			f, err := m.Frame(callID, codec)
			if err != nil {
				s.metrics.DroppedFrame("invalid")
				continue
			}
			select {
			case frames <- f:
			case <-runDone:
				return
			}
		case protocol.Stop:
			s.metrics.StreamMessage("inbound", string(protocol.EventStop))
			ctrl.End(protocol.EndReasonStreamStop)
			return
		case protocol.Mark:
			s.metrics.StreamMessage("inbound", string(protocol.EventMark))
		case protocol.DTMF:
			s.metrics.StreamMessage("inbound", string(protocol.EventDTMF))
			logger.Info("dtmf received", "digit", m.DTMF.Digit)
		default:
			s.metrics.StreamMessage("inbound", "other")
		}
	}
}

func closeWithReason(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// streamTransport is the voice.Transport of a call on a media stream websocket. Call control
// that the stream cannot express goes through the REST client.
type streamTransport struct {
	conn      *websocket.Conn
	streamSID string
	callID    string
	calls     *telephony.Client
	metrics   *observability.Metrics
	logger    *slog.Logger

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

var _ voice.Transport = (*streamTransport)(nil)

func newStreamTransport(
	conn *websocket.Conn,
	streamSID, callID string,
	calls *telephony.Client,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *streamTransport {
	return &streamTransport{
		conn:      conn,
		streamSID: streamSID,
		callID:    callID,
		calls:     calls,
		metrics:   metrics,
		logger:    logger,
	}
}

func (t *streamTransport) SendFrame(f audio.Frame) error {
	return t.write(protocol.EventMedia, protocol.NewMedia(t.streamSID, f))
}

func (t *streamTransport) Clear() error {
	return t.write(protocol.EventClear, protocol.NewClear(t.streamSID))
}

func (t *streamTransport) Mark(name string) error {
	return t.write(protocol.EventMark, protocol.NewMark(t.streamSID, name))
}

// Hangup completes the call over REST. Without REST credentials, closing the stream ends the
// call because nothing follows the stream in the call's instructions.
func (t *streamTransport) Hangup(ctx context.Context) error {
	err := t.calls.Hangup(ctx, t.callID)
	if err == nil {
		return nil
	}
	t.close(websocket.CloseNormalClosure, "hangup")
	if errors.Is(err, telephony.ErrNotConfigured) {
		return nil
	}
	return err
}

func (t *streamTransport) Transfer(ctx context.Context, number string) error {
	return t.calls.Transfer(ctx, t.callID, number)
}

func (t *streamTransport) write(event protocol.EventType, v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTransportClosed
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := t.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	t.metrics.StreamMessage("outbound", string(event))
	return nil
}

func (t *streamTransport) close(code int, text string) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		closeWithReason(t.conn, code, text)
		if err := t.conn.Close(); err != nil {
			t.logger.Debug("media stream close", "error", err)
		}
	})
}

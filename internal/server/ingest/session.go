package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"slashbin/internal/server/metrics"
	"slashbin/internal/server/ratelimit"
	"slashbin/internal/server/storage"
)

// End-of-transmission markers an interactive client can send to finish a
// paste without waiting for the inactivity timeout.
const (
	EOT byte = 0x04
	SUB byte = 0x1a
)

const readChunkSize = 32 * 1024

// drainTimeout bounds how long a rejected client may keep sending after its
// error reply before the connection is closed.
const drainTimeout = 2 * time.Second

// State is the position of a connection in the paste protocol.
type State int32

const (
	StateAwaitingFirstByte State = iota
	StateAccumulating
	StateFinalizing
	StateDone
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateAwaitingFirstByte:
		return "awaiting_first_byte"
	case StateAccumulating:
		return "accumulating"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateRejected:
		return "rejected"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Outcome is how a connection ended. It labels the paste_sessions metric.
type Outcome string

const (
	OutcomeCreated      Outcome = "created"
	OutcomeRateLimited  Outcome = "rate_limited"
	OutcomeTooLarge     Outcome = "too_large"
	OutcomeFailed       Outcome = "failed"
	OutcomeEmpty        Outcome = "empty"
	OutcomeIdle         Outcome = "idle"
	OutcomeDisconnected Outcome = "disconnected"
	OutcomeShutdown     Outcome = "shutdown"
)

// session is the per-connection state machine. Only run's goroutine touches
// buf before finalize; finalize itself may be entered from anywhere and runs
// at most once.
type session struct {
	srv  *Server
	conn net.Conn
	log  *slog.Logger

	state     atomic.Int32
	finalized atomic.Bool
	buf       bytes.Buffer
}

func newSession(srv *Server, conn net.Conn) *session {
	host := remoteHost(conn.RemoteAddr())
	return &session{
		srv:  srv,
		conn: conn,
		log:  slog.With("conn_id", uuid.NewString(), "ip", host),
	}
}

func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) setState(st State) {
	s.state.Store(int32(st))
}

type readResult struct {
	chunk []byte
	err   error
}

func (s *session) run(ctx context.Context) Outcome {
	outcome := s.serve(ctx)
	metrics.PasteSessions.WithLabelValues(string(outcome)).Inc()
	s.log.Info("paste connection closed", "outcome", outcome, "state", s.State(), "bytes", s.buf.Len())
	return outcome
}

func (s *session) serve(ctx context.Context) Outcome {
	cfg := s.srv.cfg
	host := remoteHost(s.conn.RemoteAddr())
	s.log.Debug("paste connection opened")

	if !s.srv.limiter.Admit(ctx, host) {
		s.setState(StateRejected)
		metrics.AdmissionsDenied.WithLabelValues(metrics.ChannelSocket).Inc()
		s.log.Warn("paste rejected", "error", ratelimit.ErrAdmissionDenied)
		s.reply(MsgRateLimited)
		s.hangUp(nil)
		return OutcomeRateLimited
	}

	done := make(chan struct{})
	defer close(done)
	reads := make(chan readResult)
	go s.readLoop(reads, done)

	var firstByte <-chan time.Time
	if cfg.FirstByteTimeout > 0 {
		t := time.NewTimer(cfg.FirstByteTimeout)
		defer t.Stop()
		firstByte = t.C
	}

	// The idle timer is armed on the first chunk and reset on every chunk.
	idle := time.NewTimer(cfg.Inactivity)
	idle.Stop()
	defer idle.Stop()
	var idleC <-chan time.Time

	for {
		select {
		case r := <-reads:
			if r.err != nil {
				if !errors.Is(r.err, io.EOF) {
					s.log.Debug("paste connection dropped", "error", r.err)
					return OutcomeDisconnected
				}
				if s.buf.Len() == 0 {
					return OutcomeEmpty
				}
				// Client closed its write side; the paste is complete.
				return s.finalize(ctx)
			}

			if s.State() == StateAwaitingFirstByte {
				s.setState(StateAccumulating)
				firstByte = nil
			}

			chunk, marked := cutAtMarker(r.chunk)
			if int64(s.buf.Len())+int64(len(chunk)) > cfg.SizeCap {
				return s.reject(reads)
			}
			s.buf.Write(chunk)

			if marked {
				if s.buf.Len() == 0 {
					return OutcomeEmpty
				}
				return s.finalize(ctx)
			}
			idle.Reset(cfg.Inactivity)
			idleC = idle.C

		case <-idleC:
			if s.buf.Len() > 0 {
				return s.finalize(ctx)
			}

		case <-firstByte:
			s.log.Debug("no data before first-byte timeout")
			return OutcomeIdle

		case <-ctx.Done():
			return OutcomeShutdown
		}
	}
}

// readLoop feeds chunks to run in arrival order. It exits after the first
// read error or once done is closed and the connection is closed.
func (s *session) readLoop(out chan<- readResult, done <-chan struct{}) {
	for {
		buf := make([]byte, readChunkSize)
		n, err := s.conn.Read(buf)
		if n > 0 {
			select {
			case out <- readResult{chunk: buf[:n]}:
			case <-done:
				return
			}
		}
		if err != nil {
			select {
			case out <- readResult{err: err}:
			case <-done:
			}
			return
		}
	}
}

// reject discards the buffer and tells the client the paste was too large.
// reads is the still running readLoop feed, drained by hangUp.
func (s *session) reject(reads <-chan readResult) Outcome {
	s.setState(StateRejected)
	s.log.Warn("paste rejected",
		"error", storage.ErrSizeLimitExceeded,
		"cap", s.srv.cfg.SizeCap,
	)
	s.buf.Reset()
	s.reply(MsgTooLarge)
	s.hangUp(reads)
	return OutcomeTooLarge
}

// hangUp half-closes a TCP connection after an error reply and discards
// what the client is still sending, up to SizeCap bytes or drainTimeout.
// Closing with unread input makes the kernel send a reset, which can
// destroy the reply before the client reads it. With reads nil the
// connection is read directly; otherwise readLoop owns it.
func (s *session) hangUp(reads <-chan readResult) {
	hc, ok := s.conn.(interface{ CloseWrite() error })
	if !ok || hc.CloseWrite() != nil {
		return
	}
	s.conn.SetReadDeadline(time.Now().Add(drainTimeout))

	limit := s.srv.cfg.SizeCap
	if reads == nil {
		n, _ := io.Copy(io.Discard, io.LimitReader(s.conn, limit))
		s.log.Debug("drained rejected connection", "bytes", n)
		return
	}
	var n int64
	for n < limit {
		r := <-reads
		if r.err != nil {
			break
		}
		n += int64(len(r.chunk))
	}
	s.log.Debug("drained rejected connection", "bytes", n)
}

// finalize stores the buffered paste and writes the reply. Only the first
// call does anything.
func (s *session) finalize(ctx context.Context) Outcome {
	if !s.finalized.CompareAndSwap(false, true) {
		return OutcomeCreated
	}
	s.setState(StateFinalizing)
	defer s.setState(StateDone)

	clean := StripANSI(s.buf.Bytes())

	// A paste that is already complete is stored even if shutdown has begun.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.srv.cfg.CreateTimeout)
	defer cancel()

	res, err := s.srv.creator.CreateObject(cctx, metrics.ChannelSocket, bytes.NewReader(clean), PasteFilename, s.srv.cfg.TTLDays)
	if err != nil {
		s.log.Error("failed to store paste", "error", err, "bytes", len(clean))
		if errors.Is(err, storage.ErrSizeLimitExceeded) {
			s.reply(MsgTooLarge)
		} else {
			s.reply(MsgServerError)
		}
		return OutcomeFailed
	}

	s.log.Info("paste stored", "id", res.ID, "bytes", len(clean))
	s.reply(fmt.Sprintf("%s (%s)\n", res.URL, res.ExpiryNotice()))
	return OutcomeCreated
}

func (s *session) reply(msg string) {
	s.conn.SetWriteDeadline(time.Now().Add(s.srv.cfg.WriteTimeout))
	if _, err := io.WriteString(s.conn, msg); err != nil {
		s.log.Debug("failed to write reply", "error", err)
	}
}

// cutAtMarker returns chunk up to the first EOT or SUB byte, and whether one
// was found. The marker itself is not part of the paste.
func cutAtMarker(chunk []byte) ([]byte, bool) {
	if i := bytes.IndexAny(chunk, string([]byte{EOT, SUB})); i >= 0 {
		return chunk[:i], true
	}
	return chunk, false
}

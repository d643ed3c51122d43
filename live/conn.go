package live

import (
	"context"
	"errors"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/justapithecus/livefeed/dbn"
	"github.com/justapithecus/livefeed/lserr"
)

// aLongTimeAgo is a read deadline that unblocks a pending Read immediately.
var aLongTimeAgo = time.Unix(1, 0)

// errIdle reports that a read ended at the heartbeat deadline without data.
var errIdle = errors.New("read idle until heartbeat deadline")

// errClosed reports that the connection was closed by Close.
var errClosed = errors.New("session closed")

// minReadWindow is the shortest read deadline armed by fill, so bytes
// already queued on the socket are read before a connection is judged stale.
const minReadWindow = 10 * time.Millisecond

// errNoConn reports an operation on a dropped connection.
var errNoConn = errors.New("no connection")

func errSessionClosed(op string) error {
	return lserr.Usage(op, "session is closed")
}

// watch arms the read deadline for one read and interrupts the read when ctx
// is done. The returned stop function must be called once the read returns;
// it reports whether ctx interrupted the read.
func (s *Session) watch(ctx context.Context, deadline time.Time) func() bool {
	conn := s.conn
	_ = conn.SetReadDeadline(deadline)
	if ctx.Done() == nil {
		return func() bool { return false }
	}

	var interrupted atomic.Bool
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			interrupted.Store(true)
			_ = conn.SetReadDeadline(aLongTimeAgo)
		case <-done:
		}
	}()
	return func() bool {
		close(done)
		<-exited
		return interrupted.Load()
	}
}

// fill performs one read into the frame buffer. Bytes read before a
// cancellation stay in the buffer. It returns errIdle when the heartbeat
// deadline passes, io.EOF at end of stream and errClosed after Close.
func (s *Session) fill(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.conn == nil {
		return lserr.Transport("read", errNoConn)
	}

	deadline := s.hb.Deadline()
	if floor := time.Now().Add(minReadWindow); deadline.Before(floor) {
		deadline = floor
	}
	fromCtx := false
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline, fromCtx = d, true
	}

	stop := s.watch(ctx, deadline)
	n, err := s.buf.Fill(s.conn)
	interrupted := stop()
	s.metrics.AddBytesRead(n)
	if n > 0 {
		s.hb.Touch(time.Now())
	}

	if err == nil {
		return nil
	}
	if s.State() == StateClosed {
		return errClosed
	}
	if interrupted || ctx.Err() != nil {
		return ctx.Err()
	}
	var fe *dbn.FrameError
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded) && fromCtx:
		return context.DeadlineExceeded
	case errors.Is(err, os.ErrDeadlineExceeded):
		return errIdle
	case errors.Is(err, io.EOF):
		return io.EOF
	case errors.As(err, &fe):
		return lserr.Protocol("read", "", err)
	default:
		return lserr.Transport("read", err)
	}
}

// fillControl fills the buffer while a control message or the metadata
// preamble is expected, where silence and EOF are both failures.
func (s *Session) fillControl(ctx context.Context, op string) error {
	err := s.fill(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errIdle):
		return lserr.Stale(s.hb.Silence(time.Now()))
	case errors.Is(err, io.EOF):
		return lserr.Transport(op, io.ErrUnexpectedEOF)
	case errors.Is(err, errClosed):
		return errSessionClosed(op)
	default:
		return err
	}
}

// write sends p, bounded by ctx's deadline.
func (s *Session) write(ctx context.Context, op string, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.conn == nil {
		return lserr.Transport(op, errNoConn)
	}
	deadline, _ := ctx.Deadline()
	_ = s.conn.SetWriteDeadline(deadline)
	if _, err := s.conn.Write(p); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.State() == StateClosed {
			return errSessionClosed(op)
		}
		return lserr.Transport(op, err)
	}
	return nil
}

// readLine returns the next control line from the frame buffer, so bytes
// that follow it on the wire are kept for the record stream.
func (s *Session) readLine(ctx context.Context) (string, error) {
	for {
		line, err := s.buf.NextLine()
		if err == nil {
			return string(line), nil
		}
		if !errors.Is(err, dbn.ErrIncomplete) {
			return "", lserr.Protocol("read_line", "", err)
		}
		if err := s.fillControl(ctx, "read_line"); err != nil {
			return "", err
		}
	}
}

// readMetadata decodes the stream preamble and configures the decoder.
func (s *Session) readMetadata(ctx context.Context) (*dbn.Metadata, error) {
	for {
		frame, err := s.buf.NextMetadata()
		if err == nil {
			meta, err := dbn.DecodeMetadata(frame)
			if err != nil {
				s.metrics.IncDecodeError()
				return nil, lserr.Protocol("read_metadata", "", err)
			}
			if err := s.dec.SetMetadata(meta); err != nil {
				s.metrics.IncDecodeError()
				return nil, lserr.Protocol("read_metadata", "", err)
			}
			meta.Upgrade(s.cfg.UpgradePolicy)
			return meta, nil
		}
		if !errors.Is(err, dbn.ErrIncomplete) {
			s.metrics.IncDecodeError()
			return nil, lserr.Protocol("read_metadata", "", err)
		}
		if err := s.fillControl(ctx, "read_metadata"); err != nil {
			return nil, err
		}
	}
}

// controlConn exposes the session's control channel to the handshake.
type controlConn struct {
	s *Session
}

func (c controlConn) ReadLine(ctx context.Context) (string, error) {
	return c.s.readLine(ctx)
}

func (c controlConn) WriteLine(ctx context.Context, line string) error {
	return c.s.write(ctx, "write_control", []byte(line+"\n"))
}

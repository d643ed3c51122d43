// Package gatewaytest provides a scripted live gateway over loopback TCP
// for tests.
//
// Each accepted connection runs the next handler passed to NewServer;
// connections beyond the scripted ones are closed immediately. Handlers run
// on their own goroutines and report failures with t.Errorf.
package gatewaytest

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/livefeed/auth"
	"github.com/justapithecus/livefeed/dbn"
	"github.com/justapithecus/livefeed/types"
)

// Script defaults.
const (
	Greeting  = "lsg-test"
	Challenge = "t7kNhwj4xqR0QYjzFKtBEG2ec2pXJ4FK"
	// IOTimeout bounds every read and write a handler performs.
	IOTimeout = 5 * time.Second
)

// Handler scripts one gateway connection.
type Handler func(c *Conn)

// Server is a scripted gateway listening on a loopback port.
type Server struct {
	t  testing.TB
	ln net.Listener

	mu       sync.Mutex
	handlers []Handler
	conns    []*Conn
	accepted int
	closed   bool

	wg sync.WaitGroup
}

// NewServer starts a gateway that serves handlers in connection order.
// The server is closed by t.Cleanup.
func NewServer(t testing.TB, handlers ...Handler) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("gatewaytest: listen failed: %v", err)
	}
	s := &Server{t: t, ln: ln, handlers: handlers}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Close stops the listener, closes every connection and waits for handlers.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := append([]*Conn(nil), s.conns...)
	s.mu.Unlock()

	_ = s.ln.Close()
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return
		}
		if tcp, ok := nc.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}

		s.mu.Lock()
		index := s.accepted
		s.accepted++
		var h Handler
		if index < len(s.handlers) {
			h = s.handlers[index]
		}
		c := &Conn{t: s.t, srv: s, conn: nc, r: bufio.NewReader(nc), Index: index}
		s.conns = append(s.conns, c)
		s.mu.Unlock()

		if h == nil {
			c.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			h(c)
		}()
	}
}

// Conn is one scripted gateway connection.
type Conn struct {
	t    testing.TB
	srv  *Server
	conn net.Conn
	r    *bufio.Reader

	// Index is the connection's position in accept order, from 0.
	Index int

	mu     sync.Mutex
	failed bool
}

// SessionID returns the session id the connection assigns on success.
func (c *Conn) SessionID() string {
	return fmt.Sprint(5 + c.Index)
}

func (c *Conn) errorf(format string, args ...any) {
	if c.srv.isClosed() {
		return
	}
	c.mu.Lock()
	c.failed = true
	c.mu.Unlock()
	c.t.Errorf("gatewaytest: conn %d: "+format, append([]any{c.Index}, args...)...)
}

// Send writes p unchanged.
func (c *Conn) Send(p []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(IOTimeout))
	if _, err := c.conn.Write(p); err != nil {
		c.errorf("write failed: %v", err)
		return false
	}
	return true
}

// SendLine writes line followed by a newline.
func (c *Conn) SendLine(line string) bool {
	return c.Send([]byte(line + "\n"))
}

// ReadLine reads one client line without its newline.
func (c *Conn) ReadLine() (string, bool) {
	_ = c.conn.SetReadDeadline(time.Now().Add(IOTimeout))
	line, err := c.r.ReadString('\n')
	if err != nil {
		c.errorf("read line failed: %v", err)
		return "", false
	}
	return strings.TrimSuffix(line, "\n"), true
}

// Authenticate runs the challenge exchange, checks the client's response
// against key and accepts the session. It returns the client's request fields.
func (c *Conn) Authenticate(key string) map[string]string {
	fields, ok := c.challenge()
	if !ok {
		return nil
	}
	sum := sha256.Sum256([]byte(Challenge + "|" + key))
	want := hex.EncodeToString(sum[:]) + "-" + key[len(key)-auth.BucketIDLength:]
	if fields["auth"] != want {
		c.errorf("auth response = %q, want %q", fields["auth"], want)
	}
	c.SendLine("success=1|session_id=" + c.SessionID())
	return fields
}

// Reject runs the challenge exchange and refuses the session with reason.
func (c *Conn) Reject(reason string) {
	if _, ok := c.challenge(); !ok {
		return
	}
	c.SendLine("success=0|error=" + reason)
}

func (c *Conn) challenge() (map[string]string, bool) {
	if !c.SendLine(Greeting) || !c.SendLine("cram="+Challenge) {
		return nil, false
	}
	line, ok := c.ReadLine()
	if !ok {
		return nil, false
	}
	if !strings.HasPrefix(line, "auth=") {
		c.errorf("expected auth request, got %q", line)
		return nil, false
	}
	return auth.ParseFields(line), true
}

// ExpectSubscribe reads one subscription line and returns its fields.
func (c *Conn) ExpectSubscribe() map[string]string {
	line, ok := c.ReadLine()
	if !ok {
		return nil
	}
	if line == "start_session" || !strings.Contains(line, "symbols=") {
		c.errorf("expected subscription, got %q", line)
		return nil
	}
	return auth.ParseFields(line)
}

// ExpectStart reads the start request.
func (c *Conn) ExpectStart() bool {
	line, ok := c.ReadLine()
	if !ok {
		return false
	}
	if line != "start_session" {
		c.errorf("expected start_session, got %q", line)
		return false
	}
	return true
}

// SendMetadata writes the stream metadata preamble.
func (c *Conn) SendMetadata(m *dbn.Metadata) bool {
	frame, err := dbn.EncodeMetadata(m)
	if err != nil {
		c.errorf("encode metadata failed: %v", err)
		return false
	}
	return c.Send(frame)
}

// SendRecord writes an encoded record in two halves with a pause between
// them so the client sees a partial frame.
func (c *Conn) SendRecord(raw []byte) bool {
	half := len(raw) / 2
	if !c.Send(raw[:half]) {
		return false
	}
	time.Sleep(time.Millisecond)
	return c.Send(raw[half:])
}

// SendMessage encodes m at version and sends it with SendRecord.
func (c *Conn) SendMessage(m dbn.Message, version uint8) bool {
	raw, err := dbn.Encode(m, version)
	if err != nil {
		c.errorf("encode %T failed: %v", m, err)
		return false
	}
	return c.SendRecord(raw)
}

// WaitClosed blocks until the client closes the connection or the timeout
// elapses. Bytes sent by the client meanwhile are discarded.
func (c *Conn) WaitClosed(timeout time.Duration) bool {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, err := io.Copy(io.Discard, c.r)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		c.errorf("client did not close within %s", timeout)
		return false
	}
	return true
}

// Hold blocks until the client closes the connection or the server closes,
// sending nothing.
func (c *Conn) Hold() {
	_, _ = io.Copy(io.Discard, c.r)
}

// Close closes the connection.
func (c *Conn) Close() {
	_ = c.conn.Close()
}

// Failed reports whether a scripted step failed.
func (c *Conn) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

// Metadata returns stream metadata for dataset at version 2.
func Metadata(dataset string) *dbn.Metadata {
	return &dbn.Metadata{
		Version:  dbn.CurrentVersion,
		Dataset:  dataset,
		Start:    uint64(time.Now().UnixNano()),
		End:      dbn.UndefTimestamp,
		STypeOut: types.STypeInstrumentID,
	}
}

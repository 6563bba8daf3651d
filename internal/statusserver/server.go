// Package statusserver answers one dashboard or pump request per control-loop tick.
//
// Routing is deliberately crude: a request whose raw bytes contain PumpMarker triggers the
// pump and is redirected to /, anything else (malformed requests included) gets the
// dashboard.
package statusserver

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"furitingoasis/growbox/internal/logger"
)

// PumpMarker is the request fragment that triggers a manual pump run.
const PumpMarker = "GET /?pump=1"

const maxRequestBytes = 1024

// Handler performs the work behind the two responses.
type Handler interface {
	RunPumpManual() error
	RenderDashboard() ([]byte, error)
}

// Options bound the time spent on one tick.
type Options struct {
	// AcceptTimeout is how long ServeOnce waits for a client.
	AcceptTimeout time.Duration
	// ReadTimeout bounds reading the request and writing the response.
	ReadTimeout time.Duration
}

// DefaultOptions waits five seconds for a client.
func DefaultOptions() Options {
	return Options{AcceptTimeout: 5 * time.Second, ReadTimeout: 2 * time.Second}
}

type deadliner interface {
	SetDeadline(time.Time) error
}

// Server wraps a listening socket.
type Server struct {
	ln      net.Listener
	handler Handler
	opts    Options
	log     *logger.Logger
}

// Listen opens a TCP listener on addr.
func Listen(addr string, h Handler, opts Options, log *logger.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	return New(ln, h, opts, log), nil
}

// New serves on an existing listener.
func New(ln net.Listener, h Handler, opts Options, log *logger.Logger) *Server {
	return &Server{ln: ln, handler: h, opts: opts, log: log}
}

// Addr is the listening address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Close releases the listening socket.
func (s *Server) Close() error {
	return s.ln.Close()
}

// ServeOnce waits for at most one client and answers it. The wait ends after AcceptTimeout
// or at limit, whichever comes first; a zero limit is ignored. Timing out is not an error.
// Failures while handling the connection are logged and swallowed; only listener failures
// are returned.
func (s *Server) ServeOnce(limit time.Time) error {
	deadline := time.Now().Add(s.opts.AcceptTimeout)
	if !limit.IsZero() && limit.Before(deadline) {
		deadline = limit
	}
	if d, ok := s.ln.(deadliner); ok {
		if err := d.SetDeadline(deadline); err != nil {
			return fmt.Errorf("setting accept deadline: %w", err)
		}
	}

	conn, err := s.ln.Accept()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil
		}
		return fmt.Errorf("accept: %w", err)
	}

	if err := s.handle(conn); err != nil {
		s.log.Warnw("client error", "remote", conn.RemoteAddr().String(), "err", err)
	}
	return nil
}

func (s *Server) handle(conn net.Conn) (err error) {
	defer func() {
		if cerr := conn.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing connection: %w", cerr)
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic handling request: %v", p)
		}
	}()

	s.log.Infow("client connected", "remote", conn.RemoteAddr().String())
	if s.opts.ReadTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(s.opts.ReadTimeout)); err != nil {
			return fmt.Errorf("setting connection deadline: %w", err)
		}
	}

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if n == 0 {
		if err == nil {
			err = errors.New("empty request")
		}
		return fmt.Errorf("reading request: %w", err)
	}
	req := buf[:n]
	s.log.Infow("request", "line", requestLine(req))

	if bytes.Contains(req, []byte(PumpMarker)) {
		if err := s.handler.RunPumpManual(); err != nil {
			s.log.Errorw("manual pump run failed", "err", err)
		}
		return write(conn, redirectResponse())
	}

	body, err := s.handler.RenderDashboard()
	if err != nil {
		werr := write(conn, errorResponse())
		return errors.Join(err, werr)
	}
	return write(conn, okResponse(body))
}

func requestLine(req []byte) string {
	if i := bytes.Index(req, []byte("\r\n")); i >= 0 {
		req = req[:i]
	}
	return string(req)
}

func redirectResponse() []byte {
	return []byte("HTTP/1.1 302 Found\r\nLocation: /\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
}

func okResponse(body []byte) []byte {
	var b bytes.Buffer
	b.WriteString("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nContent-Length: ")
	b.WriteString(strconv.Itoa(len(body)))
	b.WriteString("\r\nConnection: close\r\n\r\n")
	b.Write(body)
	return b.Bytes()
}

func errorResponse() []byte {
	const body = "dashboard unavailable\n"
	return []byte("HTTP/1.1 500 Internal Server Error\r\nContent-Type: text/plain\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\nConnection: close\r\n\r\n" + body)
}

func write(conn net.Conn, resp []byte) error {
	if _, err := conn.Write(resp); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	return nil
}

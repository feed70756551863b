package testutil

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/0xReLogic/logprobe/internal/codec"
)

// Received is one message read by the sink: everything a client wrote on a
// single connection before closing it.
type Received struct {
	Severity string
	Text     string
	Raw      []byte
	Remote   string
	At       time.Time
	Valid    bool
}

// Sink is a minimal logging server: it reads every connection to EOF and
// splits the payload on the first delimiter.
type Sink struct {
	// OnMessage, if set, is called for every received message.
	OnMessage   func(Received)
	ReadTimeout time.Duration

	listener net.Listener
	mu       sync.Mutex
	messages []Received
	conns    int
	changed  chan struct{}
	wg       sync.WaitGroup
}

// NewSink listens on addr ("127.0.0.1:0" picks a free port).
func NewSink(addr string) (*Sink, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Sink{
		ReadTimeout: 5 * time.Second,
		listener:    ln,
		changed:     make(chan struct{}),
	}, nil
}

// Addr returns the listening address.
func (s *Sink) Addr() net.Addr { return s.listener.Addr() }

// Start accepts connections in the background.
func (s *Sink) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.Serve()
	}()
}

// Serve accepts connections until the sink is closed.
func (s *Sink) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Sink) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	s.mu.Lock()
	s.conns++
	s.mu.Unlock()

	if s.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
	}
	data, err := io.ReadAll(conn)
	if err != nil && len(data) == 0 {
		return
	}

	label, text, ok := codec.Decode(data)
	msg := Received{
		Severity: label,
		Text:     text,
		Raw:      data,
		Remote:   conn.RemoteAddr().String(),
		At:       time.Now(),
		Valid:    ok && codec.Severity(label).Valid(),
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	if s.OnMessage != nil {
		s.OnMessage(msg)
	}
}

// Messages returns a copy of everything received so far, in arrival order.
func (s *Sink) Messages() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Received(nil), s.messages...)
}

// Connections returns how many connections were accepted.
func (s *Sink) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

// WaitFor blocks until at least n messages arrived or timeout elapses.
func (s *Sink) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		s.mu.Lock()
		got, changed := len(s.messages), s.changed
		s.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-changed:
		case <-deadline.C:
			return false
		}
	}
}

// Close stops accepting and waits for in-flight connections.
func (s *Sink) Close() error {
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

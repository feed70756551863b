package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/0xReLogic/logprobe/internal/codec"
	"github.com/0xReLogic/logprobe/internal/logging"
	"github.com/0xReLogic/logprobe/internal/tracing"
)

var (
	// ErrConnect marks failures to establish the transport connection.
	ErrConnect = errors.New("connect failed")
	// ErrWrite marks failures writing the payload on an open connection.
	ErrWrite = errors.New("write failed")
)

// DefaultTimeout bounds connect plus write for one attempt.
const DefaultTimeout = 5 * time.Second

// Dialer opens stream connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Outcome is the result of one send attempt.
type Outcome struct {
	Endpoint Endpoint
	Severity string
	Text     string
	Written  int
	Latency  time.Duration
	Err      error
}

// OK reports whether the message was written.
func (o Outcome) OK() bool { return o.Err == nil }

// String renders the outcome as one human-readable line.
func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("Error occurred while sending message to %s: %v", o.Endpoint.Host(), o.Err)
	}
	return fmt.Sprintf("Log message successfully sent: %s; %s", o.Severity, o.Text)
}

// Reporter receives every outcome as soon as it is known.
type Reporter func(Outcome)

// Engine delivers messages, one fresh connection per message.
type Engine struct {
	dialer  Dialer
	timeout time.Duration
	report  Reporter
}

// Option configures an Engine.
type Option func(*Engine)

// WithDialer replaces the transport used to open connections.
func WithDialer(d Dialer) Option {
	return func(e *Engine) { e.dialer = d }
}

// WithTimeout bounds each attempt. Zero or negative disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithReporter installs the outcome callback.
func WithReporter(r Reporter) Option {
	return func(e *Engine) { e.report = r }
}

// New creates an Engine using a plain TCP dialer and DefaultTimeout unless
// overridden.
func New(opts ...Option) *Engine {
	e := &Engine{
		dialer:  &net.Dialer{},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.report == nil {
		e.report = func(Outcome) {}
	}
	return e
}

// SendOne validates severity, opens a connection to ep, writes one encoded
// message and closes the connection. An invalid severity fails without any
// network I/O. A short write counts as the bytes actually written.
func (e *Engine) SendOne(ctx context.Context, ep Endpoint, severity, text string) Outcome {
	out := Outcome{Endpoint: ep, Severity: severity, Text: text}

	sev, err := codec.ParseSeverity(severity)
	if err != nil {
		out.Err = err
		sendsTotal.WithLabelValues(resultInvalid, resultInvalid).Inc()
		e.report(out)
		return out
	}
	out.Severity = sev.String()

	ctx, span := tracing.StartSpan(ctx, "log.send",
		attribute.String("net.peer.name", ep.Host()),
		attribute.Int("net.peer.port", ep.Port()),
		attribute.String("log.severity", out.Severity),
	)
	defer span.End()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	out.Written, out.Err = e.deliver(ctx, ep, codec.Encode(sev, text))
	out.Latency = time.Since(start)

	result := resultSuccess
	switch {
	case errors.Is(out.Err, ErrConnect):
		result = resultDialError
	case out.Err != nil:
		result = resultWriteError
	}
	sendsTotal.WithLabelValues(out.Severity, result).Inc()
	sendLatency.WithLabelValues(result).Observe(out.Latency.Seconds())

	span.SetAttributes(attribute.Int("log.bytes_written", out.Written))
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, result)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	logging.LogSend(ctx, ep.Address(), out.Severity, out.Written, out.Latency, out.Err)
	e.report(out)
	return out
}

func (e *Engine) deliver(ctx context.Context, ep Endpoint, payload []byte) (int, error) {
	conn, err := e.dialer.DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	connectionsOpened.Inc()
	defer func() {
		_ = conn.Close()
		connectionsClosed.Inc()
	}()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrWrite, err)
		}
	}

	n, err := conn.Write(payload)
	bytesWritten.Add(float64(n))
	if err != nil {
		return n, fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return n, nil
}

package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/0xReLogic/logprobe/internal/codec"
	"github.com/0xReLogic/logprobe/internal/logging"
)

const (
	// DefaultAbuseCount is the burst size when the caller supplies none.
	DefaultAbuseCount = 50
	// SweepPerLevel is the number of messages sent per severity in a sweep.
	SweepPerLevel     = 3

	DefaultSweepInterval = 500 * time.Millisecond
	DefaultAbuseInterval = 5 * time.Millisecond

	AbuseText = "This is an abuse testing"
)

// ErrInvalidCount is returned for a negative message count.
var ErrInvalidCount = errors.New("invalid message count")

// Pacer blocks between two consecutive sends. It must return early with
// ctx.Err() when ctx is done.
type Pacer interface {
	Pause(ctx context.Context) error
}

// PacerFunc adapts a function to Pacer.
type PacerFunc func(ctx context.Context) error

func (f PacerFunc) Pause(ctx context.Context) error { return f(ctx) }

// FixedDelay is a blind sleep of the given length. Zero does not sleep.
type FixedDelay time.Duration

func (d FixedDelay) Pause(ctx context.Context) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(d))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Chain runs pacers in order, stopping at the first error.
func Chain(pacers ...Pacer) Pacer {
	return PacerFunc(func(ctx context.Context) error {
		for _, p := range pacers {
			if p == nil {
				continue
			}
			if err := p.Pause(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Message is one (severity, text) pair produced by a Plan.
type Message struct {
	Severity string
	Text     string
}

// Plan describes a repeated send: Count messages produced by Next, with
// Pacer run between consecutive sends.
type Plan struct {
	Name  string
	Count int
	Pacer Pacer
	Next  func(i int) Message
}

// Summary aggregates the outcomes of one mode run.
type Summary struct {
	Attempts  int
	Succeeded int
	Failed    int
	Elapsed   time.Duration
}

// Repeat executes plan against ep. A failed send is counted and the loop
// moves on; only cancellation of ctx stops it early, in which case the
// context error is returned alongside the partial summary.
func (e *Engine) Repeat(ctx context.Context, ep Endpoint, plan Plan) (Summary, error) {
	var sum Summary
	if plan.Count < 0 {
		return sum, fmt.Errorf("%w: %d", ErrInvalidCount, plan.Count)
	}
	if plan.Next == nil {
		return sum, errors.New("plan has no message generator")
	}

	logging.LogModeStart(plan.Name, ep.Address(), plan.Count)
	start := time.Now()
	var err error
	for i := 0; i < plan.Count; i++ {
		if i > 0 && plan.Pacer != nil {
			if err = plan.Pacer.Pause(ctx); err != nil {
				break
			}
		}
		if err = ctx.Err(); err != nil {
			break
		}
		msg := plan.Next(i)
		out := e.SendOne(ctx, ep, msg.Severity, msg.Text)
		sum.Attempts++
		if out.OK() {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
	}
	sum.Elapsed = time.Since(start)
	logging.LogModeDone(plan.Name, sum.Attempts, sum.Failed, sum.Elapsed, err)
	return sum, err
}

// Manual sends a single message and returns its outcome.
func (e *Engine) Manual(ctx context.Context, ep Endpoint, severity, text string) Outcome {
	return e.SendOne(ctx, ep, severity, text)
}

// SweepPlan sends perLevel messages for each severity in order.
func SweepPlan(perLevel int, pacer Pacer) Plan {
	levels := codec.Severities()
	return Plan{
		Name:  "automated",
		Count: perLevel * len(levels),
		Pacer: pacer,
		Next: func(i int) Message {
			sev := levels[i/perLevel]
			return Message{
				Severity: sev.String(),
				Text:     fmt.Sprintf("%s testing message #%d", sev, i%perLevel),
			}
		},
	}
}

// AbusePlan sends count fixed ERROR messages.
func AbusePlan(count int, pacer Pacer) Plan {
	return Plan{
		Name:  "abuse",
		Count: count,
		Pacer: pacer,
		Next: func(int) Message {
			return Message{Severity: codec.Error.String(), Text: AbuseText}
		},
	}
}

// AutomatedSweep sends SweepPerLevel messages for every severity. A nil
// pacer means DefaultSweepInterval.
func (e *Engine) AutomatedSweep(ctx context.Context, ep Endpoint, pacer Pacer) (Summary, error) {
	return e.Sweep(ctx, ep, SweepPerLevel, pacer)
}

// Sweep is AutomatedSweep with a custom number of messages per severity.
func (e *Engine) Sweep(ctx context.Context, ep Endpoint, perLevel int, pacer Pacer) (Summary, error) {
	if pacer == nil {
		pacer = FixedDelay(DefaultSweepInterval)
	}
	return e.Repeat(ctx, ep, SweepPlan(perLevel, pacer))
}

// AbuseBurst opens count short-lived connections, one message each. A nil
// pacer means DefaultAbuseInterval.
func (e *Engine) AbuseBurst(ctx context.Context, ep Endpoint, count int, pacer Pacer) (Summary, error) {
	if pacer == nil {
		pacer = FixedDelay(DefaultAbuseInterval)
	}
	return e.Repeat(ctx, ep, AbusePlan(count, pacer))
}

// Package follow tails a file and ships every appended line as one log
// message, one connection per line like every other mode.
package follow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/0xReLogic/logprobe/internal/delivery"
	"github.com/0xReLogic/logprobe/internal/logging"
)

// Follower sends the lines appended to a file.
type Follower struct {
	engine    *delivery.Engine
	endpoint  delivery.Endpoint
	severity  string
	fromStart bool
	maxLine   int
}

// DefaultMaxLine caps a line without newline; longer data is sent in
// chunks of this size.
const DefaultMaxLine = 64 * 1024

// New creates a Follower. When fromStart is false only lines written after
// Run starts are sent.
func New(engine *delivery.Engine, ep delivery.Endpoint, severity string, fromStart bool) *Follower {
	return &Follower{
		engine:    engine,
		endpoint:  ep,
		severity:  severity,
		fromStart: fromStart,
		maxLine:   DefaultMaxLine,
	}
}

type tail struct {
	file    *os.File
	offset  int64
	pending []byte
}

// Run watches path until ctx is done or the file is removed. A trailing line
// without newline is held back until it is completed or reaches the line cap.
func (f *Follower) Run(ctx context.Context, path string) (sum delivery.Summary, err error) {
	start := time.Now()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return sum, fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return sum, fmt.Errorf("watch %s: %w", path, err)
	}

	file, err := os.Open(path)
	if err != nil {
		return sum, err
	}
	defer file.Close()

	t := &tail{file: file}
	if !f.fromStart {
		if t.offset, err = file.Seek(0, io.SeekEnd); err != nil {
			return sum, err
		}
	}

	logging.LogModeStart("follow", f.endpoint.Address(), -1)
	defer func() {
		sum.Elapsed = time.Since(start)
		logging.LogModeDone("follow", sum.Attempts, sum.Failed, sum.Elapsed, err)
	}()

	if f.fromStart {
		if err = f.drain(ctx, t, &sum); err != nil {
			return sum, err
		}
	}

	for {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			return sum, err
		case ev, ok := <-watcher.Events:
			if !ok {
				return sum, nil
			}
			if gone(ev, path) {
				logging.LogInfo("follow_file_gone", map[string]interface{}{"path": path})
				return sum, nil
			}
			if ev.Has(fsnotify.Write) {
				if err = f.drain(ctx, t, &sum); err != nil {
					return sum, err
				}
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return sum, nil
			}
			logging.LogError("follow_watch_error", map[string]interface{}{"error": werr})
		}
	}
}

// gone reports whether the followed file was removed or renamed away. With
// the file still open inotify reports an unlink as Chmod, so stat it.
func gone(ev fsnotify.Event, path string) bool {
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		return true
	}
	if ev.Has(fsnotify.Chmod) {
		_, err := os.Stat(path)
		return errors.Is(err, os.ErrNotExist)
	}
	return false
}

// drain reads everything between the current offset and EOF and sends each
// complete line.
func (f *Follower) drain(ctx context.Context, t *tail, sum *delivery.Summary) error {
	st, err := t.file.Stat()
	if err != nil {
		return err
	}
	if st.Size() < t.offset {
		// truncated: start over
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			return err
		}
		t.offset = 0
		t.pending = nil
	}

	buf := make([]byte, 32*1024)
	for {
		n, rerr := t.file.Read(buf)
		t.offset += int64(n)
		t.pending = append(t.pending, buf[:n]...)
		for {
			var line []byte
			if i := bytes.IndexByte(t.pending, '\n'); i >= 0 && i <= f.maxLine {
				line = bytes.TrimRight(t.pending[:i], "\r")
				t.pending = t.pending[i+1:]
			} else if len(t.pending) >= f.maxLine {
				line = t.pending[:f.maxLine]
				t.pending = t.pending[f.maxLine:]
			} else {
				break
			}
			if len(line) == 0 {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			out := f.engine.SendOne(ctx, f.endpoint, f.severity, string(line))
			sum.Attempts++
			if out.OK() {
				sum.Succeeded++
			} else {
				sum.Failed++
			}
		}
		// release the consumed prefix
		t.pending = append([]byte(nil), t.pending...)
		if errors.Is(rerr, io.EOF) || n == 0 {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

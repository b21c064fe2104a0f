// Package broadcast implements the Stream Broadcaster of spec §4.G: one
// upstream SSE reader fans out to N subscribers (normal case: the owner
// plus any deduplication subscribers), replays a short backlog to
// late joiners, and disconnects subscribers that fall behind without ever
// slowing the upstream reader.
package broadcast

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrBacklogExceeded is delivered to a subscriber's channel (then the
// channel is closed) when it fell more than subscriberBacklogMax chunks
// behind the broadcaster.
var ErrBacklogExceeded = errors.New("broadcast: subscriber fell behind and was disconnected")

// ErrIdleTimeout signals no upstream chunk arrived within the idle window.
var ErrIdleTimeout = errors.New("broadcast: idle timeout waiting for upstream chunk")

// ErrTotalTimeout signals the stream exceeded its absolute duration budget.
var ErrTotalTimeout = errors.New("broadcast: exceeded total stream timeout")

// Chunk is one unit of forwarded upstream data (already translated, ready
// to write to a client connection).
type Chunk struct {
	Data []byte
	Err  error // non-nil on the final chunk of a failed stream
}

// Status is the terminal outcome recorded once the upstream closes.
type Status struct {
	Err        error
	FinishedAt time.Time
}

// Config bounds one Broadcaster's behavior, per spec §4.G and §4.A.
type Config struct {
	BacklogMax   int           // subscriber_backlog_max: max chunks a subscriber may lag by
	ReplayMax    int           // how many trailing chunks late joiners can replay
	IdleTimeout  time.Duration // streaming_idle_timeout
	TotalTimeout time.Duration // streaming_total_timeout
	Now          func() time.Time
}

type subscriber struct {
	ch     chan Chunk
	cursor int
}

// Broadcaster owns a single upstream reader goroutine and fans its chunks
// out to subscribers.
type Broadcaster struct {
	cfg Config

	mu             sync.Mutex
	backlog        []Chunk
	subs           map[int]*subscriber
	nextSubID      int
	terminal       *Status
	done           chan struct{}
	cancelUpstream context.CancelFunc
}

// New creates a Broadcaster. cancelUpstream is called once the last
// subscriber has left AND a terminal status has been recorded, per spec
// §4.G's cancellation rule; it may be nil.
func New(cfg Config, cancelUpstream context.CancelFunc) *Broadcaster {
	if cfg.BacklogMax <= 0 {
		cfg.BacklogMax = 64
	}
	if cfg.ReplayMax <= 0 {
		cfg.ReplayMax = cfg.BacklogMax
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Broadcaster{
		cfg:            cfg,
		subs:           make(map[int]*subscriber),
		done:           make(chan struct{}),
		cancelUpstream: cancelUpstream,
	}
}

// Subscribe opens a new subscriber cursor. If the stream already finished,
// the channel immediately replays any retained backlog followed by the
// terminal status, then closes — the post-terminal "cached result" path
// spec §4.G describes for late, non-streaming-shaped duplicates.
func (b *Broadcaster) Subscribe() <-chan Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Chunk, b.cfg.BacklogMax+1)
	if b.terminal != nil {
		for _, c := range b.backlog {
			ch <- c
		}
		if b.terminal.Err != nil {
			ch <- Chunk{Err: b.terminal.Err}
		}
		close(ch)
		return ch
	}

	id := b.nextSubID
	b.nextSubID++
	sub := &subscriber{ch: ch, cursor: len(b.backlog)}
	b.subs[id] = sub
	for _, c := range b.backlog {
		ch <- c
	}
	return ch
}

// Unsubscribe disconnects a subscriber early (client gone). It is a no-op
// to call with a channel that was never returned by Subscribe, or was
// already removed. If this was the last subscriber and a terminal status
// is already recorded, the upstream is cancelled.
func (b *Broadcaster) Unsubscribe(ch <-chan Chunk) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		if sub.ch == ch {
			delete(b.subs, id)
			break
		}
	}
	b.maybeCancelUpstreamLocked()
}

func (b *Broadcaster) maybeCancelUpstreamLocked() {
	if len(b.subs) == 0 && b.terminal != nil && b.cancelUpstream != nil {
		b.cancelUpstream()
	}
}

// Publish forwards one chunk from the single upstream reader to every
// subscriber. A subscriber more than BacklogMax chunks behind is
// disconnected with ErrBacklogExceeded; the upstream is never blocked.
func (b *Broadcaster) Publish(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	chunk := Chunk{Data: data}
	b.backlog = append(b.backlog, chunk)
	if len(b.backlog) > b.cfg.ReplayMax {
		b.backlog = b.backlog[len(b.backlog)-b.cfg.ReplayMax:]
	}

	for id, sub := range b.subs {
		select {
		case sub.ch <- chunk:
			sub.cursor++
		default:
			// Channel buffer full: this subscriber is more than
			// BacklogMax behind. Disconnect it without blocking.
			select {
			case sub.ch <- Chunk{Err: ErrBacklogExceeded}:
			default:
			}
			close(sub.ch)
			delete(b.subs, id)
		}
	}
}

// Finish records the terminal status, delivers it to every remaining
// subscriber, and closes their channels. It is idempotent.
func (b *Broadcaster) Finish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminal != nil {
		return
	}
	b.terminal = &Status{Err: err, FinishedAt: b.cfg.Now()}
	for id, sub := range b.subs {
		if err != nil {
			select {
			case sub.ch <- Chunk{Err: err}:
			default:
			}
		}
		close(sub.ch)
		delete(b.subs, id)
	}
	close(b.done)
	b.maybeCancelUpstreamLocked()
}

// Done reports when the broadcaster has recorded a terminal status.
func (b *Broadcaster) Done() <-chan struct{} {
	return b.done
}

// Status returns the terminal status and whether one has been recorded.
func (b *Broadcaster) Status() (Status, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminal == nil {
		return Status{}, false
	}
	return *b.terminal, true
}

// Pump runs the broadcaster's single upstream-reading loop: it calls next
// repeatedly, publishing every non-empty chunk, until next returns an
// error (io.EOF means a clean close). A watchdog goroutine enforces
// IdleTimeout and TotalTimeout by invoking cancel, which must cause a
// blocked next() call to return promptly (e.g. a context-bound HTTP body
// read). Pump calls Finish exactly once before returning.
func (b *Broadcaster) Pump(ctx context.Context, cancel context.CancelFunc, next func() ([]byte, error)) {
	start := b.cfg.Now()
	activity := make(chan struct{}, 1)
	stop := make(chan struct{})
	watchdogDone := make(chan struct{})

	go func() {
		defer close(watchdogDone)
		idle := b.cfg.IdleTimeout
		if idle <= 0 {
			idle = 24 * time.Hour
		}
		timer := time.NewTimer(idle)
		defer timer.Stop()
		for {
			select {
			case <-activity:
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(idle)
			case <-timer.C:
				cancel()
				return
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
			if b.cfg.TotalTimeout > 0 && b.cfg.Now().Sub(start) > b.cfg.TotalTimeout {
				cancel()
				return
			}
		}
	}()

	var finishErr error
	for {
		data, err := next()
		if len(data) > 0 {
			b.Publish(data)
			select {
			case activity <- struct{}{}:
			default:
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				finishErr = nil
			case ctx.Err() != nil && b.cfg.TotalTimeout > 0 && b.cfg.Now().Sub(start) > b.cfg.TotalTimeout:
				finishErr = ErrTotalTimeout
			case ctx.Err() != nil:
				finishErr = ErrIdleTimeout
			default:
				finishErr = err
			}
			break
		}
	}
	close(stop)
	<-watchdogDone
	b.Finish(finishErr)
}

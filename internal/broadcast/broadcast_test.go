package broadcast

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestPublishSubscribe_FIFODelivery(t *testing.T) {
	t.Parallel()
	b := New(Config{BacklogMax: 4}, nil)
	sub := b.Subscribe()

	b.Publish([]byte("a"))
	b.Publish([]byte("b"))

	if c := <-sub; string(c.Data) != "a" {
		t.Fatalf("expected a first, got %q", c.Data)
	}
	if c := <-sub; string(c.Data) != "b" {
		t.Fatalf("expected b second, got %q", c.Data)
	}
}

func TestSubscribe_LateJoinerReplaysBacklog(t *testing.T) {
	t.Parallel()
	b := New(Config{BacklogMax: 4, ReplayMax: 4}, nil)
	b.Publish([]byte("a"))
	b.Publish([]byte("b"))

	sub := b.Subscribe()
	if c := <-sub; string(c.Data) != "a" {
		t.Fatalf("expected backlog replay to start with a, got %q", c.Data)
	}
	if c := <-sub; string(c.Data) != "b" {
		t.Fatalf("expected backlog replay second chunk b, got %q", c.Data)
	}
}

func TestSubscribe_AfterTerminalReplaysThenCloses(t *testing.T) {
	t.Parallel()
	b := New(Config{BacklogMax: 4, ReplayMax: 4}, nil)
	b.Publish([]byte("a"))
	b.Finish(nil)

	sub := b.Subscribe()
	c, ok := <-sub
	if !ok || string(c.Data) != "a" {
		t.Fatalf("expected replayed chunk, got %+v ok=%v", c, ok)
	}
	if _, ok := <-sub; ok {
		t.Fatal("expected channel closed after replay of a finished stream")
	}
}

func TestPublish_SlowSubscriberDisconnected(t *testing.T) {
	t.Parallel()
	b := New(Config{BacklogMax: 1}, nil)
	sub := b.Subscribe()

	// Fill the subscriber's buffer (capacity BacklogMax+1=2) without
	// draining it, then push one more to force disconnection.
	b.Publish([]byte("1"))
	b.Publish([]byte("2"))
	b.Publish([]byte("3"))

	var gotErr error
	for c := range sub {
		if c.Err != nil {
			gotErr = c.Err
		}
	}
	if !errors.Is(gotErr, ErrBacklogExceeded) {
		t.Fatalf("expected ErrBacklogExceeded, got %v", gotErr)
	}
}

func TestUnsubscribe_DoesNotAffectOthers(t *testing.T) {
	t.Parallel()
	b := New(Config{BacklogMax: 4}, nil)
	subA := b.Subscribe()
	subB := b.Subscribe()

	b.Unsubscribe(subA)
	b.Publish([]byte("x"))

	if c := <-subB; string(c.Data) != "x" {
		t.Fatalf("expected subscriber B to keep receiving, got %+v", c)
	}
}

func TestFinish_CancelsUpstreamOnlyAfterLastSubscriberLeaves(t *testing.T) {
	t.Parallel()
	canceled := false
	b := New(Config{BacklogMax: 4}, func() { canceled = true })
	sub := b.Subscribe()

	b.Finish(nil)
	if canceled {
		t.Fatal("upstream should not be canceled while a subscriber remains")
	}

	b.Unsubscribe(sub)
	if !canceled {
		t.Fatal("expected upstream canceled once the last subscriber left after termination")
	}
}

func TestPump_PublishesUntilEOF(t *testing.T) {
	t.Parallel()
	b := New(Config{BacklogMax: 4}, nil)
	sub := b.Subscribe()

	chunks := [][]byte{[]byte("a"), []byte("b")}
	i := 0
	next := func() ([]byte, error) {
		if i >= len(chunks) {
			return nil, io.EOF
		}
		c := chunks[i]
		i++
		return c, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		b.Pump(ctx, cancel, next)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Pump did not return")
	}

	status, ok := b.Status()
	if !ok || status.Err != nil {
		t.Fatalf("expected clean terminal status, got %+v ok=%v", status, ok)
	}

	var got []byte
	for c := range sub {
		got = append(got, c.Data...)
	}
	if string(got) != "ab" {
		t.Fatalf("expected published chunks ab, got %q", got)
	}
}

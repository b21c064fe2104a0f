package dedup

import (
	"testing"
	"time"
)

func TestBegin_FirstCallerIsOwner(t *testing.T) {
	t.Parallel()
	r := New(time.Minute)
	role, handle, wait := r.Begin("fp1")
	if role != RoleOwner || handle == nil || wait != nil {
		t.Fatalf("expected owner with handle, got role=%v handle=%v wait=%v", role, handle, wait)
	}
}

func TestBegin_SecondCallerIsSubscriberAndReceivesResult(t *testing.T) {
	t.Parallel()
	r := New(time.Minute)
	_, handle, _ := r.Begin("fp1")
	role, h2, wait := r.Begin("fp1")
	if role != RoleSubscriber || h2 != nil || wait == nil {
		t.Fatalf("expected subscriber with wait channel, got role=%v handle=%v", role, h2)
	}

	handle.Complete(Result{StatusCode: 200, Body: []byte("ok")})

	result := <-wait
	if result.StatusCode != 200 || string(result.Body) != "ok" {
		t.Fatalf("unexpected result delivered to subscriber: %+v", result)
	}
}

func TestComplete_RemovesEntryForNextCaller(t *testing.T) {
	t.Parallel()
	r := New(time.Minute)
	_, handle, _ := r.Begin("fp1")
	handle.Complete(Result{StatusCode: 200})

	role, newHandle, _ := r.Begin("fp1")
	if role != RoleOwner || newHandle == nil {
		t.Fatalf("expected fresh owner after completion, got role=%v", role)
	}
}

func TestBegin_StaleOwnerDemotedAndWaitersWoken(t *testing.T) {
	t.Parallel()
	now := time.Unix(0, 0)
	r := newWithClock(10*time.Second, func() time.Time { return now })

	_, _, _ = r.Begin("fp1") // never completes
	_, _, wait := r.Begin("fp1")

	now = now.Add(11 * time.Second)
	role, handle, _ := r.Begin("fp1")
	if role != RoleOwner || handle == nil {
		t.Fatalf("expected stale owner demoted and fresh owner returned, got role=%v", role)
	}

	result := <-wait
	if result.Err != ErrStaleOwner {
		t.Fatalf("expected stale owner error delivered to prior waiter, got %v", result.Err)
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	t.Parallel()
	a := Fingerprint("route-1", []byte(`{"model":"x"}`))
	b := Fingerprint("route-1", []byte(`{"model":"x"}`))
	c := Fingerprint("route-2", []byte(`{"model":"x"}`))
	if a != b {
		t.Fatal("expected identical inputs to hash identically")
	}
	if a == c {
		t.Fatal("expected different route keys to hash differently")
	}
}

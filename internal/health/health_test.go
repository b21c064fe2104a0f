package health

import (
	"testing"
	"time"
)

func fakeClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestEngine_SuccessResetsCounters(t *testing.T) {
	t.Parallel()
	now, advance := fakeClock(time.Unix(0, 0))
	e := New(Config{UnhealthyThreshold: 2, FailureCooldown: 10 * time.Second, Now: now})

	e.RecordOutcome("a", OutcomeQualifyingFailure)
	advance(time.Second)
	e.RecordOutcome("a", OutcomeSuccess)

	snap := e.Snapshot("a")
	if snap.ErrorCount != 0 || snap.Unhealthy() {
		t.Fatalf("expected reset state, got %+v", snap)
	}
	if !e.IsSelectable("a", true) {
		t.Fatal("expected selectable after success")
	}
}

func TestEngine_ThresholdMarksUnhealthy(t *testing.T) {
	t.Parallel()
	now, advance := fakeClock(time.Unix(0, 0))
	e := New(Config{UnhealthyThreshold: 2, FailureCooldown: 10 * time.Second, Now: now})

	if marked := e.RecordOutcome("a", OutcomeQualifyingFailure); marked {
		t.Fatal("should not mark unhealthy on first failure")
	}
	if e.IsSelectable("a", true) != true {
		t.Fatal("still selectable below threshold")
	}

	advance(time.Millisecond)
	if marked := e.RecordOutcome("a", OutcomeQualifyingFailure); !marked {
		t.Fatal("expected marked unhealthy at threshold")
	}
	if e.IsSelectable("a", true) {
		t.Fatal("expected unselectable during cooldown")
	}

	advance(10*time.Second + time.Millisecond)
	if !e.IsSelectable("a", true) {
		t.Fatal("expected selectable after cooldown elapses")
	}
}

func TestEngine_NonQualifyingDoesNotCount(t *testing.T) {
	t.Parallel()
	now, _ := fakeClock(time.Unix(0, 0))
	e := New(Config{UnhealthyThreshold: 1, Now: now})
	e.RecordOutcome("a", OutcomeNonQualifyingFailure)
	if e.Snapshot("a").ErrorCount != 0 {
		t.Fatal("non-qualifying failure must not increment error_count")
	}
	if !e.IsSelectable("a", true) {
		t.Fatal("non-qualifying failure must not affect selectability")
	}
}

func TestEngine_DisabledNeverSelectable(t *testing.T) {
	t.Parallel()
	now, _ := fakeClock(time.Unix(0, 0))
	e := New(Config{Now: now})
	if e.IsSelectable("a", false) {
		t.Fatal("disabled provider must never be selectable")
	}
}

func TestEngine_StickyPointerWindow(t *testing.T) {
	t.Parallel()
	now, advance := fakeClock(time.Unix(0, 0))
	e := New(Config{StickyDuration: 5 * time.Second, Now: now})

	if _, ok := e.StickyProvider(); ok {
		t.Fatal("no sticky provider should be set initially")
	}

	e.RecordOutcome("a", OutcomeSuccess)
	name, ok := e.StickyProvider()
	if !ok || name != "a" {
		t.Fatalf("expected sticky provider 'a', got %q ok=%v", name, ok)
	}

	advance(6 * time.Second)
	if _, ok := e.StickyProvider(); ok {
		t.Fatal("sticky pointer should expire outside its window")
	}
}

func TestRules_Classify(t *testing.T) {
	t.Parallel()
	r := CompileRules([]int{429, 500}, []string{"overloaded"}, []string{`(?i)rate.?limit`})

	if !r.ClassifyHTTP(500) {
		t.Fatal("500 should qualify")
	}
	if r.ClassifyHTTP(404) {
		t.Fatal("404 not in configured list should not qualify")
	}
	if !r.ClassifyBody("the service is overloaded right now") {
		t.Fatal("substring match should qualify")
	}
	if !r.ClassifyBody("Rate-Limit exceeded") {
		t.Fatal("regex match should qualify")
	}
	if r.ClassifyBody("ok") {
		t.Fatal("unrelated body should not qualify")
	}
}

func TestNonQualifyingHTTP(t *testing.T) {
	t.Parallel()
	for _, code := range []int{400, 401, 403} {
		if !NonQualifyingHTTP(code) {
			t.Errorf("%d should be non-qualifying", code)
		}
	}
	if NonQualifyingHTTP(500) {
		t.Fatal("500 should not be classified as non-qualifying")
	}
}

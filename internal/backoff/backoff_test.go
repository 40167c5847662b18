package backoff

import (
	"context"
	"testing"
	"time"
)

func TestBackoff_Doubling(t *testing.T) {
	b := New(100*time.Millisecond, 350*time.Millisecond)

	want := []time.Duration{100, 200, 350, 350}
	for i, w := range want {
		w *= time.Millisecond
		if got := b.Current(); got != w {
			t.Errorf("step %d: Current() = %v, want %v", i, got, w)
		}
		d := b.Next()
		lo, hi := time.Duration(float64(w)*0.8), time.Duration(float64(w)*1.2)
		if d < lo || d > hi {
			t.Errorf("step %d: Next() = %v, want within [%v, %v]", i, d, lo, hi)
		}
	}

	b.Reset()
	if got := b.Current(); got != 100*time.Millisecond {
		t.Errorf("Current() after Reset = %v, want 100ms", got)
	}
}

func TestBackoff_Defaults(t *testing.T) {
	b := New(0, 0)
	if got := b.Current(); got != DefaultInitial {
		t.Errorf("Current() = %v, want %v", got, DefaultInitial)
	}
}

func TestBackoff_SleepCanceled(t *testing.T) {
	b := New(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if b.Sleep(ctx) {
		t.Error("Sleep() = true on canceled context, want false")
	}
}

func TestBackoff_SleepElapses(t *testing.T) {
	b := New(time.Millisecond, time.Millisecond)
	if !b.Sleep(context.Background()) {
		t.Error("Sleep() = false, want true")
	}
}

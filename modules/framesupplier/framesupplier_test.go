package framesupplier_test

import (
	"context"
	"testing"
	"time"

	"github.com/meit-swami/jewellery/modules/framesupplier"
)

func newStarted(t *testing.T) framesupplier.Supplier {
	t.Helper()
	supplier := framesupplier.New()
	if err := supplier.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { supplier.Stop() })
	return supplier
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// TestPublishNonBlocking validates Publish() returns immediately with no consumers reading.
func TestPublishNonBlocking(t *testing.T) {
	supplier := newStarted(t)
	supplier.Subscribe("slow")

	start := time.Now()
	for i := 0; i < 100; i++ {
		supplier.Publish(&framesupplier.Frame{Data: []byte("x"), Width: 1, Height: 1, Timestamp: time.Now()})
	}
	elapsed := time.Since(start)

	if elapsed > 100*time.Millisecond {
		t.Errorf("Publish() blocked: elapsed=%v (expected <100ms)", elapsed)
	}
	t.Logf("✅ Publish() 100 frames in %v", elapsed)
}

func TestReadReturnsLatestFrame(t *testing.T) {
	supplier := newStarted(t)
	r := supplier.Subscribe("render")

	for i := 1; i <= 3; i++ {
		supplier.Publish(&framesupplier.Frame{Width: i})
	}

	var latest *framesupplier.Frame
	waitFor(t, func() bool {
		if f := r.TryRead(); f != nil {
			latest = f
		}
		return latest != nil && latest.Width == 3
	})

	stats := supplier.Stats()
	if stats.Published+stats.InboxDrops != 3 {
		t.Errorf("published(%d)+inboxDrops(%d) != 3", stats.Published, stats.InboxDrops)
	}
	frame := latest
	t.Logf("✅ Read() delivered latest frame seq=%d", frame.Seq)
}

func TestTryReadDistinguishesNewFrames(t *testing.T) {
	supplier := newStarted(t)
	r := supplier.Subscribe("render")

	if f := r.TryRead(); f != nil {
		t.Fatalf("TryRead() before any publish = %+v, want nil", f)
	}

	supplier.Publish(&framesupplier.Frame{Width: 640, Height: 480})

	var got *framesupplier.Frame
	waitFor(t, func() bool {
		got = r.TryRead()
		return got != nil
	})
	if got.Seq != 1 {
		t.Errorf("first frame Seq = %d, want 1", got.Seq)
	}

	if again := r.TryRead(); again != nil {
		t.Errorf("TryRead() without new publish returned seq=%d, want nil", again.Seq)
	}
	t.Logf("✅ TryRead() reports only unconsumed frames")
}

func TestSequenceMonotonic(t *testing.T) {
	supplier := newStarted(t)
	r := supplier.Subscribe("seq")

	var last uint64
	for i := 0; i < 20; i++ {
		supplier.Publish(&framesupplier.Frame{})
		frame := r.Read()
		if frame == nil {
			t.Fatal("Read() returned nil")
		}
		if frame.Seq <= last {
			t.Fatalf("Seq not increasing: got %d after %d", frame.Seq, last)
		}
		last = frame.Seq
	}
}

func TestUnsubscribeWakesBlockedRead(t *testing.T) {
	supplier := newStarted(t)
	r := supplier.Subscribe("worker")

	done := make(chan *framesupplier.Frame)
	go func() { done <- r.Read() }()

	time.Sleep(20 * time.Millisecond)
	supplier.Unsubscribe("worker")

	select {
	case f := <-done:
		if f != nil {
			t.Errorf("Read() after Unsubscribe = %+v, want nil", f)
		}
	case <-time.After(time.Second):
		t.Fatal("Read() did not return after Unsubscribe")
	}

	if !r.Closed() {
		t.Error("reader should report Closed() after Unsubscribe")
	}
	supplier.Unsubscribe("worker") // idempotent
}

func TestStopClosesReaders(t *testing.T) {
	supplier := framesupplier.New()
	if err := supplier.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	r := supplier.Subscribe("worker")

	if err := supplier.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if f := r.Read(); f != nil {
		t.Errorf("Read() after Stop = %+v, want nil", f)
	}
	if err := supplier.Stop(); err != nil {
		t.Errorf("second Stop() = %v, want nil", err)
	}

	late := supplier.Subscribe("late")
	if f := late.Read(); f != nil {
		t.Error("Subscribe after Stop should yield a closed reader")
	}
	supplier.Publish(&framesupplier.Frame{})
}

func TestStartTwice(t *testing.T) {
	supplier := newStarted(t)
	if err := supplier.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
}

func TestResubscribeClosesPrevious(t *testing.T) {
	supplier := newStarted(t)
	first := supplier.Subscribe("render")
	second := supplier.Subscribe("render")

	if !first.Closed() {
		t.Error("first reader should be closed by resubscribe")
	}
	if second.Closed() {
		t.Error("second reader should be open")
	}
}

func TestStatsCountsConsumerDrops(t *testing.T) {
	supplier := newStarted(t)
	supplier.Subscribe("lazy")

	for i := 0; i < 5; i++ {
		supplier.Publish(&framesupplier.Frame{})
		waitFor(t, func() bool { return supplier.Stats().Published == uint64(i+1) })
	}

	waitFor(t, func() bool { return supplier.Stats().Consumers["lazy"].TotalDrops == 4 })

	stats := supplier.Stats()
	lazy, ok := stats.Consumers["lazy"]
	if !ok {
		t.Fatal("Stats() missing consumer 'lazy'")
	}
	if lazy.TotalDrops != 4 {
		t.Errorf("TotalDrops = %d, want 4", lazy.TotalDrops)
	}
	if lazy.IsIdle {
		t.Error("fresh consumer should not be idle")
	}
	t.Logf("✅ Stats: published=%d inboxDrops=%d lazyDrops=%d", stats.Published, stats.InboxDrops, lazy.TotalDrops)
}

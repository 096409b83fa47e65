package v4l2

import (
	"sync"
	"testing"

	"github.com/meit-swami/jewellery/modules/framesupplier"
)

func TestCallbackContextSend(t *testing.T) {
	frames := make(chan framesupplier.Frame, 1)
	cb := &CallbackContext{FrameChan: frames}

	if !cb.Send(framesupplier.Frame{Seq: 1}) {
		t.Fatal("Send() into an empty channel should succeed")
	}
	if cb.Send(framesupplier.Frame{Seq: 2}) {
		t.Error("Send() into a full channel should drop")
	}
	if f := <-frames; f.Seq != 1 {
		t.Errorf("received seq %d, want 1", f.Seq)
	}
}

func TestCallbackContextSendAfterClose(t *testing.T) {
	frames := make(chan framesupplier.Frame, 4)
	cb := &CallbackContext{FrameChan: frames}

	cb.Close()
	cb.Close()
	if cb.Send(framesupplier.Frame{Seq: 1}) {
		t.Error("Send() after Close() must drop")
	}
	if _, ok := <-frames; ok {
		t.Error("channel should be closed and empty")
	}
}

func TestCallbackContextConcurrentClose(t *testing.T) {
	frames := make(chan framesupplier.Frame, 8)
	cb := &CallbackContext{FrameChan: frames}

	go func() {
		for range frames {
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				cb.Send(framesupplier.Frame{Seq: seq})
			}
		}(uint64(i))
	}
	cb.Close()
	wg.Wait()
	t.Logf("✅ streaming-thread sends racing teardown never panic")
}

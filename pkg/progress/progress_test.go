package progress

import (
	"testing"
	"time"
)

func TestSubscribePublishComplete(t *testing.T) {
	tr := NewTracker()
	ch, cancel := tr.Subscribe("m1")
	defer cancel()

	tr.Publish("m1", 10, 100)
	select {
	case u := <-ch:
		if u.Sent != 10 || u.Total != 100 || u.Done {
			t.Fatalf("bad update: %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatalf("no update delivered")
	}

	tr.Complete("m1", 100, 100)
	var sawDone bool
	for u := range ch {
		if u.Done {
			sawDone = true
		}
	}
	if !sawDone {
		t.Fatalf("done update not delivered before close")
	}
}

func TestUpdatesScopedToMessageID(t *testing.T) {
	tr := NewTracker()
	ch, cancel := tr.Subscribe("m1")
	defer cancel()

	tr.Publish("other", 5, 10)
	select {
	case u := <-ch:
		t.Fatalf("leaked update for another id: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelDetaches(t *testing.T) {
	tr := NewTracker()
	ch, cancel := tr.Subscribe("m1")
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("cancel must close the channel")
	}
	// publishing after cancel must not panic
	tr.Publish("m1", 1, 2)
	tr.Complete("m1", 2, 2)
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	tr := NewTracker()
	_, cancel := tr.Subscribe("m1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		// more updates than the subscriber buffer holds; none consumed
		for i := 0; i < 64; i++ {
			tr.Publish("m1", int64(i), 64)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publisher blocked on a slow subscriber")
	}
}

package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/maxvit/ctrader_meanrev/internal/domain"
)

type captureSink struct {
	mu     sync.Mutex
	events []domain.Event
	block  chan struct{}
}

func (s *captureSink) Notify(ev domain.Event) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestFanoutDeliversToAllSinks(t *testing.T) {
	t.Parallel()

	a, b := &captureSink{}, &captureSink{}
	f := Fanout{a, b}
	f.Notify(domain.AccountUpdate{Balance: 100})

	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestAsyncSinkDrainsOnClose(t *testing.T) {
	t.Parallel()

	next := &captureSink{}
	s := NewAsyncSink(next, 16)
	for i := 0; i < 10; i++ {
		s.Notify(domain.AccountUpdate{Balance: float64(i)})
	}
	s.Close()

	assert.Equal(t, 10, next.count())
}

func TestAsyncSinkNeverBlocks(t *testing.T) {
	t.Parallel()

	next := &captureSink{block: make(chan struct{})}
	s := NewAsyncSink(next, 1)

	// The delivery goroutine is stuck on the first event and the buffer
	// holds one more; further notifies must return immediately.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Notify(domain.AccountUpdate{Balance: float64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full buffer")
	}

	close(next.block)
	s.Close()
	// At least the in-flight and the buffered event arrive; the rest were
	// dropped, never queued.
	assert.GreaterOrEqual(t, next.count(), 1)
	assert.Less(t, next.count(), 100)
}

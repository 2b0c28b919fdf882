package bus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe_DeliversInRegistrationOrder(t *testing.T) {
	b := New(nil, 8)
	var order []int
	b.Subscribe(PerceptionReceived, func(Event) error { order = append(order, 1); return nil })
	b.Subscribe(PerceptionReceived, func(Event) error { order = append(order, 2); return nil })

	b.Publish(Event{Type: PerceptionReceived})
	require.Equal(t, []int{1, 2}, order)
}

func TestPublish_IsolatesFailingHandler(t *testing.T) {
	b := New(nil, 8)
	called := false
	b.Subscribe(JudgmentCreated, func(Event) error { return errors.New("boom") })
	b.Subscribe(JudgmentCreated, func(Event) error { called = true; return nil })

	b.Publish(Event{Type: JudgmentCreated})
	assert.True(t, called, "second handler should still run after the first fails")
	assert.Equal(t, 1, b.FailureCount(JudgmentCreated))
}

func TestPublish_IsolatesPanickingHandler(t *testing.T) {
	b := New(nil, 8)
	called := false
	b.Subscribe(JudgmentCreated, func(Event) error { panic("boom") })
	b.Subscribe(JudgmentCreated, func(Event) error { called = true; return nil })

	b.Publish(Event{Type: JudgmentCreated})
	assert.True(t, called)
	assert.Equal(t, 1, b.FailureCount(JudgmentCreated))
}

func TestPublish_ReentrantDepthGuard(t *testing.T) {
	b := New(nil, 2)
	depthReached := 0
	var publish func()
	publish = func() {
		depthReached++
		b.Publish(Event{Type: MetaCycle})
	}
	b.Subscribe(MetaCycle, func(Event) error { publish(); return nil })

	publish()
	// maxDepth=2 bounds recursion; it must terminate rather than overflow the stack.
	assert.LessOrEqual(t, depthReached, 4)
}

func TestSubscriberCount(t *testing.T) {
	b := New(nil, 8)
	assert.Equal(t, 0, b.SubscriberCount())
	b.Subscribe(PerceptionReceived, func(Event) error { return nil })
	b.Subscribe(JudgmentCreated, func(Event) error { return nil })
	assert.Equal(t, 2, b.SubscriberCount())
}

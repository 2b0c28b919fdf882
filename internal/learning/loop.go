package learning

import (
	"sync"

	"github.com/cynic-kernel/kernel/internal/bus"
)

// loopQueueCap bounds the learning loop's pending-event channel; F(9) = 34
// matches the kernel's other small internal queues.
const loopQueueCap = 34

// Loop is the running learning subsystem: it subscribes to LEARNING_EVENT
// and applies each event to the shared QTable on its own goroutine, so a
// slow flush never blocks the publishing pipeline. Start once at boot;
// Stop drains every already-accepted event before returning.
type Loop struct {
	table   *QTable
	bus     *bus.Bus
	pending chan bus.LearningEventPayload
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewLoop constructs a Loop over table, subscribing to the bus
// immediately. Call Start to begin processing.
func NewLoop(table *QTable, b *bus.Bus) *Loop {
	l := &Loop{
		table:   table,
		bus:     b,
		pending: make(chan bus.LearningEventPayload, loopQueueCap),
		done:    make(chan struct{}),
	}
	if b != nil {
		b.Subscribe(bus.LearningEvent, l.onLearningEvent)
	}
	return l
}

func (l *Loop) onLearningEvent(e bus.Event) error {
	payload, ok := e.Payload.(bus.LearningEventPayload)
	if !ok {
		return nil
	}
	select {
	case l.pending <- payload:
	default:
		// Queue full: apply synchronously rather than drop a learning
		// signal. Updates must never be lost.
		l.table.Update(payload.StateKey, payload.Action, payload.Reward)
	}
	return nil
}

// Start launches the loop's single worker goroutine.
func (l *Loop) Start() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case payload := <-l.pending:
				l.table.Update(payload.StateKey, payload.Action, payload.Reward)
			case <-l.done:
				l.drain()
				return
			}
		}
	}()
}

func (l *Loop) drain() {
	for {
		select {
		case payload := <-l.pending:
			l.table.Update(payload.StateKey, payload.Action, payload.Reward)
		default:
			return
		}
	}
}

// Stop signals the worker to drain pending updates and exit, blocking
// until it has.
func (l *Loop) Stop() {
	close(l.done)
	l.wg.Wait()
}

// Table returns the underlying QTable, for read-only consumers like
// ScholarJudge and PredictorJudge.
func (l *Loop) Table() *QTable {
	return l.table
}

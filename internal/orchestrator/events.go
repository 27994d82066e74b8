package orchestrator

import (
	"time"

	"github.com/mevduct/sandwichd/internal/domain"
)

// EventType names one observable transition of an execution.
type EventType string

const (
	EventExecutionStarted    EventType = "execution_started"
	EventSimulationCompleted EventType = "simulation_completed"
	EventExecutionCompleted  EventType = "execution_completed"
	EventExecutionFailed     EventType = "execution_failed"
	EventExecutionCancelled  EventType = "execution_cancelled"
)

// Event carries a result snapshot; subscribers can never mutate the live
// execution through it.
type Event struct {
	Type   EventType
	Result domain.ExecutionResult
	At     time.Time
}

// EventHandler observes execution events. Handlers run on the executing
// goroutine and must not block.
type EventHandler func(Event)

// emitter fans one event out to the registered handlers. Registration happens
// before executions start, so no locking is needed on the handler list.
type emitter struct {
	handlers []EventHandler
}

func (e *emitter) on(h EventHandler) {
	e.handlers = append(e.handlers, h)
}

func (e *emitter) emit(t EventType, res *domain.ExecutionResult, at time.Time) {
	if len(e.handlers) == 0 {
		return
	}
	ev := Event{Type: t, Result: res.Snapshot(), At: at}
	for _, h := range e.handlers {
		h(ev)
	}
}

// terminalEvent maps a terminal state to its event type.
func terminalEvent(state domain.ExecutionState) EventType {
	switch state {
	case domain.ExecStateSucceeded:
		return EventExecutionCompleted
	case domain.ExecStateCancelled:
		return EventExecutionCancelled
	default:
		return EventExecutionFailed
	}
}

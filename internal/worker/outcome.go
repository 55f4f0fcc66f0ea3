package worker

import (
	"fmt"

	"github.com/felixgeelhaar/statekit"
	"github.com/zachbroad/webhook-dispatch/internal/model"
)

// Outcome machine events.
const (
	evAttempt = "attempt"
	evSucceed = "succeed"
	evRetry   = "retry"
	evExhaust = "exhaust"
	evReject  = "reject"
	evCancel  = "cancel"
)

type outcomeContext struct {
	Attempt     int
	MaxAttempts int
}

// outcomeMachine tracks one (event, destination) pair through a single
// execution. Terminal states have no outgoing transitions, so a pair that
// reached DELIVERED, EXHAUSTED, FAILED or CANCELLED can never be attempted
// again.
type outcomeMachine struct {
	interpreter *statekit.Interpreter[outcomeContext]
}

func state(s model.OutcomeState) statekit.StateID {
	return statekit.StateID(string(s))
}

func newOutcomeMachine(from model.OutcomeState, attempt, maxAttempts int) (*outcomeMachine, error) {
	builder := statekit.NewMachine[outcomeContext]("delivery-outcome").
		WithInitial(state(from)).
		WithContext(outcomeContext{Attempt: attempt, MaxAttempts: maxAttempts}).
		WithGuard("withinBudget", func(ctx outcomeContext, _ statekit.Event) bool {
			return ctx.Attempt < ctx.MaxAttempts
		})

	builder.State(state(model.OutcomePending)).
		On(evAttempt).Target(state(model.OutcomeDelivering)).
		On(evCancel).Target(state(model.OutcomeCancelled)).
		Done()

	builder.State(state(model.OutcomeRetryScheduled)).
		On(evAttempt).Target(state(model.OutcomeDelivering)).
		On(evCancel).Target(state(model.OutcomeCancelled)).
		Done()

	builder.State(state(model.OutcomeDelivering)).
		On(evSucceed).Target(state(model.OutcomeDelivered)).
		On(evRetry).Target(state(model.OutcomeRetryScheduled)).Guard("withinBudget").
		On(evExhaust).Target(state(model.OutcomeExhausted)).
		On(evReject).Target(state(model.OutcomeFailed)).
		Done()

	for _, terminal := range []model.OutcomeState{
		model.OutcomeDelivered,
		model.OutcomeExhausted,
		model.OutcomeFailed,
		model.OutcomeCancelled,
	} {
		builder.State(state(terminal)).Done()
	}

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build outcome machine: %w", err)
	}
	interpreter := statekit.NewInterpreter(machine)
	interpreter.Start()
	return &outcomeMachine{interpreter: interpreter}, nil
}

func (m *outcomeMachine) Current() model.OutcomeState {
	return model.OutcomeState(m.interpreter.State().Value)
}

// Fire sends event and returns the new state. An event that is not valid
// in the current state, or whose guard rejects it, is an error.
func (m *outcomeMachine) Fire(event string) (model.OutcomeState, error) {
	before := m.Current()
	m.interpreter.Send(statekit.Event{Type: statekit.EventType(event)})
	after := m.Current()
	if before == after {
		return before, fmt.Errorf("outcome transition %q not allowed from %s", event, before)
	}
	return after, nil
}

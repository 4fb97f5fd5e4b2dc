package workflow

import "fmt"

// Step is one entry of a case's transition log.
type Step struct {
	From Status
	To   Status
}

// Replay folds steps, in order, starting from the empty state and returns the
// status they lead to. Every step must start where the previous one ended.
func Replay(steps []Step) (Status, error) {
	state := StatusNone
	for i, step := range steps {
		if step.From != state {
			return state, fmt.Errorf("%w: step %d starts at %q, expected %q", ErrReplayMismatch, i+1, step.From, state)
		}
		state = step.To
	}
	return state, nil
}

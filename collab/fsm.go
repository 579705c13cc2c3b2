package collab

import "fmt"

// State tracks where a query is in the collaboration lifecycle.
type State string

const (
	// StateSingleAgent means the primary answer stood on its own.
	StateSingleAgent State = "single_agent"
	// StatePending means low confidence was detected and consultation is
	// being set up.
	StatePending State = "collaboration_pending"
	// StateActive means consulting agents are running.
	StateActive State = "collaboration_active"
	// StateMerged means consulting answers were folded into the final one.
	StateMerged State = "merged"
)

// transitions is the legal state graph. Anything else is a programming
// error, caught loudly rather than silently mis-merged.
var transitions = map[State][]State{
	StatePending: {StateSingleAgent, StateActive},
	StateActive:  {StateMerged},
}

type fsm struct {
	state State
}

func newFSM() *fsm { return &fsm{state: StatePending} }

func (f *fsm) to(next State) error {
	for _, allowed := range transitions[f.state] {
		if allowed == next {
			f.state = next
			return nil
		}
	}
	return fmt.Errorf("illegal collaboration transition %s -> %s", f.state, next)
}

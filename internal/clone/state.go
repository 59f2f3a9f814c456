package clone

import "fmt"

// State is a phase of a clone.
type State int

// Clone states. Complete and Failed are terminal.
const (
	Requested State = iota
	Discovering
	Negotiating
	Transferring
	Persisting
	CheckingOut
	Skipped
	Complete
	Failed
)

var stateNames = [...]string{
	Requested:    "requested",
	Discovering:  "discovering",
	Negotiating:  "negotiating",
	Transferring: "transferring",
	Persisting:   "persisting",
	CheckingOut:  "checking out",
	Skipped:      "skipped",
	Complete:     "complete",
	Failed:       "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Complete || s == Failed
}

// transitions lists the successors of each non-terminal state besides
// Failed, which every non-terminal state may move to. An empty remote goes
// straight from Discovering to Persisting.
var transitions = map[State][]State{
	Requested:    {Discovering},
	Discovering:  {Negotiating, Persisting},
	Negotiating:  {Transferring},
	Transferring: {Persisting},
	Persisting:   {CheckingOut, Skipped},
	CheckingOut:  {Complete},
	Skipped:      {Complete},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == Failed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

package installer

import "time"

// State is a step of an installation run.
type State int

const (
	StateSelectingDestination State = iota
	StateDownloading
	StateExtracting
	StateLocatingRoot
	StateMerging
	StateFlatteningToolchain
	StateCreatingStructure
	StateValidating
	StateCleaningUp
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateSelectingDestination: "SelectingDestination",
	StateDownloading:          "Downloading",
	StateExtracting:           "Extracting",
	StateLocatingRoot:         "LocatingRoot",
	StateMerging:              "Merging",
	StateFlatteningToolchain:  "FlatteningToolchain",
	StateCreatingStructure:    "CreatingStructure",
	StateValidating:           "Validating",
	StateCleaningUp:           "CleaningUp",
	StateDone:                 "Done",
	StateFailed:               "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// MarshalText lets reports encode states by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Transition records entering a state. Archive is set for per-archive
// states.
type Transition struct {
	State   State     `json:"state"`
	Archive string    `json:"archive,omitempty"`
	At      time.Time `json:"at"`
}

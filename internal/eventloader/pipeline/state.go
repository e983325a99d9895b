package pipeline

// State is a stage of the driver loop.
type State int

const (
	Idle State = iota
	Fetching
	Validating
	Writing
	Checkpointing
	ErrorBackoff
	Terminated
)

var stateNames = map[State]string{
	Idle:          "IDLE",
	Fetching:      "FETCHING",
	Validating:    "VALIDATING",
	Writing:       "WRITING",
	Checkpointing: "CHECKPOINTING",
	ErrorBackoff:  "ERROR_BACKOFF",
	Terminated:    "TERMINATED",
}

// AllStates lists every state in loop order.
var AllStates = []State{Idle, Fetching, Validating, Writing, Checkpointing, ErrorBackoff, Terminated}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

func stateLabels() []string {
	labels := make([]string, len(AllStates))
	for i, s := range AllStates {
		labels[i] = s.String()
	}
	return labels
}

package engine

// State is a step of the run state machine.
type State int

// Run states, in the order a successful run visits them. Scanning,
// Filtering and Optimizing repeat once per work item.
const (
	StateIdle State = iota
	StateToolsChecked
	StatePrivilegeChecked
	StateManifestLoaded
	StateScanning
	StateFiltering
	StateOptimizing
	StateManifestSaved
	StateDone
	StateAborted
)

var stateNames = [...]string{
	StateIdle:             "idle",
	StateToolsChecked:     "tools_checked",
	StatePrivilegeChecked: "privilege_checked",
	StateManifestLoaded:   "manifest_loaded",
	StateScanning:         "scanning",
	StateFiltering:        "filtering",
	StateOptimizing:       "optimizing",
	StateManifestSaved:    "manifest_saved",
	StateDone:             "done",
	StateAborted:          "aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

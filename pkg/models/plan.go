package models

// StepTag identifies which specialized node a Step dispatches to.
type StepTag string

const (
	StepSearch  StepTag = "search"
	StepCommand StepTag = "command"
	StepRespond StepTag = "respond"
)

// Step is one element of an ExecutionPlan. Immutable once appended, except
// that the search node may splice a new search Step immediately after the
// current index (§4.5).
type Step struct {
	Tag     StepTag `json:"tag"`
	Purpose string  `json:"purpose"`

	// SearchQuery is set when Tag == StepSearch.
	SearchQuery string `json:"search_query,omitempty"`

	// Domain and CommandDetails are set when Tag == StepCommand.
	Domain         string `json:"domain,omitempty"`
	CommandDetails string `json:"command_details,omitempty"`
}

// ExecutionPlan is the ordered list of steps produced by the planner tier.
// Invariant: len(Steps) >= 1 and the last executed step has Tag == StepRespond.
type ExecutionPlan struct {
	Reasoning      string `json:"reasoning"`
	Steps          []Step `json:"steps"`
	ReplannedCount int    `json:"replanned_count"`
}

// EnsureTerminalRespond appends a respond step if the plan's last step is not
// already one. Planner output that omits the terminal respond step is
// auto-corrected here per §4.4.
func (p *ExecutionPlan) EnsureTerminalRespond() {
	if len(p.Steps) == 0 {
		p.Steps = append(p.Steps, Step{Tag: StepRespond, Purpose: "Provide direct answer"})
		return
	}
	if p.Steps[len(p.Steps)-1].Tag != StepRespond {
		p.Steps = append(p.Steps, Step{Tag: StepRespond, Purpose: "Provide final answer"})
	}
}

// InjectAfter splices a new step immediately after index i, used by the
// search node to chain a refined query (§4.5).
func (p *ExecutionPlan) InjectAfter(i int, step Step) {
	if i < 0 || i > len(p.Steps) {
		return
	}
	p.Steps = append(p.Steps[:i+1], append([]Step{step}, p.Steps[i+1:]...)...)
}

const MaxReplans = 3

// MaxReplansReached reports whether further replan requests must be ignored.
func (p *ExecutionPlan) MaxReplansReached() bool {
	return p.ReplannedCount >= MaxReplans
}

package harness

// TraceEvent is one bus event observed while running a scenario, flattened
// into the fields assertions and golden files care about.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	Event  string `json:"event"`
	Actor  string `json:"actor,omitempty"`
	Entity string `json:"entity,omitempty"`
	Path   string `json:"path,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every bus event observed, in publish order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Final summarizes engine state sizes after the last step.
	Final map[string]int `json:"final"`
}

// NewResult creates an empty passing result.
func NewResult() *Result {
	return &Result{
		Pass:  true,
		Trace: []TraceEvent{},
		Final: make(map[string]int),
	}
}

// AddError records an assertion failure and marks the result failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// AddTrace appends an observed event, stamping its ordinal.
func (r *Result) AddTrace(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}

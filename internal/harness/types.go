package harness

// TraceEvent is one processed scenario event.
type TraceEvent struct {
	Block    uint64 `json:"block"`
	LogIndex uint   `json:"log_index"`
	Contract string `json:"contract"`
	Event    string `json:"event"`
	Outcome  string `json:"outcome"`
	Code     string `json:"code,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace lists the processed events in order.
	Trace []TraceEvent `json:"trace"`

	// Errors describes each failed expectation.
	Errors []string `json:"errors,omitempty"`

	// Counts is the number of rows per entity kind after the run.
	Counts map[string]int64 `json:"counts"`

	// Tree is the rendered domain tree after the run.
	Tree string `json:"tree"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Counts: map[string]int64{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a processed event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

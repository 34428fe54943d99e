package parser

// Result is the outcome of extracting one page.
type Result struct {
	Endpoints []string `json:"endpoints"`
	Forms     []Form   `json:"forms"`
}

// Empty returns a result with both sequences present and empty.
func Empty() *Result {
	return &Result{
		Endpoints: []string{},
		Forms:     []Form{},
	}
}

// Form describes an HTML form. Action is nil when the form declares none.
type Form struct {
	Action *string `json:"action"`
	Method string  `json:"method"`
	Inputs []Input `json:"inputs"`
}

// Input describes one input element of a form. Name is nil when absent.
type Input struct {
	Name *string `json:"name"`
	Type string  `json:"type"`
}

// ActionString returns the action or "" when unset.
func (f Form) ActionString() string {
	if f.Action == nil {
		return ""
	}
	return *f.Action
}

// NameString returns the name or "" when unset.
func (i Input) NameString() string {
	if i.Name == nil {
		return ""
	}
	return *i.Name
}

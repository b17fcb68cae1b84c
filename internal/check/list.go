package check

// List is an ordered list of checks combined with AND.
type List []Check

// Evaluate reports whether every check passes. An empty list passes. The
// first error stops evaluation.
func (l List) Evaluate(t *Target) (bool, error) {
	for _, c := range l {
		ok, err := c.Evaluate(t)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Result is the outcome of one top-level check in an interactive evaluation.
type Result struct {
	Type   Type   `json:"type"`
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}

// Results evaluates every check without short-circuiting, keeping errors inline.
func (l List) Results(t *Target) []Result {
	out := make([]Result, len(l))
	for i, c := range l {
		ok, err := c.Evaluate(t)
		out[i] = Result{Type: c.Type(), Passed: ok}
		if err != nil {
			out[i].Error = err.Error()
		}
	}
	return out
}

// NarrowingNames returns the names of correspondent and document type checks
// at the top level of l. Nested checks are ignored since they do not
// constrain every match.
func NarrowingNames(l List) (correspondents, documentTypes []string) {
	for _, c := range l {
		switch c := c.(type) {
		case *Correspondent:
			correspondents = append(correspondents, c.Name)
		case *DocumentType:
			documentTypes = append(documentTypes, c.Name)
		}
	}
	return correspondents, documentTypes
}

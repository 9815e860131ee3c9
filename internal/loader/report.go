package loader

import (
	"github.com/hashicorp/go-multierror"
)

// Source tells where a candidate was discovered.
type Source string

const (
	SourceLocal  Source = "local"
	SourceGlobal Source = "global"
)

// Outcome is the result of one load attempt.
type Outcome string

const (
	OutcomeInvoked      Outcome = "invoked"
	OutcomeLoadFailed   Outcome = "load-failed"
	OutcomeInvokeFailed Outcome = "invoke-failed"
	OutcomeSkipped      Outcome = "skipped"
)

// Candidate is a plugin directory selected for loading.
type Candidate struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Source Source `json:"source"`
}

// Attempt records what happened to one candidate.
type Attempt struct {
	Candidate
	Outcome Outcome `json:"outcome"`
	Err     error   `json:"-"`
}

// Report lists every attempt of a LoadPlugins call in invocation order.
type Report struct {
	Attempts []Attempt `json:"attempts"`
}

// Count returns the number of attempts with outcome o.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, a := range r.Attempts {
		if a.Outcome == o {
			n++
		}
	}
	return n
}

// Invoked returns the names of the plugins that ran successfully.
func (r *Report) Invoked() []string {
	var names []string
	for _, a := range r.Attempts {
		if a.Outcome == OutcomeInvoked {
			names = append(names, a.Name)
		}
	}
	return names
}

// Err aggregates every load and invocation failure, or returns nil.
func (r *Report) Err() error {
	var result *multierror.Error
	for _, a := range r.Attempts {
		if a.Err != nil {
			result = multierror.Append(result, a.Err)
		}
	}
	return result.ErrorOrNil()
}

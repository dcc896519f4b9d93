// Package protocol drives the news site's search UI: submit a phrase, apply the topic and sort
// filters, then page through the results extracting articles.
package protocol

import "fmt"

// State is where a run currently is. Aborted is reachable from every other state.
type State int

const (
	Idle State = iota
	Searching
	Filtering
	Collecting
	Done
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Searching:
		return "searching"
	case Filtering:
		return "filtering"
	case Collecting:
		return "collecting"
	case Done:
		return "done"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Kind classifies an Outcome.
type Kind int

const (
	// Success means the step completed.
	Success Kind = iota
	// NoMatch is a benign dead end such as "no results" or an unknown topic.
	NoMatch
	// Failure is an unexpected fault; the work item is abandoned.
	Failure
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case NoMatch:
		return "no_match"
	case Failure:
		return "failure"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Outcome is the result of one protocol step.
type Outcome struct {
	Kind   Kind
	Reason string
}

func succeeded() Outcome { return Outcome{Kind: Success} }

func noMatch(format string, args ...any) Outcome {
	return Outcome{Kind: NoMatch, Reason: fmt.Sprintf(format, args...)}
}

func failed(format string, args ...any) Outcome {
	return Outcome{Kind: Failure, Reason: fmt.Sprintf(format, args...)}
}

func (o Outcome) OK() bool { return o.Kind == Success }

func (o Outcome) String() string {
	if o.Reason == "" {
		return o.Kind.String()
	}
	return o.Kind.String() + ": " + o.Reason
}

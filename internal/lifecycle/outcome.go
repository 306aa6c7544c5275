package lifecycle

import "fmt"

// OutcomeKind classifies how a worker finished one claim.
type OutcomeKind int

const (
	// OutcomeOK indicates the stage completed and the job moved forward.
	OutcomeOK OutcomeKind = iota
	// OutcomeRetry indicates an operational failure that should be retried.
	OutcomeRetry
	// OutcomeFailTerminal indicates an unrecoverable failure for this stage.
	OutcomeFailTerminal
	// OutcomeCancelled indicates the job was cancelled while the worker held it.
	OutcomeCancelled
)

// Outcome is the result of processing one claimed job. Workers never let
// errors escape a claim; they fold every failure into one of these.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

// Ok returns a successful outcome.
func Ok() Outcome {
	return Outcome{Kind: OutcomeOK}
}

// Retry returns a retryable failure outcome with a reason.
func Retry(format string, args ...any) Outcome {
	return Outcome{Kind: OutcomeRetry, Reason: fmt.Sprintf(format, args...)}
}

// FailTerminal returns an unrecoverable failure outcome with a reason.
func FailTerminal(format string, args ...any) Outcome {
	return Outcome{Kind: OutcomeFailTerminal, Reason: fmt.Sprintf(format, args...)}
}

// Cancelled returns a cancellation outcome.
func Cancelled() Outcome {
	return Outcome{Kind: OutcomeCancelled, Reason: "cancelled"}
}

// String returns a short description for logging.
func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeOK:
		return "ok"
	case OutcomeRetry:
		return "retry: " + o.Reason
	case OutcomeFailTerminal:
		return "terminal: " + o.Reason
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

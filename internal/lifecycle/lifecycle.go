// Package lifecycle defines the job state machine for the release factory.
// It declares the states a job moves through from import to cleanup, the
// allowed transitions between them, and the coarse stages used for retry
// accounting.
package lifecycle

import (
	"errors"
	"time"
)

// State represents the current position of a job in the pipeline.
type State string

const (
	// StateDraft indicates a user-composed draft not yet submitted.
	StateDraft State = "DRAFT"
	// StateWaitingInputs indicates an imported release whose inputs have not all arrived.
	StateWaitingInputs State = "WAITING_INPUTS"
	// StateReadyForRender indicates the job is eligible for an orchestrator claim.
	StateReadyForRender State = "READY_FOR_RENDER"
	// StateFetchingInputs indicates the orchestrator is staging inputs into the workspace.
	StateFetchingInputs State = "FETCHING_INPUTS"
	// StateRendering indicates the external renderer child is running.
	StateRendering State = "RENDERING"
	// StateRenderFailed indicates rendering failed terminally.
	StateRenderFailed State = "RENDER_FAILED"
	// StateQARunning indicates the output is being validated.
	StateQARunning State = "QA_RUNNING"
	// StateQAFailed indicates QA rejected the output terminally.
	StateQAFailed State = "QA_FAILED"
	// StateUploading indicates the MP4 is being uploaded to the target.
	StateUploading State = "UPLOADING"
	// StateUploadFailed indicates the upload failed terminally.
	StateUploadFailed State = "UPLOAD_FAILED"
	// StateWaitApproval indicates the upload succeeded and a human decision is pending.
	StateWaitApproval State = "WAIT_APPROVAL"
	// StateApproved indicates a human approved the video.
	StateApproved State = "APPROVED"
	// StateRejected indicates a human rejected the video.
	StateRejected State = "REJECTED"
	// StatePublished indicates the video went public; retention countdown started.
	StatePublished State = "PUBLISHED"
	// StateCleaned indicates the retained MP4 was deleted after the retention window.
	StateCleaned State = "CLEANED"
	// StateCancelled indicates the job was cancelled from outside.
	StateCancelled State = "CANCELLED"
)

// ErrInvalidTransition is returned when a disallowed state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
// Any non-terminal state may additionally move to CANCELLED.
// UPLOADING lists itself: a transient upload failure resets the row in place
// (unlock, attempt++, retry_at) without leaving the state.
var validTransitions = map[State][]State{
	StateDraft:          {StateReadyForRender},
	StateWaitingInputs:  {StateReadyForRender},
	StateReadyForRender: {StateFetchingInputs},
	StateFetchingInputs: {StateRendering, StateReadyForRender, StateRenderFailed},
	StateRendering:      {StateQARunning, StateReadyForRender, StateRenderFailed},
	StateRenderFailed:   {},
	StateQARunning:      {StateUploading, StateQAFailed},
	StateQAFailed:       {},
	StateUploading:      {StateWaitApproval, StateUploading, StateUploadFailed},
	StateUploadFailed:   {},
	StateWaitApproval:   {StateApproved, StateRejected, StatePublished},
	StateApproved:       {StatePublished},
	StateRejected:       {},
	StatePublished:      {StateCleaned},
	StateCleaned:        {},
	StateCancelled:      {},
}

// RetentionWindow is how long the MP4 of a published job is kept on disk
// before the cleanup role removes it.
const RetentionWindow = 48 * time.Hour

// Known reports whether s is one of the declared pipeline states.
func Known(s State) bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransition reports whether moving from one state to another is allowed.
func CanTransition(from, to State) bool {
	if to == StateCancelled {
		return !IsTerminal(from)
	}
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no worker or human may move the job further,
// except cleanup of PUBLISHED which is modeled as a transition of its own.
func IsTerminal(s State) bool {
	switch s {
	case StateCancelled, StateRejected, StatePublished, StateCleaned:
		return true
	default:
		return false
	}
}

// IsFailed returns true for the terminal *_FAILED states.
func IsFailed(s State) bool {
	switch s {
	case StateRenderFailed, StateQAFailed, StateUploadFailed:
		return true
	default:
		return false
	}
}

// Stage is the coarse pipeline phase used for retry accounting.
type Stage string

const (
	// StageImport covers draft and import states.
	StageImport Stage = "IMPORT"
	// StageRender covers input staging and rendering.
	StageRender Stage = "RENDER"
	// StageQA covers output validation.
	StageQA Stage = "QA"
	// StageUpload covers delivery to the upload target.
	StageUpload Stage = "UPLOAD"
	// StageApproval covers the human hold and publication.
	StageApproval Stage = "APPROVAL"
	// StageDone covers cleaned and cancelled jobs.
	StageDone Stage = "DONE"
)

// StageFor returns the coarse stage a state belongs to.
func StageFor(s State) Stage {
	switch s {
	case StateDraft, StateWaitingInputs:
		return StageImport
	case StateReadyForRender, StateFetchingInputs, StateRendering, StateRenderFailed:
		return StageRender
	case StateQARunning, StateQAFailed:
		return StageQA
	case StateUploading, StateUploadFailed:
		return StageUpload
	case StateWaitApproval, StateApproved, StateRejected, StatePublished:
		return StageApproval
	default:
		return StageDone
	}
}

// ReadyStateFor returns the state a failed attempt is reset to when retried.
func ReadyStateFor(stage Stage) State {
	switch stage {
	case StageQA:
		return StateQARunning
	case StageUpload:
		return StateUploading
	default:
		return StateReadyForRender
	}
}

// FailedStateFor returns the terminal failed state for a stage.
func FailedStateFor(stage Stage) State {
	switch stage {
	case StageQA:
		return StateQAFailed
	case StageUpload:
		return StateUploadFailed
	default:
		return StateRenderFailed
	}
}

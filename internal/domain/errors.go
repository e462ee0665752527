package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a quiz session has not been started.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuizAlreadyPlayed is returned when the one-time quiz reward was already credited.
	ErrQuizAlreadyPlayed = errors.New("quiz already played")
	// ErrAnswerAlreadyRecorded guards against a click and a timeout racing for the same question.
	ErrAnswerAlreadyRecorded = errors.New("answer already recorded for this question")
	// ErrInvalidOption indicates an answer index outside the question's options.
	ErrInvalidOption = errors.New("option index out of range")
	// ErrInvalidTransition is returned when an action does not apply to the current quiz state.
	ErrInvalidTransition = errors.New("action not allowed in current quiz state")
	// ErrTaskNotFound indicates an unknown task identifier.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskNotEligible is returned when a task is cooling down or already done.
	ErrTaskNotEligible = errors.New("task not eligible")
	// ErrProofRequired is returned when a task must be completed by uploading proof.
	ErrProofRequired = errors.New("task requires proof of completion")
	// ErrNoAccount indicates the client session has not created an account yet.
	ErrNoAccount = errors.New("no account for session")
	// ErrRequestInFlight is returned when the same action is already outstanding.
	ErrRequestInFlight = errors.New("request already in progress")
	// ErrWithdrawalNotEligible is returned when withdrawal preconditions are unmet.
	ErrWithdrawalNotEligible = errors.New("withdrawal not eligible")
)

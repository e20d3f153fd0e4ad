package domain

import "errors"

var (
	// ErrEmptyQuestionText rejects a draft without question text.
	ErrEmptyQuestionText = errors.New("question text is empty")
	// ErrTooFewOptions rejects a draft with fewer than two options.
	ErrTooFewOptions = errors.New("question needs at least two options")
	// ErrEmptyOption rejects a draft with a blank option.
	ErrEmptyOption = errors.New("option text is empty")
	// ErrNoCorrectOption rejects a draft whose correct option is not selected.
	ErrNoCorrectOption = errors.New("no correct option selected")
	// ErrQueueEmpty is returned when the host broadcasts with nothing queued.
	ErrQueueEmpty = errors.New("question queue is empty")
	// ErrBroadcastInFlight is returned while a previous broadcast has not resolved.
	ErrBroadcastInFlight = errors.New("broadcast already in flight")

	// ErrEmptyName rejects a join with a blank name.
	ErrEmptyName = errors.New("name is empty")
	// ErrNotJoined is returned when a participant acts before joining.
	ErrNotJoined = errors.New("participant has not joined")
	// ErrNoOpenQuestion is returned when no question is live.
	ErrNoOpenQuestion = errors.New("no open question")
	// ErrQuestionLocked is returned after the countdown expires.
	ErrQuestionLocked = errors.New("question is locked")
	// ErrAlreadyAnswered is returned on a second submission for the same question.
	ErrAlreadyAnswered = errors.New("already answered this question")
	// ErrUnknownOption is returned when the submitted option is not one of the question's choices.
	ErrUnknownOption = errors.New("option does not belong to the question")

	// ErrBankNotFound indicates the question bank could not be loaded.
	ErrBankNotFound = errors.New("question bank not found")
)

// IsValidation reports whether err is a locally-recoverable input error,
// surfaced inline rather than terminating the session.
func IsValidation(err error) bool {
	for _, v := range []error{
		ErrEmptyQuestionText, ErrTooFewOptions, ErrEmptyOption, ErrNoCorrectOption,
		ErrEmptyName, ErrUnknownOption,
	} {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}

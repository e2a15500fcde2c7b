package session

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"chapter-quiz/internal/quiz"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrOptionOutOfRange  = errors.New("option out of range")
	ErrNotLastQuestion   = errors.New("submit is only allowed on the last question")
	ErrAttemptFinished   = errors.New("attempt already finished")
)

// AttemptState is one learner's progress through a question set. Methods
// return the next state and leave the receiver untouched.
type AttemptState struct {
	AttemptID        string            `json:"attemptId"`
	Answers          []*int            `json:"answers"`
	Current          int               `json:"current"`
	RemainingSeconds int               `json:"remainingSeconds"`
	Finished         bool              `json:"finished"`
	Reason           quiz.FinishReason `json:"reason,omitempty"`
	Score            *int              `json:"score,omitempty"`
}

// NewAttempt starts an attempt with one empty answer slot per question.
func NewAttempt(questionCount, remainingSeconds int) AttemptState {
	if remainingSeconds < 0 {
		remainingSeconds = 0
	}
	return AttemptState{
		AttemptID:        uuid.NewString(),
		Answers:          make([]*int, questionCount),
		RemainingSeconds: remainingSeconds,
	}
}

func (a AttemptState) clone() AttemptState {
	answers := make([]*int, len(a.Answers))
	for idx, answer := range a.Answers {
		if answer != nil {
			value := *answer
			answers[idx] = &value
		}
	}
	a.Answers = answers
	if a.Score != nil {
		score := *a.Score
		a.Score = &score
	}
	return a
}

// SelectAnswer records option at the current question.
func (a AttemptState) SelectAnswer(option, optionCount int) (AttemptState, error) {
	if a.Finished {
		return a, ErrAttemptFinished
	}
	if option < 0 || option >= optionCount {
		return a, errors.Wrapf(ErrOptionOutOfRange, "option %d of %d", option, optionCount)
	}
	if a.Current < 0 || a.Current >= len(a.Answers) {
		return a, ErrInvalidTransition
	}

	next := a.clone()
	next.Answers[next.Current] = &option
	return next, nil
}

// Navigate moves the pointer by delta, clamped to the question set.
func (a AttemptState) Navigate(delta int) (AttemptState, error) {
	if a.Finished {
		return a, ErrAttemptFinished
	}
	target := a.Current + delta
	if target < 0 {
		target = 0
	}
	if last := len(a.Answers) - 1; target > last {
		target = last
	}

	next := a.clone()
	next.Current = target
	return next, nil
}

// Tick takes one second off the clock. expired reports that the clock has
// just reached zero; a finished or already-expired attempt is returned as is.
func (a AttemptState) Tick() (next AttemptState, expired bool) {
	if a.Finished || a.RemainingSeconds <= 0 {
		return a, false
	}
	next = a.clone()
	next.RemainingSeconds--
	return next, next.RemainingSeconds == 0
}

// Finish grades the attempt and freezes it.
func (a AttemptState) Finish(questions []quiz.Question, reason quiz.FinishReason) (AttemptState, quiz.Grade, error) {
	if a.Finished {
		return a, quiz.Grade{}, ErrAttemptFinished
	}
	if !reason.Valid() {
		return a, quiz.Grade{}, errors.Wrapf(ErrInvalidTransition, "finish reason %q", reason)
	}

	next := a.clone()
	grade := quiz.GradeAnswers(questions, next.Answers)
	next.Finished = true
	next.Reason = reason
	next.Score = &grade.Score
	return next, grade, nil
}

// Consistent reports whether the attempt fits a question set of size n.
func (a AttemptState) Consistent(n int) bool {
	if n <= 0 || len(a.Answers) != n {
		return false
	}
	if a.Current < 0 || a.Current >= n || a.RemainingSeconds < 0 {
		return false
	}
	if a.Finished && (a.Score == nil || !a.Reason.Valid()) {
		return false
	}
	return true
}

// ElapsedSeconds is the time used so far out of durationSeconds.
func (a AttemptState) ElapsedSeconds(durationSeconds int) int {
	elapsed := durationSeconds - a.RemainingSeconds
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

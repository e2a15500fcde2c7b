package session

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"chapter-quiz/internal/quiz"
	"chapter-quiz/internal/store"
)

// persistLocked writes one field of the attempt. The in-memory state is kept
// when the write fails.
func (s *Session) persistLocked(ctx context.Context, field string, value any) error {
	if err := store.SetJSON(ctx, s.opts.Store, store.Key(s.opts.ChapterID, field), value); err != nil {
		s.log.WithError(err).WithField("field", field).Warn("persist failed")
		return fmt.Errorf("%w: %s: %w", ErrPersist, field, err)
	}
	return nil
}

func (s *Session) persistFieldsLocked(ctx context.Context, fields []persistedField) error {
	var firstErr error
	for _, f := range fields {
		if err := s.persistLocked(ctx, f.name, f.value); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type persistedField struct {
	name  string
	value any
}

// persistAllLocked writes everything a later session needs to resume.
func (s *Session) persistAllLocked(ctx context.Context) error {
	return s.persistFieldsLocked(ctx, []persistedField{
		{store.FieldDefinition, s.def},
		{store.FieldQuestions, s.questions},
		{store.FieldAttempt, s.attempt.AttemptID},
		{store.FieldAnswers, s.attempt.Answers},
		{store.FieldCurrent, s.attempt.Current},
		{store.FieldRemaining, s.attempt.RemainingSeconds},
		{store.FieldFinished, s.attempt.Finished},
	})
}

// persistAttemptLocked writes the fields that change when an attempt ends.
func (s *Session) persistAttemptLocked(ctx context.Context) error {
	return s.persistFieldsLocked(ctx, []persistedField{
		{store.FieldAnswers, s.attempt.Answers},
		{store.FieldRemaining, s.attempt.RemainingSeconds},
		{store.FieldReason, s.attempt.Reason},
		{store.FieldScore, s.attempt.Score},
		{store.FieldFinished, s.attempt.Finished},
	})
}

// restore resumes a persisted attempt. It returns false when nothing usable
// is stored; partial or inconsistent data is treated the same as none.
func (s *Session) restore(ctx context.Context) bool {
	var (
		def       quiz.Definition
		questions []quiz.Question
		attempt   AttemptState
	)

	st := s.opts.Store
	key := func(field string) string { return store.Key(s.opts.ChapterID, field) }

	if !store.GetJSON(ctx, st, key(store.FieldDefinition), &def) {
		return false
	}
	complete := store.GetJSON(ctx, st, key(store.FieldQuestions), &questions) &&
		store.GetJSON(ctx, st, key(store.FieldAttempt), &attempt.AttemptID) &&
		store.GetJSON(ctx, st, key(store.FieldAnswers), &attempt.Answers) &&
		store.GetJSON(ctx, st, key(store.FieldCurrent), &attempt.Current) &&
		store.GetJSON(ctx, st, key(store.FieldRemaining), &attempt.RemainingSeconds) &&
		store.GetJSON(ctx, st, key(store.FieldFinished), &attempt.Finished)
	if !complete {
		s.log.Warn("stored attempt is incomplete, starting over")
		return false
	}
	if attempt.Finished {
		store.GetJSON(ctx, st, key(store.FieldReason), &attempt.Reason)
		store.GetJSON(ctx, st, key(store.FieldScore), &attempt.Score)
	} else if s.hasField(ctx, store.FieldReason) || s.hasField(ctx, store.FieldScore) {
		// A result only exists for a finished attempt.
		s.log.Warn("stored attempt has a result but is not finished, starting over")
		return false
	}

	if reason := inconsistency(def, questions, attempt); reason != "" {
		s.log.WithField("reason", reason).Warn("stored attempt is inconsistent, starting over")
		return false
	}

	s.mu.Lock()
	if s.status != StatusLoading {
		s.mu.Unlock()
		return false
	}
	s.def = def
	s.questions = questions
	s.attempt = attempt
	s.err = nil
	s.result = nil

	fields := logrus.Fields{
		"quiz_id":    def.ID,
		"attempt_id": attempt.AttemptID,
		"current":    attempt.Current,
		"remaining":  attempt.RemainingSeconds,
	}

	switch {
	case attempt.Finished:
		// The stored score stands; grading only rebuilds the review items.
		grade := quiz.GradeAnswers(questions, attempt.Answers)
		grade.Score = *attempt.Score
		s.status = StatusFinished
		s.result = &Result{
			AttemptID: attempt.AttemptID,
			Reason:    attempt.Reason,
			Grade:     grade,
		}
		s.mu.Unlock()
		s.log.WithFields(fields).Info("restored finished attempt")
		return true

	case attempt.RemainingSeconds == 0:
		// Time ran out while the quiz was closed.
		s.status = StatusPlaying
		pending, err := s.finishLocked(ctx, quiz.ReasonTimeout)
		s.mu.Unlock()
		s.log.WithFields(fields).Info("restored attempt had expired")
		if err != nil {
			s.log.WithError(err).Warn("expired attempt not fully persisted")
		}
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			s.submitRemote(s.baseCtx, pending)
		}()
		return true

	default:
		s.status = StatusPlaying
		s.mu.Unlock()
		s.log.WithFields(fields).Info("resumed attempt")
		s.timer.Start()
		return true
	}
}

func (s *Session) hasField(ctx context.Context, field string) bool {
	_, ok := s.opts.Store.Get(ctx, store.Key(s.opts.ChapterID, field))
	return ok
}

func inconsistency(def quiz.Definition, questions []quiz.Question, attempt AttemptState) string {
	if def.ID == "" {
		return "missing quiz id"
	}
	if attempt.AttemptID == "" {
		return "missing attempt id"
	}
	if !attempt.Consistent(len(questions)) {
		return "attempt does not match question set"
	}
	if attempt.RemainingSeconds > def.DurationSeconds() {
		return "remaining time exceeds quiz duration"
	}
	if attempt.Finished && (*attempt.Score < 0 || *attempt.Score > len(questions)) {
		return "stored score out of range"
	}
	for idx, answer := range attempt.Answers {
		if answer == nil {
			continue
		}
		if *answer < 0 || *answer >= len(questions[idx].Options) {
			return fmt.Sprintf("answer %d out of range", idx)
		}
	}
	return ""
}

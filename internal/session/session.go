// Package session runs one timed, resumable chapter-quiz attempt.
//
// A Session moves through loading, playing and finished, with an error state
// reachable from loading. Every mutation of the attempt is written to the
// store before the call returns, so a new Session for the same chapter picks
// up exactly where the previous one stopped. Timer ticks and learner actions
// are serialized by one mutex and each runs to completion.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"chapter-quiz/internal/quiz"
	"chapter-quiz/internal/retry"
	"chapter-quiz/internal/store"
)

type Status string

const (
	StatusLoading  Status = "loading"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
	StatusError    Status = "error"
)

var (
	ErrFetch       = errors.New("quiz could not be loaded")
	ErrNoQuestions = errors.New("this quiz has no questions yet")
	ErrPersist     = errors.New("progress could not be saved")
)

type QuizSource interface {
	FetchChapterQuiz(ctx context.Context, chapterID string) (quiz.Definition, error)
}

type Submitter interface {
	SubmitAttempt(ctx context.Context, quizID string, request quiz.SubmissionRequest) (quiz.Submission, error)
}

// Result is what the learner sees once an attempt is finished. Warning is set
// when the remote submission failed; the local grade is still authoritative.
type Result struct {
	AttemptID string
	Reason    quiz.FinishReason
	Grade     quiz.Grade
	Remote    *quiz.Submission
	Warning   string
}

type Options struct {
	ChapterID string
	Store     store.Store
	Source    QuizSource
	// Submitter is optional; without it results stay local.
	Submitter    Submitter
	Retry        retry.Policy
	MaxQuestions int
	Rand         *rand.Rand
	TickInterval time.Duration
	NewTicker    func(time.Duration) Ticker
	// OnFinish is called outside the session lock after a finished attempt's
	// submission settles, whether the learner submitted or time ran out.
	OnFinish func(Result)
	Logger   logrus.FieldLogger
}

// Snapshot is a copy of the session state for rendering.
type Snapshot struct {
	Status    Status
	ChapterID string
	Quiz      quiz.Definition
	Questions []quiz.Question
	Attempt   AttemptState
	Err       error
	Result    *Result
}

// pendingSubmission is a finished attempt waiting to be sent.
type pendingSubmission struct {
	quizID  string
	request quiz.SubmissionRequest
}

type Session struct {
	opts  Options
	log   logrus.FieldLogger
	timer *Timer

	baseCtx    context.Context
	cancelBase context.CancelFunc
	pending    sync.WaitGroup

	mu        sync.Mutex
	status    Status
	def       quiz.Definition
	questions []quiz.Question
	attempt   AttemptState
	err       error
	result    *Result
	// loading is set while a Load call owns the loading state.
	loading bool
}

func New(opts Options) (*Session, error) {
	if opts.ChapterID == "" {
		return nil, errors.New("chapter id is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Source == nil {
		return nil, errors.New("quiz source is required")
	}
	if opts.MaxQuestions <= 0 {
		opts.MaxQuestions = quiz.DefaultMaxQuestions
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.BaseDelay == 0 {
		sleep := opts.Retry.Sleep
		opts.Retry = retry.Default()
		opts.Retry.Sleep = sleep
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:       opts,
		log:        opts.Logger.WithField("chapter_id", opts.ChapterID),
		baseCtx:    baseCtx,
		cancelBase: cancel,
		status:     StatusLoading,
	}
	s.timer = NewTimer(opts.TickInterval, opts.NewTicker, s.Tick)
	return s, nil
}

// Load resolves the quiz and enters playing, resuming a persisted attempt
// when one is readable and starting a fresh one otherwise.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusLoading {
		s.mu.Unlock()
		return errors.Wrapf(ErrInvalidTransition, "load from %s", s.status)
	}
	if s.loading {
		s.mu.Unlock()
		return errors.Wrap(ErrInvalidTransition, "load already in progress")
	}
	s.loading = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	if s.restore(ctx) {
		return nil
	}

	if err := s.opts.Store.ClearAll(ctx, s.opts.ChapterID); err != nil {
		s.log.WithError(err).Warn("could not clear stale attempt")
	}

	var def quiz.Definition
	err := s.opts.Retry.Do(ctx, func(ctx context.Context) error {
		fetched, err := s.opts.Source.FetchChapterQuiz(ctx, s.opts.ChapterID)
		if err != nil {
			s.log.WithError(err).Warn("quiz fetch failed")
			return err
		}
		def = fetched
		return nil
	})
	if err == nil {
		def = def.WithQuestionIDs()
		err = def.Validate()
	}
	if err != nil {
		return s.fail(fmt.Errorf("%w: %w", ErrFetch, err))
	}

	questions := quiz.BuildQuestionSet(def, s.opts.MaxQuestions, s.opts.Rand)
	if len(questions) == 0 {
		return s.fail(ErrNoQuestions)
	}

	s.mu.Lock()
	s.def = def
	s.questions = questions
	s.attempt = NewAttempt(len(questions), def.DurationSeconds())
	s.status = StatusPlaying
	s.err = nil
	s.result = nil
	persistErr := s.persistAllLocked(ctx)
	attemptID := s.attempt.AttemptID
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"quiz_id":    def.ID,
		"attempt_id": attemptID,
		"questions":  len(questions),
	}).Info("attempt started")

	s.timer.Start()
	return persistErr
}

// Retry leaves the error state by loading again.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusError {
		s.mu.Unlock()
		return errors.Wrapf(ErrInvalidTransition, "retry from %s", s.status)
	}
	s.status = StatusLoading
	s.err = nil
	s.mu.Unlock()

	return s.Load(ctx)
}

func (s *Session) SelectAnswer(ctx context.Context, option int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusPlaying {
		return errors.Wrapf(ErrInvalidTransition, "select answer while %s", s.status)
	}
	optionCount := len(s.questions[s.attempt.Current].Options)
	next, err := s.attempt.SelectAnswer(option, optionCount)
	if err != nil {
		return err
	}
	s.attempt = next
	return s.persistLocked(ctx, store.FieldAnswers, s.attempt.Answers)
}

// Navigate moves the question pointer by delta within the question set.
func (s *Session) Navigate(ctx context.Context, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusPlaying {
		return errors.Wrapf(ErrInvalidTransition, "navigate while %s", s.status)
	}
	next, err := s.attempt.Navigate(delta)
	if err != nil {
		return err
	}
	s.attempt = next
	return s.persistLocked(ctx, store.FieldCurrent, s.attempt.Current)
}

func (s *Session) Next(ctx context.Context) error     { return s.Navigate(ctx, 1) }
func (s *Session) Previous(ctx context.Context) error { return s.Navigate(ctx, -1) }

// Tick takes one second off the attempt. It reports whether the session is
// still playing afterwards; reaching zero finishes the attempt with a timeout.
func (s *Session) Tick() bool {
	s.mu.Lock()
	if s.status != StatusPlaying {
		s.mu.Unlock()
		return false
	}

	next, expired := s.attempt.Tick()
	if next.RemainingSeconds == s.attempt.RemainingSeconds && !expired {
		s.mu.Unlock()
		return true
	}
	s.attempt = next
	if err := s.persistLocked(s.baseCtx, store.FieldRemaining, s.attempt.RemainingSeconds); err != nil {
		s.log.WithError(err).Warn("tick not persisted")
	}
	if !expired {
		s.mu.Unlock()
		return true
	}

	pending, err := s.finishLocked(s.baseCtx, quiz.ReasonTimeout)
	s.mu.Unlock()
	if err != nil && !errors.Is(err, ErrPersist) {
		s.log.WithError(err).Error("timeout finish failed")
		return false
	}

	s.log.WithField("attempt_id", pending.request.AttemptID).Info("time expired")
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		s.submitRemote(s.baseCtx, pending)
	}()
	return false
}

// Submit finishes the attempt on the learner's request. It is only allowed
// on the last question. A failed remote submission is reported in
// Result.Warning, not as an error.
func (s *Session) Submit(ctx context.Context) (Result, error) {
	s.mu.Lock()
	if s.status != StatusPlaying {
		s.mu.Unlock()
		return Result{}, errors.Wrapf(ErrInvalidTransition, "submit while %s", s.status)
	}
	if s.attempt.Current != len(s.questions)-1 {
		s.mu.Unlock()
		return Result{}, ErrNotLastQuestion
	}

	pending, err := s.finishLocked(ctx, quiz.ReasonManual)
	s.mu.Unlock()
	s.timer.Stop()
	if err != nil && !errors.Is(err, ErrPersist) {
		return Result{}, err
	}

	s.log.WithField("attempt_id", pending.request.AttemptID).Info("attempt submitted by learner")
	return s.submitRemote(ctx, pending), err
}

// RetrySubmission sends a finished attempt whose remote submission failed.
func (s *Session) RetrySubmission(ctx context.Context) (Result, error) {
	s.mu.Lock()
	if s.status != StatusFinished || s.result == nil {
		s.mu.Unlock()
		return Result{}, errors.Wrapf(ErrInvalidTransition, "retry submission while %s", s.status)
	}
	if s.result.Remote != nil {
		result := *s.result
		s.mu.Unlock()
		return result, nil
	}
	pending := s.pendingSubmissionLocked()
	s.mu.Unlock()

	return s.submitRemote(ctx, pending), nil
}

// Restart discards the finished attempt and starts a new one with a freshly
// sampled question set and the full configured duration.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusFinished {
		s.mu.Unlock()
		return errors.Wrapf(ErrInvalidTransition, "restart while %s", s.status)
	}

	if err := s.opts.Store.ClearAll(ctx, s.opts.ChapterID); err != nil {
		s.log.WithError(err).Warn("could not clear finished attempt")
	}
	s.questions = quiz.BuildQuestionSet(s.def, s.opts.MaxQuestions, s.opts.Rand)
	s.attempt = NewAttempt(len(s.questions), s.def.DurationSeconds())
	s.result = nil
	s.status = StatusPlaying
	persistErr := s.persistAllLocked(ctx)
	attemptID := s.attempt.AttemptID
	s.mu.Unlock()

	s.log.WithField("attempt_id", attemptID).Info("attempt restarted")
	s.timer.Start()
	return persistErr
}

// Proceed is called when the learner leaves a completed quiz. The stored
// attempt is dropped and the session returns to loading.
func (s *Session) Proceed(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusFinished {
		return errors.Wrapf(ErrInvalidTransition, "proceed while %s", s.status)
	}
	if err := s.opts.Store.ClearAll(ctx, s.opts.ChapterID); err != nil {
		return errors.Wrap(err, "clear attempt")
	}
	s.status = StatusLoading
	s.def = quiz.Definition{}
	s.questions = nil
	s.attempt = AttemptState{}
	s.result = nil
	return nil
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := Snapshot{
		Status:    s.status,
		ChapterID: s.opts.ChapterID,
		Quiz:      s.def,
		Questions: append([]quiz.Question(nil), s.questions...),
		Attempt:   s.attempt.clone(),
		Err:       s.err,
	}
	if s.result != nil {
		result := *s.result
		snapshot.Result = &result
	}
	return snapshot
}

// Wait blocks until background submissions triggered by a timeout settle.
func (s *Session) Wait() {
	s.pending.Wait()
}

// Close stops the timer and abandons in-flight background submissions. The
// stored attempt is kept for the next session.
func (s *Session) Close() {
	s.timer.Stop()
	s.cancelBase()
	s.pending.Wait()
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.status = StatusError
	s.err = err
	s.mu.Unlock()

	s.log.WithError(err).Error("quiz unavailable")
	return err
}

// finishLocked grades and persists a finished attempt and returns what the
// remote submission needs.
func (s *Session) finishLocked(ctx context.Context, reason quiz.FinishReason) (pendingSubmission, error) {
	next, grade, err := s.attempt.Finish(s.questions, reason)
	if err != nil {
		return pendingSubmission{}, err
	}
	s.attempt = next
	s.status = StatusFinished
	s.result = &Result{
		AttemptID: next.AttemptID,
		Reason:    reason,
		Grade:     grade,
	}

	pending := s.pendingSubmissionLocked()
	return pending, s.persistAttemptLocked(ctx)
}

func (s *Session) pendingSubmissionLocked() pendingSubmission {
	questionIDs := make([]string, 0, len(s.questions))
	for _, question := range s.questions {
		questionIDs = append(questionIDs, question.ID)
	}
	return pendingSubmission{
		quizID: s.def.ID,
		request: quiz.SubmissionRequest{
			AttemptID:      s.attempt.AttemptID,
			ChapterID:      s.opts.ChapterID,
			QuestionIDs:    questionIDs,
			Answers:        s.attempt.clone().Answers,
			ElapsedSeconds: s.attempt.ElapsedSeconds(s.def.DurationSeconds()),
			Reason:         s.attempt.Reason,
		},
	}
}

func (s *Session) submitRemote(ctx context.Context, pending pendingSubmission) Result {
	var (
		request = pending.request
		remote  quiz.Submission
		err     error
	)
	if s.opts.Submitter != nil {
		err = s.opts.Retry.Do(ctx, func(ctx context.Context) error {
			var submitErr error
			remote, submitErr = s.opts.Submitter.SubmitAttempt(ctx, pending.quizID, request)
			return submitErr
		})
	}

	s.mu.Lock()
	if s.result == nil || s.result.AttemptID != request.AttemptID {
		// The attempt was restarted or left while the submission was in flight.
		s.mu.Unlock()
		return Result{}
	}
	switch {
	case s.opts.Submitter == nil:
	case err != nil:
		s.result.Warning = "Your score was saved on this device, but it could not be sent: " + err.Error()
		s.log.WithError(err).WithField("attempt_id", request.AttemptID).Warn("remote submission failed")
	default:
		s.result.Remote = &remote
		s.result.Warning = ""
		if remote.Score != s.result.Grade.Score {
			s.log.WithFields(logrus.Fields{
				"attempt_id":   request.AttemptID,
				"local_score":  s.result.Grade.Score,
				"remote_score": remote.Score,
			}).Warn("remote grade differs from local grade")
		}
	}
	result := *s.result
	s.mu.Unlock()

	if s.opts.OnFinish != nil {
		s.opts.OnFinish(result)
	}
	return result
}

package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chapter-quiz/internal/quiz"
	"chapter-quiz/internal/retry"
	"chapter-quiz/internal/store"
)

const chapterID = "ch-7"

type fakeSource struct {
	mu    sync.Mutex
	def   quiz.Definition
	err   error
	calls int
}

func (f *fakeSource) FetchChapterQuiz(_ context.Context, chapter string) (quiz.Definition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return quiz.Definition{}, f.err
	}
	def := f.def
	def.ChapterID = chapter
	return def, nil
}

func (f *fakeSource) set(def quiz.Definition, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.def = def
	f.err = err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSubmitter struct {
	mu       sync.Mutex
	err      error
	requests []quiz.SubmissionRequest
	quizIDs  []string
}

func (f *fakeSubmitter) SubmitAttempt(_ context.Context, quizID string, request quiz.SubmissionRequest) (quiz.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, request)
	f.quizIDs = append(f.quizIDs, quizID)
	if f.err != nil {
		return quiz.Submission{}, f.err
	}
	return quiz.Submission{
		ID:        "sub-1",
		QuizID:    quizID,
		AttemptID: request.AttemptID,
		Reason:    request.Reason,
		Total:     len(request.Answers),
	}, nil
}

func (f *fakeSubmitter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSubmitter) calls() []quiz.SubmissionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]quiz.SubmissionRequest(nil), f.requests...)
}

func twoQuestionQuiz() quiz.Definition {
	return quiz.Definition{
		ID:       "qz_1",
		Title:    "Chapter seven",
		Duration: 1,
		Questions: []quiz.Question{
			{ID: "q1", Question: "Capital of France?", Options: []string{"Paris", "Rome", "Oslo"}, CorrectAnswer: 0, Details: "Paris"},
			{ID: "q2", Question: "2 + 2?", Options: []string{"3", "4"}, CorrectAnswer: 1},
		},
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

type fixture struct {
	store     *store.Memory
	source    *fakeSource
	submitter *fakeSubmitter
	tickers   *tickerFactory

	mu       sync.Mutex
	finished []Result
}

func newFixture(def quiz.Definition) *fixture {
	return &fixture{
		store:     store.NewMemory(),
		source:    &fakeSource{def: def},
		submitter: &fakeSubmitter{},
		tickers:   &tickerFactory{},
	}
}

func (f *fixture) open(t *testing.T) *Session {
	t.Helper()
	logger, _ := test.NewNullLogger()
	s, err := New(Options{
		ChapterID: chapterID,
		Store:     f.store,
		Source:    f.source,
		Submitter: f.submitter,
		Retry:     retry.Policy{MaxRetries: 3, BaseDelay: time.Second, Multiplier: 2, Sleep: noSleep},
		Rand:      rand.New(rand.NewSource(1)),
		NewTicker: f.tickers.New,
		OnFinish: func(result Result) {
			f.mu.Lock()
			f.finished = append(f.finished, result)
			f.mu.Unlock()
		},
		Logger: logger,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func (f *fixture) finishedResults() []Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Result(nil), f.finished...)
}

// answerCorrectly selects the right option on every question and ends on the last one.
func answerCorrectly(t *testing.T, s *Session) {
	t.Helper()
	ctx := context.Background()
	snapshot := s.Snapshot()
	for idx, question := range snapshot.Questions {
		require.NoError(t, s.SelectAnswer(ctx, question.CorrectAnswer))
		if idx < len(snapshot.Questions)-1 {
			require.NoError(t, s.Next(ctx))
		}
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{Store: store.NewMemory(), Source: &fakeSource{}})
	assert.Error(t, err)
	_, err = New(Options{ChapterID: chapterID, Source: &fakeSource{}})
	assert.Error(t, err)
	_, err = New(Options{ChapterID: chapterID, Store: store.NewMemory()})
	assert.Error(t, err)
}

func TestLoadStartsFreshAttempt(t *testing.T) {
	f := newFixture(twoQuestionQuiz())
	s := f.open(t)

	require.NoError(t, s.Load(context.Background()))

	snapshot := s.Snapshot()
	assert.Equal(t, StatusPlaying, snapshot.Status)
	assert.Len(t, snapshot.Questions, 2)
	assert.Len(t, snapshot.Attempt.Answers, 2)
	assert.Equal(t, 60, snapshot.Attempt.RemainingSeconds)
	assert.Equal(t, 0, snapshot.Attempt.Current)
	assert.NotEmpty(t, snapshot.Attempt.AttemptID)

	for _, key := range []string{store.FieldDefinition, store.FieldQuestions, store.FieldAnswers, store.FieldCurrent, store.FieldRemaining, store.FieldAttempt} {
		_, ok := f.store.Get(context.Background(), store.Key(chapterID, key))
		assert.True(t, ok, "missing %s", key)
	}
	assert.Equal(t, 1, f.tickers.count(), "timer should start")
}

func TestLoadLimitsQuestionSet(t *testing.T) {
	def := twoQuestionQuiz()
	def.Questions = nil
	for i := 0; i < 15; i++ {
		def.Questions = append(def.Questions, quiz.Question{
			Question: "Question " + string(rune('A'+i)),
			Options:  []string{"yes", "no"},
		})
	}
	f := newFixture(def)
	s := f.open(t)

	require.NoError(t, s.Load(context.Background()))

	snapshot := s.Snapshot()
	require.Len(t, snapshot.Questions, quiz.DefaultMaxQuestions)
	seen := map[string]bool{}
	for _, question := range snapshot.Questions {
		assert.NotEmpty(t, question.ID)
		assert.False(t, seen[question.ID], "duplicate question %s", question.ID)
		seen[question.ID] = true
	}
}

func TestSelectAndNavigatePersist(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz())
	s := f.open(t)
	require.NoError(t, s.Load(ctx))

	require.NoError(t, s.SelectAnswer(ctx, 1))
	require.NoError(t, s.Next(ctx))
	require.NoError(t, s.Next(ctx))

	var answers []*int
	require.True(t, store.GetJSON(ctx, f.store, store.Key(chapterID, store.FieldAnswers), &answers))
	require.Len(t, answers, 2)
	require.NotNil(t, answers[0])
	assert.Equal(t, 1, *answers[0])
	assert.Nil(t, answers[1])

	var current int
	require.True(t, store.GetJSON(ctx, f.store, store.Key(chapterID, store.FieldCurrent), &current))
	assert.Equal(t, 1, current, "pointer clamps at the last question")

	require.NoError(t, s.Previous(ctx))
	assert.Equal(t, 0, s.Snapshot().Attempt.Current)
}

func TestSelectAnswerOutOfRange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz())
	s := f.open(t)
	require.NoError(t, s.Load(ctx))

	err := s.SelectAnswer(ctx, 3)
	assert.True(t, errors.Is(err, ErrOptionOutOfRange))
	assert.Nil(t, s.Snapshot().Attempt.Answers[0])
}

func TestActionsOutsidePlayingAreRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz())
	s := f.open(t)

	assert.True(t, errors.Is(s.SelectAnswer(ctx, 0), ErrInvalidTransition))
	assert.True(t, errors.Is(s.Next(ctx), ErrInvalidTransition))
	_, err := s.Submit(ctx)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.True(t, errors.Is(s.Restart(ctx), ErrInvalidTransition))
	assert.True(t, errors.Is(s.Retry(ctx), ErrInvalidTransition))
	assert.False(t, s.Tick())
}

func TestSubmitRequiresLastQuestion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz())
	s := f.open(t)
	require.NoError(t, s.Load(ctx))

	_, err := s.Submit(ctx)
	assert.True(t, errors.Is(err, ErrNotLastQuestion))
	assert.Equal(t, StatusPlaying, s.Snapshot().Status)
}

func TestSubmitGradesAndSendsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz())
	s := f.open(t)
	require.NoError(t, s.Load(ctx))

	answerCorrectly(t, s)
	result, err := s.Submit(ctx)
	require.NoError(t, err)

	assert.Equal(t, quiz.ReasonManual, result.Reason)
	assert.Equal(t, 2, result.Grade.Score)
	assert.Equal(t, 2, result.Grade.Total)
	assert.Empty(t, result.Warning)
	require.NotNil(t, result.Remote)
	assert.Equal(t, "sub-1", result.Remote.ID)

	calls := f.submitter.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, result.AttemptID, calls[0].AttemptID)
	assert.Equal(t, chapterID, calls[0].ChapterID)
	assert.Len(t, calls[0].QuestionIDs, 2)
	assert.Equal(t, quiz.ReasonManual, calls[0].Reason)

	snapshot := s.Snapshot()
	assert.Equal(t, StatusFinished, snapshot.Status)
	assert.True(t, snapshot.Attempt.Finished)
	assert.Len(t, f.finishedResults(), 1)

	// Finished attempts take no more input and the clock is stopped.
	assert.True(t, errors.Is(s.SelectAnswer(ctx, 0), ErrInvalidTransition))
	assert.False(t, s.Tick())
	assert.Equal(t, snapshot.Attempt.RemainingSeconds, s.Snapshot().Attempt.RemainingSeconds)
}

func TestTimeoutFinishesAtZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz())
	s := f.open(t)
	require.NoError(t, s.Load(ctx))
	require.NoError(t, s.SelectAnswer(ctx, s.Snapshot().Questions[0].CorrectAnswer))

	for i := 0; i < 59; i++ {
		require.True(t, s.Tick(), "tick %d ended the attempt early", i)
	}
	assert.Equal(t, 1, s.Snapshot().Attempt.RemainingSeconds)

	assert.False(t, s.Tick())
	s.Wait()

	snapshot := s.Snapshot()
	assert.Equal(t, StatusFinished, snapshot.Status)
	assert.Equal(t, 0, snapshot.Attempt.RemainingSeconds)
	require.NotNil(t, snapshot.Result)
	assert.Equal(t, quiz.ReasonTimeout, snapshot.Result.Reason)
	assert.Equal(t, 1, snapshot.Result.Grade.Score)
	assert.NotNil(t, snapshot.Result.Remote)

	calls := f.submitter.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, quiz.ReasonTimeout, calls[0].Reason)
	assert.Equal(t, 60, calls[0].ElapsedSeconds)

	finished := f.finishedResults()
	require.Len(t, finished, 1)
	assert.Equal(t, quiz.ReasonTimeout, finished[0].Reason)

	// No ticks after finish and never below zero.
	assert.False(t, s.Tick())
	assert.Equal(t, 0, s.Snapshot().Attempt.RemainingSeconds)
	assert.Len(t, f.submitter.calls(), 1)

	var remaining int
	require.True(t, store.GetJSON(ctx, f.store, store.Key(chapterID, store.FieldRemaining), &remaining))
	assert.Equal(t, 0, remaining)
}

func TestTimerDrivesTicks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz())
	s := f.open(t)
	require.NoError(t, s.Load(ctx))

	ticker := f.tickers.last()
	for i := 0; i < 3; i++ {
		ticker.c <- time.Now()
	}

	require.Eventually(t, func() bool {
		return s.Snapshot().Attempt.RemainingSeconds <= 57
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReloadResumesAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz())

	first := f.open(t)
	require.NoError(t, first.Load(ctx))
	require.NoError(t, first.SelectAnswer(ctx, 1))
	require.NoError(t, first.Next(ctx))
	for i := 0; i < 15; i++ {
		require.True(t, first.Tick())
	}
	before := first.Snapshot()
	first.Close()

	second := f.open(t)
	require.NoError(t, second.Load(ctx))

	after := second.Snapshot()
	assert.Equal(t, StatusPlaying, after.Status)
	assert.Equal(t, before.Attempt.AttemptID, after.Attempt.AttemptID)
	assert.Equal(t, 1, after.Attempt.Current)
	assert.Equal(t, 45, after.Attempt.RemainingSeconds)
	require.NotNil(t, after.Attempt.Answers[0])
	assert.Equal(t, 1, *after.Attempt.Answers[0])
	assert.Equal(t, before.Questions, after.Questions)
	assert.Equal(t, 1, f.source.callCount(), "resume should not refetch")
}

func TestCorruptStorageStartsOver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz())

	first := f.open(t)
	require.NoError(t, first.Load(ctx))
	oldAttempt := first.Snapshot().Attempt.AttemptID
	first.Close()

	require.NoError(t, f.store.Set(ctx, store.Key(chapterID, store.FieldAnswers), "{not json"))

	second := f.open(t)
	require.NoError(t, second.Load(ctx))

	snapshot := second.Snapshot()
	assert.Equal(t, StatusPlaying, snapshot.Status)
	assert.NotEqual(t, oldAttempt, snapshot.Attempt.AttemptID)
	assert.Equal(t, 60, snapshot.Attempt.RemainingSeconds)
	assert.Equal(t, 2, f.source.callCount())
}

func TestCorruptFinishedFlagStartsOver(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(t *testing.T, st *store.Memory)
	}{
		{
			name: "unreadable flag",
			tamper: func(t *testing.T, st *store.Memory) {
				require.NoError(t, st.Set(context.Background(), store.Key(chapterID, store.FieldFinished), "{garbage"))
			},
		},
		{
			name: "missing flag",
			tamper: func(t *testing.T, st *store.Memory) {
				require.NoError(t, st.Remove(context.Background(), store.Key(chapterID, store.FieldFinished)))
			},
		},
		{
			name: "result without flag",
			tamper: func(t *testing.T, st *store.Memory) {
				require.NoError(t, st.Set(context.Background(), store.Key(chapterID, store.FieldFinished), "false"))
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(twoQuestionQuiz())

			first := f.open(t)
			require.NoError(t, first.Load(ctx))
			answerCorrectly(t, first)
			submitted, err := first.Submit(ctx)
			require.NoError(t, err)
			first.Close()

			tc.tamper(t, f.store)

			second := f.open(t)
			require.NoError(t, second.Load(ctx))

			snapshot := second.Snapshot()
			assert.Equal(t, StatusPlaying, snapshot.Status)
			assert.NotEqual(t, submitted.AttemptID, snapshot.Attempt.AttemptID)
			assert.Equal(t, 60, snapshot.Attempt.RemainingSeconds)
			for _, answer := range snapshot.Attempt.Answers {
				assert.Nil(t, answer)
			}
			assert.Equal(t, 2, f.source.callCount())
			_, ok := f.store.Get(ctx, store.Key(chapterID, store.FieldScore))
			assert.False(t, ok, "old score should be cleared")
		})
	}
}

func TestInconsistentStorageStartsOver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz())

	first := f.open(t)
	require.NoError(t, first.Load(ctx))
	oldAttempt := first.Snapshot().Attempt.AttemptID
	first.Close()

	// Three answer slots for a two-question set.
	require.NoError(t, f.store.Set(ctx, store.Key(chapterID, store.FieldAnswers), "[null,null,null]"))

	second := f.open(t)
	require.NoError(t, second.Load(ctx))
	snapshot := second.Snapshot()
	assert.NotEqual(t, oldAttempt, snapshot.Attempt.AttemptID)
	assert.Len(t, snapshot.Attempt.Answers, 2)
}

func TestReloadAfterExpiryFinishesWithTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz())

	first := f.open(t)
	require.NoError(t, first.Load(ctx))
	first.Close()
	require.NoError(t, f.store.Set(ctx, store.Key(chapterID, store.FieldRemaining), "0"))

	second := f.open(t)
	require.NoError(t, second.Load(ctx))
	second.Wait()

	snapshot := second.Snapshot()
	assert.Equal(t, StatusFinished, snapshot.Status)
	require.NotNil(t, snapshot.Result)
	assert.Equal(t, quiz.ReasonTimeout, snapshot.Result.Reason)
	assert.Len(t, f.submitter.calls(), 1)
}

func TestReloadFinishedAttemptShowsResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz())

	first := f.open(t)
	require.NoError(t, first.Load(ctx))
	answerCorrectly(t, first)
	submitted, err := first.Submit(ctx)
	require.NoError(t, err)
	first.Close()

	second := f.open(t)
	require.NoError(t, second.Load(ctx))

	snapshot := second.Snapshot()
	assert.Equal(t, StatusFinished, snapshot.Status)
	require.NotNil(t, snapshot.Result)
	assert.Equal(t, submitted.AttemptID, snapshot.Result.AttemptID)
	assert.Equal(t, 2, snapshot.Result.Grade.Score)
	assert.Equal(t, quiz.ReasonManual, snapshot.Result.Reason)
}

func TestReloadFinishedAttemptKeepsStoredScore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz())

	first := f.open(t)
	require.NoError(t, first.Load(ctx))
	answerCorrectly(t, first)
	_, err := first.Submit(ctx)
	require.NoError(t, err)
	first.Close()

	require.NoError(t, f.store.Set(ctx, store.Key(chapterID, store.FieldScore), "1"))

	second := f.open(t)
	require.NoError(t, second.Load(ctx))

	result := second.Snapshot().Result
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Grade.Score)
	assert.Equal(t, 2, result.Grade.Total)
	assert.Len(t, result.Grade.Items, 2)
}

func TestReloadFinishedAttemptRejectsImpossibleScore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz())

	first := f.open(t)
	require.NoError(t, first.Load(ctx))
	answerCorrectly(t, first)
	submitted, err := first.Submit(ctx)
	require.NoError(t, err)
	first.Close()

	require.NoError(t, f.store.Set(ctx, store.Key(chapterID, store.FieldScore), "5"))

	second := f.open(t)
	require.NoError(t, second.Load(ctx))
	snapshot := second.Snapshot()
	assert.Equal(t, StatusPlaying, snapshot.Status)
	assert.NotEqual(t, submitted.AttemptID, snapshot.Attempt.AttemptID)
}

func TestRestartResetsAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz())
	s := f.open(t)
	require.NoError(t, s.Load(ctx))

	for i := 0; i < 20; i++ {
		s.Tick()
	}
	answerCorrectly(t, s)
	result, err := s.Submit(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Restart(ctx))

	snapshot := s.Snapshot()
	assert.Equal(t, StatusPlaying, snapshot.Status)
	assert.NotEqual(t, result.AttemptID, snapshot.Attempt.AttemptID)
	assert.Equal(t, 60, snapshot.Attempt.RemainingSeconds)
	assert.Equal(t, 0, snapshot.Attempt.Current)
	assert.Nil(t, snapshot.Result)
	for _, answer := range snapshot.Attempt.Answers {
		assert.Nil(t, answer)
	}

	var finished bool
	require.True(t, store.GetJSON(ctx, f.store, store.Key(chapterID, store.FieldFinished), &finished))
	assert.False(t, finished)
	_, ok := f.store.Get(ctx, store.Key(chapterID, store.FieldScore))
	assert.False(t, ok, "score from the previous attempt should be cleared")
}

func eightQuestionQuiz() quiz.Definition {
	def := quiz.Definition{ID: "qz_8", Title: "Chapter eight", Duration: 1}
	for i := 0; i < 8; i++ {
		def.Questions = append(def.Questions, quiz.Question{
			ID:            fmt.Sprintf("q%d", i),
			Question:      fmt.Sprintf("Question %d?", i),
			Options:       []string{"yes", "no"},
			CorrectAnswer: i % 2,
		})
	}
	return def
}

func TestRestartTwiceResamplesEachTime(t *testing.T) {
	ctx := context.Background()
	def := eightQuestionQuiz()
	f := newFixture(def)
	s := f.open(t)
	require.NoError(t, s.Load(ctx))

	// The session draws from the same seed, one question set per attempt.
	rng := rand.New(rand.NewSource(1))
	want := [][]quiz.Question{
		quiz.BuildQuestionSet(def, quiz.DefaultMaxQuestions, rng),
		quiz.BuildQuestionSet(def, quiz.DefaultMaxQuestions, rng),
		quiz.BuildQuestionSet(def, quiz.DefaultMaxQuestions, rng),
	}
	assert.Equal(t, want[0], s.Snapshot().Questions)

	seen := map[string]bool{s.Snapshot().Attempt.AttemptID: true}
	for round := 1; round <= 2; round++ {
		for i := 0; i < 15; i++ {
			s.Tick()
		}
		answerCorrectly(t, s)
		_, err := s.Submit(ctx)
		require.NoError(t, err)

		require.NoError(t, s.Restart(ctx))

		snapshot := s.Snapshot()
		assert.Equal(t, StatusPlaying, snapshot.Status, "round %d", round)
		assert.Equal(t, 60, snapshot.Attempt.RemainingSeconds, "round %d", round)
		assert.False(t, seen[snapshot.Attempt.AttemptID], "round %d reused an attempt id", round)
		seen[snapshot.Attempt.AttemptID] = true
		assert.Equal(t, want[round], snapshot.Questions, "round %d", round)
		assert.ElementsMatch(t, def.Questions, snapshot.Questions)
		for _, answer := range snapshot.Attempt.Answers {
			assert.Nil(t, answer)
		}

		var remaining int
		require.True(t, store.GetJSON(ctx, f.store, store.Key(chapterID, store.FieldRemaining), &remaining))
		assert.Equal(t, 60, remaining)
	}
}

func TestProceedClearsStorage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz())
	s := f.open(t)
	require.NoError(t, s.Load(ctx))
	answerCorrectly(t, s)
	_, err := s.Submit(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Proceed(ctx))

	assert.Equal(t, StatusLoading, s.Snapshot().Status)
	assert.Equal(t, 0, f.store.Len())
}

// gatedSource blocks every fetch until release is closed.
type gatedSource struct {
	def     quiz.Definition
	started chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func (g *gatedSource) FetchChapterQuiz(ctx context.Context, _ string) (quiz.Definition, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()
	if first {
		close(g.started)
	}
	select {
	case <-g.release:
		return g.def, nil
	case <-ctx.Done():
		return quiz.Definition{}, ctx.Err()
	}
}

func TestConcurrentLoadIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz())
	source := &gatedSource{def: twoQuestionQuiz(), started: make(chan struct{}), release: make(chan struct{})}

	logger, _ := test.NewNullLogger()
	s, err := New(Options{
		ChapterID: chapterID,
		Store:     f.store,
		Source:    source,
		Retry:     retry.Policy{MaxRetries: 3, BaseDelay: time.Second, Multiplier: 2, Sleep: noSleep},
		NewTicker: f.tickers.New,
		Logger:    logger,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	done := make(chan error, 1)
	go func() { done <- s.Load(ctx) }()

	select {
	case <-source.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first load never fetched")
	}

	err = s.Load(ctx)
	assert.True(t, errors.Is(err, ErrInvalidTransition), "second load: %v", err)

	close(source.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("first load did not finish")
	}

	assert.Equal(t, StatusPlaying, s.Snapshot().Status)
	source.mu.Lock()
	assert.Equal(t, 1, source.calls)
	source.mu.Unlock()
}

func TestFetchErrorThenRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz())
	f.source.set(quiz.Definition{}, errors.New("connection refused"))
	s := f.open(t)

	err := s.Load(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFetch))
	assert.Equal(t, 4, f.source.callCount(), "three retries after the first try")

	snapshot := s.Snapshot()
	assert.Equal(t, StatusError, snapshot.Status)
	assert.True(t, errors.Is(snapshot.Err, ErrFetch))

	f.source.set(twoQuestionQuiz(), nil)
	require.NoError(t, s.Retry(ctx))
	assert.Equal(t, StatusPlaying, s.Snapshot().Status)
	assert.Nil(t, s.Snapshot().Err)
}

func TestPermanentFetchErrorIsNotRetried(t *testing.T) {
	f := newFixture(twoQuestionQuiz())
	f.source.set(quiz.Definition{}, retry.Permanent(errors.New("not found")))
	s := f.open(t)

	err := s.Load(context.Background())
	assert.True(t, errors.Is(err, ErrFetch))
	assert.Equal(t, 1, f.source.callCount())
}

func TestInvalidQuizIsAFetchError(t *testing.T) {
	def := twoQuestionQuiz()
	def.Questions[0].CorrectAnswer = 9
	f := newFixture(def)
	s := f.open(t)

	err := s.Load(context.Background())
	assert.True(t, errors.Is(err, ErrFetch))
	assert.True(t, errors.Is(err, quiz.ErrInvalidDefinition))
	assert.Equal(t, StatusError, s.Snapshot().Status)
}

func TestEmptyQuizIsAnError(t *testing.T) {
	def := twoQuestionQuiz()
	def.Questions = nil
	f := newFixture(def)
	s := f.open(t)

	err := s.Load(context.Background())
	assert.True(t, errors.Is(err, ErrNoQuestions))
	assert.Equal(t, StatusError, s.Snapshot().Status)
	assert.Equal(t, 0, f.tickers.count(), "no timer for an empty quiz")
}

func TestSubmissionFailureIsAWarning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz())
	f.submitter.setErr(errors.New("service unavailable"))
	s := f.open(t)
	require.NoError(t, s.Load(ctx))
	answerCorrectly(t, s)

	result, err := s.Submit(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Warning)
	assert.Nil(t, result.Remote)
	assert.Equal(t, 2, result.Grade.Score)
	assert.Len(t, f.submitter.calls(), 4)
	assert.Equal(t, StatusFinished, s.Snapshot().Status)

	f.submitter.setErr(nil)
	retried, err := s.RetrySubmission(ctx)
	require.NoError(t, err)
	assert.Empty(t, retried.Warning)
	require.NotNil(t, retried.Remote)
	assert.Equal(t, result.AttemptID, retried.Remote.AttemptID)

	// Once delivered, retrying is a no-op.
	_, err = s.RetrySubmission(ctx)
	require.NoError(t, err)
	assert.Len(t, f.submitter.calls(), 5)
}

func TestWithoutSubmitterResultsStayLocal(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	tickers := &tickerFactory{}
	s, err := New(Options{
		ChapterID: chapterID,
		Store:     store.NewMemory(),
		Source:    &fakeSource{def: twoQuestionQuiz()},
		NewTicker: tickers.New,
		Logger:    logger,
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Load(ctx))
	require.NoError(t, s.Next(ctx))
	result, err := s.Submit(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Warning)
	assert.Nil(t, result.Remote)
	assert.Equal(t, 0, result.Grade.Score)
}

type failingStore struct {
	*store.Memory
	failSet bool
}

func (f *failingStore) Set(ctx context.Context, key, value string) error {
	if f.failSet {
		return errors.New("disk full")
	}
	return f.Memory.Set(ctx, key, value)
}

func TestPersistFailureKeepsMemoryState(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	st := &failingStore{Memory: store.NewMemory()}
	tickers := &tickerFactory{}
	s, err := New(Options{
		ChapterID: chapterID,
		Store:     st,
		Source:    &fakeSource{def: twoQuestionQuiz()},
		NewTicker: tickers.New,
		Logger:    logger,
	})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Load(ctx))

	st.failSet = true
	err = s.SelectAnswer(ctx, 1)
	assert.True(t, errors.Is(err, ErrPersist))
	require.NotNil(t, s.Snapshot().Attempt.Answers[0])
	assert.Equal(t, 1, *s.Snapshot().Attempt.Answers[0])
}

package quiz

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"chapter-quiz/internal/opentdb"
)

const defaultImportedDuration = 10

// ErrQuestionSource means a chapter quiz could not be generated because the
// trivia source failed.
var ErrQuestionSource = errors.New("question source unavailable")

type QuestionsFetcher func(ctx context.Context, amount int) ([]opentdb.RawQuestion, error)

// SubmissionRequest is what a finished session sends for server-side grading.
type SubmissionRequest struct {
	AttemptID      string       `json:"attemptId" validate:"required"`
	ChapterID      string       `json:"chapterId"`
	QuestionIDs    []string     `json:"questionIds" validate:"required,dive,required"`
	Answers        []*int       `json:"answers" validate:"required"`
	ElapsedSeconds int          `json:"elapsedSeconds" validate:"gte=0"`
	Reason         FinishReason `json:"reason" validate:"required,oneof=manual timeout"`
}

type Service struct {
	quizzes     QuizRepository
	submissions SubmissionRepository
	fetcher     QuestionsFetcher
	log         logrus.FieldLogger
	now         func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewService(quizzes QuizRepository, submissions SubmissionRepository, fetcher QuestionsFetcher, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		quizzes:     quizzes,
		submissions: submissions,
		fetcher:     fetcher,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ImportQuiz stores an authored definition after validating it.
func (s *Service) ImportQuiz(ctx context.Context, def Definition) (Definition, error) {
	def = def.WithQuestionIDs()
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	if err := s.quizzes.SaveQuiz(ctx, def); err != nil {
		return Definition{}, errors.Wrapf(err, "save quiz %s", def.ID)
	}

	s.log.WithFields(logrus.Fields{
		"quiz_id":    def.ID,
		"chapter_id": def.ChapterID,
		"questions":  len(def.Questions),
	}).Info("quiz imported")
	return def, nil
}

// GetChapterQuiz returns the quiz attached to a chapter. When the chapter has
// none and createIfMissing is set, a quiz is generated from the trivia fetcher.
func (s *Service) GetChapterQuiz(ctx context.Context, chapterID string, createIfMissing bool, questionCount int) (Definition, error) {
	chapterID = strings.TrimSpace(chapterID)
	if chapterID == "" {
		return Definition{}, ErrQuizNotFound
	}

	def, err := s.quizzes.GetQuizByChapter(ctx, chapterID)
	if err == nil {
		return def, nil
	}
	if !errors.Is(err, ErrQuizNotFound) || !createIfMissing {
		return Definition{}, err
	}

	return s.createChapterQuiz(ctx, chapterID, questionCount)
}

// SubmitAttempt grades a finished attempt against the stored correct answers.
// Resubmitting an attempt returns the first stored result unchanged.
func (s *Service) SubmitAttempt(ctx context.Context, quizID string, request SubmissionRequest) (Submission, error) {
	if err := definitionValidator().Struct(request); err != nil {
		return Submission{}, errors.Wrap(ErrInvalidSubmission, err.Error())
	}
	if len(request.QuestionIDs) != len(request.Answers) {
		return Submission{}, errors.Wrap(ErrInvalidSubmission, "questionIds and answers differ in length")
	}

	def, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return Submission{}, err
	}

	lookup := make(map[string]Question, len(def.Questions))
	for _, question := range def.Questions {
		lookup[question.ID] = question
	}

	questions := make([]Question, 0, len(request.QuestionIDs))
	for _, questionID := range request.QuestionIDs {
		question, ok := lookup[questionID]
		if !ok {
			// Unknown ids still occupy a slot so the total matches the attempt.
			question = Question{ID: questionID, CorrectAnswer: -1}
		}
		questions = append(questions, question)
	}

	grade := GradeAnswers(questions, request.Answers)
	submission := Submission{
		ID:             uuid.NewString(),
		QuizID:         def.ID,
		ChapterID:      def.ChapterID,
		AttemptID:      request.AttemptID,
		QuestionIDs:    request.QuestionIDs,
		Answers:        request.Answers,
		ElapsedSeconds: request.ElapsedSeconds,
		Reason:         request.Reason,
		Score:          grade.Score,
		Total:          grade.Total,
		SubmittedAt:    s.now(),
	}

	stored, created, err := s.submissions.CreateSubmission(ctx, submission)
	if err != nil {
		return Submission{}, errors.Wrap(err, "store submission")
	}

	s.log.WithFields(logrus.Fields{
		"quiz_id":    stored.QuizID,
		"attempt_id": stored.AttemptID,
		"score":      stored.Score,
		"total":      stored.Total,
		"reason":     stored.Reason,
		"created":    created,
	}).Info("attempt submitted")
	return stored, nil
}

// GetSubmission returns the stored grade of one attempt.
func (s *Service) GetSubmission(ctx context.Context, quizID, attemptID string) (Submission, error) {
	return s.submissions.GetSubmission(ctx, strings.TrimSpace(quizID), strings.TrimSpace(attemptID))
}

func (s *Service) createChapterQuiz(ctx context.Context, chapterID string, questionCount int) (Definition, error) {
	if s.fetcher == nil {
		return Definition{}, errors.Wrap(ErrQuestionSource, "no fetcher configured")
	}

	raw, err := s.fetcher(ctx, questionCount)
	if err != nil {
		return Definition{}, fmt.Errorf("%w: %v", ErrQuestionSource, err)
	}

	s.rngMu.Lock()
	questions := QuestionsFromTrivia(raw, s.rng)
	s.rngMu.Unlock()

	def := Definition{
		ID:          "qz_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10],
		ChapterID:   chapterID,
		Title:       "Chapter " + chapterID + " quiz",
		Description: "Generated from Open Trivia Database",
		Duration:    defaultImportedDuration,
		Questions:   questions,
	}

	created, err := s.ImportQuiz(ctx, def)
	if err != nil {
		// Another request may have created the chapter quiz first.
		if existing, lookupErr := s.quizzes.GetQuizByChapter(ctx, chapterID); lookupErr == nil {
			return existing, nil
		}
		return Definition{}, err
	}
	return created, nil
}

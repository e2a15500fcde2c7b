package quiz

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrQuizNotFound       = errors.New("quiz not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrInvalidSubmission  = errors.New("invalid submission")
)

// Submission is the server-side record of one graded attempt.
type Submission struct {
	ID             string       `json:"submissionId"`
	QuizID         string       `json:"quizId"`
	ChapterID      string       `json:"chapterId"`
	AttemptID      string       `json:"attemptId"`
	QuestionIDs    []string     `json:"questionIds"`
	Answers        []*int       `json:"answers"`
	ElapsedSeconds int          `json:"elapsedSeconds"`
	Reason         FinishReason `json:"reason"`
	Score          int          `json:"score"`
	Total          int          `json:"total"`
	SubmittedAt    time.Time    `json:"submittedAt"`
}

type QuizRepository interface {
	SaveQuiz(ctx context.Context, def Definition) error
	GetQuiz(ctx context.Context, quizID string) (Definition, error)
	GetQuizByChapter(ctx context.Context, chapterID string) (Definition, error)
}

type SubmissionRepository interface {
	// CreateSubmission stores the submission unless one already exists for the
	// same (quiz, attempt) pair, in which case the stored row is returned and
	// created is false.
	CreateSubmission(ctx context.Context, submission Submission) (stored Submission, created bool, err error)
	GetSubmission(ctx context.Context, quizID, attemptID string) (Submission, error)
}

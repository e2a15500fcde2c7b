package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"chapter-quiz/internal/quiz"
)

// CreateSubmission relies on the (quiz_id, attempt_id) primary key with
// INSERT OR IGNORE so a retried submission never overwrites the first grade.
func (s *SQLiteStore) CreateSubmission(ctx context.Context, submission quiz.Submission) (quiz.Submission, bool, error) {
	questionIDsJSON, err := json.Marshal(submission.QuestionIDs)
	if err != nil {
		return quiz.Submission{}, false, err
	}
	answersJSON, err := json.Marshal(submission.Answers)
	if err != nil {
		return quiz.Submission{}, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return quiz.Submission{}, false, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO submissions
			(submission_id, quiz_id, chapter_id, attempt_id, question_ids_json, answers_json, elapsed_seconds, reason, score, total, submitted_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		submission.ID,
		submission.QuizID,
		submission.ChapterID,
		submission.AttemptID,
		string(questionIDsJSON),
		string(answersJSON),
		submission.ElapsedSeconds,
		string(submission.Reason),
		submission.Score,
		submission.Total,
		submission.SubmittedAt.UTC().UnixNano(),
	)
	if err != nil {
		return quiz.Submission{}, false, err
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return quiz.Submission{}, false, err
	}

	if inserted == 0 {
		existing, err := scanSubmission(tx.QueryRowContext(ctx, selectSubmission, submission.QuizID, submission.AttemptID))
		if err != nil {
			return quiz.Submission{}, false, err
		}
		return existing, false, tx.Commit()
	}

	if err := tx.Commit(); err != nil {
		return quiz.Submission{}, false, err
	}
	return submission, true, nil
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, quizID, attemptID string) (quiz.Submission, error) {
	return scanSubmission(s.db.QueryRowContext(ctx, selectSubmission, quizID, attemptID))
}

const selectSubmission = `SELECT submission_id, quiz_id, chapter_id, attempt_id, question_ids_json, answers_json,
	elapsed_seconds, reason, score, total, submitted_at_unix
 FROM submissions
 WHERE quiz_id = ? AND attempt_id = ?`

func scanSubmission(row *sql.Row) (quiz.Submission, error) {
	var (
		submission      quiz.Submission
		questionIDsJSON string
		answersJSON     string
		reason          string
		submittedAtNs   int64
	)
	err := row.Scan(
		&submission.ID,
		&submission.QuizID,
		&submission.ChapterID,
		&submission.AttemptID,
		&questionIDsJSON,
		&answersJSON,
		&submission.ElapsedSeconds,
		&reason,
		&submission.Score,
		&submission.Total,
		&submittedAtNs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return quiz.Submission{}, quiz.ErrSubmissionNotFound
		}
		return quiz.Submission{}, err
	}

	if err := json.Unmarshal([]byte(questionIDsJSON), &submission.QuestionIDs); err != nil {
		return quiz.Submission{}, err
	}
	if err := json.Unmarshal([]byte(answersJSON), &submission.Answers); err != nil {
		return quiz.Submission{}, err
	}
	submission.Reason = quiz.FinishReason(reason)
	submission.SubmittedAt = time.Unix(0, submittedAtNs).UTC()
	return submission, nil
}

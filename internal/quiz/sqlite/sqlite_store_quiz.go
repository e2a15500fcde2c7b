package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"chapter-quiz/internal/quiz"
)

// SaveQuiz replaces the quiz row and its full question list. A chapter owns at
// most one quiz, so saving a new quiz id for a chapter drops the old one.
func (s *SQLiteStore) SaveQuiz(ctx context.Context, def quiz.Definition) error {
	if def.ID == "" {
		return errors.New("quiz id is required")
	}
	if def.ChapterID == "" {
		return errors.New("chapter id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var previousID string
	err = tx.QueryRowContext(ctx, `SELECT quiz_id FROM quizzes WHERE chapter_id = ?`, def.ChapterID).Scan(&previousID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	case previousID != def.ID:
		if _, err := tx.ExecContext(ctx, `DELETE FROM quizzes WHERE quiz_id = ?`, previousID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE quiz_id = ?`, previousID); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE quiz_id = ?`, def.ID); err != nil {
		return err
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO quizzes (quiz_id, chapter_id, title, description, duration_minutes, question_count, created_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		def.ID,
		def.ChapterID,
		def.Title,
		def.Description,
		def.Duration,
		len(def.Questions),
		time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return err
	}

	for idx, question := range def.Questions {
		if question.ID == "" {
			question.ID = quiz.MakeQuestionID(question)
		}

		optionsJSON, err := json.Marshal(question.Options)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO questions (quiz_id, question_id, position, prompt, options_json, correct_index, details)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			def.ID,
			question.ID,
			idx,
			question.Question,
			string(optionsJSON),
			question.CorrectAnswer,
			question.Details,
		); err != nil {
			return errors.Wrapf(err, "insert question %s", question.ID)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetQuiz(ctx context.Context, quizID string) (quiz.Definition, error) {
	return s.getQuizWhere(ctx, `quiz_id = ?`, quizID)
}

func (s *SQLiteStore) GetQuizByChapter(ctx context.Context, chapterID string) (quiz.Definition, error) {
	return s.getQuizWhere(ctx, `chapter_id = ?`, chapterID)
}

func (s *SQLiteStore) getQuizWhere(ctx context.Context, predicate string, arg string) (quiz.Definition, error) {
	var def quiz.Definition
	err := s.db.QueryRowContext(
		ctx,
		`SELECT quiz_id, chapter_id, title, description, duration_minutes FROM quizzes WHERE `+predicate,
		arg,
	).Scan(&def.ID, &def.ChapterID, &def.Title, &def.Description, &def.Duration)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return quiz.Definition{}, quiz.ErrQuizNotFound
		}
		return quiz.Definition{}, err
	}

	questions, err := s.getQuestions(ctx, def.ID)
	if err != nil {
		return quiz.Definition{}, err
	}
	def.Questions = questions
	return def, nil
}

func (s *SQLiteStore) getQuestions(ctx context.Context, quizID string) ([]quiz.Question, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT question_id, prompt, options_json, correct_index, details
		 FROM questions
		 WHERE quiz_id = ?
		 ORDER BY position ASC`,
		quizID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := make([]quiz.Question, 0)
	for rows.Next() {
		var (
			question    quiz.Question
			optionsJSON string
		)
		if err := rows.Scan(&question.ID, &question.Question, &optionsJSON, &question.CorrectAnswer, &question.Details); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(optionsJSON), &question.Options); err != nil {
			return nil, errors.Wrapf(err, "decode options of %s", question.ID)
		}
		questions = append(questions, question)
	}

	return questions, rows.Err()
}

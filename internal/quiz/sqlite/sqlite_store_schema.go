package sqlite

import (
	"context"
)

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	// No FK constraints: a re-imported quiz replaces its question rows inside
	// one transaction while historical submissions keep their question ids.
	statements := []string{
		`CREATE TABLE IF NOT EXISTS quizzes (
			quiz_id TEXT PRIMARY KEY,
			chapter_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL,
			question_count INTEGER NOT NULL,
			created_at_unix INTEGER NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_quizzes_chapter ON quizzes(chapter_id);`,
		`CREATE TABLE IF NOT EXISTS questions (
			quiz_id TEXT NOT NULL,
			question_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			prompt TEXT NOT NULL,
			options_json TEXT NOT NULL,
			correct_index INTEGER NOT NULL,
			details TEXT NOT NULL,
			PRIMARY KEY (quiz_id, position),
			UNIQUE (quiz_id, question_id)
		);`,
		`CREATE TABLE IF NOT EXISTS submissions (
			submission_id TEXT NOT NULL UNIQUE,
			quiz_id TEXT NOT NULL,
			chapter_id TEXT NOT NULL,
			attempt_id TEXT NOT NULL,
			question_ids_json TEXT NOT NULL,
			answers_json TEXT NOT NULL,
			elapsed_seconds INTEGER NOT NULL,
			reason TEXT NOT NULL,
			score INTEGER NOT NULL,
			total INTEGER NOT NULL,
			submitted_at_unix INTEGER NOT NULL,
			PRIMARY KEY (quiz_id, attempt_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_quiz_submitted_at ON submissions(quiz_id, submitted_at_unix);`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

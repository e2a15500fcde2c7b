// Package store is the per-device persistence used to resume quiz attempts.
package store

import (
	"context"
	"encoding/json"
)

const keyPrefix = "chapterquiz"

// Fields of one chapter's attempt. ClearAll removes every one of them.
const (
	FieldDefinition = "definition"
	FieldQuestions  = "questions"
	FieldAnswers    = "answers"
	FieldCurrent    = "current"
	FieldRemaining  = "remaining"
	FieldFinished   = "finished"
	FieldAttempt    = "attempt"
	FieldReason     = "reason"
	FieldScore      = "score"
)

var chapterFields = []string{
	FieldDefinition,
	FieldQuestions,
	FieldAnswers,
	FieldCurrent,
	FieldRemaining,
	FieldFinished,
	FieldAttempt,
	FieldReason,
	FieldScore,
}

// Store is a string key-value store. Get never fails: a missing or unreadable
// value is reported as absent.
type Store interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	ClearAll(ctx context.Context, chapterID string) error
}

func Key(chapterID, field string) string {
	return keyPrefix + ":" + chapterID + ":" + field
}

// ChapterKeys lists every key that belongs to a chapter's attempt.
func ChapterKeys(chapterID string) []string {
	keys := make([]string, 0, len(chapterFields))
	for _, field := range chapterFields {
		keys = append(keys, Key(chapterID, field))
	}
	return keys
}

// GetJSON decodes the stored value into out. Corrupt JSON counts as absent.
func GetJSON(ctx context.Context, s Store, key string, out any) bool {
	raw, ok := s.Get(ctx, key)
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(raw), out) == nil
}

func SetJSON(ctx context.Context, s Store, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, string(encoded))
}

package quiz

import (
	"crypto/sha1"
	"encoding/hex"
	"html"
	"math/rand"
	"strings"

	"chapter-quiz/internal/opentdb"
)

// Definition is a chapter quiz as authored: metadata plus the full question bank.
type Definition struct {
	ID          string     `json:"id" validate:"required"`
	ChapterID   string     `json:"chapterId" validate:"required"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Duration    int        `json:"duration" validate:"gte=1"`
	Questions   []Question `json:"questions" validate:"dive"`
}

type Question struct {
	ID            string   `json:"id"`
	Question      string   `json:"question" validate:"required"`
	Options       []string `json:"options" validate:"min=2,dive,required"`
	CorrectAnswer int      `json:"correctAnswer" validate:"gte=0"`
	Details       string   `json:"details,omitempty"`
}

// DurationSeconds is the configured time limit of one attempt.
func (d Definition) DurationSeconds() int {
	if d.Duration <= 0 {
		return 0
	}
	return d.Duration * 60
}

// WithQuestionIDs returns a copy of the definition where every question has an id.
func (d Definition) WithQuestionIDs() Definition {
	questions := make([]Question, len(d.Questions))
	for idx, question := range d.Questions {
		if strings.TrimSpace(question.ID) == "" {
			question.ID = MakeQuestionID(question)
		}
		questions[idx] = question
	}
	d.Questions = questions
	return d
}

func MakeQuestionID(question Question) string {
	var keyBuilder strings.Builder
	keyBuilder.WriteString(question.Question)
	for _, option := range question.Options {
		keyBuilder.WriteString("|")
		keyBuilder.WriteString(option)
	}

	hash := sha1.Sum([]byte(keyBuilder.String()))
	return "q_" + hex.EncodeToString(hash[:])
}

// QuestionsFromTrivia converts OpenTriviaDB payloads into quiz questions with
// the correct answer placed at a random option index.
func QuestionsFromTrivia(raw []opentdb.RawQuestion, rng *rand.Rand) []Question {
	questions := make([]Question, 0, len(raw))
	for _, item := range raw {
		question := buildTriviaQuestion(item, rng)
		question.ID = MakeQuestionID(question)
		questions = append(questions, question)
	}
	return questions
}

func buildTriviaQuestion(raw opentdb.RawQuestion, rng *rand.Rand) Question {
	type choice struct {
		text      string
		isCorrect bool
	}

	choices := make([]choice, 0, len(raw.IncorrectAnswers)+1)
	for _, incorrect := range raw.IncorrectAnswers {
		choices = append(choices, choice{text: html.UnescapeString(incorrect)})
	}
	choices = append(choices, choice{
		text:      html.UnescapeString(raw.CorrectAnswer),
		isCorrect: true,
	})

	rng.Shuffle(len(choices), func(i, j int) {
		choices[i], choices[j] = choices[j], choices[i]
	})

	options := make([]string, len(choices))
	correctIndex := -1
	for idx, candidate := range choices {
		options[idx] = candidate.text
		if candidate.isCorrect {
			correctIndex = idx
		}
	}

	return Question{
		Question:      html.UnescapeString(raw.Question),
		Options:       options,
		CorrectAnswer: correctIndex,
	}
}

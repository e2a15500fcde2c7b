package quiz

type GradedItem struct {
	QuestionID  string `json:"questionId"`
	Selected    *int   `json:"selected"`
	Correct     int    `json:"correct"`
	IsCorrect   bool   `json:"isCorrect"`
	Explanation string `json:"explanation,omitempty"`
}

type Grade struct {
	Score int          `json:"score"`
	Total int          `json:"total"`
	Items []GradedItem `json:"items"`
}

// GradeAnswers compares each recorded answer with the question's correct option.
// Unanswered slots and answers beyond the question set count as incorrect.
func GradeAnswers(questions []Question, answers []*int) Grade {
	grade := Grade{
		Total: len(questions),
		Items: make([]GradedItem, 0, len(questions)),
	}

	for idx, question := range questions {
		item := GradedItem{
			QuestionID:  question.ID,
			Correct:     question.CorrectAnswer,
			Explanation: question.Details,
		}
		if idx < len(answers) && answers[idx] != nil {
			selected := *answers[idx]
			item.Selected = &selected
			item.IsCorrect = selected == question.CorrectAnswer
		}
		if item.IsCorrect {
			grade.Score++
		}
		grade.Items = append(grade.Items, item)
	}

	return grade
}

type FinishReason string

const (
	ReasonManual  FinishReason = "manual"
	ReasonTimeout FinishReason = "timeout"
)

func (r FinishReason) Valid() bool {
	return r == ReasonManual || r == ReasonTimeout
}

package quiz

import "math/rand"

const DefaultMaxQuestions = 10

// BuildQuestionSet samples up to maxCount questions from the definition in a
// uniformly random order. The definition's slice is never reordered.
func BuildQuestionSet(def Definition, maxCount int, rng *rand.Rand) []Question {
	if maxCount <= 0 {
		maxCount = DefaultMaxQuestions
	}

	shuffled := make([]Question, len(def.Questions))
	copy(shuffled, def.Questions)

	// Fisher-Yates.
	for i := len(shuffled) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	if maxCount > len(shuffled) {
		maxCount = len(shuffled)
	}
	return shuffled[:maxCount]
}

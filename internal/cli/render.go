package cli

import (
	"fmt"
	"io"

	"chapter-quiz/internal/quiz"
	"chapter-quiz/internal/session"
)

func render(out io.Writer, snapshot session.Snapshot) {
	switch snapshot.Status {
	case session.StatusPlaying:
		renderQuestion(out, snapshot)
	case session.StatusFinished:
		if snapshot.Result != nil {
			renderResult(out, *snapshot.Result, snapshot.Questions)
		}
		printHelp(out, session.StatusFinished)
	case session.StatusError:
		fmt.Fprintln(out, "Type retry to try again or q to quit.")
	}
}

func renderQuestion(out io.Writer, snapshot session.Snapshot) {
	attempt := snapshot.Attempt
	question := snapshot.Questions[attempt.Current]

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s  Question %d/%d  Time left %s\n\n",
		snapshot.Quiz.Title,
		attempt.Current+1,
		len(snapshot.Questions),
		formatClock(attempt.RemainingSeconds),
	)
	fmt.Fprintf(out, "%s\n\n", question.Question)

	selected := attempt.Answers[attempt.Current]
	for idx, option := range question.Options {
		marker := " "
		if selected != nil && *selected == idx {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %c. %s\n", marker, 'A'+idx, option)
	}
	fmt.Fprintln(out)

	if attempt.Current == len(snapshot.Questions)-1 {
		fmt.Fprintln(out, "Last question: s to submit, p to go back.")
	}
}

func renderResult(out io.Writer, result session.Result, questions []quiz.Question) {
	fmt.Fprintln(out)
	switch result.Reason {
	case quiz.ReasonTimeout:
		fmt.Fprintln(out, "Time ran out. Your answers were submitted automatically.")
	default:
		fmt.Fprintln(out, "Quiz submitted.")
	}
	fmt.Fprintf(out, "Score: %d/%d\n\n", result.Grade.Score, result.Grade.Total)

	for idx, item := range result.Grade.Items {
		var question quiz.Question
		if idx < len(questions) {
			question = questions[idx]
		}

		verdict := "wrong"
		if item.IsCorrect {
			verdict = "correct"
		}
		fmt.Fprintf(out, "%d. %s (%s)\n", idx+1, question.Question, verdict)
		fmt.Fprintf(out, "   Your answer: %s\n", optionLabel(question.Options, item.Selected))
		if !item.IsCorrect {
			correct := item.Correct
			fmt.Fprintf(out, "   Correct answer: %s\n", optionLabel(question.Options, &correct))
		}
		if item.Explanation != "" {
			fmt.Fprintf(out, "   %s\n", item.Explanation)
		}
	}

	if result.Warning != "" {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Warning: %s\n", result.Warning)
	}
}

func optionLabel(options []string, index *int) string {
	if index == nil {
		return "no answer"
	}
	if *index < 0 || *index >= len(options) {
		return "unknown"
	}
	return fmt.Sprintf("%c. %s", 'A'+*index, options[*index])
}

func printHelp(out io.Writer, status session.Status) {
	fmt.Fprintln(out, "Commands:")
	switch status {
	case session.StatusPlaying:
		fmt.Fprintln(out, "  A, B, C...  choose an answer")
		fmt.Fprintln(out, "  n / p       next / previous question")
		fmt.Fprintln(out, "  t           time left")
		fmt.Fprintln(out, "  s           submit (on the last question)")
	case session.StatusFinished:
		fmt.Fprintln(out, "  r           restart with new questions")
		fmt.Fprintln(out, "  retry       send the result again")
		fmt.Fprintln(out, "  c           continue to the next chapter")
	case session.StatusError:
		fmt.Fprintln(out, "  retry       load the quiz again")
	}
	fmt.Fprintln(out, "  q           quit")
}

func formatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// Package cli is the terminal front-end of a quiz session.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"chapter-quiz/internal/quiz"
	"chapter-quiz/internal/session"
)

// Session is the part of *session.Session the terminal drives.
type Session interface {
	Load(ctx context.Context) error
	Retry(ctx context.Context) error
	SelectAnswer(ctx context.Context, option int) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Submit(ctx context.Context) (session.Result, error)
	RetrySubmission(ctx context.Context) (session.Result, error)
	Restart(ctx context.Context) error
	Proceed(ctx context.Context) error
	Snapshot() session.Snapshot
}

// Run loads the session and reads commands until the learner quits, leaves
// a finished quiz, or input ends. finished delivers results of attempts that
// ended without a command, i.e. when time ran out; it may be nil.
func Run(ctx context.Context, in io.Reader, out io.Writer, sess Session, finished <-chan session.Result) error {
	lines := readLines(in)

	fmt.Fprintln(out, "Loading quiz...")
	if err := sess.Load(ctx); err != nil {
		reportActionError(out, err)
	}
	render(out, sess.Snapshot())

	prompt := true
	for {
		if prompt {
			fmt.Fprint(out, "> ")
		}
		prompt = true

		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case result := <-finished:
			if result.Reason != quiz.ReasonTimeout {
				// Manual submissions are rendered by the submit command.
				prompt = false
				continue
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Time is up!")
			render(out, sess.Snapshot())
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			if done := handleLine(ctx, out, sess, line); done {
				return nil
			}
		}
	}
}

func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		reader := bufio.NewReader(in)
		for {
			line, err := reader.ReadString('\n')
			if line != "" || err == nil {
				lines <- line
			}
			if err != nil {
				return
			}
		}
	}()
	return lines
}

// handleLine runs one command and reports whether the program should exit.
func handleLine(ctx context.Context, out io.Writer, sess Session, line string) bool {
	command := strings.ToLower(strings.TrimSpace(line))
	if command == "" {
		return false
	}

	snapshot := sess.Snapshot()
	switch command {
	case "h", "help":
		printHelp(out, snapshot.Status)
		return false
	case "q", "quit", "exit":
		if snapshot.Status == session.StatusPlaying {
			fmt.Fprintln(out, "Progress saved. Run again to resume.")
		}
		return true
	}

	switch snapshot.Status {
	case session.StatusPlaying:
		handlePlaying(ctx, out, sess, snapshot, command)
	case session.StatusFinished:
		return handleFinished(ctx, out, sess, command)
	case session.StatusError:
		if command != "r" && command != "retry" {
			fmt.Fprintln(out, "Type retry to try again or q to quit.")
			return false
		}
		if err := sess.Retry(ctx); err != nil {
			reportActionError(out, err)
		}
		render(out, sess.Snapshot())
	default:
		fmt.Fprintln(out, "Still loading.")
	}
	return false
}

func handlePlaying(ctx context.Context, out io.Writer, sess Session, snapshot session.Snapshot, command string) {
	var err error
	switch command {
	case "n", "next":
		err = sess.Next(ctx)
	case "p", "prev", "previous":
		err = sess.Previous(ctx)
	case "t", "time":
		fmt.Fprintf(out, "Time left %s\n", formatClock(snapshot.Attempt.RemainingSeconds))
		return
	case "s", "submit":
		result, submitErr := sess.Submit(ctx)
		if errors.Is(submitErr, session.ErrNotLastQuestion) {
			fmt.Fprintln(out, "Go to the last question to submit.")
			return
		}
		if submitErr != nil && !errors.Is(submitErr, session.ErrPersist) {
			reportActionError(out, submitErr)
			return
		}
		if submitErr != nil {
			reportActionError(out, submitErr)
		}
		renderResult(out, result, snapshot.Questions)
		printHelp(out, session.StatusFinished)
		return
	default:
		current := snapshot.Questions[snapshot.Attempt.Current]
		option, ok := parseOption(command, len(current.Options))
		if !ok {
			fmt.Fprintf(out, "Invalid input. Enter a letter A-%c or h for help.\n", 'A'+len(current.Options)-1)
			return
		}
		err = sess.SelectAnswer(ctx, option)
	}

	if err != nil {
		reportActionError(out, err)
	}
	render(out, sess.Snapshot())
}

func handleFinished(ctx context.Context, out io.Writer, sess Session, command string) bool {
	switch command {
	case "r", "restart":
		if err := sess.Restart(ctx); err != nil {
			reportActionError(out, err)
		}
		render(out, sess.Snapshot())
	case "retry", "send":
		if _, err := sess.RetrySubmission(ctx); err != nil {
			reportActionError(out, err)
		}
		render(out, sess.Snapshot())
	case "c", "continue":
		if err := sess.Proceed(ctx); err != nil {
			reportActionError(out, err)
			return false
		}
		fmt.Fprintln(out, "Quiz closed. See you in the next chapter.")
		return true
	default:
		printHelp(out, session.StatusFinished)
	}
	return false
}

// parseOption maps a letter to an option index.
func parseOption(input string, optionCount int) (int, bool) {
	if optionCount < 1 || len(input) != 1 {
		return -1, false
	}
	letter := strings.ToUpper(input)[0]
	maxLetter := byte('A' + optionCount - 1)
	if letter < 'A' || letter > maxLetter {
		return -1, false
	}
	return int(letter - 'A'), true
}

func reportActionError(out io.Writer, err error) {
	switch {
	case errors.Is(err, session.ErrPersist):
		fmt.Fprintln(out, "Warning: progress could not be saved on this device.")
	case errors.Is(err, session.ErrNoQuestions):
		fmt.Fprintln(out, "This quiz has no questions yet.")
	case errors.Is(err, session.ErrFetch):
		fmt.Fprintf(out, "Error: %v\n", err)
	case errors.Is(err, session.ErrInvalidTransition):
		fmt.Fprintln(out, "That is not available right now.")
	default:
		fmt.Fprintf(out, "error: %v\n", err)
	}
}

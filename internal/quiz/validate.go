package quiz

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var ErrInvalidDefinition = errors.New("invalid quiz definition")

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func definitionValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterStructValidation(questionStructLevel, Question{})
	})
	return validate
}

func questionStructLevel(sl validator.StructLevel) {
	question := sl.Current().Interface().(Question)
	if question.CorrectAnswer >= len(question.Options) {
		sl.ReportError(question.CorrectAnswer, "CorrectAnswer", "correctAnswer", "option_index", "")
	}
}

// Validate checks the structural rules a definition must satisfy before a
// session can be built from it. An empty question bank is valid here; the
// session reports it separately.
func (d Definition) Validate() error {
	err := definitionValidator().Struct(d)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errors.Wrap(ErrInvalidDefinition, err.Error())
	}

	parts := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fieldErr.Namespace(), fieldErr.Tag()))
	}
	return errors.Wrap(ErrInvalidDefinition, strings.Join(parts, "; "))
}

package httpapi

import (
	"github.com/sirupsen/logrus"

	"chapter-quiz/internal/quiz"
)

const defaultQuestionCount = 10

type API struct {
	service *quiz.Service
	log     logrus.FieldLogger
}

func NewAPI(service *quiz.Service, log logrus.FieldLogger) *API {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &API{
		service: service,
		log:     log,
	}
}

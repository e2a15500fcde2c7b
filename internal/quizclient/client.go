// Package quizclient talks to the quiz service over HTTP.
package quizclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"chapter-quiz/internal/quiz"
	"chapter-quiz/internal/retry"
)

var ErrServiceUnavailable = errors.New("quiz service unavailable")

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return e.Message
}

// Temporary reports whether the request may succeed if sent again.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

type errorResponse struct {
	Error string `json:"error"`
}

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	// CreateIfMissing asks the service to generate a quiz for chapters that
	// have none.
	CreateIfMissing bool
	QuestionCount   int
}

func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimSpace(baseURL)
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// FetchChapterQuiz loads the quiz definition attached to a chapter.
func (c *HTTPClient) FetchChapterQuiz(ctx context.Context, chapterID string) (quiz.Definition, error) {
	if strings.TrimSpace(chapterID) == "" {
		return quiz.Definition{}, retry.Permanent(errors.New("chapter id is required"))
	}

	query := url.Values{}
	if c.CreateIfMissing {
		query.Set("create_if_missing", "true")
		if c.QuestionCount > 0 {
			query.Set("question_count", strconv.Itoa(c.QuestionCount))
		}
	}
	path := "/chapters/" + url.PathEscape(chapterID) + "/quiz"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var def quiz.Definition
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &def); err != nil {
		return quiz.Definition{}, err
	}
	return def, nil
}

// SubmitAttempt sends a finished attempt for grading. The service keys
// submissions by attempt id, so resending is safe.
func (c *HTTPClient) SubmitAttempt(ctx context.Context, quizID string, request quiz.SubmissionRequest) (quiz.Submission, error) {
	if strings.TrimSpace(quizID) == "" {
		return quiz.Submission{}, retry.Permanent(errors.New("quiz id is required"))
	}

	var submission quiz.Submission
	path := "/quizzes/" + url.PathEscape(quizID) + "/submissions"
	if err := c.doJSON(ctx, http.MethodPost, path, request, &submission); err != nil {
		return quiz.Submission{}, err
	}
	return submission, nil
}

// Health checks that the service answers.
func (c *HTTPClient) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/healthz", nil, nil)
}

// doJSON performs one request. Client errors are marked permanent so retry
// policies give up on them immediately.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, requestBody any, responseBody any) error {
	fullURL := c.baseURL + path

	var body io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return retry.Permanent(err)
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return retry.Permanent(err)
	}
	request.Header.Set("Accept", "application/json")
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{StatusCode: response.StatusCode}
		var payload errorResponse
		if err := json.NewDecoder(response.Body).Decode(&payload); err == nil && strings.TrimSpace(payload.Error) != "" {
			apiErr.Message = payload.Error
		}
		if apiErr.Message == "" {
			apiErr.Message = response.Status
		}
		if !apiErr.Temporary() {
			return retry.Permanent(apiErr)
		}
		return apiErr
	}

	if responseBody == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(responseBody); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/service"
	"github.com/book-expert/tts-gateway/internal/slots"
	"github.com/labstack/echo/v4"
)

const (
	messageSingle = "TTS 생성 및 업로드 성공"
	messageBatch  = "TTS 생성 및 업로드 성공 (batch)"
)

type errorBody struct {
	Error   string               `json:"error"`
	Results []service.ItemResult `json:"results,omitempty"`
}

// questionRequest binds JSON, urlencoded and multipart posts.
type questionRequest struct {
	Text           string         `form:"text"            json:"text"`
	QuestionNumber questionNumber `form:"question_number" json:"question_number"`
}

// questionNumber is any label such as 3 or "3-1"; JSON may carry it as a
// number or a string.
type questionNumber string

func (q *questionNumber) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(`"`)) {
		var label string

		err := json.Unmarshal(data, &label)
		if err != nil {
			return fmt.Errorf("question_number: %w", err)
		}

		*q = questionNumber(label)

		return nil
	}

	var number json.Number

	err := json.Unmarshal(data, &number)
	if err != nil {
		return fmt.Errorf("question_number must be a string or a number: %w", err)
	}

	*q = questionNumber(number.String())

	return nil
}

type questionResponse struct {
	Message string `json:"message"`
	FileURL string `json:"file_url"`
	service.Result
}

type batchResponse struct {
	Message   string               `json:"message"`
	Succeeded int                  `json:"succeeded"`
	Results   []service.ItemResult `json:"results"`
}

type slotsResponse struct {
	Slots []slots.SlotState `json:"slots"`
	Free  int               `json:"free"`
}

// Handler serves the gateway routes.
type Handler struct {
	svc Synthesis
	log *logger.Logger
}

// Health reports liveness and idle capacity.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"slots":  len(h.svc.Slots()),
		"free":   h.svc.FreeSlots(),
	})
}

// Slots lists every slot and whether it is held.
func (h *Handler) Slots(c echo.Context) error {
	return c.JSON(http.StatusOK, slotsResponse{Slots: h.svc.Slots(), Free: h.svc.FreeSlots()})
}

// Question speaks one question for the authenticated user.
func (h *Handler) Question(c echo.Context) error {
	var req questionRequest

	err := c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := h.svc.SynthesizeOne(c.Request().Context(), service.SingleRequest{
		User:           UserFrom(c),
		Text:           req.Text,
		QuestionNumber: string(req.QuestionNumber),
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, questionResponse{Message: messageSingle, FileURL: result.URL, Result: result})
}

// Batch speaks every text file in the authenticated user's folder.
func (h *Handler) Batch(c echo.Context) error {
	result, err := h.svc.SynthesizeBatch(c.Request().Context(), service.BatchRequest{User: UserFrom(c)})
	if err != nil {
		return batchError{err: err, results: result.Items}
	}

	return c.JSON(http.StatusOK, batchResponse{
		Message:   messageBatch,
		Succeeded: result.Succeeded(),
		Results:   result.Items,
	})
}

// Audio streams a stored audio object.
func (h *Handler) Audio(c echo.Context) error {
	key := c.Param("*")
	if unescaped, err := url.PathUnescape(key); err == nil {
		key = unescaped
	}

	key = strings.TrimPrefix(key, "/")
	if key == "" || strings.Contains(key, "..") {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid audio key")
	}

	data, err := h.svc.Outputs().Download(c.Request().Context(), key)
	if err != nil {
		return err
	}

	return c.Blob(http.StatusOK, audioContentType, data)
}

// batchError carries partial batch results to the error handler.
type batchError struct {
	err     error
	results []service.ItemResult
}

func (b batchError) Error() string { return b.err.Error() }

func (b batchError) Unwrap() error { return b.err }

// errorHandler renders every error as {"error": ...} with a status derived
// from the error chain.
func (h *Handler) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	body := errorBody{Error: err.Error()}

	var partial batchError
	if errors.As(err, &partial) {
		body.Results = partial.results
	}

	status := StatusFor(err)

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.Code
		if message, ok := httpErr.Message.(string); ok {
			body.Error = message
		}
	}

	if status == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", retryAfterSeconds)
	}

	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && h.log != nil {
		h.log.Error("Request %s %s failed: %v", c.Request().Method, c.Request().URL.Path, err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}

	if err != nil && h.log != nil {
		h.log.Error("Failed to write error response: %v", err)
	}
}

// StatusFor maps gateway errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, slots.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrBatchAborted):
		return http.StatusInternalServerError
	case errors.Is(err, service.ErrUserRequired):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrTextRequired),
		errors.Is(err, service.ErrQuestionNumberRequired),
		errors.Is(err, service.ErrTextKeyRequired),
		errors.Is(err, service.ErrInvalidParameters):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNoTextFiles),
		errors.Is(err, core.ErrObjectNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

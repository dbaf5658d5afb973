package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Freeeeeet/tutorbook/internal/model"
	"github.com/Freeeeeet/tutorbook/internal/provider"
	"github.com/Freeeeeet/tutorbook/internal/service"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string             `json:"error"`
	Message string             `json:"message"`
	Lesson  *model.Lesson      `json:"lesson,omitempty"`
	Fields  []model.FieldError `json:"fields,omitempty"`
}

// lessonError carries the lesson state a refused operation left behind.
type lessonError struct {
	err    error
	lesson *model.Lesson
}

func (e *lessonError) Error() string { return e.err.Error() }
func (e *lessonError) Unwrap() error { return e.err }

func withLesson(lesson *model.Lesson, err error) error {
	if lesson == nil {
		return err
	}
	return &lessonError{err: err, lesson: lesson}
}

var serviceErrors = []struct {
	target error
	code   int
	kind   string
}{
	{service.ErrNotFound, http.StatusNotFound, "not_found"},
	{service.ErrForbidden, http.StatusForbidden, "forbidden"},
	{service.ErrSlotUnavailable, http.StatusConflict, "slot_unavailable"},
	{service.ErrTrialQuotaExceeded, http.StatusConflict, "trial_quota_exceeded"},
	{service.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{service.ErrTooEarly, http.StatusTooEarly, "too_early"},
	{service.ErrTooLate, http.StatusConflict, "too_late"},
	{service.ErrPaymentDeclined, http.StatusPaymentRequired, "payment_declined"},
	{provider.ErrTransient, http.StatusServiceUnavailable, "provider_unavailable"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "provider_unavailable"},
}

// errorResponse maps err to a status code and body.
func errorResponse(err error) (int, errorBody) {
	body := errorBody{Message: err.Error()}

	var le *lessonError
	if errors.As(err, &le) {
		body.Lesson = le.lesson
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		body.Error = "http_error"
		if msg, ok := httpErr.Message.(string); ok {
			body.Message = msg
		}
		return httpErr.Code, body
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		body.Error = "validation"
		body.Message = "invalid request"
		for _, fe := range fieldErrs {
			body.Fields = append(body.Fields, model.FieldError{Field: fe.Field(), Error: fe.Tag()})
		}
		return http.StatusUnprocessableEntity, body
	}

	var valErr *model.ValidationError
	if errors.As(err, &valErr) {
		body.Error = "validation"
		body.Fields = valErr.Fields
		return http.StatusUnprocessableEntity, body
	}

	for _, se := range serviceErrors {
		if errors.Is(err, se.target) {
			body.Error = se.kind
			return se.code, body
		}
	}

	body.Error = "internal"
	body.Message = http.StatusText(http.StatusInternalServerError)
	return http.StatusInternalServerError, body
}

func newHTTPErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, body := errorResponse(err)
		if code >= http.StatusInternalServerError {
			logger.Error("Request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int64("user_id", callerID(c)),
				zap.Error(err),
			)
		}
		if c.Echo().Debug && body.Error == "internal" {
			body.Message = err.Error()
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, body)
		}
		if err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
	}
}

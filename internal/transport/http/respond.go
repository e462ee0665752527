package http

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"quiz-rewards-service/internal/app"
	"quiz-rewards-service/internal/domain"
	"quiz-rewards-service/internal/gateway"
)

type successBody struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successBody{Status: "success", Data: data})
}

// writeError maps err onto the status codes the app renders:
// precondition failures are 409/422, gateway rejections 502 with the
// message verbatim, unreachable gateway 503.
func writeError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	writeJSON(w, status, body)
}

func errorResponse(err error) (int, errorBody) {
	body := errorBody{Status: "error", Message: err.Error()}

	var withdrawal *app.WithdrawalRejectedError
	var task *app.TaskRejectedError
	var remote *gateway.RemoteError
	var transport *gateway.TransportError
	var invalid validator.ValidationErrors

	switch {
	case errors.As(err, &withdrawal):
		body.Details = withdrawal.Verdict
		return http.StatusConflict, body
	case errors.As(err, &task):
		body.Details = task.Verdict
		return http.StatusConflict, body
	case errors.As(err, &remote):
		body.Message = gateway.UserMessage(err)
		return http.StatusBadGateway, body
	case errors.As(err, &transport):
		body.Message = gateway.UserMessage(err)
		return http.StatusServiceUnavailable, body
	case errors.As(err, &invalid):
		body.Message = validationMessage(invalid)
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrTaskNotFound),
		errors.Is(err, domain.ErrQuizNotFound):
		return http.StatusNotFound, body
	case errors.Is(err, domain.ErrInvalidOption),
		errors.Is(err, domain.ErrProofRequired),
		errors.Is(err, errBadRequest):
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, domain.ErrNoAccount),
		errors.Is(err, domain.ErrQuizAlreadyPlayed),
		errors.Is(err, domain.ErrRequestInFlight),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAnswerAlreadyRecorded):
		return http.StatusConflict, body
	default:
		body.Message = "internal error"
		return http.StatusInternalServerError, body
	}
}

var errBadRequest = errors.New("malformed request")

func validationMessage(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return "invalid request"
	}
	fe := errs[0]
	field := fe.Field()
	if field == "" {
		field = "value"
	}
	return "invalid " + field + ": failed " + fe.Tag()
}

package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/TheRealDuckers/the-hackers/internal/adapter"
	"github.com/TheRealDuckers/the-hackers/internal/identity"
	"github.com/TheRealDuckers/the-hackers/internal/session"
)

type errorBody struct {
	Error    string `json:"error"`
	LockedBy string `json:"lockedBy,omitempty"`
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: `{"error":"internal error"}`}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

func errorResponse(status int, msg string) events.APIGatewayProxyResponse {
	return jsonResponse(status, errorBody{Error: msg})
}

// errorFor maps a domain error to its status code and user-facing message.
func errorFor(err error) events.APIGatewayProxyResponse {
	var locked *session.LockedError
	switch {
	case errors.As(err, &locked):
		return jsonResponse(http.StatusForbidden, errorBody{Error: locked.Error(), LockedBy: locked.Holder})
	case errors.Is(err, session.ErrForbidden):
		return errorResponse(http.StatusForbidden, "file is locked by another user")
	case errors.Is(err, session.ErrNotHeld):
		return errorResponse(http.StatusForbidden, "you do not hold the lock on this file")
	case errors.Is(err, identity.ErrRejected):
		return errorResponse(http.StatusForbidden, "your account is not allowed to use this editor")
	case errors.Is(err, adapter.ErrInvalidPath):
		return errorResponse(http.StatusBadRequest, "invalid path")
	case errors.Is(err, adapter.ErrNotFound):
		return errorResponse(http.StatusNotFound, "file not found")
	case errors.Is(err, adapter.ErrConflict):
		return errorResponse(http.StatusConflict, "file changed since you opened it; reload and reapply your edit")
	case errors.Is(err, adapter.ErrUnavailable):
		return errorResponse(http.StatusBadGateway, "repository is unavailable, try again")
	default:
		return errorResponse(http.StatusInternalServerError, "internal error")
	}
}

package handler

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/TheRealDuckers/the-hackers/internal/adapter"
	"github.com/TheRealDuckers/the-hackers/internal/editor"
	"github.com/TheRealDuckers/the-hackers/internal/logging"
)

// LockHandler exposes the edit lock table.
type LockHandler struct {
	editor *editor.Editor
	guard  *Guard
	log    logging.Logger
}

// NewLockHandler creates a new LockHandler.
func NewLockHandler(e *editor.Editor, guard *Guard, log logging.Logger) *LockHandler {
	return &LockHandler{editor: e, guard: guard, log: log.With("handler", "lock")}
}

// ListLocks returns every held lock.
func (h *LockHandler) ListLocks(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, deny := h.guard.Authenticate(req); deny != nil {
		return *deny, nil
	}

	locks, err := h.editor.Locks(ctx)
	if err != nil {
		h.log.Error(ctx, "list locks failed", "error", err)
		return errorFor(err), nil
	}
	return jsonResponse(http.StatusOK, locks), nil
}

// ReleaseLock lets the owner give up a lock without saving.
func (h *LockHandler) ReleaseLock(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	who, deny := h.guard.Authenticate(req)
	if deny != nil {
		return *deny, nil
	}

	path, err := adapter.CleanPath(req.PathParameters["path"])
	if err != nil {
		return errorFor(err), nil
	}

	if err := h.editor.ReleaseLock(ctx, path, who); err != nil {
		return errorFor(err), nil
	}
	return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}, nil
}

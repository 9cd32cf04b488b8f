package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/TheRealDuckers/the-hackers/internal/adapter"
	"github.com/TheRealDuckers/the-hackers/internal/editor"
	"github.com/TheRealDuckers/the-hackers/internal/logging"
)

// FileHandler serves the repository browser and the editor.
type FileHandler struct {
	editor *editor.Editor
	guard  *Guard
	log    logging.Logger
}

// NewFileHandler creates a new FileHandler.
func NewFileHandler(e *editor.Editor, guard *Guard, log logging.Logger) *FileHandler {
	return &FileHandler{editor: e, guard: guard, log: log.With("handler", "file")}
}

type saveRequest struct {
	Content *string `json:"content"`
	SHA     string  `json:"sha"`
}

type saveResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
	SHA     string `json:"sha"`
}

// requestBody returns the raw body, decoding it if API Gateway base64-encoded it.
func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

// ListFiles returns the entries under ?dir= (the repository root by default).
func (h *FileHandler) ListFiles(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, deny := h.guard.Authenticate(req); deny != nil {
		return *deny, nil
	}

	dir, err := adapter.CleanDir(req.QueryStringParameters["dir"])
	if err != nil {
		return errorFor(err), nil
	}

	entries, err := h.editor.List(ctx, dir)
	if err != nil {
		h.log.Warn(ctx, "list failed", "dir", dir, "error", err)
		return errorFor(err), nil
	}
	return jsonResponse(http.StatusOK, entries), nil
}

// OpenFile returns the file content and claims its edit lock when free.
func (h *FileHandler) OpenFile(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	who, deny := h.guard.Authenticate(req)
	if deny != nil {
		return *deny, nil
	}

	path, err := adapter.CleanPath(req.PathParameters["path"])
	if err != nil {
		return errorFor(err), nil
	}

	res, err := h.editor.OpenForEdit(ctx, path, who)
	if err != nil {
		h.log.Warn(ctx, "open failed", "path", path, "error", err)
		return errorFor(err), nil
	}
	return jsonResponse(http.StatusOK, res), nil
}

// SaveFile commits new content for a file the caller may edit.
func (h *FileHandler) SaveFile(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	who, deny := h.guard.Authenticate(req)
	if deny != nil {
		return *deny, nil
	}

	path, err := adapter.CleanPath(req.PathParameters["path"])
	if err != nil {
		return errorFor(err), nil
	}

	raw, err := requestBody(req)
	if err != nil {
		return errorResponse(http.StatusBadRequest, "invalid request body"), nil
	}
	var body saveRequest
	if err := json.Unmarshal(raw, &body); err != nil || body.Content == nil {
		return errorResponse(http.StatusBadRequest, "content is required"), nil
	}

	meta, err := h.editor.SubmitEdit(ctx, path, who, []byte(*body.Content), body.SHA)
	if err != nil {
		h.log.Info(ctx, "save rejected", "path", path, "user", who.UserKey, "error", err)
		return errorFor(err), nil
	}

	return jsonResponse(http.StatusOK, saveResponse{
		Success: true,
		Path:    path,
		SHA:     meta.VersionToken,
	}), nil
}

// Preview renders a file as HTML. It never claims the edit lock.
func (h *FileHandler) Preview(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, deny := h.guard.Authenticate(req); deny != nil {
		return *deny, nil
	}

	path, err := adapter.CleanPath(req.PathParameters["path"])
	if err != nil {
		return errorFor(err), nil
	}

	html, err := h.editor.Preview(ctx, path)
	if err != nil {
		return errorFor(err), nil
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Body:       string(html),
		Headers: map[string]string{
			"Content-Type": "text/html; charset=utf-8",
		},
	}, nil
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/soyeahso/conductor/internal/domain"
)

// RequestHandler serves one RPC request.
type RequestHandler func(rc *RequestContext)

// RequestContext carries a request and its reply channel.
type RequestContext struct {
	ctx    context.Context
	Client *Client
	Frame  Frame
	server *Server
	code   string
}

// Context ends when the client disconnects.
func (rc *RequestContext) Context() context.Context { return rc.ctx }

// Params decodes the request params into target. Absent params leave it zero.
func (rc *RequestContext) Params(target any) error {
	if len(rc.Frame.Params) == 0 {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}

func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.server.log.Debug().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

func (rc *RequestContext) RespondError(code, message string) {
	rc.code = code
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{Code: code, Message: message})
}

// Fail replies with the stable code of a domain error.
func (rc *RequestContext) Fail(err error) {
	shape := ErrorShape{Code: domain.ErrorCode(err), Message: err.Error()}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		shape.Issues = ve.Issues
	}
	shape.Retryable = errors.Is(err, domain.ErrTimeout)
	rc.code = shape.Code
	rc.Client.RespondError(rc.Frame.ID, shape)
}

// HealthResponse is served on /health and by the health RPC. The public
// endpoint fills only Status.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Clients  int    `json:"clients,omitempty"`
	UptimeMs int64  `json:"uptimeMs,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]string{"error": "not found", "path": r.URL.Path})
}

package handler

import (
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/TheRealDuckers/the-hackers/internal/identity"
)

// Guard authenticates requests from the session token and re-checks the
// allow-list on every call, so removing an address takes effect before the
// session expires.
type Guard struct {
	gate      *identity.Gate
	jwtSecret string
	devMode   bool
}

func NewGuard(gate *identity.Gate, jwtSecret string, devMode bool) *Guard {
	return &Guard{gate: gate, jwtSecret: jwtSecret, devMode: devMode}
}

// Authenticate returns the caller, or the response to send when the request
// must stop here. A rejected identity also has its cookie cleared.
func (g *Guard) Authenticate(req events.APIGatewayProxyRequest) (identity.Identity, *events.APIGatewayProxyResponse) {
	id, err := GetIdentity(req, g.jwtSecret)
	if err != nil {
		resp := errorResponse(http.StatusUnauthorized, "Unauthorized")
		return identity.Identity{}, &resp
	}

	key, err := g.gate.Authorize(id)
	if err != nil {
		resp := errorFor(err)
		resp.MultiValueHeaders = map[string][]string{
			"Set-Cookie": {clearSessionCookie(g.devMode)},
		}
		return identity.Identity{}, &resp
	}
	id.UserKey = key
	return id, nil
}

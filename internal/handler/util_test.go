package handler_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheRealDuckers/the-hackers/internal/handler"
	"github.com/TheRealDuckers/the-hackers/internal/identity"
)

const testJWTSecret = "test-secret"

var (
	alice = identity.Identity{UserKey: "u-alice", DisplayName: "Alice", Email: "alice@x.com", SlackID: "UALICE"}
	bob   = identity.Identity{UserKey: "u-bob", DisplayName: "Bob", Email: "bob@x.com"}
	eve   = identity.Identity{UserKey: "u-eve", DisplayName: "Eve", Email: "eve@x.com"}
)

func testGate() *identity.Gate {
	return identity.NewGate([]string{"alice@x.com", "Bob@X.com"})
}

func makeToken(id identity.Identity) string {
	signed, _ := handler.IssueSession(id, testJWTSecret, time.Hour)
	return signed
}

func makeRequest(as identity.Identity, method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Body:       body,
		Headers: map[string]string{
			"Authorization": "Bearer " + makeToken(as),
			"Content-Type":  "application/json",
		},
		PathParameters:        map[string]string{},
		QueryStringParameters: map[string]string{},
	}
}

func TestGetIdentity_BearerToken(t *testing.T) {
	req := events.APIGatewayProxyRequest{
		Headers: map[string]string{"Authorization": "Bearer " + makeToken(alice)},
	}

	id, err := handler.GetIdentity(req, testJWTSecret)
	require.NoError(t, err)
	assert.Equal(t, alice, id)
}

func TestGetIdentity_Cookie(t *testing.T) {
	req := events.APIGatewayProxyRequest{
		Headers: map[string]string{"cookie": "theme=dark; session_token=" + makeToken(bob)},
	}

	id, err := handler.GetIdentity(req, testJWTSecret)
	require.NoError(t, err)
	assert.Equal(t, bob.UserKey, id.UserKey)
}

func TestGetIdentity_Rejects(t *testing.T) {
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-alice",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	expiredToken, _ := expired.SignedString([]byte(testJWTSecret))

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u-alice"})
	noExpToken, _ := noExp.SignedString([]byte(testJWTSecret))

	otherKey, _ := handler.IssueSession(alice, "other-secret", time.Hour)

	tests := map[string]string{
		"missing":      "",
		"garbage":      "Bearer not-a-jwt",
		"expired":      "Bearer " + expiredToken,
		"no expiry":    "Bearer " + noExpToken,
		"wrong secret": "Bearer " + otherKey,
	}
	for name, authz := range tests {
		t.Run(name, func(t *testing.T) {
			req := events.APIGatewayProxyRequest{Headers: map[string]string{"Authorization": authz}}
			_, err := handler.GetIdentity(req, testJWTSecret)
			assert.Error(t, err)
		})
	}
}

func TestGuard_ReChecksAllowList(t *testing.T) {
	g := handler.NewGuard(testGate(), testJWTSecret, false)

	id, deny := g.Authenticate(makeRequest(alice, "GET", "/files", ""))
	require.Nil(t, deny)
	assert.Equal(t, alice.UserKey, id.UserKey)

	// A valid session for someone no longer on the list.
	_, deny = g.Authenticate(makeRequest(eve, "GET", "/files", ""))
	require.NotNil(t, deny)
	assert.Equal(t, http.StatusForbidden, deny.StatusCode)
	cookies := deny.MultiValueHeaders["Set-Cookie"]
	require.Len(t, cookies, 1)
	assert.Contains(t, cookies[0], "Max-Age=0")

	_, deny = g.Authenticate(events.APIGatewayProxyRequest{})
	require.NotNil(t, deny)
	assert.Equal(t, http.StatusUnauthorized, deny.StatusCode)
}

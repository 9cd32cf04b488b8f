package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"

	"github.com/TheRealDuckers/the-hackers/internal/identity"
)

const sessionCookieName = "session_token"

// SessionClaims is the payload of the session JWT. Subject is the user key.
type SessionClaims struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	SlackID string `json:"slack_id,omitempty"`
	jwt.RegisteredClaims
}

// IssueSession signs a session token for an authorized identity.
func IssueSession(id identity.Identity, jwtSecret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Name:    id.DisplayName,
		Email:   id.Email,
		SlackID: id.SlackID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserKey,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
}

// header is a case-insensitive header lookup.
func header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	for k, v := range req.MultiValueHeaders {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// GetIdentity extracts the identity from the Authorization header or the
// session cookie.
func GetIdentity(req events.APIGatewayProxyRequest, jwtSecret string) (identity.Identity, error) {
	// 1. Check Authorization Header (Bearer <token>)
	tokenString := ""
	if authHeader := header(req, "Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		tokenString = strings.TrimPrefix(authHeader, "Bearer ")
	}

	// 2. Check Cookie
	if tokenString == "" {
		for _, part := range strings.Split(header(req, "Cookie"), ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(part, sessionCookieName+"=") {
				tokenString = strings.TrimPrefix(part, sessionCookieName+"=")
				break
			}
		}
	}

	if tokenString == "" {
		return identity.Identity{}, fmt.Errorf("no authorization token found")
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return identity.Identity{}, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return identity.Identity{}, fmt.Errorf("invalid token claims")
	}

	return identity.Identity{
		UserKey:     claims.Subject,
		DisplayName: claims.Name,
		Email:       claims.Email,
		SlackID:     claims.SlackID,
	}, nil
}

// sessionCookie builds the Set-Cookie value. maxAge 0 clears the cookie.
// Production serves the API cross-site, which requires SameSite=None.
func sessionCookie(token string, maxAge time.Duration, devMode bool) string {
	sameSite := "None"
	if devMode {
		sameSite = "Lax"
	}
	return fmt.Sprintf("%s=%s; HttpOnly; Path=/; Max-Age=%d; SameSite=%s; Secure",
		sessionCookieName, token, int(maxAge.Seconds()), sameSite)
}

func clearSessionCookie(devMode bool) string {
	return sessionCookie("", 0, devMode)
}

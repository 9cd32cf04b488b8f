package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Params names the parameter for each secret the service uses.
type Params struct {
	JWT          string
	APIGateway   string
	OAuthClient  string
	GitHubKey    string
	SlackToken   string
	SlackSigning string
	SlackWebhook string
}

// Bundle holds resolved secret values. Optional secrets are empty when unset.
type Bundle struct {
	JWT          string
	APIGateway   string
	OAuthClient  string
	GitHubKey    []byte
	SlackToken   string
	SlackSigning string
	SlackWebhook string
}

// Load resolves every secret in p. The session key is always required; the
// OAuth client secret and GitHub App key are required unless devMode is set.
// Slack secrets are optional: without them the matching feature is off.
func Load(ctx context.Context, r Resolver, p Params, devMode bool) (*Bundle, error) {
	var errs []error
	get := func(name string, required bool) string {
		v, err := r.GetSecret(ctx, name)
		if err == nil {
			return v
		}
		if required || !errors.Is(err, ErrNotSet) {
			errs = append(errs, err)
		}
		return ""
	}

	b := &Bundle{
		JWT:          get(p.JWT, true),
		APIGateway:   get(p.APIGateway, !devMode),
		OAuthClient:  get(p.OAuthClient, !devMode),
		SlackToken:   get(p.SlackToken, false),
		SlackSigning: get(p.SlackSigning, false),
		SlackWebhook: get(p.SlackWebhook, false),
	}
	// PEM keys pasted into a single-line env var keep literal "\n".
	if key := get(p.GitHubKey, !devMode); key != "" {
		b.GitHubKey = []byte(strings.ReplaceAll(key, `\n`, "\n"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}
	return b, nil
}

// Package app wires the service together and routes API Gateway requests.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/TheRealDuckers/the-hackers/internal/adapter"
	"github.com/TheRealDuckers/the-hackers/internal/adapter/githubrepo"
	"github.com/TheRealDuckers/the-hackers/internal/adapter/memory"
	"github.com/TheRealDuckers/the-hackers/internal/auth"
	"github.com/TheRealDuckers/the-hackers/internal/config"
	"github.com/TheRealDuckers/the-hackers/internal/crypto"
	"github.com/TheRealDuckers/the-hackers/internal/editor"
	"github.com/TheRealDuckers/the-hackers/internal/handler"
	"github.com/TheRealDuckers/the-hackers/internal/identity"
	"github.com/TheRealDuckers/the-hackers/internal/logging"
	"github.com/TheRealDuckers/the-hackers/internal/notify"
	"github.com/TheRealDuckers/the-hackers/internal/secret"
	"github.com/TheRealDuckers/the-hackers/internal/session"
)

// devSeed is the content of the in-memory repository in dev mode.
var devSeed = map[string]string{
	"README.md":     "# The Hackers\n\nEdit me from the web editor.\n",
	"docs/guide.md": "# Guide\n\n1. Open a file.\n2. Edit it.\n3. Save.\n",
}

// App holds the dependencies for the Lambda function.
type App struct {
	authHandler  *handler.AuthHandler
	fileHandler  *handler.FileHandler
	lockHandler  *handler.LockHandler
	slackHandler *handler.SlackHandler

	apiGatewaySecret string
	frontendURL      string
	devMode          bool
	log              logging.Logger
}

// deps are the collaborators NewApp builds from AWS, GitHub and Slack.
type deps struct {
	secrets  *secret.Bundle
	store    adapter.ContentStore
	auth     *auth.AuthService
	states   auth.StateStore
	notifier notify.Notifier
}

// NewApp initializes the application dependencies.
func NewApp(ctx context.Context, cfg *config.Config, log logging.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		if !cfg.DevMode {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		log.Warn(ctx, "config incomplete", "error", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	// ---------- Secret Resolver ----------
	var resolver secret.Resolver
	if cfg.DevMode {
		resolver = secret.NewEnvResolver()
		log.Info(ctx, "using environment secrets (dev mode)")
	} else {
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))
	}
	secrets, err := secret.Load(ctx, resolver, secret.Params{
		JWT:          cfg.Secrets.JWTParam,
		APIGateway:   cfg.Secrets.APIGatewayParam,
		OAuthClient:  cfg.Secrets.OAuthClientParam,
		GitHubKey:    cfg.Secrets.GitHubKeyParam,
		SlackToken:   cfg.Secrets.SlackTokenParam,
		SlackSigning: cfg.Secrets.SlackSigningParam,
		SlackWebhook: cfg.Secrets.SlackWebhookParam,
	}, cfg.DevMode)
	if err != nil {
		return nil, err
	}

	// ---------- Token encryption ----------
	var encryptor crypto.Encryptor
	if cfg.DevMode {
		encryptor = crypto.NewPlainEncryptor()
	} else {
		encryptor = crypto.NewKMSService(kms.NewFromConfig(awsCfg), cfg.AWS.KMSKeyID)
	}

	// ---------- Users table ----------
	var usersDB auth.DynamoAPI
	if cfg.AWS.UsersTable != "" {
		usersDB = dynamodb.NewFromConfig(awsCfg)
	} else {
		log.Warn(ctx, "no users table configured, keeping user records in memory")
	}
	oauthConfig := auth.NewOAuthConfig(auth.ProviderConfig{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: secrets.OAuthClient,
		RedirectURL:  cfg.OAuth.RedirectURL,
		AuthorizeURL: cfg.OAuth.AuthorizeURL,
		TokenURL:     cfg.OAuth.TokenURL,
		Scopes:       cfg.OAuth.Scopes,
	})
	authService := auth.NewAuthService(oauthConfig, cfg.OAuth.UserInfoURL, usersDB, cfg.AWS.UsersTable, encryptor)

	// ---------- OAuth state ----------
	var states auth.StateStore = auth.NewMemoryStateStore()
	if cfg.Redis.Addr != "" {
		states = auth.NewRedisStateStore(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}))
	}

	store, err := newStore(ctx, cfg, awsCfg, secrets, log)
	if err != nil {
		return nil, err
	}

	// ---------- Notifications ----------
	var notifier notify.Notifier = notify.Nop{}
	if secrets.SlackToken != "" || secrets.SlackWebhook != "" {
		notifier = notify.NewSlackNotifierFromToken(secrets.SlackToken, cfg.Slack.AdminUserID, secrets.SlackWebhook)
	} else {
		log.Info(ctx, "slack not configured, notifications disabled")
	}

	return newApp(cfg, deps{
		secrets:  secrets,
		store:    store,
		auth:     authService,
		states:   states,
		notifier: notifier,
	}, log), nil
}

// newStore returns the GitHub store in production and a seeded in-memory
// store in dev mode (persisted to DynamoDB when a table is configured).
func newStore(ctx context.Context, cfg *config.Config, awsCfg aws.Config, secrets *secret.Bundle, log logging.Logger) (adapter.ContentStore, error) {
	if !cfg.DevMode {
		ts, err := githubrepo.NewInstallationTokenSource(cfg.GitHub.AppID, cfg.GitHub.InstallationID, secrets.GitHubKey, cfg.GitHub.BaseURL)
		if err != nil {
			return nil, err
		}
		client, err := githubrepo.NewClient(ctx, ts, cfg.GitHub.BaseURL)
		if err != nil {
			return nil, err
		}
		log.Info(ctx, "using github content store", "owner", cfg.GitHub.Owner, "repo", cfg.GitHub.Repo, "branch", cfg.GitHub.Branch)
		return githubrepo.NewStore(client, githubrepo.Config{
			Owner:   cfg.GitHub.Owner,
			Repo:    cfg.GitHub.Repo,
			Branch:  cfg.GitHub.Branch,
			Timeout: cfg.GitHub.Timeout,
		}), nil
	}

	var store *memory.Store
	if cfg.AWS.FileStoreTable != "" {
		store = memory.NewStore(dynamodb.NewFromConfig(awsCfg), cfg.AWS.FileStoreTable)
		log.Info(ctx, "using dynamodb content store (dev mode)", "table", cfg.AWS.FileStoreTable)
	} else {
		store = memory.NewStore(nil, "")
		log.Info(ctx, "using in-memory content store (dev mode)")
	}
	if err := seed(ctx, store); err != nil {
		return nil, err
	}
	return store, nil
}

// seed writes the dev fixtures that are not already present.
func seed(ctx context.Context, store *memory.Store) error {
	for path, content := range devSeed {
		_, err := store.Get(ctx, path)
		if err == nil {
			continue
		}
		if !errors.Is(err, adapter.ErrNotFound) {
			return fmt.Errorf("seed %s: %w", path, err)
		}
		if _, err := store.Seed(ctx, path, []byte(content)); err != nil {
			return fmt.Errorf("seed %s: %w", path, err)
		}
	}
	return nil
}

func newApp(cfg *config.Config, d deps, log logging.Logger) *App {
	gate := identity.NewGate(cfg.AllowedEmails)
	guard := handler.NewGuard(gate, d.secrets.JWT, cfg.DevMode)
	// Locks live in this process only. Run the Lambda with reserved
	// concurrency 1 so every request sees the same table.
	ed := editor.New(d.store, session.NewLockTable(), d.notifier, log, cfg.GitHub.CommitMessage)

	return &App{
		authHandler: handler.NewAuthHandler(d.auth, d.states, gate, d.notifier, handler.AuthOptions{
			JWTSecret:   d.secrets.JWT,
			FrontendURL: cfg.FrontendURL,
			DevMode:     cfg.DevMode,
			SessionTTL:  cfg.SessionTTL,
		}, log),
		fileHandler:      handler.NewFileHandler(ed, guard, log),
		lockHandler:      handler.NewLockHandler(ed, guard, log),
		slackHandler:     handler.NewSlackHandler(d.auth, d.notifier, d.secrets.SlackSigning, log),
		apiGatewaySecret: d.secrets.APIGateway,
		frontendURL:      cfg.FrontendURL,
		devMode:          cfg.DevMode,
		log:              log,
	}
}

type route func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	path := req.Path
	method := req.HTTPMethod

	requestID := req.RequestContext.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := app.log.With("request_id", requestID)
	log.Debug(ctx, "request", "method", method, "path", path)

	// CORS Preflight
	if method == http.MethodOptions {
		return app.corsResponse(events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}), nil
	}

	// Only CloudFront knows the origin secret. Slack calls the API directly
	// and is authenticated by its request signature instead.
	path = strings.TrimPrefix(path, "/api")
	if !app.devMode && path != "/slack/actions" && !app.originVerified(req) {
		log.Warn(ctx, "missing or invalid X-Origin-Verify header", "path", path)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusForbidden,
			Body:       "Forbidden: Access denied",
		}, nil
	}

	if req.PathParameters == nil {
		req.PathParameters = make(map[string]string)
	}
	if req.QueryStringParameters == nil {
		req.QueryStringParameters = make(map[string]string)
	}

	h := app.match(method, path, &req)
	if h == nil {
		return app.corsResponse(events.APIGatewayProxyResponse{
			StatusCode: http.StatusNotFound,
			Body:       fmt.Sprintf("Not Found: %s %s", method, path),
		}), nil
	}
	return app.corsResponse(app.must(ctx, log)(h(ctx, req))), nil
}

// match picks the handler for method and path, filling path parameters.
func (app *App) match(method, path string, req *events.APIGatewayProxyRequest) route {
	switch {
	case path == "/auth/login" && method == http.MethodGet:
		return app.authHandler.Login
	case path == "/auth/callback" && method == http.MethodGet:
		return app.authHandler.Callback
	case path == "/auth/demo-login" && method == http.MethodGet:
		return app.authHandler.DemoLogin
	case path == "/auth/logout" && method == http.MethodPost:
		return app.authHandler.Logout
	case path == "/auth/me" && method == http.MethodGet:
		return app.authHandler.Me
	case path == "/slack/actions" && method == http.MethodPost:
		return app.slackHandler.Actions
	case (path == "/files" || path == "/files/") && method == http.MethodGet:
		return app.fileHandler.ListFiles
	case path == "/locks" && method == http.MethodGet:
		return app.lockHandler.ListLocks
	}

	if p, ok := strings.CutPrefix(path, "/files/"); ok {
		req.PathParameters["path"] = p
		switch method {
		case http.MethodGet:
			return app.fileHandler.OpenFile
		case http.MethodPost, http.MethodPut:
			return app.fileHandler.SaveFile
		}
	}
	if p, ok := strings.CutPrefix(path, "/preview/"); ok && method == http.MethodGet {
		req.PathParameters["path"] = p
		return app.fileHandler.Preview
	}
	if p, ok := strings.CutPrefix(path, "/locks/"); ok && method == http.MethodDelete {
		req.PathParameters["path"] = p
		return app.lockHandler.ReleaseLock
	}
	return nil
}

func (app *App) originVerified(req events.APIGatewayProxyRequest) bool {
	if app.apiGatewaySecret == "" {
		return false
	}
	for k, v := range req.Headers {
		if strings.EqualFold(k, "X-Origin-Verify") {
			return v == app.apiGatewaySecret
		}
	}
	return false
}

// corsResponse adds CORS headers to an API Gateway response.
func (app *App) corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = app.frontendURL
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,PUT,DELETE,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}

// must unwraps a handler response, logging the error.
func (app *App) must(ctx context.Context, log logging.Logger) func(events.APIGatewayProxyResponse, error) events.APIGatewayProxyResponse {
	return func(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
		if err != nil {
			log.Error(ctx, "handler error", "error", err)
			return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
		}
		return resp
	}
}

// Package config loads service settings from an optional YAML file and the
// environment. Every key can be overridden by an environment variable whose
// name is the upper-cased key with dots replaced by underscores
// (github.owner -> GITHUB_OWNER).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds runtime settings. Secret values are not stored here; the
// Secrets block only names the parameters that secret.Resolver looks up.
type Config struct {
	DevMode       bool          `mapstructure:"dev_mode"`
	Port          int           `mapstructure:"port"`
	FrontendURL   string        `mapstructure:"frontend_url"`
	AllowedEmails []string      `mapstructure:"allowed_emails"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Secrets struct {
		JWTParam          string `mapstructure:"jwt_param"`
		APIGatewayParam   string `mapstructure:"api_gateway_param"`
		OAuthClientParam  string `mapstructure:"oauth_client_param"`
		GitHubKeyParam    string `mapstructure:"github_key_param"`
		SlackTokenParam   string `mapstructure:"slack_token_param"`
		SlackSigningParam string `mapstructure:"slack_signing_param"`
		SlackWebhookParam string `mapstructure:"slack_webhook_param"`
	} `mapstructure:"secrets"`

	OAuth struct {
		ClientID     string   `mapstructure:"client_id"`
		RedirectURL  string   `mapstructure:"redirect_url"`
		AuthorizeURL string   `mapstructure:"authorize_url"`
		TokenURL     string   `mapstructure:"token_url"`
		UserInfoURL  string   `mapstructure:"userinfo_url"`
		Scopes       []string `mapstructure:"scopes"`
	} `mapstructure:"oauth"`

	GitHub struct {
		AppID          int64         `mapstructure:"app_id"`
		InstallationID int64         `mapstructure:"installation_id"`
		Owner          string        `mapstructure:"owner"`
		Repo           string        `mapstructure:"repo"`
		Branch         string        `mapstructure:"branch"`
		BaseURL        string        `mapstructure:"base_url"`
		CommitMessage  string        `mapstructure:"commit_message"`
		Timeout        time.Duration `mapstructure:"timeout"`
	} `mapstructure:"github"`

	Slack struct {
		AdminUserID string `mapstructure:"admin_user_id"`
	} `mapstructure:"slack"`

	AWS struct {
		UsersTable     string `mapstructure:"users_table"`
		FileStoreTable string `mapstructure:"file_store_table"`
		KMSKeyID       string `mapstructure:"kms_key_id"`
	} `mapstructure:"aws"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dev_mode", false)
	v.SetDefault("port", 8080)
	v.SetDefault("frontend_url", "http://localhost:3000")
	v.SetDefault("allowed_emails", []string{})
	v.SetDefault("session_ttl", 24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("secrets.jwt_param", "/hackers/jwt-secret")
	v.SetDefault("secrets.api_gateway_param", "/hackers/api-gateway-secret")
	v.SetDefault("secrets.oauth_client_param", "/hackers/hackclub-client-secret")
	v.SetDefault("secrets.github_key_param", "/hackers/github-app-private-key")
	v.SetDefault("secrets.slack_token_param", "/hackers/slack-bot-token")
	v.SetDefault("secrets.slack_signing_param", "/hackers/slack-signing-secret")
	v.SetDefault("secrets.slack_webhook_param", "/hackers/slack-webhook-url")

	v.SetDefault("oauth.client_id", "")
	v.SetDefault("oauth.redirect_url", "http://localhost:8080/auth/callback")
	v.SetDefault("oauth.authorize_url", "https://auth.hackclub.com/oauth/authorize")
	v.SetDefault("oauth.token_url", "https://auth.hackclub.com/oauth/token")
	v.SetDefault("oauth.userinfo_url", "https://auth.hackclub.com/api/v1/me")
	v.SetDefault("oauth.scopes", []string{"profile", "email", "slack_id"})

	v.SetDefault("github.app_id", 0)
	v.SetDefault("github.installation_id", 0)
	v.SetDefault("github.owner", "")
	v.SetDefault("github.repo", "")
	v.SetDefault("github.branch", "")
	v.SetDefault("github.base_url", "")
	v.SetDefault("github.commit_message", "Edited %s via The Hackers platform")
	v.SetDefault("github.timeout", 10*time.Second)

	v.SetDefault("slack.admin_user_id", "")

	v.SetDefault("aws.users_table", "")
	v.SetDefault("aws.file_store_table", "")
	v.SetDefault("aws.kms_key_id", "alias/hackers-token-key")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
}

// Load reads config.yaml (if present) and the environment.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.AllowedEmails = splitList(cfg.AllowedEmails)
	cfg.OAuth.Scopes = splitList(cfg.OAuth.Scopes)
	return &cfg, nil
}

// splitList flattens comma-separated entries and drops blanks, so
// ALLOWED_EMAILS="a@x.com, b@x.com" and a YAML list behave the same.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate reports settings that are required outside dev mode.
func (c *Config) Validate() error {
	var errs []error
	if len(c.AllowedEmails) == 0 {
		errs = append(errs, errors.New("allowed_emails is empty: every login will be rejected"))
	}
	if c.DevMode {
		return errors.Join(errs...)
	}
	if c.OAuth.ClientID == "" {
		errs = append(errs, errors.New("oauth.client_id is required"))
	}
	if c.GitHub.Owner == "" || c.GitHub.Repo == "" {
		errs = append(errs, errors.New("github.owner and github.repo are required"))
	}
	if c.GitHub.AppID == 0 || c.GitHub.InstallationID == 0 {
		errs = append(errs, errors.New("github.app_id and github.installation_id are required"))
	}
	return errors.Join(errs...)
}

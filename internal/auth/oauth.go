// Package auth runs the Hack Club OAuth login and keeps user records.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/oauth2"

	"github.com/TheRealDuckers/the-hackers/internal/crypto"
	"github.com/TheRealDuckers/the-hackers/internal/identity"
	"github.com/TheRealDuckers/the-hackers/internal/model"
)

var (
	// ErrUserNotFound is returned when no user record matches.
	ErrUserNotFound = errors.New("user not found")

	// ErrNoAccessToken is returned when a user record carries no provider token.
	ErrNoAccessToken = errors.New("no stored access token")
)

// DynamoAPI is the subset of *dynamodb.Client used for the users table.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// ProviderConfig describes the OAuth provider endpoints.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthorizeURL string
	TokenURL     string
	Scopes       []string
}

// NewOAuthConfig builds the oauth2 config. Hack Club expects the client
// credentials in the token request body.
func NewOAuthConfig(p ProviderConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.RedirectURL,
		Scopes:       p.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.AuthorizeURL,
			TokenURL:  p.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthService handles the OAuth2 flow and user record storage.
type AuthService struct {
	oauthConfig  *oauth2.Config
	userInfoURL  string
	dynamoClient DynamoAPI
	tableName    string
	kmsService   crypto.Encryptor

	// In-memory fallback
	users map[string]model.UserRecord
	mu    sync.RWMutex
}

// NewAuthService creates an AuthService. A nil dynamoClient keeps user
// records in memory.
func NewAuthService(oauthConfig *oauth2.Config, userInfoURL string, dynamoClient DynamoAPI, tableName string, kmsService crypto.Encryptor) *AuthService {
	return &AuthService{
		oauthConfig:  oauthConfig,
		userInfoURL:  userInfoURL,
		dynamoClient: dynamoClient,
		tableName:    tableName,
		kmsService:   kmsService,
		users:        make(map[string]model.UserRecord),
	}
}

// Config returns the OAuth2 config.
func (s *AuthService) Config() *oauth2.Config {
	return s.oauthConfig
}

// GenerateAuthURL returns the provider URL to send the browser to.
func (s *AuthService) GenerateAuthURL(state string) string {
	return s.oauthConfig.AuthCodeURL(state)
}

// ExchangeCode exchanges the authorization code for an access token.
func (s *AuthService) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return tok, nil
}

type meResponse struct {
	Identity struct {
		ID           string `json:"id"`
		FirstName    string `json:"first_name"`
		LastName     string `json:"last_name"`
		PrimaryEmail string `json:"primary_email"`
		SlackID      string `json:"slack_id"`
	} `json:"identity"`
}

// FetchIdentity calls the provider's /me endpoint with token.
func (s *AuthService) FetchIdentity(ctx context.Context, token *oauth2.Token) (identity.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userInfoURL, nil)
	if err != nil {
		return identity.Identity{}, err
	}
	resp, err := s.oauthConfig.Client(ctx, token).Do(req)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("fetch identity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return identity.Identity{}, fmt.Errorf("fetch identity: unexpected status %d", resp.StatusCode)
	}

	var me meResponse
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return identity.Identity{}, fmt.Errorf("decode identity: %w", err)
	}

	name := me.Identity.FirstName
	if name == "" {
		name, _, _ = strings.Cut(me.Identity.PrimaryEmail, "@")
	}
	return identity.Identity{
		UserKey:     me.Identity.ID,
		DisplayName: name,
		Email:       me.Identity.PrimaryEmail,
		SlackID:     me.Identity.SlackID,
	}, nil
}

// SaveUser upserts the record for an authorized identity. The provider
// access token, when given, is stored encrypted.
func (s *AuthService) SaveUser(ctx context.Context, userKey string, id identity.Identity, token *oauth2.Token) (*model.UserRecord, error) {
	rec := model.UserRecord{
		UserKey:     userKey,
		DisplayName: id.DisplayName,
		Email:       identity.NormalizeEmail(id.Email),
		SlackID:     id.SlackID,
		LastLoginAt: time.Now().UTC(),
	}
	if token != nil && token.AccessToken != "" {
		encrypted, err := s.kmsService.Encrypt(ctx, token.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt access token: %w", err)
		}
		rec.EncryptedAccessToken = encrypted
	}

	if s.dynamoClient == nil {
		s.mu.Lock()
		s.users[userKey] = rec
		s.mu.Unlock()
		return &rec, nil
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user record: %w", err)
	}
	if _, err := s.dynamoClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return nil, fmt.Errorf("failed to save user to DynamoDB: %w", err)
	}
	return &rec, nil
}

// AccessToken decrypts the provider token stored with rec.
func (s *AuthService) AccessToken(ctx context.Context, rec *model.UserRecord) (*oauth2.Token, error) {
	if rec == nil || rec.EncryptedAccessToken == "" {
		return nil, ErrNoAccessToken
	}
	plain, err := s.kmsService.Decrypt(ctx, rec.EncryptedAccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	return &oauth2.Token{AccessToken: plain, TokenType: "Bearer"}, nil
}

// GetUser returns the record for userKey.
func (s *AuthService) GetUser(ctx context.Context, userKey string) (*model.UserRecord, error) {
	if s.dynamoClient == nil {
		s.mu.RLock()
		rec, ok := s.users[userKey]
		s.mu.RUnlock()
		if !ok {
			return nil, ErrUserNotFound
		}
		return &rec, nil
	}

	out, err := s.dynamoClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"user_key": &types.AttributeValueMemberS{Value: userKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item from DynamoDB: %w", err)
	}
	if out.Item == nil {
		return nil, ErrUserNotFound
	}

	var rec model.UserRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user record: %w", err)
	}
	return &rec, nil
}

// FindBySlackID returns the user whose Slack id matches. The users table is
// small, so this scans.
func (s *AuthService) FindBySlackID(ctx context.Context, slackID string) (*model.UserRecord, error) {
	if slackID == "" {
		return nil, ErrUserNotFound
	}

	if s.dynamoClient == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for _, rec := range s.users {
			if rec.SlackID == slackID {
				return &rec, nil
			}
		}
		return nil, ErrUserNotFound
	}

	input := &dynamodb.ScanInput{
		TableName:        aws.String(s.tableName),
		FilterExpression: aws.String("slack_id = :sid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: slackID},
		},
	}
	for {
		out, err := s.dynamoClient.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to scan users: %w", err)
		}
		if len(out.Items) > 0 {
			var rec model.UserRecord
			if err := attributevalue.UnmarshalMap(out.Items[0], &rec); err != nil {
				return nil, fmt.Errorf("failed to unmarshal user record: %w", err)
			}
			return &rec, nil
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil, ErrUserNotFound
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

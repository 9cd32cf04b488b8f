package model

import "time"

// Lock is exclusive edit intent on one path. VersionToken is the revision
// the owner last read; it is used when a save arrives without one.
type Lock struct {
	Path         string    `json:"path"`
	OwnerKey     string    `json:"ownerKey"`
	OwnerName    string    `json:"ownerName"`
	VersionToken string    `json:"-"`
	AcquiredAt   time.Time `json:"acquiredAt"` // informational, locks never expire
}

// UserRecord is a signed-in user as stored in DynamoDB.
type UserRecord struct {
	UserKey              string    `json:"user_key" dynamodbav:"user_key"`
	DisplayName          string    `json:"display_name" dynamodbav:"display_name"`
	Email                string    `json:"email" dynamodbav:"email"`
	SlackID              string    `json:"slack_id,omitempty" dynamodbav:"slack_id,omitempty"`
	EncryptedAccessToken string    `json:"-" dynamodbav:"encrypted_access_token"`
	LastLoginAt          time.Time `json:"last_login_at" dynamodbav:"last_login_at"`
}

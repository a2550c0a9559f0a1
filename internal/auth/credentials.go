// Package auth manages the workstation's Drive authorization: a single
// refresh token, encrypted with KMS and stored in DynamoDB, exchanged for an
// authenticated HTTP client on demand.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/oauth2"

	"github.com/cadvault/drivelock/internal/crypto"
	"github.com/cadvault/drivelock/internal/model"
)

// ErrNoCredentials is returned when the workstation has not completed the
// OAuth bootstrap (drivelockd login).
var ErrNoCredentials = fmt.Errorf("no drive credentials stored for this workstation")

// DynamoClient is the subset of *dynamodb.Client methods used by CredentialStore.
type DynamoClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// CredentialStore persists and retrieves the encrypted Drive refresh token.
type CredentialStore struct {
	oauthConfig *oauth2.Config
	client      DynamoClient
	tableName   string
	encryptor   crypto.Encryptor
}

// NewCredentialStore creates a new CredentialStore. The oauthConfig is
// constructed by the caller from agent configuration.
func NewCredentialStore(oauthConfig *oauth2.Config, client DynamoClient, tableName string, encryptor crypto.Encryptor) *CredentialStore {
	return &CredentialStore{
		oauthConfig: oauthConfig,
		client:      client,
		tableName:   tableName,
		encryptor:   encryptor,
	}
}

// AuthURL returns the URL the user visits to authorize the agent.
func (s *CredentialStore) AuthURL(state string) string {
	return s.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode exchanges the authorization code for a token.
func (s *CredentialStore) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return s.oauthConfig.Exchange(ctx, code)
}

// Save encrypts the refresh token and stores it, preserving any previously
// selected base folder.
func (s *CredentialStore) Save(ctx context.Context, workstationID string, token *oauth2.Token) error {
	if token.RefreshToken == "" {
		return fmt.Errorf("no refresh token in response")
	}

	encrypted, err := s.encryptor.Encrypt(ctx, token.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	var baseFolderID string
	if existing, err := s.Get(ctx, workstationID); err == nil {
		baseFolderID = existing.BaseFolderID
	}

	creds := model.DriveCredentials{
		WorkstationID:         workstationID,
		EncryptedRefreshToken: encrypted,
		BaseFolderID:          baseFolderID,
		UpdatedAt:             time.Now(),
	}

	item, err := attributevalue.MarshalMap(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// Get retrieves the stored credentials for the workstation.
func (s *CredentialStore) Get(ctx context.Context, workstationID string) (*model.DriveCredentials, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"workstation_id": &types.AttributeValueMemberS{Value: workstationID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNoCredentials
	}

	var creds model.DriveCredentials
	if err := attributevalue.UnmarshalMap(out.Item, &creds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return &creds, nil
}

// UpdateBaseFolder records the managed folder chosen during setup without
// touching the stored token.
func (s *CredentialStore) UpdateBaseFolder(ctx context.Context, workstationID, folderID string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"workstation_id": &types.AttributeValueMemberS{Value: workstationID},
		},
		UpdateExpression: aws.String("SET base_folder_id = :fid, updated_at = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":fid": &types.AttributeValueMemberS{Value: folderID},
			":now": &types.AttributeValueMemberS{Value: time.Now().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update base folder id: %w", err)
	}
	return nil
}

// HTTPClient returns an authenticated http.Client for the workstation,
// refreshing the access token through the stored refresh token.
func (s *CredentialStore) HTTPClient(ctx context.Context, workstationID string) (*http.Client, error) {
	creds, err := s.Get(ctx, workstationID)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.encryptor.Decrypt(ctx, creds.EncryptedRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	token := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-1 * time.Hour), // Force refresh
	}
	return oauth2.NewClient(ctx, s.oauthConfig.TokenSource(ctx, token)), nil
}

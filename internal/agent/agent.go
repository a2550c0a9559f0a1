// Package agent wires the drivelock components together from configuration.
package agent

import (
	"context"
	"fmt"
	"log"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/cadvault/drivelock/internal/auth"
	"github.com/cadvault/drivelock/internal/config"
	"github.com/cadvault/drivelock/internal/crypto"
	"github.com/cadvault/drivelock/internal/drive"
	"github.com/cadvault/drivelock/internal/lockstore"
	"github.com/cadvault/drivelock/internal/remote"
	"github.com/cadvault/drivelock/internal/secret"
)

// Core holds the agent's backend clients. A failure to build it is fatal to
// startup; there is no degraded mode.
type Core struct {
	Config        *config.Config
	WorkstationID string
	OwnerName     string

	Credentials *auth.CredentialStore
	Locks       lockstore.Store

	bridgeSecret string
}

// NewCore initializes AWS clients, secrets, and stores from configuration.
func NewCore(ctx context.Context, cfg *config.Config) (*Core, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)

	var encryptor crypto.Encryptor
	var resolver secret.Resolver
	if cfg.DevMode {
		encryptor = crypto.NewMockEncryptor()
		resolver = secret.NewEnvResolver()
		log.Println("agent: dev mode, using mock encryptor and env secrets")
	} else {
		encryptor = crypto.NewKMSService(kms.NewFromConfig(awsCfg), cfg.KMSKeyID)
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))
	}

	googleClientSecret, err := resolver.GetSecret(ctx, cfg.GoogleClientSecretParam)
	if err != nil {
		log.Printf("agent: WARNING: failed to resolve google client secret: %v", err)
	}

	bridgeSecret, err := resolver.GetSecret(ctx, cfg.BridgeSecretParam)
	if err != nil {
		if !cfg.DevMode {
			return nil, fmt.Errorf("resolve bridge secret: %w", err)
		}
		log.Printf("agent: WARNING: failed to resolve bridge secret, using dev default: %v", err)
		bridgeSecret = "dev-bridge-secret"
	}

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: googleClientSecret,
		// Out-of-band flow: the user pastes the code into the terminal.
		RedirectURL: "urn:ietf:wg:oauth:2.0:oob",
		Scopes:      []string{"https://www.googleapis.com/auth/drive"},
		Endpoint:    google.Endpoint,
	}

	workstationID := cfg.WorkstationID
	if workstationID == "" {
		workstationID = uuid.NewString()
		log.Printf("agent: no workstation id configured, generated %s", workstationID)
	}
	ownerName := cfg.OwnerName
	if ownerName == "" {
		ownerName = workstationID
	}

	var locks lockstore.Store
	if cfg.DevMode {
		locks = lockstore.NewMemoryStore()
	} else {
		locks = lockstore.NewDynamoStore(dynamoClient, cfg.LockTable, cfg.LockTTL)
	}

	return &Core{
		Config:        cfg,
		WorkstationID: workstationID,
		OwnerName:     ownerName,
		Credentials:   auth.NewCredentialStore(oauthConfig, dynamoClient, cfg.CredentialTable, encryptor),
		Locks:         locks,
		bridgeSecret:  bridgeSecret,
	}, nil
}

// BridgeSecret returns the shared secret for bridge tokens.
func (c *Core) BridgeSecret() string {
	return c.bridgeSecret
}

// RemoteService builds the remote client from the stored Drive credentials.
// Fails with auth.ErrNoCredentials until the login bootstrap has run.
func (c *Core) RemoteService(ctx context.Context) (*remote.Service, error) {
	creds, err := c.Credentials.Get(ctx, c.WorkstationID)
	if err != nil {
		return nil, err
	}

	httpClient, err := c.Credentials.HTTPClient(ctx, c.WorkstationID)
	if err != nil {
		return nil, err
	}

	baseFolderID := creds.BaseFolderID
	if baseFolderID == "" {
		baseFolderID = c.Config.BaseFolderID
	}

	adapter, err := drive.NewAdapter(ctx, httpClient, baseFolderID)
	if err != nil {
		return nil, err
	}

	return remote.NewService(adapter, c.Locks, c.WorkstationID, c.OwnerName), nil
}

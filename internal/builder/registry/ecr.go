package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/image-publisher/internal/publisher"
)

// ECRAPI is the subset of the ECR client used for publishing
type ECRAPI interface {
	GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
	CreateRepository(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
}

// ECRClient implements Client with the ECR API
type ECRClient struct {
	client       ECRAPI
	domainSuffix string
}

// NewECRClient creates a client from a loaded AWS config
func NewECRClient(cfg aws.Config, domainSuffix string) *ECRClient {
	return NewECRClientWithAPI(ecr.NewFromConfig(cfg), domainSuffix)
}

// NewECRClientWithAPI creates a client around an existing ECR API
func NewECRClientWithAPI(api ECRAPI, domainSuffix string) *ECRClient {
	return &ECRClient{client: api, domainSuffix: domainSuffix}
}

// Name returns the client name
func (c *ECRClient) Name() string {
	return string(RegistryTypeSDK)
}

// AuthorizationToken fetches and decodes a registry token for the account
func (c *ECRClient) AuthorizationToken(ctx context.Context, region, accountID string) (publisher.Credentials, error) {
	host := publisher.RegistryHost(accountID, region, c.domainSuffix)

	out, err := c.client.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{}, withRegion(region))
	if err != nil {
		return publisher.Credentials{}, ErrAuthenticationFailed{Registry: host, Err: err}
	}
	if len(out.AuthorizationData) == 0 {
		return publisher.Credentials{}, ErrAuthenticationFailed{Registry: host, Err: errors.New("no authorization data returned")}
	}

	data := out.AuthorizationData[0]
	username, password, err := decodeAuthorizationToken(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return publisher.Credentials{}, ErrAuthenticationFailed{Registry: host, Err: err}
	}

	expiresAt := aws.ToTime(data.ExpiresAt)
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(tokenLifetime)
	}

	log.Debug().
		Str("registry", host).
		Time("expiresAt", expiresAt).
		Msg("Obtained registry authorization token")

	return publisher.Credentials{
		Username:      username,
		Password:      password,
		ServerAddress: host,
		ExpiresAt:     expiresAt,
	}, nil
}

// EnsureRepository creates the repository named after the application
func (c *ECRClient) EnsureRepository(ctx context.Context, accountID, appName, region string) error {
	_, err := c.client.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RegistryId:     aws.String(accountID),
		RepositoryName: aws.String(appName),
	}, withRegion(region))
	if err == nil {
		return nil
	}

	if isRepositoryExists(err) {
		return fmt.Errorf("repository %s: %w", appName, publisher.ErrRepositoryExists)
	}
	return ErrCreateRepositoryFailed{Repository: appName, Err: err}
}

// withRegion overrides the client region for a single call
func withRegion(region string) func(*ecr.Options) {
	return func(o *ecr.Options) {
		if region != "" {
			o.Region = region
		}
	}
}

// decodeAuthorizationToken splits a base64 "user:password" token
func decodeAuthorizationToken(token string) (string, string, error) {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", "", fmt.Errorf("failed to decode authorization token: %w", err)
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok || password == "" {
		return "", "", errors.New("malformed authorization token")
	}
	if username == "" {
		username = ecrUsername
	}
	return username, password, nil
}

func isRepositoryExists(err error) bool {
	var exists *ecrtypes.RepositoryAlreadyExistsException
	if errors.As(err, &exists) {
		return true
	}

	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "RepositoryAlreadyExistsException"
}

package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/image-publisher/internal/publisher"
	"github.com/alvesdmateus/image-publisher/internal/runner"
)

// ECRCLIClient implements Client by running the aws CLI
type ECRCLIClient struct {
	runner       runner.CommandRunner
	profile      string
	domainSuffix string
}

// NewECRCLIClient creates a client that shells out to `aws ecr`
func NewECRCLIClient(r runner.CommandRunner, profile, domainSuffix string) *ECRCLIClient {
	return &ECRCLIClient{runner: r, profile: profile, domainSuffix: domainSuffix}
}

// Name returns the client name
func (c *ECRCLIClient) Name() string {
	return string(RegistryTypeCLI)
}

// AuthorizationToken runs `aws ecr get-login-password`
func (c *ECRCLIClient) AuthorizationToken(ctx context.Context, region, accountID string) (publisher.Credentials, error) {
	host := publisher.RegistryHost(accountID, region, c.domainSuffix)

	output, err := c.runner.RunOutput(ctx, "", "aws", c.args("ecr", "get-login-password", "--region", region)...)
	if err != nil {
		return publisher.Credentials{}, ErrAuthenticationFailed{Registry: host, Err: err}
	}

	password := strings.TrimSpace(string(output))
	if password == "" {
		return publisher.Credentials{}, ErrAuthenticationFailed{Registry: host, Err: errors.New("empty password returned")}
	}

	return publisher.Credentials{
		Username:      ecrUsername,
		Password:      password,
		ServerAddress: host,
		ExpiresAt:     time.Now().Add(tokenLifetime),
	}, nil
}

// EnsureRepository runs `aws ecr create-repository`
func (c *ECRCLIClient) EnsureRepository(ctx context.Context, accountID, appName, region string) error {
	_, err := c.runner.RunOutput(ctx, "", "aws", c.args(
		"ecr", "create-repository",
		"--registry-id", accountID,
		"--repository-name", appName,
		"--region", region,
	)...)
	if err == nil {
		log.Debug().Str("repository", appName).Msg("Repository created")
		return nil
	}

	if strings.Contains(runner.OutputOf(err), "RepositoryAlreadyExistsException") {
		return errors.Join(publisher.ErrRepositoryExists, err)
	}
	return ErrCreateRepositoryFailed{Repository: appName, Err: err}
}

func (c *ECRCLIClient) args(args ...string) []string {
	if c.profile != "" {
		args = append(args, "--profile", c.profile)
	}
	return args
}

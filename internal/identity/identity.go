package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/image-publisher/internal/runner"
)

// STSAPI is the subset of the STS client used to look up the caller
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// STSProvider resolves the account through the STS API
type STSProvider struct {
	client STSAPI
}

// NewSTSProvider creates a provider from a loaded AWS config
func NewSTSProvider(cfg aws.Config) *STSProvider {
	return &STSProvider{client: sts.NewFromConfig(cfg)}
}

// NewSTSProviderWithClient creates a provider around an existing client
func NewSTSProviderWithClient(client STSAPI) *STSProvider {
	return &STSProvider{client: client}
}

// AccountID returns the account of the calling credentials
func (p *STSProvider) AccountID(ctx context.Context) (string, error) {
	out, err := p.client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("sts get-caller-identity: %w", err)
	}

	log.Debug().
		Str("arn", aws.ToString(out.Arn)).
		Str("userID", aws.ToString(out.UserId)).
		Msg("Caller identity")

	return aws.ToString(out.Account), nil
}

// CLIProvider resolves the account by running the aws CLI
type CLIProvider struct {
	runner  runner.CommandRunner
	profile string
}

// NewCLIProvider creates a provider that shells out to `aws sts get-caller-identity`
func NewCLIProvider(r runner.CommandRunner, profile string) *CLIProvider {
	return &CLIProvider{runner: r, profile: profile}
}

// callerIdentity mirrors the JSON printed by `aws sts get-caller-identity`
type callerIdentity struct {
	UserID  string `json:"UserId"`
	Account string `json:"Account"`
	Arn     string `json:"Arn"`
}

// AccountID returns the Account field of the CLI output
func (p *CLIProvider) AccountID(ctx context.Context) (string, error) {
	args := []string{"sts", "get-caller-identity", "--output", "json"}
	if p.profile != "" {
		args = append(args, "--profile", p.profile)
	}

	output, err := p.runner.RunOutput(ctx, "", "aws", args...)
	if err != nil {
		return "", err
	}

	var identity callerIdentity
	if err := json.Unmarshal(output, &identity); err != nil {
		return "", fmt.Errorf("failed to parse caller identity: %w, output: %s", err, strings.TrimSpace(string(output)))
	}

	return identity.Account, nil
}

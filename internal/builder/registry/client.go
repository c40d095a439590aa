package registry

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/alvesdmateus/image-publisher/internal/runner"
)

// RegistryType defines how the registry is reached
type RegistryType string

const (
	RegistryTypeSDK RegistryType = "sdk"
	RegistryTypeCLI RegistryType = "cli"
)

// ClientFactory creates registry clients based on configuration
type ClientFactory struct {
	awsConfig aws.Config
	runner    runner.CommandRunner
}

// NewClientFactory creates a new registry client factory
func NewClientFactory(awsConfig aws.Config, r runner.CommandRunner) *ClientFactory {
	return &ClientFactory{awsConfig: awsConfig, runner: r}
}

// CreateClient creates a registry client based on configuration
func (f *ClientFactory) CreateClient(config Config) (Client, error) {
	registryType := RegistryType(config.Type)

	switch registryType {
	case RegistryTypeSDK:
		return NewECRClient(f.awsConfig, config.DomainSuffix), nil
	case RegistryTypeCLI, "":
		r := f.runner
		if r == nil {
			r = runner.NewExecRunner()
		}
		return NewECRCLIClient(r, config.Profile, config.DomainSuffix), nil
	default:
		return nil, ErrUnknownRegistry{Type: registryType}
	}
}

// ErrUnknownRegistry is returned when an unknown registry type is requested
type ErrUnknownRegistry struct {
	Type RegistryType
}

func (e ErrUnknownRegistry) Error() string {
	return "unknown registry type: " + string(e.Type)
}

// ErrAuthenticationFailed is returned when a registry token cannot be obtained
type ErrAuthenticationFailed struct {
	Registry string
	Err      error
}

func (e ErrAuthenticationFailed) Error() string {
	return fmt.Sprintf("authentication failed for registry %s: %v", e.Registry, e.Err)
}

func (e ErrAuthenticationFailed) Unwrap() error {
	return e.Err
}

// ErrCreateRepositoryFailed is returned when a repository cannot be created
type ErrCreateRepositoryFailed struct {
	Repository string
	Err        error
}

func (e ErrCreateRepositoryFailed) Error() string {
	return fmt.Sprintf("failed to create repository %s: %v", e.Repository, e.Err)
}

func (e ErrCreateRepositoryFailed) Unwrap() error {
	return e.Err
}

package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvesdmateus/image-publisher/internal/publisher"
	"github.com/alvesdmateus/image-publisher/internal/runner"
)

type fakeECR struct {
	tokenOut  *ecr.GetAuthorizationTokenOutput
	tokenErr  error
	createErr error

	region      string
	createInput *ecr.CreateRepositoryInput
}

func (f *fakeECR) GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
	f.region = applyOptions(optFns)
	return f.tokenOut, f.tokenErr
}

func (f *fakeECR) CreateRepository(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error) {
	f.region = applyOptions(optFns)
	f.createInput = params
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &ecr.CreateRepositoryOutput{}, nil
}

func applyOptions(optFns []func(*ecr.Options)) string {
	var o ecr.Options
	for _, fn := range optFns {
		fn(&o)
	}
	return o.Region
}

func token(s string) *string {
	return aws.String(base64.StdEncoding.EncodeToString([]byte(s)))
}

func TestECRClient_AuthorizationToken(t *testing.T) {
	expires := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeECR{tokenOut: &ecr.GetAuthorizationTokenOutput{
		AuthorizationData: []ecrtypes.AuthorizationData{{
			AuthorizationToken: token("AWS:s3cret"),
			ExpiresAt:          aws.Time(expires),
		}},
	}}
	c := NewECRClientWithAPI(api, publisher.DefaultDomainSuffix)

	creds, err := c.AuthorizationToken(context.Background(), "us-west-2", "123456789012")
	require.NoError(t, err)
	assert.Equal(t, "AWS", creds.Username)
	assert.Equal(t, "s3cret", creds.Password)
	assert.Equal(t, "123456789012.dkr.ecr.us-west-2.amazonaws.com", creds.ServerAddress)
	assert.Equal(t, expires, creds.ExpiresAt)
	assert.Equal(t, "us-west-2", api.region)
}

func TestECRClient_AuthorizationTokenErrors(t *testing.T) {
	tests := []struct {
		name string
		api  *fakeECR
	}{
		{name: "api error", api: &fakeECR{tokenErr: errors.New("AccessDenied")}},
		{name: "no data", api: &fakeECR{tokenOut: &ecr.GetAuthorizationTokenOutput{}}},
		{name: "not base64", api: &fakeECR{tokenOut: &ecr.GetAuthorizationTokenOutput{
			AuthorizationData: []ecrtypes.AuthorizationData{{AuthorizationToken: aws.String("%%%")}},
		}}},
		{name: "no separator", api: &fakeECR{tokenOut: &ecr.GetAuthorizationTokenOutput{
			AuthorizationData: []ecrtypes.AuthorizationData{{AuthorizationToken: token("AWS")}},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewECRClientWithAPI(tt.api, publisher.DefaultDomainSuffix)

			_, err := c.AuthorizationToken(context.Background(), "us-west-2", "1")
			var authErr ErrAuthenticationFailed
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, "1.dkr.ecr.us-west-2.amazonaws.com", authErr.Registry)
		})
	}
}

func TestECRClient_EnsureRepository(t *testing.T) {
	api := &fakeECR{}
	c := NewECRClientWithAPI(api, publisher.DefaultDomainSuffix)

	require.NoError(t, c.EnsureRepository(context.Background(), "123456789012", "demo-app", "eu-west-1"))
	assert.Equal(t, "123456789012", aws.ToString(api.createInput.RegistryId))
	assert.Equal(t, "demo-app", aws.ToString(api.createInput.RepositoryName))
	assert.Equal(t, "eu-west-1", api.region)
}

func TestECRClient_EnsureRepositoryExists(t *testing.T) {
	for name, createErr := range map[string]error{
		"typed":   &ecrtypes.RepositoryAlreadyExistsException{Message: aws.String("exists")},
		"generic": &smithy.GenericAPIError{Code: "RepositoryAlreadyExistsException"},
	} {
		t.Run(name, func(t *testing.T) {
			c := NewECRClientWithAPI(&fakeECR{createErr: createErr}, publisher.DefaultDomainSuffix)

			err := c.EnsureRepository(context.Background(), "1", "app", "us-west-2")
			assert.ErrorIs(t, err, publisher.ErrRepositoryExists)
		})
	}
}

func TestECRClient_EnsureRepositoryFailure(t *testing.T) {
	c := NewECRClientWithAPI(&fakeECR{createErr: errors.New("AccessDenied")}, publisher.DefaultDomainSuffix)

	err := c.EnsureRepository(context.Background(), "1", "app", "us-west-2")
	require.Error(t, err)
	assert.NotErrorIs(t, err, publisher.ErrRepositoryExists)

	var createErr ErrCreateRepositoryFailed
	require.ErrorAs(t, err, &createErr)
	assert.Equal(t, "app", createErr.Repository)
}

type fakeRunner struct {
	name   string
	args   []string
	output []byte
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	f.name, f.args = name, args
	return f.err
}

func (f *fakeRunner) RunOutput(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	f.name, f.args = name, args
	return f.output, f.err
}

func (f *fakeRunner) RunInput(ctx context.Context, stdin io.Reader, dir, name string, args ...string) ([]byte, error) {
	f.name, f.args = name, args
	return f.output, f.err
}

func TestECRCLIClient_AuthorizationToken(t *testing.T) {
	r := &fakeRunner{output: []byte("eyJwYXlsb2FkIjoi\n")}
	c := NewECRCLIClient(r, "", publisher.DefaultDomainSuffix)

	creds, err := c.AuthorizationToken(context.Background(), "us-west-2", "123456789012")
	require.NoError(t, err)
	assert.Equal(t, "AWS", creds.Username)
	assert.Equal(t, "eyJwYXlsb2FkIjoi", creds.Password)
	assert.Equal(t, "123456789012.dkr.ecr.us-west-2.amazonaws.com", creds.ServerAddress)
	assert.Equal(t, "aws", r.name)
	assert.Equal(t, []string{"ecr", "get-login-password", "--region", "us-west-2"}, r.args)
}

func TestECRCLIClient_AuthorizationTokenEmpty(t *testing.T) {
	c := NewECRCLIClient(&fakeRunner{output: []byte("  \n")}, "", publisher.DefaultDomainSuffix)

	_, err := c.AuthorizationToken(context.Background(), "us-west-2", "1")
	var authErr ErrAuthenticationFailed
	assert.ErrorAs(t, err, &authErr)
}

func TestECRCLIClient_EnsureRepository(t *testing.T) {
	r := &fakeRunner{}
	c := NewECRCLIClient(r, "deploy", publisher.DefaultDomainSuffix)

	require.NoError(t, c.EnsureRepository(context.Background(), "123456789012", "demo-app", "us-west-2"))
	assert.Equal(t, []string{
		"ecr", "create-repository",
		"--registry-id", "123456789012",
		"--repository-name", "demo-app",
		"--region", "us-west-2",
		"--profile", "deploy",
	}, r.args)
}

func TestECRCLIClient_EnsureRepositoryExists(t *testing.T) {
	r := &fakeRunner{err: &runner.Error{
		Command:  "aws ecr create-repository",
		ExitCode: 254,
		Output:   "An error occurred (RepositoryAlreadyExistsException) when calling the CreateRepository operation",
		Err:      errors.New("exit status 254"),
	}}
	c := NewECRCLIClient(r, "", publisher.DefaultDomainSuffix)

	err := c.EnsureRepository(context.Background(), "1", "app", "us-west-2")
	assert.ErrorIs(t, err, publisher.ErrRepositoryExists)
}

func TestECRCLIClient_EnsureRepositoryFailure(t *testing.T) {
	r := &fakeRunner{err: &runner.Error{
		Command: "aws ecr create-repository",
		Output:  "An error occurred (AccessDeniedException)",
		Err:     errors.New("exit status 254"),
	}}
	c := NewECRCLIClient(r, "", publisher.DefaultDomainSuffix)

	err := c.EnsureRepository(context.Background(), "1", "app", "us-west-2")
	require.Error(t, err)
	assert.NotErrorIs(t, err, publisher.ErrRepositoryExists)
	assert.Contains(t, err.Error(), "AccessDeniedException")
}

func TestClientFactory(t *testing.T) {
	f := NewClientFactory(aws.Config{Region: "us-west-2"}, &fakeRunner{})

	c, err := f.CreateClient(Config{})
	require.NoError(t, err)
	assert.Equal(t, "cli", c.Name())

	c, err = f.CreateClient(Config{Type: "sdk", DomainSuffix: publisher.DefaultDomainSuffix})
	require.NoError(t, err)
	assert.Equal(t, "sdk", c.Name())

	_, err = f.CreateClient(Config{Type: "gcr"})
	var unknown ErrUnknownRegistry
	assert.ErrorAs(t, err, &unknown)
}

package identity

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSTS struct {
	out *sts.GetCallerIdentityOutput
	err error
}

func (f *fakeSTS) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return f.out, f.err
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

func TestSTSProvider_AccountID(t *testing.T) {
	p := NewSTSProviderWithClient(&fakeSTS{out: &sts.GetCallerIdentityOutput{
		Account: aws.String("123456789012"),
		Arn:     aws.String("arn:aws:iam::123456789012:user/ci"),
	}})

	account, err := p.AccountID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "123456789012", account)
}

func TestSTSProvider_Error(t *testing.T) {
	p := NewSTSProviderWithClient(&fakeSTS{err: errors.New("ExpiredToken")})

	_, err := p.AccountID(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ExpiredToken")
}

func TestSTSProvider_MissingAccount(t *testing.T) {
	p := NewSTSProviderWithClient(&fakeSTS{out: &sts.GetCallerIdentityOutput{}})

	account, err := p.AccountID(context.Background())
	require.NoError(t, err)
	assert.Empty(t, account)
}

func TestCLIProvider_AccountID(t *testing.T) {
	r := &fakeRunner{output: []byte(`{
    "UserId": "AIDAEXAMPLE",
    "Account": "123456789012",
    "Arn": "arn:aws:iam::123456789012:user/ci"
}`)}
	p := NewCLIProvider(r, "")

	account, err := p.AccountID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "123456789012", account)
	assert.Equal(t, "aws", r.name)
	assert.Equal(t, []string{"sts", "get-caller-identity", "--output", "json"}, r.args)
}

func TestCLIProvider_Profile(t *testing.T) {
	r := &fakeRunner{output: []byte(`{"Account":"1"}`)}
	p := NewCLIProvider(r, "deploy")

	_, err := p.AccountID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"sts", "get-caller-identity", "--output", "json", "--profile", "deploy"}, r.args)
}

func TestCLIProvider_BadOutput(t *testing.T) {
	p := NewCLIProvider(&fakeRunner{output: []byte("Unable to locate credentials")}, "")

	_, err := p.AccountID(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unable to locate credentials")
}

func TestCLIProvider_CommandFailure(t *testing.T) {
	p := NewCLIProvider(&fakeRunner{err: errors.New("exit status 255")}, "")

	_, err := p.AccountID(context.Background())
	assert.EqualError(t, err, "exit status 255")
}

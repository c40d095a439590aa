package publisher

import (
	"errors"
	"fmt"
)

// ErrRepositoryExists is returned by a RegistryClient when the repository is already present
var ErrRepositoryExists = errors.New("repository already exists")

// StepError is implemented by every error that aborts a run
type StepError interface {
	error
	Step() Step
}

// IdentityLookupError is returned when the account identity cannot be resolved
type IdentityLookupError struct {
	Err error
}

func (e IdentityLookupError) Error() string {
	return fmt.Sprintf("identity lookup failed: %v", e.Err)
}

func (e IdentityLookupError) Unwrap() error { return e.Err }

func (e IdentityLookupError) Step() Step { return StepResolveIdentity }

// BuildError is returned when the image build fails
type BuildError struct {
	Reference string
	Err       error
}

func (e BuildError) Error() string {
	return fmt.Sprintf("failed to build image %s: %v", e.Reference, e.Err)
}

func (e BuildError) Unwrap() error { return e.Err }

func (e BuildError) Step() Step { return StepBuildImage }

// AuthError is returned when registry authentication fails
type AuthError struct {
	Registry string
	Err      error
}

func (e AuthError) Error() string {
	return fmt.Sprintf("authentication failed for registry %s: %v", e.Registry, e.Err)
}

func (e AuthError) Unwrap() error { return e.Err }

func (e AuthError) Step() Step { return StepAuthenticate }

// ImageNotFoundError is returned when the built image cannot be found locally
type ImageNotFoundError struct {
	Reference string
	Err       error
}

func (e ImageNotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("image %s not found: %v", e.Reference, e.Err)
	}
	return fmt.Sprintf("image %s not found", e.Reference)
}

func (e ImageNotFoundError) Unwrap() error { return e.Err }

func (e ImageNotFoundError) Step() Step { return StepResolveImageID }

// TagError is returned when the image cannot be tagged
type TagError struct {
	ImageID string
	Target  string
	Err     error
}

func (e TagError) Error() string {
	return fmt.Sprintf("failed to tag image %s as %s: %v", e.ImageID, e.Target, e.Err)
}

func (e TagError) Unwrap() error { return e.Err }

func (e TagError) Step() Step { return StepTagImage }

// ProvisionError is returned when the repository cannot be created
type ProvisionError struct {
	Repository string
	Err        error
}

func (e ProvisionError) Error() string {
	return fmt.Sprintf("failed to provision repository %s: %v", e.Repository, e.Err)
}

func (e ProvisionError) Unwrap() error { return e.Err }

func (e ProvisionError) Step() Step { return StepEnsureRepo }

// PushError is returned when the image push fails
type PushError struct {
	ImageTag string
	Err      error
}

func (e PushError) Error() string {
	return fmt.Sprintf("failed to push image %s: %v", e.ImageTag, e.Err)
}

func (e PushError) Unwrap() error { return e.Err }

func (e PushError) Step() Step { return StepPushImage }

// Exit codes, one per failing step
const (
	ExitOK = iota
	ExitFailure
	ExitIdentity
	ExitBuild
	ExitAuth
	ExitImageNotFound
	ExitTag
	ExitProvision
	ExitPush
)

// ExitCode maps an error to the process exit code
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var stepErr StepError
	if !errors.As(err, &stepErr) {
		return ExitFailure
	}

	switch stepErr.Step() {
	case StepResolveIdentity:
		return ExitIdentity
	case StepBuildImage:
		return ExitBuild
	case StepAuthenticate:
		return ExitAuth
	case StepResolveImageID:
		return ExitImageNotFound
	case StepTagImage:
		return ExitTag
	case StepEnsureRepo:
		return ExitProvision
	case StepPushImage:
		return ExitPush
	default:
		return ExitFailure
	}
}

// FailedStep returns the step an error aborted, if any
func FailedStep(err error) (Step, bool) {
	var stepErr StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step(), true
	}
	return "", false
}

package publisher

import (
	"context"
	"time"
)

// Step identifies one stage of the publish workflow
type Step string

const (
	StepResolveIdentity Step = "resolve-identity"
	StepPruneImages     Step = "prune-images"
	StepBuildImage      Step = "build-image"
	StepAuthenticate    Step = "authenticate-registry"
	StepResolveImageID  Step = "resolve-image-id"
	StepTagImage        Step = "tag-image"
	StepEnsureRepo      Step = "ensure-repository"
	StepPushImage       Step = "push-image"
)

// Steps lists the workflow stages in execution order
var Steps = []Step{
	StepResolveIdentity,
	StepPruneImages,
	StepBuildImage,
	StepAuthenticate,
	StepResolveImageID,
	StepTagImage,
	StepEnsureRepo,
	StepPushImage,
}

// Credentials authenticate the container tool against a registry
type Credentials struct {
	Username      string
	Password      string
	ServerAddress string
	ExpiresAt     time.Time
}

// BuildRequest describes a local image build
type BuildRequest struct {
	AppName    string
	Tag        string
	ContextDir string
	Dockerfile string
	Labels     map[string]string
}

// Reference returns the local image reference, e.g. demo-app:latest
func (r BuildRequest) Reference() string {
	return LocalReference(r.AppName, r.Tag)
}

// IdentityProvider looks up the cloud account the caller is authenticated as
type IdentityProvider interface {
	AccountID(ctx context.Context) (string, error)
}

// ImageBuilder drives the local container tool
type ImageBuilder interface {
	// Prune removes unused local containers, networks and images
	Prune(ctx context.Context) error

	// Build builds an image and returns its ID when the tool reports one
	Build(ctx context.Context, req BuildRequest) (string, error)

	// Login authenticates the container tool against a registry
	Login(ctx context.Context, creds Credentials) error

	// ImageID resolves a local reference to an image ID, empty if absent
	ImageID(ctx context.Context, reference string) (string, error)

	// Tag associates target with the local image
	Tag(ctx context.Context, imageID, target string) error

	// Push uploads target to its registry
	Push(ctx context.Context, target string) error
}

// RegistryClient talks to the remote registry service
type RegistryClient interface {
	// AuthorizationToken fetches a short-lived registry credential
	AuthorizationToken(ctx context.Context, region, accountID string) (Credentials, error)

	// EnsureRepository creates the repository, returning ErrRepositoryExists
	// (possibly wrapped) when it is already there
	EnsureRepository(ctx context.Context, accountID, appName, region string) error
}

// Tracker records publish runs. Implementations must tolerate being called
// after a failed StartRun with an empty run ID.
type Tracker interface {
	StartRun(ctx context.Context, run RunInfo) (string, error)
	RecordStep(ctx context.Context, runID string, step Step, detail string) error
	CompleteRun(ctx context.Context, runID string, result *Result) error
	FailRun(ctx context.Context, runID string, step Step, err error) error
}

// RunInfo describes a run as it starts
type RunInfo struct {
	AppName   string
	Region    string
	Tag       string
	StartedAt time.Time
}

// Result is the outcome of a successful run
type Result struct {
	RunID             string
	AccountID         string
	Region            string
	AppName           string
	ImageID           string
	ImageURI          string
	RepositoryCreated bool
	PruneFailed       bool
	Duration          time.Duration
}

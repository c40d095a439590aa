package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds the values a run is parameterized by. The account ID is
// not part of it: it is resolved at runtime.
type Config struct {
	Region       string
	AppName      string
	Tag          string
	ContextDir   string
	Dockerfile   string
	DomainSuffix string
	Prune        bool
	Labels       map[string]string
}

// Dependencies are the capabilities a Publisher drives
type Dependencies struct {
	Identity IdentityProvider
	Builder  ImageBuilder
	Registry RegistryClient
	Tracker  Tracker
}

// Publisher builds an image and publishes it to the registry
type Publisher struct {
	config   Config
	identity IdentityProvider
	builder  ImageBuilder
	registry RegistryClient
	tracker  Tracker
}

// New creates a Publisher. Tracker may be nil.
func New(config Config, deps Dependencies) (*Publisher, error) {
	if deps.Identity == nil {
		return nil, errors.New("identity provider is required")
	}
	if deps.Builder == nil {
		return nil, errors.New("image builder is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("registry client is required")
	}
	if strings.TrimSpace(config.Region) == "" {
		return nil, errors.New("region is required")
	}
	if strings.TrimSpace(config.AppName) == "" {
		return nil, errors.New("app name is required")
	}

	// ECR repository names are lowercase; build, tag and push already use
	// the lowercase form
	config.AppName = strings.ToLower(strings.TrimSpace(config.AppName))
	if config.Tag == "" {
		config.Tag = DefaultTag
	}
	if config.ContextDir == "" {
		config.ContextDir = "."
	}
	if config.DomainSuffix == "" {
		config.DomainSuffix = DefaultDomainSuffix
	}

	tracker := deps.Tracker
	if tracker == nil {
		tracker = nopTracker{}
	}

	return &Publisher{
		config:   config,
		identity: deps.Identity,
		builder:  deps.Builder,
		registry: deps.Registry,
		tracker:  tracker,
	}, nil
}

// Run executes the publish workflow:
// 1. Resolve account identity
// 2. Prune local images (best-effort)
// 3. Build image
// 4. Authenticate against the registry
// 5. Resolve the image ID
// 6. Tag the image with its remote name
// 7. Ensure the repository exists
// 8. Push the image
func (p *Publisher) Run(ctx context.Context) (result *Result, err error) {
	startTime := time.Now()
	result = &Result{
		Region:  p.config.Region,
		AppName: p.config.AppName,
	}

	log.Info().
		Str("appName", p.config.AppName).
		Str("region", p.config.Region).
		Str("tag", p.config.Tag).
		Msg("Starting image publish")

	runID, trackErr := p.tracker.StartRun(ctx, RunInfo{
		AppName:   p.config.AppName,
		Region:    p.config.Region,
		Tag:       p.config.Tag,
		StartedAt: startTime,
	})
	if trackErr != nil {
		log.Warn().Err(trackErr).Msg("Failed to record run start")
	}
	result.RunID = runID

	defer func() {
		if err == nil {
			return
		}
		step, _ := FailedStep(err)
		if trackErr := p.tracker.FailRun(context.WithoutCancel(ctx), runID, step, err); trackErr != nil {
			log.Warn().Err(trackErr).Str("runID", runID).Msg("Failed to record run failure")
		}
	}()

	// Step 1: Resolve account identity
	accountID, err := p.resolveAccountIdentity(ctx)
	if err != nil {
		return nil, err
	}
	result.AccountID = accountID
	p.record(ctx, runID, StepResolveIdentity, accountID)

	// Step 2: Prune unused local artifacts
	if p.config.Prune {
		if err := p.pruneLocalImages(ctx); err != nil {
			result.PruneFailed = true
			p.record(ctx, runID, StepPruneImages, "failed: "+err.Error())
		} else {
			p.record(ctx, runID, StepPruneImages, "")
		}
	} else {
		p.record(ctx, runID, StepPruneImages, "skipped")
	}

	// Step 3: Build image
	builtID, err := p.buildImage(ctx, p.config.AppName)
	if err != nil {
		return nil, err
	}
	p.record(ctx, runID, StepBuildImage, builtID)

	// Step 4: Authenticate against the registry
	if err := p.authenticateRegistry(ctx, p.config.Region, accountID); err != nil {
		return nil, err
	}
	p.record(ctx, runID, StepAuthenticate, RegistryHost(accountID, p.config.Region, p.config.DomainSuffix))

	// Step 5: Resolve image ID
	imageID, err := p.resolveImageID(ctx, p.config.AppName, builtID)
	if err != nil {
		return nil, err
	}
	result.ImageID = imageID
	p.record(ctx, runID, StepResolveImageID, imageID)

	// Step 6: Tag image with its remote name
	imageURI := FullyQualifiedTag(accountID, p.config.Region, p.config.DomainSuffix, p.config.AppName, p.config.Tag)
	if err := p.tagImage(ctx, imageID, imageURI); err != nil {
		return nil, err
	}
	result.ImageURI = imageURI
	p.record(ctx, runID, StepTagImage, imageURI)

	// Step 7: Ensure repository exists
	created, err := p.ensureRepository(ctx, accountID, p.config.AppName, p.config.Region)
	if err != nil {
		return nil, err
	}
	result.RepositoryCreated = created
	p.record(ctx, runID, StepEnsureRepo, fmt.Sprintf("created=%t", created))

	// Step 8: Push image
	if err := p.pushImage(ctx, imageURI); err != nil {
		return nil, err
	}
	p.record(ctx, runID, StepPushImage, imageURI)

	result.Duration = time.Since(startTime)

	if trackErr := p.tracker.CompleteRun(ctx, runID, result); trackErr != nil {
		log.Warn().Err(trackErr).Str("runID", runID).Msg("Failed to record run completion")
		// Don't fail the publish, the image is already pushed
	}

	log.Info().
		Str("imageURI", imageURI).
		Str("imageID", imageID).
		Dur("duration", result.Duration).
		Msg("Image published successfully")

	return result, nil
}

// resolveAccountIdentity returns the caller's account ID
func (p *Publisher) resolveAccountIdentity(ctx context.Context) (string, error) {
	log.Info().Msg("Resolving account identity")

	accountID, err := p.identity.AccountID(ctx)
	if err != nil {
		return "", IdentityLookupError{Err: err}
	}

	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", IdentityLookupError{Err: errors.New("identity service returned an empty account ID")}
	}

	log.Info().Str("accountID", accountID).Msg("Account identity resolved")
	return accountID, nil
}

// pruneLocalImages removes unused local artifacts. Failure is not fatal.
func (p *Publisher) pruneLocalImages(ctx context.Context) error {
	log.Info().Msg("Pruning unused local images")

	if err := p.builder.Prune(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to prune local images, continuing")
		return err
	}
	return nil
}

// buildImage builds {appName}:{tag} from the build context
func (p *Publisher) buildImage(ctx context.Context, appName string) (string, error) {
	req := BuildRequest{
		AppName:    appName,
		Tag:        p.config.Tag,
		ContextDir: p.config.ContextDir,
		Dockerfile: p.config.Dockerfile,
		Labels:     p.config.Labels,
	}

	log.Info().
		Str("reference", req.Reference()).
		Str("context", req.ContextDir).
		Msg("Building image")

	imageID, err := p.builder.Build(ctx, req)
	if err != nil {
		return "", BuildError{Reference: req.Reference(), Err: err}
	}

	log.Info().Str("reference", req.Reference()).Str("imageID", imageID).Msg("Image built")
	return imageID, nil
}

// authenticateRegistry fetches a credential and logs the container tool in
func (p *Publisher) authenticateRegistry(ctx context.Context, region, accountID string) error {
	host := RegistryHost(accountID, region, p.config.DomainSuffix)
	log.Info().Str("registry", host).Msg("Authenticating with registry")

	creds, err := p.registry.AuthorizationToken(ctx, region, accountID)
	if err != nil {
		return AuthError{Registry: host, Err: fmt.Errorf("failed to get authorization token: %w", err)}
	}
	if creds.ServerAddress == "" {
		creds.ServerAddress = host
	}

	if err := p.builder.Login(ctx, creds); err != nil {
		return AuthError{Registry: host, Err: fmt.Errorf("login failed: %w", err)}
	}

	log.Info().Str("registry", host).Msg("Successfully authenticated with registry")
	return nil
}

// resolveImageID looks up the local image for {appName}:{tag}. When the build
// reported an ID that disagrees with the lookup, the build's ID wins.
func (p *Publisher) resolveImageID(ctx context.Context, appName, builtID string) (string, error) {
	reference := LocalReference(appName, p.config.Tag)

	imageID, err := p.builder.ImageID(ctx, reference)
	if err != nil {
		return "", ImageNotFoundError{Reference: reference, Err: err}
	}

	imageID = strings.TrimSpace(imageID)
	if imageID == "" {
		return "", ImageNotFoundError{Reference: reference}
	}

	if builtID != "" && builtID != imageID {
		log.Warn().
			Str("reference", reference).
			Str("builtID", builtID).
			Str("lookupID", imageID).
			Msg("Tag resolves to a different image than the one built, using the built image")
		return builtID, nil
	}

	return imageID, nil
}

// tagImage associates the remote name with the local image
func (p *Publisher) tagImage(ctx context.Context, imageID, target string) error {
	log.Info().Str("imageID", imageID).Str("target", target).Msg("Tagging image")

	if err := p.builder.Tag(ctx, imageID, target); err != nil {
		return TagError{ImageID: imageID, Target: target, Err: err}
	}
	return nil
}

// ensureRepository creates the repository, treating "already exists" as success
func (p *Publisher) ensureRepository(ctx context.Context, accountID, appName, region string) (bool, error) {
	log.Info().Str("repository", appName).Msg("Ensuring repository exists")

	err := p.registry.EnsureRepository(ctx, accountID, appName, region)
	switch {
	case err == nil:
		log.Info().Str("repository", appName).Msg("Repository created")
		return true, nil
	case errors.Is(err, ErrRepositoryExists):
		log.Info().Str("repository", appName).Msg("Repository already exists")
		return false, nil
	default:
		return false, ProvisionError{Repository: appName, Err: err}
	}
}

// pushImage uploads the tagged image
func (p *Publisher) pushImage(ctx context.Context, target string) error {
	log.Info().Str("imageTag", target).Msg("Pushing image")

	if err := p.builder.Push(ctx, target); err != nil {
		return PushError{ImageTag: target, Err: err}
	}
	return nil
}

func (p *Publisher) record(ctx context.Context, runID string, step Step, detail string) {
	if err := p.tracker.RecordStep(ctx, runID, step, detail); err != nil {
		log.Warn().Err(err).Str("step", string(step)).Msg("Failed to record step")
	}
}

type nopTracker struct{}

func (nopTracker) StartRun(context.Context, RunInfo) (string, error) { return "", nil }
func (nopTracker) RecordStep(context.Context, string, Step, string) error { return nil }
func (nopTracker) CompleteRun(context.Context, string, *Result) error { return nil }
func (nopTracker) FailRun(context.Context, string, Step, error) error { return nil }

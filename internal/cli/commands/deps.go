package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/image-publisher/internal/builder/registry"
	"github.com/alvesdmateus/image-publisher/internal/builder/strategies"
	"github.com/alvesdmateus/image-publisher/internal/identity"
	"github.com/alvesdmateus/image-publisher/internal/publisher"
	"github.com/alvesdmateus/image-publisher/internal/runner"
	"github.com/alvesdmateus/image-publisher/internal/state"
	"github.com/alvesdmateus/image-publisher/pkg/config"
	"github.com/alvesdmateus/image-publisher/pkg/database"
)

// newDependencies wires the identity provider, image builder, registry client
// and run tracker for the configured backend. On success the returned cleanup
// releases whatever was opened.
func newDependencies(ctx context.Context, cfg *config.Config) (publisher.Dependencies, func(), error) {
	var closers []io.Closer
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				log.Warn().Err(err).Msg("Cleanup failed")
			}
		}
	}

	r := runner.NewExecRunner()
	backend := cfg.Publisher.Backend

	strategy, err := strategies.NewStrategyFactory().CreateStrategy(strategies.StrategyType(backend), strategies.Options{
		Runner: r,
		Sudo:   cfg.Publisher.Sudo,
	})
	if err != nil {
		return publisher.Dependencies{}, nil, fmt.Errorf("failed to create image builder: %w", err)
	}
	if closer, ok := strategy.(io.Closer); ok {
		closers = append(closers, closer)
	}

	var awsCfg aws.Config
	var identityProvider publisher.IdentityProvider

	if backend == string(strategies.StrategyTypeSDK) {
		awsCfg, err = loadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			cleanup()
			return publisher.Dependencies{}, nil, err
		}
		identityProvider = identity.NewSTSProvider(awsCfg)
	} else {
		identityProvider = identity.NewCLIProvider(r, cfg.AWS.Profile)
	}

	registryClient, err := registry.NewClientFactory(awsCfg, r).CreateClient(registry.Config{
		Type:         backend,
		Profile:      cfg.AWS.Profile,
		DomainSuffix: cfg.Registry.DomainSuffix,
	})
	if err != nil {
		cleanup()
		return publisher.Dependencies{}, nil, fmt.Errorf("failed to create registry client: %w", err)
	}

	deps := publisher.Dependencies{
		Identity: identityProvider,
		Builder:  strategy,
		Registry: registryClient,
	}

	if cfg.History.Enabled {
		tracker, closer, err := openTracker(cfg.History)
		if err != nil {
			log.Warn().Err(err).Msg("History ledger unavailable, run will not be recorded")
		} else {
			deps.Tracker = tracker
			closers = append(closers, closer)
		}
	}

	log.Debug().
		Str("builder", strategy.Name()).
		Str("registry", registryClient.Name()).
		Bool("history", deps.Tracker != nil).
		Msg("Dependencies wired")

	return deps, cleanup, nil
}

// loadAWSConfig loads the SDK configuration for the region and optional profile
func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return awsCfg, nil
}

// dbCloser adapts database.Close to io.Closer
type dbCloser func() error

func (f dbCloser) Close() error { return f() }

// openRepository opens the history database and migrates its schema
func openRepository(cfg config.HistoryConfig) (*state.Repository, io.Closer, error) {
	db, err := database.New(database.Config{
		Driver: cfg.Driver,
		DSN:    cfg.DSN,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := database.HealthCheck(db); err != nil {
		database.Close(db)
		return nil, nil, err
	}

	if err := database.Migrate(db, state.Models()...); err != nil {
		database.Close(db)
		return nil, nil, err
	}

	return state.NewRepository(db), dbCloser(func() error { return database.Close(db) }), nil
}

// openTracker opens the history ledger as a run tracker
func openTracker(cfg config.HistoryConfig) (publisher.Tracker, io.Closer, error) {
	repo, closer, err := openRepository(cfg)
	if err != nil {
		return nil, nil, err
	}
	return state.NewTracker(repo), closer, nil
}

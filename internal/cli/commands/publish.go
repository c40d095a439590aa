package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/alvesdmateus/image-publisher/internal/artifact"
	"github.com/alvesdmateus/image-publisher/internal/builder/strategies"
	"github.com/alvesdmateus/image-publisher/internal/publisher"
	"github.com/alvesdmateus/image-publisher/internal/runner"
	"github.com/alvesdmateus/image-publisher/pkg/config"
)

// publishOptions are command-line overrides for the publish run
type publishOptions struct {
	region      string
	profile     string
	app         string
	tag         string
	contextDir  string
	dockerfile  string
	backend     string
	imageDetail string
	noPrune     bool
	sudo        bool
	noHistory   bool
}

func (o *publishOptions) addFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&o.region, "region", "", "AWS region of the registry (aws.region)")
	flags.StringVar(&o.profile, "profile", "", "named AWS profile (aws.profile)")
	flags.StringVar(&o.app, "app", "", "application name, used as image and repository name (app.name)")
	flags.StringVar(&o.tag, "tag", "", "image tag (app.tag)")
	flags.StringVar(&o.contextDir, "context", "", "docker build context directory (app.context_dir)")
	flags.StringVarP(&o.dockerfile, "file", "f", "", "Dockerfile path relative to the context (app.dockerfile)")
	flags.StringVar(&o.backend, "backend", "", "tooling backend: cli or sdk (publisher.backend)")
	flags.StringVar(&o.imageDetail, "image-detail", "", "write imageDetail.json to this path after pushing (output.image_detail)")
	flags.BoolVar(&o.noPrune, "no-prune", false, "skip pruning local docker images")
	flags.BoolVar(&o.sudo, "sudo", false, "run docker through passwordless sudo (publisher.sudo)")
	flags.BoolVar(&o.noHistory, "no-history", false, "do not record the run in the history ledger")
}

// apply overrides configuration values with flags that were set explicitly
func (o *publishOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("region") {
		cfg.AWS.Region = o.region
	}
	if flags.Changed("profile") {
		cfg.AWS.Profile = o.profile
	}
	if flags.Changed("app") {
		cfg.App.Name = o.app
	}
	if flags.Changed("tag") {
		cfg.App.Tag = o.tag
	}
	if flags.Changed("context") {
		cfg.App.ContextDir = o.contextDir
	}
	if flags.Changed("file") {
		cfg.App.Dockerfile = o.dockerfile
	}
	if flags.Changed("backend") {
		cfg.Publisher.Backend = o.backend
	}
	if flags.Changed("image-detail") {
		cfg.Output.ImageDetail = o.imageDetail
	}
	if flags.Changed("no-prune") {
		cfg.Publisher.Prune = !o.noPrune
	}
	if flags.Changed("sudo") {
		cfg.Publisher.Sudo = o.sudo
	}
	if flags.Changed("no-history") {
		cfg.History.Enabled = !o.noHistory
	}
}

func newPublishCmd() *cobra.Command {
	opts := &publishOptions{}

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Build the application image and push it to ECR",
		Long: `Build the application image and push it to ECR.

Exit codes:
  0 success        4 registry authentication   7 repository creation
  1 other error    5 image not found           8 push
  2 identity       6 tag
  3 build`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, opts)
		},
	}

	opts.addFlags(cmd)
	return cmd
}

func runPublish(cmd *cobra.Command, opts *publishOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	opts.apply(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Publisher.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Publisher.Timeout)
		defer cancel()
	}

	log.Info().
		Str("backend", cfg.Publisher.Backend).
		Str("region", cfg.AWS.Region).
		Str("appName", cfg.App.Name).
		Msg("Configuration loaded")

	deps, cleanup, err := newDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	p, err := publisher.New(publisher.Config{
		Region:       cfg.AWS.Region,
		AppName:      cfg.App.Name,
		Tag:          cfg.App.Tag,
		ContextDir:   cfg.App.ContextDir,
		Dockerfile:   cfg.App.Dockerfile,
		DomainSuffix: cfg.Registry.DomainSuffix,
		Prune:        cfg.Publisher.Prune,
		Labels:       buildLabels(cfg),
	}, deps)
	if err != nil {
		return err
	}

	result, err := p.Run(ctx)
	if err != nil {
		reportFailure(err)
		return err
	}

	if cfg.Output.ImageDetail != "" {
		if err := artifact.WriteImageDetail(cfg.Output.ImageDetail, result.ImageURI); err != nil {
			return err
		}
		log.Info().Str("path", cfg.Output.ImageDetail).Msg("Image detail written")
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.ImageURI)
	return nil
}

// buildLabels returns the image labels, including the source revision when
// the build context is a git work tree
func buildLabels(cfg *config.Config) map[string]string {
	revision, err := strategies.SourceRevision(cfg.App.ContextDir)
	if err != nil {
		log.Warn().Err(err).Str("contextDir", cfg.App.ContextDir).Msg("Failed to read source revision")
	}

	tag := cfg.App.Tag
	if tag == "" {
		tag = publisher.DefaultTag
	}
	return strategies.DefaultLabels(cfg.App.Name, tag, revision)
}

// reportFailure logs the failing step and captured tool diagnostics
func reportFailure(err error) {
	step, _ := publisher.FailedStep(err)

	event := log.Error().
		Err(err).
		Str("step", string(step)).
		Int("exitCode", publisher.ExitCode(err))

	if output := runner.OutputOf(err); output != "" {
		event = event.Str("diagnostics", output)
	}

	event.Msg("Publish failed")
}

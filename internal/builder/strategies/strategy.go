package strategies

import (
	"github.com/alvesdmateus/image-publisher/internal/publisher"
	"github.com/alvesdmateus/image-publisher/internal/runner"
)

// Strategy builds, tags and pushes images with one container tool
type Strategy interface {
	publisher.ImageBuilder

	// Name returns the strategy name (e.g., "cli", "sdk")
	Name() string
}

// StrategyType defines the type of build strategy
type StrategyType string

const (
	StrategyTypeCLI StrategyType = "cli"
	StrategyTypeSDK StrategyType = "sdk"
)

// Options configures strategy construction
type Options struct {
	// Runner executes the docker CLI; used by the cli strategy
	Runner runner.CommandRunner

	// Sudo prefixes docker CLI invocations with sudo
	Sudo bool
}

// StrategyFactory creates build strategies based on type
type StrategyFactory struct{}

// NewStrategyFactory creates a new strategy factory
func NewStrategyFactory() *StrategyFactory {
	return &StrategyFactory{}
}

// CreateStrategy creates a build strategy based on the specified type
func (f *StrategyFactory) CreateStrategy(strategyType StrategyType, opts Options) (Strategy, error) {
	switch strategyType {
	case StrategyTypeCLI, "":
		r := opts.Runner
		if r == nil {
			r = runner.NewExecRunner()
		}
		return NewDockerCLIStrategy(r, opts.Sudo), nil
	case StrategyTypeSDK:
		return NewDockerStrategy()
	default:
		return nil, ErrUnknownStrategy{Type: strategyType}
	}
}

// ErrUnknownStrategy is returned when an unknown strategy type is requested
type ErrUnknownStrategy struct {
	Type StrategyType
}

func (e ErrUnknownStrategy) Error() string {
	return "unknown strategy type: " + string(e.Type)
}

package registry

import (
	"time"

	"github.com/alvesdmateus/image-publisher/internal/publisher"
)

// Config contains registry-specific configuration
type Config struct {
	Type         string // sdk or cli
	Profile      string // named AWS profile used by the cli client
	DomainSuffix string // e.g., amazonaws.com
}

// Client handles container registry operations
type Client interface {
	publisher.RegistryClient

	// Name returns the client name (e.g., "sdk", "cli")
	Name() string
}

// ecrUsername is the fixed user name ECR issues tokens for
const ecrUsername = "AWS"

// tokenLifetime is how long ECR authorization tokens stay valid
const tokenLifetime = 12 * time.Hour

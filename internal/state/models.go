package state

import (
	"time"

	"github.com/google/uuid"
)

// Publication statuses
const (
	StatusRunning   = "RUNNING"
	StatusPublished = "PUBLISHED"
	StatusFailed    = "FAILED"
)

// Publication records one publish run
type Publication struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	AppName           string    `gorm:"not null;index"`
	Region            string    `gorm:"not null"`
	Tag               string
	AccountID         string
	ImageID           string
	ImageURI          string
	Status            string `gorm:"not null;index"`
	FailedStep        string
	Error             string `gorm:"type:text"`
	RepositoryCreated bool
	StartedAt         time.Time `gorm:"index"`
	CompletedAt       *time.Time

	// Relationships
	Steps []PublicationStep `gorm:"foreignKey:PublicationID"`
}

// PublicationStep records a completed step of a run
type PublicationStep struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	PublicationID uuid.UUID `gorm:"type:uuid;not null;index"`
	Step          string    `gorm:"not null"`
	Detail        string
	CreatedAt     time.Time
}

// Duration returns how long the run took, zero while it is running
func (p *Publication) Duration() time.Duration {
	if p.CompletedAt == nil {
		return 0
	}
	return p.CompletedAt.Sub(p.StartedAt)
}

// Models lists the tables of the run ledger, in migration order
func Models() []interface{} {
	return []interface{}{
		&Publication{},
		&PublicationStep{},
	}
}

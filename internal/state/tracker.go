package state

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/image-publisher/internal/publisher"
)

// Tracker records publish runs in the repository
type Tracker struct {
	repo *Repository
}

// NewTracker creates a new publication tracker
func NewTracker(repo *Repository) *Tracker {
	return &Tracker{repo: repo}
}

// StartRun creates a publication record and returns its ID
func (t *Tracker) StartRun(ctx context.Context, run publisher.RunInfo) (string, error) {
	publication := &Publication{
		ID:        uuid.New(),
		AppName:   run.AppName,
		Region:    run.Region,
		Tag:       run.Tag,
		Status:    StatusRunning,
		StartedAt: run.StartedAt,
	}

	if err := t.repo.CreatePublication(ctx, publication); err != nil {
		return "", fmt.Errorf("failed to create publication record: %w", err)
	}

	log.Debug().
		Str("runID", publication.ID.String()).
		Str("appName", run.AppName).
		Msg("Publication record created")

	return publication.ID.String(), nil
}

// RecordStep appends a completed step to the run
func (t *Tracker) RecordStep(ctx context.Context, runID string, step publisher.Step, detail string) error {
	id, ok, err := parseRunID(runID)
	if !ok {
		return err
	}
	return t.repo.AppendStep(ctx, id, string(step), detail)
}

// CompleteRun marks the run as published
func (t *Tracker) CompleteRun(ctx context.Context, runID string, result *publisher.Result) error {
	id, ok, err := parseRunID(runID)
	if !ok {
		return err
	}

	log.Debug().
		Str("runID", runID).
		Str("imageURI", result.ImageURI).
		Dur("duration", result.Duration).
		Msg("Completing publication record")

	return t.repo.MarkPublished(ctx, id, result.AccountID, result.ImageID, result.ImageURI, result.RepositoryCreated)
}

// FailRun marks the run as failed at step
func (t *Tracker) FailRun(ctx context.Context, runID string, step publisher.Step, runErr error) error {
	id, ok, err := parseRunID(runID)
	if !ok {
		return err
	}

	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	return t.repo.MarkFailed(ctx, id, string(step), msg)
}

// parseRunID reports ok=false for runs that were never recorded
func parseRunID(runID string) (uuid.UUID, bool, error) {
	if runID == "" {
		return uuid.Nil, false, nil
	}

	id, err := uuid.Parse(runID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("invalid run ID: %w", err)
	}
	return id, true, nil
}

package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvesdmateus/image-publisher/internal/publisher"
)

func TestTracker_SuccessfulRun(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	tracker := NewTracker(repo)
	ctx := context.Background()

	runID, err := tracker.StartRun(ctx, publisher.RunInfo{
		AppName:   "demo-app",
		Region:    "us-west-2",
		Tag:       "latest",
		StartedAt: time.Now(),
	})
	require.NoError(t, err)

	for _, step := range publisher.Steps {
		require.NoError(t, tracker.RecordStep(ctx, runID, step, ""))
	}

	require.NoError(t, tracker.CompleteRun(ctx, runID, &publisher.Result{
		AccountID: "123456789012",
		ImageID:   "sha256:abc",
		ImageURI:  "123456789012.dkr.ecr.us-west-2.amazonaws.com/demo-app:latest",
		Duration:  time.Second,
	}))

	got, err := repo.GetPublication(ctx, uuid.MustParse(runID))
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, got.Status)
	assert.Equal(t, "sha256:abc", got.ImageID)
	assert.Len(t, got.Steps, len(publisher.Steps))
}

func TestTracker_FailedRun(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	tracker := NewTracker(repo)
	ctx := context.Background()

	runID, err := tracker.StartRun(ctx, publisher.RunInfo{AppName: "demo-app", Region: "us-west-2", StartedAt: time.Now()})
	require.NoError(t, err)

	buildErr := publisher.BuildError{Reference: "demo-app:latest", Err: errors.New("exit status 1")}
	require.NoError(t, tracker.FailRun(ctx, runID, publisher.StepBuildImage, buildErr))

	got, err := repo.GetPublication(ctx, uuid.MustParse(runID))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "build-image", got.FailedStep)
	assert.Contains(t, got.Error, "exit status 1")
}

func TestTracker_EmptyRunID(t *testing.T) {
	tracker := NewTracker(NewRepository(setupTestDB(t)))
	ctx := context.Background()

	assert.NoError(t, tracker.RecordStep(ctx, "", publisher.StepPushImage, ""))
	assert.NoError(t, tracker.CompleteRun(ctx, "", &publisher.Result{}))
	assert.NoError(t, tracker.FailRun(ctx, "", publisher.StepPushImage, errors.New("x")))
}

func TestTracker_InvalidRunID(t *testing.T) {
	tracker := NewTracker(NewRepository(setupTestDB(t)))

	err := tracker.RecordStep(context.Background(), "not-a-uuid", publisher.StepPushImage, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid run ID")
}

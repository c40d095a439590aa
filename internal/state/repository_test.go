package state

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB creates an in-memory sqlite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(Models()...), "failed to run migrations")

	t.Cleanup(func() {
		sqlDB.Close()
	})

	return db
}

func TestCreatePublication(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	publication := &Publication{
		AppName:   "demo-app",
		Region:    "us-west-2",
		Tag:       "latest",
		StartedAt: time.Now(),
	}

	require.NoError(t, repo.CreatePublication(ctx, publication))
	assert.NotEqual(t, uuid.Nil, publication.ID, "ID should be generated")
	assert.Equal(t, StatusRunning, publication.Status)
}

func TestGetPublication(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	publication := &Publication{AppName: "demo-app", Region: "us-west-2", StartedAt: time.Now()}
	require.NoError(t, repo.CreatePublication(ctx, publication))

	require.NoError(t, repo.AppendStep(ctx, publication.ID, "resolve-identity", "123456789012"))
	require.NoError(t, repo.AppendStep(ctx, publication.ID, "build-image", "sha256:abc"))

	got, err := repo.GetPublication(ctx, publication.ID)
	require.NoError(t, err)
	assert.Equal(t, "demo-app", got.AppName)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "resolve-identity", got.Steps[0].Step)
	assert.Equal(t, "sha256:abc", got.Steps[1].Detail)
}

func TestGetPublication_NotFound(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	_, err := repo.GetPublication(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindPublication(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	first := &Publication{ID: uuid.MustParse("a1b2c3d4-0000-4000-8000-000000000001"), AppName: "demo-app", Region: "us-west-2", StartedAt: time.Now()}
	second := &Publication{ID: uuid.MustParse("a1b2c3d4-0000-4000-8000-000000000002"), AppName: "demo-app", Region: "us-west-2", StartedAt: time.Now()}
	other := &Publication{ID: uuid.MustParse("ffee0000-0000-4000-8000-000000000003"), AppName: "other-app", Region: "us-west-2", StartedAt: time.Now()}
	for _, p := range []*Publication{first, second, other} {
		require.NoError(t, repo.CreatePublication(ctx, p))
	}
	require.NoError(t, repo.AppendStep(ctx, other.ID, "build-image", "sha256:abc"))

	got, err := repo.FindPublication(ctx, "FFEE0000")
	require.NoError(t, err)
	assert.Equal(t, other.ID, got.ID)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "build-image", got.Steps[0].Step)

	got, err = repo.FindPublication(ctx, second.ID.String())
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	_, err = repo.FindPublication(ctx, "a1b2c3d4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")

	_, err = repo.FindPublication(ctx, "0123")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.FindPublication(ctx, "%")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkPublished(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	publication := &Publication{AppName: "demo-app", Region: "us-west-2", StartedAt: time.Now()}
	require.NoError(t, repo.CreatePublication(ctx, publication))

	uri := "123456789012.dkr.ecr.us-west-2.amazonaws.com/demo-app:latest"
	require.NoError(t, repo.MarkPublished(ctx, publication.ID, "123456789012", "sha256:abc", uri, true))

	got, err := repo.GetPublication(ctx, publication.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, got.Status)
	assert.Equal(t, uri, got.ImageURI)
	assert.True(t, got.RepositoryCreated)
	require.NotNil(t, got.CompletedAt)
	assert.GreaterOrEqual(t, got.Duration(), time.Duration(0))
}

func TestMarkFailed(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	publication := &Publication{AppName: "demo-app", Region: "us-west-2", StartedAt: time.Now()}
	require.NoError(t, repo.CreatePublication(ctx, publication))

	require.NoError(t, repo.MarkFailed(ctx, publication.ID, "push-image", "denied"))

	got, err := repo.GetPublication(ctx, publication.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "push-image", got.FailedStep)
	assert.Equal(t, "denied", got.Error)

	count, err := repo.CountPublicationsByStatus(ctx, StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMarkUnknownPublication(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	err := repo.MarkFailed(context.Background(), uuid.New(), "build-image", "boom")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListPublications(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, app := range []string{"a", "b", "a", "a"} {
		require.NoError(t, repo.CreatePublication(ctx, &Publication{
			AppName:   app,
			Region:    "us-west-2",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := repo.ListPublications(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.True(t, all[0].StartedAt.After(all[1].StartedAt), "newest first")

	limited, err := repo.ListPublications(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	for _, p := range limited {
		assert.Equal(t, "a", p.AppName)
	}
}

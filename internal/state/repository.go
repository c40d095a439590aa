package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a publication does not exist
var ErrNotFound = errors.New("publication not found")

// Repository provides database operations for publications
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new state repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreatePublication creates a new publication record
func (r *Repository) CreatePublication(ctx context.Context, publication *Publication) error {
	if publication.ID == uuid.Nil {
		publication.ID = uuid.New()
	}
	if publication.Status == "" {
		publication.Status = StatusRunning
	}

	if err := r.db.WithContext(ctx).Create(publication).Error; err != nil {
		return fmt.Errorf("failed to create publication: %w", err)
	}

	return nil
}

// GetPublication retrieves a publication and its steps by ID
func (r *Repository) GetPublication(ctx context.Context, id uuid.UUID) (*Publication, error) {
	var publication Publication

	if err := r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		First(&publication, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get publication: %w", err)
	}

	return &publication, nil
}

// FindPublication resolves a full ID or the unique ID prefix shown by listings
func (r *Repository) FindPublication(ctx context.Context, idOrPrefix string) (*Publication, error) {
	idOrPrefix = strings.ToLower(strings.TrimSpace(idOrPrefix))
	if id, err := uuid.Parse(idOrPrefix); err == nil {
		return r.GetPublication(ctx, id)
	}
	if idOrPrefix == "" || strings.ContainsAny(idOrPrefix, "%_") {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, idOrPrefix)
	}

	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&Publication{}).
		Where("CAST(id AS TEXT) LIKE ?", idOrPrefix+"%").
		Limit(2).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to find publication: %w", err)
	}

	switch len(ids) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, idOrPrefix)
	case 1:
		return r.GetPublication(ctx, ids[0])
	default:
		return nil, fmt.Errorf("publication id %q is ambiguous", idOrPrefix)
	}
}

// ListPublications retrieves the most recent publications, optionally for one app
func (r *Repository) ListPublications(ctx context.Context, appName string, limit int) ([]Publication, error) {
	var publications []Publication

	query := r.db.WithContext(ctx).Order("started_at DESC")
	if appName != "" {
		query = query.Where("app_name = ?", appName)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&publications).Error; err != nil {
		return nil, fmt.Errorf("failed to list publications: %w", err)
	}

	return publications, nil
}

// AppendStep records a completed step for a publication
func (r *Repository) AppendStep(ctx context.Context, publicationID uuid.UUID, step, detail string) error {
	record := &PublicationStep{
		ID:            uuid.New(),
		PublicationID: publicationID,
		Step:          step,
		Detail:        detail,
	}

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to append step: %w", err)
	}

	return nil
}

// MarkPublished records the outcome of a successful run
func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID, accountID, imageID, imageURI string, repositoryCreated bool) error {
	now := time.Now()

	result := r.db.WithContext(ctx).
		Model(&Publication{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":             StatusPublished,
			"account_id":         accountID,
			"image_id":           imageID,
			"image_uri":          imageURI,
			"repository_created": repositoryCreated,
			"completed_at":       &now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark publication as published: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return nil
}

// MarkFailed records the failing step and error of a run
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, step, errMsg string) error {
	now := time.Now()

	result := r.db.WithContext(ctx).
		Model(&Publication{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       StatusFailed,
			"failed_step":  step,
			"error":        errMsg,
			"completed_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark publication as failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return nil
}

// CountPublicationsByStatus counts publications with the given status
func (r *Repository) CountPublicationsByStatus(ctx context.Context, status string) (int64, error) {
	var count int64

	if err := r.db.WithContext(ctx).
		Model(&Publication{}).
		Where("status = ?", status).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count publications: %w", err)
	}

	return count, nil
}

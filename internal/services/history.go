package services

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/teamflowhq/teamflow/internal/models"
	"gorm.io/gorm"
)

// DefaultDebounceWindow is the history compaction window when no
// configuration is supplied.
const DefaultDebounceWindow = 5 * time.Minute

// ShouldMergeHistory reports whether an edit at now should merge into the
// entry written at lastUpdatedAt instead of appending a new one.
func ShouldMergeHistory(lastUpdatedAt, now time.Time, window time.Duration) bool {
	return lastUpdatedAt.After(now.Add(-window))
}

// recordHistory appends or merges a project history entry inside tx.
// The most recent entry for the project is looked up by (project_id,
// updated_at); an edit inside the debounce window overwrites that
// entry's snapshot fields in place (same id, same updated_at), anything
// older gets a fresh entry. Rapid typing therefore compacts to a single
// audit entry per window.
func recordHistory(tx *gorm.DB, project *models.Project, now time.Time, window time.Duration) error {
	if window <= 0 {
		window = DefaultDebounceWindow
	}

	var last models.ProjectHistory
	err := tx.Where("project_id = ?", project.ID).
		Order("updated_at DESC").
		First(&last).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if err == nil && ShouldMergeHistory(last.UpdatedAt, now, window) {
		return tx.Model(&models.ProjectHistory{}).
			Where("id = ?", last.ID).
			Updates(map[string]interface{}{
				"content":        project.Content,
				"status":         project.Status,
				"team_member_id": project.TeamMemberID,
				"tags":           project.Tags,
				"updated_at":     last.UpdatedAt,
			}).Error
	}

	entry := models.ProjectHistory{
		ID:           uuid.NewString(),
		ProjectID:    project.ID,
		Content:      project.Content,
		Status:       project.Status,
		TeamMemberID: project.TeamMemberID,
		Tags:         project.Tags,
		UpdatedAt:    now,
	}
	return tx.Create(&entry).Error
}

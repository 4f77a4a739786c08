package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teamflowhq/teamflow/internal/models"
	"github.com/teamflowhq/teamflow/internal/utils"
	"github.com/teamflowhq/teamflow/pkg/logger"
	"gorm.io/gorm"
)

// UI areas a project update can originate from.
const (
	AreaTeamDash = "teamDash"
	AreaUserDash = "userDash"
	AreaMeeting  = "meeting"
)

// ProjectService handles project mutations: content edits, status and
// ownership changes, reordering, with debounced history and scoped
// notification fanout.
type ProjectService struct {
	db       *gorm.DB
	hub      *FanoutHub
	debounce time.Duration
	now      func() time.Time
}

// NewProjectService wires the project update path. debounce <= 0 falls
// back to the default window.
func NewProjectService(db *gorm.DB, hub *FanoutHub, debounce time.Duration) *ProjectService {
	if debounce <= 0 {
		debounce = DefaultDebounceWindow
	}
	return &ProjectService{db: db, hub: hub, debounce: debounce, now: time.Now}
}

// SetClock overrides the service clock.
func (s *ProjectService) SetClock(now func() time.Time) { s.now = now }

// UpdateProjectInput carries the changed fields; nil means untouched.
type UpdateProjectInput struct {
	ID        string   `json:"id" binding:"required"`
	Content   *string  `json:"content"`
	Status    *string  `json:"status"`
	UserID    *string  `json:"user_id"`
	SortOrder *float64 `json:"sort_order"`
}

// isSortOnly reports whether the update is a pure reorder, which is
// applied but never logged to history.
func (in *UpdateProjectInput) isSortOnly() bool {
	return in.SortOrder != nil && in.Content == nil && in.Status == nil && in.UserID == nil
}

// UpdateProjectResult reports the applied change and its notification
// side effects.
type UpdateProjectResult struct {
	Project              *models.Project         `json:"project"`
	IsPrivatized         bool                    `json:"is_privatized"`
	NotificationsAdded   []NotificationDirective `json:"notifications_to_add"`
	NotificationsRemoved []NotificationDirective `json:"notifications_to_remove"`
}

// ProjectUpdatedPayload is fanned out to entitled team members.
type ProjectUpdatedPayload struct {
	ProjectID            string                  `json:"project_id"`
	IsPrivatized         bool                    `json:"is_privatized"`
	NotificationsAdded   []NotificationDirective `json:"notifications_to_add"`
	NotificationsRemoved []NotificationDirective `json:"notifications_to_remove"`
}

// extractTags derives the tag set from project content: any "#private"
// or "#archived" token marks the project accordingly.
func extractTags(content string) models.StringList {
	var tags models.StringList
	for _, field := range strings.Fields(content) {
		token := strings.TrimRight(field, ".,;:!?")
		switch token {
		case "#" + models.TagPrivate:
			tags = tags.Append(models.TagPrivate)
		case "#" + models.TagArchived:
			tags = tags.Append(models.TagArchived)
		}
	}
	return tags
}

// usersToIgnore returns the members who need no notification because the
// originating UI area already shows them the change live.
func (s *ProjectService) usersToIgnore(area string, members []models.TeamMember) map[string]struct{} {
	ignore := make(map[string]struct{})
	if area != AreaTeamDash || s.hub == nil {
		return ignore
	}
	for _, m := range members {
		if s.hub.IsConnected(m.UserID) {
			ignore[m.UserID] = struct{}{}
		}
	}
	return ignore
}

// UpdateProject applies a project edit atomically, records debounced
// history for non-trivial changes, diffs notification recipients and
// fans the change out to entitled team members.
func (s *ProjectService) UpdateProject(viewerID, area string, input UpdateProjectInput, opts SubOptions) (*UpdateProjectResult, error) {
	teamID, err := utils.TeamIDFromProjectID(input.ID)
	if err != nil {
		return nil, NewValidationError("id", err.Error())
	}
	if input.Content == nil && input.Status == nil && input.UserID == nil && input.SortOrder == nil {
		return nil, NewValidationError("", "at least one field besides id is required")
	}
	now := s.now()

	var (
		project    models.Project
		oldProject models.Project
		members    []models.TeamMember
	)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		// Re-read inside the transaction so a racing reassignment is
		// never overwritten from a stale copy.
		if err := tx.First(&project, "id = ?", input.ID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return NewNotFound("project", input.ID)
			}
			return err
		}
		oldProject = project

		var team models.Team
		if err := tx.First(&team, "id = ?", teamID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return NewNotFound("team", teamID)
			}
			return err
		}
		if team.IsArchived {
			return ErrTeamArchived
		}

		if input.Content != nil {
			project.Content = *input.Content
			project.Tags = extractTags(*input.Content)
		}
		if input.Status != nil {
			project.Status = *input.Status
		}
		if input.SortOrder != nil {
			project.SortOrder = *input.SortOrder
		}
		if input.UserID != nil {
			memberID := utils.ComposeTeamMemberID(*input.UserID, teamID)
			var owner models.TeamMember
			if err := tx.First(&owner, "id = ? AND is_not_removed = ?", memberID, true).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return NewValidationError("user_id", "new owner is not an active member of the team")
				}
				return err
			}
			project.TeamMemberID = memberID
			project.UserID = *input.UserID
		}

		if !input.isSortOnly() {
			project.UpdatedAt = now
			if err := recordHistory(tx, &project, now, s.debounce); err != nil {
				return err
			}
		}

		if err := tx.Model(&models.Project{}).
			Where("id = ?", project.ID).
			Updates(map[string]interface{}{
				"content":        project.Content,
				"status":         project.Status,
				"sort_order":     project.SortOrder,
				"tags":           project.Tags,
				"team_member_id": project.TeamMemberID,
				"user_id":        project.UserID,
				"updated_at":     project.UpdatedAt,
			}).Error; err != nil {
			return err
		}

		return tx.Where("team_id = ? AND is_not_removed = ?", teamID, true).
			Order("created_at ASC, id ASC").
			Find(&members).Error
	})
	if err != nil {
		return nil, err
	}

	isPrivate := project.IsPrivate()
	wasPrivate := oldProject.IsPrivate()
	isPrivatized := isPrivate && !wasPrivate
	isPublic := !isPrivate || isPrivatized

	ignore := s.usersToIgnore(area, members)
	diff := ComputeNotificationDiff(&project, &oldProject, members, viewerID, ignore)
	// The project row is already committed; a notification failure must
	// still surface so callers do not treat the diff as applied.
	if err := s.applyNotificationDiff(diff, now); err != nil {
		logger.Error().Err(err).Str("project_id", project.ID).Msg("failed to apply notification diff")
		return nil, fmt.Errorf("apply notification diff: %w", err)
	}

	result := &UpdateProjectResult{
		Project:              &project,
		IsPrivatized:         isPrivatized,
		NotificationsAdded:   diff.ToAdd,
		NotificationsRemoved: diff.ToRemove,
	}

	if s.hub != nil {
		payload := ProjectUpdatedPayload{
			ProjectID:            project.ID,
			IsPrivatized:         isPrivatized,
			NotificationsAdded:   diff.ToAdd,
			NotificationsRemoved: diff.ToRemove,
		}
		for _, m := range members {
			if isPublic || m.UserID == project.UserID {
				s.hub.Publish(TopicProject, m.UserID, "UpdateProjectPayload", payload, opts)
			}
		}
	}

	return result, nil
}

// applyNotificationDiff persists the involvement notifications the diff
// engine computed.
func (s *ProjectService) applyNotificationDiff(diff NotificationDiff, now time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, d := range diff.ToAdd {
			n := models.Notification{
				ID:        uuid.NewString(),
				TeamID:    d.TeamID,
				ProjectID: d.ProjectID,
				Type:      d.Type,
				StartAt:   now,
				UserIDs:   models.StringList{d.UserID},
			}
			if err := tx.Create(&n).Error; err != nil {
				return err
			}
		}
		for _, d := range diff.ToRemove {
			var stale []models.Notification
			if err := tx.Where("project_id = ? AND type = ?", d.ProjectID, d.Type).Find(&stale).Error; err != nil {
				return err
			}
			for _, n := range stale {
				if !n.UserIDs.Contains(d.UserID) {
					continue
				}
				rest := n.UserIDs.Difference(d.UserID)
				if len(rest) == 0 {
					if err := tx.Delete(&models.Notification{}, "id = ?", n.ID).Error; err != nil {
						return err
					}
				} else if err := tx.Model(&models.Notification{}).
					Where("id = ?", n.ID).
					Update("user_ids", rest).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

package services

import (
	"time"

	"github.com/google/uuid"
	"github.com/teamflowhq/teamflow/internal/models"
	"github.com/teamflowhq/teamflow/internal/utils"
	"github.com/teamflowhq/teamflow/pkg/logger"
	"gorm.io/gorm"
)

// IntegrationCleaner tears down external issue-tracker state after a
// membership ends. Best effort: failures are reported, never rolled into
// the membership transaction.
type IntegrationCleaner interface {
	RemoveReposForUser(userID string, teamIDs []string) ([]RepoChange, error)
	ArchiveProjectsForRepos(changes []RepoChange) ([]string, error)
}

// TeamMemberService orchestrates membership lifecycle mutations.
type TeamMemberService struct {
	db      *gorm.DB
	hub     *FanoutHub
	queue   TaskQueue
	cleaner IntegrationCleaner
	now     func() time.Time
}

// NewTeamMemberService wires the membership engine. The clock defaults
// to time.Now and is injectable for tests.
func NewTeamMemberService(db *gorm.DB, hub *FanoutHub, queue TaskQueue, cleaner IntegrationCleaner) *TeamMemberService {
	return &TeamMemberService{
		db:      db,
		hub:     hub,
		queue:   queue,
		cleaner: cleaner,
		now:     time.Now,
	}
}

// SetClock overrides the service clock.
func (s *TeamMemberService) SetClock(now func() time.Time) { s.now = now }

// RemoveOptions distinguishes a forced kickout from a voluntary departure.
type RemoveOptions struct {
	IsKickout bool
}

// RemoveResult reports everything a removal changed.
type RemoveResult struct {
	User                 *models.User          `json:"user"`
	RemovedNotifications []models.Notification `json:"removed_notifications"`
	NotificationID       string                `json:"notification_id,omitempty"`
	ArchivedProjectIDs   []string              `json:"archived_project_ids"`
	ReassignedProjectIDs []string              `json:"reassigned_project_ids"`
}

// RemoveTeamMemberPayload is fanned out to the team after a removal.
type RemoveTeamMemberPayload struct {
	TeamID               string   `json:"team_id"`
	TeamMemberID         string   `json:"team_member_id"`
	UserID               string   `json:"user_id"`
	IsKickout            bool     `json:"is_kickout"`
	NotificationID       string   `json:"notification_id,omitempty"`
	ReassignedProjectIDs []string `json:"reassigned_project_ids"`
}

// pickSuccessor selects who inherits leadership and project ownership
// when target leaves. Preference: the other member already carrying the
// complementary lead flag when that is unambiguous, otherwise the
// longest-tenured remaining member. others must be sorted by CreatedAt.
func pickSuccessor(others []models.TeamMember, target *models.TeamMember) *models.TeamMember {
	if len(others) == 0 {
		return nil
	}
	var complementary []*models.TeamMember
	for i := range others {
		if others[i].IsLead != target.IsLead {
			complementary = append(complementary, &others[i])
		}
	}
	if len(complementary) == 1 {
		return complementary[0]
	}
	return &others[0]
}

// RemoveTeamMember soft-deletes a team member and repairs every
// denormalized collection that referenced them: leadership, project
// ownership, the user's team list, provider credentials and pending
// notifications, all in one transaction. Integration teardown and
// notification fanout run only after the commit.
func (s *TeamMemberService) RemoveTeamMember(teamMemberID string, opts RemoveOptions) (*RemoveResult, error) {
	userID, teamID, err := utils.SplitTeamMemberID(teamMemberID)
	if err != nil {
		return nil, NewValidationError("team_member_id", err.Error())
	}
	now := s.now()

	result := &RemoveResult{
		ArchivedProjectIDs:   []string{},
		ReassignedProjectIDs: []string{},
		RemovedNotifications: []models.Notification{},
	}
	var (
		team              models.Team
		target            models.TeamMember
		remaining         []models.TeamMember
		changedProviders  []models.Provider
		githubDeactivated bool
	)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&target, "id = ?", teamMemberID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return NewNotFound("team member", teamMemberID)
			}
			return err
		}
		if err := tx.First(&team, "id = ?", teamID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return NewNotFound("team", teamID)
			}
			return err
		}

		// Soft-delete via compare-and-swap: of two racing removals
		// exactly one flips the flag, the other fails here.
		res := tx.Model(&models.TeamMember{}).
			Where("id = ? AND is_not_removed = ?", teamMemberID, true).
			Updates(map[string]interface{}{
				"is_not_removed": false,
				"is_lead":        false,
				"updated_at":     now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyRemoved
		}

		var active []models.TeamMember
		if err := tx.Where("team_id = ? AND is_not_removed = ? AND id <> ?", teamID, true, teamMemberID).
			Order("created_at ASC, id ASC").
			Find(&active).Error; err != nil {
			return err
		}
		remaining = active

		successor := pickSuccessor(active, &target)
		if successor == nil {
			// Last active member out: retire the team, nothing to hand over.
			if err := tx.Model(&models.Team{}).
				Where("id = ?", teamID).
				Update("is_archived", true).Error; err != nil {
				return err
			}
		} else if target.IsLead {
			res := tx.Model(&models.TeamMember{}).
				Where("id = ? AND is_not_removed = ?", successor.ID, true).
				Update("is_lead", true)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return NewNotFound("successor team member", successor.ID)
			}
		}

		// Hand the leaver's live projects to the successor.
		if successor != nil {
			var owned []models.Project
			if err := tx.Where("team_member_id = ?", teamMemberID).Find(&owned).Error; err != nil {
				return err
			}
			var reassignIDs []string
			for _, p := range owned {
				if !p.IsArchived() {
					reassignIDs = append(reassignIDs, p.ID)
				}
			}
			if len(reassignIDs) > 0 {
				if err := tx.Model(&models.Project{}).
					Where("id IN ?", reassignIDs).
					Updates(map[string]interface{}{
						"team_member_id": successor.ID,
						"user_id":        successor.UserID,
					}).Error; err != nil {
					return err
				}
				result.ReassignedProjectIDs = reassignIDs
			}
		}

		var user models.User
		if err := tx.First(&user, "id = ?", userID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return NewNotFound("user", userID)
			}
			return err
		}
		user.Tms = user.Tms.Difference(teamID)
		if err := tx.Model(&models.User{}).
			Where("id = ?", userID).
			Update("tms", user.Tms).Error; err != nil {
			return err
		}
		result.User = &user

		// Providers are deactivated, never deleted, so re-joining can
		// reactivate them.
		if err := tx.Where("user_id = ? AND team_id = ? AND is_active = ?", userID, teamID, true).
			Find(&changedProviders).Error; err != nil {
			return err
		}
		if len(changedProviders) > 0 {
			if err := tx.Model(&models.Provider{}).
				Where("user_id = ? AND team_id = ? AND is_active = ?", userID, teamID, true).
				Update("is_active", false).Error; err != nil {
				return err
			}
		}
		for _, p := range changedProviders {
			if p.Service == models.ServiceGitHub {
				githubDeactivated = true
			}
		}

		// Purge notifications addressed to the leaver for this team.
		var teamNotifications []models.Notification
		if err := tx.Where("team_id = ?", teamID).Find(&teamNotifications).Error; err != nil {
			return err
		}
		var purgeIDs []string
		for _, n := range teamNotifications {
			if n.UserIDs.Contains(userID) {
				purgeIDs = append(purgeIDs, n.ID)
				result.RemovedNotifications = append(result.RemovedNotifications, n)
			}
		}
		if len(purgeIDs) > 0 {
			if err := tx.Where("id IN ?", purgeIDs).Delete(&models.Notification{}).Error; err != nil {
				return err
			}
		}

		if opts.IsKickout {
			kickout := models.Notification{
				ID:      uuid.NewString(),
				TeamID:  teamID,
				Type:    models.NotificationKickedOut,
				StartAt: now,
				UserIDs: models.StringList{userID},
			}
			if err := tx.Create(&kickout).Error; err != nil {
				return err
			}
			result.NotificationID = kickout.ID
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	// Everything past this point is best effort against committed state.
	if githubDeactivated && s.cleaner != nil {
		archived, cleanupErr := s.cleanupIntegrations(userID, teamID)
		if cleanupErr != nil {
			logger.Warn().Err(cleanupErr).Str("user_id", userID).Str("team_id", teamID).Msg("integration cleanup failed, membership change stands")
		} else {
			result.ArchivedProjectIDs = archived
		}
	}

	if opts.IsKickout && s.queue != nil && result.User != nil && result.User.Email != "" {
		task := &KickoutEmailTask{
			Email:    result.User.Email,
			UserName: result.User.PreferredName,
			TeamName: team.Name,
		}
		if err := s.queue.EnqueueKickoutEmail(task); err != nil {
			logger.Warn().Err(err).Str("user_id", userID).Msg("failed to enqueue kickout email")
		}
	}

	if s.hub != nil {
		payload := RemoveTeamMemberPayload{
			TeamID:               teamID,
			TeamMemberID:         teamMemberID,
			UserID:               userID,
			IsKickout:            opts.IsKickout,
			NotificationID:       result.NotificationID,
			ReassignedProjectIDs: result.ReassignedProjectIDs,
		}
		for _, m := range remaining {
			s.hub.Publish(TopicTeamMember, m.UserID, "RemoveTeamMemberPayload", payload, SubOptions{})
		}
		// The leaver hears about it too, so their client can unsubscribe.
		s.hub.Publish(TopicTeamMember, userID, "RemoveTeamMemberPayload", payload, SubOptions{})
	}

	return result, nil
}

// cleanupIntegrations runs the external teardown and falls back to the
// task queue for a retry when the inline attempt fails.
func (s *TeamMemberService) cleanupIntegrations(userID, teamID string) ([]string, error) {
	changes, err := s.cleaner.RemoveReposForUser(userID, []string{teamID})
	if err == nil {
		var archived []string
		archived, err = s.cleaner.ArchiveProjectsForRepos(changes)
		if err == nil {
			return archived, nil
		}
	}

	if s.queue != nil {
		task := &IntegrationCleanupTask{UserID: userID, TeamIDs: []string{teamID}}
		if qErr := s.queue.EnqueueIntegrationCleanup(task); qErr != nil {
			logger.Warn().Err(qErr).Str("user_id", userID).Msg("failed to enqueue integration cleanup retry")
		}
	}
	return nil, &IntegrationCleanupError{UserID: userID, Err: err}
}

// PromoteToTeamLead transfers leadership to another active member of the
// viewer's team. The viewer must be the current lead.
func (s *TeamMemberService) PromoteToTeamLead(teamMemberID, viewerID string) (*models.TeamMember, error) {
	_, teamID, err := utils.SplitTeamMemberID(teamMemberID)
	if err != nil {
		return nil, NewValidationError("team_member_id", err.Error())
	}

	var promoted models.TeamMember
	err = s.db.Transaction(func(tx *gorm.DB) error {
		viewerMemberID := utils.ComposeTeamMemberID(viewerID, teamID)

		res := tx.Model(&models.TeamMember{}).
			Where("id = ? AND is_lead = ? AND is_not_removed = ?", viewerMemberID, true, true).
			Update("is_lead", false)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return NewValidationError("viewer", "only the team lead can promote")
		}

		res = tx.Model(&models.TeamMember{}).
			Where("id = ? AND is_not_removed = ?", teamMemberID, true).
			Update("is_lead", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return NewNotFound("team member", teamMemberID)
		}

		return tx.First(&promoted, "id = ?", teamMemberID).Error
	})
	if err != nil {
		return nil, err
	}

	if s.hub != nil {
		var members []models.TeamMember
		if err := s.db.Where("team_id = ? AND is_not_removed = ?", teamID, true).Find(&members).Error; err == nil {
			for _, m := range members {
				s.hub.Publish(TopicTeamMember, m.UserID, "PromoteToTeamLeadPayload", &promoted, SubOptions{})
			}
		}
	}

	return &promoted, nil
}

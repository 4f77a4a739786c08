package services

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/teamflowhq/teamflow/internal/models"
	"github.com/teamflowhq/teamflow/pkg/logger"
	"gorm.io/gorm"
)

// NotificationSweeper periodically deletes expired notifications and
// scrubs recipients who no longer belong to the notification's team.
type NotificationSweeper struct {
	db        *gorm.DB
	cron      *cron.Cron
	retention time.Duration
}

// NewNotificationSweeper builds a sweeper with the given retention.
func NewNotificationSweeper(db *gorm.DB, retentionDays int) *NotificationSweeper {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &NotificationSweeper{
		db:        db,
		cron:      cron.New(),
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Start schedules the daily sweep.
func (s *NotificationSweeper) Start() {
	s.cron.AddFunc("0 3 * * *", func() {
		if err := s.Sweep(time.Now()); err != nil {
			logger.Error().Err(err).Msg("notification sweep failed")
		}
	})
	s.cron.Start()
	logger.Info().Dur("retention", s.retention).Msg("notification sweeper started")
}

// Stop halts the scheduler.
func (s *NotificationSweeper) Stop() {
	s.cron.Stop()
}

// Sweep runs one pass: expired notifications are deleted, and any
// recipient who left the team is dropped from the remaining ones.
func (s *NotificationSweeper) Sweep(now time.Time) error {
	cutoff := now.Add(-s.retention)
	if err := s.db.Where("start_at < ?", cutoff).Delete(&models.Notification{}).Error; err != nil {
		return err
	}

	var notifications []models.Notification
	if err := s.db.Find(&notifications).Error; err != nil {
		return err
	}
	for _, n := range notifications {
		keep := make(models.StringList, 0, len(n.UserIDs))
		for _, userID := range n.UserIDs {
			var user models.User
			if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
				continue
			}
			if user.Tms.Contains(n.TeamID) {
				keep = append(keep, userID)
			}
		}
		if len(keep) == len(n.UserIDs) {
			continue
		}
		if len(keep) == 0 {
			if err := s.db.Delete(&models.Notification{}, "id = ?", n.ID).Error; err != nil {
				return err
			}
			continue
		}
		if err := s.db.Model(&models.Notification{}).
			Where("id = ?", n.ID).
			Update("user_ids", keep).Error; err != nil {
			return err
		}
	}
	return nil
}

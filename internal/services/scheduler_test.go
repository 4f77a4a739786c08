package services

import (
	"testing"
	"time"

	"github.com/teamflowhq/teamflow/internal/models"
)

func TestSweep_DeletesExpired(t *testing.T) {
	db := setupTestDB(t)
	sweeper := NewNotificationSweeper(db, 30)
	now := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)

	notifications := []models.Notification{
		{ID: "old", TeamID: "t1", Type: models.NotificationProjectInvolved, StartAt: now.Add(-31 * 24 * time.Hour)},
		{ID: "fresh", TeamID: "t1", Type: models.NotificationProjectInvolved, StartAt: now.Add(-time.Hour)},
	}
	for i := range notifications {
		if err := db.Create(&notifications[i]).Error; err != nil {
			t.Fatalf("failed to seed notification: %v", err)
		}
	}

	if err := sweeper.Sweep(now); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	var remaining []models.Notification
	db.Find(&remaining)
	if len(remaining) != 1 || remaining[0].ID != "fresh" {
		t.Errorf("expected only the fresh notification to survive, got %v", remaining)
	}
}

func TestSweep_ScrubsDepartedRecipients(t *testing.T) {
	db := setupTestDB(t)
	sweeper := NewNotificationSweeper(db, 30)
	now := time.Now()

	users := []models.User{
		{ID: "alice", Email: "alice@example.com", Tms: models.StringList{"t1"}},
		{ID: "bob", Email: "bob@example.com", Tms: models.StringList{"t2"}},
	}
	for i := range users {
		if err := db.Create(&users[i]).Error; err != nil {
			t.Fatalf("failed to seed user: %v", err)
		}
	}
	n := models.Notification{
		ID:      "n1",
		TeamID:  "t1",
		Type:    models.NotificationProjectInvolved,
		StartAt: now,
		UserIDs: models.StringList{"alice", "bob"},
	}
	if err := db.Create(&n).Error; err != nil {
		t.Fatalf("failed to seed notification: %v", err)
	}

	if err := sweeper.Sweep(now); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	var stored models.Notification
	db.First(&stored, "id = ?", "n1")
	if stored.UserIDs.Contains("bob") {
		t.Errorf("bob left t1 and should be scrubbed, got %v", stored.UserIDs)
	}
	if !stored.UserIDs.Contains("alice") {
		t.Errorf("alice still belongs to t1, got %v", stored.UserIDs)
	}
}

func TestSweep_DeletesEmptiedNotification(t *testing.T) {
	db := setupTestDB(t)
	sweeper := NewNotificationSweeper(db, 30)
	now := time.Now()

	user := models.User{ID: "bob", Email: "bob@example.com", Tms: models.StringList{"t2"}}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	n := models.Notification{
		ID:      "n1",
		TeamID:  "t1",
		Type:    models.NotificationProjectInvolved,
		StartAt: now,
		UserIDs: models.StringList{"bob"},
	}
	if err := db.Create(&n).Error; err != nil {
		t.Fatalf("failed to seed notification: %v", err)
	}

	if err := sweeper.Sweep(now); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	var count int64
	db.Model(&models.Notification{}).Count(&count)
	if count != 0 {
		t.Errorf("notification with no remaining recipients should be deleted, %d remain", count)
	}
}

package services

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teamflowhq/teamflow/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testDBSeq atomic.Int64

// setupTestDB opens a fresh in-memory database with the full schema. Each
// call gets its own named shared-cache database so the connection pool
// sees one store.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := models.MigrateAll(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// fixedClock returns a clock pinned to the given instant.
func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// seedTeam creates a team with the given members. Member ids follow the
// "userId::teamId" convention and a matching user row is created for each.
func seedTeam(t *testing.T, db *gorm.DB, teamID string, members []models.TeamMember) {
	t.Helper()

	team := models.Team{ID: teamID, Name: "Team " + teamID}
	if err := db.Create(&team).Error; err != nil {
		t.Fatalf("failed to seed team: %v", err)
	}
	for i := range members {
		if err := db.Create(&members[i]).Error; err != nil {
			t.Fatalf("failed to seed member %s: %v", members[i].ID, err)
		}
		user := models.User{
			ID:            members[i].UserID,
			Email:         members[i].UserID + "@example.com",
			PreferredName: members[i].PreferredName,
			Tms:           models.StringList{teamID},
		}
		if err := db.Create(&user).Error; err != nil {
			t.Fatalf("failed to seed user %s: %v", members[i].UserID, err)
		}
	}
}

// member builds an active team member row.
func member(userID, teamID string, isLead bool, createdAt time.Time) models.TeamMember {
	return models.TeamMember{
		ID:            userID + "::" + teamID,
		UserID:        userID,
		TeamID:        teamID,
		PreferredName: "User " + userID,
		IsLead:        isLead,
		IsNotRemoved:  true,
		CreatedAt:     createdAt,
	}
}

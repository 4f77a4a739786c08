package services

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/teamflowhq/teamflow/internal/models"
)

// recordingQueue captures enqueued tasks.
type recordingQueue struct {
	cleanups []*IntegrationCleanupTask
	emails   []*KickoutEmailTask
}

func (q *recordingQueue) EnqueueIntegrationCleanup(task *IntegrationCleanupTask) error {
	q.cleanups = append(q.cleanups, task)
	return nil
}

func (q *recordingQueue) EnqueueKickoutEmail(task *KickoutEmailTask) error {
	q.emails = append(q.emails, task)
	return nil
}

func (q *recordingQueue) IsAsync() bool { return false }

func (q *recordingQueue) Close() error { return nil }

// recordingCleaner captures teardown calls and can be made to fail.
type recordingCleaner struct {
	removedFor []string
	archived   []string
	fail       bool
}

func (c *recordingCleaner) RemoveReposForUser(userID string, teamIDs []string) ([]RepoChange, error) {
	if c.fail {
		return nil, errors.New("tracker unreachable")
	}
	c.removedFor = append(c.removedFor, userID)
	return nil, nil
}

func (c *recordingCleaner) ArchiveProjectsForRepos(changes []RepoChange) ([]string, error) {
	if c.fail {
		return nil, errors.New("tracker unreachable")
	}
	return c.archived, nil
}

func newTestMemberService(t *testing.T) (*TeamMemberService, *recordingQueue, *recordingCleaner) {
	t.Helper()
	db := setupTestDB(t)
	queue := &recordingQueue{}
	cleaner := &recordingCleaner{}
	svc := NewTeamMemberService(db, NewFanoutHub(), queue, cleaner)
	return svc, queue, cleaner
}

func TestPickSuccessor_UniqueComplementaryFlag(t *testing.T) {
	base := time.Now()
	target := member("a", "t", false, base)
	others := []models.TeamMember{
		member("b", "t", false, base.Add(time.Hour)),
		member("c", "t", true, base.Add(2*time.Hour)),
	}

	got := pickSuccessor(others, &target)
	if got == nil || got.UserID != "c" {
		t.Errorf("expected the sole lead c as successor, got %+v", got)
	}
}

func TestPickSuccessor_FallsBackToLongestTenured(t *testing.T) {
	base := time.Now()
	target := member("a", "t", true, base)
	others := []models.TeamMember{
		member("b", "t", false, base.Add(time.Hour)),
		member("c", "t", false, base.Add(2*time.Hour)),
	}

	// Both remaining members carry the complementary flag, so tenure
	// breaks the tie.
	got := pickSuccessor(others, &target)
	if got == nil || got.UserID != "b" {
		t.Errorf("expected longest-tenured b as successor, got %+v", got)
	}
}

func TestPickSuccessor_NoOthers(t *testing.T) {
	target := member("a", "t", true, time.Now())
	if got := pickSuccessor(nil, &target); got != nil {
		t.Errorf("expected nil successor, got %+v", got)
	}
}

func TestRemoveTeamMember_LeadSuccession(t *testing.T) {
	svc, _, _ := newTestMemberService(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	seedTeam(t, svc.db, "t1", []models.TeamMember{
		member("alice", "t1", true, base),
		member("bob", "t1", false, base.Add(time.Hour)),
		member("carol", "t1", false, base.Add(2*time.Hour)),
	})

	if _, err := svc.RemoveTeamMember("alice::t1", RemoveOptions{}); err != nil {
		t.Fatalf("RemoveTeamMember() error = %v", err)
	}

	var alice, bob, carol models.TeamMember
	svc.db.First(&alice, "id = ?", "alice::t1")
	svc.db.First(&bob, "id = ?", "bob::t1")
	svc.db.First(&carol, "id = ?", "carol::t1")

	if alice.IsNotRemoved {
		t.Error("alice should be removed")
	}
	if alice.IsLead {
		t.Error("alice should no longer be lead")
	}
	if !bob.IsLead {
		t.Error("bob, the longest-tenured remaining member, should be lead")
	}
	if carol.IsLead {
		t.Error("carol should not be lead")
	}

	var team models.Team
	svc.db.First(&team, "id = ?", "t1")
	if team.IsArchived {
		t.Error("team with remaining members should stay live")
	}
}

func TestRemoveTeamMember_NonLeadKeepsLeadership(t *testing.T) {
	svc, _, _ := newTestMemberService(t)
	base := time.Now()
	seedTeam(t, svc.db, "t1", []models.TeamMember{
		member("alice", "t1", true, base),
		member("bob", "t1", false, base.Add(time.Hour)),
	})

	if _, err := svc.RemoveTeamMember("bob::t1", RemoveOptions{}); err != nil {
		t.Fatalf("RemoveTeamMember() error = %v", err)
	}

	var alice models.TeamMember
	svc.db.First(&alice, "id = ?", "alice::t1")
	if !alice.IsLead {
		t.Error("removing a non-lead must not touch leadership")
	}
}

func TestRemoveTeamMember_SoleMemberArchivesTeam(t *testing.T) {
	svc, _, _ := newTestMemberService(t)
	seedTeam(t, svc.db, "t1", []models.TeamMember{
		member("alice", "t1", true, time.Now()),
	})

	result, err := svc.RemoveTeamMember("alice::t1", RemoveOptions{})
	if err != nil {
		t.Fatalf("RemoveTeamMember() error = %v", err)
	}

	var team models.Team
	svc.db.First(&team, "id = ?", "t1")
	if !team.IsArchived {
		t.Error("team should be archived when the last member leaves")
	}
	if len(result.ReassignedProjectIDs) != 0 {
		t.Errorf("nothing to reassign without a successor, got %v", result.ReassignedProjectIDs)
	}
}

func TestRemoveTeamMember_ReassignsLiveProjects(t *testing.T) {
	svc, _, _ := newTestMemberService(t)
	base := time.Now()
	seedTeam(t, svc.db, "t1", []models.TeamMember{
		member("alice", "t1", true, base),
		member("bob", "t1", false, base.Add(time.Hour)),
	})

	projects := []models.Project{
		{ID: "t1::p1", TeamID: "t1", TeamMemberID: "alice::t1", UserID: "alice", Content: "live one"},
		{ID: "t1::p2", TeamID: "t1", TeamMemberID: "alice::t1", UserID: "alice", Content: "live two"},
		{ID: "t1::p3", TeamID: "t1", TeamMemberID: "alice::t1", UserID: "alice", Content: "done #archived", Tags: models.StringList{models.TagArchived}},
		{ID: "t1::p4", TeamID: "t1", TeamMemberID: "bob::t1", UserID: "bob", Content: "bobs own"},
	}
	for i := range projects {
		if err := svc.db.Create(&projects[i]).Error; err != nil {
			t.Fatalf("failed to seed project: %v", err)
		}
	}

	result, err := svc.RemoveTeamMember("alice::t1", RemoveOptions{})
	if err != nil {
		t.Fatalf("RemoveTeamMember() error = %v", err)
	}

	if len(result.ReassignedProjectIDs) != 2 {
		t.Fatalf("expected 2 reassigned projects, got %v", result.ReassignedProjectIDs)
	}

	var p1, p3, p4 models.Project
	svc.db.First(&p1, "id = ?", "t1::p1")
	svc.db.First(&p3, "id = ?", "t1::p3")
	svc.db.First(&p4, "id = ?", "t1::p4")

	if p1.TeamMemberID != "bob::t1" || p1.UserID != "bob" {
		t.Errorf("live project should belong to bob, got %s/%s", p1.TeamMemberID, p1.UserID)
	}
	if p3.TeamMemberID != "alice::t1" {
		t.Error("archived project must keep its original owner")
	}
	if p4.TeamMemberID != "bob::t1" {
		t.Error("successor's own project must be untouched")
	}
}

func TestRemoveTeamMember_UpdatesUserTeamList(t *testing.T) {
	svc, _, _ := newTestMemberService(t)
	base := time.Now()
	seedTeam(t, svc.db, "t1", []models.TeamMember{
		member("alice", "t1", true, base),
		member("bob", "t1", false, base.Add(time.Hour)),
	})
	svc.db.Model(&models.User{}).Where("id = ?", "alice").
		Update("tms", models.StringList{"t1", "t2"})

	result, err := svc.RemoveTeamMember("alice::t1", RemoveOptions{})
	if err != nil {
		t.Fatalf("RemoveTeamMember() error = %v", err)
	}

	if result.User == nil {
		t.Fatal("result should carry the updated user")
	}
	if result.User.Tms.Contains("t1") {
		t.Errorf("t1 should be gone from the team list, got %v", result.User.Tms)
	}
	if !result.User.Tms.Contains("t2") {
		t.Errorf("other memberships must survive, got %v", result.User.Tms)
	}

	var stored models.User
	svc.db.First(&stored, "id = ?", "alice")
	if stored.Tms.Contains("t1") {
		t.Errorf("persisted team list still has t1: %v", stored.Tms)
	}
}

func TestRemoveTeamMember_PurgesNotifications(t *testing.T) {
	svc, _, _ := newTestMemberService(t)
	base := time.Now()
	seedTeam(t, svc.db, "t1", []models.TeamMember{
		member("alice", "t1", true, base),
		member("bob", "t1", false, base.Add(time.Hour)),
	})
	seedTeam(t, svc.db, "t2", []models.TeamMember{
		member("dave", "t2", true, base),
	})

	notifications := []models.Notification{
		{ID: "n1", TeamID: "t1", Type: models.NotificationProjectInvolved, UserIDs: models.StringList{"alice"}},
		{ID: "n2", TeamID: "t1", Type: models.NotificationProjectInvolved, UserIDs: models.StringList{"alice", "bob"}},
		{ID: "n3", TeamID: "t1", Type: models.NotificationProjectInvolved, UserIDs: models.StringList{"bob"}},
		{ID: "n4", TeamID: "t2", Type: models.NotificationProjectInvolved, UserIDs: models.StringList{"alice"}},
	}
	for i := range notifications {
		if err := svc.db.Create(&notifications[i]).Error; err != nil {
			t.Fatalf("failed to seed notification: %v", err)
		}
	}

	result, err := svc.RemoveTeamMember("alice::t1", RemoveOptions{})
	if err != nil {
		t.Fatalf("RemoveTeamMember() error = %v", err)
	}

	if len(result.RemovedNotifications) != 2 {
		t.Errorf("expected 2 purged notifications, got %d", len(result.RemovedNotifications))
	}

	var count int64
	svc.db.Model(&models.Notification{}).Where("id IN ?", []string{"n1", "n2"}).Count(&count)
	if count != 0 {
		t.Errorf("notifications addressed to alice in t1 should be deleted, %d remain", count)
	}
	svc.db.Model(&models.Notification{}).Where("id IN ?", []string{"n3", "n4"}).Count(&count)
	if count != 2 {
		t.Errorf("unrelated notifications must survive, got %d of 2", count)
	}
}

func TestRemoveTeamMember_NoNotificationsSerializesEmpty(t *testing.T) {
	svc, _, _ := newTestMemberService(t)
	base := time.Now()
	seedTeam(t, svc.db, "t1", []models.TeamMember{
		member("alice", "t1", true, base),
		member("bob", "t1", false, base.Add(time.Hour)),
	})

	result, err := svc.RemoveTeamMember("alice::t1", RemoveOptions{})
	if err != nil {
		t.Fatalf("RemoveTeamMember() error = %v", err)
	}

	if result.RemovedNotifications == nil {
		t.Error("RemovedNotifications should be an empty slice, got nil")
	}
	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	if !strings.Contains(string(data), `"removed_notifications":[]`) {
		t.Errorf("removed_notifications should serialize as [], got %s", data)
	}
}

func TestRemoveTeamMember_Twice(t *testing.T) {
	svc, _, _ := newTestMemberService(t)
	base := time.Now()
	seedTeam(t, svc.db, "t1", []models.TeamMember{
		member("alice", "t1", true, base),
		member("bob", "t1", false, base.Add(time.Hour)),
	})

	if _, err := svc.RemoveTeamMember("alice::t1", RemoveOptions{}); err != nil {
		t.Fatalf("first removal error = %v", err)
	}
	_, err := svc.RemoveTeamMember("alice::t1", RemoveOptions{})
	if !errors.Is(err, ErrAlreadyRemoved) {
		t.Errorf("second removal should fail with ErrAlreadyRemoved, got %v", err)
	}
}

func TestRemoveTeamMember_NotFound(t *testing.T) {
	svc, _, _ := newTestMemberService(t)

	_, err := svc.RemoveTeamMember("ghost::t1", RemoveOptions{})
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestRemoveTeamMember_MalformedID(t *testing.T) {
	svc, _, _ := newTestMemberService(t)

	_, err := svc.RemoveTeamMember("not-a-compound-id", RemoveOptions{})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestRemoveTeamMember_Kickout(t *testing.T) {
	svc, queue, _ := newTestMemberService(t)
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	svc.SetClock(fixedClock(at))
	base := at.Add(-24 * time.Hour)
	seedTeam(t, svc.db, "t1", []models.TeamMember{
		member("alice", "t1", true, base),
		member("bob", "t1", false, base.Add(time.Hour)),
	})

	result, err := svc.RemoveTeamMember("bob::t1", RemoveOptions{IsKickout: true})
	if err != nil {
		t.Fatalf("RemoveTeamMember() error = %v", err)
	}

	if result.NotificationID == "" {
		t.Fatal("kickout should create a notification")
	}
	var n models.Notification
	if err := svc.db.First(&n, "id = ?", result.NotificationID).Error; err != nil {
		t.Fatalf("kickout notification not persisted: %v", err)
	}
	if n.Type != models.NotificationKickedOut {
		t.Errorf("Type = %q, expected %q", n.Type, models.NotificationKickedOut)
	}
	if !n.UserIDs.Contains("bob") {
		t.Errorf("notification should address bob, got %v", n.UserIDs)
	}
	if !n.StartAt.Equal(at) {
		t.Errorf("StartAt = %v, expected %v", n.StartAt, at)
	}

	if len(queue.emails) != 1 {
		t.Fatalf("expected 1 kickout email, got %d", len(queue.emails))
	}
	if queue.emails[0].Email != "bob@example.com" {
		t.Errorf("email addressed to %q", queue.emails[0].Email)
	}
}

func TestRemoveTeamMember_VoluntaryLeaveNoNotification(t *testing.T) {
	svc, queue, _ := newTestMemberService(t)
	base := time.Now()
	seedTeam(t, svc.db, "t1", []models.TeamMember{
		member("alice", "t1", true, base),
		member("bob", "t1", false, base.Add(time.Hour)),
	})

	result, err := svc.RemoveTeamMember("bob::t1", RemoveOptions{})
	if err != nil {
		t.Fatalf("RemoveTeamMember() error = %v", err)
	}
	if result.NotificationID != "" {
		t.Error("voluntary departure must not create a kickout notification")
	}
	if len(queue.emails) != 0 {
		t.Error("voluntary departure must not send a kickout email")
	}
}

func TestRemoveTeamMember_DeactivatesProviders(t *testing.T) {
	svc, _, cleaner := newTestMemberService(t)
	base := time.Now()
	seedTeam(t, svc.db, "t1", []models.TeamMember{
		member("alice", "t1", true, base),
		member("bob", "t1", false, base.Add(time.Hour)),
	})
	providers := []models.Provider{
		{UserID: "alice", TeamID: "t1", Service: models.ServiceGitHub, IsActive: true},
		{UserID: "alice", TeamID: "t2", Service: models.ServiceGitHub, IsActive: true},
		{UserID: "bob", TeamID: "t1", Service: models.ServiceGitHub, IsActive: true},
	}
	for i := range providers {
		if err := svc.db.Create(&providers[i]).Error; err != nil {
			t.Fatalf("failed to seed provider: %v", err)
		}
	}

	if _, err := svc.RemoveTeamMember("alice::t1", RemoveOptions{}); err != nil {
		t.Fatalf("RemoveTeamMember() error = %v", err)
	}

	var count int64
	svc.db.Model(&models.Provider{}).
		Where("user_id = ? AND team_id = ? AND is_active = ?", "alice", "t1", true).
		Count(&count)
	if count != 0 {
		t.Error("alice's t1 provider should be deactivated")
	}
	svc.db.Model(&models.Provider{}).
		Where("is_active = ?", true).
		Count(&count)
	if count != 2 {
		t.Errorf("providers of other teams and users must stay active, got %d of 2", count)
	}

	if len(cleaner.removedFor) != 1 || cleaner.removedFor[0] != "alice" {
		t.Errorf("integration teardown should run for alice, got %v", cleaner.removedFor)
	}
}

func TestRemoveTeamMember_CleanupFailureDoesNotRollBack(t *testing.T) {
	svc, queue, cleaner := newTestMemberService(t)
	cleaner.fail = true
	base := time.Now()
	seedTeam(t, svc.db, "t1", []models.TeamMember{
		member("alice", "t1", true, base),
		member("bob", "t1", false, base.Add(time.Hour)),
	})
	provider := models.Provider{UserID: "alice", TeamID: "t1", Service: models.ServiceGitHub, IsActive: true}
	if err := svc.db.Create(&provider).Error; err != nil {
		t.Fatalf("failed to seed provider: %v", err)
	}

	result, err := svc.RemoveTeamMember("alice::t1", RemoveOptions{})
	if err != nil {
		t.Fatalf("removal must succeed despite teardown failure, got %v", err)
	}
	if len(result.ArchivedProjectIDs) != 0 {
		t.Errorf("failed teardown archives nothing, got %v", result.ArchivedProjectIDs)
	}

	var alice models.TeamMember
	svc.db.First(&alice, "id = ?", "alice::t1")
	if alice.IsNotRemoved {
		t.Error("membership change must stand when cleanup fails")
	}

	if len(queue.cleanups) != 1 {
		t.Fatalf("expected 1 cleanup retry enqueued, got %d", len(queue.cleanups))
	}
	if queue.cleanups[0].UserID != "alice" {
		t.Errorf("retry for %q, expected alice", queue.cleanups[0].UserID)
	}
}

func TestRemoveTeamMember_FansOutToTeamAndLeaver(t *testing.T) {
	svc, _, _ := newTestMemberService(t)
	base := time.Now()
	seedTeam(t, svc.db, "t1", []models.TeamMember{
		member("alice", "t1", true, base),
		member("bob", "t1", false, base.Add(time.Hour)),
	})

	aliceSub := NewChannelSubscriber(10)
	bobSub := NewChannelSubscriber(10)
	svc.hub.Subscribe("alice", "conn-a", aliceSub)
	svc.hub.Subscribe("bob", "conn-b", bobSub)

	if _, err := svc.RemoveTeamMember("alice::t1", RemoveOptions{}); err != nil {
		t.Fatalf("RemoveTeamMember() error = %v", err)
	}

	for name, sub := range map[string]*ChannelSubscriber{"alice": aliceSub, "bob": bobSub} {
		select {
		case event := <-sub.Events():
			if event.Topic != TopicTeamMember {
				t.Errorf("%s: Topic = %q, expected %q", name, event.Topic, TopicTeamMember)
			}
			payload, ok := event.Payload.(RemoveTeamMemberPayload)
			if !ok {
				t.Fatalf("%s: unexpected payload type %T", name, event.Payload)
			}
			if payload.TeamMemberID != "alice::t1" {
				t.Errorf("%s: TeamMemberID = %q", name, payload.TeamMemberID)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("%s: timed out waiting for fanout", name)
		}
	}
}

func TestPromoteToTeamLead(t *testing.T) {
	svc, _, _ := newTestMemberService(t)
	base := time.Now()
	seedTeam(t, svc.db, "t1", []models.TeamMember{
		member("alice", "t1", true, base),
		member("bob", "t1", false, base.Add(time.Hour)),
	})

	promoted, err := svc.PromoteToTeamLead("bob::t1", "alice")
	if err != nil {
		t.Fatalf("PromoteToTeamLead() error = %v", err)
	}
	if !promoted.IsLead {
		t.Error("promoted member should be lead")
	}

	var alice models.TeamMember
	svc.db.First(&alice, "id = ?", "alice::t1")
	if alice.IsLead {
		t.Error("previous lead should be demoted")
	}
}

func TestPromoteToTeamLead_ViewerNotLead(t *testing.T) {
	svc, _, _ := newTestMemberService(t)
	base := time.Now()
	seedTeam(t, svc.db, "t1", []models.TeamMember{
		member("alice", "t1", true, base),
		member("bob", "t1", false, base.Add(time.Hour)),
		member("carol", "t1", false, base.Add(2*time.Hour)),
	})

	_, err := svc.PromoteToTeamLead("carol::t1", "bob")
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	// Leadership must be untouched after the failed attempt.
	var alice models.TeamMember
	svc.db.First(&alice, "id = ?", "alice::t1")
	if !alice.IsLead {
		t.Error("alice should still be lead")
	}
}

func TestPromoteToTeamLead_TargetRemoved(t *testing.T) {
	svc, _, _ := newTestMemberService(t)
	base := time.Now()
	removed := member("bob", "t1", false, base.Add(time.Hour))
	removed.IsNotRemoved = false
	seedTeam(t, svc.db, "t1", []models.TeamMember{
		member("alice", "t1", true, base),
		removed,
	})

	_, err := svc.PromoteToTeamLead("bob::t1", "alice")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	// The demotion rolls back with the transaction.
	var alice models.TeamMember
	svc.db.First(&alice, "id = ?", "alice::t1")
	if !alice.IsLead {
		t.Error("alice should still be lead after rollback")
	}
}

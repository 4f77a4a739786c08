package services

import (
	"sort"

	"github.com/teamflowhq/teamflow/internal/models"
)

// NotificationDirective names one recipient to add to or remove from the
// involvement notifications of a project.
type NotificationDirective struct {
	UserID    string `json:"user_id"`
	TeamID    string `json:"team_id"`
	ProjectID string `json:"project_id"`
	Type      string `json:"type"`
}

// NotificationDiff is the result of comparing project visibility states.
type NotificationDiff struct {
	ToAdd    []NotificationDirective `json:"notifications_to_add"`
	ToRemove []NotificationDirective `json:"notifications_to_remove"`
}

// awareOfProject reports whether a member should be aware of the project
// in the given state: public projects are visible to the whole team,
// private ones only to their owner.
func awareOfProject(member *models.TeamMember, project *models.Project) bool {
	if !project.Tags.Contains(models.TagPrivate) {
		return true
	}
	return member.ID == project.TeamMemberID
}

// ComputeNotificationDiff compares which team members should be aware of
// the project under its new vs. old visibility and ownership. The acting
// user and the ignore set are never notified; the project owner is never
// removed. Pure and deterministic: identical inputs yield identical
// diffs, with directives ordered by user id.
func ComputeNotificationDiff(newProject, oldProject *models.Project, members []models.TeamMember, viewerID string, ignore map[string]struct{}) NotificationDiff {
	diff := NotificationDiff{
		ToAdd:    []NotificationDirective{},
		ToRemove: []NotificationDirective{},
	}

	for i := range members {
		m := &members[i]
		if !m.IsNotRemoved {
			continue
		}
		if m.UserID == viewerID {
			continue
		}
		if _, skip := ignore[m.UserID]; skip {
			continue
		}

		awareNow := awareOfProject(m, newProject)
		awareBefore := awareOfProject(m, oldProject)

		switch {
		case awareNow && !awareBefore:
			diff.ToAdd = append(diff.ToAdd, NotificationDirective{
				UserID:    m.UserID,
				TeamID:    newProject.TeamID,
				ProjectID: newProject.ID,
				Type:      models.NotificationProjectInvolved,
			})
		case awareBefore && !awareNow && m.ID != newProject.TeamMemberID:
			// The owner stays aware of their own project regardless of
			// visibility.
			diff.ToRemove = append(diff.ToRemove, NotificationDirective{
				UserID:    m.UserID,
				TeamID:    newProject.TeamID,
				ProjectID: newProject.ID,
				Type:      models.NotificationProjectInvolved,
			})
		}
	}

	sort.Slice(diff.ToAdd, func(i, j int) bool { return diff.ToAdd[i].UserID < diff.ToAdd[j].UserID })
	sort.Slice(diff.ToRemove, func(i, j int) bool { return diff.ToRemove[i].UserID < diff.ToRemove[j].UserID })
	return diff
}

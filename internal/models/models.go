package models

import (
	"time"
)

// Integration service identifiers
const (
	ServiceGitHub = "github"
)

// Project tags with special meaning
const (
	TagPrivate  = "private"
	TagArchived = "archived"
)

// Notification types
const (
	NotificationKickedOut       = "KICKED_OUT"
	NotificationProjectInvolved = "PROJECT_INVOLVED"
)

// Team represents a workspace team. Teams are archived, never deleted,
// when their last active member leaves.
type Team struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	Name       string    `gorm:"size:200;not null" json:"name"`
	IsArchived bool      `gorm:"default:false" json:"is_archived"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TeamMember is a user's membership record within one team. The ID is the
// compound "userId::teamId". Members are soft-deleted via IsNotRemoved.
type TeamMember struct {
	ID            string    `gorm:"primaryKey;size:130" json:"id"`
	UserID        string    `gorm:"index;size:64;not null" json:"user_id"`
	TeamID        string    `gorm:"index;size:64;not null" json:"team_id"`
	PreferredName string    `gorm:"size:200" json:"preferred_name"`
	IsLead        bool      `gorm:"default:false" json:"is_lead"`
	IsNotRemoved  bool      `json:"is_not_removed"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// User represents an account. Tms holds the ids of the teams the user
// currently belongs to.
type User struct {
	ID            string     `gorm:"primaryKey;size:64" json:"id"`
	Email         string     `gorm:"uniqueIndex;size:255" json:"email"`
	PreferredName string     `gorm:"size:200" json:"preferred_name"`
	PasswordHash  string     `gorm:"size:255" json:"-"`
	Tms           StringList `gorm:"type:text" json:"tms"`
	LastLogin     *time.Time `json:"last_login"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Project is a unit of work owned by exactly one team member. The ID is
// the compound "teamId::localId".
type Project struct {
	ID           string     `gorm:"primaryKey;size:130" json:"id"`
	TeamID       string     `gorm:"index;size:64;not null" json:"team_id"`
	TeamMemberID string     `gorm:"index;size:130;not null" json:"team_member_id"`
	UserID       string     `gorm:"index;size:64;not null" json:"user_id"`
	Content      string     `gorm:"type:text" json:"content"`
	Status       string     `gorm:"size:50" json:"status"`
	SortOrder    float64    `json:"sort_order"`
	Tags         StringList `gorm:"type:text" json:"tags"`

	// External issue tracker link, empty when not integrated
	IntegrationService       string `gorm:"size:50" json:"integration_service,omitempty"`
	IntegrationNameWithOwner string `gorm:"size:255" json:"integration_name_with_owner,omitempty"`
	IntegrationIssueNumber   int    `json:"integration_issue_number,omitempty"`
	IntegrationID            string `gorm:"size:64" json:"integration_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsArchived reports whether the project carries the archived tag.
func (p *Project) IsArchived() bool { return p.Tags.Contains(TagArchived) }

// IsPrivate reports whether the project carries the private tag.
func (p *Project) IsPrivate() bool { return p.Tags.Contains(TagPrivate) }

// ProjectHistory is an append-only audit entry snapshotting a project at
// a point in time. Entries are keyed by (ProjectID, UpdatedAt) and two
// edits within the debounce window collapse into one entry.
type ProjectHistory struct {
	ID           string     `gorm:"primaryKey;size:64" json:"id"`
	ProjectID    string     `gorm:"index:idx_project_updated;size:130;not null" json:"project_id"`
	Content      string     `gorm:"type:text" json:"content"`
	Status       string     `gorm:"size:50" json:"status"`
	TeamMemberID string     `gorm:"size:130" json:"team_member_id"`
	Tags         StringList `gorm:"type:text" json:"tags"`
	UpdatedAt    time.Time  `gorm:"index:idx_project_updated" json:"updated_at"`
}

// Provider is a stored external-service credential tied to a user and
// team. Providers are deactivated, not deleted, when a membership ends.
type Provider struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           string    `gorm:"index;size:64;not null" json:"user_id"`
	TeamID           string    `gorm:"index;size:64;not null" json:"team_id"`
	Service          string    `gorm:"size:50;not null" json:"service"`
	ProviderUserName string    `gorm:"size:200" json:"provider_user_name"`
	AccessToken      string    `gorm:"size:500" json:"-"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Notification is addressed to one or more users of a team.
type Notification struct {
	ID        string     `gorm:"primaryKey;size:64" json:"id"`
	TeamID    string     `gorm:"index;size:64;not null" json:"team_id"`
	ProjectID string     `gorm:"index;size:130" json:"project_id,omitempty"`
	Type      string     `gorm:"size:50;not null" json:"type"`
	StartAt   time.Time  `json:"start_at"`
	UserIDs   StringList `gorm:"type:text" json:"user_ids"`
}

// GitHubRepo is an integrated repository. AdminUserID is the member whose
// credential backs issue creation; UserIDs are the members linked to it.
type GitHubRepo struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	NameWithOwner string     `gorm:"index;size:255;not null" json:"name_with_owner"`
	TeamID        string     `gorm:"index;size:64;not null" json:"team_id"`
	AdminUserID   string     `gorm:"size:64;not null" json:"admin_user_id"`
	UserIDs       StringList `gorm:"type:text" json:"user_ids"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

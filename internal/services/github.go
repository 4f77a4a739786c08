package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/teamflowhq/teamflow/internal/config"
	"github.com/teamflowhq/teamflow/internal/models"
	"github.com/teamflowhq/teamflow/internal/utils"
	"github.com/teamflowhq/teamflow/pkg/logger"
	"gorm.io/gorm"
)

const issueTitleMaxLen = 256

// GitHubService talks to the external issue tracker and tears down
// repository integrations when members leave.
type GitHubService struct {
	db      *gorm.DB
	hub     *FanoutHub
	baseURL string
	client  *http.Client
}

// NewGitHubService wires the issue tracker client.
func NewGitHubService(db *gorm.DB, hub *FanoutHub, cfg *config.GitHubConfig) *GitHubService {
	baseURL := "https://api.github.com"
	if cfg != nil && cfg.BaseURL != "" {
		baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return &GitHubService{
		db:      db,
		hub:     hub,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// githubErrorKind tags the known failure shapes of the issues API.
type githubErrorKind int

const (
	githubErrorNone githubErrorKind = iota
	githubErrorInvalidAssignee
	githubErrorMissingTitle
	githubErrorKnownField
	githubErrorMessage
	githubErrorUnrecognized
)

// githubAPIError is the decoded error payload of a failed API call.
type githubAPIError struct {
	Kind    githubErrorKind
	Code    string
	Field   string
	Message string
}

func (e *githubAPIError) Error() string {
	switch e.Kind {
	case githubErrorMessage:
		return fmt.Sprintf("GitHub: %s.", e.Message)
	case githubErrorUnrecognized:
		return "GitHub returned an unrecognized error"
	default:
		return fmt.Sprintf("GitHub: %s. %s: %s", e.Message, e.Code, e.Field)
	}
}

// githubIssueResponse is the subset of the issues API response we read.
type githubIssueResponse struct {
	ID        int64  `json:"id"`
	Number    int    `json:"number"`
	Message   string `json:"message"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
	Errors []struct {
		Code  string `json:"code"`
		Field string `json:"field"`
	} `json:"errors"`
}

// decodeIssueError inspects a response for the tracker's structured
// errors. Known code/field pairs get a specific kind, anything else
// falls back to the unrecognized kind.
func decodeIssueError(res *githubIssueResponse, statusCode int) *githubAPIError {
	if len(res.Errors) > 0 {
		first := res.Errors[0]
		apiErr := &githubAPIError{Code: first.Code, Field: first.Field, Message: res.Message}
		switch {
		case first.Code == "invalid" && first.Field == "assignees":
			apiErr.Kind = githubErrorInvalidAssignee
		case first.Code == "missing_field" && first.Field == "title":
			apiErr.Kind = githubErrorMissingTitle
		default:
			apiErr.Kind = githubErrorKnownField
		}
		return apiErr
	}
	if res.Message != "" {
		return &githubAPIError{Kind: githubErrorMessage, Message: res.Message}
	}
	if statusCode >= 400 {
		return &githubAPIError{Kind: githubErrorUnrecognized}
	}
	return nil
}

// assigneeError converts a decoded API error into a user-facing one.
func (s *GitHubService) assigneeError(apiErr *githubAPIError, assigneeMemberID, nameWithOwner string) error {
	switch apiErr.Kind {
	case githubErrorInvalidAssignee:
		var member models.TeamMember
		name := assigneeMemberID
		if err := s.db.First(&member, "id = ?", assigneeMemberID).Error; err == nil {
			name = member.PreferredName
		}
		return NewValidationError("assignees", fmt.Sprintf("%s cannot be assigned to %s. Make sure they have access", name, nameWithOwner))
	case githubErrorMissingTitle:
		return NewValidationError("title", "the first line is the title, it cannot be empty")
	default:
		return apiErr
	}
}

// CreateIssuePayload is fanned out to the team after a successful link.
type CreateIssuePayload struct {
	ProjectID     string `json:"project_id"`
	NameWithOwner string `json:"name_with_owner"`
	IssueNumber   int    `json:"issue_number"`
}

// splitIssueContent turns project content into an issue title and body.
// The first line is the title; when it exceeds the limit it is truncated
// and the full content stays in the body.
func splitIssueContent(content string) (title, body string) {
	lines := strings.SplitN(content, "\n", 2)
	title = strings.TrimSpace(lines[0])
	if len(title) > issueTitleMaxLen {
		title = title[:issueTitleMaxLen]
		body = content
		return title, body
	}
	if len(lines) > 1 {
		body = strings.TrimSpace(lines[1])
	}
	return title, body
}

// CreateIssue converts a project into a tracked issue on the repository,
// assigning it to the project owner. The admin credential patches the
// assignee when the creating credential lacks permission.
func (s *GitHubService) CreateIssue(viewerID, projectID, nameWithOwner string, opts SubOptions) (*CreateIssuePayload, error) {
	teamID, err := utils.TeamIDFromProjectID(projectID)
	if err != nil {
		return nil, NewValidationError("project_id", err.Error())
	}
	if _, _, err := utils.SplitRepoName(nameWithOwner); err != nil {
		return nil, NewValidationError("name_with_owner", err.Error())
	}

	var project models.Project
	if err := s.db.First(&project, "id = ?", projectID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewNotFound("project", projectID)
		}
		return nil, err
	}
	if project.IntegrationService != "" {
		return nil, NewValidationError("project_id", fmt.Sprintf("project is already linked to %s", project.IntegrationService))
	}
	if strings.TrimSpace(project.Content) == "" {
		return nil, NewValidationError("content", "add some text before submitting a project to the tracker")
	}

	var repo models.GitHubRepo
	if err := s.db.First(&repo, "name_with_owner = ? AND team_id = ? AND is_active = ?", nameWithOwner, teamID, true).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewNotFound("integration for "+nameWithOwner+" on team", teamID)
		}
		return nil, err
	}

	var providers []models.Provider
	if err := s.db.Where("team_id = ? AND service = ? AND is_active = ?", teamID, models.ServiceGitHub, true).
		Find(&providers).Error; err != nil {
		return nil, err
	}
	byUser := make(map[string]*models.Provider, len(providers))
	for i := range providers {
		byUser[providers[i].UserID] = &providers[i]
	}

	assigneeUserID, _, err := utils.SplitTeamMemberID(project.TeamMemberID)
	if err != nil {
		return nil, NewValidationError("team_member_id", err.Error())
	}
	assigneeProvider := byUser[assigneeUserID]
	if assigneeProvider == nil {
		return nil, NewValidationError("assignee", "assignment failed: the owner has no active tracker credential for this team")
	}
	adminProvider := byUser[repo.AdminUserID]
	if adminProvider == nil {
		return nil, NewValidationError("admin", "this repo has no admin credential, re-integrate the repo")
	}
	creatorProvider := byUser[viewerID]

	title, body := splitIssueContent(project.Content)
	if creatorProvider == nil {
		var creator models.User
		if err := s.db.First(&creator, "id = ?", viewerID).Error; err == nil {
			body = fmt.Sprintf("%s\n\n_Added by %s_", body, creator.PreferredName)
		}
	}

	accessToken := adminProvider.AccessToken
	if creatorProvider != nil {
		accessToken = creatorProvider.AccessToken
	}

	issueReq := map[string]interface{}{
		"title":     title,
		"body":      body,
		"assignees": []string{assigneeProvider.ProviderUserName},
	}
	endpoint := fmt.Sprintf("%s/repos/%s/issues", s.baseURL, nameWithOwner)
	issue, err := s.postIssue(http.MethodPost, endpoint, accessToken, issueReq)
	if err != nil {
		var apiErr *githubAPIError
		if errors.As(err, &apiErr) {
			return nil, s.assigneeError(apiErr, project.TeamMemberID, nameWithOwner)
		}
		return nil, err
	}

	// The API silently drops assignees the token cannot assign; retry as
	// the repo admin.
	if len(issue.Assignees) == 0 {
		patchEndpoint := fmt.Sprintf("%s/repos/%s/issues/%d", s.baseURL, nameWithOwner, issue.Number)
		patchReq := map[string]interface{}{"assignees": []string{assigneeProvider.ProviderUserName}}
		if _, err := s.postIssue(http.MethodPatch, patchEndpoint, adminProvider.AccessToken, patchReq); err != nil {
			var apiErr *githubAPIError
			if errors.As(err, &apiErr) {
				return nil, s.assigneeError(apiErr, project.TeamMemberID, nameWithOwner)
			}
			return nil, err
		}
	}

	if err := s.db.Model(&models.Project{}).
		Where("id = ?", projectID).
		Updates(map[string]interface{}{
			"integration_service":         models.ServiceGitHub,
			"integration_name_with_owner": nameWithOwner,
			"integration_issue_number":    issue.Number,
			"integration_id":              fmt.Sprintf("%d", issue.ID),
			"updated_at":                  time.Now(),
		}).Error; err != nil {
		return nil, err
	}

	payload := &CreateIssuePayload{
		ProjectID:     projectID,
		NameWithOwner: nameWithOwner,
		IssueNumber:   issue.Number,
	}

	if s.hub != nil {
		var members []models.TeamMember
		if err := s.db.Where("team_id = ? AND is_not_removed = ?", teamID, true).Find(&members).Error; err == nil {
			for _, m := range members {
				s.hub.Publish(TopicProject, m.UserID, "CreateGitHubIssuePayload", payload, opts)
			}
		}
	}

	return payload, nil
}

// postIssue performs one issues API call and decodes errors.
func (s *GitHubService) postIssue(method, endpoint, accessToken string, payload interface{}) (*githubIssueResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(method, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "token "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var decoded githubIssueResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode issues API response: %w", err)
	}
	if apiErr := decodeIssueError(&decoded, resp.StatusCode); apiErr != nil {
		return nil, apiErr
	}
	return &decoded, nil
}

// RepoChange is an old/new pair of one integrated repository mutated by
// a teardown.
type RepoChange struct {
	Old models.GitHubRepo
	New models.GitHubRepo
}

// RemoveReposForUser unlinks the user from every integrated repository
// of the given teams. A repository whose admin leaves is deactivated:
// issue creation needs an admin credential.
func (s *GitHubService) RemoveReposForUser(userID string, teamIDs []string) ([]RepoChange, error) {
	var changes []RepoChange
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var repos []models.GitHubRepo
		if err := tx.Where("team_id IN ? AND is_active = ?", teamIDs, true).Find(&repos).Error; err != nil {
			return err
		}
		for _, repo := range repos {
			if !repo.UserIDs.Contains(userID) && repo.AdminUserID != userID {
				continue
			}
			old := repo
			repo.UserIDs = repo.UserIDs.Difference(userID)
			if repo.AdminUserID == userID {
				repo.IsActive = false
			}
			if err := tx.Model(&models.GitHubRepo{}).
				Where("id = ?", repo.ID).
				Updates(map[string]interface{}{
					"user_ids":  repo.UserIDs,
					"is_active": repo.IsActive,
				}).Error; err != nil {
				return err
			}
			changes = append(changes, RepoChange{Old: old, New: repo})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

// ArchiveProjectsForRepos archives every project tracking a repository
// that lost its admin pairing, and returns the archived project ids.
func (s *GitHubService) ArchiveProjectsForRepos(changes []RepoChange) ([]string, error) {
	archived := []string{}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, change := range changes {
			if change.New.IsActive {
				continue
			}
			var projects []models.Project
			if err := tx.Where("team_id = ? AND integration_service = ? AND integration_name_with_owner = ?",
				change.New.TeamID, models.ServiceGitHub, change.New.NameWithOwner).
				Find(&projects).Error; err != nil {
				return err
			}
			for _, p := range projects {
				if p.IsArchived() {
					continue
				}
				if err := tx.Model(&models.Project{}).
					Where("id = ?", p.ID).
					Update("tags", p.Tags.Append(models.TagArchived)).Error; err != nil {
					return err
				}
				archived = append(archived, p.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(archived) > 0 {
		logger.Info().Strs("project_ids", archived).Msg("archived projects for torn down repos")
	}
	return archived, nil
}

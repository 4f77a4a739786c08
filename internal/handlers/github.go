package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/teamflowhq/teamflow/internal/middleware"
	"github.com/teamflowhq/teamflow/internal/services"
	"github.com/teamflowhq/teamflow/internal/utils"
	"github.com/teamflowhq/teamflow/pkg/response"
)

// GitHubHandler exposes the issue tracker integration.
type GitHubHandler struct {
	svc *services.GitHubService
}

func NewGitHubHandler(svc *services.GitHubService) *GitHubHandler {
	return &GitHubHandler{svc: svc}
}

type createIssueRequest struct {
	NameWithOwner string `json:"name_with_owner" binding:"required"`
}

// CreateIssue converts a project into a tracked issue on owner/name.
func (h *GitHubHandler) CreateIssue(c *gin.Context) {
	projectID := c.Param("id")

	var req createIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	teamID, err := utils.TeamIDFromProjectID(projectID)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if !middleware.RequireTeamMember(c, teamID) {
		return
	}

	opts := services.SubOptions{
		MutatorID:   c.GetHeader("X-Socket-ID"),
		OperationID: c.GetHeader("X-Operation-ID"),
	}

	payload, err := h.svc.CreateIssue(middleware.GetUserID(c), projectID, req.NameWithOwner, opts)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, payload)
}

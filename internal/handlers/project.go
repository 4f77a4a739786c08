package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/teamflowhq/teamflow/internal/middleware"
	"github.com/teamflowhq/teamflow/internal/services"
	"github.com/teamflowhq/teamflow/internal/utils"
	"github.com/teamflowhq/teamflow/pkg/response"
)

// ProjectHandler exposes the project update mutation.
type ProjectHandler struct {
	svc *services.ProjectService
}

func NewProjectHandler(svc *services.ProjectService) *ProjectHandler {
	return &ProjectHandler{svc: svc}
}

type updateProjectRequest struct {
	Area    string                      `json:"area"`
	Project services.UpdateProjectInput `json:"project" binding:"required"`
}

// Update applies a change in content, ownership, status or ordering.
// X-Socket-ID identifies the originating connection so its own echo is
// suppressed; X-Operation-ID groups deliveries of one client operation.
func (h *ProjectHandler) Update(c *gin.Context) {
	projectID := c.Param("id")

	var req updateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	req.Project.ID = projectID

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

	result, err := h.svc.UpdateProject(middleware.GetUserID(c), req.Area, req.Project, opts)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, result)
}

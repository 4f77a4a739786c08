package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/teamflowhq/teamflow/internal/middleware"
	"github.com/teamflowhq/teamflow/internal/services"
	"github.com/teamflowhq/teamflow/internal/utils"
	"github.com/teamflowhq/teamflow/pkg/response"
)

// TeamMemberHandler exposes the membership lifecycle mutations.
type TeamMemberHandler struct {
	svc *services.TeamMemberService
}

func NewTeamMemberHandler(svc *services.TeamMemberService) *TeamMemberHandler {
	return &TeamMemberHandler{svc: svc}
}

// Remove soft-deletes a team member. ?kickout=true marks a forced
// removal, which notifies the removed user.
func (h *TeamMemberHandler) Remove(c *gin.Context) {
	teamMemberID := c.Param("id")

	_, teamID, err := utils.SplitTeamMemberID(teamMemberID)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if !middleware.RequireTeamMember(c, teamID) {
		return
	}

	opts := services.RemoveOptions{
		IsKickout: c.Query("kickout") == "true",
	}

	result, err := h.svc.RemoveTeamMember(teamMemberID, opts)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, result)
}

// Promote makes another member the team lead. Only the current lead may
// call it.
func (h *TeamMemberHandler) Promote(c *gin.Context) {
	teamMemberID := c.Param("id")

	_, teamID, err := utils.SplitTeamMemberID(teamMemberID)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if !middleware.RequireTeamMember(c, teamID) {
		return
	}

	promoted, err := h.svc.PromoteToTeamLead(teamMemberID, middleware.GetUserID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, promoted)
}

package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/teamflowhq/teamflow/internal/services"
	"github.com/teamflowhq/teamflow/pkg/response"
)

// writeServiceError maps engine errors onto the API envelope.
func writeServiceError(c *gin.Context, err error) {
	var (
		notFound   *services.NotFoundError
		validation *services.ValidationError
	)
	switch {
	case errors.Is(err, services.ErrAlreadyRemoved):
		response.Conflict(c, err.Error())
	case errors.Is(err, services.ErrTeamArchived):
		response.Forbidden(c, err.Error())
	case errors.As(err, &notFound):
		response.NotFound(c, err.Error())
	case errors.As(err, &validation):
		response.BadRequest(c, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

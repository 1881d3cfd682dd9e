package contexts

import (
	"cohortkit/models"
	"cohortkit/services"

	"github.com/labstack/echo"
)

type (
	// "Helper" Context to pass into routes that need
	//  the batch service and other variables
	CohortContext struct {
		echo.Context
		Config       *models.Config
		BatchService *services.BatchService
	}
)

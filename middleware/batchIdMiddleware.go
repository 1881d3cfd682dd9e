package middleware

import (
	"net/http"

	e "cohortkit/models/dtos/errors"

	"github.com/google/uuid"
	"github.com/labstack/echo"
)

/*
Echo middleware to ensure the `:id` path parameter is a valid batch id
*/
func MandateBatchIdAttribute(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		batchId := c.Param("id")
		if _, err := uuid.Parse(batchId); err != nil {
			// if no id was provided, or it was invalid, return an error
			return c.JSON(http.StatusBadRequest, e.CreateSimpleBadRequest("Missing or invalid batch id!"))
		}

		return next(c)
	}
}

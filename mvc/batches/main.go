package batches

import (
	"errors"
	"net/http"

	"cohortkit/contexts"
	"cohortkit/models/dtos"
	e "cohortkit/models/dtos/errors"
	"cohortkit/models/jobs"
	batchesRepo "cohortkit/repositories/batches"
	"cohortkit/services"

	"github.com/labstack/echo"
)

func SubmitBatch(c echo.Context) error {
	bs := c.(*contexts.CohortContext).BatchService

	var spec jobs.BatchSpec
	if err := c.Bind(&spec); err != nil {
		return c.JSON(http.StatusBadRequest, e.CreateSimpleBadRequest("Malformed batch spec: "+err.Error()))
	}
	if len(spec.Jobs) == 0 {
		return c.JSON(http.StatusBadRequest, e.CreateSimpleBadRequest("A batch needs at least one job"))
	}

	record, err := bs.Submit(c.Request().Context(), spec)
	if errors.Is(err, services.ErrInvalidSpec) {
		return c.JSON(http.StatusBadRequest, e.CreateSimpleBadRequest(err.Error()))
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, e.CreateSimpleInternalServerError(err.Error()))
	}

	return c.JSON(http.StatusCreated, dtos.BatchRecordToDto(record))
}

func GetBatches(c echo.Context) error {
	bs := c.(*contexts.CohortContext).BatchService

	records, err := bs.List(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, e.CreateSimpleInternalServerError(err.Error()))
	}

	results := make([]dtos.BatchResponseDto, 0, len(records))
	for _, r := range records {
		results = append(results, dtos.BatchRecordToDto(r))
	}
	return c.JSON(http.StatusOK, dtos.BatchListResponseDto{
		Count:   len(results),
		Results: results,
	})
}

func GetBatch(c echo.Context) error {
	record, errResponse := findBatch(c)
	if errResponse != nil {
		return errResponse()
	}
	return c.JSON(http.StatusOK, dtos.BatchRecordToDto(record))
}

func GetBatchJobs(c echo.Context) error {
	record, errResponse := findBatch(c)
	if errResponse != nil {
		return errResponse()
	}
	return c.JSON(http.StatusOK, dtos.BatchRecordToDto(record).Jobs)
}

func CancelBatch(c echo.Context) error {
	bs := c.(*contexts.CohortContext).BatchService

	record, err := bs.Cancel(c.Request().Context(), c.Param("id"))
	switch {
	case errors.Is(err, batchesRepo.ErrNotFound):
		return c.JSON(http.StatusNotFound, e.CreateSimpleNotFound("No batch with id "+c.Param("id")))
	case errors.Is(err, services.ErrBatchFinished):
		return c.JSON(http.StatusConflict, e.CreateSimpleConflict("Batch already finished as "+string(record.State)))
	case err != nil:
		return c.JSON(http.StatusInternalServerError, e.CreateSimpleInternalServerError(err.Error()))
	}
	return c.JSON(http.StatusOK, dtos.BatchRecordToDto(record))
}

// -- internal use only --
func findBatch(c echo.Context) (*jobs.BatchRecord, func() error) {
	bs := c.(*contexts.CohortContext).BatchService

	record, err := bs.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, batchesRepo.ErrNotFound) {
		return nil, func() error {
			return c.JSON(http.StatusNotFound, e.CreateSimpleNotFound("No batch with id "+c.Param("id")))
		}
	}
	if err != nil {
		return nil, func() error {
			return c.JSON(http.StatusInternalServerError, e.CreateSimpleInternalServerError(err.Error()))
		}
	}
	return record, nil
}

package dtos

import (
	"cohortkit/models/constants"
	"cohortkit/models/jobs"
	"time"
)

type BatchResponseDto struct {
	Id        string             `json:"id"`
	Name      string             `json:"name"`
	State     constants.JobState `json:"state"`
	Message   string             `json:"message"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
	Jobs      []JobStatusDto     `json:"jobs"`
}

type JobStatusDto struct {
	Id      string             `json:"id"`
	Name    string             `json:"name"`
	State   constants.JobState `json:"state"`
	Message string             `json:"message,omitempty"`
}

type BatchListResponseDto struct {
	Count   int                `json:"count"`
	Results []BatchResponseDto `json:"results"`
}

func BatchRecordToDto(r *jobs.BatchRecord) BatchResponseDto {
	dto := BatchResponseDto{
		Id:        r.Id,
		Name:      r.Name,
		State:     r.State,
		Message:   r.Message,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Jobs:      make([]JobStatusDto, 0, len(r.Jobs)),
	}
	for _, j := range r.Jobs {
		dto.Jobs = append(dto.Jobs, JobStatusDto{
			Id:      j.Id,
			Name:    j.Name,
			State:   j.State,
			Message: j.Message,
		})
	}
	return dto
}

// -- Errors
type GeneralErrorResponseDto struct {
	Code      int            `json:"code"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Errors    []GeneralError `json:"errors"`
}

type GeneralError struct {
	Message string `json:"message"`
}

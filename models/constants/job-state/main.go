package jobState

import (
	"cohortkit/models/constants"
)

const (
	Pending   constants.JobState = "Pending"
	Queued    constants.JobState = "Queued"
	Running   constants.JobState = "Running"
	Succeeded constants.JobState = "Succeeded"
	Failed    constants.JobState = "Failed"
	Skipped   constants.JobState = "Skipped"
	Cancelled constants.JobState = "Cancelled"
)

func IsTerminal(state constants.JobState) bool {
	switch state {
	case Succeeded, Failed, Skipped, Cancelled:
		return true
	}
	return false
}

func TerminalStates() []constants.JobState {
	return []constants.JobState{Succeeded, Failed, Skipped, Cancelled}
}

package domain

// JobStatus is the persisted, client-visible lifecycle stage of a Job.
// Distinct from any collaborator-internal state (e.g. debrid torrent
// status); this is the client-visible lifecycle label.
type JobStatus string

const (
	StatusSearching   JobStatus = "searching"
	StatusDownloading JobStatus = "downloading"
	StatusProcessing  JobStatus = "processing"
	StatusCompleted   JobStatus = "completed"
	StatusError       JobStatus = "error"
)

// IsTerminal reports whether a status is a terminal state. Once a job
// reaches a terminal state no further status or streamUrl writes may apply.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// validTransitions is the adjacency list of allowed status transitions,
// following the same adjacency-list pattern used elsewhere in this
// codebase for torrent session modes, adapted to the job pipeline's states.
var validTransitions = map[JobStatus][]JobStatus{
	StatusSearching:   {StatusSearching, StatusDownloading, StatusProcessing, StatusCompleted, StatusError},
	StatusDownloading: {StatusSearching, StatusDownloading, StatusProcessing, StatusCompleted, StatusError},
	StatusProcessing:  {StatusSearching, StatusProcessing, StatusCompleted, StatusError},
	StatusCompleted:   {},
	StatusError:       {},
}

// CanTransition reports whether a status change from one job status to
// another is permitted. Terminal states accept no further transitions.
func CanTransition(from, to JobStatus) bool {
	if from == to {
		return !from.IsTerminal()
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

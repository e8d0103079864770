package todo

import "maps"

// Statistics aggregates the non-deleted records.
type Statistics struct {
	Total      int              `json:"total"`
	ByStatus   map[Status]int   `json:"byStatus"`
	ByPriority map[Priority]int `json:"byPriority"`
	// Overdue counts open records whose due date has passed.
	Overdue int `json:"overdue"`
}

// NewStatistics returns statistics with every status and priority present
// and set to zero.
func NewStatistics() Statistics {
	s := Statistics{
		ByStatus:   make(map[Status]int, len(ValidStatuses())),
		ByPriority: make(map[Priority]int, len(ValidPriorities())),
	}
	for _, status := range ValidStatuses() {
		s.ByStatus[status] = 0
	}
	for _, priority := range ValidPriorities() {
		s.ByPriority[priority] = 0
	}
	return s
}

// Clone returns a copy that does not share the count maps.
func (s Statistics) Clone() Statistics {
	out := s
	out.ByStatus = maps.Clone(s.ByStatus)
	out.ByPriority = maps.Clone(s.ByPriority)
	return out
}

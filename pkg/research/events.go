package research

// EventType discriminates the progress event union.
type EventType string

const (
	EventStatus          EventType = "status"
	EventSectionStart    EventType = "section_start"
	EventSectionComplete EventType = "section_complete"
	EventSectionError    EventType = "section_error"
	EventReportComplete  EventType = "report_complete"
	EventError           EventType = "error"
)

// Event is one progress event. It serializes as a flat object with a type
// tag; fields irrelevant to a given type are omitted. Consumers must treat
// unknown fields as forward-compatible.
//
// Events are append-only and ordered per job: once emitted they are never
// retracted, and a report_complete or error event is always terminal.
type Event struct {
	Type EventType `json:"type"`

	// status / error
	Message string `json:"message,omitempty"`

	// section_* events
	Section       string   `json:"section,omitempty"`
	SectionNumber int      `json:"section_number,omitempty"`
	TotalSections int      `json:"total_sections,omitempty"`
	Content       string   `json:"content,omitempty"`
	Sources       []string `json:"sources,omitempty"`

	// report_complete
	Report            string `json:"report,omitempty"`
	SectionsCompleted int    `json:"sections_completed,omitempty"`

	// section_error / error
	Error string `json:"error,omitempty"`

	Progress float64 `json:"progress"`
	CacheHit bool    `json:"cache_hit,omitempty"`
}

// Terminal reports whether no further events follow this one.
func (e Event) Terminal() bool {
	return e.Type == EventReportComplete || e.Type == EventError
}

package model

// Live update event types pushed to websocket subscribers.
const (
	EventReportCreated = "report_created"
	EventReportStatus  = "report_status"
	EventReportDeleted = "report_deleted"
	EventGroupStatus   = "group_status"
	EventGroupDeleted  = "group_deleted"
)

// Event is a single live update. Position is set when the change concerns one
// place, so subscribers watching a radius can filter it.
type Event struct {
	Type     string    `json:"type"`
	Data     any       `json:"data"`
	Position *Position `json:"position,omitempty"`
}

type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type GroupStatusChange struct {
	GroupID string       `json:"group_id"`
	Status  ReportStatus `json:"status"`
	Updated int64        `json:"updated"`
}

type GroupDeletion struct {
	GroupID   string  `json:"group_id"`
	ReportIDs []int64 `json:"report_ids"`
}

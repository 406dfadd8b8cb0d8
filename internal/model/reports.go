package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type ReportStatus string

const (
	StatusReported   ReportStatus = "REPORTED"
	StatusInProgress ReportStatus = "IN_PROGRESS"
	StatusCompleted  ReportStatus = "COMPLETED"
	StatusRejected   ReportStatus = "REJECTED" // not a pothole
)

// statusPriority orders statuses for group aggregation; lower wins.
var statusPriority = map[ReportStatus]int{
	StatusReported:   0,
	StatusInProgress: 1,
	StatusCompleted:  2,
	StatusRejected:   3,
}

// legacy labels used by the first dashboard forms
var statusLabels = map[string]ReportStatus{
	"접수됨":   StatusReported,
	"처리중":   StatusInProgress,
	"완료":    StatusCompleted,
	"포트홀아님": StatusRejected,
}

func (s ReportStatus) Valid() bool {
	_, ok := statusPriority[s]
	return ok
}

// Priority returns the aggregation rank of s. Unknown values rank after Rejected.
func (s ReportStatus) Priority() int {
	if p, ok := statusPriority[s]; ok {
		return p
	}
	return len(statusPriority)
}

func ParseReportStatus(raw string) (ReportStatus, error) {
	trimmed := strings.TrimSpace(raw)
	if s, ok := statusLabels[trimmed]; ok {
		return s, nil
	}
	s := ReportStatus(strings.ToUpper(strings.ReplaceAll(trimmed, "-", "_")))
	if !s.Valid() {
		return "", fmt.Errorf("unknown report status %q", raw)
	}
	return s, nil
}

type Report struct {
	ID         int64        `json:"id"`
	Latitude   float64      `json:"latitude"`
	Longitude  float64      `json:"longitude"`
	ReportedAt time.Time    `json:"reported_at"`
	ImagePath  *string      `json:"image_path"`
	Status     ReportStatus `json:"status"`
	GroupID    *string      `json:"pothole_group_id"`
}

// HasGroup reports whether r carries a non-empty group id.
func (r Report) HasGroup() bool {
	return r.GroupID != nil && *r.GroupID != ""
}

func (r Report) Group() string {
	if r.GroupID == nil {
		return ""
	}
	return *r.GroupID
}

type CreateReportRequest struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type CreateReportResponse struct {
	Filename        string `json:"filename"`
	PotholeDetected bool   `json:"pothole_detected"`
	Report          Report `json:"report"`
}

type ListReportsParams struct {
	ExcludeRejected bool
	Limit           int
	Offset          int
}

// PotholeGroup is the map-ready summary of the reports sharing one group id.
type PotholeGroup struct {
	GroupID          string       `json:"group_id"`
	Latitude         float64      `json:"latitude"`
	Longitude        float64      `json:"longitude"`
	ReportIDs        []int64      `json:"report_ids"`
	ReportCount      int          `json:"report_count"`
	LatestReportedAt time.Time    `json:"latest_reported_at"`
	Status           ReportStatus `json:"status"`
	Ungrouped        bool         `json:"ungrouped,omitempty"`
}

type DashboardGroup struct {
	GroupID  string    `json:"group_id"`
	Reports  []Report  `json:"reports"`
	Count    int       `json:"count"`
	LatestAt time.Time `json:"latest_at"`
}

type DebugView struct {
	Detected []Report `json:"detected_reports"`
	Rejected []Report `json:"rejected_reports"`
}

type DailyCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

type Stats struct {
	Total    int                  `json:"total"`
	ByStatus map[ReportStatus]int `json:"by_status"`
	PerDay   []DailyCount         `json:"per_day"`
}

// UngroupedKey addresses every report without a group id.
const UngroupedKey = "ungrouped"

const pseudoGroupPrefix = UngroupedKey + "-"

// GroupRef targets the members of a group. The zero-ID forms never collide with a
// stored group id: Ungrouped selects all reports lacking one and ReportID selects a
// single ungrouped report (the pseudo-group of aggregate-groups).
type GroupRef struct {
	ID        string
	Ungrouped bool
	ReportID  int64
}

func PseudoGroupID(reportID int64) string {
	return pseudoGroupPrefix + strconv.FormatInt(reportID, 10)
}

func ParseGroupRef(raw string) (GroupRef, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return GroupRef{}, fmt.Errorf("empty group id")
	case raw == UngroupedKey:
		return GroupRef{Ungrouped: true}, nil
	case strings.HasPrefix(raw, pseudoGroupPrefix):
		id, err := strconv.ParseInt(strings.TrimPrefix(raw, pseudoGroupPrefix), 10, 64)
		if err != nil || id <= 0 {
			return GroupRef{}, fmt.Errorf("invalid pseudo group id %q", raw)
		}
		return GroupRef{ReportID: id}, nil
	}
	return GroupRef{ID: raw}, nil
}

func (g GroupRef) String() string {
	switch {
	case g.Ungrouped:
		return UngroupedKey
	case g.ReportID != 0:
		return PseudoGroupID(g.ReportID)
	}
	return g.ID
}

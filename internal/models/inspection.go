package models

import (
	"strings"
	"time"
)

// InspectionStatus enumerates the lifecycle states of a vehicle inspection.
type InspectionStatus string

const (
	StatusPending         InspectionStatus = "pending"
	StatusAssigned        InspectionStatus = "assigned"
	StatusScheduled       InspectionStatus = "scheduled"
	StatusInProgress      InspectionStatus = "in_progress"
	StatusReportSubmitted InspectionStatus = "report_submitted"
	StatusCompleted       InspectionStatus = "completed"
	StatusCancelled       InspectionStatus = "cancelled"
)

// InspectionStatuses lists every status in lifecycle order.
var InspectionStatuses = []InspectionStatus{
	StatusPending,
	StatusAssigned,
	StatusScheduled,
	StatusInProgress,
	StatusReportSubmitted,
	StatusCompleted,
	StatusCancelled,
}

var knownStatuses = func() map[InspectionStatus]struct{} {
	set := make(map[InspectionStatus]struct{}, len(InspectionStatuses))
	for _, status := range InspectionStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// ParseInspectionStatus normalises raw input into an InspectionStatus.
func ParseInspectionStatus(raw string) (InspectionStatus, bool) {
	status := InspectionStatus(strings.ToLower(strings.TrimSpace(raw)))
	return status, status.IsValid()
}

// IsValid reports whether the status belongs to the known set.
func (s InspectionStatus) IsValid() bool {
	_, ok := knownStatuses[s]
	return ok
}

func (s InspectionStatus) String() string {
	return string(s)
}

// Inspection is the client-side snapshot of an inspection owned by the marketplace backend.
type Inspection struct {
	ID           string           `json:"id"`
	Status       InspectionStatus `json:"status"`
	VehicleID    string           `json:"vehicle_id,omitempty"`
	VehiclePlate string           `json:"vehicle_plate,omitempty"`
	PackageName  string           `json:"package_name,omitempty"`
	CustomerName string           `json:"customer_name,omitempty"`
	Address      string           `json:"address,omitempty"`
	InspectorID  string           `json:"inspector_id,omitempty"`
	Price        float64          `json:"price,omitempty"`
	ScheduledAt  *time.Time       `json:"scheduled_at,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at,omitempty"`
}

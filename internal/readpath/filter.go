package readpath

import (
	"strings"

	"github.com/charlesng35/inspectsync/internal/models"
)

// Filter narrows inspection lists. The zero value matches everything.
type Filter struct {
	Statuses    []models.InspectionStatus
	InspectorID string
	// Search is a case-insensitive substring matched against plate, customer and package.
	Search string
}

// Empty reports whether the filter matches everything.
func (f Filter) Empty() bool {
	return len(f.Statuses) == 0 && strings.TrimSpace(f.InspectorID) == "" && strings.TrimSpace(f.Search) == ""
}

// MatchStatus reports whether status passes the status part of the filter.
func (f Filter) MatchStatus(status string) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, want := range f.Statuses {
		if string(want) == status {
			return true
		}
	}
	return false
}

// Match reports whether the inspection passes every part of the filter.
func (f Filter) Match(item models.Inspection) bool {
	if !f.MatchStatus(item.Status.String()) {
		return false
	}
	if inspector := strings.TrimSpace(f.InspectorID); inspector != "" && item.InspectorID != inspector {
		return false
	}

	needle := strings.ToLower(strings.TrimSpace(f.Search))
	if needle == "" {
		return true
	}
	for _, field := range []string{item.VehiclePlate, item.CustomerName, item.PackageName} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// Apply returns the matching items, preserving order.
func (f Filter) Apply(items []models.Inspection) []models.Inspection {
	out := make([]models.Inspection, 0, len(items))
	for _, item := range items {
		if f.Match(item) {
			out = append(out, item)
		}
	}
	return out
}

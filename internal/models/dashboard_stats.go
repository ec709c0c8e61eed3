package models

// DashboardStats summarises an inspector's workload as shown on the dashboard.
type DashboardStats struct {
	TotalInspections int            `json:"total_inspections" mapstructure:"total_inspections"`
	ByStatus         map[string]int `json:"by_status" mapstructure:"by_status"`
	PendingEarnings  float64        `json:"pending_earnings" mapstructure:"pending_earnings"`
	SettledEarnings  float64        `json:"settled_earnings" mapstructure:"settled_earnings"`
	AverageRating    float64        `json:"average_rating" mapstructure:"average_rating"`
}

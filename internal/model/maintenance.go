package model

import "time"

// MaintenanceType classifies a maintenance record.
type MaintenanceType string

const (
	MaintenanceScheduled   MaintenanceType = "scheduled"
	MaintenanceUnscheduled MaintenanceType = "unscheduled"
	MaintenancePreventive  MaintenanceType = "preventive"
	MaintenanceCorrective  MaintenanceType = "corrective"
	MaintenanceInspection  MaintenanceType = "inspection"
	MaintenanceOther       MaintenanceType = "other"
)

// MaintenanceStatus is the progress of a maintenance record.
type MaintenanceStatus string

const (
	MaintenancePending    MaintenanceStatus = "pending"
	MaintenanceInProgress MaintenanceStatus = "in_progress"
	MaintenanceCompleted  MaintenanceStatus = "completed"
	MaintenanceCancelled  MaintenanceStatus = "cancelled"
)

// MaintenanceCreate is the payload for recording maintenance on a vehicle.
type MaintenanceCreate struct {
	VehicleID         string            `json:"vehicleId" validate:"required"`
	Date              time.Time         `json:"date" validate:"required"`
	Type              MaintenanceType   `json:"type" validate:"required,oneof=scheduled unscheduled preventive corrective inspection other"`
	Status            MaintenanceStatus `json:"status" validate:"required,oneof=pending in_progress completed cancelled"`
	Cost              float64           `json:"cost,omitempty" validate:"gte=0"`
	OdometerReadingKm float64           `json:"odometerReadingKm,omitempty" validate:"gte=0"`
	Description       string            `json:"description" validate:"required"`
	Notes             string            `json:"notes,omitempty"`
}

// Maintenance is a stored maintenance record.
type Maintenance struct {
	ID                string            `json:"id"`
	VehicleID         string            `json:"vehicleId"`
	Date              time.Time         `json:"date"`
	Type              MaintenanceType   `json:"type"`
	Status            MaintenanceStatus `json:"status"`
	Cost              float64           `json:"cost"`
	OdometerReadingKm float64           `json:"odometerReadingKm"`
	Description       string            `json:"description"`
	Notes             string            `json:"notes"`
	CreatedAt         string            `json:"createdAt"`
	UpdatedAt         string            `json:"updatedAt"`
}

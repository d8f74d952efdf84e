package model

import "time"

// Domain event names carried on the real-time channel.
const (
	EventVehicleTelemetryUpdated = "vehicleTelemetryUpdated"
	EventVehicleIgnitionUpdated  = "vehicleIgnitionUpdated"
	EventUserJoined              = "user_joined"
	EventUserLeft                = "user_left"
)

// TelemetryUpdate is the payload of a vehicleTelemetryUpdated event.
type TelemetryUpdate struct {
	VehicleID  string     `json:"vehicleId"`
	SpeedKm    float64    `json:"speedKm"`
	OdometerKm *float64   `json:"odometerKm,omitempty"`
	Location   *GeoPoint  `json:"location,omitempty"`
	RecordedAt *time.Time `json:"recordedAt,omitempty"`
}

// IgnitionUpdate is the payload of a vehicleIgnitionUpdated event.
type IgnitionUpdate struct {
	VehicleID    string     `json:"vehicleId"`
	IsIgnitionOn bool       `json:"isIgnitionOn"`
	RecordedAt   *time.Time `json:"recordedAt,omitempty"`
}

// PresenceEvent is the payload of user_joined and user_left.
type PresenceEvent struct {
	Room   string `json:"room"`
	User   string `json:"user,omitempty"`
	UserID string `json:"userId,omitempty"`
}

// Who returns whichever user identifier the server sent.
func (p PresenceEvent) Who() string {
	if p.User != "" {
		return p.User
	}
	return p.UserID
}

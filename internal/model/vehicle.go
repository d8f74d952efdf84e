package model

import "time"

// -----------------------------------------------------------------------------
// Enumerations
// -----------------------------------------------------------------------------

// VehicleType is the body class of a vehicle.
type VehicleType string

const (
	VehicleTypeSedan      VehicleType = "sedan"
	VehicleTypeSUV        VehicleType = "suv"
	VehicleTypeTruck      VehicleType = "truck"
	VehicleTypeVan        VehicleType = "van"
	VehicleTypeBus        VehicleType = "bus"
	VehicleTypeMotorcycle VehicleType = "motorcycle"
	VehicleTypeOther      VehicleType = "other"
)

// FuelType is the energy source of a vehicle.
type FuelType string

const (
	FuelPetrol   FuelType = "petrol"
	FuelDiesel   FuelType = "diesel"
	FuelElectric FuelType = "electric"
	FuelHybrid   FuelType = "hybrid"
	FuelCNG      FuelType = "cng"
	FuelLPG      FuelType = "lpg"
)

// TransmissionType is the gearbox kind.
type TransmissionType string

const (
	TransmissionManual    TransmissionType = "manual"
	TransmissionAutomatic TransmissionType = "automatic"
	TransmissionCVT       TransmissionType = "cvt"
	TransmissionAMT       TransmissionType = "amt"
)

// VehicleStatus is the operational status of a vehicle.
type VehicleStatus string

const (
	VehicleActive       VehicleStatus = "active"
	VehicleMaintenance  VehicleStatus = "maintenance"
	VehicleRetired      VehicleStatus = "retired"
	VehicleOutOfService VehicleStatus = "out_of_service"
)

// -----------------------------------------------------------------------------
// Records
// -----------------------------------------------------------------------------

// GeoPoint is a GeoJSON point. Coordinates are [longitude, latitude].
type GeoPoint struct {
	Type        string     `json:"type" validate:"omitempty,eq=Point"`
	Coordinates [2]float64 `json:"coordinates"`
}

// NewGeoPoint builds a GeoJSON point from a latitude/longitude pair.
func NewGeoPoint(lat, lng float64) *GeoPoint {
	return &GeoPoint{Type: "Point", Coordinates: [2]float64{lng, lat}}
}

// Lat returns the latitude.
func (p GeoPoint) Lat() float64 { return p.Coordinates[1] }

// Lng returns the longitude.
func (p GeoPoint) Lng() float64 { return p.Coordinates[0] }

// Insurance describes a vehicle's insurance policy.
type Insurance struct {
	Provider     string     `json:"provider,omitempty"`
	PolicyNumber string     `json:"policyNumber,omitempty"`
	CoverageType string     `json:"coverageType,omitempty"`
	StartDate    *time.Time `json:"startDate,omitempty"`
	EndDate      *time.Time `json:"endDate,omitempty" validate:"omitempty,gtefield=StartDate"`
	Premium      float64    `json:"premium,omitempty" validate:"gte=0"`
}

// Vehicle is a fleet vehicle as returned by the API.
type Vehicle struct {
	ID                 string    `json:"id"`
	RegistrationNumber string    `json:"registrationNumber"`
	VIN                string    `json:"vin"`
	Make               string    `json:"make"`
	VehicleModel       string    `json:"vehicleModel"`
	Year               int       `json:"year"`
	Type               string    `json:"type"`
	Color              string    `json:"color"`
	FuelType           string    `json:"fuelType"`
	EngineCapacityCC   int       `json:"engineCapacityCC"`
	Transmission       string    `json:"transmission"`
	Status             string    `json:"status"`
	CurrentOdometerKm  float64   `json:"currentOdometerKm"`
	PurchaseDate       string    `json:"purchaseDate"`
	PurchasePrice      float64   `json:"purchasePrice"`
	Insurance          Insurance `json:"insurance"`
	GPSDeviceID        string    `json:"gpsDeviceId"`
	CurrentLocation    *GeoPoint `json:"currentLocation,omitempty"`
	Notes              string    `json:"notes"`
	CreatedAt          string    `json:"createdAt"`
	UpdatedAt          string    `json:"updatedAt"`
}

// DisplayName returns a short human label, e.g. "Toyota Hilux (KA-01-1234)".
func (v Vehicle) DisplayName() string {
	name := v.Make
	if v.VehicleModel != "" {
		if name != "" {
			name += " "
		}
		name += v.VehicleModel
	}
	if v.RegistrationNumber == "" {
		return name
	}
	if name == "" {
		return v.RegistrationNumber
	}
	return name + " (" + v.RegistrationNumber + ")"
}

// VehicleCreate is the payload for creating or replacing a vehicle.
type VehicleCreate struct {
	RegistrationNumber string           `json:"registrationNumber" validate:"required"`
	VIN                string           `json:"vin" validate:"required,len=17,alphanum"`
	Make               string           `json:"make" validate:"required"`
	VehicleModel       string           `json:"vehicleModel" validate:"required"`
	Year               int              `json:"year" validate:"required,gte=1900,lte=2100"`
	Type               VehicleType      `json:"type" validate:"required,oneof=sedan suv truck van bus motorcycle other"`
	Color              string           `json:"color,omitempty"`
	FuelType           FuelType         `json:"fuelType" validate:"required,oneof=petrol diesel electric hybrid cng lpg"`
	EngineCapacityCC   int              `json:"engineCapacityCC,omitempty" validate:"gte=0"`
	Transmission       TransmissionType `json:"transmission,omitempty" validate:"omitempty,oneof=manual automatic cvt amt"`
	Status             VehicleStatus    `json:"status" validate:"required,oneof=active maintenance retired out_of_service"`
	PurchaseDate       *time.Time       `json:"purchaseDate,omitempty"`
	PurchasePrice      float64          `json:"purchasePrice,omitempty" validate:"gte=0"`
	Insurance          *Insurance       `json:"insurance,omitempty"`
	GPSDeviceID        string           `json:"gpsDeviceId,omitempty"`
	CurrentLocation    *GeoPoint        `json:"currentLocation,omitempty"`
	Notes              string           `json:"notes,omitempty"`
}

// VehicleCreated is the body returned when a vehicle is created.
type VehicleCreated struct {
	ID string `json:"id"`
}

package entity

import (
	"encoding/hex"
	"strings"
	"time"
)

const (
	CountryUnknown  = "unknown"
	CountryAustria  = "at"
	CountrySlovenia = "si"
)

type Orientation string

const (
	OrientationFront Orientation = "front"
	OrientationRear  Orientation = "rear"
)

// ParseOrientation accepts the recognizer's spelling ("Front", "rear", ...)
// and reports false for anything that is not front or rear.
func ParseOrientation(raw string) (Orientation, bool) {
	switch Orientation(strings.ToLower(strings.TrimSpace(raw))) {
	case OrientationFront:
		return OrientationFront, true
	case OrientationRear:
		return OrientationRear, true
	default:
		return "", false
	}
}

func (o Orientation) String() string {
	return string(o)
}

// RawObservation still carries the plaintext plate. It must not leave the
// detection pipeline.
type RawObservation struct {
	Plate        string
	PlateScore   int
	CountryCode  string
	Municipality *string
	VehicleType  string
	Make         string
	Model        string
	Color        string
	Orientation  *Orientation
	Timestamp    time.Time
}

type AnonymizedObservation struct {
	PlateHash    [32]byte
	PlateScore   int
	CountryCode  string
	Municipality *string
	VehicleType  string
	Make         string
	Model        string
	Color        string
	Orientation  *Orientation
	Timestamp    time.Time
}

func (o AnonymizedObservation) PlateHashHex() string {
	return hex.EncodeToString(o.PlateHash[:])
}

type PersistedObservation struct {
	ID int64
	AnonymizedObservation
}

type ObservationEvent struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	PlateHash    string    `json:"plate_hash"`
	PlateScore   int       `json:"plate_score"`
	CountryCode  string    `json:"country_code"`
	Municipality *string   `json:"municipality,omitempty"`
	VehicleType  string    `json:"vehicle_type,omitempty"`
	Make         string    `json:"make,omitempty"`
	Model        string    `json:"model,omitempty"`
	Color        string    `json:"color,omitempty"`
	Orientation  *string   `json:"orientation,omitempty"`
}

func (p PersistedObservation) Event() ObservationEvent {
	event := ObservationEvent{
		ID:           p.ID,
		Timestamp:    p.Timestamp,
		PlateHash:    p.PlateHashHex(),
		PlateScore:   p.PlateScore,
		CountryCode:  p.CountryCode,
		Municipality: p.Municipality,
		VehicleType:  p.VehicleType,
		Make:         p.Make,
		Model:        p.Model,
		Color:        p.Color,
	}
	if p.Orientation != nil {
		orientation := p.Orientation.String()
		event.Orientation = &orientation
	}
	return event
}

package vehicleService

import (
	"VehicleCollector/internal/entity"
	"crypto/sha256"
	"strings"
)

// HashPlate is SHA-256 over the trimmed, lower-cased plate.
func HashPlate(plate string) [32]byte {
	return sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(plate))))
}

// Anonymize drops the plaintext plate. Every other field is carried over.
func Anonymize(raw entity.RawObservation) entity.AnonymizedObservation {
	return entity.AnonymizedObservation{
		PlateHash:    HashPlate(raw.Plate),
		PlateScore:   raw.PlateScore,
		CountryCode:  raw.CountryCode,
		Municipality: raw.Municipality,
		VehicleType:  raw.VehicleType,
		Make:         raw.Make,
		Model:        raw.Model,
		Color:        raw.Color,
		Orientation:  raw.Orientation,
		Timestamp:    raw.Timestamp,
	}
}

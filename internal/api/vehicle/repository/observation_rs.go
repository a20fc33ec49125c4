package vehicleRepository

import (
	"VehicleCollector/internal/api/vehicle"
	"VehicleCollector/internal/entity"
	contextPkg "VehicleCollector/pkg/context"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

func (r *observationRepository) ExistsWithinWindow(c context.Context, plateHash [32]byte, detectedAt time.Time, window time.Duration) (bool, error) {
	requestID := contextPkg.GetRequestID(c)

	argsKV := map[string]interface{}{
		"plate_hash":   plateHash[:],
		"window_start": detectedAt.Add(-window),
		"detected_at":  detectedAt,
	}

	query, args, err := sqlx.Named(queryExistsWithinWindow, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("ExistsWithinWindow named query preparation err")
		return false, fmt.Errorf("%w: %v", vehicle.ErrDatabaseQuery, err)
	}
	query = r.q.Rebind(query)

	var exists bool
	if err := r.q.QueryRowxContext(c, query, args...).Scan(&exists); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Database error when checking for duplicate observation")
		return false, fmt.Errorf("%w: %v", vehicle.ErrDatabaseQuery, err)
	}

	return exists, nil
}

func (r *observationRepository) CreateObservation(c context.Context, obs entity.AnonymizedObservation) (entity.PersistedObservation, error) {
	requestID := contextPkg.GetRequestID(c)
	taskID := contextPkg.GetTaskID(c)

	argsKV := map[string]interface{}{
		"timestamp":    nullTime(obs.Timestamp),
		"plate_hash":   obs.PlateHash[:],
		"plate_score":  obs.PlateScore,
		"country_code": nullString(obs.CountryCode),
		"municipality": nullStringPtr(obs.Municipality),
		"vehicle_type": nullString(obs.VehicleType),
		"make":         nullString(obs.Make),
		"model":        nullString(obs.Model),
		"color":        nullString(obs.Color),
		"orientation":  nullOrientation(obs.Orientation),
	}

	query, args, err := sqlx.Named(queryCreateObservation, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"task_id":    taskID,
			"error":      err.Error(),
		}).Error("Failed to build SQL query for CreateObservation")
		return entity.PersistedObservation{}, fmt.Errorf("%w: %v", vehicle.ErrDatabaseQuery, err)
	}
	query = r.q.Rebind(query)

	persisted := entity.PersistedObservation{AnonymizedObservation: obs}
	if err := r.q.QueryRowxContext(c, query, args...).Scan(&persisted.ID, &persisted.Timestamp); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"task_id":    taskID,
			"error":      err.Error(),
		}).Error("Database error when creating observation")
		return entity.PersistedObservation{}, classify(err)
	}

	return persisted, nil
}

// classify maps integrity (class 23) and data (class 22) violations to
// ErrDatabaseIntegrity; everything else is a query failure.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23":
			return fmt.Errorf("%w: %s (%s)", vehicle.ErrDatabaseIntegrity, pqErr.Message, pqErr.Code)
		}
	}
	return fmt.Errorf("%w: %v", vehicle.ErrDatabaseQuery, err)
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullString(*s)
}

func nullOrientation(o *entity.Orientation) sql.NullString {
	if o == nil {
		return sql.NullString{}
	}
	return nullString(o.String())
}

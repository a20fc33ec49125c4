package vehicleRepository

const (
	queryExistsWithinWindow = `
		SELECT EXISTS (
			SELECT 1
			FROM vehicle_observations
			WHERE
				plate_hash = :plate_hash
				AND timestamp >= :window_start
				AND timestamp <= :detected_at
		)
	`

	queryCreateObservation = `
		INSERT INTO vehicle_observations (
			timestamp,
			plate_hash,
			plate_score,
			country_code,
			municipality,
			vehicle_type,
			make,
			model,
			color,
			orientation
		) VALUES (
			COALESCE(CAST(:timestamp AS timestamptz), now()),
			:plate_hash,
			:plate_score,
			:country_code,
			:municipality,
			:vehicle_type,
			:make,
			:model,
			:color,
			CAST(:orientation AS vehicle_orientation)
		)
		RETURNING id, timestamp
	`
)

package vehicle

import "VehicleCollector/pkg/response"

var (
	ErrInvalidCredentials  = response.NewError(401, "incorrect username or password")
	ErrBadRequest          = response.NewError(400, "invalid request body")
	ErrDispatchUnavailable = response.NewError(503, "detection processing unavailable")
	ErrDatabaseQuery       = response.NewError(500, "database query failed")
	ErrDatabaseIntegrity   = response.NewError(500, "database integrity violation")
)

package entity

import "time"

type Camera struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Enabled    bool   `json:"enabled"`
	Model      string `json:"model"`
	Vendor     string `json:"vendor"`
	Status     int    `json:"status"`
	Resolution string `json:"resolution"`
	IP         string `json:"ip"`
}

type Detection struct {
	TaskID     string
	CameraName string
	DetectedAt time.Time
}

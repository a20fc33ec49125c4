package vehicle

type VehicleDetectionRequest struct {
	Camera string `json:"camera" validate:"required,max=50"`
}

type VehicleDetectionResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

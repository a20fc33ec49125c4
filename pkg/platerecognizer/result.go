package platerecognizer

import (
	"VehicleCollector/internal/entity"
	"math"
	"strings"
	"time"
)

type Result struct {
	ProcessingTime float64       `json:"processing_time"`
	Timestamp      string        `json:"timestamp"`
	CameraID       string        `json:"camera_id"`
	Results        []PlateResult `json:"results"`
}

type PlateResult struct {
	Plate       string        `json:"plate"`
	Score       float64       `json:"score"`
	DScore      float64       `json:"dscore"`
	Box         Box           `json:"box"`
	Region      Region        `json:"region"`
	Vehicle     Vehicle       `json:"vehicle"`
	Candidates  []Candidate   `json:"candidates"`
	ModelMake   []ModelMake   `json:"model_make"`
	Color       []Color       `json:"color"`
	Orientation []Orientation `json:"orientation"`
}

type Box struct {
	XMin int `json:"xmin"`
	YMin int `json:"ymin"`
	XMax int `json:"xmax"`
	YMax int `json:"ymax"`
}

type Region struct {
	Code  string  `json:"code"`
	Score float64 `json:"score"`
}

type Vehicle struct {
	Type  string  `json:"type"`
	Score float64 `json:"score"`
}

type Candidate struct {
	Plate string  `json:"plate"`
	Score float64 `json:"score"`
}

type ModelMake struct {
	Make  string  `json:"make"`
	Model string  `json:"model"`
	Score float64 `json:"score"`
}

type Color struct {
	Color string  `json:"color"`
	Score float64 `json:"score"`
}

type Orientation struct {
	Orientation string  `json:"orientation"`
	Score       float64 `json:"score"`
}

// ToObservations turns every recognized plate into a raw observation
// stamped with the detection time.
func ToObservations(result *Result, detectedAt time.Time) []entity.RawObservation {
	if result == nil || len(result.Results) == 0 {
		return nil
	}

	observations := make([]entity.RawObservation, 0, len(result.Results))
	for _, r := range result.Results {
		obs := entity.RawObservation{
			Plate:       r.Plate,
			PlateScore:  plateScore(r),
			CountryCode: strings.ToLower(strings.TrimSpace(r.Region.Code)),
			VehicleType: r.Vehicle.Type,
			Timestamp:   detectedAt,
		}
		if obs.CountryCode == "" {
			obs.CountryCode = entity.CountryUnknown
		}
		if len(r.ModelMake) > 0 {
			obs.Make = r.ModelMake[0].Make
			obs.Model = r.ModelMake[0].Model
		}
		if len(r.Color) > 0 {
			obs.Color = r.Color[0].Color
		}
		if len(r.Orientation) > 0 {
			if o, ok := entity.ParseOrientation(r.Orientation[0].Orientation); ok {
				obs.Orientation = &o
			}
		}

		observations = append(observations, obs)
	}

	return observations
}

func plateScore(r PlateResult) int {
	score := r.Score
	if len(r.Candidates) > 0 {
		score = r.Candidates[0].Score
	}
	return int(math.Round(score * 1000))
}

package vehicleService

import (
	vehicleRepository "VehicleCollector/internal/api/vehicle/repository"
	"VehicleCollector/internal/entity"
	contextPkg "VehicleCollector/pkg/context"
	"VehicleCollector/pkg/platerecognizer"
	"VehicleCollector/pkg/s3"
	"VehicleCollector/pkg/synology"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

type Stage string

const (
	StageReceived         Stage = "received"
	StageAuthenticated    Stage = "authenticated"
	StageSnapshotCaptured Stage = "snapshot_captured"
	StageRecognized       Stage = "recognized"
	StageCorrected        Stage = "corrected"
	StageAnonymized       Stage = "anonymized"
	StageChecked          Stage = "checked"
	StagePersisted        Stage = "persisted"
	StageSkippedDuplicate Stage = "skipped_duplicate"
	StageDone             Stage = "done"
	StageFailed           Stage = "failed"
)

// Report describes how one detection ended. FailedAt is the last stage
// reached before the failure.
type Report struct {
	TaskID    string
	Camera    string
	Stage     Stage
	FailedAt  Stage
	Plates    int
	Persisted []entity.PersistedObservation
	Skipped   int
}

func (s *vehicleService) ProcessDetection(ctx context.Context, detection entity.Detection) (Report, error) {
	report := Report{
		TaskID: detection.TaskID,
		Camera: detection.CameraName,
	}
	ctx = contextPkg.WithTaskID(ctx, detection.TaskID)

	s.transition(ctx, &report, StageReceived, nil)

	sid, err := s.camera.Authenticate(ctx, s.cfg.SynologyHost, s.cfg.SynologyUsername, s.cfg.SynologyPassword)
	if err != nil {
		return s.fail(ctx, &report, err)
	}
	s.transition(ctx, &report, StageAuthenticated, nil)

	cameras, err := s.camera.ListCameras(ctx, s.cfg.SynologyHost, sid)
	if err != nil {
		return s.fail(ctx, &report, err)
	}
	if len(cameras) == 0 {
		return s.fail(ctx, &report, fmt.Errorf("%w: no cameras found", synology.ErrCameraData))
	}

	camera, err := synology.FindCamera(cameras, detection.CameraName)
	if err != nil {
		return s.fail(ctx, &report, err)
	}

	frame, err := s.camera.GetSnapshot(ctx, s.cfg.SynologyHost, sid, camera)
	if err != nil {
		return s.fail(ctx, &report, err)
	}
	s.transition(ctx, &report, StageSnapshotCaptured, logrus.Fields{
		"camera_id": camera.ID,
		"bytes":     len(frame),
	})

	s.archiveSnapshot(ctx, detection, frame)

	result, err := s.recognizer.Analyze(ctx, frame, camera.Name)
	if err != nil {
		return s.fail(ctx, &report, err)
	}

	observations := platerecognizer.ToObservations(result, detection.DetectedAt)
	report.Plates = len(observations)
	s.transition(ctx, &report, StageRecognized, logrus.Fields{
		"plates": len(observations),
	})

	if len(observations) == 0 {
		s.log.WithFields(logrus.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"task_id":    detection.TaskID,
		}).Info("No vehicle observations found in recognition result")
		s.transition(ctx, &report, StageDone, nil)
		return report, nil
	}

	repo, err := s.vehicleRepository.NewClient(false)
	if err != nil {
		return s.fail(ctx, &report, err)
	}

	for i := range observations {
		if err := s.processPlate(ctx, &report, repo, observations[i], detection.DetectedAt); err != nil {
			return s.fail(ctx, &report, err)
		}
	}

	s.transition(ctx, &report, StageDone, logrus.Fields{
		"persisted": len(report.Persisted),
		"skipped":   report.Skipped,
	})
	return report, nil
}

// processPlate runs one recognized plate through correction, anonymization,
// deduplication and persistence. The plate lock spans the check and the
// insert so concurrent detections of the same vehicle cannot both persist.
func (s *vehicleService) processPlate(
	ctx context.Context,
	report *Report,
	repo vehicleRepository.Client,
	raw entity.RawObservation,
	detectedAt time.Time,
) error {
	s.log.WithFields(logrus.Fields{
		"request_id": contextPkg.GetRequestID(ctx),
		"task_id":    report.TaskID,
		"plate":      raw.Plate,
		"country":    raw.CountryCode,
	}).Debug("Processing recognized plate")

	s.corrector.Correct(&raw)
	s.transition(ctx, report, StageCorrected, logrus.Fields{
		"country":      raw.CountryCode,
		"municipality": deref(raw.Municipality),
	})

	obs := Anonymize(raw)
	hashHex := obs.PlateHashHex()
	s.transition(ctx, report, StageAnonymized, logrus.Fields{
		"plate_hash": hashHex,
	})

	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.DedupLockTTL)
	release, err := s.locker.Acquire(lockCtx, hashHex, s.cfg.DedupLockTTL)
	cancel()
	if err != nil {
		return fmt.Errorf("acquire dedup lock: %w", err)
	}
	defer func() {
		// The task context may already be cancelled; the key must still go.
		releaseCtx, cancel := context.WithTimeout(context.Background(), s.cfg.DedupLockTTL)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			s.log.WithFields(logrus.Fields{
				"request_id": contextPkg.GetRequestID(ctx),
				"task_id":    report.TaskID,
				"plate_hash": hashHex,
				"error":      err.Error(),
			}).Warn("Failed to release dedup lock")
		}
	}()

	duplicate, err := repo.Observation.ExistsWithinWindow(ctx, obs.PlateHash, detectedAt, s.cfg.DedupWindow)
	if err != nil {
		return err
	}
	s.transition(ctx, report, StageChecked, logrus.Fields{
		"plate_hash": hashHex,
		"duplicate":  duplicate,
	})

	if duplicate {
		report.Skipped++
		s.transition(ctx, report, StageSkippedDuplicate, logrus.Fields{
			"plate_hash": hashHex,
			"window":     s.cfg.DedupWindow.String(),
		})
		return nil
	}

	persisted, err := repo.Observation.CreateObservation(ctx, obs)
	if err != nil {
		return err
	}
	report.Persisted = append(report.Persisted, persisted)
	s.transition(ctx, report, StagePersisted, logrus.Fields{
		"plate_hash":     hashHex,
		"observation_id": persisted.ID,
	})

	if s.feed != nil {
		s.feed.Publish(persisted.Event())
	}

	return nil
}

func (s *vehicleService) archiveSnapshot(ctx context.Context, detection entity.Detection, frame []byte) {
	if s.archive == nil {
		return
	}

	key := s3.SnapshotKey(detection.CameraName, detection.DetectedAt, detection.TaskID)
	location, err := s.archive.UploadSnapshot(ctx, key, frame)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"task_id":    detection.TaskID,
			"key":        key,
			"error":      err.Error(),
		}).Warn("Failed to archive snapshot")
		return
	}

	s.log.WithFields(logrus.Fields{
		"request_id": contextPkg.GetRequestID(ctx),
		"task_id":    detection.TaskID,
		"location":   location,
	}).Debug("Snapshot archived")
}

func (s *vehicleService) transition(ctx context.Context, report *Report, stage Stage, fields logrus.Fields) {
	report.Stage = stage

	entry := s.log.WithFields(logrus.Fields{
		"request_id": contextPkg.GetRequestID(ctx),
		"task_id":    report.TaskID,
		"camera":     report.Camera,
		"stage":      string(stage),
	})
	if fields != nil {
		entry = entry.WithFields(fields)
	}

	switch stage {
	case StageReceived, StageDone, StagePersisted, StageSkippedDuplicate:
		entry.Info("Detection stage reached")
	default:
		entry.Debug("Detection stage reached")
	}
}

func (s *vehicleService) fail(ctx context.Context, report *Report, err error) (Report, error) {
	report.FailedAt = report.Stage
	report.Stage = StageFailed

	s.log.WithFields(logrus.Fields{
		"request_id": contextPkg.GetRequestID(ctx),
		"task_id":    report.TaskID,
		"camera":     report.Camera,
		"stage":      string(StageFailed),
		"failed_at":  string(report.FailedAt),
		"error":      err.Error(),
	}).Error("Detection processing failed")

	return *report, err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

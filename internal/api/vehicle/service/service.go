package vehicleService

import (
	vehicleRepository "VehicleCollector/internal/api/vehicle/repository"
	"VehicleCollector/internal/entity"
	"VehicleCollector/pkg/platerecognizer"
	"VehicleCollector/pkg/redis"
	"VehicleCollector/pkg/s3"
	"VehicleCollector/pkg/synology"
	websocketPkg "VehicleCollector/pkg/websocket"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

type IVehicleService interface {
	ProcessDetection(ctx context.Context, detection entity.Detection) (Report, error)
}

type ICorrector interface {
	Correct(obs *entity.RawObservation)
}

type Config struct {
	SynologyHost     string
	SynologyUsername string
	SynologyPassword string

	DedupWindow  time.Duration
	DedupLockTTL time.Duration
}

type vehicleService struct {
	log               *logrus.Logger
	vehicleRepository vehicleRepository.Repository
	camera            synology.ICamera
	recognizer        platerecognizer.IRecognizer
	corrector         ICorrector
	locker            redis.ILocker
	feed              websocketPkg.IHub
	archive           s3.ItfS3
	cfg               Config
}

// NewVehicleService wires the detection pipeline. archive may be nil, in
// which case snapshots are not kept.
func NewVehicleService(
	log *logrus.Logger,
	vr vehicleRepository.Repository,
	camera synology.ICamera,
	recognizer platerecognizer.IRecognizer,
	corrector ICorrector,
	locker redis.ILocker,
	feed websocketPkg.IHub,
	archive s3.ItfS3,
	cfg Config,
) IVehicleService {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = time.Minute
	}
	if cfg.DedupLockTTL <= 0 {
		cfg.DedupLockTTL = 10 * time.Second
	}
	if locker == nil {
		locker = redis.NewNoop()
	}

	return &vehicleService{
		log:               log,
		vehicleRepository: vr,
		camera:            camera,
		recognizer:        recognizer,
		corrector:         corrector,
		locker:            locker,
		feed:              feed,
		archive:           archive,
		cfg:               cfg,
	}
}

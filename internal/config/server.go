package config

import (
	vehicleHandler "VehicleCollector/internal/api/vehicle/handler"
	vehicleRepository "VehicleCollector/internal/api/vehicle/repository"
	vehicleService "VehicleCollector/internal/api/vehicle/service"
	"VehicleCollector/internal/middleware"
	"VehicleCollector/pkg/bcrypt"
	"VehicleCollector/pkg/platerecognizer"
	"VehicleCollector/pkg/redis"
	"VehicleCollector/pkg/region"
	"VehicleCollector/pkg/s3"
	"VehicleCollector/pkg/synology"
	"VehicleCollector/pkg/utils"
	websocketPkg "VehicleCollector/pkg/websocket"
	"VehicleCollector/pkg/worker"
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type ServerOption func(*Server) error

type Server struct {
	engine      *fiber.App
	env         *Env
	db          *sqlx.DB
	log         *logrus.Logger
	middleware  middleware.Middleware
	validator   *validator.Validate
	utils       utils.IUtils
	bcryptUtils bcrypt.IBcrypt
	handlers    []handler
	locker      redis.ILocker
	camera      synology.ICamera
	recognizer  platerecognizer.IRecognizer
	regions     *region.Table
	dispatcher  worker.IDispatcher
	feed        websocketPkg.IHub
	s3Client    s3.ItfS3
}

type handler interface {
	Start(srv fiber.Router)
}

func NewServer(options ...ServerOption) (*Server, error) {
	server := &Server{}

	for _, option := range options {
		if err := option(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.engine == nil {
		return nil, fmt.Errorf("fiber app is required")
	}
	if server.log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if server.env == nil {
		return nil, fmt.Errorf("environment is required")
	}

	return server, nil
}

func WithFiber(fiberApp *fiber.App) ServerOption {
	return func(s *Server) error {
		s.engine = fiberApp
		return nil
	}
}

func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

func WithEnv(env *Env) ServerOption {
	return func(s *Server) error {
		s.env = env
		return nil
	}
}

func WithValidator(validator *validator.Validate) ServerOption {
	return func(s *Server) error {
		s.validator = validator
		return nil
	}
}

// WithDatabase uses an already opened connection.
func WithDatabase(db *sqlx.DB) ServerOption {
	return func(s *Server) error {
		if db == nil {
			return fmt.Errorf("database connection is required")
		}
		s.db = db
		return nil
	}
}

func WithRedisLocker() ServerOption {
	return func(s *Server) error {
		if s.env == nil || s.log == nil {
			return fmt.Errorf("environment and logger must be initialized before redis")
		}
		if s.env.RedisAddress == "" {
			s.log.Warn("REDIS_ADDRESS not set, concurrent detections of the same plate are not serialized")
			s.locker = redis.NewNoop()
			return nil
		}
		s.locker = redis.New(redis.Options{
			Address:  s.env.RedisAddress,
			Password: s.env.RedisPassword,
			DB:       s.env.RedisDB,
		})
		return nil
	}
}

func WithCamera(camera synology.ICamera) ServerOption {
	return func(s *Server) error {
		s.camera = camera
		return nil
	}
}

func WithRecognizer(recognizer platerecognizer.IRecognizer) ServerOption {
	return func(s *Server) error {
		s.recognizer = recognizer
		return nil
	}
}

func WithRegionTable() ServerOption {
	return func(s *Server) error {
		if s.env == nil {
			return fmt.Errorf("environment must be loaded before region table")
		}
		table, err := region.LoadTable(s.env.MunicipalitiesFile)
		if err != nil {
			if s.log != nil {
				s.log.Errorf("Failed to load municipalities: %v", err)
			}
			return fmt.Errorf("failed to load region table: %w", err)
		}
		s.regions = table
		return nil
	}
}

func WithDispatcher(dispatcher worker.IDispatcher) ServerOption {
	return func(s *Server) error {
		s.dispatcher = dispatcher
		return nil
	}
}

func WithFeed(feed websocketPkg.IHub) ServerOption {
	return func(s *Server) error {
		s.feed = feed
		return nil
	}
}

// WithS3Client enables the snapshot archive when SAVE_IMAGES_FOR_DEBUG is
// set together with a bucket.
func WithS3Client() ServerOption {
	return func(s *Server) error {
		if s.env == nil {
			return fmt.Errorf("environment must be loaded before S3 client")
		}
		if !s.env.ArchiveEnabled() {
			return nil
		}
		client, err := s3.New(s3.Options{
			Region:          s.env.AWSRegion,
			AccessKeyID:     s.env.AWSAccessKeyID,
			SecretAccessKey: s.env.AWSSecretAccessKey,
			Bucket:          s.env.AWSBucketName,
		})
		if err != nil {
			if s.log != nil {
				s.log.Errorf("Failed to initialize S3 client: %v", err)
			}
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		s.s3Client = client
		return nil
	}
}

func WithMiddleware() ServerOption {
	return func(s *Server) error {
		if s.log == nil || s.env == nil {
			return fmt.Errorf("logger and environment must be initialized before middleware")
		}
		if s.bcryptUtils == nil {
			s.bcryptUtils = bcrypt.New()
		}

		creds, err := webhookCredentials(s.env, s.bcryptUtils)
		if err != nil {
			return err
		}

		s.middleware = middleware.New(s.log, s.bcryptUtils, middleware.Options{
			RateLimit:   rate.Limit(s.env.RateLimit),
			Burst:       s.env.RateBurst,
			Credentials: creds,
		})
		return nil
	}
}

func WithUtils() ServerOption {
	return func(s *Server) error {
		s.utils = utils.New()
		return nil
	}
}

func WithBcryptUtils() ServerOption {
	return func(s *Server) error {
		s.bcryptUtils = bcrypt.New()
		return nil
	}
}

// webhookCredentials prefers the dedicated webhook account and falls back
// to the camera-system account when none is configured.
func webhookCredentials(env *Env, hasher bcrypt.IBcrypt) (middleware.Credentials, error) {
	if env.WebhookUsername != "" || env.WebhookPasswordHash != "" {
		if env.WebhookUsername == "" || env.WebhookPasswordHash == "" {
			return middleware.Credentials{}, errors.New("WEBHOOK_USERNAME and WEBHOOK_PASSWORD_HASH must be set together")
		}
		if err := hasher.ValidateHash(env.WebhookPasswordHash); err != nil {
			return middleware.Credentials{}, fmt.Errorf("WEBHOOK_PASSWORD_HASH: %w", err)
		}
		return middleware.Credentials{
			Username:     env.WebhookUsername,
			PasswordHash: env.WebhookPasswordHash,
		}, nil
	}

	return middleware.Credentials{
		Username: env.SynologyUsername,
		Password: env.SynologyPassword,
	}, nil
}

func (s *Server) RegisterHandler() {
	// Vehicle Domain
	vehicleRepo := vehicleRepository.New(s.db, s.log)
	corrector := region.NewCorrector(s.regions, s.log)
	vehicleServices := vehicleService.NewVehicleService(
		s.log,
		vehicleRepo,
		s.camera,
		s.recognizer,
		corrector,
		s.locker,
		s.feed,
		s.s3Client,
		vehicleService.Config{
			SynologyHost:     s.env.SynologyHost,
			SynologyUsername: s.env.SynologyUsername,
			SynologyPassword: s.env.SynologyPassword,
			DedupWindow:      s.env.DedupWindow,
			DedupLockTTL:     s.env.DedupLockTTL,
		},
	)
	vehicleHandlers := vehicleHandler.New(s.log, s.validator, s.middleware, vehicleServices, s.dispatcher, s.feed, s.utils)

	s.setupHealthCheck()
	s.handlers = append(s.handlers, vehicleHandlers)
}

func (s *Server) mount() {
	s.engine.Use(s.middleware.NewRequestIDMiddleware())
	s.engine.Use(s.middleware.NewLoggingMiddleware)

	for _, h := range s.handlers {
		h.Start(s.engine)
	}
}

func (s *Server) Run() error {
	s.mount()

	return s.engine.Listen(fmt.Sprintf(":%s", s.env.AppPort))
}

// Shutdown stops accepting webhooks, then lets in-flight detections finish
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if err := s.engine.ShutdownWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("dispatcher: %w", err))
		}
	}
	if s.feed != nil {
		s.feed.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (s *Server) setupHealthCheck() {
	s.engine.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{
			"message": "Server is Healthy!",
		})
	})
}

package config

import (
	"VehicleCollector/database/postgres"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// DefaultRecognizerURL is the hosted plate reader endpoint.
const DefaultRecognizerURL = "https://api.platerecognizer.com/v1/plate-reader/"

// Env holds every setting the collector reads from the environment.
type Env struct {
	AppPort string `env:"APP_PORT" envDefault:"3000"`
	AppEnv  string `env:"APP_ENV" envDefault:"development"`

	Database postgres.Config

	RedisAddress  string `env:"REDIS_ADDRESS"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0" validate:"gte=0"`

	DedupWindow  time.Duration `env:"DEDUP_WINDOW" envDefault:"60s" validate:"gt=0"`
	DedupLockTTL time.Duration `env:"DEDUP_LOCK_TTL" envDefault:"10s" validate:"gt=0"`

	SynologyHost        string        `env:"SYNOLOGY_HOST,notEmpty" validate:"url"`
	SynologyUsername    string        `env:"SYNOLOGY_USERNAME,notEmpty"`
	SynologyPassword    string        `env:"SYNOLOGY_PASSWORD,notEmpty"`
	SynologyInsecureTLS bool          `env:"SYNOLOGY_INSECURE_TLS" envDefault:"false"`
	CameraTimeout       time.Duration `env:"CAMERA_TIMEOUT" envDefault:"10s" validate:"gt=0"`

	RecognizerURL         string        `env:"RECOGNIZER_URL" envDefault:"https://api.platerecognizer.com/v1/plate-reader/" validate:"url"`
	RecognizerAPIKey      string        `env:"RECOGNIZER_API_KEY" validate:"required"`
	LegacyAPIKey          string        `env:"API_KEY"`
	RecognizerAuthScheme  string        `env:"RECOGNIZER_AUTH_SCHEME" envDefault:"Bearer" validate:"required"`
	RecognizerRegions     []string      `env:"RECOGNIZER_REGIONS" envDefault:"at,si" envSeparator:","`
	RecognizerMMC         bool          `env:"RECOGNIZER_MMC" envDefault:"true"`
	RecognizerDirection   bool          `env:"RECOGNIZER_DIRECTION" envDefault:"true"`
	RecognizerMaxAttempts int           `env:"RECOGNIZER_MAX_ATTEMPTS" envDefault:"5" validate:"gte=1"`
	RecognizerRetryDelay  time.Duration `env:"RECOGNIZER_RETRY_DELAY" envDefault:"1s" validate:"gte=0"`
	RecognizerTimeout     time.Duration `env:"RECOGNIZER_TIMEOUT" envDefault:"15s" validate:"gt=0"`

	MunicipalitiesFile string `env:"MUNICIPALITIES_JSON_FILE"`

	WebhookUsername     string  `env:"WEBHOOK_USERNAME"`
	WebhookPasswordHash string  `env:"WEBHOOK_PASSWORD_HASH"`
	RateLimit           float64 `env:"WEBHOOK_RATE_LIMIT" envDefault:"50" validate:"gt=0"`
	RateBurst           int     `env:"WEBHOOK_RATE_BURST" envDefault:"100" validate:"gt=0"`

	// 0 starts every detection at once.
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"0" validate:"gte=0"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s" validate:"gt=0"`

	SaveImagesForDebug bool   `env:"SAVE_IMAGES_FOR_DEBUG" envDefault:"false"`
	AWSRegion          string `env:"AWS_REGION"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	AWSBucketName      string `env:"AWS_BUCKET_NAME"`
}

// LoadEnv reads the process environment. Missing required settings,
// malformed values and out-of-range numbers are reported together.
func LoadEnv() (*Env, error) {
	cfg := &Env{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.normalize()

	if err := envValidator().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	return cfg, nil
}

// ArchiveEnabled reports whether snapshots should be uploaded to S3.
func (e *Env) ArchiveEnabled() bool {
	return e.SaveImagesForDebug && e.AWSBucketName != ""
}

func (e *Env) normalize() {
	e.SynologyHost = strings.TrimRight(strings.TrimSpace(e.SynologyHost), "/")
	if e.RecognizerAPIKey == "" {
		e.RecognizerAPIKey = e.LegacyAPIKey
	}

	regions := e.RecognizerRegions[:0]
	for _, region := range e.RecognizerRegions {
		if region = strings.TrimSpace(region); region != "" {
			regions = append(regions, region)
		}
	}
	e.RecognizerRegions = regions
}

// envValidator names fields by their variable so errors point at the
// setting to fix.
func envValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("env"), ",", 2)[0]
		if name == "" {
			return field.Name
		}
		return name
	})
	return validate
}

package middleware

import (
	"VehicleCollector/pkg/bcrypt"
	"VehicleCollector/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type Middleware interface {
	NewRateLimiter(ctx *fiber.Ctx) error
	NewBasicAuth() fiber.Handler
	NewRequestIDMiddleware() fiber.Handler
	NewLoggingMiddleware(ctx *fiber.Ctx) error
	GetRequestID(ctx *fiber.Ctx) string
}

type Options struct {
	RateLimit rate.Limit
	Burst     int

	Credentials Credentials
}

type middleware struct {
	basicAuth           fiber.Handler
	rateLimitter        *rateLimiter
	loggingMiddleware   *loggingMiddleware
	requestIDMiddleware fiber.Handler
	log                 *logrus.Logger
}

func New(logger *logrus.Logger, hasher bcrypt.IBcrypt, opts Options) Middleware {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 50
	}
	if opts.Burst <= 0 {
		opts.Burst = 100
	}

	rateLimit := newRateLimiter(opts.RateLimit, opts.Burst)
	basicAuth := newBasicAuth(logger, hasher, utils.New(), opts.Credentials)
	logging := newLoggingMiddleware(logger)
	requestID := NewRequestIDMiddleware()

	return &middleware{
		basicAuth:           basicAuth,
		rateLimitter:        rateLimit,
		loggingMiddleware:   logging,
		requestIDMiddleware: requestID,
		log:                 logger,
	}
}

func (m *middleware) GetRequestID(ctx *fiber.Ctx) string {
	requestID, ok := ctx.Locals(RequestIDKey).(string)
	if !ok || requestID == "" {
		return "unknown"
	}
	return requestID
}

func (m *middleware) NewRequestIDMiddleware() fiber.Handler {
	return m.requestIDMiddleware
}

func (m *middleware) NewBasicAuth() fiber.Handler {
	return m.basicAuth
}

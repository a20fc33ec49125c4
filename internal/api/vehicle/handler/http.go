package vehicleHandler

import (
	vehicleService "VehicleCollector/internal/api/vehicle/service"
	"VehicleCollector/internal/middleware"
	"VehicleCollector/pkg/utils"
	websocketPkg "VehicleCollector/pkg/websocket"
	"VehicleCollector/pkg/worker"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

type VehicleHandler struct {
	log            *logrus.Logger
	validator      *validator.Validate
	middleware     middleware.Middleware
	vehicleService vehicleService.IVehicleService
	dispatcher     worker.IDispatcher
	feed           websocketPkg.IHub
	utils          utils.IUtils
}

func New(
	log *logrus.Logger,
	validator *validator.Validate,
	middleware middleware.Middleware,
	vs vehicleService.IVehicleService,
	dispatcher worker.IDispatcher,
	feed websocketPkg.IHub,
	utils utils.IUtils,
) *VehicleHandler {
	return &VehicleHandler{
		log:            log,
		validator:      validator,
		middleware:     middleware,
		vehicleService: vs,
		dispatcher:     dispatcher,
		feed:           feed,
		utils:          utils,
	}
}

func (h *VehicleHandler) Start(srv fiber.Router) {
	wsMiddleware := func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}

	api := srv.Group("/api")
	api.Post("/vehicle_detected", h.middleware.NewRateLimiter, h.middleware.NewBasicAuth(), h.VehicleDetected)

	observations := api.Group("/observations", h.middleware.NewBasicAuth())
	observations.Use("/ws", wsMiddleware)
	observations.Get("/ws", websocket.New(h.streamObservations))
}

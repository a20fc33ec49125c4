package vehicleHandler

import (
	"VehicleCollector/internal/api/vehicle"
	"VehicleCollector/internal/entity"
	contextPkg "VehicleCollector/pkg/context"
	"VehicleCollector/pkg/handlerUtil"
	"VehicleCollector/pkg/log"
	"VehicleCollector/pkg/worker"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/net/context"
)

// VehicleDetected accepts a camera event and hands it to the dispatcher.
// The caller only learns that the event was accepted.
func (h *VehicleHandler) VehicleDetected(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	errHandler := handlerUtil.New(h.log)
	now := time.Now()

	var req vehicle.VehicleDetectionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errHandler.Handle(ctx, requestID, fmt.Errorf("%w: %v", vehicle.ErrBadRequest, err), ctx.Path(), "parse_request_body")
	}

	if err := h.validator.Struct(req); err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	taskID, err := h.utils.NewULIDFromTimestamp(now)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "generate_task_id")
	}

	detection := entity.Detection{
		TaskID:     taskID,
		CameraName: req.Camera,
		DetectedAt: now,
	}

	err = h.dispatcher.Dispatch(worker.Task{
		ID:  taskID,
		Ctx: contextPkg.FromFiberCtx(ctx),
		Run: func(c context.Context) error {
			_, err := h.vehicleService.ProcessDetection(c, detection)
			return err
		},
	})
	if err != nil {
		return errHandler.Handle(ctx, requestID, fmt.Errorf("%w: %v", vehicle.ErrDispatchUnavailable, err), ctx.Path(), "dispatch_detection")
	}

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"task_id":    taskID,
		"camera":     req.Camera,
	}).Info("Vehicle detection accepted")

	return errHandler.HandleSuccess(ctx, fiber.StatusAccepted, vehicle.VehicleDetectionResponse{
		Status:    "accepted",
		Timestamp: h.utils.FormatDetectionTimestamp(now),
	})
}

package context

import (
	"context"
	"github.com/gofiber/fiber/v2"
)

const (
	RequestIDKey = "request_id"
	TaskIDKey    = "task_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	requestID, ok := ctx.Value(RequestIDKey).(string)
	if !ok || requestID == "" {
		return "unknown"
	}
	return requestID
}

func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, TaskIDKey, taskID)
}

func GetTaskID(ctx context.Context) string {
	taskID, ok := ctx.Value(TaskIDKey).(string)
	if !ok || taskID == "" {
		return "unknown"
	}
	return taskID
}

// FromFiberCtx builds a context that outlives the request. Work scheduled
// from a handler must not inherit the fasthttp request lifetime.
func FromFiberCtx(c *fiber.Ctx) context.Context {
	ctx := context.Background()

	requestID, ok := c.Locals("X-Request-ID").(string)
	if !ok || requestID == "" {
		requestID = c.Get("X-Request-ID")

		if requestID == "" {
			requestID = "unknown"
		}
	}

	return WithRequestID(ctx, requestID)
}

package vehicleHandler

import (
	vehicleService "VehicleCollector/internal/api/vehicle/service"
	"VehicleCollector/internal/entity"
	"VehicleCollector/internal/middleware"
	"VehicleCollector/pkg/bcrypt"
	contextPkg "VehicleCollector/pkg/context"
	"VehicleCollector/pkg/utils"
	websocketPkg "VehicleCollector/pkg/websocket"
	"VehicleCollector/pkg/worker"
	"context"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	gorillaws "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu         sync.Mutex
	detections []entity.Detection
	requestIDs []string
}

func (f *fakeService) ProcessDetection(ctx context.Context, detection entity.Detection) (vehicleService.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detections = append(f.detections, detection)
	f.requestIDs = append(f.requestIDs, contextPkg.GetRequestID(ctx))
	return vehicleService.Report{TaskID: detection.TaskID, Stage: vehicleService.StageDone}, nil
}

// inlineDispatcher runs tasks on the calling goroutine so assertions can
// follow the request directly.
type inlineDispatcher struct {
	err   error
	tasks []worker.Task
}

func (d *inlineDispatcher) Dispatch(task worker.Task) error {
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, task)
	return task.Run(task.Ctx)
}

func (d *inlineDispatcher) Shutdown(context.Context) error { return nil }

type fixture struct {
	app        *fiber.App
	service    *fakeService
	dispatcher *inlineDispatcher
	feed       websocketPkg.IHub
}

func newFixture(t *testing.T, opts middleware.Options) *fixture {
	t.Helper()

	logger, _ := test.NewNullLogger()
	if opts.Credentials == (middleware.Credentials{}) {
		opts.Credentials = middleware.Credentials{Username: "cam", Password: "secret"}
	}
	m := middleware.New(logger, bcrypt.NewWithCost(4), opts)

	f := &fixture{
		app:        fiber.New(fiber.Config{DisableStartupMessage: true}),
		service:    &fakeService{},
		dispatcher: &inlineDispatcher{},
		feed:       websocketPkg.NewHub(logger, 4),
	}
	t.Cleanup(f.feed.Close)

	f.app.Use(m.NewRequestIDMiddleware())
	New(logger, validator.New(), m, f.service, f.dispatcher, f.feed, utils.New()).Start(f.app)

	return f
}

func basicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func detectionRequest(body string, authorized bool) *http.Request {
	req := httptest.NewRequest(fiber.MethodPost, "/api/vehicle_detected", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if authorized {
		req.Header.Set(fiber.HeaderAuthorization, basicAuth("cam", "secret"))
	}
	return req
}

func TestVehicleDetected_Accepted(t *testing.T) {
	f := newFixture(t, middleware.Options{})

	req := detectionRequest(`{"camera":"Gate"}`, true)
	req.Header.Set(middleware.RequestIDKey, "req-42")

	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"status":"accepted"`)
	assert.Regexp(t, `"timestamp":"\d{8}_\d{6}"`, string(body))

	require.Len(t, f.service.detections, 1)
	assert.Equal(t, "Gate", f.service.detections[0].CameraName)
	assert.Len(t, f.service.detections[0].TaskID, 26)
	assert.WithinDuration(t, time.Now(), f.service.detections[0].DetectedAt, 5*time.Second)
	assert.Equal(t, []string{"req-42"}, f.service.requestIDs)
	assert.Equal(t, f.service.detections[0].TaskID, f.dispatcher.tasks[0].ID)
}

func TestVehicleDetected_Rejected(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		authorized bool
		status     int
	}{
		{"missing credentials", `{"camera":"Gate"}`, false, fiber.StatusUnauthorized},
		{"malformed body", `{"camera":`, true, fiber.StatusBadRequest},
		{"missing camera", `{}`, true, fiber.StatusBadRequest},
		{"camera too long", `{"camera":"` + strings.Repeat("x", 51) + `"}`, true, fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, middleware.Options{})

			resp, err := f.app.Test(detectionRequest(tt.body, tt.authorized))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Empty(t, f.service.detections)
		})
	}
}

func TestVehicleDetected_CameraAtLimit(t *testing.T) {
	f := newFixture(t, middleware.Options{})

	resp, err := f.app.Test(detectionRequest(`{"camera":"`+strings.Repeat("x", 50)+`"}`, true))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
}

func TestVehicleDetected_DispatcherStopped(t *testing.T) {
	f := newFixture(t, middleware.Options{})
	f.dispatcher.err = worker.ErrStopped

	resp, err := f.app.Test(detectionRequest(`{"camera":"Gate"}`, true))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Empty(t, f.service.detections)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "DISPATCH_UNAVAILABLE")
}

func TestVehicleDetected_RateLimited(t *testing.T) {
	f := newFixture(t, middleware.Options{RateLimit: 1, Burst: 1})

	resp, err := f.app.Test(detectionRequest(`{"camera":"Gate"}`, true))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	resp, err = f.app.Test(detectionRequest(`{"camera":"Gate"}`, true))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Len(t, f.service.detections, 1)
}

func serve(t *testing.T, app *fiber.App) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	return ln.Addr().String()
}

func TestObservationFeed_StreamsPublishedObservations(t *testing.T) {
	f := newFixture(t, middleware.Options{})
	addr := serve(t, f.app)

	header := http.Header{}
	header.Set(fiber.HeaderAuthorization, basicAuth("cam", "secret"))

	conn, _, err := gorillaws.DefaultDialer.Dial("ws://"+addr+"/api/observations/ws", header)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.feed.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.feed.Publish(map[string]any{"id": 7, "country_code": "si"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"country_code":"si"}`, string(msg))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return f.feed.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestObservationFeed_RequiresCredentials(t *testing.T) {
	f := newFixture(t, middleware.Options{})
	addr := serve(t, f.app)

	_, resp, err := gorillaws.DefaultDialer.Dial("ws://"+addr+"/api/observations/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, f.feed.Subscribers())
}

func TestObservationFeed_RequiresUpgrade(t *testing.T) {
	f := newFixture(t, middleware.Options{})

	req := httptest.NewRequest(fiber.MethodGet, "/api/observations/ws", nil)
	req.Header.Set(fiber.HeaderAuthorization, basicAuth("cam", "secret"))

	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

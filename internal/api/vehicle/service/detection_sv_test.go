package vehicleService

import (
	"VehicleCollector/internal/api/vehicle"
	vehicleRepository "VehicleCollector/internal/api/vehicle/repository"
	"VehicleCollector/internal/entity"
	"VehicleCollector/pkg/platerecognizer"
	"VehicleCollector/pkg/redis"
	"VehicleCollector/pkg/region"
	"VehicleCollector/pkg/s3"
	"VehicleCollector/pkg/synology"
	websocketPkg "VehicleCollector/pkg/websocket"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCamera struct {
	authErr  error
	listErr  error
	snapErr  error
	cameras  []entity.Camera
	frame    []byte
	snapshot []entity.Camera
}

func (f *fakeCamera) Authenticate(_ context.Context, host, username, password string) (string, error) {
	if f.authErr != nil {
		return "", f.authErr
	}
	return "sid-" + username, nil
}

func (f *fakeCamera) ListCameras(_ context.Context, _, sid string) ([]entity.Camera, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.cameras, nil
}

func (f *fakeCamera) GetSnapshot(_ context.Context, _, _ string, camera entity.Camera) ([]byte, error) {
	f.snapshot = append(f.snapshot, camera)
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	return f.frame, nil
}

type fakeRecognizer struct {
	result *platerecognizer.Result
	err    error
	labels []string
}

func (f *fakeRecognizer) Analyze(_ context.Context, _ []byte, cameraLabel string) (*platerecognizer.Result, error) {
	f.labels = append(f.labels, cameraLabel)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakeStore applies the same window rule as the SQL query.
type fakeStore struct {
	mu        sync.Mutex
	rows      []entity.PersistedObservation
	existsErr error
	createErr func(n int) error
	creates   int
	checks    int
}

func (f *fakeStore) NewClient(bool) (vehicleRepository.Client, error) {
	return vehicleRepository.Client{
		Observation: f,
		Commit:      func() error { return nil },
		Rollback:    func() error { return nil },
	}, nil
}

func (f *fakeStore) ExistsWithinWindow(_ context.Context, hash [32]byte, detectedAt time.Time, window time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.checks++
	if f.existsErr != nil {
		return false, f.existsErr
	}
	for _, row := range f.rows {
		if row.PlateHash == hash && !row.Timestamp.Before(detectedAt.Add(-window)) && !row.Timestamp.After(detectedAt) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreateObservation(_ context.Context, obs entity.AnonymizedObservation) (entity.PersistedObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates++
	if f.createErr != nil {
		if err := f.createErr(f.creates); err != nil {
			return entity.PersistedObservation{}, err
		}
	}

	persisted := entity.PersistedObservation{ID: int64(len(f.rows) + 1), AnonymizedObservation: obs}
	f.rows = append(f.rows, persisted)
	return persisted, nil
}

type recordingLocker struct {
	keys      []string
	released  int
	deadlines []time.Duration
}

func (l *recordingLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	l.keys = append(l.keys, key)
	return func(ctx context.Context) error {
		l.released++
		if deadline, ok := ctx.Deadline(); ok {
			l.deadlines = append(l.deadlines, time.Until(deadline))
		}
		return ctx.Err()
	}, nil
}

type fakeArchive struct {
	keys []string
	err  error
}

func (f *fakeArchive) UploadSnapshot(_ context.Context, key string, _ []byte) (string, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return "", f.err
	}
	return "https://bucket.example/" + key, nil
}

type fixture struct {
	camera     *fakeCamera
	recognizer *fakeRecognizer
	store      *fakeStore
	locker     *recordingLocker
	feed       websocketPkg.IHub
	archive    *fakeArchive
	service    IVehicleService
}

func plates(plates ...string) *platerecognizer.Result {
	result := &platerecognizer.Result{}
	for _, p := range plates {
		result.Results = append(result.Results, platerecognizer.PlateResult{
			Plate:      p,
			Region:     platerecognizer.Region{Code: "unknown"},
			Vehicle:    platerecognizer.Vehicle{Type: "Sedan"},
			Candidates: []platerecognizer.Candidate{{Plate: p, Score: 0.9}},
		})
	}
	return result
}

func newFixture(t *testing.T, withArchive bool) *fixture {
	t.Helper()

	logger, _ := test.NewNullLogger()
	table, err := region.LoadTable("")
	require.NoError(t, err)

	f := &fixture{
		camera: &fakeCamera{
			cameras: []entity.Camera{{ID: 1, Name: "Parking"}, {ID: 2, Name: "Gate"}},
			frame:   []byte{0xff, 0xd8},
		},
		recognizer: &fakeRecognizer{result: plates("CE123AB")},
		store:      &fakeStore{},
		locker:     &recordingLocker{},
		feed:       websocketPkg.NewHub(logger, 8),
	}

	var archive s3.ItfS3
	if withArchive {
		f.archive = &fakeArchive{}
		archive = f.archive
	}

	f.service = NewVehicleService(
		logger,
		f.store,
		f.camera,
		f.recognizer,
		region.NewCorrector(table, logger),
		f.locker,
		f.feed,
		archive,
		Config{
			SynologyHost:     "https://nas.local",
			SynologyUsername: "user",
			SynologyPassword: "pass",
			DedupWindow:      time.Minute,
		},
	)

	return f
}

func detection(at time.Time) entity.Detection {
	return entity.Detection{TaskID: "task-1", CameraName: "Gate", DetectedAt: at}
}

func TestProcessDetection_PersistsCorrectedObservation(t *testing.T) {
	f := newFixture(t, false)
	events, cancel := f.feed.Subscribe()
	defer cancel()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	report, err := f.service.ProcessDetection(context.Background(), detection(at))

	require.NoError(t, err)
	assert.Equal(t, StageDone, report.Stage)
	require.Len(t, report.Persisted, 1)

	obs := report.Persisted[0]
	assert.Equal(t, "si", obs.CountryCode)
	require.NotNil(t, obs.Municipality)
	assert.Equal(t, "CE", *obs.Municipality)
	assert.Equal(t, HashPlate("ce123ab"), obs.PlateHash)
	assert.Equal(t, 900, obs.PlateScore)
	assert.Equal(t, at, obs.Timestamp)

	assert.Equal(t, []entity.Camera{{ID: 2, Name: "Gate"}}, f.camera.snapshot)
	assert.Equal(t, []string{"Gate"}, f.recognizer.labels)
	assert.Equal(t, []string{obs.PlateHashHex()}, f.locker.keys)
	assert.Equal(t, 1, f.locker.released)

	select {
	case msg := <-events:
		assert.Contains(t, string(msg), obs.PlateHashHex())
		assert.NotContains(t, string(msg), "CE123AB")
	default:
		t.Fatal("expected a feed message")
	}
}

func TestProcessDetection_ReleaseIsBounded(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.service.ProcessDetection(context.Background(), detection(time.Now()))

	require.NoError(t, err)
	assert.Equal(t, 1, f.locker.released)
	require.Len(t, f.locker.deadlines, 1)
	assert.Greater(t, f.locker.deadlines[0], time.Duration(0))
	assert.LessOrEqual(t, f.locker.deadlines[0], 10*time.Second)
}

func TestProcessDetection_DuplicateWithinWindowSkipped(t *testing.T) {
	f := newFixture(t, false)
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	first, err := f.service.ProcessDetection(context.Background(), detection(t0))
	require.NoError(t, err)
	require.Len(t, first.Persisted, 1)

	second, err := f.service.ProcessDetection(context.Background(), detection(t0.Add(30*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, StageDone, second.Stage)
	assert.Empty(t, second.Persisted)
	assert.Equal(t, 1, second.Skipped)

	assert.Len(t, f.store.rows, 1)
}

func TestProcessDetection_OutsideWindowPersisted(t *testing.T) {
	f := newFixture(t, false)
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := f.service.ProcessDetection(context.Background(), detection(t0))
	require.NoError(t, err)

	second, err := f.service.ProcessDetection(context.Background(), detection(t0.Add(90*time.Second)))
	require.NoError(t, err)
	assert.Len(t, second.Persisted, 1)
	assert.Zero(t, second.Skipped)

	assert.Len(t, f.store.rows, 2)
}

func TestProcessDetection_WindowIsBackwardOnly(t *testing.T) {
	f := newFixture(t, false)
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := f.service.ProcessDetection(context.Background(), detection(t0))
	require.NoError(t, err)

	earlier, err := f.service.ProcessDetection(context.Background(), detection(t0.Add(-10*time.Second)))
	require.NoError(t, err)
	assert.Len(t, earlier.Persisted, 1)

	boundary, err := f.service.ProcessDetection(context.Background(), detection(t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, 1, boundary.Skipped)
}

func TestProcessDetection_FailuresBeforePlates(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *fixture)
		expected error
		failedAt Stage
	}{
		{
			name:     "authentication",
			setup:    func(f *fixture) { f.camera.authErr = fmt.Errorf("%w: no session id", synology.ErrAuthentication) },
			expected: synology.ErrAuthentication,
			failedAt: StageReceived,
		},
		{
			name:     "camera list",
			setup:    func(f *fixture) { f.camera.listErr = fmt.Errorf("%w: status 500", synology.ErrCameraData) },
			expected: synology.ErrCameraData,
			failedAt: StageAuthenticated,
		},
		{
			name:     "no cameras",
			setup:    func(f *fixture) { f.camera.cameras = nil },
			expected: synology.ErrCameraData,
			failedAt: StageAuthenticated,
		},
		{
			name:     "camera not found",
			setup:    func(f *fixture) { f.camera.cameras = []entity.Camera{{ID: 1, Name: "Parking"}} },
			expected: synology.ErrCameraData,
			failedAt: StageAuthenticated,
		},
		{
			name:     "snapshot",
			setup:    func(f *fixture) { f.camera.snapErr = fmt.Errorf("%w: status 404", synology.ErrSnapshot) },
			expected: synology.ErrSnapshot,
			failedAt: StageAuthenticated,
		},
		{
			name:     "recognition",
			setup:    func(f *fixture) { f.recognizer.err = fmt.Errorf("%w: exhausted", platerecognizer.ErrRecognitionCall) },
			expected: platerecognizer.ErrRecognitionCall,
			failedAt: StageSnapshotCaptured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			tt.setup(f)

			report, err := f.service.ProcessDetection(context.Background(), detection(time.Now()))

			require.ErrorIs(t, err, tt.expected)
			assert.Equal(t, StageFailed, report.Stage)
			assert.Equal(t, tt.failedAt, report.FailedAt)
			assert.Empty(t, f.store.rows)
			assert.Zero(t, f.store.checks)
		})
	}
}

func TestProcessDetection_PersistFailureAbortsRemainingPlates(t *testing.T) {
	f := newFixture(t, false)
	f.recognizer.result = plates("LJ111AA", "MB222BB", "KP333CC")
	f.store.createErr = func(n int) error {
		if n == 2 {
			return fmt.Errorf("%w: duplicate key", vehicle.ErrDatabaseIntegrity)
		}
		return nil
	}

	report, err := f.service.ProcessDetection(context.Background(), detection(time.Now()))

	require.ErrorIs(t, err, vehicle.ErrDatabaseIntegrity)
	assert.Equal(t, StageFailed, report.Stage)
	assert.Len(t, report.Persisted, 1)
	assert.Equal(t, 2, f.store.creates)
	assert.Len(t, f.store.rows, 1)
	assert.Equal(t, 2, f.locker.released)
}

func TestProcessDetection_CheckFailureAborts(t *testing.T) {
	f := newFixture(t, false)
	f.recognizer.result = plates("LJ111AA", "MB222BB")
	f.store.existsErr = fmt.Errorf("%w: connection reset", vehicle.ErrDatabaseQuery)

	report, err := f.service.ProcessDetection(context.Background(), detection(time.Now()))

	require.ErrorIs(t, err, vehicle.ErrDatabaseQuery)
	assert.Equal(t, StageAnonymized, report.FailedAt)
	assert.Equal(t, 1, f.store.checks)
	assert.Zero(t, f.store.creates)
}

func TestProcessDetection_NoPlates(t *testing.T) {
	f := newFixture(t, false)
	f.recognizer.result = &platerecognizer.Result{}

	report, err := f.service.ProcessDetection(context.Background(), detection(time.Now()))

	require.NoError(t, err)
	assert.Equal(t, StageDone, report.Stage)
	assert.Zero(t, report.Plates)
	assert.Zero(t, f.store.checks)
}

func TestProcessDetection_ArchivesSnapshot(t *testing.T) {
	f := newFixture(t, true)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := f.service.ProcessDetection(context.Background(), detection(at))
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshots/Gate/vehicle_20240501_120000_task-1.jpg"}, f.archive.keys)
}

func TestProcessDetection_ArchiveFailureIgnored(t *testing.T) {
	f := newFixture(t, true)
	f.archive.err = errors.New("access denied")

	report, err := f.service.ProcessDetection(context.Background(), detection(time.Now()))

	require.NoError(t, err)
	assert.Len(t, report.Persisted, 1)
}

func TestProcessDetection_LockFailureAborts(t *testing.T) {
	logger, _ := test.NewNullLogger()
	table, err := region.LoadTable("")
	require.NoError(t, err)

	store := &fakeStore{}
	svc := NewVehicleService(
		logger,
		store,
		&fakeCamera{cameras: []entity.Camera{{ID: 2, Name: "Gate"}}, frame: []byte{1}},
		&fakeRecognizer{result: plates("CE123AB")},
		region.NewCorrector(table, logger),
		failingLocker{},
		nil,
		nil,
		Config{},
	)

	_, err = svc.ProcessDetection(context.Background(), detection(time.Now()))

	require.ErrorIs(t, err, redis.ErrLockTimeout)
	assert.Zero(t, store.checks)
}

type failingLocker struct{}

func (failingLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return nil, redis.ErrLockTimeout
}

package synology

import (
	"VehicleCollector/internal/entity"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var (
	ErrAuthentication = errors.New("camera authentication failed")
	ErrCameraData     = errors.New("camera data unavailable")
	ErrSnapshot       = errors.New("camera snapshot unavailable")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	authPath  = "/webapi/auth.cgi"
	entryPath = "/webapi/entry.cgi"

	cameraAPI     = "SYNO.SurveillanceStation.Camera"
	cameraVersion = "9"
)

// ICamera talks to a Surveillance Station instance. A session id obtained
// from Authenticate is valid for the calls of one detection only.
type ICamera interface {
	Authenticate(ctx context.Context, host, username, password string) (string, error)
	ListCameras(ctx context.Context, host, sid string) ([]entity.Camera, error)
	GetSnapshot(ctx context.Context, host, sid string, camera entity.Camera) ([]byte, error)
}

type Options struct {
	Timeout     time.Duration
	InsecureTLS bool
}

type client struct {
	http      *resty.Client
	log       *logrus.Logger
	validator *validator.Validate
}

func New(log *logrus.Logger, opts Options) ICamera {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json, image/jpeg")

	if opts.InsecureTLS {
		httpClient.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	return &client{
		http:      httpClient,
		log:       log,
		validator: validator.New(),
	}
}

type apiError struct {
	Code int `json:"code"`
}

type authResponse struct {
	Success bool      `json:"success"`
	Error   *apiError `json:"error,omitempty"`
	Data    struct {
		SID string `json:"sid"`
	} `json:"data"`
}

type listResponse struct {
	Success bool      `json:"success"`
	Error   *apiError `json:"error,omitempty"`
	Data    struct {
		Cameras jsoniter.RawMessage `json:"cameras"`
	} `json:"data"`
}

type cameraDTO struct {
	ID         *int   `json:"id" validate:"required"`
	NewName    string `json:"newName"`
	Name       string `json:"name"`
	Enabled    bool   `json:"enabled"`
	Model      string `json:"model"`
	Vendor     string `json:"vendor"`
	Status     int    `json:"status"`
	Resolution string `json:"resolution"`
	Host       string `json:"host"`
}

func (c *client) Authenticate(ctx context.Context, host, username, password string) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"api":     "SYNO.API.Auth",
			"method":  "Login",
			"version": "6",
			"account": username,
			"passwd":  password,
			"session": "SurveillanceStation",
			"format":  "sid",
		}).
		Get(baseURL(host) + authPath)
	if err != nil {
		return "", fmt.Errorf("%w: network error during authentication: %v", ErrAuthentication, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: unexpected status %d", ErrAuthentication, resp.StatusCode())
	}

	var body authResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("%w: malformed login response: %v", ErrAuthentication, err)
	}

	if body.Data.SID == "" {
		if body.Error != nil {
			return "", fmt.Errorf("%w: no session id returned (vendor code %d)", ErrAuthentication, body.Error.Code)
		}
		return "", fmt.Errorf("%w: no session id returned", ErrAuthentication)
	}

	return body.Data.SID, nil
}

func (c *client) ListCameras(ctx context.Context, host, sid string) ([]entity.Camera, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"api":     cameraAPI,
			"version": cameraVersion,
			"method":  "List",
			"_sid":    sid,
		}).
		Get(baseURL(host) + entryPath)
	if err != nil {
		return nil, fmt.Errorf("%w: network error while fetching camera data: %v", ErrCameraData, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrCameraData, resp.StatusCode())
	}

	var body listResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("%w: malformed camera list response: %v", ErrCameraData, err)
	}

	raw := strings.TrimSpace(string(body.Data.Cameras))
	if raw == "" || raw == "null" {
		if body.Error != nil {
			return nil, fmt.Errorf("%w: camera list rejected (vendor code %d)", ErrCameraData, body.Error.Code)
		}
		return []entity.Camera{}, nil
	}

	var entries []jsoniter.RawMessage
	if !strings.HasPrefix(raw, "[") || json.Unmarshal(body.Data.Cameras, &entries) != nil {
		return nil, fmt.Errorf("%w: unexpected cameras data format", ErrCameraData)
	}

	cameras := make([]entity.Camera, 0, len(entries))
	for i, entry := range entries {
		camera, err := c.parseCamera(entry)
		if err != nil {
			c.log.WithFields(logrus.Fields{
				"index": i,
				"error": err.Error(),
			}).Warn("Skipping malformed camera entry")
			continue
		}
		cameras = append(cameras, camera)
	}

	return cameras, nil
}

func (c *client) parseCamera(entry jsoniter.RawMessage) (entity.Camera, error) {
	var dto cameraDTO
	if err := json.Unmarshal(entry, &dto); err != nil {
		return entity.Camera{}, err
	}
	if err := c.validator.Struct(dto); err != nil {
		return entity.Camera{}, err
	}

	name := dto.NewName
	if name == "" {
		name = dto.Name
	}

	return entity.Camera{
		ID:         *dto.ID,
		Name:       name,
		Enabled:    dto.Enabled,
		Model:      orUnknown(dto.Model),
		Vendor:     orUnknown(dto.Vendor),
		Status:     dto.Status,
		Resolution: orUnknown(dto.Resolution),
		IP:         orUnknown(dto.Host),
	}, nil
}

func (c *client) GetSnapshot(ctx context.Context, host, sid string, camera entity.Camera) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"api":         cameraAPI,
			"version":     cameraVersion,
			"method":      "GetSnapshot",
			"id":          strconv.Itoa(camera.ID),
			"profileType": "0",
			"_sid":        sid,
		}).
		Get(baseURL(host) + entryPath)
	if err != nil {
		return nil, fmt.Errorf("%w: network error while fetching snapshot: %v", ErrSnapshot, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrSnapshot, resp.StatusCode())
	}

	// The vendor answers 200 with a JSON error body when the sid is rejected.
	if strings.Contains(resp.Header().Get("Content-Type"), "application/json") {
		var body authResponse
		if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error != nil {
			return nil, fmt.Errorf("%w: snapshot rejected (vendor code %d)", ErrSnapshot, body.Error.Code)
		}
		return nil, fmt.Errorf("%w: expected image, got JSON", ErrSnapshot)
	}

	frame := resp.Body()
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty snapshot", ErrSnapshot)
	}

	return frame, nil
}

// FindCamera picks the camera whose configured name matches name exactly.
func FindCamera(cameras []entity.Camera, name string) (entity.Camera, error) {
	for _, camera := range cameras {
		if camera.Name == name {
			return camera, nil
		}
	}
	return entity.Camera{}, fmt.Errorf("%w: camera %q not found", ErrCameraData, name)
}

func baseURL(host string) string {
	return strings.TrimRight(host, "/")
}

func orUnknown(v string) string {
	if v == "" {
		return "Unknown"
	}
	return v
}

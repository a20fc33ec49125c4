package platerecognizer

import (
	"VehicleCollector/pkg/retry"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var ErrRecognitionCall = errors.New("plate recognition call failed")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errTransport = errors.New("transport error")

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

type IRecognizer interface {
	Analyze(ctx context.Context, image []byte, cameraLabel string) (*Result, error)
}

type Options struct {
	URL        string
	APIKey     string
	AuthScheme string
	Regions    []string
	MMC        bool
	Direction  bool

	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

type client struct {
	http   *resty.Client
	log    *logrus.Logger
	opts   Options
	policy retry.Policy
}

func New(log *logrus.Logger, opts Options) IRecognizer {
	if opts.AuthScheme == "" {
		opts.AuthScheme = "Bearer"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}

	c := &client{
		http: resty.New().
			SetTimeout(opts.Timeout).
			SetHeader("Accept", "application/json"),
		log:  log,
		opts: opts,
	}

	c.policy = retry.Fixed(opts.MaxAttempts, opts.RetryDelay, isRetryable)
	c.policy.OnRetry = func(attempt int, err error) {
		c.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err.Error(),
		}).Warn("Plate recognition attempt failed, retrying")
	}

	return c
}

func (c *client) Analyze(ctx context.Context, image []byte, cameraLabel string) (*Result, error) {
	result, err := retry.Do(ctx, c.policy, func(ctx context.Context, _ int) (*Result, error) {
		return c.call(ctx, image, cameraLabel)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecognitionCall, err)
	}

	return result, nil
}

func (c *client) call(ctx context.Context, image []byte, cameraLabel string) (*Result, error) {
	form := url.Values{}
	form.Set("camera_id", cameraLabel)
	for _, region := range c.opts.Regions {
		form.Add("regions", region)
	}
	if c.opts.MMC {
		form.Set("mmc", "true")
	}
	if c.opts.Direction {
		form.Set("direction", "true")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", c.opts.AuthScheme+" "+c.opts.APIKey).
		SetFileReader("upload", "snapshot.jpg", bytes.NewReader(image)).
		SetFormDataFromValues(form).
		Post(c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errTransport, err)
	}
	if resp.IsError() {
		return nil, &statusError{code: resp.StatusCode(), body: truncate(resp.String(), 200)}
	}

	var result Result
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("decode recognition result: %w", err)
	}

	return &result, nil
}

// isRetryable accepts connection failures and 5xx answers only.
func isRetryable(err error) bool {
	if errors.Is(err, errTransport) {
		return true
	}

	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}

	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

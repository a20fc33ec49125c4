package utils

import (
	"crypto/rand"
	"crypto/subtle"
	"time"

	"github.com/oklog/ulid/v2"
)

type IUtils interface {
	NewULIDFromTimestamp(t time.Time) (string, error)
	FormatDetectionTimestamp(t time.Time) string
	ConstantTimeEqual(a, b string) bool
}

type utils struct{}

func New() IUtils {
	return &utils{}
}

func (u *utils) NewULIDFromTimestamp(t time.Time) (string, error) {
	ms := ulid.Timestamp(t)
	entropy := ulid.Monotonic(rand.Reader, 0)

	id, err := ulid.New(ms, entropy)
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

// FormatDetectionTimestamp renders t the way webhook responses and snapshot
// file names expect it.
func (u *utils) FormatDetectionTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

func (u *utils) ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

package middleware

import (
	"VehicleCollector/internal/api/vehicle"
	"VehicleCollector/pkg/bcrypt"
	"VehicleCollector/pkg/handlerUtil"
	"VehicleCollector/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/sirupsen/logrus"
)

// Credentials protect the webhook. When PasswordHash is empty the plain
// Username/Password pair is compared in constant time instead.
type Credentials struct {
	Username     string
	Password     string
	PasswordHash string
}

func newBasicAuth(logger *logrus.Logger, hasher bcrypt.IBcrypt, u utils.IUtils, creds Credentials) fiber.Handler {
	if creds.PasswordHash == "" {
		logger.Warn("Webhook password hash not configured, comparing plain credentials")
	}

	errHandler := handlerUtil.New(logger)

	return basicauth.New(basicauth.Config{
		Realm: "Vehicle Collector",
		Authorizer: func(username, password string) bool {
			if creds.Username == "" || !u.ConstantTimeEqual(username, creds.Username) {
				return false
			}
			if creds.PasswordHash != "" {
				return hasher.ComparePassword(creds.PasswordHash, password) == nil
			}
			return creds.Password != "" && u.ConstantTimeEqual(password, creds.Password)
		},
		Unauthorized: func(c *fiber.Ctx) error {
			requestID, _ := c.Locals(RequestIDKey).(string)
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="Vehicle Collector"`)
			return errHandler.Handle(c, requestID, vehicle.ErrInvalidCredentials, c.Path(), "basic_auth")
		},
	})
}

package config

import (
	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

func NewFiber(logger *logrus.Logger) *fiber.App {
	app := fiber.New(
		fiber.Config{
			AppName:               "Vehicle Collector",
			BodyLimit:             1 * 1024 * 1024,
			StrictRouting:         true,
			CaseSensitive:         true,
			DisableStartupMessage: logger.GetLevel() < logrus.InfoLevel,
			JSONEncoder:           jsoniter.Marshal,
			JSONDecoder:           jsoniter.Unmarshal,
		})

	return app
}

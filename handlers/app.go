package handlers

import (
	"errors"
	"os"

	"github.com/andesco/savedata/pkg/carbstatus"
	"github.com/andesco/savedata/pkg/config"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
)

// NewApp wires both variants into one fiber app:
//
//	/redirect?r=<url>  redirect variant
//	/healthz           liveness
//	/*?r=<url>         proxy variant
func NewApp(cfg *config.Config, client *carbstatus.Client) *fiber.App {
	app := fiber.New(fiber.Config{
		Prefork:               cfg.Prefork,
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler,
	})

	app.Use(recover.New())
	if cfg.AccessLog {
		app.Use(logger.New(logger.Config{Output: os.Stdout}))
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.All("/redirect", SaveDataRedirect(cfg, client))
	app.All("/*", SaveDataProxy(cfg, client))

	return app
}

// ErrorHandler answers fiber errors with their own code and message. Anything
// else is unexpected and becomes a plain 500 Internal Error.
func ErrorHandler(c *fiber.Ctx, err error) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).SendString(fe.Message)
	}

	logrus.Errorf("%s %s: %v", c.Method(), c.OriginalURL(), err)
	return c.Status(fiber.StatusInternalServerError).SendString("Internal Error")
}

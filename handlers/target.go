package handlers

import (
	"fmt"
	"net/url"

	"github.com/andesco/savedata/pkg/config"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// extractTarget reads the destination URL from the r query param. role ends
// up in the missing-param message, e.g. "redirect URL to".
func extractTarget(c *fiber.Ctx, cfg *config.Config, role string) (*url.URL, error) {
	raw := c.Query("r")
	if raw == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Bad Request: missing r query param (%s)", role))
	}

	target, err := url.Parse(raw)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		logrus.Warnf("rejecting r query param '%s'", raw)
		return nil, fiber.NewError(fiber.StatusBadRequest, "Bad Request: r query param must be an absolute http(s) URL")
	}

	if !cfg.DomainAllowed(target.Hostname()) {
		return nil, fiber.NewError(fiber.StatusForbidden, fmt.Sprintf("Forbidden: domain not allowed: %s", target.Hostname()))
	}

	// http(s) URLs always carry at least the root path.
	if target.Path == "" && target.Opaque == "" {
		target.Path = "/"
	}

	if cfg.LogURLs {
		logrus.Infof("%s %s", c.Method(), target)
	}
	return target, nil
}

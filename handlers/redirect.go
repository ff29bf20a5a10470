package handlers

import (
	"net/url"

	"github.com/andesco/savedata/pkg/carbstatus"
	"github.com/andesco/savedata/pkg/config"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// SaveDataRedirect redirects the client to the URL named by the r query
// param, adding save-data=1 to it when the carbstatus score for the client ip
// is at or below the threshold. The origin is never contacted.
func SaveDataRedirect(cfg *config.Config, client *carbstatus.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		target, err := extractTarget(c, cfg, "redirect URL to")
		if err != nil {
			return err
		}

		ip := c.Get(cfg.ClientIPHeader)
		if ip == "" {
			ip = c.IP()
			logrus.Debugf("no %s header, looking up remote address %s", cfg.ClientIPHeader, ip)
		}
		saveData, err := carbstatus.SaveData(func() (carbstatus.IndexData, error) {
			return client.IndexByIP(c.UserContext(), ip)
		}, cfg.Threshold)
		if err != nil {
			return err
		}

		if saveData {
			appendQueryFlag(target, cfg.QueryFlag)
		}
		return c.Redirect(target.String(), cfg.RedirectStatus)
	}
}

// appendQueryFlag adds flag=1 after any existing params, leaving their order
// and encoding untouched.
func appendQueryFlag(u *url.URL, flag string) {
	param := url.QueryEscape(flag) + "=1"
	if u.RawQuery == "" {
		u.RawQuery = param
		return
	}
	u.RawQuery += "&" + param
}

package handlers

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/andesco/savedata/pkg/carbstatus"
	"github.com/andesco/savedata/pkg/config"
	"github.com/andesco/savedata/pkg/rewriter"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// headers that describe the connection rather than the message, plus the
// ones the outbound client has to compute itself.
var skipRequestHeaders = map[string]bool{
	"Host":                true,
	"Accept-Encoding":     true,
	"Content-Length":      true,
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Connection":    true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

var skipResponseHeaders = map[string]bool{
	"Content-Length":    true,
	"Content-Encoding":  true,
	"Connection":        true,
	"Keep-Alive":        true,
	"Proxy-Connection":  true,
	"Te":                true,
	"Trailer":           true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
}

// SaveDataProxy fetches the URL named by the r query param and returns it to
// the client. When the carbstatus score for the target is at or below the
// threshold, both the origin request and the response carry Save-Data: on
// and HTML documents get the save-data class on their root element.
func SaveDataProxy(cfg *config.Config, client *carbstatus.Client) fiber.Handler {
	origin := &http.Client{Timeout: cfg.HTTPTimeout()}
	ipHeader := http.CanonicalHeaderKey(cfg.ClientIPHeader)

	return func(c *fiber.Ctx) error {
		target, err := extractTarget(c, cfg, "proxy URL to")
		if err != nil {
			return err
		}

		ip := c.Get(cfg.ClientIPHeader)
		saveData, err := carbstatus.SaveData(func() (carbstatus.IndexData, error) {
			return client.Index(c.UserContext(), target.String(), ip)
		}, cfg.Threshold)
		if err != nil {
			return err
		}

		var body io.Reader
		if len(c.Body()) > 0 {
			body = bytes.NewReader(append([]byte(nil), c.Body()...))
		}
		req, err := http.NewRequestWithContext(c.UserContext(), c.Method(), target.String(), body)
		if err != nil {
			return err
		}
		c.Request().Header.VisitAll(func(key, value []byte) {
			k := http.CanonicalHeaderKey(string(key))
			if skipRequestHeaders[k] || k == ipHeader {
				return
			}
			req.Header.Add(k, string(value))
		})
		if saveData {
			req.Header.Set("Save-Data", "on")
		}

		resp, err := origin.Do(req)
		if err != nil {
			logrus.Errorf("error fetching %s: %v", target, err)
			return fiber.NewError(fiber.StatusBadGateway, "Bad Gateway")
		}

		for key, values := range resp.Header {
			if skipResponseHeaders[key] {
				continue
			}
			for _, value := range values {
				c.Response().Header.Add(key, value)
			}
		}
		if saveData {
			c.Set("Save-Data", "on")
		}
		c.Status(resp.StatusCode)
		c.Response().Header.SetStatusMessage([]byte(statusText(resp)))

		if saveData && rewriter.IsHTML(resp.Header.Get("Content-Type")) {
			transformed := rewriter.AppendClass(resp.Body, "html", cfg.ClassName)
			return c.SendStream(&bodyCloser{Reader: transformed, closers: []io.Closer{transformed, resp.Body}}, -1)
		}

		size := -1
		if resp.ContentLength >= 0 {
			size = int(resp.ContentLength)
		}
		return c.SendStream(resp.Body, size)
	}
}

// statusText is the reason phrase the origin sent, e.g. "Not Found" from
// "404 Not Found".
func statusText(resp *http.Response) string {
	if _, text, ok := strings.Cut(resp.Status, " "); ok {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

type bodyCloser struct {
	io.Reader
	closers []io.Closer
}

func (b *bodyCloser) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

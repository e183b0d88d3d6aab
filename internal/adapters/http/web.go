package http

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
)

// WebConfig describes the static single page app server.
type WebConfig struct {
	// Root holds the built frontend assets.
	Root string
	// Index is served for every path that matches no asset.
	Index string
	// APIUpstream, when set, receives everything under /api.
	APIUpstream string
}

// NewWebServer serves the SPA the way the nginx image does: assets from
// the root, index.html for any other path, compressed responses.
func NewWebServer(cfg WebConfig) (*fiber.App, error) {
	if cfg.Index == "" {
		cfg.Index = "index.html"
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}
	index := filepath.Join(root, cfg.Index)
	if _, err := os.Stat(index); err != nil {
		return nil, fmt.Errorf("web root %s has no %s: %w", root, cfg.Index, err)
	}

	app := fiber.New(fiber.Config{
		AppName:               "lighthouse-stack-web",
		DisableStartupMessage: true,
	})
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	if cfg.APIUpstream != "" {
		proxy, err := NewAPIProxy(cfg.APIUpstream)
		if err != nil {
			return nil, err
		}
		app.Use("/api", proxy)
	}

	app.Static("/", root, fiber.Static{Index: cfg.Index})

	// SPA fallback: the client router owns every unknown path
	app.Get("/*", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderCacheControl, "no-cache")
		return c.SendFile(index)
	})
	return app, nil
}

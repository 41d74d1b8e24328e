// Package httpapi exposes the link service over HTTP with fiber.
package httpapi

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/MagnunAVF/shortlinks/internal/auth"
	"github.com/MagnunAVF/shortlinks/internal/logger"
	"github.com/MagnunAVF/shortlinks/internal/shortener"
)

type Options struct {
	// ProxyHeader names the header carrying the client IP behind a proxy.
	ProxyHeader string
	// LandingURL, when set, replaces the link destination as redirect target.
	LandingURL      string
	RateLimitMax    int
	RateLimitWindow time.Duration
}

type Deps struct {
	Links      *shortener.Links
	Redirector *shortener.Redirector
	Accounts   *auth.Accounts
	Issuer     *auth.Issuer
	// Health is called by /healthz. Nil means always healthy.
	Health func(ctx context.Context) error
}

type handlers struct {
	opts Options
	deps Deps
}

// New builds the application with all routes and middleware.
func New(opts Options, deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "shortlinks",
		ErrorHandler:          ErrorHandler,
		// visit jobs outlive the request, so values read from it must not
		// alias the pooled request buffer
		Immutable:             true,
		ProxyHeader:           opts.ProxyHeader,
		DisableStartupMessage: true,
	})

	app.Use(logger.FiberMiddleware())
	app.Use(recover.New())
	app.Use(helmet.New())
	app.Use(cors.New())

	h := &handlers{opts: opts, deps: deps}
	limit := rateLimiter(opts)
	authed := auth.Middleware(deps.Issuer)

	app.Get("/healthz", h.health)

	a := app.Group("/auth")
	a.Post("/signup", h.signup)
	a.Post("/login", h.login)

	u := app.Group("/urls")
	u.Get("/", authed, h.listLinks)
	u.Post("/", authed, h.createLink)
	u.Get("/:slug", limit, h.redirect)
	u.Patch("/:id/slug", limit, authed, h.renameSlug)

	app.Get("/analytics/:slug", authed, h.analytics)

	return app
}

func rateLimiter(opts Options) fiber.Handler {
	maxHits := opts.RateLimitMax
	if maxHits <= 0 {
		maxHits = 10
	}
	window := opts.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}

	return limiter.New(limiter.Config{
		Max:        maxHits,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	})
}

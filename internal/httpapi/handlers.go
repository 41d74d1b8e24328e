package httpapi

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/MagnunAVF/shortlinks/internal"
	"github.com/MagnunAVF/shortlinks/internal/auth"
	"github.com/MagnunAVF/shortlinks/internal/idgen"
	"github.com/MagnunAVF/shortlinks/internal/shortener"
)

type credentials struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=72"`
}

type createLinkRequest struct {
	OriginalURL    string     `json:"originalUrl" validate:"required,http_url"`
	Slug           string     `json:"slug" validate:"omitempty,max=64"`
	ExpirationDate *time.Time `json:"expirationDate"`
}

type renameSlugRequest struct {
	NewSlug string `json:"newSlug" validate:"required,max=64"`
}

type linkAttributes struct {
	OriginalURL    string     `json:"originalUrl"`
	ShortURL       string     `json:"shortUrl"`
	Slug           string     `json:"slug"`
	ExpirationDate *time.Time `json:"expirationDate"`
}

type linkResource struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Attributes linkAttributes `json:"attributes"`
}

type linkSummary struct {
	ID             string     `json:"id"`
	OriginalURL    string     `json:"originalUrl"`
	ShortURL       string     `json:"shortUrl"`
	Slug           string     `json:"slug"`
	VisitCount     int64      `json:"visitCount"`
	ExpirationDate *time.Time `json:"expirationDate"`
	CreatedAt      time.Time  `json:"createdAt"`
}

type visitor struct {
	IP        string    `json:"ip"`
	UserAgent string    `json:"userAgent"`
	Timestamp time.Time `json:"timestamp"`
}

type analyticsResponse struct {
	OriginalURL string    `json:"originalUrl"`
	ShortURL    string    `json:"shortUrl"`
	VisitCount  int64     `json:"visitCount"`
	Visitors    []visitor `json:"visitors"`
}

func (h *handlers) health(c *fiber.Ctx) error {
	if h.deps.Health != nil {
		if err := h.deps.Health(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *handlers) signup(c *fiber.Ctx) error {
	var req credentials
	if err := bind(c, &req); err != nil {
		return err
	}

	_, err := h.deps.Accounts.Signup(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return messages{conflict: "Already registered!"}.translate(err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "User created successfully!"})
}

func (h *handlers) login(c *fiber.Ctx) error {
	var req credentials
	if err := bind(c, &req); err != nil {
		return err
	}

	token, err := h.deps.Accounts.Login(c.UserContext(), req.Username, req.Password)
	if errors.Is(err, internal.ErrUnauthorized) {
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid credentials")
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"token": token})
}

func (h *handlers) redirect(c *fiber.Ctx) error {
	userAgent := c.Get(fiber.HeaderUserAgent)
	if userAgent == "" {
		userAgent = "Unknown"
	}

	dest, err := h.deps.Redirector.Resolve(c.UserContext(), shortener.Visitor{
		Slug:      c.Params("slug"),
		IP:        c.IP(),
		UserAgent: userAgent,
	})
	if err != nil {
		return messages{notFound: "URL not found or expired"}.translate(err)
	}

	if h.opts.LandingURL != "" {
		dest = h.opts.LandingURL
	}
	return c.Redirect(dest, fiber.StatusFound)
}

func (h *handlers) createLink(c *fiber.Ctx) error {
	caller := mustCaller(c)

	var req createLinkRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	link, err := h.deps.Links.Shorten(c.UserContext(), caller, shortener.ShortenInput{
		OriginalURL:    req.OriginalURL,
		Slug:           req.Slug,
		ExpirationDate: req.ExpirationDate,
	})
	if err != nil {
		return messages{conflict: "Slug already in use. Please choose another one."}.translate(err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"data": linkResource{
			Type: "urls",
			ID:   idgen.EncodeID(link.ID),
			Attributes: linkAttributes{
				OriginalURL:    link.OriginalURL,
				ShortURL:       link.ShortURL,
				Slug:           link.Slug,
				ExpirationDate: link.ExpirationDate,
			},
		},
	})
}

func (h *handlers) listLinks(c *fiber.Ctx) error {
	links, err := h.deps.Links.List(c.UserContext(), mustCaller(c))
	if err != nil {
		return err
	}

	out := make([]linkSummary, 0, len(links))
	for _, l := range links {
		out = append(out, linkSummary{
			ID:             idgen.EncodeID(l.ID),
			OriginalURL:    l.OriginalURL,
			ShortURL:       l.ShortURL,
			Slug:           l.Slug,
			VisitCount:     l.VisitCount,
			ExpirationDate: l.ExpirationDate,
			CreatedAt:      l.CreatedAt,
		})
	}
	return c.JSON(out)
}

func (h *handlers) renameSlug(c *fiber.Ctx) error {
	caller := mustCaller(c)
	msgs := messages{notFound: "URL not found.", conflict: "Slug already in use."}

	id, err := idgen.DecodeID(c.Params("id"))
	if err != nil {
		// no link can carry an id that does not decode
		return msgs.translate(internal.ErrNotFound)
	}

	var req renameSlugRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	link, err := h.deps.Links.RenameSlug(c.UserContext(), caller, id, req.NewSlug)
	if err != nil {
		return msgs.translate(err)
	}

	return c.JSON(fiber.Map{
		"id":          idgen.EncodeID(link.ID),
		"slug":        link.Slug,
		"shortUrl":    link.ShortURL,
		"originalUrl": link.OriginalURL,
	})
}

func (h *handlers) analytics(c *fiber.Ctx) error {
	link, err := h.deps.Links.Analytics(c.UserContext(), mustCaller(c), c.Params("slug"))
	if err != nil {
		return messages{notFound: "URL not found"}.translate(err)
	}

	visitors := make([]visitor, 0, len(link.Visitors))
	for _, v := range link.Visitors {
		visitors = append(visitors, visitor{IP: v.IP, UserAgent: v.UserAgent, Timestamp: v.Timestamp})
	}
	return c.JSON(analyticsResponse{
		OriginalURL: link.OriginalURL,
		ShortURL:    link.ShortURL,
		VisitCount:  link.VisitCount,
		Visitors:    visitors,
	})
}

// mustCaller is only used behind auth.Middleware.
func mustCaller(c *fiber.Ctx) internal.Caller {
	caller, ok := auth.Caller(c)
	if !ok {
		panic("httpapi: route registered without auth middleware")
	}
	return caller
}

package social

import (
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/goliatone/go-uas"
)

// StateCookie binds the OAuth state to the browser that started the flow.
const StateCookie = "oauth_state"

// HTTPController mounts the provider login routes next to the core ones.
type HTTPController struct {
	social *Authenticator
	http   *uas.HTTPAuthenticator
	config HTTPConfig
}

type HTTPConfig struct {
	// ErrorRedirect receives failed callbacks with ?error=<text code>.
	// When empty failures are rendered as JSON.
	ErrorRedirect string
	CookieSecure  bool
}

func NewHTTPController(social *Authenticator, h *uas.HTTPAuthenticator, cfg HTTPConfig) *HTTPController {
	return &HTTPController{social: social, http: h, config: cfg}
}

// RegisterRoutes mounts the routes, usually under /auth/social.
func (c *HTTPController) RegisterRoutes(r fiber.Router) {
	r.Get("/providers", c.ListProviders)
	r.Get("/accounts", c.http.Protected(), c.ListAccounts)
	r.Get("/:provider/callback", c.Callback)
	r.Delete("/:provider", c.http.Protected(), c.UnlinkAccount)
	r.Get("/:provider", c.BeginAuth)
}

func (c *HTTPController) ListProviders(ctx *fiber.Ctx) error {
	return ctx.JSON(fiber.Map{"providers": c.social.Providers()})
}

// BeginAuth redirects the browser to the provider consent page.
func (c *HTTPController) BeginAuth(ctx *fiber.Ctx) error {
	redirect, err := c.social.BeginAuth(ctx.UserContext(), ctx.Params("provider"), ctx.Query("redirect_url"))
	if err != nil {
		return c.http.ErrorHandler(ctx, err)
	}

	ctx.Cookie(&fiber.Cookie{
		Name:     StateCookie,
		Value:    redirect.State,
		Path:     "/",
		MaxAge:   int(c.social.config.StateTTL / time.Second),
		HTTPOnly: true,
		Secure:   c.config.CookieSecure,
		SameSite: "Lax",
	})

	return ctx.Redirect(redirect.URL, fiber.StatusTemporaryRedirect)
}

// Callback completes the provider login and sets the session cookies.
func (c *HTTPController) Callback(ctx *fiber.Ctx) error {
	if denied := ctx.Query("error"); denied != "" {
		return c.fail(ctx, ErrProviderDenied.Clone().WithMetadata(map[string]any{
			"oauth_error": denied,
		}))
	}

	state := ctx.Query("state")
	if state == "" || ctx.Cookies(StateCookie) != state {
		return c.fail(ctx, ErrInvalidState)
	}
	c.clearStateCookie(ctx)

	result, err := c.social.CompleteAuth(
		ctx.UserContext(),
		ctx.Params("provider"),
		ctx.Query("code"),
		state,
		uas.DeviceFromFiber(ctx),
	)
	if err != nil {
		return c.fail(ctx, err)
	}

	c.http.SetTokenCookies(ctx, result.Pair)

	if result.RedirectURL == "" {
		return ctx.JSON(fiber.Map{
			"tokens":   result.Pair,
			"created":  result.Created,
			"provider": result.Provider,
		})
	}

	target := result.RedirectURL
	if result.Created {
		target = appendQueryParam(target, "new_user", "true")
	}
	return ctx.Redirect(target, fiber.StatusFound)
}

func (c *HTTPController) ListAccounts(ctx *fiber.Ctx) error {
	claims, _ := uas.ClaimsFromFiber(ctx)
	links, err := c.social.Linked(ctx.UserContext(), claims)
	if err != nil {
		return c.http.ErrorHandler(ctx, err)
	}

	accounts := make([]fiber.Map, 0, len(links))
	for _, link := range links {
		accounts = append(accounts, fiber.Map{
			"id":               link.ID,
			"provider":         link.Provider,
			"provider_user_id": link.ProviderUserID,
			"email":            link.Email,
			"name":             link.Name,
			"avatar_url":       link.AvatarURL,
			"created_at":       link.CreatedAt,
		})
	}
	return ctx.JSON(fiber.Map{"accounts": accounts})
}

func (c *HTTPController) UnlinkAccount(ctx *fiber.Ctx) error {
	claims, _ := uas.ClaimsFromFiber(ctx)
	if err := c.social.Unlink(ctx.UserContext(), claims, ctx.Params("provider")); err != nil {
		return c.http.ErrorHandler(ctx, err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (c *HTTPController) fail(ctx *fiber.Ctx, err error) error {
	if c.config.ErrorRedirect == "" {
		return c.http.ErrorHandler(ctx, err)
	}
	public := uas.PublicError(err)
	return ctx.Redirect(appendQueryParam(c.config.ErrorRedirect, "error", public.TextCode), fiber.StatusFound)
}

func (c *HTTPController) clearStateCookie(ctx *fiber.Ctx) {
	ctx.Cookie(&fiber.Cookie{
		Name:     StateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   c.config.CookieSecure,
		SameSite: "Lax",
	})
}

func appendQueryParam(rawURL, key, value string) string {
	parsed, err := url.Parse(rawURL)
	if err == nil {
		query := parsed.Query()
		query.Set(key, value)
		parsed.RawQuery = query.Encode()
		return parsed.String()
	}

	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}

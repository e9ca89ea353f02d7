package uas

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
	// HeaderDeviceID carries the client's device id, see DeviceKey.
	HeaderDeviceID = "X-Device-ID"
)

// HTTPAuthenticator mounts the core flows on a fiber router and delivers
// tokens as HttpOnly cookies as well as in the response body.
type HTTPAuthenticator struct {
	auth         *Auther
	cfg          Config
	logger       Logger
	ErrorHandler func(c *fiber.Ctx, err error) error
}

func NewHTTPAuthenticator(auther *Auther) *HTTPAuthenticator {
	a := &HTTPAuthenticator{
		auth:   auther,
		cfg:    auther.cfg,
		logger: auther.provider.GetLogger("uas.http"),
	}
	a.ErrorHandler = a.defaultErrHandler
	return a
}

func (a *HTTPAuthenticator) WithLogger(logger Logger) *HTTPAuthenticator {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// RegisterRoutes mounts every endpoint under the router (usually /auth).
func (a *HTTPAuthenticator) RegisterRoutes(r fiber.Router) {
	r.Post("/register", a.RegisterPost)
	r.Get("/verify-email/:token", a.VerifyEmailGet)
	r.Post("/verify-email/resend", a.ResendVerificationPost)
	r.Post("/login", a.LoginPost)
	r.Post("/refresh", a.RefreshPost)
	r.Post("/password-reset", a.PasswordResetPost)
	r.Post("/password-reset/:token", a.PasswordResetExecute)

	r.Post("/logout", a.Protected(), a.LogoutPost)
	r.Get("/me", a.Protected(), a.MeGet)
	r.Post("/password-change", a.Protected(), a.PasswordChangePost)
	r.Get("/sessions", a.Protected(), a.SessionsGet)
	r.Delete("/sessions/:id", a.Protected(), a.SessionDelete)
	r.Delete("/accounts/:id", a.Protected(), a.AccountDelete)

	r.Put("/accounts/:id/role", a.Protected(), a.RequireRole(RoleAdmin), a.AccountRolePut)
	r.Post("/accounts/:id/unlock", a.Protected(), a.RequireRole(RoleAdmin), a.AccountUnlockPost)
}

// Protected resolves the access token from the Authorization header or the
// access cookie and stores the claims for the handlers.
func (a *HTTPAuthenticator) Protected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			token = c.Cookies(AccessTokenCookie)
		}
		if token == "" {
			return a.ErrorHandler(c, ErrTokenInvalid)
		}

		claims, err := a.auth.ClaimsFromToken(c.UserContext(), token)
		if err != nil {
			return a.ErrorHandler(c, err)
		}

		c.Locals(ClaimsLocalsKey, claims)
		c.SetUserContext(WithClaimsContext(c.UserContext(), claims))
		return c.Next()
	}
}

// RequireRole rejects requests whose claims lack the role. Mount it after
// Protected.
func (a *HTTPAuthenticator) RequireRole(role Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := ClaimsFromFiber(c)
		if !ok || !Authorize(claims, role) {
			return a.ErrorHandler(c, ErrUnauthorized)
		}
		return c.Next()
	}
}

func (a *HTTPAuthenticator) RegisterPost(c *fiber.Ctx) error {
	payload := new(RegisterAccountMessage)
	if err := c.BodyParser(payload); err != nil {
		return a.ErrorHandler(c, validationError(err, "failed to parse body"))
	}

	account, err := a.auth.Register(c.UserContext(), *payload, DeviceFromFiber(c))
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"account": account,
		"message": "check your email to verify the account",
	})
}

func (a *HTTPAuthenticator) VerifyEmailGet(c *fiber.Ctx) error {
	account, err := a.auth.VerifyEmail(c.UserContext(), c.Params("token"))
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.JSON(fiber.Map{"account": account})
}

type emailPayload struct {
	Email string `json:"email" form:"email"`
}

func (a *HTTPAuthenticator) ResendVerificationPost(c *fiber.Ctx) error {
	payload := new(emailPayload)
	if err := c.BodyParser(payload); err != nil {
		return a.ErrorHandler(c, validationError(err, "failed to parse body"))
	}

	if err := a.auth.ResendVerification(c.UserContext(), payload.Email); err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "if the account exists and is not verified, an email is on its way",
	})
}

func (a *HTTPAuthenticator) LoginPost(c *fiber.Ctx) error {
	payload := new(LoginMessage)
	if err := c.BodyParser(payload); err != nil {
		return a.ErrorHandler(c, validationError(err, "failed to parse body"))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(c, err)
	}

	pair, err := a.auth.Authenticate(c.UserContext(), payload.Email, payload.Password, DeviceFromFiber(c))
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	a.SetTokenCookies(c, pair)
	return c.JSON(pair)
}

type refreshPayload struct {
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
}

func (a *HTTPAuthenticator) RefreshPost(c *fiber.Ctx) error {
	token := c.Cookies(RefreshTokenCookie)
	if token == "" {
		payload := new(refreshPayload)
		if err := c.BodyParser(payload); err == nil {
			token = payload.RefreshToken
		}
	}
	if token == "" {
		return a.ErrorHandler(c, ErrTokenInvalid)
	}

	pair, err := a.auth.Refresh(c.UserContext(), token, DeviceFromFiber(c))
	if err != nil {
		if IsSessionInvalid(err) || IsTokenInvalid(err) {
			a.clearTokenCookies(c)
		}
		return a.ErrorHandler(c, err)
	}

	a.SetTokenCookies(c, pair)
	return c.JSON(pair)
}

// LogoutPost ends the current session, or all of them with ?scope=all.
func (a *HTTPAuthenticator) LogoutPost(c *fiber.Ctx) error {
	scope := LogoutDevice
	if strings.EqualFold(c.Query("scope"), "all") {
		scope = LogoutAllDevices
	}

	token := bearerToken(c)
	if token == "" {
		token = c.Cookies(AccessTokenCookie)
	}

	if err := a.auth.Logout(c.UserContext(), token, scope, DeviceFromFiber(c)); err != nil {
		return a.ErrorHandler(c, err)
	}

	a.clearTokenCookies(c)
	return c.SendStatus(fiber.StatusNoContent)
}

func (a *HTTPAuthenticator) MeGet(c *fiber.Ctx) error {
	claims, ok := ClaimsFromFiber(c)
	if !ok {
		return a.ErrorHandler(c, ErrTokenInvalid)
	}
	return c.JSON(fiber.Map{
		"account_id": claims.AccountID,
		"email":      claims.Email,
		"username":   claims.Username,
		"role":       claims.Role,
		"session_id": claims.SessionID,
	})
}

func (a *HTTPAuthenticator) PasswordResetPost(c *fiber.Ctx) error {
	payload := new(InitializePasswordResetMessage)
	if err := c.BodyParser(payload); err != nil {
		return a.ErrorHandler(c, validationError(err, "failed to parse body"))
	}

	if err := NewInitializePasswordResetHandler(a.auth).Execute(c.UserContext(), *payload); err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "if the account exists, a reset link is on its way",
	})
}

func (a *HTTPAuthenticator) PasswordResetExecute(c *fiber.Ctx) error {
	payload := new(FinalizePasswordResetMessage)
	if err := c.BodyParser(payload); err != nil {
		return a.ErrorHandler(c, validationError(err, "failed to parse body"))
	}
	payload.Token = c.Params("token")

	if err := NewFinalizePasswordResetHandler(a.auth).Execute(c.UserContext(), *payload); err != nil {
		return a.ErrorHandler(c, err)
	}

	a.clearTokenCookies(c)
	return c.SendStatus(fiber.StatusNoContent)
}

func (a *HTTPAuthenticator) PasswordChangePost(c *fiber.Ctx) error {
	payload := new(ChangePasswordMessage)
	if err := c.BodyParser(payload); err != nil {
		return a.ErrorHandler(c, validationError(err, "failed to parse body"))
	}

	claims, _ := ClaimsFromFiber(c)
	payload.Claims = claims

	if err := NewChangePasswordHandler(a.auth).Execute(c.UserContext(), *payload); err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (a *HTTPAuthenticator) SessionsGet(c *fiber.Ctx) error {
	claims, _ := ClaimsFromFiber(c)

	sessions, err := a.auth.ActiveSessions(c.UserContext(), claims)
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.JSON(fiber.Map{
		"sessions": sessions,
		"current":  claims.SessionID,
	})
}

func (a *HTTPAuthenticator) SessionDelete(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return a.ErrorHandler(c, ErrNotFound)
	}

	claims, _ := ClaimsFromFiber(c)
	if err := a.auth.TerminateSession(c.UserContext(), claims, id); err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type rolePayload struct {
	Role Role `json:"role" form:"role"`
}

func (a *HTTPAuthenticator) AccountRolePut(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return a.ErrorHandler(c, ErrNotFound)
	}

	payload := new(rolePayload)
	if err := c.BodyParser(payload); err != nil {
		return a.ErrorHandler(c, validationError(err, "failed to parse body"))
	}

	claims, _ := ClaimsFromFiber(c)
	account, err := a.auth.AssignRole(c.UserContext(), claims, id, payload.Role)
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.JSON(fiber.Map{"account": account})
}

func (a *HTTPAuthenticator) AccountUnlockPost(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return a.ErrorHandler(c, ErrNotFound)
	}

	claims, _ := ClaimsFromFiber(c)
	account, err := a.auth.UnlockAccount(c.UserContext(), claims, id)
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.JSON(fiber.Map{"account": account})
}

func (a *HTTPAuthenticator) AccountDelete(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return a.ErrorHandler(c, ErrNotFound)
	}

	claims, _ := ClaimsFromFiber(c)
	if err := a.auth.DeleteAccount(c.UserContext(), claims, id); err != nil {
		return a.ErrorHandler(c, err)
	}

	if claims != nil && claims.AccountID == id {
		a.clearTokenCookies(c)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SetTokenCookies writes both token cookies for pair.
func (a *HTTPAuthenticator) SetTokenCookies(c *fiber.Ctx, pair *TokenPair) {
	now := a.auth.now()
	a.setCookie(c, AccessTokenCookie, pair.Access.Value, pair.Access.ExpiresAt, now)
	a.setCookie(c, RefreshTokenCookie, pair.Refresh.Value, pair.Refresh.ExpiresAt, now)
}

// setCookie writes an HttpOnly cookie whose MaxAge matches the token TTL.
func (a *HTTPAuthenticator) setCookie(c *fiber.Ctx, name, value string, expiresAt, now time.Time) {
	ttl := expiresAt.Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   a.cfg.GetCookieDomain(),
		MaxAge:   int(ttl.Round(time.Second) / time.Second),
		Expires:  expiresAt,
		HTTPOnly: true,
		Secure:   a.cfg.GetCookieSecure(),
		SameSite: "Lax",
	})
}

func (a *HTTPAuthenticator) clearTokenCookies(c *fiber.Ctx) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		c.Cookie(&fiber.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   a.cfg.GetCookieDomain(),
			MaxAge:   -1,
			Expires:  time.Now().Add(-time.Hour * (24 * 365)),
			HTTPOnly: true,
			Secure:   a.cfg.GetCookieSecure(),
			SameSite: "Lax",
		})
	}
}

// defaultErrHandler writes the public form of err. Internal detail is
// logged, never returned.
func (a *HTTPAuthenticator) defaultErrHandler(c *fiber.Ctx, err error) error {
	public := PublicError(err)

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = public
	}

	if public.TextCode == TextCodeServerError {
		a.logger.Error(
			"request failed",
			"path", c.Path(),
			"error", err,
			"details", print.MaybePrettyJSON(richErr.Metadata),
		)
	} else {
		a.logger.Info(
			"request rejected",
			"path", c.Path(),
			"error", richErr.Message,
			"text_code", richErr.TextCode,
			"category", richErr.Category,
		)
	}

	status := public.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}

	body := fiber.Map{
		"code":    public.TextCode,
		"message": public.Message,
	}

	if retry, ok := RetryAfter(public); ok {
		seconds := int(retry / time.Second)
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(seconds))
		body[MetaRetryAfterSeconds] = seconds
	}

	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		body["validation"] = fieldErrs
	}

	return c.Status(status).JSON(fiber.Map{"error": body})
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// DeviceFromFiber reads the client user agent and address.
func DeviceFromFiber(c *fiber.Ctx) DeviceContext {
	return DeviceContext{
		UserAgent: c.Get(fiber.HeaderUserAgent),
		IPAddress: c.IP(),
		DeviceID:  c.Get(HeaderDeviceID),
	}
}

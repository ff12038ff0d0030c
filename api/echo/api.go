package echo

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/keygate-dev/keygate/domain"
	serrors "github.com/keygate-dev/keygate/errors"
	"github.com/keygate-dev/keygate/services"
)

// AuthAPI exposes the authentication core over HTTP.
type AuthAPI struct {
	auth      *services.AuthService
	tokens    *services.TokenService
	twoFactor *services.TwoFactorService
	lockout   *services.LockoutGuard
}

// NewAuthAPI initializes the authentication API.
func NewAuthAPI(
	auth *services.AuthService,
	tokens *services.TokenService,
	twoFactor *services.TwoFactorService,
	lockout *services.LockoutGuard,
) *AuthAPI {
	return &AuthAPI{
		auth:      auth,
		tokens:    tokens,
		twoFactor: twoFactor,
		lockout:   lockout,
	}
}

// RegisterRoutes registers the authentication routes.
func (a *AuthAPI) RegisterRoutes(e *echo.Echo) {
	e.POST("/auth/login", a.LoginHandler)
	e.POST("/auth/refresh", a.RefreshHandler)
	e.POST("/auth/logout", a.LogoutHandler)
	e.POST("/auth/password", a.ChangePasswordHandler)

	e.POST("/auth/2fa/enroll", a.TwoFactorEnrollHandler)
	e.POST("/auth/2fa/confirm", a.TwoFactorConfirmHandler)
	e.POST("/auth/2fa/verify", a.TwoFactorVerifyHandler)
	e.POST("/auth/2fa/backup-codes", a.TwoFactorBackupCodesHandler)
	e.POST("/auth/2fa/disable", a.TwoFactorDisableHandler)

	e.POST("/admin/users/:id/unlock", a.UnlockHandler)
}

type errorResponse struct {
	Error string `json:"error"`
}

type loginRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	TwoFactorCode string `json:"two_factor_code,omitempty"`
	ClientID      string `json:"client_id,omitempty"`
	ClientSecret  string `json:"client_secret,omitempty"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// LoginHandler authenticates an email and password pair, optionally with a
// second-factor code, and returns a token pair.
func (a *AuthAPI) LoginHandler(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "email and password are required"})
	}

	result, err := a.auth.Login(c.Request().Context(), services.LoginInput{
		Email:         req.Email,
		Password:      req.Password,
		TwoFactorCode: req.TwoFactorCode,
		ClientID:      req.ClientID,
		ClientSecret:  req.ClientSecret,
		Meta:          requestMeta(c),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, tokenResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    result.ExpiresIn,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshHandler rotates a refresh token and returns a fresh token pair.
func (a *AuthAPI) RefreshHandler(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "refresh_token is required"})
	}

	result, err := a.auth.Refresh(c.Request().Context(), req.RefreshToken, requestMeta(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, tokenResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    result.ExpiresIn,
	})
}

// LogoutHandler revokes a refresh token. Always returns 204: an unknown or
// already-revoked token leaves the caller in the logged-out state it asked for.
func (a *AuthAPI) LogoutHandler(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "refresh_token is required"})
	}
	if err := a.auth.Logout(c.Request().Context(), req.RefreshToken, requestMeta(c)); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePasswordHandler replaces the caller's password and revokes all of
// their refresh tokens.
func (a *AuthAPI) ChangePasswordHandler(c echo.Context) error {
	claims, err := a.authenticate(c)
	if err != nil {
		return writeError(c, err)
	}

	var req changePasswordRequest
	if err := c.Bind(&req); err != nil || req.OldPassword == "" || req.NewPassword == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "old_password and new_password are required"})
	}

	if err := a.auth.ChangePassword(c.Request().Context(), claims.Subject, req.OldPassword, req.NewPassword, requestMeta(c)); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type enrollResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

// TwoFactorEnrollHandler generates a pending TOTP secret for the caller.
func (a *AuthAPI) TwoFactorEnrollHandler(c echo.Context) error {
	claims, err := a.authenticate(c)
	if err != nil {
		return writeError(c, err)
	}

	enrollment, err := a.twoFactor.Enroll(c.Request().Context(), claims.Subject)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, enrollResponse{
		Secret:          enrollment.Secret,
		ProvisioningURI: enrollment.ProvisioningURI,
	})
}

type confirmRequest struct {
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// TwoFactorConfirmHandler activates a pending secret once the caller proves
// possession with a valid code. The backup codes in the response are shown
// exactly once.
func (a *AuthAPI) TwoFactorConfirmHandler(c echo.Context) error {
	claims, err := a.authenticate(c)
	if err != nil {
		return writeError(c, err)
	}

	var req confirmRequest
	if err := c.Bind(&req); err != nil || req.Secret == "" || req.Code == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "secret and code are required"})
	}

	codes, err := a.twoFactor.ConfirmAndActivate(c.Request().Context(), claims.Subject, req.Secret, req.Code, requestMeta(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

type verifyCodeRequest struct {
	Code string `json:"code"`
}

// TwoFactorVerifyHandler checks a TOTP code against the caller's active
// secret. Intended for step-up checks on already-authenticated sessions.
func (a *AuthAPI) TwoFactorVerifyHandler(c echo.Context) error {
	claims, err := a.authenticate(c)
	if err != nil {
		return writeError(c, err)
	}

	var req verifyCodeRequest
	if err := c.Bind(&req); err != nil || req.Code == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "code is required"})
	}

	if err := a.twoFactor.VerifyCode(c.Request().Context(), claims.Subject, req.Code); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// TwoFactorBackupCodesHandler replaces the caller's backup-code set.
func (a *AuthAPI) TwoFactorBackupCodesHandler(c echo.Context) error {
	claims, err := a.authenticate(c)
	if err != nil {
		return writeError(c, err)
	}

	codes, err := a.twoFactor.RegenerateBackupCodes(c.Request().Context(), claims.Subject)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

// TwoFactorDisableHandler turns the second factor off for the caller.
func (a *AuthAPI) TwoFactorDisableHandler(c echo.Context) error {
	claims, err := a.authenticate(c)
	if err != nil {
		return writeError(c, err)
	}

	if err := a.twoFactor.Disable(c.Request().Context(), claims.Subject, requestMeta(c)); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// UnlockHandler clears a lockout for the named user. Admin only.
func (a *AuthAPI) UnlockHandler(c echo.Context) error {
	claims, err := a.authenticate(c)
	if err != nil {
		return writeError(c, err)
	}
	if !slices.Contains(claims.Roles, "admin") {
		return c.JSON(http.StatusForbidden, errorResponse{Error: "admin role required"})
	}

	if err := a.lockout.Unlock(c.Request().Context(), c.Param("id"), requestMeta(c)); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// authenticate resolves the caller from the Authorization bearer token.
func (a *AuthAPI) authenticate(c echo.Context) (*services.AccessTokenClaims, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	value, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || value == "" {
		return nil, serrors.ErrTokenInvalid
	}
	return a.tokens.VerifyAccessToken(value)
}

func requestMeta(c echo.Context) domain.EventMeta {
	return domain.EventMeta{
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}

// writeError maps the service sentinels onto HTTP statuses. Anything not
// recognized is a 500 with a generic body.
func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, serrors.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
	case errors.Is(err, serrors.ErrAccountLocked):
		return c.JSON(http.StatusForbidden, errorResponse{Error: "account is temporarily locked"})
	case errors.Is(err, serrors.ErrAccountDisabled):
		return c.JSON(http.StatusForbidden, errorResponse{Error: "account is disabled"})
	case errors.Is(err, serrors.ErrTokenInvalid):
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid token"})
	case errors.Is(err, serrors.ErrTwoFactorRequired):
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "two_factor_required"})
	case errors.Is(err, serrors.ErrInvalidTwoFactorCode):
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid two-factor code"})
	case errors.Is(err, serrors.ErrTwoFactorAlreadyEnabled):
		return c.JSON(http.StatusConflict, errorResponse{Error: "two-factor authentication is already enabled"})
	case errors.Is(err, serrors.ErrTwoFactorNotEnabled):
		return c.JSON(http.StatusConflict, errorResponse{Error: "two-factor authentication is not enabled"})
	case errors.Is(err, serrors.ErrInvalidClient):
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid client"})
	case errors.Is(err, serrors.ErrUserNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "user not found"})
	default:
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

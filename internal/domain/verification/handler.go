package verification

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/carepoint/scheduler/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/verification", auth.RequireCapability(auth.CapVerificationUse))
	g.POST("/otp", h.IssueCode)
	g.POST("/otp/verify", h.VerifyCode)
}

type result struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type issueRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrInvalidCode), errors.Is(err, ErrNoActiveCode):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrTooManyAttempts):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, ErrDelivery):
		return echo.NewHTTPError(http.StatusBadGateway, ErrDelivery.Error()).SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "verification is unavailable, please try again").SetInternal(err)
	}
}

// emailOrPrincipal falls back to the caller's own address.
func emailOrPrincipal(c echo.Context, email string) string {
	if email != "" {
		return email
	}
	if p, ok := auth.PrincipalFromContext(c.Request().Context()); ok {
		return p.Email
	}
	return ""
}

func (h *Handler) IssueCode(c echo.Context) error {
	var req issueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	issued, err := h.svc.Issue(c.Request().Context(), emailOrPrincipal(c, req.Email))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result{Success: true, Message: "Verification code sent", Data: issued})
}

func (h *Handler) VerifyCode(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.Verify(c.Request().Context(), emailOrPrincipal(c, req.Email), req.Code); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result{Success: true, Message: "Email verified"})
}

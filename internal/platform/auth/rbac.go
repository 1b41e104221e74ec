package auth

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequireCapability rejects requests whose principal lacks any of caps.
func RequireCapability(caps ...Capability) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			for _, want := range caps {
				if !p.Can(want) {
					return echo.NewHTTPError(http.StatusForbidden, fmt.Sprintf("missing permission: %s", want))
				}
			}
			return next(c)
		}
	}
}

// RequireDoctorOwnership lets a request through only when the principal may
// manage the doctor named by the path parameter param.
func RequireDoctorOwnership(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			doctorID, err := uuid.Parse(c.Param(param))
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
			}
			if !p.CanManageDoctor(doctorID) {
				return echo.NewHTTPError(http.StatusForbidden, "you can only manage your own schedule")
			}
			return next(c)
		}
	}
}

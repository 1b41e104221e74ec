package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carepoint/scheduler/internal/platform/auth"
)

// AuditEntry records who changed which doctor's schedule.
type AuditEntry struct {
	PrincipalID string
	Roles       []string
	DoctorID    string
	Action      string // create, update, delete
	Route       string
	Path        string
	Method      string
	IPAddress   string
	RequestID   string
	StatusCode  int
	Timestamp   time.Time
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every mutating request under /api/v1 after it completes.
// Reads are not audited.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isMutation(req.Method) || !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Route:      c.Path(),
				Path:       req.URL.Path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				RequestID:  requestID(c),
				StatusCode: c.Response().Status,
				Action:     httpMethodToAction(req.Method),
				DoctorID:   extractDoctorID(req.URL.Path),
			}
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				entry.StatusCode = he.Code
			}
			if p, ok := auth.PrincipalFromContext(req.Context()); ok {
				entry.PrincipalID = p.ID.String()
				entry.Roles = p.RoleNames()
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "schedule_audit").
				Str("request_id", entry.RequestID).
				Str("principal_id", entry.PrincipalID).
				Strs("roles", entry.Roles).
				Str("doctor_id", entry.DoctorID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("route", entry.Route).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("schedule_change")

			return err
		}
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractDoctorID finds the id in /api/v1/doctors/<uuid>/... paths.
func extractDoctorID(path string) string {
	const prefix = "/api/v1/doctors/"
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	seg, _, _ := strings.Cut(strings.TrimPrefix(path, prefix), "/")
	if _, err := uuid.Parse(seg); err != nil {
		return ""
	}
	return seg
}

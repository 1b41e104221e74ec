package scheduling

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carepoint/scheduler/internal/platform/auth"
)

// Result is the envelope every schedule endpoint responds with.
type Result struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/doctors/:doctorId/schedule")

	// Read endpoints – any authenticated role
	read := g.Group("", auth.RequireCapability(auth.CapScheduleRead))
	read.GET("/weekly", h.GetWeeklySchedule)
	read.GET("/special", h.ListSpecialSchedules)
	read.GET("/daily", h.GetDailyView)
	read.GET("/monthly", h.GetMonthlyView)

	// Write endpoints – the doctor themself or an admin
	write := g.Group("", auth.RequireCapability(auth.CapScheduleWrite), auth.RequireDoctorOwnership("doctorId"))
	write.PUT("/weekly", h.BulkUpdate)
	write.PUT("/weekly/:day", h.UpsertWeeklySchedule)
	write.DELETE("/weekly/:day", h.DeleteWeeklySchedule)
	write.POST("/weekly/:day/copy", h.CopyWeeklySchedule)
	write.DELETE("", h.ClearAll)
	write.POST("/special", h.CreateSpecialSchedule)
	write.PUT("/special/:id", h.UpdateSpecialSchedule)
	write.DELETE("/special/:id", h.DeleteSpecialSchedule)
	write.GET("/templates", h.ListTemplates)
	write.POST("/templates", h.SaveTemplate)
	write.POST("/templates/:id/apply", h.ApplyTemplate)
}

// httpError maps an engine error onto an HTTP status.
func httpError(err error) *echo.HTTPError {
	var status int
	switch {
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrConflict):
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}
	return echo.NewHTTPError(status, Message(err)).SetInternal(err)
}

func doctorParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	return id, nil
}

func dayParam(c echo.Context) (int, error) {
	day, err := strconv.Atoi(c.Param("day"))
	if err != nil || !validDay(day) {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "day must be a number from 0 (Sunday) to 6 (Saturday)")
	}
	return day, nil
}

func idParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// ruleRequest is the JSON form of a Rule. Availability defaults to true and
// slot duration to 30 minutes when omitted.
type ruleRequest struct {
	StartTime           *TimeOfDay `json:"start_time"`
	EndTime             *TimeOfDay `json:"end_time"`
	BreakStartTime      *TimeOfDay `json:"break_start_time"`
	BreakEndTime        *TimeOfDay `json:"break_end_time"`
	SlotDurationMinutes int        `json:"slot_duration_minutes"`
	IsAvailable         *bool      `json:"is_available"`
}

func (r ruleRequest) toRule() (Rule, error) {
	if r.StartTime == nil || r.EndTime == nil {
		return Rule{}, echo.NewHTTPError(http.StatusBadRequest, "start_time and end_time are required")
	}
	rule := Rule{
		StartTime:           *r.StartTime,
		EndTime:             *r.EndTime,
		BreakStartTime:      r.BreakStartTime,
		BreakEndTime:        r.BreakEndTime,
		SlotDurationMinutes: r.SlotDurationMinutes,
		IsAvailable:         true,
	}
	if rule.SlotDurationMinutes == 0 {
		rule.SlotDurationMinutes = DefaultSlotDuration
	}
	if r.IsAvailable != nil {
		rule.IsAvailable = *r.IsAvailable
	}
	return rule, nil
}

func bindError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprint(he.Message))
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

// -- Weekly Schedule Handlers --

func (h *Handler) GetWeeklySchedule(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	items, err := h.svc.GetWeeklySchedule(c.Request().Context(), doctorID)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*WeeklySchedule{}
	}
	return c.JSON(http.StatusOK, Result{Success: true, Data: items})
}

func (h *Handler) UpsertWeeklySchedule(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	day, err := dayParam(c)
	if err != nil {
		return err
	}
	var req ruleRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	rule, err := req.toRule()
	if err != nil {
		return err
	}
	ws, err := h.svc.UpsertWeeklySchedule(c.Request().Context(), doctorID, day, rule)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, Result{Success: true, Message: "Schedule for " + DayName(day) + " saved", Data: ws})
}

func (h *Handler) DeleteWeeklySchedule(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	day, err := dayParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteWeeklySchedule(c.Request().Context(), doctorID, day); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, Result{Success: true, Message: "Schedule for " + DayName(day) + " deleted"})
}

type copyRequest struct {
	TargetDays []int `json:"target_days"`
}

func (h *Handler) CopyWeeklySchedule(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	day, err := dayParam(c)
	if err != nil {
		return err
	}
	var req copyRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	n, err := h.svc.CopyWeeklySchedule(c.Request().Context(), doctorID, day, req.TargetDays)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, Result{
		Success: true,
		Message: fmt.Sprintf("%s schedule copied to %s", DayName(day), plural(n, "day")),
		Data:    map[string]int{"copied": n},
	})
}

type bulkRequest struct {
	Days []int `json:"days"`
	ruleRequest
}

func (h *Handler) BulkUpdate(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	var req bulkRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	rule, err := req.toRule()
	if err != nil {
		return err
	}
	saved, err := h.svc.BulkUpdate(c.Request().Context(), doctorID, req.Days, rule)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, Result{Success: true, Message: "Updated " + plural(len(saved), "day"), Data: saved})
}

func (h *Handler) ClearAll(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	res, err := h.svc.ClearAll(c.Request().Context(), doctorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, Result{Success: true, Message: "All schedules cleared", Data: res})
}

// -- Special Schedule Handlers --

func (h *Handler) ListSpecialSchedules(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	from, to := monthBounds(h.svc.Today())
	if v := c.QueryParam("from"); v != "" {
		if from, err = ParseDate(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if to, err = ParseDate(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	items, err := h.svc.ListSpecialSchedules(c.Request().Context(), doctorID, from, to)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*SpecialSchedule{}
	}
	return c.JSON(http.StatusOK, Result{Success: true, Data: items})
}

func (h *Handler) CreateSpecialSchedule(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	var in SpecialScheduleInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	sp, err := h.svc.CreateSpecialSchedule(c.Request().Context(), doctorID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, Result{Success: true, Message: "Special schedule created for " + sp.DateString(), Data: sp})
}

func (h *Handler) UpdateSpecialSchedule(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var in SpecialScheduleInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	sp, err := h.svc.UpdateSpecialSchedule(c.Request().Context(), doctorID, id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, Result{Success: true, Message: "Special schedule updated", Data: sp})
}

func (h *Handler) DeleteSpecialSchedule(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	id, err := idParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteSpecialSchedule(c.Request().Context(), doctorID, id); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, Result{Success: true, Message: "Special schedule deleted"})
}

// -- Template Handlers --

func (h *Handler) ListTemplates(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListTemplates(c.Request().Context(), doctorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, Result{Success: true, Data: items})
}

type templateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsDefault   bool   `json:"is_default"`
}

func (h *Handler) SaveTemplate(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	var req templateRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	t, err := h.svc.SaveTemplate(c.Request().Context(), doctorID, req.Name, req.Description, req.IsDefault)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, Result{Success: true, Message: "Template \"" + t.Name + "\" saved", Data: t})
}

func (h *Handler) ApplyTemplate(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	id, err := idParam(c)
	if err != nil {
		return err
	}
	n, err := h.svc.ApplyTemplate(c.Request().Context(), doctorID, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, Result{
		Success: true,
		Message: "Template applied to " + plural(n, "day"),
		Data:    map[string]int{"applied": n},
	})
}

// -- View Handlers --

func (h *Handler) GetDailyView(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	date := h.svc.Today()
	if v := c.QueryParam("date"); v != "" {
		if date, err = ParseDate(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	view, err := h.svc.GetDailyView(c.Request().Context(), doctorID, date)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, Result{Success: true, Data: view})
}

func (h *Handler) GetMonthlyView(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	month := h.svc.Today()
	if v := c.QueryParam("month"); v != "" {
		if month, err = ParseMonth(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	view, err := h.svc.GetMonthlyView(c.Request().Context(), doctorID, month)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, Result{Success: true, Data: view})
}

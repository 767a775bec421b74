package app

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"scheduler-service/internal/availability"
	"scheduler-service/internal/booking"
	"scheduler-service/internal/model"
)

// writeError maps domain errors onto HTTP statuses.
func (a *App) writeError(c *gin.Context, err error) {
	code := model.Code(err)
	body := gin.H{"error": err.Error(), "code": code}

	var status int
	switch code {
	case "Validation":
		status = http.StatusBadRequest
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			body["fields"] = verr.Fields
		}
	case "NotFound":
		status = http.StatusNotFound
	case "SlotTaken", "InvalidState":
		status = http.StatusConflict
	case "OutsideAvailability", "InvalidWindow", "NoSlotAvailable":
		status = http.StatusUnprocessableEntity
	default:
		status = http.StatusInternalServerError
		a.logger().Error("request failed", "path", c.FullPath(), "error", err)
		body["error"] = "internal error"
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, field, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":  field + ": " + msg,
		"code":   "Validation",
		"fields": map[string]string{field: msg},
	})
}

// PUT /api/resources/:id
func (a *App) SaveResourceHandler(c *gin.Context) {
	var payload model.Resource
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	payload.ID = c.Param("id")
	if payload.Name == "" {
		badRequest(c, "name", "is required")
		return
	}
	if _, err := payload.Location(); err != nil {
		badRequest(c, "timezone", "unknown timezone")
		return
	}
	if err := a.Store.SaveResource(c.Request.Context(), &payload); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

// GET /api/resources/:id
func (a *App) GetResourceHandler(c *gin.Context) {
	r, err := a.Store.GetResource(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// POST /api/resources/:id/services
func (a *App) SaveServiceHandler(c *gin.Context) {
	var payload model.ServiceDefinition
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	payload.ResourceID = c.Param("id")
	ctx := c.Request.Context()

	if payload.ID == "" || payload.Name == "" {
		badRequest(c, "id", "id and name are required")
		return
	}
	if payload.DurationMinutes <= 0 {
		badRequest(c, "duration_minutes", "must be positive")
		return
	}
	for _, m := range payload.AllowedDurations {
		if m <= 0 {
			badRequest(c, "allowed_durations", "must be positive")
			return
		}
	}
	if _, err := a.Store.GetResource(ctx, payload.ResourceID); err != nil {
		a.writeError(c, err)
		return
	}
	if err := a.Store.SaveService(ctx, &payload); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payload)
}

// GET /api/resources/:id/services
func (a *App) ListServicesHandler(c *gin.Context) {
	services, err := a.Store.ListServices(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	if services == nil {
		services = []model.ServiceDefinition{}
	}
	c.JSON(http.StatusOK, services)
}

// POST /api/resources/:id/availability
// Accepts a list of rules.
func (a *App) SetAvailabilityHandler(c *gin.Context) {
	resourceID := c.Param("id")
	var payload []availabilityRuleRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	ctx := c.Request.Context()
	if _, err := a.Store.GetResource(ctx, resourceID); err != nil {
		a.writeError(c, err)
		return
	}
	rules := make([]model.AvailabilityRule, 0, len(payload))
	for _, r := range payload {
		rule := r.rule(resourceID)
		if err := availability.ValidateRule(rule); err != nil {
			a.writeError(c, err)
			return
		}
		rules = append(rules, rule)
	}

	for i := range rules {
		if err := a.Store.InsertAvailabilityRule(ctx, &rules[i]); err != nil {
			a.writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusCreated, rules)
}

// PUT /api/resources/:id/availability/:rule_id
func (a *App) UpdateAvailabilityHandler(c *gin.Context) {
	ruleID, err := strconv.Atoi(c.Param("rule_id"))
	if err != nil {
		badRequest(c, "rule_id", "must be an integer")
		return
	}
	var req availabilityRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	rule := req.rule(c.Param("id"))
	rule.ID = ruleID
	if err := availability.ValidateRule(rule); err != nil {
		a.writeError(c, err)
		return
	}
	if err := a.Store.UpdateAvailabilityRule(c.Request.Context(), &rule); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// GET /api/resources/:id/availability
func (a *App) ListAvailabilityHandler(c *gin.Context) {
	rules, err := a.Store.ListAvailabilityRules(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	if rules == nil {
		rules = []model.AvailabilityRule{}
	}
	c.JSON(http.StatusOK, rules)
}

// POST /api/resources/:id/bookings
func (a *App) CreateBookingHandler(c *gin.Context) {
	var req booking.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	req.ResourceID = c.Param("id")

	res, err := a.Orchestrator.CreateBooking(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newBookingResponse(res))
}

// GET /api/resources/:id/bookings?from=ISO&to=ISO
func (a *App) ListBookingsHandler(c *gin.Context) {
	from, to, ok := optionalRange(c)
	if !ok {
		return
	}
	bookings, err := a.Store.ListBookings(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		a.writeError(c, err)
		return
	}
	if bookings == nil {
		bookings = []model.Booking{}
	}
	c.JSON(http.StatusOK, bookings)
}

// GET /api/bookings/:id
func (a *App) GetBookingHandler(c *gin.Context) {
	b, err := a.Orchestrator.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// POST /api/bookings/:id/cancel and DELETE /api/bookings/:id
func (a *App) CancelBookingHandler(c *gin.Context) {
	res, err := a.Orchestrator.CancelBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBookingResponse(res))
}

// POST /api/bookings/:id/reschedule
func (a *App) RescheduleBookingHandler(c *gin.Context) {
	var req rescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	if req.StartAtUTC.IsZero() {
		badRequest(c, "start_at_utc", "is required")
		return
	}
	res, err := a.Orchestrator.RescheduleBooking(c.Request.Context(), c.Param("id"), req.StartAtUTC)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBookingResponse(res))
}

// POST /api/resources/:id/bulk-reschedule
func (a *App) BulkRescheduleHandler(c *gin.Context) {
	var req bulkRescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	resourceID := c.Param("id")
	ctx := c.Request.Context()

	var (
		tally *booking.Tally
		err   error
	)
	switch {
	case req.Days != nil || req.NewDays != nil:
		if req.Days == nil || req.NewDays == nil {
			badRequest(c, "days", "days and new_days must be given together")
			return
		}
		tally, err = a.Bulk.BulkRescheduleDays(ctx, resourceID, *req.Days, *req.NewDays)
	default:
		if len(req.Windows) == 0 {
			badRequest(c, "windows", "at least one replacement window is required")
			return
		}
		for _, w := range req.Windows {
			if !w.Valid() {
				badRequest(c, "windows", "every window must end after it starts")
				return
			}
		}
		affected := model.Interval{Start: req.RangeStart.UTC(), End: req.RangeEnd.UTC()}
		tally, err = a.Bulk.BulkReschedule(ctx, resourceID, affected, req.Windows)
	}
	if err != nil && tally == nil {
		a.writeError(c, err)
		return
	}
	if err != nil {
		a.logger().Warn("bulk reschedule interrupted", "resource_id", resourceID, "error", err)
	}
	c.JSON(http.StatusOK, tally)
}

// optionalRange reads from/to query parameters; either may be absent.
func optionalRange(c *gin.Context) (from, to time.Time, ok bool) {
	var err error
	if s := c.Query("from"); s != "" {
		if from, err = time.Parse(time.RFC3339, s); err != nil {
			badRequest(c, "from", "must be RFC3339")
			return from, to, false
		}
	}
	if s := c.Query("to"); s != "" {
		if to, err = time.Parse(time.RFC3339, s); err != nil {
			badRequest(c, "to", "must be RFC3339")
			return from, to, false
		}
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		badRequest(c, "to", "from must be before to")
		return from, to, false
	}
	return from.UTC(), to.UTC(), true
}

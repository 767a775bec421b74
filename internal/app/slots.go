package app

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"scheduler-service/internal/availability"
	"scheduler-service/internal/model"
	"scheduler-service/internal/slots"
)

// maxSlotRange bounds a single slot query.
const maxSlotRange = 31 * 24 * time.Hour

// GET /api/resources/:id/slots?service_id=ID&from=ISO&to=ISO[&duration_minutes=N]
func (a *App) GetSlotsHandler(c *gin.Context) {
	resourceID := c.Param("id")
	serviceID := c.Query("service_id")
	if serviceID == "" {
		badRequest(c, "service_id", "is required")
		return
	}
	if c.Query("from") == "" || c.Query("to") == "" {
		badRequest(c, "from", "from and to required (ISO8601)")
		return
	}
	from, to, ok := optionalRange(c)
	if !ok {
		return
	}
	if to.Sub(from) > maxSlotRange {
		badRequest(c, "to", "range must not exceed 31 days")
		return
	}
	var minutes int
	if s := c.Query("duration_minutes"); s != "" {
		var err error
		if minutes, err = strconv.Atoi(s); err != nil || minutes <= 0 {
			badRequest(c, "duration_minutes", "must be a positive integer")
			return
		}
	}

	free, err := a.AvailableSlots(c.Request.Context(), resourceID, serviceID, from, to, minutes)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": free, "count": len(free)})
}

// AvailableSlots lists free start times for the service between from and to,
// skipping anything before now. Bookings are read once for the whole range;
// the listing is advisory and create re-checks under the resource lock.
func (a *App) AvailableSlots(ctx context.Context, resourceID, serviceID string, from, to time.Time, durationMinutes int) ([]Slot, error) {
	resource, err := a.Store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	svc, err := a.Store.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if !svc.Active || svc.ResourceID != resource.ID {
		return nil, fmt.Errorf("service %s: %w", serviceID, model.ErrNotFound)
	}
	duration := svc.Duration()
	if durationMinutes > 0 {
		duration = time.Duration(durationMinutes) * time.Minute
		if !svc.Allows(duration) {
			v := &model.ValidationError{}
			v.Add("duration_minutes", "not offered by this service")
			return nil, v
		}
	}

	rules, err := a.Store.ListAvailabilityRules(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	avail, err := availability.New(*resource, rules)
	if err != nil {
		return nil, err
	}

	bounds := model.Interval{Start: from, End: to}
	var windows []model.Interval
	for _, w := range avail.Windows(from, to) {
		if w.Start.Before(bounds.Start) {
			w.Start = bounds.Start
		}
		if w.End.After(bounds.End) {
			w.End = bounds.End
		}
		if w.Valid() {
			windows = append(windows, w)
		}
	}

	confirmed, err := a.Store.FindBookingsByResourceAndRange(ctx, resourceID, from, to, model.StatusConfirmed)
	if err != nil {
		return nil, err
	}
	busy := make(slots.BusySet, 0, len(confirmed))
	for _, b := range confirmed {
		busy = append(busy, b.Window())
	}
	found, err := slots.FreeSlots(ctx, busy, resourceID, windows, duration, slots.Options{
		Granularity: a.granularity(),
		NotBefore:   a.now(),
	})
	if err != nil {
		return nil, err
	}
	out := make([]Slot, 0, len(found))
	for _, s := range found {
		out = append(out, Slot{StartUTC: s.Start, EndUTC: s.End})
	}
	return out, nil
}

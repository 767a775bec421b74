package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"scheduler-service/internal/calsync"
	"scheduler-service/internal/model"
)

const stateTTL = 10 * time.Minute

type stateClaims struct {
	CalendarID string `json:"cal,omitempty"`
	jwt.RegisteredClaims
}

func (a *App) calendarDisabled(c *gin.Context) bool {
	if a.OAuth == nil || a.Calendar == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google Calendar not configured", "code": "NotConfigured"})
		return true
	}
	return false
}

// GoogleAuthHandler initiates the OAuth2 flow for a resource.
// GET /api/calendar/auth?resource_id=ID[&calendar_id=ID]
func (a *App) GoogleAuthHandler(c *gin.Context) {
	if a.calendarDisabled(c) {
		return
	}
	resourceID := c.Query("resource_id")
	if resourceID == "" {
		badRequest(c, "resource_id", "is required")
		return
	}
	if _, err := a.Store.GetResource(c.Request.Context(), resourceID); err != nil {
		a.writeError(c, err)
		return
	}

	now := a.now()
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, stateClaims{
		CalendarID: c.Query("calendar_id"),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   resourceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
	}).SignedString(a.StateKey)
	if err != nil {
		a.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, calendarAuthResponse{
		AuthURL: a.OAuth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce),
		State:   state,
	})
}

// GoogleOAuth2CallbackHandler exchanges the code and stores the token for the
// resource named in the signed state.
func (a *App) GoogleOAuth2CallbackHandler(c *gin.Context) {
	if a.calendarDisabled(c) {
		return
	}
	code := c.Query("code")
	if code == "" {
		badRequest(c, "code", "authorization code required")
		return
	}

	var claims stateClaims
	_, err := jwt.ParseWithClaims(c.Query("state"), &claims, func(t *jwt.Token) (interface{}, error) {
		return a.StateKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil || claims.Subject == "" {
		badRequest(c, "state", "invalid or expired state")
		return
	}

	ctx := c.Request.Context()
	token, err := a.OAuth.Exchange(ctx, code)
	if err != nil {
		a.logger().Warn("oauth code exchange failed", "resource_id", claims.Subject, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to exchange code for token", "code": "ExternalError"})
		return
	}
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		a.writeError(c, err)
		return
	}

	cred := model.CalendarCredential{
		ResourceID: claims.Subject,
		CalendarID: claims.CalendarID,
		Token:      tokenJSON,
	}
	if err := a.Store.SaveCalendarCredential(ctx, &cred); err != nil {
		a.writeError(c, err)
		return
	}
	a.logger().Info("calendar connected", "resource_id", cred.ResourceID)
	c.JSON(http.StatusOK, gin.H{
		"message":     "Authorization successful",
		"resource_id": cred.ResourceID,
		"calendar_id": cred.CalendarID,
	})
}

// CalendarBusyHandler lists busy intervals on the connected calendar.
// GET /api/resources/:id/calendar/busy?from=ISO&to=ISO
func (a *App) CalendarBusyHandler(c *gin.Context) {
	if a.calendarDisabled(c) {
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
	ctx := c.Request.Context()
	resource, err := a.Store.GetResource(ctx, c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	busy, err := a.Calendar.ListBusyIntervals(ctx, *resource, from, to)
	if err != nil {
		a.writeCalendarError(c, err)
		return
	}
	if busy == nil {
		busy = []model.Interval{}
	}
	c.JSON(http.StatusOK, gin.H{"busy": busy, "count": len(busy)})
}

// GoogleCalendarListHandler lists the calendars the resource's credential can see.
func (a *App) GoogleCalendarListHandler(c *gin.Context) {
	if a.calendarDisabled(c) {
		return
	}
	ctx := c.Request.Context()
	resource, err := a.Store.GetResource(ctx, c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	calendars, err := a.Calendar.ListCalendars(ctx, *resource)
	if err != nil {
		a.writeCalendarError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calendars": calendars, "count": len(calendars)})
}

func (a *App) writeCalendarError(c *gin.Context, err error) {
	var serr *calsync.Error
	switch {
	case errors.Is(err, calsync.ErrNotConfigured):
		c.JSON(http.StatusConflict, gin.H{"error": "calendar not connected for resource", "code": "NotConfigured"})
	case errors.As(err, &serr):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "code": "ExternalError"})
	default:
		a.writeError(c, err)
	}
}

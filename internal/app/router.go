package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures the middleware chain.
type RouterOptions struct {
	Auth    gin.HandlerFunc
	Limiter *RateLimiter
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// NewRouter wires every route onto a fresh gin engine.
func (a *App) NewRouter(opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(a.logger()))

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// OAuth2 callback (must be before auth middleware)
	router.GET("/oauth2callback", a.GoogleOAuth2CallbackHandler)

	api := router.Group("/api")
	if opts.Limiter != nil {
		api.Use(opts.Limiter.Middleware())
	}
	if opts.Auth != nil {
		api.Use(opts.Auth)
	}
	{
		resources := api.Group("/resources")
		{
			resources.PUT("/:id", a.SaveResourceHandler)
			resources.GET("/:id", a.GetResourceHandler)
			resources.POST("/:id/services", a.SaveServiceHandler)
			resources.GET("/:id/services", a.ListServicesHandler)
			resources.POST("/:id/availability", a.SetAvailabilityHandler)
			resources.PUT("/:id/availability/:rule_id", a.UpdateAvailabilityHandler)
			resources.GET("/:id/availability", a.ListAvailabilityHandler)
			resources.GET("/:id/slots", a.GetSlotsHandler)
			resources.POST("/:id/bookings", a.CreateBookingHandler)
			resources.GET("/:id/bookings", a.ListBookingsHandler)
			resources.POST("/:id/bulk-reschedule", a.BulkRescheduleHandler)
			resources.GET("/:id/calendar/busy", a.CalendarBusyHandler)
			resources.GET("/:id/calendar/calendars", a.GoogleCalendarListHandler)
		}

		bookings := api.Group("/bookings")
		{
			bookings.GET("/:id", a.GetBookingHandler)
			bookings.POST("/:id/cancel", a.CancelBookingHandler)
			bookings.DELETE("/:id", a.CancelBookingHandler)
			bookings.POST("/:id/reschedule", a.RescheduleBookingHandler)
		}

		// Google Calendar integration routes
		calendar := api.Group("/calendar")
		{
			calendar.GET("/auth", a.GoogleAuthHandler)
		}
	}
	return router
}

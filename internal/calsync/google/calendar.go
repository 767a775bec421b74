// Package google mirrors bookings into Google Calendar events.
package google

import (
	"context"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"scheduler-service/internal/calsync"
	"scheduler-service/internal/model"
	"scheduler-service/pkg/logging"
)

const bookingIDProperty = "booking_id"

// CredentialSource returns the token blob stored for a resource by the
// calendar connect flow. Tokens are used as-is and never refreshed here.
type CredentialSource interface {
	GetCalendarCredential(ctx context.Context, resourceID string) (*model.CalendarCredential, error)
}

// OAuthConfig builds the OAuth2 client used by the calendar connect flow.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			calendar.CalendarEventsScope,
			calendar.CalendarReadonlyScope,
		},
		Endpoint: googleoauth.Endpoint,
	}
}

// Adapter is the calendar-kind calsync.Adapter and BusySource.
type Adapter struct {
	creds      CredentialSource
	logger     *logging.Logger
	clientOpts []option.ClientOption
}

// NewAdapter creates a Google Calendar adapter. Extra client options are
// appended to every service (endpoint overrides in tests).
func NewAdapter(creds CredentialSource, logger *logging.Logger, opts ...option.ClientOption) *Adapter {
	if creds == nil {
		panic("google: credential source required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Adapter{creds: creds, logger: logger, clientOpts: opts}
}

var (
	_ calsync.Adapter    = (*Adapter)(nil)
	_ calsync.BusySource = (*Adapter)(nil)
)

func (a *Adapter) Kind() model.ProviderKind { return model.ProviderCalendar }

func (a *Adapter) Create(ctx context.Context, resource model.Resource, b model.Booking) (calsync.Artifact, error) {
	srv, calendarID, err := a.service(ctx, resource)
	if err != nil {
		return calsync.Artifact{}, err
	}
	event := toEvent(resource, b)
	event.Id = eventID(b.ID)
	created, err := srv.Events.Insert(calendarID, event).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if !errors.As(err, &gerr) || gerr.Code != http.StatusConflict {
			return calsync.Artifact{}, classify("create", err)
		}
		// An earlier attempt already created it, or it was deleted and
		// keeps its id. Either way overwrite it with the current booking.
		event.Status = "confirmed"
		if created, err = srv.Events.Update(calendarID, event.Id, event).Context(ctx).Do(); err != nil {
			return calsync.Artifact{}, classify("create", err)
		}
	}
	a.logger.Info("calendar event created", "resource_id", resource.ID, "booking_id", b.ID, "event_id", created.Id)
	return calsync.Artifact{ExternalID: created.Id}, nil
}

var eventIDEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// eventID derives the client-supplied event id from the booking id, so a
// retried insert collides instead of duplicating. Google accepts lowercase
// base32hex ids of 5 to 1024 characters.
func eventID(bookingID string) string {
	return "bk" + strings.ToLower(eventIDEncoding.EncodeToString([]byte(bookingID)))
}

func (a *Adapter) Update(ctx context.Context, resource model.Resource, b model.Booking, externalID string) error {
	srv, calendarID, err := a.service(ctx, resource)
	if err != nil {
		return err
	}
	if _, err := srv.Events.Patch(calendarID, externalID, toEvent(resource, b)).Context(ctx).Do(); err != nil {
		return classify("update", err)
	}
	a.logger.Info("calendar event updated", "resource_id", resource.ID, "booking_id", b.ID, "event_id", externalID)
	return nil
}

func (a *Adapter) Delete(ctx context.Context, resource model.Resource, externalID string) error {
	srv, calendarID, err := a.service(ctx, resource)
	if err != nil {
		return err
	}
	if err := srv.Events.Delete(calendarID, externalID).Context(ctx).Do(); err != nil {
		cerr := classify("delete", err)
		// Already gone is what we wanted.
		if errors.Is(cerr, calsync.ErrExternalNotFound) {
			return nil
		}
		return cerr
	}
	a.logger.Info("calendar event deleted", "resource_id", resource.ID, "event_id", externalID)
	return nil
}

// ListBusyIntervals queries free/busy for the resource calendar.
func (a *Adapter) ListBusyIntervals(ctx context.Context, resource model.Resource, dayStart, dayEnd time.Time) ([]model.Interval, error) {
	srv, calendarID, err := a.service(ctx, resource)
	if err != nil {
		return nil, err
	}
	resp, err := srv.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: dayStart.UTC().Format(time.RFC3339),
		TimeMax: dayEnd.UTC().Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, classify("freebusy", err)
	}
	cal, ok := resp.Calendars[calendarID]
	if !ok {
		return nil, nil
	}
	if len(cal.Errors) > 0 {
		return nil, calsync.NewError(model.ProviderCalendar, "freebusy", 0, fmt.Errorf("calendar %s: %s", calendarID, cal.Errors[0].Reason))
	}
	out := make([]model.Interval, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		start, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			continue
		}
		out = append(out, model.Interval{Start: start.UTC(), End: end.UTC()})
	}
	return out, nil
}

// CalendarInfo is a calendar visible to the connected account.
type CalendarInfo struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Primary     bool   `json:"primary"`
	AccessRole  string `json:"access_role"`
}

// ListCalendars returns the calendars the resource's credential can see.
func (a *Adapter) ListCalendars(ctx context.Context, resource model.Resource) ([]CalendarInfo, error) {
	srv, _, err := a.service(ctx, resource)
	if err != nil {
		return nil, err
	}
	list, err := srv.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, classify("list_calendars", err)
	}
	calendars := make([]CalendarInfo, 0, len(list.Items))
	for _, item := range list.Items {
		calendars = append(calendars, CalendarInfo{
			ID:          item.Id,
			Summary:     item.Summary,
			Description: item.Description,
			Primary:     item.Primary,
			AccessRole:  item.AccessRole,
		})
	}
	return calendars, nil
}

func (a *Adapter) service(ctx context.Context, resource model.Resource) (*calendar.Service, string, error) {
	cred, err := a.creds.GetCalendarCredential(ctx, resource.ID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, "", calsync.ErrNotConfigured
	}
	if err != nil {
		return nil, "", fmt.Errorf("google: load credential: %w", err)
	}

	calendarID := resource.CalendarID
	if calendarID == "" {
		calendarID = cred.CalendarID
	}
	if calendarID == "" {
		calendarID = "primary"
	}

	var token oauth2.Token
	if err := json.Unmarshal(cred.Token, &token); err != nil {
		return nil, "", calsync.NewError(model.ProviderCalendar, "auth", 0, fmt.Errorf("invalid stored token: %w", err))
	}

	opts := append([]option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(&token))}, a.clientOpts...)
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("google: create calendar service: %w", err)
	}
	return srv, calendarID, nil
}

func toEvent(resource model.Resource, b model.Booking) *calendar.Event {
	tz := resource.Timezone
	if tz == "" {
		tz = "UTC"
	}
	var desc strings.Builder
	fmt.Fprintf(&desc, "Client: %s <%s>", b.ClientName, b.ClientEmail)
	if b.ClientPhone != "" {
		fmt.Fprintf(&desc, "\nPhone: %s", b.ClientPhone)
	}
	if b.Notes != "" {
		fmt.Fprintf(&desc, "\n\n%s", b.Notes)
	}
	return &calendar.Event{
		Summary:     "Appointment: " + b.ClientName,
		Description: desc.String(),
		Start:       &calendar.EventDateTime{DateTime: b.Start.Format(time.RFC3339), TimeZone: tz},
		End:         &calendar.EventDateTime{DateTime: b.End.Format(time.RFC3339), TimeZone: tz},
		Attendees:   []*calendar.EventAttendee{{Email: b.ClientEmail, DisplayName: b.ClientName}},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{bookingIDProperty: b.ID},
		},
	}
}

func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return calsync.NewError(model.ProviderCalendar, op, gerr.Code, err)
	}
	return calsync.NewError(model.ProviderCalendar, op, 0, err)
}

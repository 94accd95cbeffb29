package icloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"

	"calarchive/internal/models"
	"calarchive/internal/store"
)

const (
	// DefaultEndpoint is the iCloud CalDAV endpoint.
	DefaultEndpoint = "https://caldav.icloud.com/"
)

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "calarchive/1.0")
	return t.Transport.RoundTrip(req)
}

// Store is an archive store.Store backed by a CalDAV calendar (iCloud by default).
type Store struct {
	client       *caldav.Client
	logger       *slog.Logger
	calendarPath string
}

var _ store.Store = (*Store)(nil)

// NewStore connects to the CalDAV server and resolves the calendar named calendarName.
func NewStore(ctx context.Context, logger *slog.Logger, endpoint, username, password, calendarName string) (*Store, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	transport := &customTransport{
		Username:  username,
		Password:  password,
		Transport: http.DefaultTransport,
	}
	httpClient := &http.Client{Transport: transport, Timeout: 30 * time.Second}

	client, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	s := &Store{client: client, logger: logger}

	logger.Info("Finding archive calendar", "calendarName", calendarName)
	calendarPath, err := s.findCalendar(ctx, calendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", calendarName, err)
	}
	s.calendarPath = calendarPath
	logger.Info("Successfully found archive calendar", "path", calendarPath)

	return s, nil
}

// Add writes a new archived appointment. It fails with store.ErrAlreadyExists
// when the instance or its (owner, start, end, subject) identity is already present.
func (s *Store) Add(ctx context.Context, a models.Appointment) error {
	existing, err := s.List(ctx, a.Start, a.End)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.InstanceKey() == a.InstanceKey() || store.UniqueKey(e) == store.UniqueKey(a) {
			return store.ErrAlreadyExists
		}
	}
	return s.put(ctx, s.objectPath(a.InstanceKey()), a)
}

// Get returns the archived appointment with the given instance key.
func (s *Store) Get(ctx context.Context, key string) (models.Appointment, error) {
	obj, err := s.find(ctx, key)
	if err != nil {
		return models.Appointment{}, err
	}
	return decodeObject(obj)
}

// List returns archived appointments overlapping [from, to).
func (s *Store) List(ctx context.Context, from, to time.Time) ([]models.Appointment, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{Name: ical.CompEvent, AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []caldav.CompFilter{{Name: ical.CompEvent, Start: from.UTC(), End: to.UTC()}},
		},
	}
	objects, err := s.client.QueryCalendar(ctx, s.calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar: %w", err)
	}

	out := make([]models.Appointment, 0, len(objects))
	for i := range objects {
		a, err := decodeObject(&objects[i])
		if err != nil {
			s.logger.Warn("Skipping undecodable calendar object", "path", objects[i].Path, "error", err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Update replaces an archived appointment. Only its owner may change it.
func (s *Store) Update(ctx context.Context, a models.Appointment, actor string) error {
	obj, err := s.find(ctx, a.InstanceKey())
	if err != nil {
		return err
	}
	stored, err := decodeObject(obj)
	if err != nil {
		return err
	}
	if !store.CanModify(stored, actor) {
		return store.ErrForbidden
	}
	return s.put(ctx, obj.Path, a)
}

// Delete removes the archived appointment with the given instance key.
func (s *Store) Delete(ctx context.Context, key string) error {
	obj, err := s.find(ctx, key)
	if err != nil {
		return err
	}
	if err := s.client.RemoveAll(ctx, obj.Path); err != nil {
		return fmt.Errorf("failed to delete calendar object: %w", err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, objectPath string, a models.Appointment) error {
	s.logger.Debug("Writing archived appointment", "subject", a.Subject, "key", a.InstanceKey())

	if _, err := s.client.PutCalendarObject(ctx, objectPath, NewCalendar(a, time.Now())); err != nil {
		return fmt.Errorf("failed to write event to CalDAV server: %w", err)
	}
	return nil
}

// find looks an object up by the UID derived from its instance key.
func (s *Store) find(ctx context.Context, key string) (*caldav.CalendarObject, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{Name: ical.CompEvent, AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Props: []caldav.PropFilter{{Name: ical.PropUID, TextMatch: &caldav.TextMatch{Text: UIDFor(key)}}},
			}},
		},
	}
	objects, err := s.client.QueryCalendar(ctx, s.calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar: %w", err)
	}
	if len(objects) == 0 {
		return nil, store.ErrNotFound
	}
	return &objects[0], nil
}

func (s *Store) objectPath(key string) string {
	return path.Join(s.calendarPath, UIDFor(key)+".ics")
}

// findCalendar discovers the user's calendars and returns the path of the one with the matching name.
func (s *Store) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := s.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := s.client.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := s.client.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", name)
}

func decodeObject(obj *caldav.CalendarObject) (models.Appointment, error) {
	if obj == nil || obj.Data == nil {
		return models.Appointment{}, errors.New("calendar object has no data")
	}
	events := obj.Data.Events()
	if len(events) == 0 {
		return models.Appointment{}, fmt.Errorf("calendar object %s has no VEVENT", strings.TrimSpace(obj.Path))
	}
	return FromEvent(events[0].Component)
}

package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"calarchive/internal/models"
	"calarchive/internal/reconcile"
)

const (
	credentialsFile = "credentials.json"
)

// CalendarClient provides a client for interacting with the Google Calendar API.
type CalendarClient struct {
	service    *calendar.Service
	logger     *slog.Logger
	normalizer reconcile.Normalizer
}

// NewClient creates a new Google Calendar client.
// It handles loading credentials and setting up an authenticated HTTP client.
// It supports multiple accounts by looking for token files like token-user1.json, token-user2.json, etc.
// The accountName is used to find the correct token file. Floating timestamps
// (all-day dates) are read in assumed.
func NewClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, accountName string, assumed *time.Location) (*CalendarClient, error) {
	config, err := getOAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	tokenFile := fmt.Sprintf("token-%s.json", accountName)
	token, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("could not load token for account %s: %w. Please run the 'auth' command first", accountName, err)
	}

	client := config.Client(ctx, token)
	service, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &CalendarClient{service: service, logger: logger, normalizer: reconcile.NewNormalizer(assumed)}, nil
}

// FetchAppointments fetches events of calendarID touching [from, to).
// Recurring series are returned as templates (not expanded by the provider) so
// the reconciler controls expansion.
func (c *CalendarClient) FetchAppointments(ctx context.Context, calendarID string, from, to time.Time) ([]models.Appointment, error) {
	c.logger.Debug("Fetching events", "calendarID", calendarID, "from", from, "to", to)

	var items []*calendar.Event
	err := c.service.Events.List(calendarID).
		ShowDeleted(false).
		SingleEvents(false).
		TimeMin(from.UTC().Format(time.RFC3339)).
		TimeMax(to.UTC().Format(time.RFC3339)).
		Pages(ctx, func(page *calendar.Events) error {
			items = append(items, page.Items...)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve events: %w", err)
	}

	c.logger.Info("Successfully fetched events from Google Calendar", "count", len(items), "calendarID", calendarID)

	appts, errs := ConvertEvents(items, calendarID, c.normalizer)
	for _, err := range errs {
		c.logger.Warn("Skipping event that could not be converted", "calendarID", calendarID, "error", err)
	}
	return appts, nil
}

// ConvertEvents turns one calendar's events into Appointments. Occurrences of a
// series that were cancelled or moved arrive as separate items carrying
// RecurringEventId and OriginalStartTime; their original start is added to the
// series as an EXDATE line so expansion does not produce them again. Moved
// occurrences are kept as standalone appointments.
func ConvertEvents(items []*calendar.Event, owner string, n reconcile.Normalizer) ([]models.Appointment, []error) {
	var errs []error
	exdates := make(map[string][]time.Time)

	appts := make([]models.Appointment, 0, len(items))
	for _, item := range items {
		if item.RecurringEventId != "" && item.OriginalStartTime != nil {
			orig, err := parseEventTime(item.OriginalStartTime, n)
			if err != nil {
				errs = append(errs, fmt.Errorf("event %s original start: %w", item.Id, err))
			} else {
				exdates[item.RecurringEventId] = append(exdates[item.RecurringEventId], orig)
			}
		}
		if item.Status == "cancelled" {
			continue
		}
		a, err := ToAppointment(item, owner, n)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		appts = append(appts, a)
	}

	for i := range appts {
		a := &appts[i]
		if !a.IsRecurring() {
			continue
		}
		lines := []string{a.Recurrence}
		for _, t := range exdates[a.SourceID] {
			lines = append(lines, "EXDATE:"+t.UTC().Format("20060102T150405Z"))
		}
		a.Recurrence = strings.Join(lines, "\n")
	}
	return appts, errs
}

// ToAppointment converts a Google Calendar event to the internal Appointment model.
func ToAppointment(item *calendar.Event, owner string, n reconcile.Normalizer) (models.Appointment, error) {
	if item.Start == nil || item.End == nil {
		return models.Appointment{}, fmt.Errorf("event %s has no start or end", item.Id)
	}
	start, err := parseEventTime(item.Start, n)
	if err != nil {
		return models.Appointment{}, fmt.Errorf("event %s start: %w", item.Id, err)
	}
	end, err := parseEventTime(item.End, n)
	if err != nil {
		return models.Appointment{}, fmt.Errorf("event %s end: %w", item.Id, err)
	}

	emails := make([]string, 0, len(item.Attendees))
	for _, a := range item.Attendees {
		emails = append(emails, a.Email)
	}

	a := models.Appointment{
		SourceID:    item.Id,
		Subject:     item.Summary,
		Description: item.Description,
		Start:       start,
		End:         end,
		Attendees:   models.NewAttendees(emails...),
		Recurrence:  strings.Join(item.Recurrence, "\n"),
		ShowAs:      showAsOf(item),
		Sensitivity: sensitivityOf(item.Visibility),
		Owner:       owner,
	}

	if item.ExtendedProperties != nil {
		if v, ok := item.ExtendedProperties.Private["importance"]; ok {
			imp, err := models.ParseImportance(v)
			if err != nil {
				return models.Appointment{}, fmt.Errorf("event %s: %w", item.Id, err)
			}
			a.Importance = imp
		}
	}
	return a, nil
}

// parseEventTime reads a DateTime (with offset) or an all-day Date. Dates carry
// no zone and go through the normalizer's assumed zone.
func parseEventTime(t *calendar.EventDateTime, n reconcile.Normalizer) (time.Time, error) {
	if t.DateTime != "" {
		return n.Parse(t.DateTime)
	}
	if t.Date != "" {
		return n.Parse(t.Date)
	}
	return time.Time{}, fmt.Errorf("no date or time set")
}

func showAsOf(item *calendar.Event) models.ShowAs {
	switch item.EventType {
	case "outOfOffice":
		return models.ShowAsOutOfOffice
	case "workingLocation":
		return models.ShowAsWorkingElsewhere
	}
	if item.Transparency == "transparent" {
		return models.ShowAsFree
	}
	for _, a := range item.Attendees {
		if a.Self && a.ResponseStatus == "tentative" {
			return models.ShowAsTentative
		}
	}
	return models.ShowAsBusy
}

func sensitivityOf(visibility string) models.Sensitivity {
	switch visibility {
	case "private":
		return models.SensitivityPrivate
	case "confidential":
		return models.SensitivityConfidential
	}
	return models.SensitivityNormal
}

// GetOAuthConfigForAuthFlow is used by the auth command to get the config for the web flow.
func GetOAuthConfigForAuthFlow(clientID, clientSecret string) (*oauth2.Config, error) {
	return getOAuthConfig(clientID, clientSecret)
}

// getOAuthConfig reads credentials and returns an OAuth2 config.
// It prioritizes environment variables over a local credentials.json file.
func getOAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{calendar.CalendarReadonlyScope},
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok {
			return nil, fmt.Errorf("credentials.json not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars or place credentials.json in the root directory")
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = "urn:ietf:wg:oauth:2.0:oob" // For desktop app flow
	return config, nil
}

// TokenFromWeb is called by the auth flow to retrieve a token.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}

// SaveToken saves a token to a file path.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// tokenFromFile retrieves a token from a local file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// GetTokenAccounts lists account names that have a saved token file in dir.
func GetTokenAccounts(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var accounts []string
	for _, file := range files {
		if strings.HasPrefix(file.Name(), "token-") && strings.HasSuffix(file.Name(), ".json") {
			accountName := strings.TrimSuffix(strings.TrimPrefix(file.Name(), "token-"), ".json")
			accounts = append(accounts, accountName)
		}
	}
	return accounts, nil
}

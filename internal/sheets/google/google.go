package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"finrank/internal/core"
	ports "finrank/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

var archiveHeader = []any{
	"Season", "Rank", "User", "Season score", "League",
	"Savings", "Goals", "Consistency", "Carried over", "Season end", "Archived at",
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	archiveSheet  string
}

// Ensure interface conformance
var _ ports.SeasonArchiver = (*Client)(nil)

// NewFromEnv creates a Sheets client using environment variables and a service account.
// Required: GOOGLE_SPREADSHEET_ID
// Optional: GOOGLE_ARCHIVE_SHEET_NAME (default "Seasons")
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	sheet := strings.TrimSpace(os.Getenv("GOOGLE_ARCHIVE_SHEET_NAME"))
	if sheet == "" {
		sheet = "Seasons"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return New(svc, spreadsheetID, sheet), nil
}

func New(svc *gsheet.Service, spreadsheetID, archiveSheet string) *Client {
	return &Client{svc: svc, spreadsheetID: spreadsheetID, archiveSheet: archiveSheet}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error

	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// ArchiveSeason appends one row per standing to the archive sheet. Seasons
// already present in column A are skipped.
func (c *Client) ArchiveSeason(ctx context.Context, season core.Season, standings []core.SeasonStanding) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	rng := fmt.Sprintf("%s!A:A", c.archiveSheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read archive sheet %s: %w", c.archiveSheet, err)
	}
	existing := firstColumn(resp.Values)
	if slices.Contains(existing, strconv.Itoa(season.Number)) {
		slog.InfoContext(ctx, "Season already archived, skipping", "season", season.Number, "sheet", c.archiveSheet)
		return nil
	}

	rows := StandingRows(season, standings)
	if len(existing) == 0 {
		rows = append([][]any{archiveHeader}, rows...)
	}
	if len(rows) == 0 {
		return nil
	}

	vr := &gsheet.ValueRange{Values: rows}
	_, err = c.svc.Spreadsheets.Values.Append(c.spreadsheetID, fmt.Sprintf("%s!A:K", c.archiveSheet), vr).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to append standings to %s: %w", c.archiveSheet, err)
	}

	slog.InfoContext(ctx, "Season standings appended to Google Sheets",
		"season", season.Number,
		"rows", len(rows),
		"sheet", c.archiveSheet)
	return nil
}

// StandingRows converts standings into sheet rows ranked by final season score.
func StandingRows(season core.Season, standings []core.SeasonStanding) [][]any {
	entries := make([]core.LeaderboardEntry, 0, len(standings))
	byUser := make(map[string]core.SeasonStanding, len(standings))
	for _, s := range standings {
		byUser[s.UserID] = s
		entries = append(entries, core.LeaderboardEntry{UserID: s.UserID, Score: s.SeasonScore, LastActivityAt: s.ArchivedAt})
	}
	slices.SortFunc(entries, core.CompareEntries)

	rows := make([][]any, 0, len(entries))
	for i, e := range entries {
		s := byUser[e.UserID]
		rows = append(rows, []any{
			season.Number,
			i + 1,
			s.UserID,
			s.SeasonScore,
			s.League.String(),
			s.Totals.Savings,
			s.Totals.Goals,
			s.Totals.Consistency,
			s.CarriedOver,
			season.EndAt.UTC().Format(time.RFC3339),
			s.ArchivedAt.UTC().Format(time.RFC3339),
		})
	}
	return rows
}

func firstColumn(values [][]any) []string {
	out := make([]string, 0, len(values))
	for _, row := range values {
		if len(row) == 0 {
			continue
		}
		out = append(out, strings.TrimSpace(fmt.Sprint(row[0])))
	}
	return out
}

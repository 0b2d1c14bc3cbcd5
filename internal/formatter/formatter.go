// package formatter renders sync reports, track listings and account state as
// styled text, JSON, Markdown or CSV.
package formatter

import (
	"bytes"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/desertthunder/universal/internal/credentials"
	"github.com/desertthunder/universal/internal/models"
	"github.com/desertthunder/universal/internal/shared"
	"github.com/desertthunder/universal/internal/tasks"
	"github.com/samber/lo"
)

// Format selects how a [Printer] renders values.
type Format string

const (
	Text     Format = "text"
	JSON     Format = "json"
	Markdown Format = "markdown"
	CSV      Format = "csv"
)

const timeLayout = "2006-01-02 15:04"

// ParseFormat accepts a format name; "md" is short for markdown.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", Text:
		return Text, nil
	case JSON, Markdown, CSV:
		return f, nil
	case "md":
		return Markdown, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidInput, s)
	}
}

// Printer writes rendered values to w.
type Printer struct {
	w      io.Writer
	format Format
	p      *Palette
}

// New creates a [Printer] for w.
func New(w io.Writer, format Format) *Printer {
	return &Printer{w: w, format: format, p: defaultPalette(w)}
}

// Format returns the printer's output format.
func (pr *Printer) Format() Format {
	return pr.format
}

// SyncReport renders one sync run.
func (pr *Printer) SyncReport(r *tasks.SyncReport) error {
	switch pr.format {
	case JSON:
		return pr.json(r)
	case Markdown:
		return pr.write(syncMarkdown(r))
	case Text:
		return pr.write(pr.syncText(r))
	}
	return pr.unsupported("sync reports")
}

// SyncReports renders several runs; JSON output is a single array.
func (pr *Printer) SyncReports(reports []*tasks.SyncReport) error {
	if pr.format == JSON {
		return pr.json(reports)
	}
	for i, r := range reports {
		if i > 0 {
			if err := pr.write("\n"); err != nil {
				return err
			}
		}
		if err := pr.SyncReport(r); err != nil {
			return err
		}
	}
	return nil
}

func (pr *Printer) syncText(r *tasks.SyncReport) string {
	var b strings.Builder
	summary := fmt.Sprintf("%d sources, +%d -%d, %s", len(r.Sources), r.Added(), r.Removed(), r.Duration().Round(time.Millisecond))
	fmt.Fprintf(&b, "%s  %s\n", pr.p.title.Render(r.Playlist.Title), pr.p.muted.Render(summary))
	if r.Cancelled {
		fmt.Fprintln(&b, pr.p.warn.Render("cancelled before every source ran"))
	}
	if len(r.Sources) == 0 {
		fmt.Fprintln(&b, pr.p.muted.Render("no sources attached"))
		return b.String()
	}

	rows := lo.Map(r.Sources, func(s tasks.SourceReport, _ int) []string {
		return []string{
			pr.status(s.Status), s.Provider, s.Name(),
			strconv.Itoa(s.Added), strconv.Itoa(s.Removed), strconv.Itoa(s.Blacklisted + s.Invalid),
			sourceError(s),
		}
	})
	b.WriteString(pr.table([]string{"", "Provider", "Source", "Added", "Removed", "Skipped", "Error"}, rows))
	b.WriteString("\n")
	return b.String()
}

func (pr *Printer) status(s tasks.SourceStatus) string {
	switch s {
	case tasks.StatusSynced:
		return pr.p.ok.Render("✓")
	case tasks.StatusFailed:
		return pr.p.err.Render("✗")
	case tasks.StatusDetached:
		return pr.p.warn.Render("detached")
	default:
		return pr.p.muted.Render(string(s))
	}
}

func sourceError(s tasks.SourceReport) string {
	if s.Error == "" {
		return ""
	}
	return s.Kind + ": " + s.Error
}

func syncMarkdown(r *tasks.SyncReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Sync: %s\n\n", r.Playlist.Title)
	fmt.Fprintf(&b, "**Started**: %s\n", r.Started.Format(time.RFC3339))
	fmt.Fprintf(&b, "**Duration**: %s\n", r.Duration().Round(time.Millisecond))
	fmt.Fprintf(&b, "**Added**: %d\n**Removed**: %d\n", r.Added(), r.Removed())
	if r.Cancelled {
		b.WriteString("**Cancelled**: yes\n")
	}
	b.WriteString("\n")
	if len(r.Sources) == 0 {
		return b.String()
	}

	b.WriteString("## Sources\n\n")
	b.WriteString(mdTable(
		[]string{"Status", "Provider", "Source", "Added", "Removed", "Blacklisted", "Invalid", "Error"},
		lo.Map(r.Sources, func(s tasks.SourceReport, _ int) []string {
			return []string{
				string(s.Status), s.Provider, s.Name(),
				strconv.Itoa(s.Added), strconv.Itoa(s.Removed),
				strconv.Itoa(s.Blacklisted), strconv.Itoa(s.Invalid), sourceError(s),
			}
		}),
	))
	return b.String()
}

// TrackPage renders one page of a playlist listing. CSV output has the
// columns Position, Provider, ID, Title, Artists and Album.
func (pr *Printer) TrackPage(page *tasks.TrackPage) error {
	switch pr.format {
	case JSON:
		return pr.json(page)
	case CSV:
		data, err := tracksCSV(page.Tracks)
		if err != nil {
			return err
		}
		_, err = pr.w.Write(data)
		return err
	case Markdown:
		return pr.write(tracksMarkdown(page))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", pr.p.title.Render(page.Playlist.Title), pr.p.muted.Render(pageRange(page)))
	if len(page.Tracks) > 0 {
		rows := lo.Map(page.Tracks, func(t models.PlaylistTrack, _ int) []string {
			return []string{strconv.FormatInt(t.Position+1, 10), t.Title, artistNames(t), albumTitle(t), t.Provider}
		})
		b.WriteString(pr.table([]string{"#", "Title", "Artists", "Album", "Provider"}, rows))
		b.WriteString("\n")
	}
	return pr.write(b.String())
}

func pageRange(page *tasks.TrackPage) string {
	if len(page.Tracks) == 0 {
		return fmt.Sprintf("no tracks (of %d)", page.Total)
	}
	return fmt.Sprintf("tracks %d-%d of %d", page.Offset+1, page.Offset+len(page.Tracks), page.Total)
}

func artistNames(t models.PlaylistTrack) string {
	return strings.Join(lo.FilterMap(t.Artists, func(a models.Artist, _ int) (string, bool) {
		return a.Name, a.Name != ""
	}), ", ")
}

func albumTitle(t models.PlaylistTrack) string {
	if t.Album == nil {
		return ""
	}
	return t.Album.Title
}

func tracksCSV(tracks []models.PlaylistTrack) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write([]string{"Position", "Provider", "ID", "Title", "Artists", "Album"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, t := range tracks {
		record := []string{strconv.FormatInt(t.Position, 10), t.Provider, t.ProviderID, t.Title, artistNames(t), albumTitle(t)}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

func tracksMarkdown(page *tasks.TrackPage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", page.Playlist.Title)
	if page.Playlist.Artwork != "" {
		fmt.Fprintf(&b, "![Cover](%s)\n\n", page.Playlist.Artwork)
	}
	if page.Playlist.Description != "" {
		fmt.Fprintf(&b, "**Description**: %s\n\n", page.Playlist.Description)
	}
	fmt.Fprintf(&b, "**Tracks**: %d\n\n", page.Total)

	b.WriteString("## Tracks\n\n")
	for _, t := range page.Tracks {
		album := ""
		if a := albumTitle(t); a != "" {
			album = fmt.Sprintf(" (%s)", a)
		}
		title := t.Title
		if t.Href != "" {
			title = fmt.Sprintf("[%s](%s)", t.Title, t.Href)
		}
		fmt.Fprintf(&b, "%d. %s - %s%s\n", t.Position+1, artistNames(t), title, album)
	}
	return b.String()
}

// Overview renders a playlist with its sources and mirrors.
func (pr *Printer) Overview(ov *tasks.Overview) error {
	switch pr.format {
	case JSON:
		return pr.json(ov)
	case Markdown:
		var b strings.Builder
		fmt.Fprintf(&b, "# %s\n\n", ov.Playlist.Title)
		if ov.Playlist.Description != "" {
			fmt.Fprintf(&b, "**Description**: %s\n\n", ov.Playlist.Description)
		}
		fmt.Fprintf(&b, "**Tracks**: %d\n**Updated**: %s\n\n", ov.Tracks, ov.Playlist.UpdatedAt.Format(timeLayout))
		if len(ov.Sources) > 0 {
			b.WriteString("## Sources\n\n")
			b.WriteString(mdTable([]string{"ID", "Provider", "Source", "Last synced", "Last error"}, sourceRows(ov.Sources)))
			b.WriteString("\n")
		}
		if len(ov.Mirrors) > 0 {
			b.WriteString("## Mirrors\n\n")
			for _, m := range ov.Mirrors {
				fmt.Fprintf(&b, "- %s: %s\n", m.Provider, m.ProviderID)
			}
		}
		return pr.write(b.String())
	case Text:
	default:
		return pr.unsupported("playlist overviews")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", pr.p.title.Render(ov.Playlist.Title), pr.p.muted.Render(fmt.Sprintf("#%d, %d tracks", ov.Playlist.ID, ov.Tracks)))
	if ov.Playlist.Description != "" {
		fmt.Fprintln(&b, ov.Playlist.Description)
	}
	if len(ov.Sources) == 0 {
		fmt.Fprintln(&b, pr.p.muted.Render("no sources attached"))
	} else {
		b.WriteString(pr.table([]string{"ID", "Provider", "Source", "Last synced", "Last error"}, sourceRows(ov.Sources)))
		b.WriteString("\n")
	}
	for _, m := range ov.Mirrors {
		fmt.Fprintf(&b, "mirror %s %s\n", m.Provider, pr.p.muted.Render(m.ProviderID))
	}
	return pr.write(b.String())
}

func sourceRows(sources []models.AttachedSource) [][]string {
	return lo.Map(sources, func(s models.AttachedSource, _ int) []string {
		return []string{
			strconv.FormatInt(s.ID, 10), s.Provider,
			lo.CoalesceOrEmpty(s.Title, s.ProviderID),
			formatNullTime(s.LastSyncedAt), s.LastError,
		}
	})
}

func formatNullTime(t sql.NullTime) string {
	if !t.Valid {
		return "never"
	}
	return t.Time.Local().Format(timeLayout)
}

// Playlists renders a user's playlists.
func (pr *Printer) Playlists(playlists []models.Playlist) error {
	rows := lo.Map(playlists, func(p models.Playlist, _ int) []string {
		return []string{strconv.FormatInt(p.ID, 10), p.Title, p.Description, p.UpdatedAt.Local().Format(timeLayout)}
	})
	return pr.list(playlists, "playlists", []string{"ID", "Title", "Description", "Updated"}, rows)
}

// Users renders user accounts.
func (pr *Printer) Users(users []models.User) error {
	rows := lo.Map(users, func(u models.User, _ int) []string {
		return []string{strconv.FormatInt(u.ID, 10), u.Username, u.Email, u.CreatedAt.Local().Format(timeLayout)}
	})
	return pr.list(users, "users", []string{"ID", "Username", "Email", "Created"}, rows)
}

// Blacklist renders a playlist's excluded tracks.
func (pr *Printer) Blacklist(entries []models.BlacklistEntry) error {
	rows := lo.Map(entries, func(e models.BlacklistEntry, _ int) []string {
		return []string{strconv.FormatInt(e.TrackID, 10), e.Title, e.Reason, e.CreatedAt.Local().Format(timeLayout)}
	})
	return pr.list(entries, "blacklisted tracks", []string{"Track", "Title", "Reason", "Added"}, rows)
}

// Statuses renders a user's provider credentials.
func (pr *Printer) Statuses(statuses []credentials.Status) error {
	rows := lo.Map(statuses, func(s credentials.Status, _ int) []string {
		authorized, expiry := "no", ""
		if s.Authorized {
			authorized = "yes"
		}
		if !s.Expiry.IsZero() {
			expiry = s.Expiry.Local().Format(timeLayout)
		}
		return []string{s.Provider, authorized, s.Username, expiry}
	})
	return pr.list(statuses, "providers", []string{"Provider", "Authorized", "Username", "Expires"}, rows)
}

// PlaylistResult renders the outcome of creating or deleting a playlist; verb
// is "created" or "deleted".
func (pr *Printer) PlaylistResult(verb string, r *tasks.PlaylistResult) error {
	switch pr.format {
	case JSON:
		return pr.json(r)
	case Text, Markdown:
	default:
		return pr.unsupported("playlist results")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s playlist %s %s\n", verb, pr.p.title.Render(r.Playlist.Title), pr.p.muted.Render(fmt.Sprintf("#%d", r.Playlist.ID)))
	for _, m := range r.Mirrors {
		if m.Error != "" {
			fmt.Fprintf(&b, "  %s %s mirror: %s\n", pr.p.err.Render("✗"), m.Provider, m.Error)
			continue
		}
		fmt.Fprintf(&b, "  %s %s mirror %s\n", pr.p.ok.Render("✓"), m.Provider, pr.p.muted.Render(m.ProviderID))
	}
	if r.Pruned > 0 {
		fmt.Fprintf(&b, "  pruned %d orphan sources\n", r.Pruned)
	}
	return pr.write(b.String())
}

// Source renders a source just attached to a playlist.
func (pr *Printer) Source(playlistID int64, src *models.Source) error {
	if pr.format == JSON {
		return pr.json(src)
	}
	name := lo.CoalesceOrEmpty(src.Title, src.ProviderID)
	return pr.write(fmt.Sprintf("attached %s playlist %s as source %d of playlist %d\n",
		src.Provider, pr.p.title.Render(name), src.ID, playlistID))
}

// Message writes a one-line confirmation. JSON output gets {"message": ...}.
func (pr *Printer) Message(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if pr.format == JSON {
		return pr.json(map[string]string{"message": msg})
	}
	return pr.write(pr.p.ok.Render("✓") + " " + msg + "\n")
}

func (pr *Printer) list(v any, what string, headers []string, rows [][]string) error {
	switch pr.format {
	case JSON:
		return pr.json(v)
	case Markdown:
		return pr.write(mdTable(headers, rows))
	case Text:
		if len(rows) == 0 {
			return pr.write(pr.p.muted.Render("no "+what) + "\n")
		}
		return pr.write(pr.table(headers, rows) + "\n")
	}
	return pr.unsupported(what)
}

func (pr *Printer) table(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return pr.p.head
			}
			return pr.p.cell
		}).
		String()
}

func mdTable(headers []string, rows [][]string) string {
	var b strings.Builder
	escape := func(cells []string) []string {
		return lo.Map(cells, func(c string, _ int) string { return strings.ReplaceAll(c, "|", `\|`) })
	}
	fmt.Fprintf(&b, "| %s |\n", strings.Join(escape(headers), " | "))
	fmt.Fprintf(&b, "|%s\n", strings.Repeat(" --- |", len(headers)))
	for _, row := range rows {
		fmt.Fprintf(&b, "| %s |\n", strings.Join(escape(row), " | "))
	}
	return b.String()
}

func (pr *Printer) json(v any) error {
	enc := json.NewEncoder(pr.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (pr *Printer) write(s string) error {
	_, err := io.WriteString(pr.w, s)
	return err
}

func (pr *Printer) unsupported(what string) error {
	return fmt.Errorf("%w: %s output is not available for %s", shared.ErrInvalidInput, pr.format, what)
}

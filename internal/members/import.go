package members

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/utils"
)

// importColumns are the recognised header names. Anything else is ignored.
var importColumns = []string{"email", "first_name", "last_name", "phone", "branch", "chapter", "status", "expires_at"}

type ImportError struct {
	Line    int    `json:"line"`
	Email   string `json:"email,omitempty"`
	Message string `json:"message"`
}

type ImportResult struct {
	Inserted int           `json:"inserted"`
	Updated  int           `json:"updated"`
	Errors   []ImportError `json:"errors"`
}

type importRow struct {
	line      int
	email     string
	values    map[string]string
	status    models.MemberStatus
	expiresAt *time.Time
}

// ImportCSV upserts members from a roster export keyed by email. Rows that
// fail validation are reported and skipped; the rest are applied. When an
// email appears more than once the last row wins.
func (s *Service) ImportCSV(ctx context.Context, r io.Reader) (*ImportResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, utils.Validation("empty_csv", "CSV file is empty")
	}
	if err != nil {
		return nil, utils.Wrap(utils.KindValidation, err, "malformed_csv", "CSV header cannot be read")
	}
	cols := map[string]int{}
	for i, h := range header {
		name := normalizeHeader(h)
		for _, known := range importColumns {
			if name == known {
				if _, dup := cols[name]; !dup {
					cols[name] = i
				}
			}
		}
	}
	if _, ok := cols["email"]; !ok {
		return nil, utils.Validation("missing_email_column", "CSV header must include an email column")
	}

	res := &ImportResult{Errors: []ImportError{}}
	rows := map[string]importRow{}
	var order []string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				res.Errors = append(res.Errors, ImportError{
					Line:    pe.StartLine,
					Message: fmt.Sprintf("malformed row: %v", pe.Err),
				})
				continue
			}
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		if blank(rec) {
			continue
		}
		row, msg := parseRow(rec, cols, line)
		if msg != "" {
			res.Errors = append(res.Errors, ImportError{Line: line, Email: row.email, Message: msg})
			continue
		}
		if _, seen := rows[row.email]; !seen {
			order = append(order, row.email)
		}
		rows[row.email] = row
	}

	for _, email := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := rows[email]
		inserted, err := s.applyRow(ctx, row)
		if err != nil {
			if utils.KindOf(err) == utils.KindInternal {
				return nil, err
			}
			res.Errors = append(res.Errors, ImportError{Line: row.line, Email: email, Message: utils.PublicMessage(err)})
			continue
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}

	if res.Updated > 0 {
		s.invalidateLeaderboard(ctx)
	}
	log.Info().
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("errors", len(res.Errors)).
		Msg("member import finished")
	return res, nil
}

func (s *Service) applyRow(ctx context.Context, row importRow) (bool, error) {
	now := s.now()
	m, err := s.store.GetMemberByEmail(ctx, row.email)
	switch {
	case utils.IsKind(err, utils.KindNotFound):
		m = &models.Member{
			ID:        uuid.NewString(),
			Email:     row.email,
			Status:    models.StatusActive,
			Role:      models.RoleMember,
			CreatedAt: now,
		}
		row.applyTo(m)
		m.UpdatedAt = now
		return true, s.store.CreateMember(ctx, m)
	case err != nil:
		return false, err
	}
	row.applyTo(m)
	m.UpdatedAt = now
	return false, s.store.UpdateMember(ctx, m)
}

// applyTo copies the non-empty cells of the row onto m.
func (row importRow) applyTo(m *models.Member) {
	for col, v := range row.values {
		switch col {
		case "first_name":
			m.FirstName = v
		case "last_name":
			m.LastName = v
		case "phone":
			m.Phone = v
		case "branch":
			m.Branch = v
		case "chapter":
			m.Chapter = v
		}
	}
	if row.status != "" {
		m.Status = row.status
	}
	if row.expiresAt != nil {
		m.ExpiresAt = row.expiresAt
	}
}

func parseRow(rec []string, cols map[string]int, line int) (importRow, string) {
	row := importRow{line: line, values: map[string]string{}}
	cell := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	row.email = utils.NormalizeEmail(cell("email"))
	if row.email == "" {
		return row, "email is required"
	}
	if !utils.ValidEmail(row.email) {
		return row, "invalid email address"
	}
	for _, name := range []string{"first_name", "last_name", "phone", "branch", "chapter"} {
		v := cell(name)
		if v == "" {
			continue
		}
		if len([]rune(v)) > maxFieldLength {
			return row, name + " is too long"
		}
		row.values[name] = v
	}
	if v := cell("status"); v != "" {
		st := models.MemberStatus(strings.ToLower(v))
		if !st.Valid() {
			return row, fmt.Sprintf("unknown status %q", v)
		}
		row.status = st
	}
	if v := cell("expires_at"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return row, fmt.Sprintf("expires_at %q is not a YYYY-MM-DD date", v)
		}
		row.expiresAt = &t
	}
	return row, ""
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// Package tms reads attendance punches from the external time-management
// store. Read-only, one batched query per calendar date.
package tms

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/mealdesk/mealdesk-api/internal/data/pgxutil"
	"github.com/mealdesk/mealdesk-api/internal/domain/model"
)

// Source implements ports.TMSSource against the time-management store.
type Source struct {
	db      *sql.DB
	timeout time.Duration
	logger  *slog.Logger
}

// NewSource creates the TMS reader. The *sql.DB may share the HR-store pool
// when both systems live in the same database.
func NewSource(db *sql.DB, timeout time.Duration, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Source{db: db, timeout: timeout, logger: logger.With("component", "tms")}
}

// AttendanceFor returns punches for the given UTC calendar date and employee
// ids. Large id sets are chunked into multiple queries.
func (s *Source) AttendanceFor(ctx context.Context, date time.Time, employeeIDs []int64) ([]model.TMSAttendance, error) {
	if len(employeeIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	var out []model.TMSAttendance
	for _, chunk := range pgxutil.Chunk(employeeIDs) {
		query := `
			SELECT a.employee_id, a.att_date, a.time_in, a.time_out, a.working_hours
			FROM tms.attendance a
			WHERE a.att_date = $1 AND a.employee_id IN (` + pgxutil.Placeholders(2, len(chunk)) + `)`
		args := make([]any, 0, len(chunk)+1)
		args = append(args, day)
		for _, id := range chunk {
			args = append(args, id)
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query tms attendance: %w", err)
		}
		records, err := collectAttendance(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}

func collectAttendance(rows *sql.Rows) ([]model.TMSAttendance, error) {
	var records []model.TMSAttendance
	for rows.Next() {
		var (
			r            model.TMSAttendance
			timeIn       sql.NullTime
			timeOut      sql.NullTime
			workingHours sql.NullFloat64
		)
		if err := rows.Scan(&r.EmployeeID, &r.Date, &timeIn, &timeOut, &workingHours); err != nil {
			return nil, fmt.Errorf("scan tms attendance: %w", err)
		}
		if timeIn.Valid {
			t := timeIn.Time.UTC()
			r.TimeIn = &t
		}
		if timeOut.Valid {
			t := timeOut.Time.UTC()
			r.TimeOut = &t
		}
		if workingHours.Valid {
			r.WorkingHours = &workingHours.Float64
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tms attendance: %w", err)
	}
	return records, nil
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mealdesk/mealdesk-api/internal/core"
	"github.com/mealdesk/mealdesk-api/internal/data"
	"github.com/mealdesk/mealdesk-api/internal/domain/model"
	"github.com/mealdesk/mealdesk-api/internal/ports"
)

// AttendanceService pulls attendance from the external time-management source
// into the per-line attendance rows. Line-scoped, never blind: it only touches
// lines it was asked about or lines inside the sliding window.
type AttendanceService struct {
	meals     core.MealRequestRepository
	employees core.EmployeeRepository
	source    ports.TMSSource

	cfg          AttendanceConfig
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// AttendanceConfig holds sync policy knobs.
type AttendanceConfig struct {
	// WindowMonths bounds the sliding window for the blanket sync.
	WindowMonths int
}

// NewAttendanceService wires the attendance sync.
func NewAttendanceService(
	meals core.MealRequestRepository,
	employees core.EmployeeRepository,
	source ports.TMSSource,
	cfg AttendanceConfig,
	tp data.TimeProvider,
	logger *slog.Logger,
) *AttendanceService {
	if logger == nil {
		logger = slog.Default()
	}
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	if cfg.WindowMonths <= 0 {
		cfg.WindowMonths = 2
	}
	return &AttendanceService{
		meals:        meals,
		employees:    employees,
		source:       source,
		cfg:          cfg,
		timeProvider: tp,
		logger:       logger.With("component", "attendance"),
	}
}

// SyncWindow syncs every non-deleted line inside the sliding window.
// Registered as the attendance_sync task.
func (s *AttendanceService) SyncWindow(ctx context.Context) (*model.AttendanceSyncResult, error) {
	since := s.timeProvider.Now().AddDate(0, -s.cfg.WindowMonths, 0)
	lines, err := s.meals.ListLinesForSync(ctx, since)
	if err != nil {
		return nil, err
	}
	return s.syncLines(ctx, lines)
}

// SyncLines syncs an explicit set of line ids, the on-demand path used after
// meal-request creation.
func (s *AttendanceService) SyncLines(ctx context.Context, lineIDs []string) (*model.AttendanceSyncResult, error) {
	lines, err := s.meals.GetSyncLinesByIDs(ctx, lineIDs)
	if err != nil {
		return nil, err
	}
	return s.syncLines(ctx, lines)
}

// RunAsJob adapts SyncWindow to the scheduler's JobFunc shape.
func (s *AttendanceService) RunAsJob(ctx context.Context) (string, error) {
	result, err := s.SyncWindow(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("total=%d synced=%d unchanged=%d not_found=%d errors=%d",
		result.Total, result.Synced, result.Unchanged, result.NotFound, result.Errors), nil
}

func (s *AttendanceService) syncLines(ctx context.Context, lines []*model.SyncLine) (*model.AttendanceSyncResult, error) {
	result := &model.AttendanceSyncResult{Total: len(lines)}
	if len(lines) == 0 {
		return result, nil
	}

	existing, err := s.loadExisting(ctx, lines)
	if err != nil {
		return nil, err
	}

	// One batched external query per attendance date.
	byDate := make(map[time.Time][]*model.SyncLine)
	for _, line := range lines {
		d := line.AttendanceDate()
		byDate[d] = append(byDate[d], line)
	}

	for date, dateLines := range byDate {
		if err := s.syncDate(ctx, date, dateLines, existing, result); err != nil {
			s.logger.Warn("attendance query failed for date",
				"date", date.Format("2006-01-02"), "lines", len(dateLines), "error", err)
			result.Errors += len(dateLines)
		}
	}
	return result, nil
}

func (s *AttendanceService) loadExisting(
	ctx context.Context,
	lines []*model.SyncLine,
) (map[string]*model.MealRequestLineAttendance, error) {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.LineID
	}
	rows, err := s.meals.GetAttendanceByLineIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*model.MealRequestLineAttendance, len(rows))
	for _, r := range rows {
		out[r.MealRequestLineID] = r
	}
	return out, nil
}

func (s *AttendanceService) syncDate(
	ctx context.Context,
	date time.Time,
	lines []*model.SyncLine,
	existing map[string]*model.MealRequestLineAttendance,
	result *model.AttendanceSyncResult,
) error {
	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]bool, len(lines))
	for _, l := range lines {
		if !seen[l.EmployeeID] {
			seen[l.EmployeeID] = true
			ids = append(ids, l.EmployeeID)
		}
	}

	records, err := s.source.AttendanceFor(ctx, date, ids)
	if err != nil {
		return err
	}
	byEmployee := make(map[int64]model.TMSAttendance, len(records))
	for _, r := range records {
		byEmployee[r.EmployeeID] = r
	}

	now := s.timeProvider.Now()
	for _, line := range lines {
		remote, found := byEmployee[line.EmployeeID]
		if !found {
			result.NotFound++
			continue
		}
		hours := s.workingHours(line, remote)

		local := existing[line.LineID]
		if local != nil && attendanceUnchanged(local, remote, hours) {
			result.Unchanged++
			continue
		}

		err := s.meals.UpsertAttendance(ctx, model.MealRequestLineAttendance{
			MealRequestLineID:  line.LineID,
			EmployeeCode:       line.EmployeeCode,
			AttendanceDate:     date,
			AttendanceIn:       remote.TimeIn,
			AttendanceOut:      remote.TimeOut,
			WorkingHours:       hours,
			AttendanceSyncedAt: now,
		})
		if err != nil {
			s.logger.Warn("attendance upsert failed", "line_id", line.LineID, "error", err)
			result.Errors++
			continue
		}
		if err = s.meals.SetLineAttendanceTime(ctx, line.LineID, remote.TimeIn); err != nil {
			s.logger.Warn("line attendance mirror failed", "line_id", line.LineID, "error", err)
			result.Errors++
			continue
		}
		result.Synced++
	}
	return nil
}

// workingHours prefers the external value and otherwise derives punch-out
// minus punch-in, rounded to 2 decimals. Negative spans clamp to zero.
func (s *AttendanceService) workingHours(line *model.SyncLine, remote model.TMSAttendance) *float64 {
	if remote.WorkingHours != nil {
		return remote.WorkingHours
	}
	if remote.TimeIn == nil || remote.TimeOut == nil {
		return nil
	}
	hours := remote.TimeOut.Sub(*remote.TimeIn).Hours()
	if hours < 0 {
		s.logger.Warn("negative working hours clamped to zero",
			"line_id", line.LineID, "employee_code", line.EmployeeCode,
			"time_in", remote.TimeIn, "time_out", remote.TimeOut)
		hours = 0
	}
	rounded := math.Round(hours*100) / 100
	return &rounded
}

// attendanceUnchanged compares the local row against the remote record so the
// second of two identical syncs writes nothing.
func attendanceUnchanged(local *model.MealRequestLineAttendance, remote model.TMSAttendance, hours *float64) bool {
	return timePtrEqual(local.AttendanceIn, remote.TimeIn) &&
		timePtrEqual(local.AttendanceOut, remote.TimeOut) &&
		floatPtrEqual(local.WorkingHours, hours)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return math.Abs(*a-*b) < 0.005
}

package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/kittclouds/moshaver/internal/model"
	"github.com/kittclouds/moshaver/internal/store"
	"github.com/kittclouds/moshaver/pkg/docstore"
)

// SetAttendance records status for (studentID, date). Present is stored as
// the absence of a record. The active-year attendance list is re-read from
// the store afterwards rather than patched.
func (r *Repository) SetAttendance(ctx context.Context, studentID, date string, status model.AttendanceStatus) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		key := model.AttendanceKey(studentID, date)
		var err error
		if status == model.StatusPresent {
			err = r.store.Delete(ctx, store.AttendanceRecords, key)
		} else {
			rec := model.AttendanceRecord{
				StudentID:    studentID,
				Date:         date,
				Status:       status,
				AcademicYear: r.docs.AcademicYear(),
			}
			if err := validate(rec); err != nil {
				return err
			}
			err = r.store.Update(ctx, func(w store.Writer) error {
				return put(w, store.AttendanceRecords, rec, attendanceKey)
			})
		}
		if err != nil {
			return fmt.Errorf("set attendance: %w", err)
		}
		return r.refreshAttendance(ctx)
	})
}

// ClearAttendanceDay removes every record for date in the active year.
func (r *Repository) ClearAttendanceDay(ctx context.Context, date string) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		var ids []string
		for _, a := range r.docs.Snapshot().Attendance {
			if a.Date == date {
				ids = append(ids, a.Key())
			}
		}
		if err := r.store.DeleteMany(ctx, store.AttendanceRecords, ids); err != nil {
			return fmt.Errorf("clear attendance: %w", err)
		}
		return r.refreshAttendance(ctx)
	})
}

func (r *Repository) refreshAttendance(ctx context.Context) error {
	recs, err := list[model.AttendanceRecord](ctx, r.store, store.AttendanceRecords, r.docs.AcademicYear())
	if err != nil {
		return fmt.Errorf("reload attendance: %w", err)
	}
	r.docs.Update(func(s *docstore.Snapshot) { s.Attendance = recs })
	return nil
}

// AttendanceFor returns the record for (studentID, date), or nil when the
// student was present.
func (r *Repository) AttendanceFor(studentID, date string) *model.AttendanceRecord {
	for _, a := range r.docs.Snapshot().Attendance {
		if a.StudentID == studentID && a.Date == date {
			return &a
		}
	}
	return nil
}

func noteID(n model.AttendanceNote) string { return n.Key() }

// SetAttendanceNote stores text for (classroomID, date); empty text deletes it.
func (r *Repository) SetAttendanceNote(ctx context.Context, classroomID, date, text string) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		n := model.AttendanceNote{
			ClassroomID:  classroomID,
			Date:         date,
			Note:         strings.TrimSpace(text),
			AcademicYear: r.docs.AcademicYear(),
		}
		if n.Note == "" {
			if err := r.store.Delete(ctx, store.AttendanceNotes, n.Key()); err != nil {
				return fmt.Errorf("delete attendance note: %w", err)
			}
			r.docs.Update(func(s *docstore.Snapshot) { s.AttendanceNotes = removeByID(s.AttendanceNotes, n.Key(), noteID) })
			return nil
		}
		if err := validate(n); err != nil {
			return err
		}
		if err := r.store.Update(ctx, func(w store.Writer) error {
			return put(w, store.AttendanceNotes, n, noteKey)
		}); err != nil {
			return fmt.Errorf("set attendance note: %w", err)
		}
		r.docs.Update(func(s *docstore.Snapshot) { s.AttendanceNotes = replaceByID(s.AttendanceNotes, n, noteID) })
		return nil
	})
}

package repository

import (
	"context"
	"fmt"

	"github.com/kittclouds/moshaver/internal/model"
	"github.com/kittclouds/moshaver/internal/store"
)

// ExportAll reads every record of every academic year plus settings and
// working days. Settings never written come back as defaults.
func (r *Repository) ExportAll(ctx context.Context) (model.Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exportAll(ctx)
}

func (r *Repository) exportAll(ctx context.Context) (model.Dataset, error) {
	var ds model.Dataset
	var err error
	s := r.store

	if ds.Classrooms, err = list[model.Classroom](ctx, s, store.Classrooms, ""); err != nil {
		return ds, err
	}
	if ds.Students, err = list[model.Student](ctx, s, store.Students, ""); err != nil {
		return ds, err
	}
	if ds.Sessions, err = list[model.Session](ctx, s, store.Sessions, ""); err != nil {
		return ds, err
	}
	if ds.SessionTypes, err = list[model.SessionType](ctx, s, store.SessionTypes, ""); err != nil {
		return ds, err
	}
	if ds.StudentGroups, err = list[model.StudentGroup](ctx, s, store.StudentGroups, ""); err != nil {
		return ds, err
	}
	if ds.SpecialStudents, err = list[model.SpecialStudentInfo](ctx, s, store.SpecialStudents, ""); err != nil {
		return ds, err
	}
	if ds.CounselingNeeded, err = list[model.CounselingNeededInfo](ctx, s, store.CounselingNeeded, ""); err != nil {
		return ds, err
	}
	if ds.ThinkingObservations, err = list[model.ThinkingObservation](ctx, s, store.ThinkingObservations, ""); err != nil {
		return ds, err
	}
	if ds.ThinkingEvaluations, err = list[model.ThinkingEvaluation](ctx, s, store.ThinkingEvaluations, ""); err != nil {
		return ds, err
	}
	if ds.AttendanceRecords, err = list[model.AttendanceRecord](ctx, s, store.AttendanceRecords, ""); err != nil {
		return ds, err
	}
	if ds.AttendanceNotes, err = list[model.AttendanceNote](ctx, s, store.AttendanceNotes, ""); err != nil {
		return ds, err
	}
	if ds.Settings, err = r.readSettings(ctx); err != nil {
		return ds, err
	}
	if ds.WorkingDays, err = r.readWorkingDays(ctx); err != nil {
		return ds, err
	}
	return ds, nil
}

// ReplaceAll wipes the store and writes ds in a single transaction, then
// reloads the snapshot for the restored academic year. When ds has no
// session types the defaults are seeded.
func (r *Repository) ReplaceAll(ctx context.Context, ds model.Dataset) error {
	return r.apply(ctx, func(ctx context.Context) error {
		settings := ds.Settings
		if settings.AcademicYear == "" {
			settings.AcademicYear = model.CurrentAcademicYear(r.Now())
		}
		err := r.store.Update(ctx, func(w store.Writer) error {
			if err := w.Clear(); err != nil {
				return err
			}
			if err := putAll(w, store.Classrooms, ds.Classrooms, classroomKey); err != nil {
				return err
			}
			if err := putAll(w, store.Students, ds.Students, studentKey); err != nil {
				return err
			}
			if err := putAll(w, store.Sessions, ds.Sessions, sessionKey); err != nil {
				return err
			}
			if len(ds.SessionTypes) == 0 {
				if err := seedSessionTypes(w); err != nil {
					return err
				}
			} else if err := putAll(w, store.SessionTypes, ds.SessionTypes, sessionTypeKey); err != nil {
				return err
			}
			if err := putAll(w, store.StudentGroups, ds.StudentGroups, groupKey); err != nil {
				return err
			}
			if err := putAll(w, store.SpecialStudents, ds.SpecialStudents, specialKey); err != nil {
				return err
			}
			if err := putAll(w, store.CounselingNeeded, ds.CounselingNeeded, counselingKey); err != nil {
				return err
			}
			if err := putAll(w, store.ThinkingObservations, ds.ThinkingObservations, observationKey); err != nil {
				return err
			}
			if err := putAll(w, store.ThinkingEvaluations, ds.ThinkingEvaluations, evaluationKey); err != nil {
				return err
			}
			if err := putAll(w, store.AttendanceRecords, ds.AttendanceRecords, attendanceKey); err != nil {
				return err
			}
			if err := putAll(w, store.AttendanceNotes, ds.AttendanceNotes, noteKey); err != nil {
				return err
			}
			if err := w.PutSetting(store.KeyAppSettings, settings); err != nil {
				return err
			}
			return w.PutSetting(store.KeyWorkingDays, ds.WorkingDays)
		})
		if err != nil {
			return fmt.Errorf("replace all: %w", err)
		}
		if err := r.hydrate(ctx, settings); err != nil {
			return err
		}
		r.loaded = true
		return nil
	})
}

// FactoryReset wipes the store. The in-memory snapshot is left as is; the
// caller is expected to restart the application.
func (r *Repository) FactoryReset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("factory reset: %w", err)
	}
	return nil
}

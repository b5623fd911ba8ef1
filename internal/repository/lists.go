package repository

import (
	"context"
	"fmt"

	"github.com/kittclouds/moshaver/internal/model"
	"github.com/kittclouds/moshaver/internal/store"
	"github.com/kittclouds/moshaver/pkg/docstore"
)

// The per-student lists are keyed 1:1 by student id: saving replaces.

func specialID(i model.SpecialStudentInfo) string       { return i.StudentID }
func counselingID(i model.CounselingNeededInfo) string  { return i.StudentID }
func observationID(o model.ThinkingObservation) string { return o.StudentID }
func evaluationID(e model.ThinkingEvaluation) string   { return e.StudentID }

// saveKeyed validates and upserts v.
func saveKeyed[T any](ctx context.Context, r *Repository, coll store.Collection, v T, key func(T) (string, string)) error {
	if err := validate(v); err != nil {
		return err
	}
	if err := r.store.Update(ctx, func(w store.Writer) error {
		return put(w, coll, v, key)
	}); err != nil {
		return fmt.Errorf("save %s: %w", coll, err)
	}
	return nil
}

func (r *Repository) SaveSpecialInfo(ctx context.Context, info model.SpecialStudentInfo) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		info.AcademicYear = r.docs.AcademicYear()
		if err := saveKeyed(ctx, r, store.SpecialStudents, info, specialKey); err != nil {
			return err
		}
		r.docs.Update(func(s *docstore.Snapshot) { s.SpecialStudents = replaceByID(s.SpecialStudents, info, specialID) })
		return nil
	})
}

func (r *Repository) ClearSpecialInfo(ctx context.Context, studentID string) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		if err := r.store.Delete(ctx, store.SpecialStudents, studentID); err != nil {
			return fmt.Errorf("clear special info: %w", err)
		}
		r.docs.Update(func(s *docstore.Snapshot) { s.SpecialStudents = removeByID(s.SpecialStudents, studentID, specialID) })
		return nil
	})
}

// ActiveSpecialStudents omits records with every field empty.
func (r *Repository) ActiveSpecialStudents() []model.SpecialStudentInfo {
	var out []model.SpecialStudentInfo
	for _, i := range r.docs.Snapshot().SpecialStudents {
		if !i.IsEmpty() {
			out = append(out, i)
		}
	}
	return out
}

func (r *Repository) SaveCounselingInfo(ctx context.Context, info model.CounselingNeededInfo) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		info.AcademicYear = r.docs.AcademicYear()
		if err := saveKeyed(ctx, r, store.CounselingNeeded, info, counselingKey); err != nil {
			return err
		}
		r.docs.Update(func(s *docstore.Snapshot) {
			s.CounselingNeeded = replaceByID(s.CounselingNeeded, info, counselingID)
		})
		return nil
	})
}

func (r *Repository) ClearCounselingInfo(ctx context.Context, studentID string) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		if err := r.store.Delete(ctx, store.CounselingNeeded, studentID); err != nil {
			return fmt.Errorf("clear counseling info: %w", err)
		}
		r.docs.Update(func(s *docstore.Snapshot) {
			s.CounselingNeeded = removeByID(s.CounselingNeeded, studentID, counselingID)
		})
		return nil
	})
}

func (r *Repository) ActiveCounselingNeeded() []model.CounselingNeededInfo {
	var out []model.CounselingNeededInfo
	for _, i := range r.docs.Snapshot().CounselingNeeded {
		if !i.IsEmpty() {
			out = append(out, i)
		}
	}
	return out
}

// =============================================================================
// Thinking lifestyle
// =============================================================================

func (r *Repository) SaveObservation(ctx context.Context, o model.ThinkingObservation) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		o = model.CloneObservation(o)
		if o.Scores == nil {
			o.Scores = map[int]int{}
		}
		o.AcademicYear = r.docs.AcademicYear()
		if err := saveKeyed(ctx, r, store.ThinkingObservations, o, observationKey); err != nil {
			return err
		}
		r.docs.Update(func(s *docstore.Snapshot) {
			s.ThinkingObservations = replaceByID(s.ThinkingObservations, o, observationID)
		})
		return nil
	})
}

func (r *Repository) ClearObservation(ctx context.Context, studentID string) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		if err := r.store.Delete(ctx, store.ThinkingObservations, studentID); err != nil {
			return fmt.Errorf("clear observation: %w", err)
		}
		r.docs.Update(func(s *docstore.Snapshot) {
			s.ThinkingObservations = removeByID(s.ThinkingObservations, studentID, observationID)
		})
		return nil
	})
}

func (r *Repository) SaveEvaluation(ctx context.Context, e model.ThinkingEvaluation) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		e.AcademicYear = r.docs.AcademicYear()
		if err := saveKeyed(ctx, r, store.ThinkingEvaluations, e, evaluationKey); err != nil {
			return err
		}
		r.docs.Update(func(s *docstore.Snapshot) {
			s.ThinkingEvaluations = replaceByID(s.ThinkingEvaluations, e, evaluationID)
		})
		return nil
	})
}

func (r *Repository) ClearEvaluation(ctx context.Context, studentID string) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		if err := r.store.Delete(ctx, store.ThinkingEvaluations, studentID); err != nil {
			return fmt.Errorf("clear evaluation: %w", err)
		}
		r.docs.Update(func(s *docstore.Snapshot) {
			s.ThinkingEvaluations = removeByID(s.ThinkingEvaluations, studentID, evaluationID)
		})
		return nil
	})
}

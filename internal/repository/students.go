package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/kittclouds/moshaver/internal/model"
	"github.com/kittclouds/moshaver/internal/store"
	"github.com/kittclouds/moshaver/pkg/docstore"
)

func studentID(s model.Student) string { return s.ID }

func trimStudent(s *model.Student) {
	s.FirstName = strings.TrimSpace(s.FirstName)
	s.LastName = strings.TrimSpace(s.LastName)
	s.FatherName = strings.TrimSpace(s.FatherName)
	s.NationalID = strings.TrimSpace(s.NationalID)
	s.Mobile = strings.TrimSpace(s.Mobile)
}

// AddStudent assigns a new id, stamps the active year and stores s.
func (r *Repository) AddStudent(ctx context.Context, s model.Student) (model.Student, error) {
	err := r.mutate(ctx, func(ctx context.Context) error {
		trimStudent(&s)
		s.ID = newID()
		s.AcademicYear = r.docs.AcademicYear()
		if err := validate(s); err != nil {
			return err
		}
		if err := r.store.Update(ctx, func(w store.Writer) error {
			return put(w, store.Students, s, studentKey)
		}); err != nil {
			return fmt.Errorf("add student: %w", err)
		}
		r.docs.Update(func(snap *docstore.Snapshot) { snap.Students = append(snap.Students, s) })
		return nil
	})
	return s, err
}

// UpdateStudent overwrites an existing student. The stored academic year wins.
func (r *Repository) UpdateStudent(ctx context.Context, s model.Student) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		cur, ok, err := get[model.Student](ctx, r.store, store.Students, s.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: student %s", ErrNotFound, s.ID)
		}
		trimStudent(&s)
		s.AcademicYear = cur.AcademicYear
		if err := validate(s); err != nil {
			return err
		}
		if err := r.store.Update(ctx, func(w store.Writer) error {
			return put(w, store.Students, s, studentKey)
		}); err != nil {
			return fmt.Errorf("update student: %w", err)
		}
		if s.AcademicYear == r.docs.AcademicYear() {
			r.docs.Update(func(snap *docstore.Snapshot) { snap.Students = replaceByID(snap.Students, s, studentID) })
		}
		return nil
	})
}

// DeleteStudent removes the student together with its sessions, list
// entries, attendance records and group memberships.
func (r *Repository) DeleteStudent(ctx context.Context, id string) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		if err := deleteWithCascade(ctx, r.store, store.Students, id); err != nil {
			return fmt.Errorf("delete student: %w", err)
		}
		return r.reload(ctx)
	})
}

package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/kittclouds/moshaver/internal/model"
	"github.com/kittclouds/moshaver/internal/store"
	"github.com/kittclouds/moshaver/pkg/docstore"
)

func classroomID(c model.Classroom) string { return c.ID }

// AddClassroom creates a classroom at the end of the list.
func (r *Repository) AddClassroom(ctx context.Context, name string) (model.Classroom, error) {
	var c model.Classroom
	err := r.mutate(ctx, func(ctx context.Context) error {
		snap := r.docs.Snapshot()
		c = model.Classroom{
			ID:           newID(),
			Name:         strings.TrimSpace(name),
			AcademicYear: snap.AcademicYear,
			Order:        len(snap.Classrooms),
		}
		if err := validate(c); err != nil {
			return err
		}
		if err := r.store.Update(ctx, func(w store.Writer) error {
			return put(w, store.Classrooms, c, classroomKey)
		}); err != nil {
			return fmt.Errorf("add classroom: %w", err)
		}
		r.docs.Update(func(s *docstore.Snapshot) { s.Classrooms = append(s.Classrooms, c) })
		return nil
	})
	return c, err
}

// UpdateClassroom overwrites a classroom's name. Year and order are kept.
func (r *Repository) UpdateClassroom(ctx context.Context, c model.Classroom) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		cur, ok, err := get[model.Classroom](ctx, r.store, store.Classrooms, c.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: classroom %s", ErrNotFound, c.ID)
		}
		cur.Name = strings.TrimSpace(c.Name)
		if err := validate(cur); err != nil {
			return err
		}
		if err := r.store.Update(ctx, func(w store.Writer) error {
			return put(w, store.Classrooms, cur, classroomKey)
		}); err != nil {
			return fmt.Errorf("update classroom: %w", err)
		}
		if cur.AcademicYear == r.docs.AcademicYear() {
			r.docs.Update(func(s *docstore.Snapshot) { s.Classrooms = replaceByID(s.Classrooms, cur, classroomID) })
		}
		return nil
	})
}

// DeleteClassroom removes the classroom. Its students become unassigned;
// no student is deleted.
func (r *Repository) DeleteClassroom(ctx context.Context, id string) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		if err := deleteWithCascade(ctx, r.store, store.Classrooms, id); err != nil {
			return fmt.Errorf("delete classroom: %w", err)
		}
		return r.reload(ctx)
	})
}

// ReorderClassrooms rewrites every classroom's order to its position in ids.
func (r *Repository) ReorderClassrooms(ctx context.Context, ids []string) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		out, err := reorder(r.docs.Snapshot().Classrooms, ids, classroomID,
			func(c *model.Classroom, i int) { c.Order = i })
		if err != nil {
			return err
		}
		if err := r.store.Update(ctx, func(w store.Writer) error {
			return putAll(w, store.Classrooms, out, classroomKey)
		}); err != nil {
			return fmt.Errorf("reorder classrooms: %w", err)
		}
		r.docs.Update(func(s *docstore.Snapshot) { s.Classrooms = out })
		return nil
	})
}

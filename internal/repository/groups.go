package repository

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/kittclouds/moshaver/internal/model"
	"github.com/kittclouds/moshaver/internal/store"
	"github.com/kittclouds/moshaver/pkg/docstore"
)

func groupID(g model.StudentGroup) string { return g.ID }

func (r *Repository) CreateGroup(ctx context.Context, name, classroomID string) (model.StudentGroup, error) {
	var g model.StudentGroup
	err := r.mutate(ctx, func(ctx context.Context) error {
		snap := r.docs.Snapshot()
		g = model.StudentGroup{
			ID:           newID(),
			Name:         strings.TrimSpace(name),
			ClassroomID:  classroomID,
			StudentIDs:   []string{},
			Order:        len(snap.Groups),
			AcademicYear: snap.AcademicYear,
		}
		if err := validate(g); err != nil {
			return err
		}
		if err := r.store.Update(ctx, func(w store.Writer) error {
			return put(w, store.StudentGroups, g, groupKey)
		}); err != nil {
			return fmt.Errorf("create group: %w", err)
		}
		r.docs.Update(func(s *docstore.Snapshot) { s.Groups = append(s.Groups, model.CloneGroup(g)) })
		return nil
	})
	return g, err
}

func (r *Repository) RenameGroup(ctx context.Context, id, name string) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		g, ok, err := get[model.StudentGroup](ctx, r.store, store.StudentGroups, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: group %s", ErrNotFound, id)
		}
		g.Name = strings.TrimSpace(name)
		if err := validate(g); err != nil {
			return err
		}
		if err := r.store.Update(ctx, func(w store.Writer) error {
			return put(w, store.StudentGroups, g, groupKey)
		}); err != nil {
			return fmt.Errorf("rename group: %w", err)
		}
		if g.AcademicYear == r.docs.AcademicYear() {
			r.docs.Update(func(s *docstore.Snapshot) { s.Groups = replaceByID(s.Groups, g, groupID) })
		}
		return nil
	})
}

func (r *Repository) DeleteGroup(ctx context.Context, id string) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		if err := r.store.Delete(ctx, store.StudentGroups, id); err != nil {
			return fmt.Errorf("delete group: %w", err)
		}
		r.docs.Update(func(s *docstore.Snapshot) { s.Groups = removeByID(s.Groups, id, groupID) })
		return nil
	})
}

func (r *Repository) ReorderGroups(ctx context.Context, ids []string) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		out, err := reorder(r.docs.Snapshot().Groups, ids, groupID,
			func(g *model.StudentGroup, i int) { g.Order = i })
		if err != nil {
			return err
		}
		if err := r.store.Update(ctx, func(w store.Writer) error {
			return putAll(w, store.StudentGroups, out, groupKey)
		}); err != nil {
			return fmt.Errorf("reorder groups: %w", err)
		}
		r.docs.Update(func(s *docstore.Snapshot) { s.Groups = out })
		return nil
	})
}

// MoveStudent takes studentID out of every group but toGroupID and appends it
// to toGroupID unless already there. Empty ids mean "ungrouped". All touched groups are
// written in one batch.
func (r *Repository) MoveStudent(ctx context.Context, studentID, fromGroupID, toGroupID string) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		groups := r.docs.Snapshot().Groups
		if fromGroupID != "" && !slices.ContainsFunc(groups, func(g model.StudentGroup) bool { return g.ID == fromGroupID }) {
			return fmt.Errorf("%w: group %s", ErrNotFound, fromGroupID)
		}
		if toGroupID != "" && !slices.ContainsFunc(groups, func(g model.StudentGroup) bool { return g.ID == toGroupID }) {
			return fmt.Errorf("%w: group %s", ErrNotFound, toGroupID)
		}

		var changed []model.StudentGroup
		for i := range groups {
			g := &groups[i]
			if g.ID == toGroupID {
				if !slices.Contains(g.StudentIDs, studentID) {
					g.StudentIDs = append(g.StudentIDs, studentID)
					changed = append(changed, *g)
				}
				continue
			}
			before := len(g.StudentIDs)
			g.StudentIDs = slices.DeleteFunc(g.StudentIDs, func(id string) bool { return id == studentID })
			if len(g.StudentIDs) != before {
				changed = append(changed, *g)
			}
		}
		if len(changed) == 0 {
			return nil
		}
		if err := r.store.Update(ctx, func(w store.Writer) error {
			return putAll(w, store.StudentGroups, changed, groupKey)
		}); err != nil {
			return fmt.Errorf("move student: %w", err)
		}
		r.docs.Update(func(s *docstore.Snapshot) { s.Groups = groups })
		return nil
	})
}

package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/kittclouds/moshaver/internal/model"
	"github.com/kittclouds/moshaver/internal/store"
	"github.com/kittclouds/moshaver/pkg/docstore"
)

func sessionID(s model.Session) string         { return s.ID }
func sessionTypeID(t model.SessionType) string { return t.ID }

// =============================================================================
// Sessions
// =============================================================================

func (r *Repository) AddSession(ctx context.Context, s model.Session) (model.Session, error) {
	err := r.mutate(ctx, func(ctx context.Context) error {
		s.ID = newID()
		s.AcademicYear = r.docs.AcademicYear()
		if err := validate(s); err != nil {
			return err
		}
		if err := r.store.Update(ctx, func(w store.Writer) error {
			return put(w, store.Sessions, s, sessionKey)
		}); err != nil {
			return fmt.Errorf("add session: %w", err)
		}
		r.docs.Update(func(snap *docstore.Snapshot) { snap.Sessions = append(snap.Sessions, s) })
		return nil
	})
	return s, err
}

func (r *Repository) UpdateSession(ctx context.Context, s model.Session) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		cur, ok, err := get[model.Session](ctx, r.store, store.Sessions, s.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: session %s", ErrNotFound, s.ID)
		}
		s.AcademicYear = cur.AcademicYear
		if err := validate(s); err != nil {
			return err
		}
		if err := r.store.Update(ctx, func(w store.Writer) error {
			return put(w, store.Sessions, s, sessionKey)
		}); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		if s.AcademicYear == r.docs.AcademicYear() {
			r.docs.Update(func(snap *docstore.Snapshot) { snap.Sessions = replaceByID(snap.Sessions, s, sessionID) })
		}
		return nil
	})
}

func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		if err := r.store.Delete(ctx, store.Sessions, id); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		r.docs.Update(func(snap *docstore.Snapshot) { snap.Sessions = removeByID(snap.Sessions, id, sessionID) })
		return nil
	})
}

// =============================================================================
// Session types (global, not year-scoped)
// =============================================================================

func (r *Repository) AddSessionType(ctx context.Context, name string) (model.SessionType, error) {
	var t model.SessionType
	err := r.mutate(ctx, func(ctx context.Context) error {
		t = model.SessionType{
			ID:    newID(),
			Name:  strings.TrimSpace(name),
			Order: len(r.docs.Snapshot().SessionTypes),
		}
		if err := validate(t); err != nil {
			return err
		}
		if err := r.store.Update(ctx, func(w store.Writer) error {
			return put(w, store.SessionTypes, t, sessionTypeKey)
		}); err != nil {
			return fmt.Errorf("add session type: %w", err)
		}
		r.docs.Update(func(snap *docstore.Snapshot) { snap.SessionTypes = append(snap.SessionTypes, t) })
		return nil
	})
	return t, err
}

func (r *Repository) UpdateSessionType(ctx context.Context, t model.SessionType) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		cur, ok, err := get[model.SessionType](ctx, r.store, store.SessionTypes, t.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: session type %s", ErrNotFound, t.ID)
		}
		cur.Name = strings.TrimSpace(t.Name)
		if err := validate(cur); err != nil {
			return err
		}
		if err := r.store.Update(ctx, func(w store.Writer) error {
			return put(w, store.SessionTypes, cur, sessionTypeKey)
		}); err != nil {
			return fmt.Errorf("update session type: %w", err)
		}
		r.docs.Update(func(snap *docstore.Snapshot) {
			snap.SessionTypes = replaceByID(snap.SessionTypes, cur, sessionTypeID)
		})
		return nil
	})
}

// DeleteSessionType refuses with ErrLastSessionType when id is the only one left.
func (r *Repository) DeleteSessionType(ctx context.Context, id string) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		n, err := r.store.Count(ctx, store.SessionTypes)
		if err != nil {
			return err
		}
		if _, ok, err := get[model.SessionType](ctx, r.store, store.SessionTypes, id); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: session type %s", ErrNotFound, id)
		}
		if n <= 1 {
			return ErrLastSessionType
		}
		if err := r.store.Delete(ctx, store.SessionTypes, id); err != nil {
			return fmt.Errorf("delete session type: %w", err)
		}
		r.docs.Update(func(snap *docstore.Snapshot) {
			snap.SessionTypes = removeByID(snap.SessionTypes, id, sessionTypeID)
		})
		return nil
	})
}

func (r *Repository) ReorderSessionTypes(ctx context.Context, ids []string) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		out, err := reorder(r.docs.Snapshot().SessionTypes, ids, sessionTypeID,
			func(t *model.SessionType, i int) { t.Order = i })
		if err != nil {
			return err
		}
		if err := r.store.Update(ctx, func(w store.Writer) error {
			return putAll(w, store.SessionTypes, out, sessionTypeKey)
		}); err != nil {
			return fmt.Errorf("reorder session types: %w", err)
		}
		r.docs.Update(func(snap *docstore.Snapshot) { snap.SessionTypes = out })
		return nil
	})
}

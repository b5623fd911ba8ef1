// Package repository is the only entry point for reading and mutating
// counselor records. It translates intents into local store operations and
// keeps the in-memory snapshot of the active academic year current.
//
// All operations are serialized by a single mutex. Observers are notified
// after the mutex is released, with a copy of the new snapshot.
package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kittclouds/moshaver/internal/model"
	"github.com/kittclouds/moshaver/internal/store"
	"github.com/kittclouds/moshaver/pkg/docstore"
)

// Repository manages counselor records over a store.Storer.
type Repository struct {
	mu     sync.Mutex
	store  store.Storer
	docs   *docstore.Store
	loaded bool

	obsMu     sync.Mutex
	observers map[int]func(docstore.Snapshot)
	nextObs   int

	// Now is the clock used for default settings and timestamps.
	Now func() time.Time
}

// New creates a repository. Call Load before anything else.
func New(s store.Storer) *Repository {
	return &Repository{
		store:     s,
		docs:      docstore.New(),
		observers: make(map[int]func(docstore.Snapshot)),
		Now:       time.Now,
	}
}

func newID() string {
	return uuid.NewString()
}

// Store exposes the underlying store for components that persist their own
// settings keys (the sync engine's last-sync marker).
func (r *Repository) Store() store.Storer {
	return r.store
}

// =============================================================================
// Loading
// =============================================================================

// Load reads settings, seeds the default session types on first run and
// hydrates the snapshot for the active academic year.
func (r *Repository) Load(ctx context.Context) error {
	return r.apply(ctx, func(ctx context.Context) error {
		n, err := r.store.Count(ctx, store.SessionTypes)
		if err != nil {
			return fmt.Errorf("count session types: %w", err)
		}
		if n == 0 {
			if err := r.store.Update(ctx, seedSessionTypes); err != nil {
				return fmt.Errorf("seed session types: %w", err)
			}
		}
		settings, err := r.readSettings(ctx)
		if err != nil {
			return err
		}
		if err := r.hydrate(ctx, settings); err != nil {
			return err
		}
		r.loaded = true
		return nil
	})
}

func seedSessionTypes(w store.Writer) error {
	for i, name := range model.DefaultSessionTypes {
		t := model.SessionType{ID: newID(), Name: name, Order: i}
		if err := put(w, store.SessionTypes, t, sessionTypeKey); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) readSettings(ctx context.Context) (model.AppSettings, error) {
	settings := model.DefaultAppSettings(r.Now())
	if _, err := r.store.GetSetting(ctx, store.KeyAppSettings, &settings); err != nil {
		return settings, err
	}
	if settings.AcademicYear == "" {
		settings.AcademicYear = model.CurrentAcademicYear(r.Now())
	}
	return settings, nil
}

func (r *Repository) readWorkingDays(ctx context.Context) (model.WorkingDays, error) {
	wd := model.DefaultWorkingDays()
	_, err := r.store.GetSetting(ctx, store.KeyWorkingDays, &wd)
	return wd, err
}

// hydrate rebuilds every in-memory collection for settings.AcademicYear.
// This is a full resync, not a diff.
func (r *Repository) hydrate(ctx context.Context, settings model.AppSettings) error {
	snap, err := r.loadYear(ctx, settings)
	if err != nil {
		return err
	}
	r.docs.Hydrate(snap)
	return nil
}

// loadYear reads the snapshot of settings.AcademicYear without touching the
// in-memory state.
func (r *Repository) loadYear(ctx context.Context, settings model.AppSettings) (docstore.Snapshot, error) {
	year := settings.AcademicYear
	snap := docstore.Snapshot{AcademicYear: year, Settings: settings}

	var err error
	if snap.WorkingDays, err = r.readWorkingDays(ctx); err != nil {
		return snap, err
	}
	if snap.Classrooms, err = list[model.Classroom](ctx, r.store, store.Classrooms, year); err != nil {
		return snap, err
	}
	if snap.Students, err = list[model.Student](ctx, r.store, store.Students, year); err != nil {
		return snap, err
	}
	if snap.Sessions, err = list[model.Session](ctx, r.store, store.Sessions, year); err != nil {
		return snap, err
	}
	if snap.SessionTypes, err = list[model.SessionType](ctx, r.store, store.SessionTypes, ""); err != nil {
		return snap, err
	}
	if snap.Groups, err = list[model.StudentGroup](ctx, r.store, store.StudentGroups, year); err != nil {
		return snap, err
	}
	if snap.SpecialStudents, err = list[model.SpecialStudentInfo](ctx, r.store, store.SpecialStudents, year); err != nil {
		return snap, err
	}
	if snap.CounselingNeeded, err = list[model.CounselingNeededInfo](ctx, r.store, store.CounselingNeeded, year); err != nil {
		return snap, err
	}
	if snap.ThinkingObservations, err = list[model.ThinkingObservation](ctx, r.store, store.ThinkingObservations, year); err != nil {
		return snap, err
	}
	if snap.ThinkingEvaluations, err = list[model.ThinkingEvaluation](ctx, r.store, store.ThinkingEvaluations, year); err != nil {
		return snap, err
	}
	if snap.Attendance, err = list[model.AttendanceRecord](ctx, r.store, store.AttendanceRecords, year); err != nil {
		return snap, err
	}
	if snap.AttendanceNotes, err = list[model.AttendanceNote](ctx, r.store, store.AttendanceNotes, year); err != nil {
		return snap, err
	}

	sortByOrder(snap.Classrooms, func(c model.Classroom) int { return c.Order })
	sortByOrder(snap.SessionTypes, func(t model.SessionType) int { return t.Order })
	sortByOrder(snap.Groups, func(g model.StudentGroup) int { return g.Order })
	return snap, nil
}

// reload re-hydrates the active year from the store.
func (r *Repository) reload(ctx context.Context) error {
	return r.hydrate(ctx, r.docs.Settings())
}

// =============================================================================
// Snapshot reads and observers
// =============================================================================

// Snapshot returns a copy of the active-year state.
func (r *Repository) Snapshot() docstore.Snapshot {
	return r.docs.Snapshot()
}

func (r *Repository) AcademicYear() string             { return r.docs.AcademicYear() }
func (r *Repository) Settings() model.AppSettings      { return r.docs.Settings() }
func (r *Repository) Classrooms() []model.Classroom    { return r.docs.Snapshot().Classrooms }
func (r *Repository) Students() []model.Student        { return r.docs.Snapshot().Students }
func (r *Repository) Sessions() []model.Session        { return r.docs.Snapshot().Sessions }
func (r *Repository) SessionTypes() []model.SessionType { return r.docs.Snapshot().SessionTypes }
func (r *Repository) Groups() []model.StudentGroup     { return r.docs.Snapshot().Groups }
func (r *Repository) WorkingDays() model.WorkingDays   { return r.docs.Snapshot().WorkingDays }
func (r *Repository) Attendance() []model.AttendanceRecord {
	return r.docs.Snapshot().Attendance
}

// StudentByID returns the student, or nil when it does not exist
// (it may have been deleted).
func (r *Repository) StudentByID(id string) *model.Student {
	return r.docs.Student(id)
}

// Subscribe registers fn to receive the snapshot after every successful
// mutation. fn runs synchronously on the mutating goroutine and must not
// block. The returned func unsubscribes.
func (r *Repository) Subscribe(fn func(docstore.Snapshot)) (unsubscribe func()) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()

	id := r.nextObs
	r.nextObs++
	r.observers[id] = fn
	return func() {
		r.obsMu.Lock()
		defer r.obsMu.Unlock()
		delete(r.observers, id)
	}
}

func (r *Repository) notify(snap docstore.Snapshot) {
	r.obsMu.Lock()
	fns := make([]func(docstore.Snapshot), 0, len(r.observers))
	for _, fn := range r.observers {
		fns = append(fns, fn)
	}
	r.obsMu.Unlock()

	for _, fn := range fns {
		fn(snap.Clone())
	}
}

// apply runs fn under the repository lock and notifies observers on success.
func (r *Repository) apply(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	err := fn(ctx)
	var snap docstore.Snapshot
	if err == nil {
		snap = r.docs.Snapshot()
	}
	r.mu.Unlock()

	if err == nil {
		r.notify(snap)
	}
	return err
}

// mutate is apply for operations that require Load to have run.
func (r *Repository) mutate(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.apply(ctx, func(ctx context.Context) error {
		if !r.loaded {
			return ErrNotLoaded
		}
		return fn(ctx)
	})
}

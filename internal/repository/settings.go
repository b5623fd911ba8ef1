package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/kittclouds/moshaver/internal/model"
	"github.com/kittclouds/moshaver/internal/store"
	"github.com/kittclouds/moshaver/pkg/docstore"
)

// UpdateSettings applies fn to a copy of the current settings and persists
// the result. Changing the academic year reloads every collection for the new
// year.
func (r *Repository) UpdateSettings(ctx context.Context, fn func(*model.AppSettings)) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		return r.updateSettings(ctx, fn)
	})
}

func (r *Repository) updateSettings(ctx context.Context, fn func(*model.AppSettings)) error {
	prev := r.docs.Settings()
	next := prev.Clone()
	fn(&next)
	next.AcademicYear = strings.TrimSpace(next.AcademicYear)
	if next.AcademicYear == "" {
		return NewValidationError(errors.New("academic year is required"),
			FieldError{Field: "academicYear", Error: "academicYear is a required field"})
	}
	if next.AcademicYear != prev.AcademicYear {
		// A failed read leaves both disk and memory on the old year.
		snap, err := r.loadYear(ctx, next)
		if err != nil {
			return fmt.Errorf("load year %s: %w", next.AcademicYear, err)
		}
		if err := r.store.PutSetting(ctx, store.KeyAppSettings, next); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
		r.docs.Hydrate(snap)
		return nil
	}
	if err := r.store.PutSetting(ctx, store.KeyAppSettings, next); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	r.docs.Update(func(s *docstore.Snapshot) { s.Settings = next })
	return nil
}

// SetAcademicYear switches the active year.
func (r *Repository) SetAcademicYear(ctx context.Context, year string) error {
	return r.UpdateSettings(ctx, func(s *model.AppSettings) { s.AcademicYear = year })
}

// ReorderMoreMenu stores the full new ordering of the "more" menu.
func (r *Repository) ReorderMoreMenu(ctx context.Context, keys []string) error {
	return r.UpdateSettings(ctx, func(s *model.AppSettings) {
		s.MoreMenuOrder = append([]string(nil), keys...)
	})
}

func (r *Repository) UpdateWorkingDays(ctx context.Context, wd model.WorkingDays) error {
	return r.mutate(ctx, func(ctx context.Context) error {
		if err := r.store.PutSetting(ctx, store.KeyWorkingDays, wd); err != nil {
			return fmt.Errorf("save working days: %w", err)
		}
		r.docs.Update(func(s *docstore.Snapshot) { s.WorkingDays = wd })
		return nil
	})
}

// RecordSync stores the time of the last successful cloud sync.
func (r *Repository) RecordSync(ctx context.Context, t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.PutSetting(ctx, store.KeyLastSyncTime, t.UTC()); err != nil {
		return fmt.Errorf("save last sync time: %w", err)
	}
	return nil
}

// LastSyncTime reports the last successful cloud sync, if any.
func (r *Repository) LastSyncTime(ctx context.Context) (time.Time, bool, error) {
	var t time.Time
	ok, err := r.store.GetSetting(ctx, store.KeyLastSyncTime, &t)
	if err != nil {
		return t, false, fmt.Errorf("read last sync time: %w", err)
	}
	return t, ok, nil
}

// =============================================================================
// Password gate
// =============================================================================

// SetPassword enables protection with a bcrypt hash of plain.
func (r *Repository) SetPassword(ctx context.Context, plain string) error {
	if strings.TrimSpace(plain) == "" {
		return NewValidationError(errors.New("password is required"),
			FieldError{Field: "password", Error: "password cannot be blank"})
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return r.UpdateSettings(ctx, func(s *model.AppSettings) {
		s.PasswordProtected = true
		s.PasswordHash = string(hash)
	})
}

// CheckPassword reports whether plain unlocks the app. It is always true when
// protection is off.
func (r *Repository) CheckPassword(plain string) bool {
	s := r.docs.Settings()
	if !s.PasswordProtected {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(s.PasswordHash), []byte(plain)) == nil
}

// DisablePassword turns protection off after verifying plain.
func (r *Repository) DisablePassword(ctx context.Context, plain string) error {
	if !r.CheckPassword(plain) {
		return ErrWrongPassword
	}
	return r.UpdateSettings(ctx, func(s *model.AppSettings) {
		s.PasswordProtected = false
		s.PasswordHash = ""
	})
}

package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/kittclouds/moshaver/internal/model"
	"github.com/kittclouds/moshaver/internal/store"
)

// Arabic yeh and kaf are rewritten to their Persian forms.
var persianChars = strings.NewReplacer("ي", "ی", "ك", "ک")

// FoldPersian replaces Arabic yeh/kaf with Persian yeh/keheh.
func FoldPersian(s string) string {
	return persianChars.Replace(s)
}

// NormalizeDigits converts Persian and Arabic-Indic digits to ASCII and
// drops everything that is not a digit.
func NormalizeDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= '۰' && r <= '۹':
			b.WriteRune('0' + r - '۰')
		case r >= '٠' && r <= '٩':
			b.WriteRune('0' + r - '٠')
		}
	}
	return b.String()
}

// NameKey is the comparison form of a full name.
func NameKey(first, last string) string {
	s := FoldPersian(first + " " + last)
	s = strings.ReplaceAll(s, "‌", " ")
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Text fields that must never be rewritten.
var skipFields = map[string]bool{
	"id":       true,
	"photoUrl": true,
}

// foldValue rewrites every string under v in place and reports whether
// anything changed.
func foldValue(v any) (any, bool) {
	switch t := v.(type) {
	case string:
		out := FoldPersian(t)
		return out, out != t
	case map[string]any:
		changed := false
		for k, child := range t {
			if skipFields[k] || strings.HasSuffix(k, "Id") {
				continue
			}
			if out, ok := foldValue(child); ok {
				t[k] = out
				changed = true
			}
		}
		return t, changed
	case []any:
		changed := false
		for i, child := range t {
			if out, ok := foldValue(child); ok {
				t[i] = out
				changed = true
			}
		}
		return t, changed
	}
	return v, false
}

// NormalizeArabicChars rewrites Arabic yeh/kaf to Persian in every text field
// of every record in every academic year, in one transaction. It returns the
// number of records changed.
func (r *Repository) NormalizeArabicChars(ctx context.Context) (int, error) {
	var changed int
	err := r.mutate(ctx, func(ctx context.Context) error {
		type pending struct {
			coll store.Collection
			rec  store.Record
		}
		var writes []pending
		for _, coll := range store.AllCollections {
			recs, err := r.store.GetAll(ctx, coll, "")
			if err != nil {
				return err
			}
			for _, rec := range recs {
				var doc any
				dec := json.NewDecoder(bytes.NewReader(rec.Data))
				dec.UseNumber()
				if err := dec.Decode(&doc); err != nil {
					return fmt.Errorf("normalize %s/%s: %w", coll, rec.ID, err)
				}
				out, ok := foldValue(doc)
				if !ok {
					continue
				}
				data, err := json.Marshal(out)
				if err != nil {
					return err
				}
				rec.Data = data
				writes = append(writes, pending{coll, rec})
			}
		}
		if len(writes) == 0 {
			return nil
		}
		if err := r.store.Update(ctx, func(w store.Writer) error {
			for _, p := range writes {
				if err := w.Put(p.coll, p.rec); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return fmt.Errorf("normalize characters: %w", err)
		}
		changed = len(writes)
		return r.reload(ctx)
	})
	return changed, err
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) || r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// padNationalID restores the leading zero spreadsheets strip from 10-digit ids.
func padNationalID(id string) string {
	if len(id) == 9 && allDigits(id) {
		return "0" + id
	}
	return id
}

// padMobile restores the leading zero of an 11-digit mobile number.
func padMobile(m string) string {
	if len(m) == 10 && allDigits(m) && m[0] != '0' {
		return "0" + m
	}
	return m
}

// PadLeadingZeros fixes 9-digit national ids and 10-digit mobiles on every
// student of every year, in one transaction. It returns the number of
// students changed.
func (r *Repository) PadLeadingZeros(ctx context.Context) (int, error) {
	var changed int
	err := r.mutate(ctx, func(ctx context.Context) error {
		students, err := list[model.Student](ctx, r.store, store.Students, "")
		if err != nil {
			return err
		}
		var dirty []model.Student
		for _, s := range students {
			nid, mob := padNationalID(s.NationalID), padMobile(s.Mobile)
			if nid == s.NationalID && mob == s.Mobile {
				continue
			}
			s.NationalID, s.Mobile = nid, mob
			dirty = append(dirty, s)
		}
		if len(dirty) == 0 {
			return nil
		}
		if err := r.store.Update(ctx, func(w store.Writer) error {
			return putAll(w, store.Students, dirty, studentKey)
		}); err != nil {
			return fmt.Errorf("pad leading zeros: %w", err)
		}
		changed = len(dirty)
		return r.reload(ctx)
	})
	return changed, err
}

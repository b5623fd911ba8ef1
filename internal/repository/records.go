package repository

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/kittclouds/moshaver/internal/model"
	"github.com/kittclouds/moshaver/internal/store"
)

// Record identities. Each returns (id, academicYear) for the store row.

func classroomKey(c model.Classroom) (string, string)            { return c.ID, c.AcademicYear }
func studentKey(s model.Student) (string, string)                { return s.ID, s.AcademicYear }
func sessionKey(s model.Session) (string, string)                { return s.ID, s.AcademicYear }
func sessionTypeKey(t model.SessionType) (string, string)        { return t.ID, "" }
func groupKey(g model.StudentGroup) (string, string)             { return g.ID, g.AcademicYear }
func specialKey(i model.SpecialStudentInfo) (string, string)     { return i.StudentID, i.AcademicYear }
func counselingKey(i model.CounselingNeededInfo) (string, string) { return i.StudentID, i.AcademicYear }
func observationKey(o model.ThinkingObservation) (string, string) { return o.StudentID, o.AcademicYear }
func evaluationKey(e model.ThinkingEvaluation) (string, string)  { return e.StudentID, e.AcademicYear }
func attendanceKey(a model.AttendanceRecord) (string, string)    { return a.Key(), a.AcademicYear }
func noteKey(n model.AttendanceNote) (string, string)            { return n.Key(), n.AcademicYear }

// put writes one entity inside a transaction.
func put[T any](w store.Writer, coll store.Collection, v T, key func(T) (string, string)) error {
	id, year := key(v)
	rec, err := store.NewRecord(id, year, v)
	if err != nil {
		return err
	}
	return w.Put(coll, rec)
}

func putAll[T any](w store.Writer, coll store.Collection, items []T, key func(T) (string, string)) error {
	for _, v := range items {
		if err := put(w, coll, v, key); err != nil {
			return err
		}
	}
	return nil
}

func decode[T any](coll store.Collection, recs []store.Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		var v T
		if err := json.Unmarshal(r.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", coll, r.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// list reads a collection; an empty year reads every year.
func list[T any](ctx context.Context, s store.Storer, coll store.Collection, year string) ([]T, error) {
	recs, err := s.GetAll(ctx, coll, year)
	if err != nil {
		return nil, err
	}
	return decode[T](coll, recs)
}

// get reads one entity. Reports false when it does not exist.
func get[T any](ctx context.Context, s store.Storer, coll store.Collection, id string) (T, bool, error) {
	var v T
	rec, err := s.Get(ctx, coll, id)
	if err != nil || rec == nil {
		return v, false, err
	}
	if err := json.Unmarshal(rec.Data, &v); err != nil {
		return v, false, fmt.Errorf("decode %s/%s: %w", coll, id, err)
	}
	return v, true, nil
}

func sortByOrder[T any](items []T, order func(T) int) {
	slices.SortStableFunc(items, func(a, b T) int { return cmp.Compare(order(a), order(b)) })
}

// reorder returns items arranged as ids, with anything not named appended in
// its current position, and order rewritten to the new index.
func reorder[T any](items []T, ids []string, id func(T) string, setOrder func(*T, int)) ([]T, error) {
	byID := make(map[string]T, len(items))
	for _, it := range items {
		byID[id(it)] = it
	}
	out := make([]T, 0, len(items))
	seen := make(map[string]bool, len(ids))
	for _, k := range ids {
		it, ok := byID[k]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, k)
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	for _, it := range items {
		if !seen[id(it)] {
			out = append(out, it)
		}
	}
	for i := range out {
		setOrder(&out[i], i)
	}
	return out, nil
}

// replaceByID swaps the element with the same id, or appends.
func replaceByID[T any](items []T, v T, id func(T) string) []T {
	for i := range items {
		if id(items[i]) == id(v) {
			items[i] = v
			return items
		}
	}
	return append(items, v)
}

func removeByID[T any](items []T, target string, id func(T) string) []T {
	return slices.DeleteFunc(items, func(v T) bool { return id(v) == target })
}

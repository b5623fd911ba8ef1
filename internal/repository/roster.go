package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/kittclouds/moshaver/internal/model"
	"github.com/kittclouds/moshaver/internal/store"
)

// RosterStudent is one row of the master roster sheet.
type RosterStudent struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	FatherName  string `json:"fatherName,omitempty"`
	NationalID  string `json:"nationalId,omitempty"`
	BirthDate   string `json:"birthDate,omitempty"`
	Nationality string `json:"nationality,omitempty"`
	Mobile      string `json:"mobile,omitempty"`
}

// ClassEntry is one row of a classroom sheet.
type ClassEntry struct {
	NationalID string `json:"nationalId,omitempty"`
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
}

// ClassSheet lists the students of one classroom, named by its sheet.
type ClassSheet struct {
	Classroom string       `json:"classroom"`
	Entries   []ClassEntry `json:"entries"`
}

// Roster is a parsed spreadsheet import.
type Roster struct {
	Students []RosterStudent `json:"students"`
	Classes  []ClassSheet    `json:"classes"`
}

type ImportResult struct {
	Inserted          int `json:"inserted"`
	Updated           int `json:"updated"`
	Unchanged         int `json:"unchanged"`
	Assigned          int `json:"assigned"`
	Ambiguous         int `json:"ambiguous"`
	ClassroomsCreated int `json:"classroomsCreated"`
}

func compositeKey(first, last, nid string) string {
	return NameKey(first, last) + "|" + nid
}

// nationalKey is the form national ids are compared in.
func nationalKey(nid string) string {
	return padNationalID(NormalizeDigits(nid))
}

// nameEntry is a class-sheet row eligible for name matching.
type nameEntry struct {
	classID    string
	nationalID string
}

// applyRosterFields copies every non-empty candidate field that differs and
// reports whether anything changed.
func applyRosterFields(s *model.Student, c RosterStudent) bool {
	changed := false
	set := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&s.FirstName, c.FirstName)
	set(&s.LastName, c.LastName)
	set(&s.FatherName, c.FatherName)
	set(&s.NationalID, c.NationalID)
	set(&s.BirthDate, c.BirthDate)
	set(&s.Nationality, c.Nationality)
	set(&s.Mobile, c.Mobile)
	return changed
}

func cleanCandidate(c RosterStudent) RosterStudent {
	c.FirstName = strings.TrimSpace(FoldPersian(c.FirstName))
	c.LastName = strings.TrimSpace(FoldPersian(c.LastName))
	c.FatherName = strings.TrimSpace(FoldPersian(c.FatherName))
	c.NationalID = padNationalID(NormalizeDigits(c.NationalID))
	c.Mobile = padMobile(NormalizeDigits(c.Mobile))
	c.BirthDate = strings.TrimSpace(c.BirthDate)
	c.Nationality = strings.TrimSpace(c.Nationality)
	return c
}

// ImportRoster merges a spreadsheet roster into the active year.
//
// New students are inserted; existing ones (matched by national id, then by
// normalized name plus national id) only receive fields that differ.
// Classroom assignment matches class-sheet rows by national id first and
// falls back to the full name only when that name occurs in exactly one
// classroom; ambiguous names leave the student unassigned. Rows whose national
// id belongs to a student, or differs from the student's own id, are never
// matched by name. Everything is
// computed from one read and written in one transaction.
func (r *Repository) ImportRoster(ctx context.Context, roster Roster) (ImportResult, error) {
	var res ImportResult
	err := r.mutate(ctx, func(ctx context.Context) error {
		snap := r.docs.Snapshot()
		year := snap.AcademicYear
		students := snap.Students

		byNID := make(map[string]int)
		byKey := make(map[string]int)
		for i, s := range students {
			if nid := nationalKey(s.NationalID); nid != "" {
				byNID[nid] = i
			}
			byKey[compositeKey(s.FirstName, s.LastName, nationalKey(s.NationalID))] = i
		}
		dirty := make(map[int]bool)

		for _, c := range roster.Students {
			c = cleanCandidate(c)
			if c.FirstName == "" && c.LastName == "" {
				continue
			}
			idx, ok := -1, false
			if c.NationalID != "" {
				idx, ok = byNID[c.NationalID]
			}
			if !ok {
				idx, ok = byKey[compositeKey(c.FirstName, c.LastName, c.NationalID)]
			}
			if !ok {
				s := model.Student{ID: newID(), AcademicYear: year}
				applyRosterFields(&s, c)
				students = append(students, s)
				idx = len(students) - 1
				if c.NationalID != "" {
					byNID[c.NationalID] = idx
				}
				byKey[compositeKey(c.FirstName, c.LastName, c.NationalID)] = idx
				dirty[idx] = true
				res.Inserted++
				continue
			}
			if applyRosterFields(&students[idx], c) {
				dirty[idx] = true
				res.Updated++
			} else {
				res.Unchanged++
			}
		}

		// Classrooms are resolved by name; missing ones are created.
		classrooms := make(map[string]model.Classroom)
		for _, c := range snap.Classrooms {
			classrooms[NameKey(c.Name, "")] = c
		}
		known := make(map[string]bool, len(students))
		for _, s := range students {
			if nid := nationalKey(s.NationalID); nid != "" {
				known[nid] = true
			}
		}
		var created []model.Classroom
		byNIDClass := make(map[string]string)
		byName := make(map[string][]nameEntry)
		for _, sheet := range roster.Classes {
			name := strings.TrimSpace(FoldPersian(sheet.Classroom))
			if name == "" {
				continue
			}
			cls, ok := classrooms[NameKey(name, "")]
			if !ok {
				cls = model.Classroom{
					ID:           newID(),
					Name:         name,
					AcademicYear: year,
					Order:        len(snap.Classrooms) + len(created),
				}
				classrooms[NameKey(name, "")] = cls
				created = append(created, cls)
			}
			for _, e := range sheet.Entries {
				nid := nationalKey(e.NationalID)
				if nid != "" {
					byNIDClass[nid] = cls.ID
				}
				// Rows claimed by an id match never assign anyone else by name.
				if known[nid] || strings.TrimSpace(e.FirstName+e.LastName) == "" {
					continue
				}
				key := NameKey(e.FirstName, e.LastName)
				byName[key] = append(byName[key], nameEntry{classID: cls.ID, nationalID: nid})
			}
		}
		res.ClassroomsCreated = len(created)

		for i := range students {
			s := &students[i]
			nid := nationalKey(s.NationalID)
			target, decided := "", false
			if cid, ok := byNIDClass[nid]; ok && nid != "" {
				target, decided = cid, true
			} else if set := nameClasses(byName[NameKey(s.FirstName, s.LastName)], nid); len(set) == 1 {
				for cid := range set {
					target = cid
				}
				decided = true
			} else if len(set) > 1 {
				decided = true
				res.Ambiguous++
			}
			if decided && s.ClassroomID != target {
				s.ClassroomID = target
				dirty[i] = true
				if target != "" {
					res.Assigned++
				}
			}
		}

		if len(dirty) == 0 && len(created) == 0 {
			return nil
		}
		if err := r.store.Update(ctx, func(w store.Writer) error {
			if err := putAll(w, store.Classrooms, created, classroomKey); err != nil {
				return err
			}
			for i := range dirty {
				if err := put(w, store.Students, students[i], studentKey); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return fmt.Errorf("import roster: %w", err)
		}
		return r.reload(ctx)
	})
	return res, err
}

// nameClasses returns the classrooms of entries a student with national id
// nid may be matched to by name. An entry carrying a different id is skipped.
func nameClasses(entries []nameEntry, nid string) map[string]bool {
	set := make(map[string]bool)
	for _, e := range entries {
		if nid != "" && e.nationalID != "" && e.nationalID != nid {
			continue
		}
		set[e.classID] = true
	}
	return set
}

// Package docstore holds the in-memory snapshot of the active academic year.
// The snapshot is hydrated from the local store at startup and after every
// year switch, then patched collection-by-collection as mutations succeed.
package docstore

import (
	"slices"
	"sync"

	"github.com/kittclouds/moshaver/internal/model"
)

// Snapshot is the full reactive state handed to the UI.
// Session types, settings and working days are global; everything else is
// scoped to AcademicYear.
type Snapshot struct {
	AcademicYear         string                       `json:"academicYear"`
	Classrooms           []model.Classroom            `json:"classrooms"`
	Students             []model.Student              `json:"students"`
	Sessions             []model.Session              `json:"sessions"`
	SessionTypes         []model.SessionType          `json:"sessionTypes"`
	Groups               []model.StudentGroup         `json:"studentGroups"`
	SpecialStudents      []model.SpecialStudentInfo   `json:"specialStudents"`
	CounselingNeeded     []model.CounselingNeededInfo `json:"counselingNeededStudents"`
	ThinkingObservations []model.ThinkingObservation  `json:"thinkingObservations"`
	ThinkingEvaluations  []model.ThinkingEvaluation   `json:"thinkingEvaluations"`
	Attendance           []model.AttendanceRecord     `json:"attendanceRecords"`
	AttendanceNotes      []model.AttendanceNote       `json:"attendanceNotes"`
	Settings             model.AppSettings            `json:"settings"`
	WorkingDays          model.WorkingDays            `json:"workingDays"`
}

// Clone returns a deep copy; nested slices and maps are not shared.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Classrooms = slices.Clone(s.Classrooms)
	out.Students = slices.Clone(s.Students)
	out.Sessions = slices.Clone(s.Sessions)
	out.SessionTypes = slices.Clone(s.SessionTypes)
	out.Groups = make([]model.StudentGroup, len(s.Groups))
	for i, g := range s.Groups {
		out.Groups[i] = model.CloneGroup(g)
	}
	out.SpecialStudents = slices.Clone(s.SpecialStudents)
	out.CounselingNeeded = slices.Clone(s.CounselingNeeded)
	out.ThinkingObservations = make([]model.ThinkingObservation, len(s.ThinkingObservations))
	for i, o := range s.ThinkingObservations {
		out.ThinkingObservations[i] = model.CloneObservation(o)
	}
	out.ThinkingEvaluations = slices.Clone(s.ThinkingEvaluations)
	out.Attendance = slices.Clone(s.Attendance)
	out.AttendanceNotes = slices.Clone(s.AttendanceNotes)
	out.Settings = s.Settings.Clone()
	return out
}

// Store holds the current snapshot.
// Thread-safe for concurrent access from WASM callbacks.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Hydrate replaces the whole snapshot. Callers must not assume any previous
// slice survives a hydrate.
func (s *Store) Hydrate(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap = snap.Clone()
}

// Update applies fn to the live snapshot and returns a copy of the result.
func (s *Store) Update(fn func(*Snapshot)) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.snap)
	return s.snap.Clone()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snap.Clone()
}

// AcademicYear returns the active year.
func (s *Store) AcademicYear() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snap.AcademicYear
}

// Settings returns a copy of the app settings.
func (s *Store) Settings() model.AppSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snap.Settings.Clone()
}

// Student returns the student with id, or nil.
func (s *Store) Student(id string) *model.Student {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, st := range s.snap.Students {
		if st.ID == id {
			out := st
			return &out
		}
	}
	return nil
}

// Clear drops everything.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap = Snapshot{}
}

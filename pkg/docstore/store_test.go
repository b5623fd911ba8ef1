package docstore

import (
	"testing"

	"github.com/kittclouds/moshaver/internal/model"
)

func TestSnapshotIsACopy(t *testing.T) {
	s := New()
	s.Hydrate(Snapshot{
		AcademicYear: "1403-1404",
		Students:     []model.Student{{ID: "s1", FirstName: "Ali"}},
		Groups:       []model.StudentGroup{{ID: "g1", StudentIDs: []string{"s1"}}},
		ThinkingObservations: []model.ThinkingObservation{
			{StudentID: "s1", Scores: map[int]int{1: 3}},
		},
	})

	snap := s.Snapshot()
	snap.Students[0].FirstName = "changed"
	snap.Groups[0].StudentIDs[0] = "changed"
	snap.ThinkingObservations[0].Scores[1] = 5

	again := s.Snapshot()
	if again.Students[0].FirstName != "Ali" {
		t.Fatalf("student mutated through snapshot: %q", again.Students[0].FirstName)
	}
	if again.Groups[0].StudentIDs[0] != "s1" {
		t.Fatalf("group membership mutated through snapshot")
	}
	if again.ThinkingObservations[0].Scores[1] != 3 {
		t.Fatalf("scores mutated through snapshot")
	}
}

func TestUpdateAndStudent(t *testing.T) {
	s := New()
	s.Hydrate(Snapshot{AcademicYear: "y"})

	out := s.Update(func(snap *Snapshot) {
		snap.Students = append(snap.Students, model.Student{ID: "s1", LastName: "Karimi"})
	})
	if len(out.Students) != 1 {
		t.Fatalf("expected 1 student, got %d", len(out.Students))
	}

	st := s.Student("s1")
	if st == nil || st.LastName != "Karimi" {
		t.Fatalf("Student(s1) = %+v", st)
	}
	if s.Student("missing") != nil {
		t.Fatal("expected nil for a missing student")
	}

	s.Clear()
	if s.AcademicYear() != "" || len(s.Snapshot().Students) != 0 {
		t.Fatal("Clear did not reset the snapshot")
	}
}

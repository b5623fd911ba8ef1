// Package store provides SQLite-backed persistence for moshaver.
// This is the local-first data layer: keyed JSON records grouped in collections,
// plus a small key-value table for app-wide settings.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Collection names a keyed record collection.
// Values match the collection names used in backups and cloud snapshots.
type Collection string

const (
	Classrooms           Collection = "classrooms"
	Students             Collection = "students"
	Sessions             Collection = "sessions"
	SessionTypes         Collection = "sessionTypes"
	StudentGroups        Collection = "studentGroups"
	SpecialStudents      Collection = "specialStudents"
	CounselingNeeded     Collection = "counselingNeededStudents"
	ThinkingObservations Collection = "thinkingObservations"
	ThinkingEvaluations  Collection = "thinkingEvaluations"
	AttendanceRecords    Collection = "attendanceRecords"
	AttendanceNotes      Collection = "attendanceNotes"
)

// Setting keys stored outside the year-partitioned collections.
const (
	KeyAppSettings  = "appSettings"
	KeyWorkingDays  = "workingDays"
	KeyLastSyncTime = "lastSyncTime"
)

// tables maps every collection to its SQL table.
var tables = map[Collection]string{
	Classrooms:           "classrooms",
	Students:             "students",
	Sessions:             "sessions",
	SessionTypes:         "session_types",
	StudentGroups:        "student_groups",
	SpecialStudents:      "special_students",
	CounselingNeeded:     "counseling_needed_students",
	ThinkingObservations: "thinking_observations",
	ThinkingEvaluations:  "thinking_evaluations",
	AttendanceRecords:    "attendance_records",
	AttendanceNotes:      "attendance_notes",
}

// AllCollections lists every collection in a stable order.
var AllCollections = []Collection{
	Classrooms, Students, Sessions, SessionTypes, StudentGroups,
	SpecialStudents, CounselingNeeded, ThinkingObservations, ThinkingEvaluations,
	AttendanceRecords, AttendanceNotes,
}

var (
	ErrUnknownCollection = errors.New("store: unknown collection")
	ErrSchemaTooNew      = errors.New("store: database was written by a newer schema version")
)

func (c Collection) table() (string, error) {
	t, ok := tables[c]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, string(c))
	}
	return t, nil
}

// Record is a single keyed row. Data holds the entity as JSON.
// AcademicYear feeds the secondary index; it is empty for unpartitioned rows.
type Record struct {
	ID           string
	AcademicYear string
	Data         json.RawMessage
}

// NewRecord marshals v into a Record.
func NewRecord(id, academicYear string, v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Record{}, fmt.Errorf("marshal record %s: %w", id, err)
	}
	return Record{ID: id, AcademicYear: academicYear, Data: data}, nil
}

// Writer is the write surface available inside a transaction.
type Writer interface {
	Put(coll Collection, rec Record) error
	Delete(coll Collection, id string) error
	PutSetting(key string, value any) error
	// Clear empties every collection and the settings table.
	Clear() error
}

// Storer defines the interface for local persistence.
// SQLiteStore is the sole implementation.
type Storer interface {
	// Collections
	Count(ctx context.Context, coll Collection) (int, error)
	GetAll(ctx context.Context, coll Collection, academicYear string) ([]Record, error)
	Get(ctx context.Context, coll Collection, id string) (*Record, error)
	Put(ctx context.Context, coll Collection, rec Record) error
	PutMany(ctx context.Context, coll Collection, recs []Record) error
	Delete(ctx context.Context, coll Collection, id string) error
	DeleteMany(ctx context.Context, coll Collection, ids []string) error

	// Update runs fn inside one transaction spanning any collections.
	Update(ctx context.Context, fn func(w Writer) error) error

	// Settings
	GetSetting(ctx context.Context, key string, dst any) (bool, error)
	PutSetting(ctx context.Context, key string, value any) error

	// Lifecycle
	ClearAll(ctx context.Context) error
	SchemaVersion(ctx context.Context) (int, error)
	Close() error
}

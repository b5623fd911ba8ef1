package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SchemaVersion is the schema the code expects. Bump it together with a new
// entry in migrations; entries may only add tables and indexes.
const SchemaVersion = 5

type migration struct {
	version int
	name    string
	stmts   string
}

var migrations = []migration{
	{1, "core", collectionDDL(Classrooms, Students, Sessions, SessionTypes) + `
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);`},
	{2, "student groups", collectionDDL(StudentGroups)},
	{3, "special and counseling lists", collectionDDL(SpecialStudents, CounselingNeeded)},
	{4, "thinking lifestyle", collectionDDL(ThinkingObservations, ThinkingEvaluations)},
	{5, "attendance", collectionDDL(AttendanceRecords, AttendanceNotes)},
}

// collectionDDL renders the table and academic-year index for each collection.
func collectionDDL(colls ...Collection) string {
	var b strings.Builder
	for _, c := range colls {
		t := tables[c]
		fmt.Fprintf(&b, `
CREATE TABLE IF NOT EXISTS %[1]s (
    id TEXT PRIMARY KEY,
    academic_year TEXT NOT NULL DEFAULT '',
    data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_year ON %[1]s(academic_year);
`, t)
	}
	return b.String()
}

// migrate brings the database up to target, one transaction per step.
func migrate(ctx context.Context, db *sql.DB, target int) error {
	var current int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > target {
		return fmt.Errorf("%w: on disk %d, expected %d", ErrSchemaTooNew, current, target)
	}

	for _, m := range migrations {
		if m.version <= current || m.version > target {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx, m.stmts); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.version, m.name, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, m.version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

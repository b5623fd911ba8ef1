package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/kittclouds/moshaver/internal/store"
)

type cascadeAction int

const (
	// unassign clears the foreign key on the child.
	unassign cascadeAction = iota
	// deleteChild removes the child record.
	deleteChild
	// pull removes the parent id from a child's id list.
	pull
)

func (a cascadeAction) String() string {
	switch a {
	case unassign:
		return "unassign"
	case deleteChild:
		return "delete"
	case pull:
		return "pull"
	}
	return "unknown"
}

// cascadeRule is evaluated when a parent record is deleted. Field is the JSON
// name of the foreign key on the child.
type cascadeRule struct {
	parent store.Collection
	child  store.Collection
	field  string
	action cascadeAction
}

var cascadeRules = []cascadeRule{
	{store.Classrooms, store.Students, "classroomId", unassign},
	{store.Classrooms, store.StudentGroups, "classroomId", unassign},
	{store.Classrooms, store.AttendanceNotes, "classroomId", deleteChild},
	{store.Students, store.Sessions, "studentId", deleteChild},
	{store.Students, store.SpecialStudents, "studentId", deleteChild},
	{store.Students, store.CounselingNeeded, "studentId", deleteChild},
	{store.Students, store.ThinkingObservations, "studentId", deleteChild},
	{store.Students, store.ThinkingEvaluations, "studentId", deleteChild},
	{store.Students, store.AttendanceRecords, "studentId", deleteChild},
	{store.Students, store.StudentGroups, "studentIds", pull},
}

// cascadeOp is one pending child write computed before the transaction.
type cascadeOp struct {
	coll   store.Collection
	rec    store.Record
	delete bool
}

// planCascade reads every child of parentID across all academic years and
// returns the writes the rules demand. Nothing is written.
func planCascade(ctx context.Context, s store.Storer, rules []cascadeRule, parent store.Collection, parentID string) ([]cascadeOp, error) {
	var ops []cascadeOp
	for _, rule := range rules {
		if rule.parent != parent {
			continue
		}
		recs, err := s.GetAll(ctx, rule.child, "")
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			op, ok, err := rule.apply(rec, parentID)
			if err != nil {
				return nil, err
			}
			if ok {
				ops = append(ops, op)
			}
		}
	}
	return ops, nil
}

func (rule cascadeRule) apply(rec store.Record, parentID string) (cascadeOp, bool, error) {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(rec.Data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return cascadeOp{}, false, fmt.Errorf("cascade %s/%s: %w", rule.child, rec.ID, err)
	}

	switch rule.action {
	case unassign, deleteChild:
		if v, _ := doc[rule.field].(string); v != parentID {
			return cascadeOp{}, false, nil
		}
		if rule.action == deleteChild {
			return cascadeOp{coll: rule.child, rec: rec, delete: true}, true, nil
		}
		doc[rule.field] = ""
	case pull:
		ids, _ := doc[rule.field].([]any)
		kept := make([]any, 0, len(ids))
		for _, id := range ids {
			if id != parentID {
				kept = append(kept, id)
			}
		}
		if len(kept) == len(ids) {
			return cascadeOp{}, false, nil
		}
		doc[rule.field] = kept
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return cascadeOp{}, false, fmt.Errorf("cascade %s/%s: %w", rule.child, rec.ID, err)
	}
	rec.Data = data
	return cascadeOp{coll: rule.child, rec: rec}, true, nil
}

// deleteWithCascade removes parentID and applies every matching rule in one
// transaction.
func deleteWithCascade(ctx context.Context, s store.Storer, parent store.Collection, parentID string) error {
	ops, err := planCascade(ctx, s, cascadeRules, parent, parentID)
	if err != nil {
		return err
	}
	return s.Update(ctx, func(w store.Writer) error {
		if err := w.Delete(parent, parentID); err != nil {
			return err
		}
		for _, op := range ops {
			if op.delete {
				err = w.Delete(op.coll, op.rec.ID)
			} else {
				err = w.Put(op.coll, op.rec)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

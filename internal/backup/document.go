// Package backup converts the whole dataset to and from a portable archive:
// a zip holding data.json plus one photos/<nationalId>.<ext> file per
// photographed student.
package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kittclouds/moshaver/internal/model"
	"github.com/kittclouds/moshaver/pkg/photo"
)

// DocumentVersion is the structured document version written by this code.
// Version 1 documents carry no version field.
const DocumentVersion = 2

var (
	ErrInvalidDocument    = errors.New("backup: invalid data document")
	ErrUnsupportedVersion = errors.New("backup: document was written by a newer version")
	ErrInvalidArchive     = errors.New("backup: invalid archive")
)

// Document is the serialized dataset.
type Document struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exportedAt"`
	model.Dataset
}

// NewDocument wraps ds for export.
func NewDocument(ds model.Dataset, now time.Time) Document {
	return Document{Version: DocumentVersion, ExportedAt: now.UTC(), Dataset: ds}
}

// Photo is one extracted student photo.
type Photo struct {
	MIME string
	Data []byte
}

// Filename is the archive/remote name of the photo of nationalID.
func (p Photo) Filename(nationalID string) string {
	return nationalID + photo.ExtForMIME(p.MIME)
}

// SplitPhotos moves inline photos of students with a national id out of ds
// and returns them keyed by national id. Students without a national id,
// students sharing a national id with a different photo, and photos whose
// type has no file form keep theirs inline.
func SplitPhotos(ds *model.Dataset) map[string]Photo {
	out := make(map[string]Photo)
	for i := range ds.Students {
		s := &ds.Students[i]
		if s.NationalID == "" || !photo.IsDataURI(s.PhotoURL) {
			continue
		}
		mime, data, err := photo.ParseDataURI(s.PhotoURL)
		if err != nil {
			log.Warn().Err(err).Str("nationalId", s.NationalID).Msg("keeping undecodable photo inline")
			continue
		}
		if !photo.HasFileForm(mime) {
			continue
		}
		if prev, ok := out[s.NationalID]; ok && !bytes.Equal(prev.Data, data) {
			continue
		}
		out[s.NationalID] = Photo{MIME: mime, Data: data}
		s.PhotoURL = ""
	}
	return out
}

// AttachPhotos fills PhotoURL of every student whose national id has a photo.
// Inline photos already present are kept. It returns the number attached.
func AttachPhotos(ds *model.Dataset, photos map[string]Photo) int {
	n := 0
	for i := range ds.Students {
		s := &ds.Students[i]
		if s.PhotoURL != "" || s.NationalID == "" {
			continue
		}
		if p, ok := photos[s.NationalID]; ok {
			s.PhotoURL = photo.EncodeDataURI(p.MIME, p.Data)
			n++
		}
	}
	return n
}

// Decode parses a structured document, coercing malformed parts to safe
// defaults: missing or non-array collections become empty, non-object items
// are dropped, and null or non-object settings fall back to defaults.
// Nothing is written; callers validate fully before wiping anything.
func Decode(data []byte, now time.Time) (model.Dataset, error) {
	var ds model.Dataset

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil || top == nil {
		return ds, fmt.Errorf("%w: not a JSON object", ErrInvalidDocument)
	}

	version := 1
	if raw, ok := top["version"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &version); err != nil {
			return ds, fmt.Errorf("%w: version: %v", ErrInvalidDocument, err)
		}
	}
	if version > DocumentVersion {
		return ds, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	ds.Classrooms = decodeItems[model.Classroom](top, "classrooms")
	ds.Students = decodeItems[model.Student](top, "students")
	ds.Sessions = decodeItems[model.Session](top, "sessions")
	ds.SessionTypes = decodeItems[model.SessionType](top, "sessionTypes")
	ds.StudentGroups = decodeItems[model.StudentGroup](top, "studentGroups")
	ds.SpecialStudents = decodeItems[model.SpecialStudentInfo](top, "specialStudents")
	ds.CounselingNeeded = decodeItems[model.CounselingNeededInfo](top, "counselingNeededStudents")
	ds.ThinkingObservations = decodeItems[model.ThinkingObservation](top, "thinkingObservations")
	ds.ThinkingEvaluations = decodeItems[model.ThinkingEvaluation](top, "thinkingEvaluations")
	ds.AttendanceRecords = decodeItems[model.AttendanceRecord](top, "attendanceRecords")
	ds.AttendanceNotes = decodeItems[model.AttendanceNote](top, "attendanceNotes")

	ds.Settings = model.DefaultAppSettings(now)
	decodeObject(top, "settings", &ds.Settings)
	if ds.Settings.AcademicYear == "" {
		ds.Settings.AcademicYear = model.CurrentAcademicYear(now)
	}
	if ds.Settings.MoreMenuOrder == nil {
		ds.Settings.MoreMenuOrder = append([]string(nil), model.DefaultMoreMenuOrder...)
	}
	ds.WorkingDays = model.DefaultWorkingDays()
	decodeObject(top, "workingDays", &ds.WorkingDays)

	fillIDs(&ds)
	return ds, nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

func isObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{'
}

func decodeItems[T any](top map[string]json.RawMessage, key string) []T {
	out := []T{}
	raw, ok := top[key]
	if !ok || isNull(raw) {
		return out
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		log.Warn().Str("collection", key).Msg("collection is not an array, treated as empty")
		return out
	}
	for i, item := range items {
		if !isObject(item) {
			continue
		}
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			log.Warn().Err(err).Str("collection", key).Int("index", i).Msg("skipping malformed record")
			continue
		}
		out = append(out, v)
	}
	return out
}

// decodeObject overlays raw onto dst when it is an object. Fields with the
// wrong type are skipped; the rest still apply.
func decodeObject(top map[string]json.RawMessage, key string, dst any) {
	raw, ok := top[key]
	if !ok || !isObject(raw) {
		return
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("partially malformed object")
	}
}

// fillIDs gives records without an id a fresh one and drops 1:1 and
// composite records that lack their key.
func fillIDs(ds *model.Dataset) {
	for i := range ds.Classrooms {
		if ds.Classrooms[i].ID == "" {
			ds.Classrooms[i].ID = uuid.NewString()
		}
	}
	for i := range ds.Students {
		if ds.Students[i].ID == "" {
			ds.Students[i].ID = uuid.NewString()
		}
	}
	for i := range ds.Sessions {
		if ds.Sessions[i].ID == "" {
			ds.Sessions[i].ID = uuid.NewString()
		}
	}
	for i := range ds.SessionTypes {
		if ds.SessionTypes[i].ID == "" {
			ds.SessionTypes[i].ID = uuid.NewString()
		}
	}
	for i := range ds.StudentGroups {
		if ds.StudentGroups[i].ID == "" {
			ds.StudentGroups[i].ID = uuid.NewString()
		}
		if ds.StudentGroups[i].StudentIDs == nil {
			ds.StudentGroups[i].StudentIDs = []string{}
		}
	}
	ds.SpecialStudents = keep(ds.SpecialStudents, func(v model.SpecialStudentInfo) bool { return v.StudentID != "" })
	ds.CounselingNeeded = keep(ds.CounselingNeeded, func(v model.CounselingNeededInfo) bool { return v.StudentID != "" })
	ds.ThinkingObservations = keep(ds.ThinkingObservations, func(v model.ThinkingObservation) bool { return v.StudentID != "" })
	ds.ThinkingEvaluations = keep(ds.ThinkingEvaluations, func(v model.ThinkingEvaluation) bool { return v.StudentID != "" })
	ds.AttendanceRecords = keep(ds.AttendanceRecords, func(v model.AttendanceRecord) bool {
		return v.StudentID != "" && v.Date != "" && v.Status != model.StatusPresent
	})
	ds.AttendanceNotes = keep(ds.AttendanceNotes, func(v model.AttendanceNote) bool {
		return v.ClassroomID != "" && v.Date != "" && strings.TrimSpace(v.Note) != ""
	})
}

func keep[T any](items []T, ok func(T) bool) []T {
	out := items[:0]
	for _, v := range items {
		if ok(v) {
			out = append(out, v)
		}
	}
	return out
}

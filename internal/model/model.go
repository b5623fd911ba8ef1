// Package model defines the counselor record types shared by the repository,
// the in-memory snapshot, backups, and cloud snapshots.
package model

import (
	"maps"
	"slices"
	"strconv"
	"time"
)

type Classroom struct {
	ID           string `json:"id"`
	Name         string `json:"name" validate:"notblank"`
	AcademicYear string `json:"academicYear"`
	Order        int    `json:"order"`
}

type Student struct {
	ID           string `json:"id"`
	FirstName    string `json:"firstName" validate:"notblank"`
	LastName     string `json:"lastName" validate:"notblank"`
	FatherName   string `json:"fatherName,omitempty"`
	NationalID   string `json:"nationalId,omitempty"`
	Mobile       string `json:"mobile,omitempty"`
	Address      string `json:"address,omitempty"`
	Nationality  string `json:"nationality,omitempty"`
	BirthDate    string `json:"birthDate,omitempty"`
	Grade        string `json:"grade,omitempty"`
	ClassroomID  string `json:"classroomId"`
	PhotoURL     string `json:"photoUrl,omitempty"`
	AcademicYear string `json:"academicYear"`
}

// FullName joins first and last name.
func (s Student) FullName() string {
	return s.FirstName + " " + s.LastName
}

type Session struct {
	ID           string `json:"id"`
	StudentID    string `json:"studentId" validate:"required"`
	Date         string `json:"date" validate:"required"`
	TypeID       string `json:"typeId"`
	Notes        string `json:"notes"`
	ActionItems  string `json:"actionItems"`
	AcademicYear string `json:"academicYear"`
}

// SessionType is global: it is not partitioned by academic year.
type SessionType struct {
	ID    string `json:"id"`
	Name  string `json:"name" validate:"notblank"`
	Order int    `json:"order"`
}

type StudentGroup struct {
	ID           string   `json:"id"`
	Name         string   `json:"name" validate:"notblank"`
	ClassroomID  string   `json:"classroomId"`
	StudentIDs   []string `json:"studentIds"`
	Order        int      `json:"order"`
	AcademicYear string   `json:"academicYear"`
}

// SpecialStudentInfo is keyed 1:1 by StudentID.
type SpecialStudentInfo struct {
	StudentID     string `json:"studentId" validate:"required"`
	Medical       string `json:"medical,omitempty"`
	Learning      string `json:"learning,omitempty"`
	Behavioral    string `json:"behavioral,omitempty"`
	Family        string `json:"family,omitempty"`
	Notes         string `json:"notes,omitempty"`
	NeedsFollowUp bool   `json:"needsFollowUp,omitempty"`
	AcademicYear  string `json:"academicYear"`
}

// IsEmpty reports whether the record carries no information.
func (i SpecialStudentInfo) IsEmpty() bool {
	return i.Medical == "" && i.Learning == "" && i.Behavioral == "" &&
		i.Family == "" && i.Notes == "" && !i.NeedsFollowUp
}

// CounselingNeededInfo is keyed 1:1 by StudentID.
type CounselingNeededInfo struct {
	StudentID    string `json:"studentId" validate:"required"`
	Reason       string `json:"reason,omitempty"`
	ReferredBy   string `json:"referredBy,omitempty"`
	Notes        string `json:"notes,omitempty"`
	Urgent       bool   `json:"urgent,omitempty"`
	AcademicYear string `json:"academicYear"`
}

func (i CounselingNeededInfo) IsEmpty() bool {
	return i.Reason == "" && i.ReferredBy == "" && i.Notes == "" && !i.Urgent
}

// ThinkingObservation holds sparse question-index scores (1..5).
type ThinkingObservation struct {
	StudentID    string      `json:"studentId" validate:"required"`
	Scores       map[int]int `json:"scores" validate:"dive,min=1,max=5"`
	AcademicYear string      `json:"academicYear"`
}

type ThinkingEvaluation struct {
	StudentID     string  `json:"studentId" validate:"required"`
	ActivityScore float64 `json:"activityScore" validate:"min=0,max=5"`
	ProjectScore  float64 `json:"projectScore" validate:"min=0,max=5"`
	ExamScore     float64 `json:"examScore" validate:"min=0,max=5"`
	AcademicYear  string  `json:"academicYear"`
}

type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusAbsent  AttendanceStatus = "absent"
	StatusTardy   AttendanceStatus = "tardy"
)

// AttendanceRecord is identified by (StudentID, Date). Present students have no record.
type AttendanceRecord struct {
	StudentID    string           `json:"studentId" validate:"required"`
	Date         string           `json:"date" validate:"required"`
	Status       AttendanceStatus `json:"status" validate:"oneof=absent tardy"`
	AcademicYear string           `json:"academicYear"`
}

// Key is the composite record id.
func (a AttendanceRecord) Key() string { return AttendanceKey(a.StudentID, a.Date) }

func AttendanceKey(studentID, date string) string { return studentID + "|" + date }

// AttendanceNote is identified by (ClassroomID, Date).
type AttendanceNote struct {
	ClassroomID  string `json:"classroomId" validate:"required"`
	Date         string `json:"date" validate:"required"`
	Note         string `json:"note"`
	AcademicYear string `json:"academicYear"`
}

func (n AttendanceNote) Key() string { return AttendanceNoteKey(n.ClassroomID, n.Date) }

func AttendanceNoteKey(classroomID, date string) string { return classroomID + "|" + date }

// AppSettings is the singleton app-wide configuration record.
type AppSettings struct {
	AcademicYear          string   `json:"academicYear"`
	FontSize              int      `json:"fontSize"`
	AppIcon               string   `json:"appIcon,omitempty"`
	PasswordProtected     bool     `json:"isPasswordProtected"`
	PasswordHash          string   `json:"passwordHash,omitempty"`
	CloudURL              string   `json:"cloudUrl,omitempty"`
	CloudKey              string   `json:"cloudKey,omitempty"`
	MoreMenuOrder         []string `json:"moreMenuOrder"`
	DisclaimerAccepted    bool     `json:"disclaimerAccepted"`
	ThinkingClassroomIDs  []string `json:"thinkingLifestyleClassroomIds"`
	ShowUnassignedStudent bool     `json:"showUnassignedStudents"`
}

// Clone returns a copy that shares no slices with s.
func (s AppSettings) Clone() AppSettings {
	s.MoreMenuOrder = slices.Clone(s.MoreMenuOrder)
	s.ThinkingClassroomIDs = slices.Clone(s.ThinkingClassroomIDs)
	return s
}

// WorkingDays is the singleton weekday schedule. The Iranian week starts on Saturday.
type WorkingDays struct {
	Saturday  bool `json:"saturday"`
	Sunday    bool `json:"sunday"`
	Monday    bool `json:"monday"`
	Tuesday   bool `json:"tuesday"`
	Wednesday bool `json:"wednesday"`
	Thursday  bool `json:"thursday"`
	Friday    bool `json:"friday"`
}

// DefaultMoreMenuOrder lists the feature keys of the "more" menu.
var DefaultMoreMenuOrder = []string{
	"groups", "special-students", "counseling-needed", "attendance",
	"thinking-lifestyle", "reports", "backup", "cloud-sync", "settings",
}

// DefaultSessionTypes are seeded on first run.
var DefaultSessionTypes = []string{"مشاوره فردی", "مشاوره گروهی", "تماس با والدین"}

// DefaultAppSettings returns the settings used before anything was saved.
func DefaultAppSettings(now time.Time) AppSettings {
	return AppSettings{
		AcademicYear:         CurrentAcademicYear(now),
		FontSize:             16,
		MoreMenuOrder:        slices.Clone(DefaultMoreMenuOrder),
		ThinkingClassroomIDs: []string{},
	}
}

func DefaultWorkingDays() WorkingDays {
	return WorkingDays{Saturday: true, Sunday: true, Monday: true, Tuesday: true, Wednesday: true}
}

// CurrentAcademicYear names the Iranian school year containing t, e.g. "1404-1405".
// The school year starts on 1 Mehr, which falls on 23 September.
func CurrentAcademicYear(t time.Time) string {
	start := t.Year() - 622
	if t.Month() > time.September || (t.Month() == time.September && t.Day() >= 23) {
		start = t.Year() - 621
	}
	return strconv.Itoa(start) + "-" + strconv.Itoa(start+1)
}

// CloneGroup copies the membership slice.
func CloneGroup(g StudentGroup) StudentGroup {
	g.StudentIDs = slices.Clone(g.StudentIDs)
	return g
}

// CloneObservation copies the score map.
func CloneObservation(o ThinkingObservation) ThinkingObservation {
	o.Scores = maps.Clone(o.Scores)
	return o
}

// Dataset is every record of every academic year plus the global singletons.
// It is the unit exchanged by backups and cloud snapshots.
type Dataset struct {
	Classrooms           []Classroom            `json:"classrooms"`
	Students             []Student              `json:"students"`
	Sessions             []Session              `json:"sessions"`
	SessionTypes         []SessionType          `json:"sessionTypes"`
	StudentGroups        []StudentGroup         `json:"studentGroups"`
	SpecialStudents      []SpecialStudentInfo   `json:"specialStudents"`
	CounselingNeeded     []CounselingNeededInfo `json:"counselingNeededStudents"`
	ThinkingObservations []ThinkingObservation  `json:"thinkingObservations"`
	ThinkingEvaluations  []ThinkingEvaluation   `json:"thinkingEvaluations"`
	AttendanceRecords    []AttendanceRecord     `json:"attendanceRecords"`
	AttendanceNotes      []AttendanceNote       `json:"attendanceNotes"`
	Settings             AppSettings            `json:"settings"`
	WorkingDays          WorkingDays            `json:"workingDays"`
}

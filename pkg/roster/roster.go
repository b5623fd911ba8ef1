// Package roster reads class-assignment workbooks.
//
// One sheet, named MasterSheet, holds the school roster. Every other sheet is
// a classroom whose name is the sheet name. Header cells are matched against
// Persian and English aliases, so column order and wording may vary.
package roster

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/coregx/ahocorasick"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"github.com/kittclouds/moshaver/internal/repository"
)

// MasterSheet is the name of the roster sheet.
const MasterSheet = "لیست کل"

// headerScanRows bounds how far down a sheet the header row is searched.
const headerScanRows = 5

var ErrEmptyWorkbook = errors.New("roster: workbook has no roster or class sheets")

type field int

const (
	fieldNone field = iota
	fieldNationalID
	fieldFirstName
	fieldLastName
	fieldFatherName
	fieldBirthDate
	fieldNationality
	fieldMobile
)

var aliases = map[field][]string{
	fieldNationalID:  {"کد ملی", "کدملی", "شماره ملی", "national id", "nationalid", "nid"},
	fieldFirstName:   {"نام", "first name", "firstname", "name"},
	fieldLastName:    {"نام خانوادگی", "فامیلی", "نام فامیل", "last name", "lastname", "surname", "family"},
	fieldFatherName:  {"نام پدر", "father", "fathername"},
	fieldBirthDate:   {"تاریخ تولد", "birth date", "birthdate", "dob"},
	fieldNationality: {"ملیت", "تابعیت", "nationality"},
	fieldMobile:      {"موبایل", "تلفن همراه", "شماره همراه", "شماره موبایل", "تلفن", "mobile", "phone"},
}

// headerMatcher resolves header cells to fields with one automaton over all
// aliases. The longest alias found in a cell wins, so "نام پدر" beats "نام".
type headerMatcher struct {
	ac       *ahocorasick.Automaton
	patterns []string
	fields   []field
}

func canonical(s string) string {
	s = repository.FoldPersian(strings.ToLower(s))
	s = strings.ReplaceAll(s, "‌", "")
	return strings.Join(strings.Fields(s), "")
}

func newHeaderMatcher() (*headerMatcher, error) {
	m := &headerMatcher{}
	seen := make(map[string]bool)
	for f := fieldNationalID; f <= fieldMobile; f++ {
		for _, a := range aliases[f] {
			key := canonical(a)
			if seen[key] {
				continue
			}
			seen[key] = true
			m.patterns = append(m.patterns, key)
			m.fields = append(m.fields, f)
		}
	}
	ac, err := ahocorasick.NewBuilder().
		AddStrings(m.patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, fmt.Errorf("roster: build header automaton: %w", err)
	}
	m.ac = ac
	return m, nil
}

func (m *headerMatcher) resolve(cell string) field {
	matches := m.ac.FindAllOverlapping([]byte(canonical(cell)))
	best, bestLen := fieldNone, 0
	for _, hit := range matches {
		if n := hit.End - hit.Start; n > bestLen {
			best, bestLen = m.fields[hit.PatternID], n
		}
	}
	return best
}

// columns maps each field to its column index.
type columns map[field]int

func (c columns) get(row []string, f field) string {
	i, ok := c[f]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// findHeader returns the header row index and its column map. A header must
// name a national id column or both name columns.
func (m *headerMatcher) findHeader(rows [][]string) (int, columns, bool) {
	for r := 0; r < len(rows) && r < headerScanRows; r++ {
		cols := make(columns)
		for i, cell := range rows[r] {
			if f := m.resolve(cell); f != fieldNone {
				if _, dup := cols[f]; !dup {
					cols[f] = i
				}
			}
		}
		_, hasNID := cols[fieldNationalID]
		_, hasFirst := cols[fieldFirstName]
		_, hasLast := cols[fieldLastName]
		if hasNID || (hasFirst && hasLast) {
			return r, cols, true
		}
	}
	return 0, nil, false
}

// Parse reads a workbook into a roster import.
func Parse(r io.Reader) (repository.Roster, error) {
	var out repository.Roster

	m, err := newHeaderMatcher()
	if err != nil {
		return out, err
	}
	f, err := excelize.OpenReader(r)
	if err != nil {
		return out, fmt.Errorf("roster: open workbook: %w", err)
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return out, fmt.Errorf("roster: read sheet %q: %w", sheet, err)
		}
		start, cols, ok := m.findHeader(rows)
		if !ok {
			log.Debug().Str("sheet", sheet).Msg("no recognizable header, sheet skipped")
			continue
		}
		body := rows[start+1:]

		if canonical(sheet) == canonical(MasterSheet) {
			for _, row := range body {
				s := repository.RosterStudent{
					NationalID:  cols.get(row, fieldNationalID),
					FirstName:   cols.get(row, fieldFirstName),
					LastName:    cols.get(row, fieldLastName),
					FatherName:  cols.get(row, fieldFatherName),
					BirthDate:   cols.get(row, fieldBirthDate),
					Nationality: cols.get(row, fieldNationality),
					Mobile:      cols.get(row, fieldMobile),
				}
				if s.NationalID == "" && s.FirstName == "" && s.LastName == "" {
					continue
				}
				out.Students = append(out.Students, s)
			}
			continue
		}

		cls := repository.ClassSheet{Classroom: strings.TrimSpace(sheet)}
		for _, row := range body {
			e := repository.ClassEntry{
				NationalID: cols.get(row, fieldNationalID),
				FirstName:  cols.get(row, fieldFirstName),
				LastName:   cols.get(row, fieldLastName),
			}
			if e.NationalID == "" && e.FirstName == "" && e.LastName == "" {
				continue
			}
			cls.Entries = append(cls.Entries, e)
		}
		out.Classes = append(out.Classes, cls)
	}

	if len(out.Students) == 0 && len(out.Classes) == 0 {
		return out, ErrEmptyWorkbook
	}
	return out, nil
}

package roster

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func workbook(t *testing.T, sheets map[string][][]any, order ...string) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, name := range order {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range sheets[name] {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			row := row
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestHeaderAliases(t *testing.T) {
	m, err := newHeaderMatcher()
	require.NoError(t, err)

	cases := map[string]field{
		"کد ملی":        fieldNationalID,
		"كد ملي":        fieldNationalID,
		"نام":           fieldFirstName,
		"نام خانوادگی":  fieldLastName,
		"نام پدر":       fieldFatherName,
		"تاریخ تولد":    fieldBirthDate,
		"ملیت":          fieldNationality,
		"شماره موبایل":  fieldMobile,
		"Last Name":     fieldLastName,
		"National ID":   fieldNationalID,
		"ردیف":          fieldNone,
	}
	for cell, want := range cases {
		assert.Equal(t, want, m.resolve(cell), cell)
	}
}

func TestParseWorkbook(t *testing.T) {
	buf := workbook(t, map[string][][]any{
		MasterSheet: {
			{"فهرست دانش‌آموزان"},
			{"ردیف", "نام", "نام خانوادگی", "نام پدر", "کد ملی", "موبایل"},
			{1, "علی", "احمدی", "حسن", "0012345678", "09121234567"},
			{2, "سارا", "کریمی", "", "0023456789", ""},
		},
		"هفتم الف": {
			{"کد ملی"},
			{"0012345678"},
		},
		"هفتم ب": {
			{"نام", "نام خانوادگی"},
			{"سارا", "کریمی"},
		},
		"notes": {
			{"nothing to see"},
		},
	}, MasterSheet, "هفتم الف", "هفتم ب", "notes")

	got, err := Parse(buf)
	require.NoError(t, err)

	require.Len(t, got.Students, 2)
	assert.Equal(t, "علی", got.Students[0].FirstName)
	assert.Equal(t, "احمدی", got.Students[0].LastName)
	assert.Equal(t, "حسن", got.Students[0].FatherName)
	assert.Equal(t, "0012345678", got.Students[0].NationalID)
	assert.Equal(t, "09121234567", got.Students[0].Mobile)

	require.Len(t, got.Classes, 2)
	assert.Equal(t, "هفتم الف", got.Classes[0].Classroom)
	assert.Equal(t, "0012345678", got.Classes[0].Entries[0].NationalID)
	assert.Equal(t, "کریمی", got.Classes[1].Entries[0].LastName)
}

func TestParseEmptyWorkbook(t *testing.T) {
	buf := workbook(t, map[string][][]any{"Sheet": {{"hello"}}}, "Sheet")
	_, err := Parse(buf)
	assert.ErrorIs(t, err, ErrEmptyWorkbook)
}

func TestParseRejectsNonWorkbook(t *testing.T) {
	_, err := Parse(bytes.NewReader([]byte("not a zip")))
	assert.Error(t, err)
}

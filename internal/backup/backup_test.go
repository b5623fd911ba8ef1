package backup

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/moshaver/internal/model"
	"github.com/kittclouds/moshaver/internal/repository"
	"github.com/kittclouds/moshaver/internal/store"
	"github.com/kittclouds/moshaver/pkg/photo"
)

var testNow = time.Date(2025, time.October, 1, 9, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) *repository.Repository {
	t.Helper()
	s, err := store.NewSQLiteStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	r := repository.New(s)
	r.Now = func() time.Time { return testNow }
	require.NoError(t, r.Load(context.Background()))
	return r
}

func jpegURI(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)), nil))
	return photo.EncodeDataURI(photo.MIMEJPEG, buf.Bytes())
}

func populate(t *testing.T, r *repository.Repository) {
	t.Helper()
	ctx := context.Background()

	c, err := r.AddClassroom(ctx, "7A")
	require.NoError(t, err)
	withPhoto, err := r.AddStudent(ctx, model.Student{
		FirstName: "Ali", LastName: "Ahmadi", NationalID: "0012345678",
		ClassroomID: c.ID, PhotoURL: jpegURI(t),
	})
	require.NoError(t, err)
	_, err = r.AddStudent(ctx, model.Student{
		FirstName: "Sara", LastName: "Karimi", PhotoURL: jpegURI(t),
	})
	require.NoError(t, err)

	_, err = r.AddSession(ctx, model.Session{StudentID: withPhoto.ID, Date: "2025-10-01", Notes: "first"})
	require.NoError(t, err)
	require.NoError(t, r.SaveSpecialInfo(ctx, model.SpecialStudentInfo{StudentID: withPhoto.ID, Medical: "asthma"}))
	require.NoError(t, r.SaveObservation(ctx, model.ThinkingObservation{StudentID: withPhoto.ID, Scores: map[int]int{0: 3, 4: 5}}))
	require.NoError(t, r.SetAttendance(ctx, withPhoto.ID, "2025-10-01", model.StatusAbsent))
	require.NoError(t, r.SetAttendanceNote(ctx, c.ID, "2025-10-01", "trip"))
	require.NoError(t, r.UpdateSettings(ctx, func(s *model.AppSettings) {
		s.FontSize = 18
		s.CloudURL = "https://old.example"
		s.CloudKey = "old-key"
	}))

	// A second academic year must travel too.
	require.NoError(t, r.SetAcademicYear(ctx, "1403-1404"))
	_, err = r.AddClassroom(ctx, "8B")
	require.NoError(t, err)
	require.NoError(t, r.SetAcademicYear(ctx, "1404-1405"))
}

func TestExportRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newRepo(t)
	populate(t, src)

	var buf bytes.Buffer
	stats, err := New(src).Export(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Students)
	assert.Equal(t, 1, stats.Photos)

	dst := newRepo(t)
	require.NoError(t, New(dst).Restore(ctx, buf.Bytes(), RestoreOptions{}))

	want, err := src.ExportAll(ctx)
	require.NoError(t, err)
	got, err := dst.ExportAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, "1404-1405", dst.AcademicYear())
	assert.Len(t, dst.Classrooms(), 1)
}

func TestArchiveLayout(t *testing.T) {
	src := newRepo(t)
	populate(t, src)

	var buf bytes.Buffer
	_, err := New(src).Export(context.Background(), &buf)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"data.json", "photos/0012345678.jpg"}, names)

	ds, err := Decode(mustRead(t, zr.File[0]), testNow)
	require.NoError(t, err)
	for _, s := range ds.Students {
		if s.NationalID == "" {
			assert.True(t, photo.IsDataURI(s.PhotoURL), "photo without a national id stays inline")
		} else {
			assert.Empty(t, s.PhotoURL)
		}
	}
}

func mustRead(t *testing.T, f *zip.File) []byte {
	t.Helper()
	b, err := readEntry(f)
	require.NoError(t, err)
	return b
}

func TestRestorePreservesCloudCredentials(t *testing.T) {
	ctx := context.Background()
	src := newRepo(t)
	populate(t, src)
	var buf bytes.Buffer
	_, err := New(src).Export(ctx, &buf)
	require.NoError(t, err)

	dst := newRepo(t)
	require.NoError(t, dst.UpdateSettings(ctx, func(s *model.AppSettings) {
		s.CloudURL = "https://mine.example"
		s.CloudKey = "my-key"
	}))
	require.NoError(t, New(dst).Restore(ctx, buf.Bytes(), RestoreOptions{PreserveCloudCredentials: true}))

	got := dst.Settings()
	assert.Equal(t, "https://mine.example", got.CloudURL)
	assert.Equal(t, "my-key", got.CloudKey)
	assert.Equal(t, 18, got.FontSize)
}

func TestDecodeCoercesMalformedParts(t *testing.T) {
	doc := []byte(`{
		"classrooms": null,
		"students": [{"id": "s1", "firstName": "A", "lastName": "B"}, 7, "x", {"firstName": "C", "lastName": "D"}],
		"sessions": {"not": "an array"},
		"studentGroups": [{"id": "g1", "name": "G"}],
		"attendanceRecords": [{"studentId": "s1", "date": "d", "status": "absent"}, {"date": "d", "status": "absent"}],
		"settings": [],
		"workingDays": null
	}`)

	ds, err := Decode(doc, testNow)
	require.NoError(t, err)

	assert.NotNil(t, ds.Classrooms)
	assert.Empty(t, ds.Classrooms)
	require.Len(t, ds.Students, 2)
	assert.Equal(t, "s1", ds.Students[0].ID)
	assert.NotEmpty(t, ds.Students[1].ID, "missing ids are assigned")
	assert.Empty(t, ds.Sessions)
	assert.Equal(t, []string{}, ds.StudentGroups[0].StudentIDs)
	assert.Len(t, ds.AttendanceRecords, 1)
	assert.Equal(t, model.DefaultAppSettings(testNow), ds.Settings)
	assert.Equal(t, model.DefaultWorkingDays(), ds.WorkingDays)
}

func TestDecodeOverlaysPartialSettings(t *testing.T) {
	ds, err := Decode([]byte(`{"settings": {"fontSize": 20, "academicYear": "1402-1403"}}`), testNow)
	require.NoError(t, err)
	assert.Equal(t, 20, ds.Settings.FontSize)
	assert.Equal(t, "1402-1403", ds.Settings.AcademicYear)
	assert.Equal(t, model.DefaultMoreMenuOrder, ds.Settings.MoreMenuOrder)
}

func TestDecodeRejects(t *testing.T) {
	_, err := Decode([]byte(`[1,2]`), testNow)
	assert.ErrorIs(t, err, ErrInvalidDocument)

	_, err = Decode([]byte(`{"version": 99}`), testNow)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestRestoreInvalidArchiveLeavesDataIntact(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	_, err := r.AddClassroom(ctx, "7A")
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err = zw.Create("readme.txt")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	err = New(r).Restore(ctx, buf.Bytes(), RestoreOptions{})
	assert.ErrorIs(t, err, ErrInvalidArchive)

	err = New(r).Restore(ctx, []byte("garbage"), RestoreOptions{})
	assert.ErrorIs(t, err, ErrInvalidArchive)

	assert.Len(t, r.Classrooms(), 1)
}

func TestReadArchiveAcceptsBareDocument(t *testing.T) {
	ds, err := ReadArchive([]byte(`{"classrooms": [{"id": "c1", "name": "7A", "academicYear": "1404-1405"}]}`), testNow)
	require.NoError(t, err)
	require.Len(t, ds.Classrooms, 1)
	assert.Equal(t, "7A", ds.Classrooms[0].Name)
}

func TestSplitPhotosKeepsConflictingDuplicatesInline(t *testing.T) {
	a := photo.EncodeDataURI(photo.MIMEPNG, []byte{1})
	b := photo.EncodeDataURI(photo.MIMEPNG, []byte{2})
	ds := model.Dataset{Students: []model.Student{
		{ID: "1", NationalID: "n", PhotoURL: a},
		{ID: "2", NationalID: "n", PhotoURL: b},
	}}

	photos := SplitPhotos(&ds)
	require.Len(t, photos, 1)
	assert.Empty(t, ds.Students[0].PhotoURL)
	assert.Equal(t, b, ds.Students[1].PhotoURL)
	assert.Equal(t, "n.png", photos["n"].Filename("n"))

	assert.Equal(t, 1, AttachPhotos(&ds, photos))
	assert.Equal(t, a, ds.Students[0].PhotoURL)
}

func TestUncommonPhotoTypesSurviveRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newRepo(t)

	gif := photo.EncodeDataURI(photo.MIMEGIF, []byte("GIF89a\x01\x00\x01\x00"))
	jpgAlias := photo.EncodeDataURI("image/jpg", []byte{0xff, 0xd8, 0xff})
	for i, uri := range []string{gif, jpgAlias} {
		_, err := src.AddStudent(ctx, model.Student{
			FirstName: "S", LastName: string(rune('A' + i)),
			NationalID: []string{"0000000001", "0000000002"}[i], PhotoURL: uri,
		})
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	_, err := New(src).Export(ctx, &buf)
	require.NoError(t, err)

	dst := newRepo(t)
	require.NoError(t, New(dst).Restore(ctx, buf.Bytes(), RestoreOptions{}))

	got := map[string]string{}
	for _, s := range dst.Students() {
		got[s.NationalID] = s.PhotoURL
	}
	assert.Equal(t, gif, got["0000000001"])
	assert.Equal(t, jpgAlias, got["0000000002"], "a type without a file form stays inline")
}

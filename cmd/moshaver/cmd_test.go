package main

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/moshaver/internal/backup"
	"github.com/kittclouds/moshaver/internal/cloud"
	"github.com/kittclouds/moshaver/internal/cloudserver"
	"github.com/kittclouds/moshaver/internal/model"
	"github.com/kittclouds/moshaver/internal/repository"
	"github.com/kittclouds/moshaver/internal/store"
)

func setup(t *testing.T) (*commandLine, *bytes.Buffer) {
	t.Helper()
	s, err := store.NewSQLiteStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	repo := repository.New(s)
	require.NoError(t, repo.Load(context.Background()))

	var out bytes.Buffer
	return &commandLine{repo: repo, codec: backup.New(repo), out: &out}, &out
}

type cliTest struct {
	name    string
	args    []string // without program name
	wantErr error
}

func Test_commandLine_usage(t *testing.T) {
	cli, _ := setup(t)
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "restore: no file", args: []string{"restore"}, wantErr: errHelp},
		{name: "import-roster: no file", args: []string{"import-roster"}, wantErr: errHelp},
		{name: "import-photos: no dir", args: []string{"import-photos"}, wantErr: errHelp},
		{name: "push: no email", args: []string{"push"}, wantErr: errHelp},
		{name: "pull: bad flag", args: []string{"pull", "-nope"}, wantErr: errHelp},
		{name: "reset: unconfirmed", args: []string{"reset"}, wantErr: errHelp},
		{name: "normalize-chars", args: []string{"normalize-chars"}},
		{name: "pad-ids", args: []string{"pad-ids"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(context.Background(), append([]string{"moshaver"}, tt.args...))
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func Test_commandLine_exportRestoreReset(t *testing.T) {
	cli, out := setup(t)
	ctx := context.Background()
	_, err := cli.repo.AddClassroom(ctx, "7A")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "backup.zip")
	require.NoError(t, cli.run(ctx, []string{"moshaver", "export", "-out", path}))
	assert.Contains(t, out.String(), "Backup written to")

	require.NoError(t, cli.run(ctx, []string{"moshaver", "reset", "-yes"}))
	assert.Empty(t, cli.repo.Classrooms())

	require.NoError(t, cli.run(ctx, []string{"moshaver", "restore", "-in", path}))
	require.Len(t, cli.repo.Classrooms(), 1)
	assert.Equal(t, "7A", cli.repo.Classrooms()[0].Name)

	assert.Error(t, cli.run(ctx, []string{"moshaver", "restore", "-in", filepath.Join(t.TempDir(), "missing.zip")}))
}

func Test_commandLine_importPhotos(t *testing.T) {
	cli, out := setup(t)
	ctx := context.Background()
	_, err := cli.repo.AddStudent(ctx, model.Student{FirstName: "Ali", LastName: "Ahmadi", NationalID: "0012345678"})
	require.NoError(t, err)

	dir := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0012345678.png"), buf.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "9999999999.png"), buf.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".DS_Store"), []byte("x"), 0o644))

	require.NoError(t, cli.run(ctx, []string{"moshaver", "import-photos", "-dir", dir}))
	assert.Contains(t, out.String(), "1 photos attached, 1 without a matching student, 0 unreadable")
	assert.NotEmpty(t, cli.repo.Students()[0].PhotoURL)
}

func Test_commandLine_pushPull(t *testing.T) {
	srv := httptest.NewServer(cloudserver.New(cloudserver.Options{
		APIKey:            "anon",
		JWTSecret:         []byte("0123456789abcdef0123456789abcdef"),
		AccessTTL:         time.Hour,
		Accounts:          cloudserver.NewMemAccounts(),
		Photos:            cloudserver.NewMemPhotos(),
		Revoker:           cloudserver.NewMemRevoker(),
		DisableRequestLog: true,
	}))
	t.Cleanup(srv.Close)

	readPasswordFunc = func(int) ([]byte, error) { return []byte("secret1"), nil }
	ctx := context.Background()

	src, out := setup(t)
	src.cloud = cloud.Config{URL: srv.URL, Key: "anon"}
	_, err := src.repo.AddClassroom(ctx, "7A")
	require.NoError(t, err)
	require.NoError(t, src.run(ctx, []string{"moshaver", "push", "-email", "c@example.com"}))
	assert.Contains(t, out.String(), "Upload complete")

	dst, out := setup(t)
	dst.cloud = cloud.Config{URL: srv.URL, Key: "anon"}
	require.NoError(t, dst.run(ctx, []string{"moshaver", "pull", "-email", "c@example.com"}))
	assert.Contains(t, out.String(), "Download complete")
	require.Len(t, dst.repo.Classrooms(), 1)
	assert.Equal(t, "7A", dst.repo.Classrooms()[0].Name)

	readPasswordFunc = func(int) ([]byte, error) { return []byte("wrong-pass"), nil }
	err = dst.run(ctx, []string{"moshaver", "pull", "-email", "c@example.com"})
	assert.True(t, cloud.IsInvalidCredentials(err))
}

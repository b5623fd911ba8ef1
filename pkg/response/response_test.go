package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/moshaver/internal/cloud"
	"github.com/kittclouds/moshaver/internal/cloudsync"
	"github.com/kittclouds/moshaver/internal/model"
	"github.com/kittclouds/moshaver/internal/repository"
	"github.com/kittclouds/moshaver/pkg/docstore"
)

func TestFromSnapshotDropsPhotosAndKey(t *testing.T) {
	snap := docstore.Snapshot{
		Students: []model.Student{
			{ID: "s1", FirstName: "Ali", PhotoURL: "data:image/jpeg;base64,AAAA"},
			{ID: "s2", FirstName: "Sara"},
		},
		Settings: model.AppSettings{CloudURL: "https://x", CloudKey: "secret", PasswordHash: "$2a$10$hash"},
	}

	b, err := MarshalSnapshot(snap)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "base64")
	assert.NotContains(t, string(b), "secret")
	assert.NotContains(t, string(b), "$2a$")

	var got struct {
		Students []map[string]any `json:"students"`
	}
	require.NoError(t, json.Unmarshal(b, &got))
	require.Len(t, got.Students, 2)
	assert.Equal(t, true, got.Students[0]["hasPhoto"])
	assert.Equal(t, false, got.Students[1]["hasPhoto"])
	assert.Equal(t, "Ali", got.Students[0]["firstName"])

	assert.NotEmpty(t, snap.Students[0].PhotoURL, "input is untouched")
	assert.Equal(t, "secret", snap.Settings.CloudKey)
}

func TestFailureCodes(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("delete: %w", repository.ErrNotFound), CodeNotFound},
		{cloudsync.ErrBusy, CodeBusy},
		{cloud.ErrNotAuthenticated, CodeNotAuthenticated},
		{&cloud.APIError{Status: 400, Code: "invalid_grant", Message: "Invalid login credentials"}, CodeInvalidCredentials},
		{errors.New("disk full"), CodeInternal},
	}
	for _, c := range cases {
		assert.Equal(t, c.code, Failure(c.err).Code, c.err.Error())
	}

	r := Failure(repository.NewValidationError(errors.New("invalid FirstName"),
		repository.FieldError{Field: "FirstName", Error: "FirstName is required"}))
	assert.Equal(t, CodeValidation, r.Code)
	assert.Equal(t, []FieldError{{Field: "FirstName", Message: "FirstName is required"}}, r.Fields)
	assert.False(t, r.OK)
}

func TestFrom(t *testing.T) {
	assert.JSONEq(t, `{"ok":true,"data":{"n":1}}`, From(map[string]int{"n": 1}, nil))
	assert.JSONEq(t, `{"ok":false,"error":"not signed in","code":"not_authenticated"}`, From(nil, cloud.ErrNotAuthenticated))
	assert.JSONEq(t, `{"ok":false,"error":"json: unsupported type: chan int","code":"internal"}`, Success(make(chan int)).JSON())
}

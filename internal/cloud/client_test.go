package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{URL: "https://x.supabase.co", Key: "k"}.Validate())
	assert.ErrorIs(t, Config{URL: "x.supabase.co", Key: "k"}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{URL: "ftp://x", Key: "k"}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{URL: "https://x", Key: " "}.Validate(), ErrInvalidConfig)

	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestErrorMessageShapes(t *testing.T) {
	cases := map[string]string{
		`{"message":"m1"}`:                                  "m1",
		`{"error":"invalid_grant","error_description":"d"}`: "d",
		`{"msg":"m2"}`:                                      "m2",
		`{"error":{"message":"nested"}}`:                    "nested",
		`{"data":{"msg":"in data"}}`:                        "in data",
		`{"errors":[{"message":"first"},{"message":"2nd"}]}`: "first",
		`plain text`: "plain text",
		``:           "Bad Request",
	}
	for body, want := range cases {
		err := newAPIError(http.StatusBadRequest, []byte(body))
		assert.Equal(t, want, ErrorMessage(err), body)
	}

	assert.Equal(t, "not signed in", ErrorMessage(ErrNotAuthenticated))
	assert.Equal(t, "boom", ErrorMessage(errors.New("boom")))
	assert.Empty(t, ErrorMessage(nil))
}

func TestInvalidCredentials(t *testing.T) {
	assert.True(t, IsInvalidCredentials(newAPIError(400, []byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))))
	assert.True(t, IsInvalidCredentials(newAPIError(400, []byte(`{"code":400,"error_code":"invalid_credentials","msg":"Invalid login credentials"}`))))
	assert.False(t, IsInvalidCredentials(newAPIError(500, []byte(`{"message":"down"}`))))
	assert.False(t, IsInvalidCredentials(errors.New("x")))
}

// fakeSupabase serves the subset of routes the client uses.
type fakeSupabase struct {
	snapshot json.RawMessage
	photos   map[string][]byte
	logouts  int
}

func (f *fakeSupabase) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		var c credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&c))
		if c.Password != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`)
			return
		}
		io.WriteString(w, `{"access_token":"tok","expires_in":3600,"user":{"id":"u1","email":"`+c.Email+`"}}`)
	})
	mux.HandleFunc("POST /auth/v1/signup", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":"u2","email":"new@example.com"}`)
	})
	mux.HandleFunc("POST /auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		f.logouts++
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /rest/v1/user_data", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.u1", r.URL.Query().Get("user_id"))
		if f.snapshot == nil {
			io.WriteString(w, `[]`)
			return
		}
		json.NewEncoder(w).Encode([]map[string]json.RawMessage{{"data": f.snapshot}})
	})
	mux.HandleFunc("POST /rest/v1/user_data", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var row struct {
			UserID string          `json:"user_id"`
			Data   json.RawMessage `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&row))
		assert.Equal(t, "u1", row.UserID)
		f.snapshot = row.Data
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /storage/v1/object/list/student-photos", func(w http.ResponseWriter, r *http.Request) {
		var req listRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "u1/", req.Prefix)
		out := []map[string]any{{"name": ".emptyFolderPlaceholder", "id": "x"}, {"name": "sub", "id": nil}}
		for name := range f.photos {
			out = append(out, map[string]any{"name": name, "id": "id-" + name})
		}
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("POST /storage/v1/object/student-photos/u1/{name}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.Header.Get("x-upsert"))
		b, _ := io.ReadAll(r.Body)
		f.photos[r.PathValue("name")] = b
	})
	mux.HandleFunc("DELETE /storage/v1/object/student-photos", func(w http.ResponseWriter, r *http.Request) {
		var req removeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		for _, p := range req.Prefixes {
			name, ok := strings.CutPrefix(p, "u1/")
			require.True(t, ok, p)
			delete(f.photos, name)
		}
		io.WriteString(w, `[]`)
	})
	mux.HandleFunc("GET /storage/v1/object/authenticated/student-photos/u1/{name}", func(w http.ResponseWriter, r *http.Request) {
		b, ok := f.photos[r.PathValue("name")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"statusCode":"404","error":"not_found","message":"Object not found"}`)
			return
		}
		w.Write(b)
	})
	return mux
}

func newFake(t *testing.T) (*Client, *fakeSupabase) {
	t.Helper()
	f := &fakeSupabase{photos: map[string][]byte{}}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{URL: srv.URL + "/", Key: "anon"})
	require.NoError(t, err)
	return c, f
}

func TestSignInAndSignUp(t *testing.T) {
	c, _ := newFake(t)
	ctx := context.Background()

	_, err := c.SignIn(ctx, "a@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, IsInvalidCredentials(err))
	assert.Equal(t, "Invalid login credentials", ErrorMessage(err))

	s, err := c.SignIn(ctx, "a@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "u1", s.UserID)
	cur, ok := c.CurrentSession()
	require.True(t, ok)
	assert.Equal(t, "tok", cur.AccessToken)

	pending, err := c.SignUp(ctx, "new@example.com", "pw")
	assert.ErrorIs(t, err, ErrConfirmationRequired)
	assert.Equal(t, "u2", pending.UserID)
}

func TestRequiresSession(t *testing.T) {
	c, _ := newFake(t)
	ctx := context.Background()

	_, err := c.LoadSnapshot(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.ErrorIs(t, c.UploadPhoto(ctx, "a.jpg", "image/jpeg", []byte{1}), ErrNotAuthenticated)
	assert.NoError(t, c.SignOut(ctx), "signing out while signed out is a no-op")
}

func TestSnapshotAndPhotos(t *testing.T) {
	c, f := newFake(t)
	ctx := context.Background()
	_, err := c.SignIn(ctx, "a@example.com", "secret")
	require.NoError(t, err)

	_, err = c.LoadSnapshot(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, c.SaveSnapshot(ctx, json.RawMessage(`{"version":2}`)))
	got, err := c.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":2}`, string(got))

	require.NoError(t, c.UploadPhoto(ctx, "0012345678.jpg", "image/jpeg", []byte("jpeg")))
	names, err := c.ListPhotos(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0012345678.jpg"}, names)

	b, err := c.DownloadPhoto(ctx, "0012345678.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), b)

	_, err = c.DownloadPhoto(ctx, "missing.jpg")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	assert.Error(t, c.UploadPhoto(ctx, "../escape.jpg", "image/jpeg", nil))
	assert.Error(t, c.DeletePhotos(ctx, []string{"../escape.jpg"}))

	require.NoError(t, c.DeletePhotos(ctx, []string{"0012345678.jpg", "gone.jpg"}))
	names, err = c.ListPhotos(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
	require.NoError(t, c.DeletePhotos(ctx, nil))

	require.NoError(t, c.SignOut(ctx))
	assert.Equal(t, 1, f.logouts)
	_, ok := c.CurrentSession()
	assert.False(t, ok)
}

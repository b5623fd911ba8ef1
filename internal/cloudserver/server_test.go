package cloudserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/moshaver/internal/cloud"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type harness struct {
	url      string
	accounts *MemAccounts
	photos   *MemPhotos
	redis    *miniredis.Miniredis
}

func newHarness(t *testing.T, requireConfirm bool) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rev, err := NewRedisRevoker(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { rev.Close() })

	h := &harness{accounts: NewMemAccounts(), photos: NewMemPhotos(), redis: mr}
	srv := New(Options{
		APIKey:            "anon",
		JWTSecret:         []byte(testSecret),
		AccessTTL:         time.Hour,
		RequireConfirm:    requireConfirm,
		Bucket:            cloud.PhotoBucket,
		Accounts:          h.accounts,
		Photos:            h.photos,
		Revoker:           rev,
		DisableRequestLog: true,
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	h.url = ts.URL
	return h
}

func (h *harness) client(t *testing.T) *cloud.Client {
	t.Helper()
	c, err := cloud.NewClient(cloud.Config{URL: h.url, Key: "anon"})
	require.NoError(t, err)
	return c
}

func TestSignUpWithoutConfirmationSyncsEndToEnd(t *testing.T) {
	h := newHarness(t, false)
	c := h.client(t)
	ctx := context.Background()

	s, err := c.SignUp(ctx, "Counselor@Example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "counselor@example.com", s.Email)
	assert.NotEmpty(t, s.AccessToken)

	_, err = c.LoadSnapshot(ctx)
	assert.ErrorIs(t, err, cloud.ErrNoSnapshot)

	require.NoError(t, c.SaveSnapshot(ctx, json.RawMessage(`{"schema":"moshaver.snapshot","version":2}`)))
	require.NoError(t, c.SaveSnapshot(ctx, json.RawMessage(`{"schema":"moshaver.snapshot","version":1}`)))
	got, err := c.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"schema":"moshaver.snapshot","version":1}`, string(got), "the second save overwrites")

	require.NoError(t, c.UploadPhoto(ctx, "0012345678.jpg", "image/jpeg", []byte("a")))
	require.NoError(t, c.UploadPhoto(ctx, "0012345678.jpg", "image/jpeg", []byte("b")))
	names, err := c.ListPhotos(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0012345678.jpg"}, names)

	data, err := c.DownloadPhoto(ctx, "0012345678.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), data)

	_, err = c.DownloadPhoto(ctx, "missing.jpg")
	assert.Equal(t, "Object not found", cloud.ErrorMessage(err))

	require.NoError(t, c.UploadPhoto(ctx, "0023456789.png", "image/png", []byte("c")))
	require.NoError(t, c.DeletePhotos(ctx, []string{"0012345678.jpg", "missing.jpg"}))
	names, err = c.ListPhotos(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0023456789.png"}, names)
}

func TestSignInErrors(t *testing.T) {
	h := newHarness(t, true)
	c := h.client(t)
	ctx := context.Background()

	_, err := c.SignIn(ctx, "nobody@example.com", "secret1")
	assert.True(t, cloud.IsInvalidCredentials(err))

	_, err = c.SignUp(ctx, "a@example.com", "secret1")
	assert.ErrorIs(t, err, cloud.ErrConfirmationRequired)

	_, err = c.SignUp(ctx, "a@example.com", "secret1")
	var apiErr *cloud.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "user_already_exists", apiErr.Code)

	_, err = c.SignIn(ctx, "a@example.com", "secret1")
	assert.Equal(t, "Email not confirmed", cloud.ErrorMessage(err))

	_, err = c.SignUp(ctx, "not-an-email", "secret1")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	_, err = c.SignUp(ctx, "b@example.com", "123")
	assert.Contains(t, cloud.ErrorMessage(err), "at least 6")
}

func TestConfirmationFlow(t *testing.T) {
	h := newHarness(t, true)
	c := h.client(t)
	ctx := context.Background()

	_, err := c.SignUp(ctx, "a@example.com", "secret1")
	require.ErrorIs(t, err, cloud.ErrConfirmationRequired)
	require.NoError(t, c.ResendConfirmation(ctx, "a@example.com"))
	require.NoError(t, c.ResendConfirmation(ctx, "unknown@example.com"))

	u, err := h.accounts.UserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, u.ConfirmToken)

	resp, err := http.Get(h.url + "/auth/v1/verify?token=" + *u.ConfirmToken)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = c.SignIn(ctx, "a@example.com", "secret1")
	assert.NoError(t, err)

	resp, err = http.Get(h.url + "/auth/v1/verify?token=" + *u.ConfirmToken)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "tokens are single use")
}

func TestLogoutRevokesToken(t *testing.T) {
	h := newHarness(t, false)
	c := h.client(t)
	ctx := context.Background()

	s, err := c.SignUp(ctx, "a@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, c.SignOut(ctx))

	// Reuse the revoked token directly.
	c.SetSession(s)
	_, err = c.LoadSnapshot(ctx)
	var apiErr *cloud.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.NotEmpty(t, h.redis.Keys())
}

func TestAccountsAreIsolated(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	alice := h.client(t)
	_, err := alice.SignUp(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, alice.UploadPhoto(ctx, "1.jpg", "image/jpeg", []byte("a")))
	aliceSession, _ := alice.CurrentSession()

	bob := h.client(t)
	_, err = bob.SignUp(ctx, "bob@example.com", "secret1")
	require.NoError(t, err)
	bobSession, _ := bob.CurrentSession()

	names, err := bob.ListPhotos(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	get := func(path string) int {
		req, err := http.NewRequest(http.MethodGet, h.url+path, nil)
		require.NoError(t, err)
		req.Header.Set("apikey", "anon")
		req.Header.Set("Authorization", "Bearer "+bobSession.AccessToken)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusForbidden, get("/storage/v1/object/authenticated/student-photos/"+aliceSession.UserID+"/1.jpg"))
	assert.Equal(t, http.StatusForbidden, get("/rest/v1/user_data?user_id=eq."+aliceSession.UserID))

	body, _ := json.Marshal(map[string]any{"user_id": aliceSession.UserID, "data": map[string]int{"x": 1}})
	req, err := http.NewRequest(http.MethodPost, h.url+"/rest/v1/user_data", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("apikey", "anon")
	req.Header.Set("Authorization", "Bearer "+bobSession.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	body, _ = json.Marshal(map[string][]string{"prefixes": {aliceSession.UserID + "/1.jpg"}})
	req, err = http.NewRequest(http.MethodDelete, h.url+"/storage/v1/object/student-photos", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("apikey", "anon")
	req.Header.Set("Authorization", "Bearer "+bobSession.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	names, err = alice.ListPhotos(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.jpg"}, names)
}

// wrappingAccounts annotates every error the way a database-backed store does.
type wrappingAccounts struct {
	*MemAccounts
}

func (w wrappingAccounts) CreateUser(ctx context.Context, u User) error {
	if err := w.MemAccounts.CreateUser(ctx, u); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (w wrappingAccounts) UserByEmail(ctx context.Context, email string) (User, error) {
	u, err := w.MemAccounts.UserByEmail(ctx, email)
	if err != nil {
		return u, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

func (w wrappingAccounts) Confirm(ctx context.Context, token string, at time.Time) (User, error) {
	u, err := w.MemAccounts.Confirm(ctx, token, at)
	if err != nil {
		return u, fmt.Errorf("confirm: %w", err)
	}
	return u, nil
}

func (w wrappingAccounts) Snapshot(ctx context.Context, userID string) (json.RawMessage, error) {
	data, err := w.MemAccounts.Snapshot(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return data, nil
}

func TestWrappedStoreErrorsKeepTheirMeaning(t *testing.T) {
	srv := New(Options{
		JWTSecret:         []byte(testSecret),
		Accounts:          wrappingAccounts{NewMemAccounts()},
		Photos:            NewMemPhotos(),
		Revoker:           NewMemRevoker(),
		DisableRequestLog: true,
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	c, err := cloud.NewClient(cloud.Config{URL: ts.URL, Key: "anon"})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.SignIn(ctx, "nobody@example.com", "secret1")
	assert.True(t, cloud.IsInvalidCredentials(err), cloud.ErrorMessage(err))

	_, err = c.SignUp(ctx, "a@example.com", "secret1")
	require.NoError(t, err)
	_, err = c.LoadSnapshot(ctx)
	assert.ErrorIs(t, err, cloud.ErrNoSnapshot)

	_, err = c.SignUp(ctx, "a@example.com", "secret1")
	var apiErr *cloud.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "user_already_exists", apiErr.Code)

	require.NoError(t, c.ResendConfirmation(ctx, "nobody@example.com"))

	resp, err := http.Get(ts.URL + "/auth/v1/verify?token=bogus")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIKeyRequired(t *testing.T) {
	h := newHarness(t, false)
	c, err := cloud.NewClient(cloud.Config{URL: h.url, Key: "wrong"})
	require.NoError(t, err)

	_, err = c.SignIn(context.Background(), "a@example.com", "secret1")
	assert.Equal(t, "Invalid API key", cloud.ErrorMessage(err))
}

func TestPostgresAccounts(t *testing.T) {
	url := os.Getenv("MOSHAVER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MOSHAVER_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pg, err := OpenPostgres(ctx, url)
	require.NoError(t, err)
	defer pg.Close()

	now := time.Now().UTC().Truncate(time.Second)
	tok := "tok-" + now.Format("150405.000000")
	u := User{ID: "pg-" + tok, Email: tok + "@example.com", PasswordHash: "h", ConfirmToken: &tok, CreatedAt: now}
	require.NoError(t, pg.CreateUser(ctx, u))
	assert.ErrorIs(t, pg.CreateUser(ctx, User{ID: "other-" + tok, Email: u.Email, PasswordHash: "h", CreatedAt: now}), ErrEmailTaken)

	confirmed, err := pg.Confirm(ctx, tok, now)
	require.NoError(t, err)
	assert.True(t, confirmed.Confirmed())

	_, err = pg.Snapshot(ctx, u.ID)
	assert.ErrorIs(t, err, ErrSnapshotMissing)
	require.NoError(t, pg.PutSnapshot(ctx, u.ID, json.RawMessage(`{"a":1}`), now))
	require.NoError(t, pg.PutSnapshot(ctx, u.ID, json.RawMessage(`{"a":2}`), now))
	got, err := pg.Snapshot(ctx, u.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(got))
}

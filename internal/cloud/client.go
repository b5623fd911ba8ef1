package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// SnapshotTable holds one row per account: user_id, data, updated_at.
	SnapshotTable = "user_data"
	// PhotoBucket holds one folder per account named by the user id.
	PhotoBucket = "student-photos"

	listPageSize   = 1000
	defaultTimeout = 60 * time.Second
)

// Config locates a backend.
type Config struct {
	URL string
	// Key is the public (anon) API key sent with every request.
	Key        string
	HTTPClient *http.Client
}

// Validate checks that URL is an absolute http(s) URL and Key is set.
func (c Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute http(s) URL", ErrInvalidConfig, c.URL)
	}
	if strings.TrimSpace(c.Key) == "" {
		return fmt.Errorf("%w: api key is empty", ErrInvalidConfig)
	}
	return nil
}

// Client implements Backend over the REST contract of a Supabase-compatible
// service: GoTrue auth, PostgREST for the snapshot row, and object storage
// for photos.
type Client struct {
	base string
	key  string
	http *http.Client

	mu      sync.RWMutex
	session *Session
}

// NewClient validates cfg and returns a signed-out client.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		base: strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		key:  strings.TrimSpace(cfg.Key),
		http: hc,
	}, nil
}

var _ Backend = (*Client)(nil)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// tokenResponse covers both a session and the bare user returned by a
// sign-up that still awaits email confirmation.
type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int       `json:"expires_in"`
	User         *authUser `json:"user"`
	authUser
}

func (t tokenResponse) session(now time.Time) Session {
	u := t.authUser
	if t.User != nil {
		u = *t.User
	}
	return Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		UserID:       u.ID,
		Email:        u.Email,
		ExpiresAt:    now.Add(time.Duration(t.ExpiresIn) * time.Second),
	}
}

func (c *Client) SignIn(ctx context.Context, email, password string) (Session, error) {
	var tr tokenResponse
	if err := c.postJSON(ctx, "/auth/v1/token?grant_type=password", false, credentials{email, password}, &tr); err != nil {
		return Session{}, err
	}
	if tr.AccessToken == "" {
		return Session{}, fmt.Errorf("cloud: sign-in returned no access token")
	}
	s := tr.session(time.Now())
	c.setSession(&s)
	return s, nil
}

// SignUp registers the account. When the backend requires email
// confirmation it returns the pending account with ErrConfirmationRequired.
func (c *Client) SignUp(ctx context.Context, email, password string) (Session, error) {
	var tr tokenResponse
	if err := c.postJSON(ctx, "/auth/v1/signup", false, credentials{email, password}, &tr); err != nil {
		return Session{}, err
	}
	s := tr.session(time.Now())
	if tr.AccessToken == "" {
		return s, ErrConfirmationRequired
	}
	c.setSession(&s)
	return s, nil
}

func (c *Client) ResendConfirmation(ctx context.Context, email string) error {
	body := map[string]string{"type": "signup", "email": email}
	return c.postJSON(ctx, "/auth/v1/resend", false, body, nil)
}

// SignOut revokes the session remotely and forgets it locally. The local
// session is dropped even when the request fails.
func (c *Client) SignOut(ctx context.Context) error {
	if _, ok := c.CurrentSession(); !ok {
		return nil
	}
	err := c.postJSON(ctx, "/auth/v1/logout", true, nil, nil)
	c.setSession(nil)
	return err
}

func (c *Client) CurrentSession() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// SetSession installs a previously obtained session.
func (c *Client) SetSession(s Session) {
	c.setSession(&s)
}

func (c *Client) setSession(s *Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

func (c *Client) userID() (string, error) {
	s, ok := c.CurrentSession()
	if !ok || s.UserID == "" {
		return "", ErrNotAuthenticated
	}
	return s.UserID, nil
}

func (c *Client) LoadSnapshot(ctx context.Context) (json.RawMessage, error) {
	uid, err := c.userID()
	if err != nil {
		return nil, err
	}
	q := url.Values{"select": {"data"}, "user_id": {"eq." + uid}}
	raw, err := c.do(ctx, http.MethodGet, "/rest/v1/"+SnapshotTable+"?"+q.Encode(), true, nil, "", nil)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("cloud: decode snapshot rows: %w", err)
	}
	if len(rows) == 0 || len(rows[0].Data) == 0 || string(rows[0].Data) == "null" {
		return nil, ErrNoSnapshot
	}
	return rows[0].Data, nil
}

// SaveSnapshot overwrites the account's snapshot row.
func (c *Client) SaveSnapshot(ctx context.Context, doc json.RawMessage) error {
	uid, err := c.userID()
	if err != nil {
		return err
	}
	row := struct {
		UserID    string          `json:"user_id"`
		Data      json.RawMessage `json:"data"`
		UpdatedAt time.Time       `json:"updated_at"`
	}{uid, doc, time.Now().UTC()}
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("cloud: encode snapshot: %w", err)
	}
	_, err = c.do(ctx, http.MethodPost, "/rest/v1/"+SnapshotTable+"?on_conflict=user_id", true, body,
		"application/json", map[string]string{"Prefer": "resolution=merge-duplicates,return=minimal"})
	return err
}

type listRequest struct {
	Prefix string `json:"prefix"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type listEntry struct {
	Name string  `json:"name"`
	ID   *string `json:"id"`
}

// ListPhotos returns the file names in the account folder.
func (c *Client) ListPhotos(ctx context.Context) ([]string, error) {
	uid, err := c.userID()
	if err != nil {
		return nil, err
	}
	var names []string
	for offset := 0; ; offset += listPageSize {
		var page []listEntry
		req := listRequest{Prefix: uid + "/", Limit: listPageSize, Offset: offset}
		if err := c.postJSON(ctx, "/storage/v1/object/list/"+PhotoBucket, true, req, &page); err != nil {
			return nil, err
		}
		for _, e := range page {
			// Folders come back without an id.
			if e.ID == nil || e.Name == "" || strings.HasPrefix(e.Name, ".") {
				continue
			}
			names = append(names, e.Name)
		}
		if len(page) < listPageSize {
			return names, nil
		}
	}
}

// UploadPhoto writes name in the account folder, replacing any existing file.
func (c *Client) UploadPhoto(ctx context.Context, name, contentType string, data []byte) error {
	p, err := c.objectPath(name)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, "/storage/v1/object/"+p, true, data, contentType,
		map[string]string{"x-upsert": "true"})
	return err
}

func (c *Client) DownloadPhoto(ctx context.Context, name string) ([]byte, error) {
	p, err := c.objectPath(name)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodGet, "/storage/v1/object/authenticated/"+p, true, nil, "", nil)
}

type removeRequest struct {
	Prefixes []string `json:"prefixes"`
}

func (c *Client) DeletePhotos(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	uid, err := c.userID()
	if err != nil {
		return err
	}
	req := removeRequest{Prefixes: make([]string, 0, len(names))}
	for _, name := range names {
		if _, err := c.objectPath(name); err != nil {
			return err
		}
		req.Prefixes = append(req.Prefixes, uid+"/"+name)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("cloud: encode request: %w", err)
	}
	_, err = c.do(ctx, http.MethodDelete, "/storage/v1/object/"+PhotoBucket, true, body, "application/json", nil)
	return err
}

func (c *Client) objectPath(name string) (string, error) {
	uid, err := c.userID()
	if err != nil {
		return "", err
	}
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("cloud: invalid photo name %q", name)
	}
	return PhotoBucket + "/" + url.PathEscape(uid) + "/" + url.PathEscape(name), nil
}

func (c *Client) postJSON(ctx context.Context, path string, auth bool, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("cloud: encode request: %w", err)
		}
	}
	raw, err := c.do(ctx, http.MethodPost, path, auth, body, "application/json", nil)
	if err != nil || out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("cloud: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, auth bool, body []byte, contentType string, header map[string]string) ([]byte, error) {
	token := c.key
	if auth {
		s, ok := c.CurrentSession()
		if !ok {
			return nil, ErrNotAuthenticated
		}
		token = s.AccessToken
	}

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return nil, fmt.Errorf("cloud: build request: %w", err)
	}
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloud: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cloud: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, data)
	}
	return data, nil
}

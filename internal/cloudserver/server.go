// Package cloudserver is a self-hosted implementation of the backend
// contract used by internal/cloud: email/password accounts, one snapshot
// row per account and a per-account photo folder.
package cloudserver

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const (
	// maxPhotoBytes bounds a single upload.
	maxPhotoBytes = 10 << 20
	claimsKey     = "claims"
)

type Options struct {
	// APIKey, when set, must be sent in the apikey header of every API call.
	APIKey         string
	JWTSecret      []byte
	AccessTTL      time.Duration
	RequireConfirm bool
	// Bucket is the photo bucket name clients address.
	Bucket string

	Accounts Accounts
	Photos   PhotoStore
	Revoker  Revoker

	DisableRequestLog bool
	Now               func() time.Time
}

type Server struct {
	app    *echo.Echo
	opts   Options
	tokens tokenIssuer
}

type echoValidator struct {
	v *validator.Validate
}

func (ev echoValidator) Validate(i any) error { return ev.v.Struct(i) }

func New(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = time.Hour
	}
	if opts.Bucket == "" {
		opts.Bucket = "student-photos"
	}
	s := &Server{
		app:    echo.New(),
		opts:   opts,
		tokens: tokenIssuer{secret: opts.JWTSecret, ttl: opts.AccessTTL},
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	e := s.app
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httpErrorHandler
	e.Validator = echoValidator{v: validator.New()}

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	if !s.opts.DisableRequestLog {
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogMethod:  true,
			LogURI:     true,
			LogStatus:  true,
			LogLatency: true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				log.Info().Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Dur("latency", v.Latency).Msg("request")
				return nil
			},
		}))
	}
	e.Use(middleware.BodyLimit("12M"))

	// Confirmation links are opened from email, without an API key.
	e.GET("/auth/v1/verify", s.verify)

	api := e.Group("", s.requireAPIKey)
	api.POST("/auth/v1/token", s.token)
	api.POST("/auth/v1/signup", s.signUp)
	api.POST("/auth/v1/resend", s.resend)

	authed := api.Group("", s.requireUser)
	authed.POST("/auth/v1/logout", s.logout)
	authed.GET("/rest/v1/user_data", s.getUserData)
	authed.POST("/rest/v1/user_data", s.putUserData)
	authed.POST("/storage/v1/object/list/:bucket", s.listObjects)
	authed.POST("/storage/v1/object/:bucket/:owner/:name", s.uploadObject)
	authed.GET("/storage/v1/object/authenticated/:bucket/:owner/:name", s.downloadObject)
	authed.DELETE("/storage/v1/object/:bucket", s.deleteObjects)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.app.ServeHTTP(w, r)
}

// =============================================================================
// Middleware
// =============================================================================

func (s *Server) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.opts.APIKey != "" && c.Request().Header.Get("apikey") != s.opts.APIKey {
			return errBadAPIKey
		}
		return next(c)
	}
}

func (s *Server) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, ok := strings.CutPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			return errMissingToken
		}
		claims, err := s.tokens.parse(raw)
		if err != nil {
			return errBadToken
		}
		revoked, err := s.opts.Revoker.IsRevoked(c.Request().Context(), claims.ID)
		if err != nil {
			return err
		}
		if revoked {
			return errBadToken
		}
		c.Set(claimsKey, claims)
		return next(c)
	}
}

func claimsFrom(c echo.Context) Claims {
	claims, _ := c.Get(claimsKey).(Claims)
	return claims
}

// =============================================================================
// Auth
// =============================================================================

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type sessionResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

func (s *Server) session(c echo.Context, u User) error {
	signed, _, err := s.tokens.issue(u, s.opts.Now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sessionResponse{
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresIn:   int(s.opts.AccessTTL / time.Second),
		User:        userResponse{ID: u.ID, Email: u.Email},
	})
}

func (s *Server) token(c echo.Context) error {
	if c.QueryParam("grant_type") != "password" {
		return &apiError{http.StatusBadRequest, "unsupported_grant_type", "Only the password grant is supported"}
	}
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("Malformed request body")
	}
	ctx := c.Request().Context()
	u, err := s.opts.Accounts.UserByEmail(ctx, req.Email)
	if errors.Is(err, ErrUserNotFound) {
		return errInvalidGrant
	}
	if err != nil {
		return err
	}
	if !checkPassword(u.PasswordHash, req.Password) {
		return errInvalidGrant
	}
	if s.opts.RequireConfirm && !u.Confirmed() {
		return errEmailNotConfirmed
	}
	return s.session(c, u)
}

func (s *Server) signUp(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("Malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		return err
	}
	now := s.opts.Now().UTC()
	u := User{ID: uuid.NewString(), Email: normalizeEmail(req.Email), PasswordHash: hash, CreatedAt: now}
	if s.opts.RequireConfirm {
		tok := newConfirmToken()
		u.ConfirmToken = &tok
	} else {
		u.ConfirmedAt = &now
	}

	ctx := c.Request().Context()
	if err := s.opts.Accounts.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return errUserExists
		}
		return err
	}
	if !s.opts.RequireConfirm {
		return s.session(c, u)
	}
	logConfirmation(u.Email, *u.ConfirmToken)
	return c.JSON(http.StatusOK, echo.Map{
		"id":                   u.ID,
		"email":                u.Email,
		"confirmation_sent_at": now,
	})
}

type resendRequest struct {
	Type  string `json:"type"`
	Email string `json:"email" validate:"required,email"`
}

// resend issues a new confirmation token. The response is the same whether
// or not the account exists.
func (s *Server) resend(c echo.Context) error {
	var req resendRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("Malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	u, err := s.opts.Accounts.UserByEmail(ctx, req.Email)
	if err == nil && !u.Confirmed() {
		tok := newConfirmToken()
		if err := s.opts.Accounts.SetConfirmToken(ctx, u.ID, tok); err != nil {
			return err
		}
		logConfirmation(u.Email, tok)
	} else if err != nil && !errors.Is(err, ErrUserNotFound) {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{})
}

func (s *Server) verify(c echo.Context) error {
	u, err := s.opts.Accounts.Confirm(c.Request().Context(), c.QueryParam("token"), s.opts.Now().UTC())
	if errors.Is(err, ErrInvalidToken) {
		return &apiError{http.StatusBadRequest, "otp_expired", "Confirmation link is invalid or has expired"}
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, userResponse{ID: u.ID, Email: u.Email})
}

func (s *Server) logout(c echo.Context) error {
	claims := claimsFrom(c)
	if err := s.opts.Revoker.Revoke(c.Request().Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func newConfirmToken() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// logConfirmation stands in for the confirmation email.
func logConfirmation(email, token string) {
	log.Info().Str("email", email).Str("verify", "/auth/v1/verify?token="+token).Msg("confirmation issued")
}

// =============================================================================
// Snapshot record
// =============================================================================

func (s *Server) getUserData(c echo.Context) error {
	uid := claimsFrom(c).Subject
	if c.QueryParam("user_id") != "eq."+uid {
		return errForbidden
	}
	data, err := s.opts.Accounts.Snapshot(c.Request().Context(), uid)
	if errors.Is(err, ErrSnapshotMissing) {
		return c.JSON(http.StatusOK, []any{})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, []echo.Map{{"data": data}})
}

func (s *Server) putUserData(c echo.Context) error {
	var row struct {
		UserID string          `json:"user_id"`
		Data   json.RawMessage `json:"data"`
	}
	if err := c.Bind(&row); err != nil {
		return badRequest("Malformed request body")
	}
	uid := claimsFrom(c).Subject
	if row.UserID != uid {
		return errForbidden
	}
	if len(row.Data) == 0 || string(row.Data) == "null" {
		return badRequest("data is required")
	}
	if err := s.opts.Accounts.PutSnapshot(c.Request().Context(), uid, row.Data, s.opts.Now().UTC()); err != nil {
		return err
	}
	return c.NoContent(http.StatusCreated)
}

// =============================================================================
// Photo storage
// =============================================================================

type listRequest struct {
	Prefix string `json:"prefix"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type objectEntry struct {
	Name     string         `json:"name"`
	ID       string         `json:"id"`
	Metadata objectMetadata `json:"metadata"`
}

type objectMetadata struct {
	MimeType string `json:"mimetype"`
	Size     int64  `json:"size"`
}

func (s *Server) checkBucket(c echo.Context) error {
	if c.Param("bucket") != s.opts.Bucket {
		return errNotFound
	}
	return nil
}

// ownKey builds the object key for the :owner/:name route params, refusing
// other accounts' folders.
func (s *Server) ownKey(c echo.Context) (string, error) {
	if err := s.checkBucket(c); err != nil {
		return "", err
	}
	if c.Param("owner") != claimsFrom(c).Subject {
		return "", errForbidden
	}
	name := c.Param("name")
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", badRequest("Invalid object name")
	}
	return c.Param("owner") + "/" + name, nil
}

func (s *Server) listObjects(c echo.Context) error {
	if err := s.checkBucket(c); err != nil {
		return err
	}
	var req listRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("Malformed request body")
	}
	folder := claimsFrom(c).Subject + "/"
	if req.Prefix != folder && req.Prefix != strings.TrimSuffix(folder, "/") {
		return errForbidden
	}
	objs, err := s.opts.Photos.List(c.Request().Context(), folder)
	if err != nil {
		return err
	}

	entries := make([]objectEntry, 0, len(objs))
	for _, o := range objs {
		name := strings.TrimPrefix(o.Key, folder)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		entries = append(entries, objectEntry{
			Name:     name,
			ID:       o.Key,
			Metadata: objectMetadata{MimeType: o.ContentType, Size: o.Size},
		})
	}
	if req.Offset > 0 {
		entries = entries[min(req.Offset, len(entries)):]
	}
	if req.Limit > 0 && len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) uploadObject(c echo.Context) error {
	key, err := s.ownKey(c)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPhotoBytes+1))
	if err != nil {
		return badRequest("Unreadable body")
	}
	if len(data) > maxPhotoBytes {
		return &apiError{http.StatusRequestEntityTooLarge, "payload_too_large", "Photo is too large"}
	}
	ct := c.Request().Header.Get(echo.HeaderContentType)
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	if err := s.opts.Photos.Put(c.Request().Context(), key, ct, data); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"Key": s.opts.Bucket + "/" + key})
}

func (s *Server) downloadObject(c echo.Context) error {
	key, err := s.ownKey(c)
	if err != nil {
		return err
	}
	data, ct, err := s.opts.Photos.Get(c.Request().Context(), key)
	if errors.Is(err, ErrObjectNotFound) {
		return errNotFound
	}
	if err != nil {
		return err
	}
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return c.Blob(http.StatusOK, ct, data)
}

type deleteRequest struct {
	Prefixes []string `json:"prefixes"`
}

// deleteObjects removes files from the caller's folder and lists the ones
// that existed.
func (s *Server) deleteObjects(c echo.Context) error {
	if err := s.checkBucket(c); err != nil {
		return err
	}
	var req deleteRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("Malformed request body")
	}
	folder := claimsFrom(c).Subject + "/"
	for _, key := range req.Prefixes {
		name, ok := strings.CutPrefix(key, folder)
		if !ok {
			return errForbidden
		}
		if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
			return badRequest("Invalid object name")
		}
	}

	ctx := c.Request().Context()
	objs, err := s.opts.Photos.List(ctx, folder)
	if err != nil {
		return err
	}
	existing := make(map[string]Object, len(objs))
	for _, o := range objs {
		existing[o.Key] = o
	}
	removed := make([]objectEntry, 0, len(req.Prefixes))
	for _, key := range req.Prefixes {
		o, ok := existing[key]
		if !ok {
			continue
		}
		if err := s.opts.Photos.Delete(ctx, key); err != nil {
			return err
		}
		removed = append(removed, objectEntry{
			Name:     key,
			ID:       key,
			Metadata: objectMetadata{MimeType: o.ContentType, Size: o.Size},
		})
	}
	return c.JSON(http.StatusOK, removed)
}

// =============================================================================
// Passwords
// =============================================================================

func hashPassword(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func checkPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

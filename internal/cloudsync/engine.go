// Package cloudsync pushes the whole local dataset to the cloud backend and
// pulls it back.
//
// Sync is full-snapshot and last-writer-wins: a push overwrites the remote
// record and photo files, a pull wipes and replaces local data. There is no
// merge and no conflict detection, so two devices syncing around the same
// time silently overwrite each other.
package cloudsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kittclouds/moshaver/internal/backup"
	"github.com/kittclouds/moshaver/internal/cloud"
	"github.com/kittclouds/moshaver/internal/repository"
	"github.com/kittclouds/moshaver/pkg/photo"
)

const (
	// SnapshotSchema tags remote documents written by this engine.
	SnapshotSchema = "moshaver.snapshot"
	// DefaultResetDelay is how long a finished status stays visible.
	DefaultResetDelay = 5 * time.Second
)

var (
	ErrBusy = errors.New("cloudsync: a sync is already running")
	// ErrUnsupportedSnapshot means the remote record was written by a newer
	// version or by something else entirely.
	ErrUnsupportedSnapshot = errors.New("cloudsync: unsupported remote snapshot")
)

// Status is the progress of the running or last finished sync.
type Status struct {
	Active   bool   `json:"active"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Error    bool   `json:"error"`
}

// RemoteEnvelope is the value stored in the account's snapshot record.
// Photos maps a national id to the file in the account folder holding that
// student's photo. Files not named here are not part of the snapshot.
type RemoteEnvelope struct {
	Schema   string            `json:"schema"`
	Version  int               `json:"version"`
	Document json.RawMessage   `json:"document"`
	Photos   map[string]string `json:"photos"`
}

// Engine runs push and pull flows. One flow runs at a time.
type Engine struct {
	backend cloud.Backend
	repo    *repository.Repository

	ResetDelay time.Duration

	mu     sync.Mutex
	status Status
	reset  *time.Timer

	subMu   sync.Mutex
	subs    map[int]func(Status)
	nextSub int
}

func New(backend cloud.Backend, repo *repository.Repository) *Engine {
	return &Engine{
		backend:    backend,
		repo:       repo,
		ResetDelay: DefaultResetDelay,
		subs:       make(map[int]func(Status)),
	}
}

// Status returns the current status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Subscribe registers fn for every status change.
func (e *Engine) Subscribe(fn func(Status)) (unsubscribe func()) {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()
	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) publish(st Status) {
	e.subMu.Lock()
	fns := make([]func(Status), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (e *Engine) begin(msg string) error {
	e.mu.Lock()
	if e.status.Active {
		e.mu.Unlock()
		return ErrBusy
	}
	if e.reset != nil {
		e.reset.Stop()
		e.reset = nil
	}
	e.status = Status{Active: true, Message: msg}
	st := e.status
	e.mu.Unlock()
	e.publish(st)
	return nil
}

// step advances progress. Progress never goes backwards.
func (e *Engine) step(progress int, msg string) {
	e.mu.Lock()
	if progress > e.status.Progress {
		e.status.Progress = progress
	}
	e.status.Message = msg
	st := e.status
	e.mu.Unlock()
	e.publish(st)
}

// finish ends the flow at 100% and schedules the reset to idle.
func (e *Engine) finish(msg string, failed bool) Status {
	e.mu.Lock()
	e.status = Status{Progress: 100, Message: msg, Error: failed}
	st := e.status
	if e.ResetDelay > 0 {
		e.reset = time.AfterFunc(e.ResetDelay, e.clear)
	}
	e.mu.Unlock()
	e.publish(st)
	return st
}

func (e *Engine) clear() {
	e.mu.Lock()
	if e.status.Active {
		e.mu.Unlock()
		return
	}
	e.status = Status{}
	e.reset = nil
	e.mu.Unlock()
	e.publish(Status{})
}

func (e *Engine) fail(err error) Status {
	log.Warn().Err(err).Msg("cloud sync failed")
	return e.finish(cloud.ErrorMessage(err), true)
}

// =============================================================================
// Account
// =============================================================================

// Login signs in, registering the account when it does not exist yet.
// ErrConfirmationRequired is returned when the new account must be
// confirmed by email first.
func (e *Engine) Login(ctx context.Context, email, password string) (cloud.Session, error) {
	email = strings.TrimSpace(email)
	s, err := e.backend.SignIn(ctx, email, password)
	if err == nil || !cloud.IsInvalidCredentials(err) {
		return s, err
	}
	s, upErr := e.backend.SignUp(ctx, email, password)
	if upErr == nil || errors.Is(upErr, cloud.ErrConfirmationRequired) {
		return s, upErr
	}
	if alreadyRegistered(upErr) {
		// Existing account, wrong password.
		return cloud.Session{}, err
	}
	return cloud.Session{}, upErr
}

func alreadyRegistered(err error) bool {
	var apiErr *cloud.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == "user_already_exists" ||
		strings.Contains(strings.ToLower(apiErr.Message), "already registered")
}

func (e *Engine) ResendConfirmation(ctx context.Context, email string) error {
	return e.backend.ResendConfirmation(ctx, strings.TrimSpace(email))
}

func (e *Engine) Logout(ctx context.Context) error {
	return e.backend.SignOut(ctx)
}

// Session reports the signed-in account.
func (e *Engine) Session() (cloud.Session, bool) {
	return e.backend.CurrentSession()
}

// =============================================================================
// Push
// =============================================================================

// Push overwrites the remote snapshot and photos with local data. Flow
// failures are reported through the returned Status, never as an error;
// the error is ErrBusy when another flow is running.
func (e *Engine) Push(ctx context.Context) (Status, error) {
	if err := e.begin("Preparing upload"); err != nil {
		return e.Status(), err
	}
	return e.push(ctx), nil
}

func (e *Engine) push(ctx context.Context) Status {
	if _, ok := e.backend.CurrentSession(); !ok {
		return e.fail(cloud.ErrNotAuthenticated)
	}

	e.step(10, "Collecting local data")
	ds, err := e.repo.ExportAll(ctx)
	if err != nil {
		return e.fail(err)
	}
	ds.Settings.CloudURL = ""
	ds.Settings.CloudKey = ""
	photos := backup.SplitPhotos(&ds)

	ids := make([]string, 0, len(photos))
	for id := range photos {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	manifest := make(map[string]string, len(ids))
	failed := make(map[string]backup.Photo)
	for i, id := range ids {
		e.step(20+60*i/len(ids), fmt.Sprintf("Uploading photos (%d/%d)", i+1, len(ids)))
		p := photos[id]
		name := p.Filename(id)
		if err := e.backend.UploadPhoto(ctx, name, p.MIME, p.Data); err != nil {
			failed[id] = p
			log.Warn().Err(err).Str("photo", name).Msg("photo upload failed, kept inline")
			continue
		}
		manifest[id] = name
	}
	// A photo that could not be uploaded travels inside the document.
	backup.AttachPhotos(&ds, failed)

	e.step(85, "Uploading data")
	raw, err := encodeEnvelope(backup.NewDocument(ds, e.repo.Now()), manifest)
	if err != nil {
		return e.fail(err)
	}
	if err := e.backend.SaveSnapshot(ctx, raw); err != nil {
		return e.fail(err)
	}

	e.step(95, "Removing stale photos")
	e.prunePhotos(ctx, manifest)

	if err := e.repo.RecordSync(ctx, e.repo.Now()); err != nil {
		return e.fail(err)
	}
	log.Info().Int("students", len(ds.Students)).Int("photos", len(manifest)).Int("failed", len(failed)).Msg("push complete")
	return e.finish(summary("Upload complete", len(manifest), len(failed)), false)
}

// prunePhotos deletes account files the manifest does not name. Failures are
// logged; pull never reads unnamed files.
func (e *Engine) prunePhotos(ctx context.Context, manifest map[string]string) {
	names, err := e.backend.ListPhotos(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("listing remote photos failed, stale photos kept")
		return
	}
	keep := make(map[string]bool, len(manifest))
	for _, name := range manifest {
		keep[name] = true
	}
	var stale []string
	for _, name := range names {
		if !keep[name] {
			stale = append(stale, name)
		}
	}
	if len(stale) == 0 {
		return
	}
	if err := e.backend.DeletePhotos(ctx, stale); err != nil {
		log.Warn().Err(err).Int("count", len(stale)).Msg("removing stale photos failed")
		return
	}
	log.Debug().Strs("photos", stale).Msg("removed stale photos")
}

func encodeEnvelope(doc backup.Document, photos map[string]string) (json.RawMessage, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return json.Marshal(RemoteEnvelope{Schema: SnapshotSchema, Version: doc.Version, Document: data, Photos: photos})
}

// decodeEnvelope unwraps a remote snapshot. A bare document without an
// envelope is accepted as well; its photo manifest is nil.
func decodeEnvelope(raw json.RawMessage) (RemoteEnvelope, error) {
	var env RemoteEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrUnsupportedSnapshot, err)
	}
	if env.Schema == "" {
		return RemoteEnvelope{Document: raw}, nil
	}
	if env.Schema != SnapshotSchema || env.Version > backup.DocumentVersion || len(env.Document) == 0 {
		return env, fmt.Errorf("%w: %s v%d", ErrUnsupportedSnapshot, env.Schema, env.Version)
	}
	return env, nil
}

// =============================================================================
// Pull
// =============================================================================

// Pull replaces all local data with the remote snapshot and photos. This
// device's cloud credentials are kept. Errors are reported like Push.
func (e *Engine) Pull(ctx context.Context) (Status, error) {
	if err := e.begin("Preparing download"); err != nil {
		return e.Status(), err
	}
	return e.pull(ctx), nil
}

func (e *Engine) pull(ctx context.Context) Status {
	if _, ok := e.backend.CurrentSession(); !ok {
		return e.fail(cloud.ErrNotAuthenticated)
	}

	e.step(10, "Downloading data")
	raw, err := e.backend.LoadSnapshot(ctx)
	if err != nil {
		return e.fail(err)
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		return e.fail(err)
	}
	ds, err := backup.Decode(env.Document, e.repo.Now())
	if err != nil {
		return e.fail(err)
	}

	e.step(25, "Listing photos")
	files := env.Photos
	if files == nil {
		files = e.legacyPhotoFiles(ctx)
	}

	wanted := make([]string, 0, len(files))
	for _, s := range ds.Students {
		if _, ok := files[s.NationalID]; ok && s.NationalID != "" && s.PhotoURL == "" {
			wanted = append(wanted, s.NationalID)
		}
	}
	sort.Strings(wanted)
	wanted = slices.Compact(wanted)

	photos := make(map[string]backup.Photo)
	failed := 0
	for i, nid := range wanted {
		name := files[nid]
		e.step(30+60*i/len(wanted), fmt.Sprintf("Downloading photos (%d/%d)", i+1, len(wanted)))
		data, err := e.backend.DownloadPhoto(ctx, name)
		if err != nil {
			failed++
			log.Warn().Err(err).Str("photo", name).Msg("photo download failed, skipped")
			continue
		}
		mime := photo.MIMEForExt(name)
		if mime == "" {
			mime = photo.Sniff(data)
		}
		if !strings.HasPrefix(mime, "image/") {
			failed++
			log.Warn().Str("photo", name).Str("mime", mime).Msg("remote file is not an image, skipped")
			continue
		}
		photos[nid] = backup.Photo{MIME: mime, Data: data}
	}
	attached := backup.AttachPhotos(&ds, photos)

	e.step(90, "Restoring data")
	if err := backup.Apply(ctx, e.repo, ds, backup.RestoreOptions{PreserveCloudCredentials: true}); err != nil {
		return e.fail(err)
	}
	if err := e.repo.RecordSync(ctx, e.repo.Now()); err != nil {
		return e.fail(err)
	}
	log.Info().Int("students", len(ds.Students)).Int("photos", attached).Int("failed", failed).Msg("pull complete")
	return e.finish(summary("Download complete", attached, failed), false)
}

// legacyPhotoFiles maps national ids to folder files by file stem, for
// snapshots written without a photo manifest.
func (e *Engine) legacyPhotoFiles(ctx context.Context) map[string]string {
	names, err := e.backend.ListPhotos(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("listing remote photos failed, restoring without photos")
		return nil
	}
	files := make(map[string]string, len(names))
	for _, name := range names {
		nid := strings.TrimSuffix(name, path.Ext(name))
		if nid != "" && photo.MIMEForExt(name) != "" {
			files[nid] = name
		}
	}
	return files
}

func summary(prefix string, photos, failed int) string {
	if failed == 0 {
		return fmt.Sprintf("%s: %d photos", prefix, photos)
	}
	return fmt.Sprintf("%s: %d photos, %d failed", prefix, photos, failed)
}

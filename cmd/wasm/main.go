//go:build js && wasm

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall/js"

	"github.com/rs/zerolog/log"

	"github.com/kittclouds/moshaver/internal/backup"
	"github.com/kittclouds/moshaver/internal/cloud"
	"github.com/kittclouds/moshaver/internal/cloudsync"
	"github.com/kittclouds/moshaver/internal/logging"
	"github.com/kittclouds/moshaver/internal/model"
	"github.com/kittclouds/moshaver/internal/repository"
	"github.com/kittclouds/moshaver/internal/store"
	"github.com/kittclouds/moshaver/pkg/docstore"
	"github.com/kittclouds/moshaver/pkg/pool"
	"github.com/kittclouds/moshaver/pkg/response"
	"github.com/kittclouds/moshaver/pkg/roster"
)

const Version = "1.0.0"

var errNotInitialized = errors.New("bridge not initialized (call initialize first)")

// Global state
var (
	sqlStore *store.SQLiteStore
	repo     *repository.Repository
	codec    *backup.Codec

	syncMu     sync.Mutex
	syncEngine *cloudsync.Engine
	syncConfig cloud.Config
)

func main() {
	logging.Setup("info", false)

	fmt.Println("[Moshaver] WASM Ready v" + Version)

	js.Global().Set("Moshaver", js.ValueOf(map[string]any{
		"version":    js.FuncOf(getVersion),
		"initialize": js.FuncOf(initialize),
		"snapshot":   js.FuncOf(snapshot),
		"subscribe":  js.FuncOf(subscribe),

		// Classrooms and students
		"addClassroom":      call("addClassroom", 1, addClassroom),
		"updateClassroom":   call("updateClassroom", 1, updateClassroom),
		"deleteClassroom":   call("deleteClassroom", 1, deleteClassroom),
		"reorderClassrooms": call("reorderClassrooms", 1, reorderClassrooms),
		"addStudent":        call("addStudent", 1, addStudent),
		"updateStudent":     call("updateStudent", 1, updateStudent),
		"deleteStudent":     call("deleteStudent", 1, deleteStudent),
		"studentPhoto":      call("studentPhoto", 1, studentPhoto),

		// Sessions
		"addSession":          call("addSession", 1, addSession),
		"updateSession":       call("updateSession", 1, updateSession),
		"deleteSession":       call("deleteSession", 1, deleteSession),
		"addSessionType":      call("addSessionType", 1, addSessionType),
		"updateSessionType":   call("updateSessionType", 1, updateSessionType),
		"deleteSessionType":   call("deleteSessionType", 1, deleteSessionType),
		"reorderSessionTypes": call("reorderSessionTypes", 1, reorderSessionTypes),

		// Groups
		"createGroup":   call("createGroup", 2, createGroup),
		"renameGroup":   call("renameGroup", 2, renameGroup),
		"deleteGroup":   call("deleteGroup", 1, deleteGroup),
		"reorderGroups": call("reorderGroups", 1, reorderGroups),
		"moveStudent":   call("moveStudent", 3, moveStudent),

		// Per-student lists
		"saveSpecialInfo":     call("saveSpecialInfo", 1, saveSpecialInfo),
		"clearSpecialInfo":    call("clearSpecialInfo", 1, clearSpecialInfo),
		"saveCounselingInfo":  call("saveCounselingInfo", 1, saveCounselingInfo),
		"clearCounselingInfo": call("clearCounselingInfo", 1, clearCounselingInfo),
		"saveObservation":     call("saveObservation", 1, saveObservation),
		"clearObservation":    call("clearObservation", 1, clearObservation),
		"saveEvaluation":      call("saveEvaluation", 1, saveEvaluation),
		"clearEvaluation":     call("clearEvaluation", 1, clearEvaluation),

		// Attendance
		"setAttendance":      call("setAttendance", 3, setAttendance),
		"clearAttendanceDay": call("clearAttendanceDay", 1, clearAttendanceDay),
		"setAttendanceNote":  call("setAttendanceNote", 3, setAttendanceNote),

		// Settings
		"updateSettings":    call("updateSettings", 1, updateSettings),
		"setCloudConfig":    call("setCloudConfig", 2, setCloudConfig),
		"setAcademicYear":   call("setAcademicYear", 1, setAcademicYear),
		"reorderMoreMenu":   call("reorderMoreMenu", 1, reorderMoreMenu),
		"updateWorkingDays": call("updateWorkingDays", 1, updateWorkingDays),
		"setPassword":       call("setPassword", 1, setPassword),
		"checkPassword":     call("checkPassword", 1, checkPassword),
		"disablePassword":   call("disablePassword", 1, disablePassword),
		"lastSyncTime":      call("lastSyncTime", 0, lastSyncTime),

		// Data maintenance
		"normalizeArabicChars": call("normalizeArabicChars", 0, normalizeArabicChars),
		"padLeadingZeros":      call("padLeadingZeros", 0, padLeadingZeros),
		"factoryReset":         call("factoryReset", 0, factoryReset),
		"importRoster":         callAsync("importRoster", 1, importRoster),
		"importPhotos":         callAsync("importPhotos", 1, importPhotos),

		// Backup
		"exportBackup":  js.FuncOf(exportBackup),
		"restoreBackup": callAsync("restoreBackup", 1, restoreBackup),

		// Cloud sync
		"login":              callAsync("login", 2, login),
		"logout":             callAsync("logout", 0, logout),
		"resendConfirmation": callAsync("resendConfirmation", 1, resendConfirmation),
		"session":            call("session", 0, session),
		"push":               callAsync("push", 0, push),
		"pull":               callAsync("pull", 0, pull),
		"syncStatus":         call("syncStatus", 0, syncStatus),
		"onSyncStatus":       js.FuncOf(onSyncStatus),
	}))

	select {}
}

func getVersion(this js.Value, args []js.Value) any {
	return Version
}

// =============================================================================
// Bridge plumbing
// =============================================================================

type op func(ctx context.Context, args []js.Value) (any, error)

// call wraps a synchronous repository operation. Results are JSON envelopes.
func call(name string, nargs int, fn op) js.Func {
	return js.FuncOf(func(this js.Value, args []js.Value) any {
		if err := checkArgs(name, nargs, args); err != nil {
			return response.Failure(err).JSON()
		}
		return response.From(fn(context.Background(), args))
	})
}

// callAsync runs fn off the event loop. The Promise always resolves with an
// envelope; failures are reported inside it.
func callAsync(name string, nargs int, fn op) js.Func {
	return js.FuncOf(func(this js.Value, args []js.Value) any {
		promise, resolve, _ := makePromise()
		if err := checkArgs(name, nargs, args); err != nil {
			resolve.Invoke(response.Failure(err).JSON())
			return promise
		}
		go func() {
			resolve.Invoke(response.From(fn(context.Background(), args)))
		}()
		return promise
	})
}

func checkArgs(name string, nargs int, args []js.Value) error {
	if repo == nil {
		return errNotInitialized
	}
	if len(args) < nargs {
		return fmt.Errorf("%s requires %d args", name, nargs)
	}
	return nil
}

// makePromise creates a JS Promise and returns it along with resolve/reject functions.
func makePromise() (promise js.Value, resolve js.Value, reject js.Value) {
	var resolveFn, rejectFn js.Value
	handler := js.FuncOf(func(this js.Value, args []js.Value) any {
		resolveFn = args[0]
		rejectFn = args[1]
		return nil
	})
	defer handler.Release()

	promise = js.Global().Get("Promise").New(handler)
	return promise, resolveFn, rejectFn
}

func decodeJSON[T any](v js.Value) (T, error) {
	var out T
	if err := json.Unmarshal([]byte(v.String()), &out); err != nil {
		return out, repository.NewValidationError(fmt.Errorf("invalid json: %w", err))
	}
	return out, nil
}

func bytesFromJS(v js.Value) []byte {
	data := make([]byte, v.Get("length").Int())
	js.CopyBytesToGo(data, v)
	return data
}

func bytesToJS(data []byte) js.Value {
	arr := js.Global().Get("Uint8Array").New(len(data))
	js.CopyBytesToJS(arr, data)
	return arr
}

// =============================================================================
// Lifecycle
// =============================================================================

// initialize opens the store and loads the active year.
// Args: [dsn string] (optional, defaults to an in-memory database)
// Returns: Promise<envelope> with the slim snapshot
func initialize(this js.Value, args []js.Value) any {
	dsn := ":memory:"
	if len(args) > 0 && args[0].Type() == js.TypeString && args[0].String() != "" {
		dsn = args[0].String()
	}
	promise, resolve, _ := makePromise()
	go func() {
		ctx := context.Background()
		s, err := store.Open(ctx, dsn)
		if err != nil {
			resolve.Invoke(response.Failure(fmt.Errorf("failed to initialize store: %w", err)).JSON())
			return
		}
		r := repository.New(s)
		if err := r.Load(ctx); err != nil {
			s.Close()
			resolve.Invoke(response.Failure(err).JSON())
			return
		}
		if sqlStore != nil {
			sqlStore.Close()
		}
		sqlStore, repo, codec = s, r, backup.New(r)
		syncMu.Lock()
		syncEngine = nil
		syncMu.Unlock()
		log.Info().Str("dsn", dsn).Int("students", len(r.Students())).Msg("store initialized")
		resolve.Invoke(response.Success(response.FromSnapshot(r.Snapshot())).JSON())
	}()
	return promise
}

// snapshot returns the slim snapshot envelope.
func snapshot(this js.Value, args []js.Value) any {
	if repo == nil {
		return response.Failure(errNotInitialized).JSON()
	}
	return response.Success(response.FromSnapshot(repo.Snapshot())).JSON()
}

// subscribe calls fn with the slim snapshot JSON after every change.
// Args: [fn function]
// Returns: unsubscribe function
func subscribe(this js.Value, args []js.Value) any {
	if repo == nil || len(args) < 1 || args[0].Type() != js.TypeFunction {
		return js.Undefined()
	}
	fn := args[0]
	unsub := repo.Subscribe(func(s docstore.Snapshot) {
		b, err := response.MarshalSnapshot(s)
		if err != nil {
			log.Error().Err(err).Msg("encode snapshot")
			return
		}
		fn.Invoke(string(b))
	})
	var release js.Func
	release = js.FuncOf(func(this js.Value, args []js.Value) any {
		unsub()
		release.Release()
		return nil
	})
	return release
}

// =============================================================================
// Classrooms and students
// =============================================================================

func addClassroom(ctx context.Context, args []js.Value) (any, error) {
	return repo.AddClassroom(ctx, args[0].String())
}

func updateClassroom(ctx context.Context, args []js.Value) (any, error) {
	c, err := decodeJSON[model.Classroom](args[0])
	if err != nil {
		return nil, err
	}
	return nil, repo.UpdateClassroom(ctx, c)
}

func deleteClassroom(ctx context.Context, args []js.Value) (any, error) {
	return nil, repo.DeleteClassroom(ctx, args[0].String())
}

func reorderClassrooms(ctx context.Context, args []js.Value) (any, error) {
	ids, err := decodeJSON[[]string](args[0])
	if err != nil {
		return nil, err
	}
	return nil, repo.ReorderClassrooms(ctx, ids)
}

func addStudent(ctx context.Context, args []js.Value) (any, error) {
	s, err := decodeJSON[model.Student](args[0])
	if err != nil {
		return nil, err
	}
	return repo.AddStudent(ctx, s)
}

// updateStudent keeps the stored photo when the client sends a slim student
// without photoUrl.
func updateStudent(ctx context.Context, args []js.Value) (any, error) {
	var in struct {
		model.Student
		HasPhoto *bool `json:"hasPhoto"`
	}
	if err := json.Unmarshal([]byte(args[0].String()), &in); err != nil {
		return nil, repository.NewValidationError(fmt.Errorf("invalid json: %w", err))
	}
	s := in.Student
	if s.PhotoURL == "" && (in.HasPhoto == nil || *in.HasPhoto) {
		if cur := repo.StudentByID(s.ID); cur != nil {
			s.PhotoURL = cur.PhotoURL
		}
	}
	return nil, repo.UpdateStudent(ctx, s)
}

func deleteStudent(ctx context.Context, args []js.Value) (any, error) {
	return nil, repo.DeleteStudent(ctx, args[0].String())
}

func studentPhoto(_ context.Context, args []js.Value) (any, error) {
	s := repo.StudentByID(args[0].String())
	if s == nil {
		return nil, repository.ErrNotFound
	}
	return map[string]string{"photoUrl": s.PhotoURL}, nil
}

// =============================================================================
// Sessions
// =============================================================================

func addSession(ctx context.Context, args []js.Value) (any, error) {
	s, err := decodeJSON[model.Session](args[0])
	if err != nil {
		return nil, err
	}
	return repo.AddSession(ctx, s)
}

func updateSession(ctx context.Context, args []js.Value) (any, error) {
	s, err := decodeJSON[model.Session](args[0])
	if err != nil {
		return nil, err
	}
	return nil, repo.UpdateSession(ctx, s)
}

func deleteSession(ctx context.Context, args []js.Value) (any, error) {
	return nil, repo.DeleteSession(ctx, args[0].String())
}

func addSessionType(ctx context.Context, args []js.Value) (any, error) {
	return repo.AddSessionType(ctx, args[0].String())
}

func updateSessionType(ctx context.Context, args []js.Value) (any, error) {
	t, err := decodeJSON[model.SessionType](args[0])
	if err != nil {
		return nil, err
	}
	return nil, repo.UpdateSessionType(ctx, t)
}

func deleteSessionType(ctx context.Context, args []js.Value) (any, error) {
	return nil, repo.DeleteSessionType(ctx, args[0].String())
}

func reorderSessionTypes(ctx context.Context, args []js.Value) (any, error) {
	ids, err := decodeJSON[[]string](args[0])
	if err != nil {
		return nil, err
	}
	return nil, repo.ReorderSessionTypes(ctx, ids)
}

// =============================================================================
// Groups
// =============================================================================

// createGroup Args: [name, classroomId]
func createGroup(ctx context.Context, args []js.Value) (any, error) {
	return repo.CreateGroup(ctx, args[0].String(), args[1].String())
}

// renameGroup Args: [id, name]
func renameGroup(ctx context.Context, args []js.Value) (any, error) {
	return nil, repo.RenameGroup(ctx, args[0].String(), args[1].String())
}

func deleteGroup(ctx context.Context, args []js.Value) (any, error) {
	return nil, repo.DeleteGroup(ctx, args[0].String())
}

func reorderGroups(ctx context.Context, args []js.Value) (any, error) {
	ids, err := decodeJSON[[]string](args[0])
	if err != nil {
		return nil, err
	}
	return nil, repo.ReorderGroups(ctx, ids)
}

// moveStudent Args: [studentId, fromGroupId, toGroupId]; an empty group id
// means ungrouped.
func moveStudent(ctx context.Context, args []js.Value) (any, error) {
	return nil, repo.MoveStudent(ctx, args[0].String(), args[1].String(), args[2].String())
}

// =============================================================================
// Per-student lists
// =============================================================================

func saveSpecialInfo(ctx context.Context, args []js.Value) (any, error) {
	v, err := decodeJSON[model.SpecialStudentInfo](args[0])
	if err != nil {
		return nil, err
	}
	return nil, repo.SaveSpecialInfo(ctx, v)
}

func clearSpecialInfo(ctx context.Context, args []js.Value) (any, error) {
	return nil, repo.ClearSpecialInfo(ctx, args[0].String())
}

func saveCounselingInfo(ctx context.Context, args []js.Value) (any, error) {
	v, err := decodeJSON[model.CounselingNeededInfo](args[0])
	if err != nil {
		return nil, err
	}
	return nil, repo.SaveCounselingInfo(ctx, v)
}

func clearCounselingInfo(ctx context.Context, args []js.Value) (any, error) {
	return nil, repo.ClearCounselingInfo(ctx, args[0].String())
}

func saveObservation(ctx context.Context, args []js.Value) (any, error) {
	v, err := decodeJSON[model.ThinkingObservation](args[0])
	if err != nil {
		return nil, err
	}
	return nil, repo.SaveObservation(ctx, v)
}

func clearObservation(ctx context.Context, args []js.Value) (any, error) {
	return nil, repo.ClearObservation(ctx, args[0].String())
}

func saveEvaluation(ctx context.Context, args []js.Value) (any, error) {
	v, err := decodeJSON[model.ThinkingEvaluation](args[0])
	if err != nil {
		return nil, err
	}
	return nil, repo.SaveEvaluation(ctx, v)
}

func clearEvaluation(ctx context.Context, args []js.Value) (any, error) {
	return nil, repo.ClearEvaluation(ctx, args[0].String())
}

// =============================================================================
// Attendance
// =============================================================================

// setAttendance Args: [studentId, date, status]; "present" removes the record.
func setAttendance(ctx context.Context, args []js.Value) (any, error) {
	status := model.AttendanceStatus(args[2].String())
	return nil, repo.SetAttendance(ctx, args[0].String(), args[1].String(), status)
}

func clearAttendanceDay(ctx context.Context, args []js.Value) (any, error) {
	return nil, repo.ClearAttendanceDay(ctx, args[0].String())
}

// setAttendanceNote Args: [classroomId, date, text]; empty text removes the note.
func setAttendanceNote(ctx context.Context, args []js.Value) (any, error) {
	return nil, repo.SetAttendanceNote(ctx, args[0].String(), args[1].String(), args[2].String())
}

// =============================================================================
// Settings
// =============================================================================

// updateSettings merges a partial settings object. Password and cloud fields
// are only changed through their own calls.
func updateSettings(ctx context.Context, args []js.Value) (any, error) {
	patch := []byte(args[0].String())
	if !json.Valid(patch) {
		return nil, repository.NewValidationError(errors.New("invalid json"))
	}
	var decodeErr error
	err := repo.UpdateSettings(ctx, func(s *model.AppSettings) {
		kept := *s
		decodeErr = json.Unmarshal(patch, s)
		s.PasswordHash, s.PasswordProtected = kept.PasswordHash, kept.PasswordProtected
		s.CloudURL, s.CloudKey = kept.CloudURL, kept.CloudKey
	})
	if decodeErr != nil {
		return nil, repository.NewValidationError(decodeErr)
	}
	return nil, err
}

// setCloudConfig Args: [url, key]. The pair is saved only when a client can
// be built from it.
func setCloudConfig(ctx context.Context, args []js.Value) (any, error) {
	cfg := cloud.Config{URL: strings.TrimSpace(args[0].String()), Key: strings.TrimSpace(args[1].String())}
	if _, err := cloud.NewClient(cfg); err != nil {
		return nil, err
	}
	return nil, repo.UpdateSettings(ctx, func(s *model.AppSettings) {
		s.CloudURL, s.CloudKey = cfg.URL, cfg.Key
	})
}

func setAcademicYear(ctx context.Context, args []js.Value) (any, error) {
	if err := repo.SetAcademicYear(ctx, args[0].String()); err != nil {
		return nil, err
	}
	return response.FromSnapshot(repo.Snapshot()), nil
}

func reorderMoreMenu(ctx context.Context, args []js.Value) (any, error) {
	keys, err := decodeJSON[[]string](args[0])
	if err != nil {
		return nil, err
	}
	return nil, repo.ReorderMoreMenu(ctx, keys)
}

func updateWorkingDays(ctx context.Context, args []js.Value) (any, error) {
	wd, err := decodeJSON[model.WorkingDays](args[0])
	if err != nil {
		return nil, err
	}
	return nil, repo.UpdateWorkingDays(ctx, wd)
}

func setPassword(ctx context.Context, args []js.Value) (any, error) {
	return nil, repo.SetPassword(ctx, args[0].String())
}

func checkPassword(_ context.Context, args []js.Value) (any, error) {
	return repo.CheckPassword(args[0].String()), nil
}

func disablePassword(ctx context.Context, args []js.Value) (any, error) {
	return nil, repo.DisablePassword(ctx, args[0].String())
}

func lastSyncTime(ctx context.Context, _ []js.Value) (any, error) {
	t, ok, err := repo.LastSyncTime(ctx)
	if err != nil || !ok {
		return nil, err
	}
	return t, nil
}

// =============================================================================
// Data maintenance
// =============================================================================

func normalizeArabicChars(ctx context.Context, _ []js.Value) (any, error) {
	n, err := repo.NormalizeArabicChars(ctx)
	return map[string]int{"updated": n}, err
}

func padLeadingZeros(ctx context.Context, _ []js.Value) (any, error) {
	n, err := repo.PadLeadingZeros(ctx)
	return map[string]int{"updated": n}, err
}

func factoryReset(ctx context.Context, _ []js.Value) (any, error) {
	return nil, repo.FactoryReset(ctx)
}

// importRoster Args: [workbook Uint8Array]
func importRoster(ctx context.Context, args []js.Value) (any, error) {
	parsed, err := roster.Parse(bytes.NewReader(bytesFromJS(args[0])))
	if err != nil {
		return nil, err
	}
	return repo.ImportRoster(ctx, parsed)
}

// importPhotos Args: [files {name: Uint8Array}]
func importPhotos(ctx context.Context, args []js.Value) (any, error) {
	obj := args[0]
	keys := js.Global().Get("Object").Call("keys", obj)
	files := make(map[string][]byte, keys.Length())
	for i := 0; i < keys.Length(); i++ {
		name := keys.Index(i).String()
		files[name] = bytesFromJS(obj.Get(name))
	}
	return repo.ImportPhotos(ctx, files)
}

// =============================================================================
// Backup
// =============================================================================

// exportBackup builds the backup archive.
// Returns: Promise<Uint8Array>, rejected with an envelope string on failure
func exportBackup(this js.Value, args []js.Value) any {
	promise, resolve, reject := makePromise()
	if repo == nil {
		reject.Invoke(response.Failure(errNotInitialized).JSON())
		return promise
	}
	go func() {
		buf := pool.GetBuffer()
		defer pool.PutBuffer(buf)
		stats, err := codec.Export(context.Background(), buf)
		if err != nil {
			reject.Invoke(response.Failure(err).JSON())
			return
		}
		log.Info().Int("students", stats.Students).Int("photos", stats.Photos).Int("bytes", buf.Len()).Msg("backup exported")
		resolve.Invoke(bytesToJS(buf.Bytes()))
	}()
	return promise
}

// restoreBackup Args: [archive Uint8Array, preserveCloudCredentials bool]
func restoreBackup(ctx context.Context, args []js.Value) (any, error) {
	opts := backup.RestoreOptions{}
	if len(args) > 1 && args[1].Type() == js.TypeBoolean {
		opts.PreserveCloudCredentials = args[1].Bool()
	}
	if err := codec.Restore(ctx, bytesFromJS(args[0]), opts); err != nil {
		return nil, err
	}
	return response.FromSnapshot(repo.Snapshot()), nil
}

// =============================================================================
// Cloud sync
// =============================================================================

// engine returns the sync engine for the configured backend, rebuilding it
// when the URL or key changed.
func engine() (*cloudsync.Engine, error) {
	st := repo.Settings()
	cfg := cloud.Config{URL: st.CloudURL, Key: st.CloudKey}

	syncMu.Lock()
	defer syncMu.Unlock()
	if syncEngine != nil && cfg == syncConfig {
		return syncEngine, nil
	}
	client, err := cloud.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	syncEngine, syncConfig = cloudsync.New(client, repo), cfg
	return syncEngine, nil
}

// login Args: [email, password]
func login(ctx context.Context, args []js.Value) (any, error) {
	e, err := engine()
	if err != nil {
		return nil, err
	}
	s, err := e.Login(ctx, args[0].String(), args[1].String())
	if err != nil {
		return nil, err
	}
	return sessionInfo(s), nil
}

func logout(ctx context.Context, _ []js.Value) (any, error) {
	e, err := engine()
	if err != nil {
		return nil, err
	}
	return nil, e.Logout(ctx)
}

func resendConfirmation(ctx context.Context, args []js.Value) (any, error) {
	e, err := engine()
	if err != nil {
		return nil, err
	}
	return nil, e.ResendConfirmation(ctx, args[0].String())
}

func session(_ context.Context, _ []js.Value) (any, error) {
	e, err := engine()
	if err != nil {
		return nil, err
	}
	s, ok := e.Session()
	if !ok {
		return nil, nil
	}
	return sessionInfo(s), nil
}

func sessionInfo(s cloud.Session) map[string]any {
	return map[string]any{"userId": s.UserID, "email": s.Email, "expiresAt": s.ExpiresAt}
}

func push(ctx context.Context, _ []js.Value) (any, error) {
	e, err := engine()
	if err != nil {
		return nil, err
	}
	return e.Push(ctx)
}

func pull(ctx context.Context, _ []js.Value) (any, error) {
	e, err := engine()
	if err != nil {
		return nil, err
	}
	return e.Pull(ctx)
}

func syncStatus(_ context.Context, _ []js.Value) (any, error) {
	e, err := engine()
	if err != nil {
		return cloudsync.Status{}, nil
	}
	return e.Status(), nil
}

// onSyncStatus calls fn with the status JSON on every change of the current
// engine.
// Args: [fn function]
// Returns: unsubscribe function
func onSyncStatus(this js.Value, args []js.Value) any {
	if repo == nil || len(args) < 1 || args[0].Type() != js.TypeFunction {
		return js.Undefined()
	}
	e, err := engine()
	if err != nil {
		return js.Undefined()
	}
	fn := args[0]
	unsub := e.Subscribe(func(st cloudsync.Status) {
		b, _ := json.Marshal(st)
		fn.Invoke(string(b))
	})
	var release js.Func
	release = js.FuncOf(func(this js.Value, args []js.Value) any {
		unsub()
		release.Release()
		return nil
	})
	return release
}

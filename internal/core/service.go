// Package core orchestrates saving, reopening and cataloguing experiment
// files.
package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"mouser/internal/archive"
	"mouser/internal/catalog"
	"mouser/internal/infra/experimentdb"
	"mouser/internal/security/password"
	"mouser/pkg/domain"
)

// Operation names reported to metrics and tracing.
const (
	OpSaveExperiment   = "experiment.save"
	OpOpenExperiment   = "experiment.open"
	OpListExperiments  = "experiment.list"
	OpForgetExperiment = "experiment.forget"
	OpGetExperiment    = "experiment.get"
	OpListArchives     = "archive.list"
	OpRestoreArchive   = "archive.restore"
	OpPurgeArchives    = "archive.purge"
)

const archiveTimeLayout = "20060102T150405Z"

var (
	// ErrNilExperiment is returned by SaveExperiment for a nil experiment.
	ErrNilExperiment = errors.New("core: nil experiment")
	// ErrPasswordRequired is returned when an encrypted file is accessed without a password.
	ErrPasswordRequired = errors.New("core: password required for encrypted experiment")
	// ErrExperimentConflict is returned when the target file already holds a
	// different experiment.
	ErrExperimentConflict = errors.New("core: file belongs to another experiment")
	// ErrInvalidName is returned for names that are not a single file name.
	ErrInvalidName = errors.New("core: experiment name must be a plain file name")
	// ErrArchiveDisabled is returned by archive operations when no archive is configured.
	ErrArchiveDisabled = errors.New("core: archiving is not configured")
)

// Logger is the structured logging surface used by the service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock supplies the save timestamp.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// MetricsRecorder observes operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// Option configures a Service.
type Option func(*Service)

// WithArchive copies every saved file to store. A nil store disables archiving.
func WithArchive(store archive.Store) Option {
	return func(s *Service) { s.archive = store }
}

// WithBackend overrides the database and encryption backend used for saves.
func WithBackend(backend domain.SaveBackend) Option {
	return func(s *Service) {
		if backend != nil {
			s.backend = backend
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the clock used to timestamp saves.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer sets the tracer wrapped around each operation.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithDataDir sets the directory experiment files are written to.
func WithDataDir(dir string) Option {
	return func(s *Service) {
		if dir != "" {
			s.dataDir = dir
		}
	}
}

// Service saves experiments and keeps the catalog in step.
type Service struct {
	catalog catalog.Store
	archive archive.Store
	backend domain.SaveBackend
	clock   Clock
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	dataDir string

	// saves rewrite files in place, one at a time
	mu sync.Mutex
}

// NewService constructs a service over cat.
func NewService(cat catalog.Store, opts ...Option) *Service {
	s := &Service{
		catalog: cat,
		backend: DefaultBackend{},
		clock:   ClockFunc(time.Now),
		logger:  noopLogger{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		dataDir: ".",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DataDir returns the directory experiment files are written to.
func (s *Service) DataDir() string { return s.dataDir }

// SaveResult describes a completed save.
type SaveResult struct {
	Path string
	// CagesRebuilt and DataRebuilt mirror the change flags seen before the save.
	CagesRebuilt bool
	DataRebuilt  bool
	Entry        catalog.Entry
}

// SaveExperiment writes exp to its file under the data directory, archives
// the result when an archive is configured and records it in the catalog.
// The file is built in a staging directory and renamed over the target only
// once it is complete, so a failed save leaves any existing file untouched.
// Errors from the save itself are returned as produced by the backend.
func (s *Service) SaveExperiment(ctx context.Context, exp *domain.Experiment) (SaveResult, error) {
	if exp == nil {
		return SaveResult{}, ErrNilExperiment
	}
	var res SaveResult
	err := s.run(ctx, OpSaveExperiment, func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if err := validateName(exp.Name()); err != nil {
			return err
		}
		if exp.ID() == "" {
			if err := exp.AssignUniqueID(); err != nil {
				return fmt.Errorf("assign experiment id: %w", err)
			}
		}
		if err := os.MkdirAll(s.dataDir, 0o750); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		staging, err := os.MkdirTemp(s.dataDir, ".mouser-save-*")
		if err != nil {
			return fmt.Errorf("create staging dir: %w", err)
		}
		defer func() { _ = os.RemoveAll(staging) }()

		target := exp.FilePath(s.dataDir)
		if p, ok := s.backend.(TargetPreparer); ok {
			storedID, err := p.PrepareTarget(ctx, target, exp.FilePath(staging), exp.Password())
			if err != nil {
				return err
			}
			if storedID != "" && storedID != exp.ID() {
				return fmt.Errorf("%w: %s holds %s", ErrExperimentConflict, filepath.Base(target), storedID)
			}
		}

		cages, data := exp.GroupNumChanged(), exp.MeasurementItemsChanged()
		staged, err := exp.SaveToDatabase(ctx, staging, s.backend)
		if err != nil {
			return err
		}
		if err := os.Rename(staged, target); err != nil {
			return fmt.Errorf("replace %s: %w", filepath.Base(target), err)
		}
		if cages {
			s.logger.Info("cage layout rebuilt", "experiment", exp.ID(), "groups", exp.NumGroups())
			exp.ClearGroupNumChanged()
		}
		if data {
			s.logger.Info("collected data schema rebuilt", "experiment", exp.ID(), "items", len(exp.MeasurementItems()))
			exp.ClearMeasurementItemsChanged()
		}

		savedAt := s.clock.Now().UTC()
		entry := catalog.Entry{
			ID:            exp.ID(),
			Name:          exp.Name(),
			Species:       exp.Species(),
			Investigators: exp.Investigators(),
			Path:          target,
			Encrypted:     exp.HasPassword(),
			DateCreated:   exp.DateCreated(),
			SavedAt:       savedAt,
		}
		if s.archive != nil {
			key := archive.ObjectKey(exp.ID(), savedAt.Format(archiveTimeLayout), target)
			info, err := archive.UploadFile(ctx, s.archive, key, target, map[string]string{
				"experiment-id": exp.ID(),
				"encrypted":     strconv.FormatBool(exp.HasPassword()),
			})
			if err != nil {
				return fmt.Errorf("archive %s: %w", filepath.Base(target), err)
			}
			entry.ArchiveKey = key
			s.logger.Debug("experiment archived", "key", key, "driver", string(s.archive.Driver()), "etag", info.ETag)
		}
		if err := s.catalog.Record(ctx, entry); err != nil {
			return fmt.Errorf("record catalog entry: %w", err)
		}
		s.logger.Info("experiment saved", "experiment", exp.ID(), "name", exp.Name(), "path", target, "encrypted", exp.HasPassword())
		res = SaveResult{Path: target, CagesRebuilt: cages, DataRebuilt: data, Entry: entry}
		return nil
	})
	return res, err
}

// validateName rejects names that would place the file outside the data
// directory.
func validateName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// OpenExperiment reads the experiment stored at path. Encrypted files are
// decrypted into a temporary copy which is removed before returning.
func (s *Service) OpenExperiment(ctx context.Context, path, secret string) (experimentdb.Summary, error) {
	var summary experimentdb.Summary
	err := s.run(ctx, OpOpenExperiment, func(ctx context.Context) error {
		encrypted, err := password.IsEncrypted(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		src := path
		if encrypted {
			if secret == "" {
				return ErrPasswordRequired
			}
			tmp, err := os.MkdirTemp("", "mouser-open-*")
			if err != nil {
				return err
			}
			defer func() { _ = os.RemoveAll(tmp) }()
			base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			src = filepath.Join(tmp, base+domain.ExtensionPlain)
			m, err := password.New(secret)
			if err != nil {
				return err
			}
			if err := m.DecryptFile(ctx, path, src); err != nil {
				return err
			}
		}
		db, err := experimentdb.Open(ctx, src)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		summary, err = db.Load(ctx)
		return err
	})
	return summary, err
}

// ListExperiments returns the catalog, newest save first.
func (s *Service) ListExperiments(ctx context.Context) ([]catalog.Entry, error) {
	var entries []catalog.Entry
	err := s.run(ctx, OpListExperiments, func(ctx context.Context) error {
		var err error
		entries, err = s.catalog.List(ctx)
		return err
	})
	return entries, err
}

// GetExperiment returns the catalog entry for id.
func (s *Service) GetExperiment(ctx context.Context, id string) (catalog.Entry, error) {
	var entry catalog.Entry
	err := s.run(ctx, OpGetExperiment, func(ctx context.Context) error {
		var err error
		entry, err = s.catalog.Get(ctx, id)
		return err
	})
	return entry, err
}

// ForgetExperiment drops id from the catalog. Files on disk and in the
// archive are left untouched.
func (s *Service) ForgetExperiment(ctx context.Context, id string) error {
	return s.run(ctx, OpForgetExperiment, func(ctx context.Context) error {
		removed, err := s.catalog.Delete(ctx, id)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
		}
		s.logger.Info("experiment forgotten", "experiment", id)
		return nil
	})
}

// ListArchives returns the archived versions of experiment id, oldest first.
func (s *Service) ListArchives(ctx context.Context, id string) ([]archive.Info, error) {
	var infos []archive.Info
	err := s.run(ctx, OpListArchives, func(ctx context.Context) error {
		if s.archive == nil {
			return ErrArchiveDisabled
		}
		var err error
		infos, err = s.archive.List(ctx, archive.ExperimentPrefix(id))
		return err
	})
	return infos, err
}

// RestoreArchive copies the archived object key into dir and returns the
// restored file path. An existing file of the same name is never replaced.
func (s *Service) RestoreArchive(ctx context.Context, key, dir string) (string, error) {
	var restored string
	err := s.run(ctx, OpRestoreArchive, func(ctx context.Context) error {
		if s.archive == nil {
			return ErrArchiveDisabled
		}
		name := path.Base(key)
		if validateName(name) != nil {
			return fmt.Errorf("%w: %s", archive.ErrNotFound, key)
		}
		info, err := s.archive.Head(ctx, key)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create restore dir: %w", err)
		}
		dst := filepath.Join(dir, name)
		f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return fmt.Errorf("restore %s: %w", key, err)
		}
		_, rc, err := s.archive.Get(ctx, key)
		if err != nil {
			_ = f.Close()
			_ = os.Remove(dst)
			return err
		}
		defer func() { _ = rc.Close() }()
		n, err := io.Copy(f, rc)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err == nil && n != info.Size {
			err = fmt.Errorf("restore %s: got %d bytes, want %d", key, n, info.Size)
		}
		if err != nil {
			_ = os.Remove(dst)
			return err
		}
		s.logger.Info("archive restored", "key", key, "path", dst, "experiment", info.Metadata["experiment-id"])
		restored = dst
		return nil
	})
	return restored, err
}

// PurgeArchives deletes every archived version of experiment id and returns
// how many objects were removed.
func (s *Service) PurgeArchives(ctx context.Context, id string) (int, error) {
	var removed int
	err := s.run(ctx, OpPurgeArchives, func(ctx context.Context) error {
		if s.archive == nil {
			return ErrArchiveDisabled
		}
		infos, err := s.archive.List(ctx, archive.ExperimentPrefix(id))
		if err != nil {
			return err
		}
		for _, info := range infos {
			ok, err := s.archive.Delete(ctx, info.Key)
			if err != nil {
				return fmt.Errorf("delete %s: %w", info.Key, err)
			}
			if ok {
				removed++
			}
		}
		s.logger.Info("archives purged", "experiment", id, "removed", removed)
		return nil
	})
	return removed, err
}

func (s *Service) run(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	if err != nil {
		s.logger.Error("operation failed", "operation", op, "error", err)
	}
	return err
}

// TargetPreparer is implemented by backends that carry an existing file into
// the staged copy a save builds on.
type TargetPreparer interface {
	// PrepareTarget copies target to staged, decrypting it with secret when
	// needed, and returns the experiment id stored in it. A missing target
	// yields "" and leaves staged absent.
	PrepareTarget(ctx context.Context, target, staged, secret string) (string, error)
}

// DefaultBackend stores experiments in SQLite files and encrypts them with
// the password package.
type DefaultBackend struct{}

var (
	_ domain.SaveBackend = DefaultBackend{}
	_ TargetPreparer     = DefaultBackend{}
)

func (DefaultBackend) OpenDatabase(ctx context.Context, path string) (domain.ExperimentDatabase, error) {
	db, err := experimentdb.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func (DefaultBackend) NewPasswordManager(secret string) (domain.PasswordManager, error) {
	m, err := password.New(secret)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// PrepareTarget stages the existing file at target, decrypted, at staged.
func (DefaultBackend) PrepareTarget(ctx context.Context, target, staged, secret string) (string, error) {
	encrypted, err := password.IsEncrypted(target)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("inspect %s: %w", target, err)
	}
	if encrypted {
		if secret == "" {
			return "", fmt.Errorf("%w: %s", ErrPasswordRequired, filepath.Base(target))
		}
		m, err := password.New(secret)
		if err != nil {
			return "", err
		}
		if err := m.DecryptFile(ctx, target, staged); err != nil {
			return "", err
		}
	} else if err := copyFile(target, staged); err != nil {
		return "", fmt.Errorf("stage %s: %w", filepath.Base(target), err)
	}

	db, err := experimentdb.Open(ctx, staged)
	if err != nil {
		return "", err
	}
	defer func() { _ = db.Close() }()
	summary, err := db.Load(ctx)
	if errors.Is(err, experimentdb.ErrNoExperiment) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return summary.Record.ID, nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode().Perm())
}

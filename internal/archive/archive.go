// Package archive copies saved experiment files to object storage. It wraps
// the infra drivers so the rest of the tree depends only on Store.
package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"mouser/internal/archive/core"
	"mouser/internal/infra/archive/fs"
	"mouser/internal/infra/archive/memory"
	"mouser/internal/infra/archive/s3"
)

type (
	// Driver identifies an archive backend.
	Driver = core.Driver
	// PutOptions configures an archive write.
	PutOptions = core.PutOptions
	// Info describes an archived object.
	Info = core.Info
	// Store is the interface implemented by archive backends.
	Store = core.Store
	// S3Config configures the s3 driver.
	S3Config = s3.Config
)

const (
	DriverNone       = core.DriverNone
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrExists   = core.ErrExists
	ErrNotFound = core.ErrNotFound
)

// ContentType is recorded on archived experiment files.
const ContentType = "application/vnd.mouser.experiment"

// Config selects and configures a driver.
type Config struct {
	Driver Driver   `mapstructure:"driver"`
	FSRoot string   `mapstructure:"fs_root"`
	S3     S3Config `mapstructure:"s3"`
}

// Open returns the configured store, or nil when archiving is disabled.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverNone:
		return nil, nil
	case DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case DriverS3:
		return s3.New(ctx, cfg.S3)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown archive driver %s", cfg.Driver)
	}
}

// NewMemory returns an in-memory store.
func NewMemory() Store { return memory.New() }

// ObjectKey returns the key an experiment file is archived under:
// experiments/<id>/<saved-at>/<file name>.
func ObjectKey(experimentID, savedAt, filePath string) string {
	return ExperimentPrefix(experimentID) + path.Join(savedAt, filepath.Base(filePath))
}

// ExperimentPrefix is the key prefix shared by every archived version of an
// experiment.
func ExperimentPrefix(experimentID string) string {
	id := strings.TrimSpace(experimentID)
	if id == "" {
		id = "unassigned"
	}
	return path.Join("experiments", id) + "/"
}

// UploadFile archives the file at filePath under key.
func UploadFile(ctx context.Context, store Store, key, filePath string, metadata map[string]string) (Info, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return Info{}, err
	}
	defer func() { _ = f.Close() }()
	return store.Put(ctx, key, f, PutOptions{ContentType: ContentType, Metadata: metadata})
}

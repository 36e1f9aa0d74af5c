package readings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/carbon-gate/internal/config"
	"github.com/oshokin/carbon-gate/internal/domain/gate"
)

// Repository defines persistence operations for the reading window.
type Repository interface {
	Load(ctx context.Context) ([]float64, error)
	Save(ctx context.Context, readings []float64) error
}

// FileRepository persists readings to a JSON file on disk.
// The file is produced and consumed as a protobuf ListValue via protojson,
// which maps one-to-one onto a JSON array.
type FileRepository struct {
	// path is the filesystem location of the JSON file.
	path string
	// mu serialises file access.
	mu sync.Mutex
}

// ErrNotFound is returned when no snapshot has been written yet.
var ErrNotFound = errors.New("readings not found")

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the location of the snapshot file.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the snapshot from disk. A file that is not a JSON array of
// numbers yields a *gate.PersistedStateError.
func (r *FileRepository) Load(_ context.Context) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read readings file: %w", err)
	}

	var list structpb.ListValue
	if err = protojson.Unmarshal(contents, &list); err != nil {
		return nil, &gate.PersistedStateError{Path: r.path, Err: err}
	}

	return fromList(r.path, &list)
}

// Save writes the snapshot next to the target and renames it into place,
// so a crash mid-write leaves the previous file intact.
func (r *FileRepository) Save(_ context.Context, readings []float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := protojson.Marshal(toList(readings))
	if err != nil {
		return fmt.Errorf("encode readings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp readings file: %w", err)
	}

	tmpName := tmp.Name()

	// Removal fails harmlessly once the rename succeeded.
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp readings file: %w", err)
	}

	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp readings file: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp readings file: %w", err)
	}

	if err = os.Chmod(tmpName, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("chmod temp readings file: %w", err)
	}

	if err = os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("replace readings file: %w", err)
	}

	return nil
}

// fromList converts a decoded ListValue into readings, rejecting non-numbers.
func fromList(path string, list *structpb.ListValue) ([]float64, error) {
	readings := make([]float64, 0, len(list.GetValues()))

	for i, value := range list.GetValues() {
		number, ok := value.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, &gate.PersistedStateError{
				Path: path,
				Err:  fmt.Errorf("element %d is %T, want a number", i, value.GetKind()),
			}
		}

		readings = append(readings, number.NumberValue)
	}

	return readings, nil
}

// toList converts readings into a ListValue.
func toList(readings []float64) *structpb.ListValue {
	values := make([]*structpb.Value, 0, len(readings))
	for _, reading := range readings {
		values = append(values, structpb.NewNumberValue(reading))
	}

	return &structpb.ListValue{Values: values}
}

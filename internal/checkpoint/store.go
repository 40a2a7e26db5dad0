package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// FileStore persists records to a single file that is replaced on every save.
type FileStore struct {
	path   string
	logger *zap.Logger
}

func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, logger: logger.Named("checkpoint")}
}

func (s *FileStore) Path() string {
	return s.path
}

// Save writes rec to a temporary sibling file and renames it over the target.
// It returns the number of bytes written.
func (s *FileStore) Save(rec Record) (int64, error) {
	if s.path == "" {
		return 0, errors.New("checkpoint path is required")
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if err := Encode(tmp, rec); err != nil {
		cleanup()
		return 0, fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return 0, fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("replace checkpoint %s: %w", s.path, err)
	}

	size := EncodedSize(len(rec.Genomes), rec.NumWeights())
	s.logger.Info("checkpoint saved",
		zap.String("path", s.path),
		zap.Int("generation", rec.Generation),
		zap.Int("population", len(rec.Genomes)),
		zap.String("size", humanize.Bytes(uint64(size))),
	)
	return size, nil
}

// Load reads the checkpoint. A missing, unopenable or non-regular file is
// reported as ok == false with a nil error; malformed content is an error.
func (s *FileStore) Load(populationSize, numWeights int) (Record, bool, error) {
	if s.path == "" {
		s.logger.Info("no checkpoint file configured")
		return Record{}, false, nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		s.logger.Info("no prior state", zap.String("path", s.path), zap.Error(err))
		return Record{}, false, nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.logger.Info("no prior state", zap.String("path", s.path), zap.Error(err))
		return Record{}, false, nil
	}
	if !info.Mode().IsRegular() {
		s.logger.Info("no prior state", zap.String("path", s.path), zap.String("mode", info.Mode().String()))
		return Record{}, false, nil
	}
	if want := EncodedSize(populationSize, numWeights); info.Size() != want {
		return Record{}, false, fmt.Errorf("%w: %s is %d bytes, want %d", ErrMalformed, s.path, info.Size(), want)
	}

	rec, err := Decode(f, populationSize, numWeights)
	if err != nil {
		return Record{}, false, fmt.Errorf("load %s: %w", s.path, err)
	}
	s.logger.Info("checkpoint loaded",
		zap.String("path", s.path),
		zap.Int("generation", rec.Generation),
		zap.Int("population", len(rec.Genomes)),
	)
	return rec, true, nil
}

// Summary describes a checkpoint file without knowing its genome length.
type Summary struct {
	Header
	FileSize   int64
	NumWeights int
}

// Inspect reads the header of path and derives the genome length from the
// file size.
func Inspect(path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Summary{}, err
	}
	h, err := readHeader(io.LimitReader(f, HeaderSize))
	if err != nil {
		return Summary{}, err
	}
	out := Summary{Header: h, FileSize: info.Size()}
	body := info.Size() - HeaderSize
	if h.PopulationSize == 0 {
		if body != 0 {
			return Summary{}, fmt.Errorf("%w: %d bytes after empty population", ErrMalformed, body)
		}
		return out, nil
	}
	perGenome := int64(h.PopulationSize) * 9
	if body <= 0 || body%perGenome != 0 {
		return Summary{}, fmt.Errorf("%w: body of %d bytes does not divide into %d genomes", ErrMalformed, body, h.PopulationSize)
	}
	out.NumWeights = int(body / perGenome)
	return out, nil
}

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"booth/internal/logger"
	"booth/internal/model"
	"booth/internal/repository"
)

// timestampPrefix is the length of the "20060102_150405_" file name prefix.
const timestampPrefix = len("20060102_150405_")

// Output is a finished recording described by its metadata sidecar.
type Output struct {
	model.Metadata
	JobID string `json:"job_id"`
	Meta  string `json:"meta"`
	Video string `json:"video"`
	Thumb string `json:"thumb"`
}

// OutputService reads finished recordings from the output directory.
type OutputService struct {
	dir    string
	logger *logger.Logger
}

// NewOutputService creates a service over dir.
func NewOutputService(dir string, logger *logger.Logger) *OutputService {
	return &OutputService{dir: dir, logger: logger}
}

// Dir returns the output directory.
func (s *OutputService) Dir() string {
	return s.dir
}

// ListMetadata returns every readable sidecar, newest first. Unreadable
// sidecars are logged and skipped.
func (s *OutputService) ListMetadata() ([]Output, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", s.dir, err)
	}

	outputs := make([]Output, 0, len(paths))
	for _, p := range paths {
		out, err := readOutput(p)
		if err != nil {
			s.logger.Warning("Skipping sidecar %s: %v", p, err)
			continue
		}
		outputs = append(outputs, out)
	}

	sort.SliceStable(outputs, func(i, j int) bool {
		return parseTimestamp(outputs[i].TimestampUTC).After(parseTimestamp(outputs[j].TimestampUTC))
	})
	return outputs, nil
}

// Resolve maps a file name to a path inside the output directory. Names
// with path separators or parent references are rejected.
func (s *OutputService) Resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

// Reindex saves every sidecar as a finished job. progress, when not nil, is
// called once per sidecar. It returns the number of jobs saved.
func (s *OutputService) Reindex(repo repository.JobRepository, progress func()) (int, error) {
	outputs, err := s.ListMetadata()
	if err != nil {
		return 0, err
	}

	saved := 0
	for _, out := range outputs {
		job := out.Job()
		if job.ID == "" {
			s.logger.Warning("Sidecar %s has no job id in its name", out.Meta)
		} else if err := repo.Save(&job); err != nil {
			return saved, err
		} else {
			saved++
		}
		if progress != nil {
			progress()
		}
	}
	return saved, nil
}

// Job converts the output into a finished job record.
func (o Output) Job() model.Job {
	return model.Job{
		ID:          o.JobID,
		Status:      model.JobDone,
		VideoPath:   o.Video,
		ThumbPath:   o.Thumb,
		MetaPath:    o.Meta,
		StartedAt:   parseTimestamp(o.TimestampUTC),
		DurationS:   o.DurationS,
		PersonCount: o.PersonCount,
		FilterUsed:  o.FilterUsed,
	}
}

func readOutput(path string) (Output, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Output{}, err
	}

	var meta model.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Output{}, err
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), ".json")

	out := Output{
		Metadata: meta,
		Meta:     path,
		Video:    filepath.Join(dir, meta.Filename),
		Thumb:    filepath.Join(dir, base+"_thumb.jpg"),
	}
	if len(base) > timestampPrefix {
		out.JobID = base[timestampPrefix:]
	}
	return out, nil
}

func parseTimestamp(v string) time.Time {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

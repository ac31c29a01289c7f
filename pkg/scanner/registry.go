package scanner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/vulntrex/vulntrex/pkg/fsutil"
)

// registry persists RunInfo records as a single JSON object keyed by
// run id.
type registry struct {
	mu    sync.Mutex
	path  string
	owner *fsutil.OwnerConfig
}

func newRegistry(path string, owner *fsutil.OwnerConfig) *registry {
	return &registry{path: path, owner: owner}
}

// load must be called with mu held.
func (r *registry) load() (map[string]*RunInfo, error) {
	runs := make(map[string]*RunInfo)

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return runs, nil
		}

		return nil, fmt.Errorf("reading scan registry: %w", err)
	}

	if len(data) == 0 {
		return runs, nil
	}

	if err := json.Unmarshal(data, &runs); err != nil {
		return nil, fmt.Errorf("decoding scan registry: %w", err)
	}

	return runs, nil
}

// save must be called with mu held.
func (r *registry) save(runs map[string]*RunInfo) error {
	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding scan registry: %w", err)
	}

	if err := fsutil.MkdirAll(filepath.Dir(r.path), 0o755, r.owner); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}

	if err := fsutil.WriteFileAtomic(r.path, data, 0o644, r.owner); err != nil {
		return fmt.Errorf("writing scan registry: %w", err)
	}

	return nil
}

// get returns a copy of one record.
func (r *registry) get(runID string) (*RunInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	runs, err := r.load()
	if err != nil {
		return nil, err
	}

	info, ok := runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	cp := *info

	return &cp, nil
}

// put stores one record.
func (r *registry) put(info *RunInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	runs, err := r.load()
	if err != nil {
		return err
	}

	cp := *info
	runs[info.RunID] = &cp

	return r.save(runs)
}

// update applies fn to a record and stores it. fn returning false
// leaves the registry untouched.
func (r *registry) update(runID string, fn func(info *RunInfo) bool) (*RunInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	runs, err := r.load()
	if err != nil {
		return nil, err
	}

	info, ok := runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	if fn(info) {
		if err := r.save(runs); err != nil {
			return nil, err
		}
	}

	cp := *info

	return &cp, nil
}

// list returns every record, newest first.
func (r *registry) list() ([]RunInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	runs, err := r.load()
	if err != nil {
		return nil, err
	}

	out := make([]RunInfo, 0, len(runs))
	for _, info := range runs {
		out = append(out, *info)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime > out[j].StartTime
		}

		return out[i].RunID < out[j].RunID
	})

	return out, nil
}

package aggregate

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/c360/incidentwatch/errors"
	"github.com/c360/incidentwatch/extract"
	"github.com/c360/incidentwatch/incident"
	"github.com/c360/incidentwatch/metric"
)

// Pipeline coordinates everything that touches the staging directory and the
// Registry: listing staged files, running aggregation passes, deleting
// superseded or expired files, and answering read queries. A single mutex
// serializes all of it so a pass never races a deletion or an intake rename.
type Pipeline struct {
	mu sync.Mutex

	stagingDir string
	aggregator *Aggregator
	extractor  *extract.Extractor
	registry   *Registry
	metrics    *metric.Metrics
	logger     *slog.Logger

	now func() time.Time
}

// NewPipeline creates a Pipeline over the given staging directory.
func NewPipeline(stagingDir string, aggregator *Aggregator, extractor *extract.Extractor, registry *Registry, metrics *metric.Metrics, logger *slog.Logger) *Pipeline {
	if metrics == nil {
		metrics = metric.NewMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		stagingDir: stagingDir,
		aggregator: aggregator,
		extractor:  extractor,
		registry:   registry,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// listStaged returns the full paths of staged export files in lexicographic
// name order. Caller must hold p.mu.
func (p *Pipeline) listStaged() ([]string, error) {
	entries, err := os.ReadDir(p.stagingDir)
	if err != nil {
		return nil, errors.WrapTransient(errors.ErrDirectoryUnreadable, "aggregate", "listStaged", "read "+p.stagingDir)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		// In-flight StageFile temporaries are dotfiles. Rotation backups
		// (name.xml-<ts>.backup) stay on disk and out of the pass.
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".xml") {
			continue
		}
		paths = append(paths, filepath.Join(p.stagingDir, name))
	}
	sort.Strings(paths)
	return paths, nil
}

// Process runs one full aggregation pass and applies its file deletions.
// This is the write path, driven by the processing loop.
func (p *Pipeline) Process() ([]incident.Group, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.now()
	paths, err := p.listStaged()
	if err != nil {
		return nil, err
	}

	result := p.aggregator.Run(paths)
	for _, path := range result.Deletions {
		if err := os.Remove(path); err != nil {
			p.logger.Error("failed to delete staged file", "file", path, "error", err)
			continue
		}
		p.metrics.FilesDeleted.Inc()
	}

	p.metrics.PassesTotal.Inc()
	p.metrics.PassDuration.Observe(time.Since(start).Seconds())
	for kind, n := range result.ExtractFailures {
		p.metrics.ExtractFailures.WithLabelValues(kind).Add(float64(n))
	}
	for reason, n := range result.Dropped {
		p.metrics.DropsTotal.WithLabelValues(reason.String()).Add(float64(n))
	}
	p.metrics.ActiveIncidents.Set(float64(len(result.Groups)))
	p.metrics.TrackedCalls.Set(float64(p.registry.Len()))

	return result.Groups, nil
}

// View runs an aggregation pass without deleting anything. This is the read
// path for API requests between processing ticks.
func (p *Pipeline) View() ([]incident.Group, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	paths, err := p.listStaged()
	if err != nil {
		return nil, err
	}
	return p.aggregator.Run(paths).Groups, nil
}

// UnitsForCall returns every unit recorded in the newest staged file for the
// given call number, sorted by unit type then unit identifier. A nil slice
// with nil error means the call is not staged.
func (p *Pipeline) UnitsForCall(callNumber string) ([]incident.UnitState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	paths, err := p.listStaged()
	if err != nil {
		return nil, err
	}

	var units []incident.UnitState
	found := false
	best := -1
	for _, path := range paths {
		cn, sequence, err := ParseExportName(filepath.Base(path))
		if err != nil || cn != callNumber {
			continue
		}
		if sequence <= best {
			continue
		}
		snap, err := p.extractor.ExtractFile(path)
		if err != nil {
			p.logger.Error("export extraction failed", "file", path, "error", err)
			continue
		}
		units = snap.Units
		found = true
		best = sequence
	}
	if !found {
		return nil, nil
	}

	sort.SliceStable(units, func(i, j int) bool {
		if units[i].UnitType != units[j].UnitType {
			return units[i].UnitType < units[j].UnitType
		}
		return units[i].UnitID < units[j].UnitID
	})
	return units, nil
}

// FilesForCall returns the staged filenames belonging to the given call
// number, in name order.
func (p *Pipeline) FilesForCall(callNumber string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	paths, err := p.listStaged()
	if err != nil {
		return nil, err
	}

	var names []string
	for _, path := range paths {
		name := filepath.Base(path)
		cn, _, err := ParseExportName(name)
		if err != nil || cn != callNumber {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// DeleteFile removes a single staged file by name. The name must be a bare
// filename; anything resembling a path is rejected.
func (p *Pipeline) DeleteFile(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return errors.WrapInvalid(errors.ErrFilenamePattern, "aggregate", "DeleteFile", "validate "+name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.Remove(filepath.Join(p.stagingDir, name)); err != nil {
		return errors.WrapTransient(errors.ErrDeleteFailed, "aggregate", "DeleteFile", "remove "+name)
	}
	p.metrics.FilesDeleted.Inc()
	p.logger.Info("staged file deleted on request", "file", name)
	return nil
}

// Expire removes every call whose first display is older than the retention
// ceiling, deleting its staged files and its registry entry. Returns the
// number of calls expired.
func (p *Pipeline) Expire(ceiling time.Duration) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.now().Add(-ceiling)
	expired := p.registry.ExpiredBefore(cutoff)
	if len(expired) == 0 {
		return 0, nil
	}

	paths, err := p.listStaged()
	if err != nil {
		return 0, err
	}

	byCall := make(map[string][]string)
	for _, path := range paths {
		cn, _, err := ParseExportName(filepath.Base(path))
		if err != nil {
			continue
		}
		byCall[cn] = append(byCall[cn], path)
	}

	for _, callNumber := range expired {
		for _, path := range byCall[callNumber] {
			if err := os.Remove(path); err != nil {
				p.logger.Error("failed to delete expired file", "file", path, "error", err)
				continue
			}
			p.metrics.FilesDeleted.Inc()
		}
		p.registry.Remove(callNumber)
		p.metrics.RetentionExpirations.Inc()
		p.logger.Info("call expired by retention", "call_number", callNumber, "ceiling", ceiling)
	}
	p.metrics.TrackedCalls.Set(float64(p.registry.Len()))
	return len(expired), nil
}

// StageFile copies a source export into the staging directory under the same
// name. The copy goes through a temporary file and a rename so a concurrent
// pass never reads a half-written export.
func (p *Pipeline) StageFile(sourcePath string) error {
	name := filepath.Base(sourcePath)

	src, err := os.Open(sourcePath)
	if err != nil {
		p.metrics.CopyFailures.Inc()
		return errors.WrapTransient(errors.ErrCopyFailed, "aggregate", "StageFile", "open "+name)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(p.stagingDir, "."+name+".tmp-*")
	if err != nil {
		p.metrics.CopyFailures.Inc()
		return errors.WrapTransient(errors.ErrCopyFailed, "aggregate", "StageFile", "create temp for "+name)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		p.metrics.CopyFailures.Inc()
		return errors.WrapTransient(errors.ErrCopyFailed, "aggregate", "StageFile", "copy "+name)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		p.metrics.CopyFailures.Inc()
		return errors.WrapTransient(errors.ErrCopyFailed, "aggregate", "StageFile", "close temp for "+name)
	}

	if err := os.Rename(tmpName, filepath.Join(p.stagingDir, name)); err != nil {
		os.Remove(tmpName)
		p.metrics.CopyFailures.Inc()
		return errors.WrapTransient(errors.ErrCopyFailed, "aggregate", "StageFile", "rename "+name)
	}
	p.metrics.FilesCopied.Inc()
	return nil
}

// Staged reports whether a file with the given name already exists in the
// staging directory.
func (p *Pipeline) Staged(name string) bool {
	_, err := os.Stat(filepath.Join(p.stagingDir, name))
	return err == nil
}

package aggregate

import (
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/c360/incidentwatch/errors"
	"github.com/c360/incidentwatch/extract"
	"github.com/c360/incidentwatch/incident"
	"github.com/c360/incidentwatch/policy"
)

// exportNameRe matches staged export filenames: <call-number>_<sequence>.xml,
// optionally suffixed with a rotation backup marker.
var exportNameRe = regexp.MustCompile(`^(\d+)_(\d+)\.xml(?:-\d+\.backup)?$`)

// ParseExportName splits an export filename into its call number and
// sequence number. Filenames not matching the pattern yield
// errors.ErrFilenamePattern.
func ParseExportName(name string) (callNumber string, sequence int, err error) {
	m := exportNameRe.FindStringSubmatch(name)
	if m == nil {
		return "", 0, errors.WrapInvalid(errors.ErrFilenamePattern, "aggregate", "ParseExportName", "match "+name)
	}
	sequence, err = strconv.Atoi(m[2])
	if err != nil {
		return "", 0, errors.WrapInvalid(errors.ErrFilenamePattern, "aggregate", "ParseExportName", "sequence in "+name)
	}
	return m[1], sequence, nil
}

// Aggregator runs aggregation passes over staged export files. It owns no
// cross-pass state itself; the Registry passed in does.
type Aggregator struct {
	extractor *extract.Extractor
	tables    policy.Tables
	registry  *Registry
	logger    *slog.Logger

	// now is injected for retention and registry tests.
	now func() time.Time
}

// NewAggregator creates an Aggregator.
func NewAggregator(extractor *extract.Extractor, tables policy.Tables, registry *Registry, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		extractor: extractor,
		tables:    tables,
		registry:  registry,
		logger:    logger,
		now:       time.Now,
	}
}

// Result is the outcome of one aggregation pass.
type Result struct {
	// Groups are the active incidents, most recent call first.
	Groups []incident.Group

	// Deletions are staged files that are superseded, closed, or dropped
	// and should be removed.
	Deletions []string

	// Dropped counts classification drops by reason, for metrics.
	Dropped map[policy.DropReason]int

	// ExtractFailures counts per-file failures by kind, for metrics.
	ExtractFailures map[string]int
}

// failureKind maps a per-file failure to its metric label.
func failureKind(err error) string {
	switch {
	case errors.Is(err, errors.ErrFilenamePattern):
		return "filename"
	case errors.Is(err, errors.ErrEmptyFile):
		return "empty"
	case errors.Is(err, errors.ErrMalformedXML):
		return "malformed"
	case errors.Is(err, errors.ErrMissingCallNumber):
		return "missing_call_number"
	default:
		return "read"
	}
}

// groupBuilder accumulates one location-keyed incident group during a pass.
type groupBuilder struct {
	group     incident.Group
	callTypes []string
	created   *time.Time
}

// Run performs one full aggregation pass over the staged files. Files are
// processed in lexicographic filename order. Per-file failures are logged
// and the file is skipped for this pass (neither kept nor deleted) so it is
// retried on the next one; the pass itself always returns whatever could be
// aggregated.
func (a *Aggregator) Run(paths []string) Result {
	ordered := make([]string, len(paths))
	copy(ordered, paths)
	sort.Slice(ordered, func(i, j int) bool {
		return filepath.Base(ordered[i]) < filepath.Base(ordered[j])
	})

	result := Result{
		Dropped:         make(map[policy.DropReason]int),
		ExtractFailures: make(map[string]int),
	}

	// First sweep: parse everything once, collecting snapshots and the set
	// of call numbers the source has closed.
	snapshots := make(map[string]*incident.Snapshot, len(ordered))
	closed := make(map[string]bool)
	for _, path := range ordered {
		if _, _, err := ParseExportName(filepath.Base(path)); err != nil {
			a.logger.Error("malformed export filename", "file", path)
			result.ExtractFailures[failureKind(err)]++
			continue
		}

		snap, err := a.extractor.ExtractFile(path)
		if err != nil {
			a.logger.Error("export extraction failed", "file", path, "error", err)
			result.ExtractFailures[failureKind(err)]++
			continue
		}
		snapshots[path] = snap
		if snap.Closed() {
			a.logger.Info("call closed at source",
				"call_number", snap.CallNumber,
				"close_time", snap.CloseText)
			closed[snap.CallNumber] = true
		}
	}

	deletions := newDeletionSet()

	// Second sweep: resolve which file wins for each call number. The
	// highest sequence number wins; superseded and stale duplicates are
	// marked for deletion. Closed calls lose all their files and their
	// registry entry.
	type accepted struct {
		path     string
		sequence int
	}
	latest := make(map[string]accepted)
	var winnersOrder []string
	for _, path := range ordered {
		snap, ok := snapshots[path]
		if !ok {
			continue
		}

		_, sequence, err := ParseExportName(filepath.Base(path))
		if err != nil {
			continue
		}

		callNumber := snap.CallNumber
		if closed[callNumber] {
			deletions.add(path)
			if a.registry.Remove(callNumber) {
				a.logger.Info("purged closed call from registry", "call_number", callNumber)
			}
			continue
		}

		prev, seen := latest[callNumber]
		if seen {
			if sequence <= prev.sequence {
				// Older or duplicate file arriving later in iteration order.
				deletions.add(path)
				continue
			}
			deletions.add(prev.path)
			latest[callNumber] = accepted{path: path, sequence: sequence}
			for i, p := range winnersOrder {
				if p == prev.path {
					winnersOrder[i] = path
					break
				}
			}
			continue
		}

		latest[callNumber] = accepted{path: path, sequence: sequence}
		winnersOrder = append(winnersOrder, path)
	}

	// Third sweep: classify each winning snapshot and merge kept ones into
	// location-keyed groups.
	builders := make(map[string]*groupBuilder)
	var keyOrder []string
	for _, path := range winnersOrder {
		snap := snapshots[path]

		decision := a.tables.Classify(snap)
		if !decision.Keep {
			result.Dropped[decision.Reason]++
			a.logger.Info("call filtered",
				"call_number", snap.CallNumber,
				"reason", decision.Reason.String(),
				"agency_type", decision.AgencyType)
			deletions.add(path)
			continue
		}

		key := snap.Location
		builder, ok := builders[key]
		if !ok {
			builder = &groupBuilder{
				group: incident.Group{
					Location:        key,
					DisplayLocation: extract.DisplayLocation(snap.Location, snap.Latitude, snap.Longitude),
					Latitude:        snap.Latitude,
					Longitude:       snap.Longitude,
				},
			}
			builders[key] = builder
			keyOrder = append(keyOrder, key)
		}
		builder.merge(snap, a.tables.ExcludedUnitTypes)

		if a.registry.MarkDisplayed(snap.CallNumber, a.now()) {
			a.logger.Info("call first displayed", "call_number", snap.CallNumber)
		}
	}

	// Finalize: retain only units still active and not excluded, join the
	// display identifier, and order groups by their first call number,
	// most recent call first.
	for _, key := range keyOrder {
		builder := builders[key]
		g := builder.finalize(a.tables.ExcludedUnitTypes)
		result.Groups = append(result.Groups, g)
	}
	sort.SliceStable(result.Groups, func(i, j int) bool {
		return callNumberValue(result.Groups[i]) > callNumberValue(result.Groups[j])
	})

	result.Deletions = deletions.ordered
	if len(result.Groups) > 0 {
		a.logger.Info("aggregation pass complete",
			"incidents", len(result.Groups),
			"files", len(ordered),
			"deletions", len(result.Deletions))
	}
	return result
}

// merge folds one snapshot into the group.
func (b *groupBuilder) merge(snap *incident.Snapshot, excludedTypes map[string]bool) {
	if !b.group.HasCall(snap.CallNumber) {
		b.group.CallNumbers = append(b.group.CallNumbers, snap.CallNumber)
	}

	if snap.CallType != "" && !contains(b.callTypes, snap.CallType) {
		b.callTypes = append(b.callTypes, snap.CallType)
	}

	if snap.CreateTime != nil && (b.created == nil || snap.CreateTime.Before(*b.created)) {
		b.created = snap.CreateTime
	}

	b.group.Units = incident.MergeUnits(b.group.Units, snap.Units, excludedTypes)
}

// finalize produces the display-ready group.
func (b *groupBuilder) finalize(excludedTypes map[string]bool) incident.Group {
	g := b.group
	g.Units = incident.FilterActive(g.Units, excludedTypes)
	g.CallType = strings.Join(b.callTypes, ", ")
	g.CreateTime = extract.FormatEastern(b.created)
	g.DisplayID = strings.Join(g.CallNumbers, ", ")
	return g
}

// callNumberValue is the numeric sort key of a group: the value of its first
// call number.
func callNumberValue(g incident.Group) int64 {
	if len(g.CallNumbers) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(g.CallNumbers[0], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

// deletionSet is an ordered string set.
type deletionSet struct {
	seen    map[string]bool
	ordered []string
}

func newDeletionSet() *deletionSet {
	return &deletionSet{seen: make(map[string]bool)}
}

func (d *deletionSet) add(path string) {
	if d.seen[path] {
		return
	}
	d.seen[path] = true
	d.ordered = append(d.ordered, path)
}

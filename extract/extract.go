package extract

import (
	"encoding/xml"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/c360/incidentwatch/errors"
	"github.com/c360/incidentwatch/incident"
)

// Namespace is the CAD call export document namespace.
const Namespace = "http://www.newworldsystems.com/Aegis/CAD/Peripheral/CallExport/2011/02"

// callExport mirrors the export document. Unknown elements are ignored by
// the decoder; missing optional elements decode to zero values.
type callExport struct {
	XMLName        xml.Name        `xml:"CallExport"`
	CallNumber     string          `xml:"CallNumber"`
	CloseDateTime  string          `xml:"CloseDateTime"`
	CreateDateTime string          `xml:"CreateDateTime"`
	Location       exportLocation  `xml:"Location"`
	AgencyContexts []exportContext `xml:"AgencyContexts>AgencyContext"`
	AssignedUnits  []exportUnit    `xml:"AssignedUnits>Unit"`
}

type exportLocation struct {
	FullAddress string `xml:"FullAddress"`
}

type exportContext struct {
	AgencyType string `xml:"AgencyType"`
	CallType   string `xml:"CallType"`
	Status     string `xml:"Status"`
}

type exportUnit struct {
	UnitNumber      string `xml:"UnitNumber"`
	Type            string `xml:"Type"`
	EnrouteDateTime string `xml:"EnrouteDateTime"`
	ArriveDateTime  string `xml:"ArriveDateTime"`
	ClearDateTime   string `xml:"ClearDateTime"`
	Jurisdiction    string `xml:"Jurisdiction"`
	IsPrimary       string `xml:"IsPrimary"`
}

// Extractor parses call export files into incident snapshots. It is
// stateless apart from its policy table and safe for concurrent use.
type Extractor struct {
	excludedUnitTypes map[string]bool
	logger            *slog.Logger
	titler            cases.Caser

	// now is the time source used to anchor time-only timestamps.
	now func() time.Time
}

// NewExtractor creates an Extractor. excludedUnitTypes holds lower-cased
// unit type names dropped at extraction time.
func NewExtractor(excludedUnitTypes map[string]bool, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		excludedUnitTypes: excludedUnitTypes,
		logger:            logger,
		titler:            cases.Title(language.AmericanEnglish),
		now:               time.Now,
	}
}

// ExtractFile parses one export file into a snapshot. The call number is the
// only required field: its absence, an empty file, or an unparsable document
// yield a typed error. Everything else is best effort.
func (e *Extractor) ExtractFile(path string) (*incident.Snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WrapTransient(err, "Extractor", "ExtractFile", "stat "+path)
	}
	if info.Size() == 0 {
		return nil, errors.WrapInvalid(errors.ErrEmptyFile, "Extractor", "ExtractFile", "read "+path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapTransient(err, "Extractor", "ExtractFile", "read "+path)
	}

	return e.Extract(data, path)
}

// Extract parses raw export document bytes. The path is used for logging
// context only.
func (e *Extractor) Extract(data []byte, path string) (*incident.Snapshot, error) {
	var doc callExport
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapInvalid(errors.ErrMalformedXML, "Extractor", "Extract", "decode "+path)
	}

	if doc.CallNumber == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingCallNumber, "Extractor", "Extract", "decode "+path)
	}

	snap := &incident.Snapshot{
		CallNumber: doc.CallNumber,
		CloseText:  doc.CloseDateTime,
		Location:   doc.Location.FullAddress,
	}

	snap.CreateTime = e.parseTimestamp(doc.CreateDateTime, path, "CreateDateTime")

	// Coordinates travel inside FullAddress. When both tokens are present the
	// address is reduced to its grouping form.
	lat, lon := ExtractCoordinates(snap.Location)
	if lat != "" && lon != "" {
		snap.Latitude = lat
		snap.Longitude = lon
		snap.Location = NormalizeLocation(snap.Location)
	}

	for _, ctx := range doc.AgencyContexts {
		snap.Contexts = append(snap.Contexts, incident.AgencyContext{
			AgencyType: strings.ToLower(ctx.AgencyType),
			CallType:   ctx.CallType,
			Status:     ctx.Status,
		})
	}
	if len(snap.Contexts) > 0 {
		snap.CallType = snap.Contexts[0].CallType
	}

	for _, unit := range doc.AssignedUnits {
		if unit.Type == "" {
			// Unit-level failure only: the entry is skipped, not the file.
			e.logger.Warn("skipping unit without a type",
				"file", path,
				"call_number", doc.CallNumber,
				"unit_id", unit.UnitNumber)
			continue
		}

		state := incident.UnitState{
			UnitID:       unit.UnitNumber,
			UnitType:     e.titler.String(strings.ToLower(unit.Type)),
			Jurisdiction: unit.Jurisdiction,
			Enroute:      e.parseTimestamp(unit.EnrouteDateTime, path, "EnrouteDateTime"),
			Arrive:       e.parseTimestamp(unit.ArriveDateTime, path, "ArriveDateTime"),
			Clear:        e.parseTimestamp(unit.ClearDateTime, path, "ClearDateTime"),
			Primary:      unit.IsPrimary == "true",
		}

		if state.Primary {
			primary := state
			snap.PrimaryUnit = &primary
		}

		if e.excludedUnitTypes[strings.ToLower(state.UnitType)] {
			continue
		}
		snap.Units = append(snap.Units, state)
	}

	return snap, nil
}

// parseTimestamp parses a raw timestamp, logging parse failures as non-fatal
// and returning nil for them.
func (e *Extractor) parseTimestamp(raw, path, field string) *time.Time {
	t, err := ParseDateTime(raw, e.now())
	if err != nil {
		e.logger.Warn("unparsable timestamp in export file",
			"file", path,
			"field", field,
			"value", raw)
		return nil
	}
	return t
}

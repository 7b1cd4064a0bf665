package extract

import (
	"regexp"
	"strings"
)

// addressNumberRe matches street-number-like token runs: a leading digit run
// optionally followed by an apartment/suite/unit/room marker and a second
// digit run, or a bare marker token on its own.
var addressNumberRe = regexp.MustCompile(
	`(?i)\b\d+\s*(?:apt|apartment|suite|ste|unit|#|lot|rear|room|rm)?\s*\d*\b|\b(?i:apt|apartment|suite|ste|unit|#|lot|rear|room|rm)\b`)

// Coordinate tokens embedded in FullAddress by the export.
var (
	latRe = regexp.MustCompile(`LAT:\s*([-+]?[0-9]*\.?[0-9]+)`)
	lonRe = regexp.MustCompile(`LON:\s*([-+]?[0-9]*\.?[0-9]+)`)
)

// StripAddressNumbers removes street-number-like tokens and
// apartment/suite/unit/room markers from an address.
func StripAddressNumbers(address string) string {
	return strings.TrimSpace(addressNumberRe.ReplaceAllString(address, ""))
}

// ExtractCoordinates scans an address for LAT:/LON: decimal tokens. Both
// must be present for a result; otherwise two empty strings are returned.
func ExtractCoordinates(address string) (lat, lon string) {
	latMatch := latRe.FindStringSubmatch(address)
	lonMatch := lonRe.FindStringSubmatch(address)
	if latMatch == nil || lonMatch == nil {
		return "", ""
	}
	return latMatch[1], lonMatch[1]
}

// splitCoordinates separates the street text from the trailing LAT:/LON:
// coordinate text so the coordinate digits are not eaten by number stripping.
func splitCoordinates(address string) (street, coords string) {
	loc := latRe.FindStringIndex(address)
	if loc == nil {
		return address, ""
	}
	street = strings.TrimRight(strings.TrimSpace(address[:loc[0]]), ",")
	coords = strings.TrimSpace(address[loc[0]:])
	return street, coords
}

// NormalizeLocation reduces an address that carries coordinates to its
// grouping form: number-like tokens stripped, the first comma-delimited
// segment (the house-number segment) dropped, coordinate text preserved.
func NormalizeLocation(address string) string {
	street, coords := splitCoordinates(address)
	stripped := StripAddressNumbers(street)

	parts := strings.Split(stripped, ",")
	if len(parts) > 1 {
		rest := make([]string, 0, len(parts)-1)
		for _, p := range parts[1:] {
			if p = strings.TrimSpace(p); p != "" {
				rest = append(rest, p)
			}
		}
		stripped = strings.Join(rest, ", ")
	}

	if coords == "" {
		return stripped
	}
	if stripped == "" {
		return coords
	}
	return stripped + ", " + coords
}

// DisplayLocation builds the address shown on the dashboard: number-like
// tokens stripped, annotated with a LAT:/LON: suffix when coordinates are
// present.
func DisplayLocation(location, lat, lon string) string {
	street, _ := splitCoordinates(location)
	display := strings.TrimRight(StripAddressNumbers(street), ", ")
	if lat == "" || lon == "" {
		return display
	}
	if display == "" {
		return "LAT: " + lat + ", LON: " + lon
	}
	return display + ", LAT: " + lat + ", LON: " + lon
}

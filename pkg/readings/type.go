package readings

import "time"

// Reading is a single raw observation from an external source.
// Value stays a string until parsed so that "unknown"/"unavailable"
// markers survive the trip through any backend.
type Reading struct {
	Value       string
	Unit        string
	LastChanged time.Time
}

// SourceReader resolves a source id to its latest reading.
// The second return is false when the source is not known to the backend.
type SourceReader interface {
	Read(sourceID string) (Reading, bool)
}

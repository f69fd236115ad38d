package models

import "strconv"

// PlaceHere is the reserved place key for the caller's inferred location.
// The upstream feed endpoint resolves it from the requesting IP.
const PlaceHere = "here"

// NormalizePlace maps an empty place to PlaceHere. Nothing else is
// normalized: keys compare by exact string, so "Berlin" and "berlin"
// address distinct slots.
func NormalizePlace(place string) string {
	if place == "" {
		return PlaceHere
	}
	return place
}

// Sub-index keys used by the upstream iaqi table.
const (
	PollutantPM25 = "pm25"
	PollutantPM10 = "pm10"
	PollutantNO2  = "no2"
	PollutantCO   = "co"
	MeteoTemp     = "t"
	MeteoHumidity = "h"
	MeteoPressure = "p"
	MeteoWind     = "w"
)

// Attribution credits one data source for a reading.
type Attribution struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Reading is one air-quality observation for a place.
// AQI is nil when the upstream index is absent (reported as "-").
type Reading struct {
	Name         string             `json:"name"`
	Geo          []float64          `json:"geo,omitempty"` // [lat, lon]
	AQI          *int               `json:"aqi,omitempty"`
	Dominant     string             `json:"dominant,omitempty"`
	IAQI         map[string]float64 `json:"iaqi,omitempty"`
	ObservedAt   string             `json:"observedAt,omitempty"` // station-local time string
	UTCOffset    string             `json:"utcOffset,omitempty"`  // e.g. "+08:00"
	ObservedUnix int64              `json:"observedUnix,omitempty"`
	URL          string             `json:"url,omitempty"`
	Attributions []Attribution      `json:"attributions,omitempty"`
}

// Coordinates returns the reading's latitude and longitude.
// ok is false when the upstream geo pair is missing or malformed.
func (r *Reading) Coordinates() (lat, lon float64, ok bool) {
	if r == nil || len(r.Geo) < 2 {
		return 0, 0, false
	}
	return r.Geo[0], r.Geo[1], true
}

// SubIndex returns the per-pollutant sub-index (or raw meteo value) for key.
func (r *Reading) SubIndex(key string) (float64, bool) {
	if r == nil {
		return 0, false
	}
	v, ok := r.IAQI[key]
	return v, ok
}

// Entry is the value cached per place key: either a Reading or a fault
// description recorded from an upstream application error. Entries are
// immutable once stored; replacing one is a full overwrite.
type Entry struct {
	Reading *Reading `json:"reading,omitempty"`
	Fault   string   `json:"fault,omitempty"`
}

// ReadingEntry wraps a successful reading as a cache entry.
func ReadingEntry(r *Reading) Entry {
	return Entry{Reading: r}
}

// FaultEntry wraps an upstream error description as a cache entry.
func FaultEntry(desc string) Entry {
	return Entry{Fault: desc}
}

// IsFault reports whether the entry records an upstream error rather
// than a reading.
func (e Entry) IsFault() bool {
	return e.Reading == nil
}

// Feed is the transport envelope for one feed fetch: a Reading when the
// upstream status is "ok", an error message when it is "error".
type Feed struct {
	Status  string
	Reading *Reading
	Message string
}

// OK reports whether the upstream answered with a usable reading.
func (f Feed) OK() bool {
	return f.Status == "ok" && f.Reading != nil
}

// Station is one candidate from a station search. Search results are a
// read-only lookup and are never cached.
type Station struct {
	UID  int       `json:"uid"`
	AQI  string    `json:"aqi"` // upstream sends "-" when no current index
	Name string    `json:"name"`
	Geo  []float64 `json:"geo,omitempty"`
	URL  string    `json:"url,omitempty"`
}

// PlaceKey returns the station's feed place key ("@<uid>").
func (s Station) PlaceKey() string {
	return "@" + strconv.Itoa(s.UID)
}

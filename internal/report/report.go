package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zzkt/aqi/internal/models"
	"github.com/zzkt/aqi/internal/observability"
	"github.com/zzkt/aqi/internal/service"
)

// Report kinds accepted by the dispatcher.
const (
	KindBrief = "brief"
	KindFull  = "full"
)

// ErrUnknownKind reports an unrecognized report kind. It is a usage
// warning, not a failure: the dispatcher falls back to the full render.
var ErrUnknownKind = errors.New("unknown report kind")

// Formatter renders resolved entries as text. Every entry point resolves
// through the pipeline first, so a render always reflects the cache
// policy in force.
type Formatter struct {
	pipeline *service.Pipeline
	logger   *zap.Logger
}

func NewFormatter(pipeline *service.Pipeline, logger *zap.Logger) *Formatter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Formatter{pipeline: pipeline, logger: logger}
}

// Report renders place according to kind, defaulting to the full render.
// An unrecognized kind is logged and falls back to full.
func (f *Formatter) Report(ctx context.Context, place, kind string) (string, error) {
	switch kind {
	case KindBrief:
		return f.Brief(ctx, place)
	case KindFull, "":
		return f.Full(ctx, place)
	default:
		f.logger.Warn("unknown report kind, rendering full",
			zap.String("kind", kind),
			zap.Error(fmt.Errorf("%w: %q", ErrUnknownKind, kind)))
		return f.Full(ctx, place)
	}
}

// Brief renders the one-line summary:
//
//	Air Quality Index in <name> is <aqi> and the dominant pollutant is <pol>
//
// with a " (cached)" suffix when the pipeline serves cached reads.
func (f *Formatter) Brief(ctx context.Context, place string) (string, error) {
	key := models.NormalizePlace(place)

	entry, ok, err := f.pipeline.Resolve(ctx, place)
	if !ok {
		_ = err // already logged by the pipeline
		return "no data (" + key + ")", nil
	}
	if entry.IsFault() {
		observability.FaultsServedTotal.Inc()
		return entry.Fault + " (" + key + ")", nil
	}

	r := entry.Reading
	if r.Name == "" {
		return "", fmt.Errorf("%w: name of %s", service.ErrMissingField, key)
	}
	if r.AQI == nil {
		return "", fmt.Errorf("%w: aqi of %s", service.ErrMissingField, key)
	}

	s := fmt.Sprintf("Air Quality Index in %s is %d and the dominant pollutant is %s",
		r.Name, *r.AQI, r.Dominant)
	return s + f.cachedSuffix(), nil
}

// Full renders the multi-line report. Absent optional fields render empty
// after their label; a reading without a name or overall index is
// malformed and returns an error instead of a blank render.
func (f *Formatter) Full(ctx context.Context, place string) (string, error) {
	key := models.NormalizePlace(place)

	entry, ok, err := f.pipeline.Resolve(ctx, place)
	if !ok {
		_ = err
		return "no data (" + key + ")", nil
	}
	if entry.IsFault() {
		observability.FaultsServedTotal.Inc()
		return entry.Fault + " (" + key + ")", nil
	}

	r := entry.Reading
	if r.Name == "" {
		return "", fmt.Errorf("%w: name of %s", service.ErrMissingField, key)
	}
	if r.AQI == nil {
		return "", fmt.Errorf("%w: aqi of %s", service.ErrMissingField, key)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Air quality in %s\n", r.Name)
	fmt.Fprintf(&b, "Air Quality Index: %d\n", *r.AQI)
	fmt.Fprintf(&b, "Measured: %s (UTC%s)\n", r.ObservedAt, r.UTCOffset)
	fmt.Fprintf(&b, "Dominant pollutant: %s\n", r.Dominant)
	fmt.Fprintf(&b, "PM2.5: %s\n", subIndex(r, models.PollutantPM25))
	fmt.Fprintf(&b, "PM10: %s\n", subIndex(r, models.PollutantPM10))
	fmt.Fprintf(&b, "NO2: %s\n", subIndex(r, models.PollutantNO2))
	fmt.Fprintf(&b, "CO: %s\n", subIndex(r, models.PollutantCO))
	fmt.Fprintf(&b, "Temperature: %s°C\n", subIndex(r, models.MeteoTemp))
	fmt.Fprintf(&b, "Humidity: %s%%\n", subIndex(r, models.MeteoHumidity))
	fmt.Fprintf(&b, "Pressure: %s hPa\n", subIndex(r, models.MeteoPressure))
	fmt.Fprintf(&b, "Wind: %s m/s\n", subIndex(r, models.MeteoWind))
	fmt.Fprintf(&b, "Further details: %s", r.URL)
	if line := sourcesLine(r.Attributions); line != "" {
		b.WriteString("\n")
		b.WriteString(line)
	}

	return b.String() + f.cachedSuffix(), nil
}

func (f *Formatter) cachedSuffix() string {
	if f.pipeline.CacheEnabled() {
		return " (cached)"
	}
	return ""
}

// subIndex formats one sub-index value, rendering empty when the reading
// does not carry it.
func subIndex(r *models.Reading, key string) string {
	v, ok := r.SubIndex(key)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%g", v)
}

// sourcesLine renders up to two attribution names; none yields no line.
func sourcesLine(attrs []models.Attribution) string {
	if len(attrs) == 0 {
		return ""
	}
	names := make([]string, 0, 2)
	for _, a := range attrs {
		if a.Name == "" {
			continue
		}
		names = append(names, a.Name)
		if len(names) == 2 {
			break
		}
	}
	if len(names) == 0 {
		return ""
	}
	return "Sources: " + strings.Join(names, "; ")
}

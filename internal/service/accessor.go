package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/zzkt/aqi/internal/models"
)

// ErrMissingField reports that a resolved entry cannot supply the field an
// accessor projects: the entry is a fault, absent, or lacks the field.
var ErrMissingField = errors.New("missing field")

// Accessor projects one typed field out of the entry a place resolves to.
type Accessor[T any] func(ctx context.Context, place string) (T, error)

// NewAccessor builds an Accessor for field over pipeline p. Each call
// resolves place under the pipeline's cache policy and applies project to
// the reading; project reports ok=false when the field is absent.
func NewAccessor[T any](p *Pipeline, field string, project func(models.Reading) (T, bool)) Accessor[T] {
	return func(ctx context.Context, place string) (T, error) {
		var zero T
		key := models.NormalizePlace(place)

		entry, ok, err := p.Resolve(ctx, place)
		if !ok {
			if err != nil {
				return zero, err
			}
			return zero, fmt.Errorf("%w: %s of %s", ErrMissingField, field, key)
		}
		if entry.IsFault() {
			return zero, fmt.Errorf("%w: %s of %s: %s", ErrMissingField, field, key, entry.Fault)
		}

		value, ok := project(*entry.Reading)
		if !ok {
			return zero, fmt.Errorf("%w: %s of %s", ErrMissingField, field, key)
		}
		return value, nil
	}
}

// CityAQI returns an accessor for the overall air quality index.
func CityAQI(p *Pipeline) Accessor[int] {
	return NewAccessor(p, "aqi", func(r models.Reading) (int, bool) {
		if r.AQI == nil {
			return 0, false
		}
		return *r.AQI, true
	})
}

// CityLonLat returns an accessor for the station coordinates, formatted
// as "lat, lon".
func CityLonLat(p *Pipeline) Accessor[string] {
	return NewAccessor(p, "geo", func(r models.Reading) (string, bool) {
		lat, lon, ok := (&r).Coordinates()
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%g, %g", lat, lon), true
	})
}

// CityName returns an accessor for the station display name.
func CityName(p *Pipeline) Accessor[string] {
	return NewAccessor(p, "name", func(r models.Reading) (string, bool) {
		if r.Name == "" {
			return "", false
		}
		return r.Name, true
	})
}

package geoip

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"

	"redemption-fraud-engine/internal/domain/fraud"
)

var (
	// ErrInvalidIP is returned for an address that does not parse
	ErrInvalidIP = errors.New("invalid ip address")
	// ErrNotFound is returned when the database has no country for the address
	ErrNotFound = errors.New("ip address not found in geo database")
)

// cityReader is the part of geoip2.Reader the resolver needs
type cityReader interface {
	City(ip net.IP) (*geoip2.City, error)
	Close() error
}

// Resolver maps IP addresses to locations with a MaxMind GeoIP2/GeoLite2 City database
type Resolver struct {
	reader cityReader
	logger *zap.Logger
}

// Open loads the city database at path
func Open(path string, logger *zap.Logger) (*Resolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database: %w", err)
	}
	return &Resolver{reader: reader, logger: logger.Named("geoip")}, nil
}

// Resolve returns the location of ip. Coordinates are left empty when the
// database only knows the country.
func (r *Resolver) Resolve(ctx context.Context, ip string) (*fraud.Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}
	if parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsUnspecified() {
		return nil, fmt.Errorf("%w: %s is not routable", ErrNotFound, ip)
	}

	record, err := r.reader.City(parsed)
	if err != nil {
		return nil, fmt.Errorf("geoip lookup failed: %w", err)
	}
	if record.Country.IsoCode == "" {
		return nil, ErrNotFound
	}

	loc := &fraud.Location{
		Country: strings.ToUpper(record.Country.IsoCode),
		City:    record.City.Names["en"],
	}
	if record.Location.Latitude != 0 || record.Location.Longitude != 0 {
		lat, lon := record.Location.Latitude, record.Location.Longitude
		loc.Latitude = &lat
		loc.Longitude = &lon
	}
	return loc, nil
}

// Close releases the database
func (r *Resolver) Close() error {
	return r.reader.Close()
}

package geoip

import (
	"context"
	"net"
	"testing"

	"github.com/oschwald/geoip2-golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubReader struct {
	record *geoip2.City
	calls  int
}

func (s *stubReader) City(net.IP) (*geoip2.City, error) {
	s.calls++
	return s.record, nil
}

func (s *stubReader) Close() error { return nil }

func austin() *geoip2.City {
	rec := &geoip2.City{}
	rec.Country.IsoCode = "us"
	rec.City.Names = map[string]string{"en": "Austin"}
	rec.Location.Latitude = 30.2672
	rec.Location.Longitude = -97.7431
	return rec
}

func TestResolver_Resolve(t *testing.T) {
	reader := &stubReader{record: austin()}
	r := &Resolver{reader: reader, logger: zaptest.NewLogger(t)}

	loc, err := r.Resolve(context.Background(), " 8.8.8.8 ")
	require.NoError(t, err)
	assert.Equal(t, "US:Austin", loc.Region())
	require.True(t, loc.HasCoordinates())
	assert.InDelta(t, 30.2672, *loc.Latitude, 1e-9)
}

func TestResolver_Rejects(t *testing.T) {
	reader := &stubReader{record: &geoip2.City{}}
	r := &Resolver{reader: reader, logger: zaptest.NewLogger(t)}
	ctx := context.Background()

	_, err := r.Resolve(ctx, "not-an-ip")
	assert.ErrorIs(t, err, ErrInvalidIP)

	_, err = r.Resolve(ctx, "10.0.0.1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, reader.calls)

	_, err = r.Resolve(ctx, "8.8.4.4")
	assert.ErrorIs(t, err, ErrNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = r.Resolve(cancelled, "8.8.8.8")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen_MissingDatabase(t *testing.T) {
	_, err := Open("/nonexistent/GeoLite2-City.mmdb", zaptest.NewLogger(t))
	assert.Error(t, err)
}

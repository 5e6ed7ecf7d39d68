// Package geo resolves remote IPs to country codes via a MaxMind database.
package geo

import (
	"log/slog"
	"net"
	"os"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// Resolver is the lookup oracle the normalizer consumes. Implementations
// return the ISO country code and whether a match was found.
type Resolver interface {
	CountryCode(ip string) (string, bool)
}

// MaxMindResolver resolves countries from a GeoLite2 database file.
type MaxMindResolver struct {
	reader *geoip2.Reader
	logger *slog.Logger
}

// NewMaxMindResolver opens the GeoLite2 database at path. A missing or empty
// path is not an error: lookups simply never match, and lines without an
// inline country code get dropped per the ingestion policy.
func NewMaxMindResolver(path string, logger *slog.Logger) (*MaxMindResolver, error) {
	r := &MaxMindResolver{logger: logger}

	if path == "" {
		logger.Debug("GeoIP database path not configured - geo lookups disabled")
		return r, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("GeoLite2 database not found - geo lookups disabled",
			slog.String("path", path),
			slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		return r, nil
	}

	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}

	logger.Info("GeoLite2 database initialized successfully", slog.String("path", path))
	r.reader = reader
	return r, nil
}

// CountryCode implements Resolver.
func (r *MaxMindResolver) CountryCode(ipAddress string) (string, bool) {
	if r.reader == nil {
		return "", false
	}

	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return "", false
	}

	record, err := r.reader.Country(ip)
	if err != nil {
		r.logger.Debug("Geo lookup failed",
			slog.String("ip_address", ipAddress),
			slog.Any("error", err))
		return "", false
	}

	code := record.Country.IsoCode
	if code == "" || code == "--" {
		return "", false
	}
	return strings.ToUpper(code), true
}

// Close releases the underlying database.
func (r *MaxMindResolver) Close() {
	if r.reader != nil {
		r.reader.Close()
	}
}

// StaticResolver is a fixed-map Resolver for tests and local setups.
type StaticResolver map[string]string

// CountryCode implements Resolver.
func (s StaticResolver) CountryCode(ip string) (string, bool) {
	code, ok := s[ip]
	return code, ok
}

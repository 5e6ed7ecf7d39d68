package visits

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pixelry/internal/devices"
	"pixelry/internal/geo"
	"pixelry/internal/privacy"
)

// Edge-log column order. A literal "-" in any column means absent.
var logColumns = [12]string{
	"cache_status",
	"status_code",
	"timestamp",
	"bytes_sent",
	"pull_zone_id",
	"remote_ip",
	"referer_url",
	"url",
	"edge_location",
	"user_agent",
	"unique_request_id",
	"country_code",
}

const (
	colTimestamp  = 2
	colRemoteIP   = 5
	colRefererURL = 6
	colURL        = 7
	colEdge       = 8
	colUserAgent  = 9
	colRequestID  = 10
	colCountry    = 11
)

// minLineLength rejects obviously truncated lines before any parsing.
const minLineLength = 4

// Normalization skip reasons. None of these are operational errors: the
// pipeline drops the line and moves on.
var (
	ErrMalformedLine   = errors.New("visits: malformed log line")
	ErrNotBeacon       = errors.New("visits: line does not target the beacon endpoint")
	ErrUnresolvableGeo = errors.New("visits: no country match for remote ip")
)

// EncryptionError marks a record that could not be protected. The record is
// dropped; it must never reach storage with plaintext identifying fields.
type EncryptionError struct {
	Err error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("visits: protecting record failed: %v", e.Err)
}

func (e *EncryptionError) Unwrap() error {
	return e.Err
}

// beaconPaths are the request paths that identify a hit.
var beaconPaths = map[string]bool{
	"/o":     true,
	"/o.png": true,
}

// Normalizer turns one raw edge-log line into zero or one Visit. It holds no
// mutable state and is safe for concurrent use.
type Normalizer struct {
	resolver  geo.Resolver
	protector *privacy.Protector
	classify  func(string) devices.Classification
	logger    *slog.Logger
}

// NewNormalizer wires the normalizer with its collaborators.
func NewNormalizer(resolver geo.Resolver, protector *privacy.Protector, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		resolver:  resolver,
		protector: protector,
		classify:  devices.Classify,
		logger:    logger,
	}
}

// Normalize parses a single pipe-delimited log line. A nil error yields a
// total Visit: every optional attribute carries its documented default and
// identifying fields have already been protected.
func (n *Normalizer) Normalize(line string) (*Visit, error) {
	if len(line) < minLineLength {
		return nil, ErrMalformedLine
	}

	fields := splitColumns(line)

	rawURL := fields[colURL]
	target, err := url.Parse(rawURL)
	if err != nil || !beaconPaths[target.Path] {
		return nil, ErrNotBeacon
	}

	v := &Visit{
		ID:           fields[colRequestID],
		EdgeLocation: fields[colEdge],
		CountryCode:  fields[colCountry],
	}
	if v.ID == "" {
		return nil, ErrMalformedLine
	}

	// When the beacon is proxied through a CDN the true navigated URL rides
	// in the href parameter; it replaces the raw URL for everything derived
	// below, and the remaining beacon parameters are only trusted alongside it.
	refererRaw := fields[colRefererURL]
	token := ""
	if query := target.Query(); query.Get("href") != "" {
		token = query.Get("key")
		v.Headless = parseIntOrZero(query.Get("headless"))
		v.Width = parseIntOrZero(query.Get("width"))
		v.Bot = parseIntOrZero(query.Get("bot"))
		v.Event = query.Get("event")
		v.Value = query.Get("value")
		v.Lang = query.Get("lang")
		v.SessionID = query.Get("sid")
		v.Session = parseIntOrZero(query.Get("session"))
		v.IsNew = parseIntOrZero(query.Get("new"))
		v.SessionLength = parseFloatOrZero(query.Get("time"))
		v.Pageviews = parseIntOrZero(query.Get("views"))
		v.LoadTime = parseFloatOrZero(query.Get("load"))
		if v.LoadTime < 0 {
			v.LoadTime = 0
		}

		rawURL = query.Get("href")
		refererRaw = query.Get("referrer")
	}

	ms, err := strconv.ParseInt(fields[colTimestamp], 10, 64)
	if err != nil {
		return nil, ErrMalformedLine
	}
	v.Timestamp = ms / 1000
	at := time.UnixMilli(ms).UTC()
	v.Date = at.Format("2006-01-02")
	v.Hour = at.Hour()

	// The user-agent string feeds the classifier and is not retained.
	if ua := fields[colUserAgent]; ua != "" {
		c := n.classify(ua)
		v.DeviceType = c.DeviceType
		v.DeviceFamily = c.DeviceFamily
		v.Browser = c.Browser
		v.BrowserMajorVersion = c.BrowserMajor
		v.BrowserMinorVersion = c.BrowserMinor
		v.OS = c.OS
		v.OSMajorVersion = c.OSMajor
		v.OSMinorVersion = c.OSMinor
	}

	if refererRaw != "" {
		if ref, err := url.Parse(refererRaw); err == nil && ref.Host != "" {
			v.RefererProtocol = ref.Scheme
			v.RefererHost = ref.Host
			v.RefererPathname = ref.Path
			v.RefererURL = refererRaw
		}
	}

	page, err := url.Parse(rawURL)
	if err != nil || page.Host == "" {
		return nil, ErrMalformedLine
	}
	v.Protocol = page.Scheme
	v.Pathname = page.Path
	v.Host = strings.TrimPrefix(page.Host, "www.")

	// UTM attribution comes from the target page's query string only.
	pageQuery := page.Query()
	v.UTMSource = pageQuery.Get("utm_source")
	v.UTMMedium = pageQuery.Get("utm_medium")
	v.UTMContent = pageQuery.Get("utm_content")
	v.UTMCampaign = pageQuery.Get("utm_campaign")
	v.UTMTerm = pageQuery.Get("utm_term")

	v.IP = fields[colRemoteIP]
	if v.IP != "" && v.CountryCode == "" {
		code, ok := n.resolver.CountryCode(v.IP)
		if !ok {
			return nil, ErrUnresolvableGeo
		}
		v.CountryCode = code
	}

	if v.Event == "" {
		v.Event = "pageview"
	}

	// The CDN-observed request URL served its purpose; only attributes
	// derived from the target page are retained.
	v.URL = ""

	if err := n.applyPrivacy(v, token); err != nil {
		return nil, &EncryptionError{Err: err}
	}

	n.logger.Debug("Normalized hit",
		slog.String("id", v.ID),
		slog.String("date", v.Date),
		slog.Bool("keyed", token != ""))
	return v, nil
}

// applyPrivacy runs last: with a tenant token the identifying fields become
// deterministic ciphertext and the IP a keyed one-way hash; without one the
// fields stay clear and the IP is irreversibly truncated.
func (n *Normalizer) applyPrivacy(v *Visit, token string) error {
	if token == "" {
		v.IP = privacy.Anonymize(v.IP)
		return nil
	}

	cipher, err := n.protector.Keyed(token)
	if err != nil {
		return err
	}

	for _, field := range []*string{
		&v.Pathname,
		&v.Host,
		&v.RefererPathname,
		&v.RefererHost,
		&v.RefererURL,
		&v.UTMSource,
		&v.UTMMedium,
		&v.UTMContent,
		&v.UTMCampaign,
		&v.UTMTerm,
	} {
		if *field == "" {
			continue
		}
		encrypted, err := cipher.Encrypt(*field)
		if err != nil {
			return err
		}
		*field = encrypted
	}

	v.IP = n.protector.HashIP(v.IP)
	return nil
}

// splitColumns maps the pipe-delimited line onto the fixed column table,
// padding missing trailing columns and blanking "-" placeholders.
func splitColumns(line string) [len(logColumns)]string {
	var fields [len(logColumns)]string
	for i, part := range strings.Split(line, "|") {
		if i >= len(logColumns) {
			break
		}
		if part == "-" {
			continue
		}
		fields[i] = part
	}
	return fields
}

func parseIntOrZero(s string) int {
	value, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return value
}

func parseFloatOrZero(s string) float64 {
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return value
}

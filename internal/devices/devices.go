// Package devices classifies user-agent strings into a device taxonomy plus
// browser and OS version tuples, using an embedded regex database.
package devices

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

// Device types. Laptop detection has no reliable user-agent signal, so
// laptops always classify as desktop.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

// Classification is the result of parsing one user-agent string.
type Classification struct {
	DeviceType   string
	DeviceFamily string
	Browser      string
	BrowserMajor string
	BrowserMinor string
	OS           string
	OSMajor      string
	OSMinor      string
}

//go:embed database/browsers.yml
//go:embed database/oss.yml
//go:embed database/devices.yml
var databaseFiles embed.FS

// ClientEntry describes one browser or OS signature.
type ClientEntry struct {
	Regex   string `yaml:"regex"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// DeviceEntry describes one phone or tablet signature.
type DeviceEntry struct {
	Regex  string `yaml:"regex"`
	Family string `yaml:"family"`
}

type deviceDatabase struct {
	Phones  []DeviceEntry `yaml:"phones"`
	Tablets []DeviceEntry `yaml:"tablets"`
}

// Compiled regex cache
type regexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func newRegexCache() *regexCache {
	return &regexCache{
		compiled: make(map[string]*pcre.Regexp),
	}
}

func (rc *regexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	// Double-check pattern
	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}

	regex, err := pcre.Compile(pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

var (
	parser     *classifierParser
	parserOnce sync.Once
)

type classifierParser struct {
	browsers []ClientEntry
	oss      []ClientEntry
	phones   []DeviceEntry
	tablets  []DeviceEntry
	cache    *regexCache
}

func getParser() *classifierParser {
	parserOnce.Do(func() {
		parser = &classifierParser{cache: newRegexCache()}

		if data, err := databaseFiles.ReadFile("database/browsers.yml"); err == nil {
			if err := yaml.Unmarshal(data, &parser.browsers); err != nil {
				fmt.Printf("Error parsing browsers.yml: %v\n", err)
			}
		}

		if data, err := databaseFiles.ReadFile("database/oss.yml"); err == nil {
			if err := yaml.Unmarshal(data, &parser.oss); err != nil {
				fmt.Printf("Error parsing oss.yml: %v\n", err)
			}
		}

		if data, err := databaseFiles.ReadFile("database/devices.yml"); err == nil {
			var db deviceDatabase
			if err := yaml.Unmarshal(data, &db); err != nil {
				fmt.Printf("Error parsing devices.yml: %v\n", err)
			} else {
				parser.phones = db.Phones
				parser.tablets = db.Tablets
			}
		}
	})
	return parser
}

func (p *classifierParser) parseClient(entries []ClientEntry, userAgent string) (string, string) {
	for _, entry := range entries {
		regex, err := p.cache.get(entry.Regex)
		if err != nil {
			continue
		}
		matches := regex.FindStringSubmatch(userAgent)
		if len(matches) == 0 {
			continue
		}

		version := entry.Version
		for i, match := range matches[1:] {
			placeholder := fmt.Sprintf("$%d", i+1)
			version = strings.ReplaceAll(version, placeholder, match)
		}
		return entry.Name, version
	}
	return "Unknown", ""
}

func (p *classifierParser) matchDevice(entries []DeviceEntry, userAgent string) (string, bool) {
	for _, entry := range entries {
		if regex, err := p.cache.get(entry.Regex); err == nil {
			if regex.MatchString(userAgent) {
				return entry.Family, true
			}
		}
	}
	return "", false
}

// Classify parses a user-agent string. Device-type priority is strict: phones
// are tested first, tablets second, and everything else is desktop.
func Classify(userAgent string) Classification {
	p := getParser()

	browser, browserVersion := p.parseClient(p.browsers, userAgent)
	os, osVersion := p.parseClient(p.oss, userAgent)

	c := Classification{
		DeviceType:   DeviceDesktop,
		DeviceFamily: "Other",
		Browser:      browser,
		OS:           os,
	}
	c.BrowserMajor, c.BrowserMinor = splitVersion(browserVersion)
	c.OSMajor, c.OSMinor = splitVersion(osVersion)

	if family, ok := p.matchDevice(p.phones, userAgent); ok {
		c.DeviceType = DeviceMobile
		c.DeviceFamily = family
		return c
	}
	if family, ok := p.matchDevice(p.tablets, userAgent); ok {
		c.DeviceType = DeviceTablet
		c.DeviceFamily = family
		return c
	}

	// Fallback for phones the signature list misses; "Mobi" covers Mobile
	// and Mobile Safari variants without catching iPad's Mobile/ token.
	if strings.Contains(userAgent, "Mobi") && !strings.Contains(userAgent, "iPad") {
		c.DeviceType = DeviceMobile
		c.DeviceFamily = "Generic Phone"
	}

	return c
}

func splitVersion(version string) (string, string) {
	if version == "" {
		return "", ""
	}
	parts := strings.SplitN(version, ".", 3)
	major := parts[0]
	minor := ""
	if len(parts) > 1 {
		minor = parts[1]
	}
	// Unfilled capture placeholders mean the regex had no such group.
	if strings.HasPrefix(major, "$") {
		major = ""
	}
	if strings.HasPrefix(minor, "$") {
		minor = ""
	}
	return major, minor
}

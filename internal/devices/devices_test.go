package devices

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	uaIPhone        = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1"
	uaIPad          = "Mozilla/5.0 (iPad; CPU OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1"
	uaAndroidPhone  = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
	uaAndroidTablet = "Mozilla/5.0 (Linux; Android 13; SM-X700) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36"
	uaWindowsChrome = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.71 Safari/537.36"
	uaMacFirefox    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0"
)

func TestClassifyDeviceType(t *testing.T) {
	tests := []struct {
		name       string
		userAgent  string
		deviceType string
	}{
		{"iphone is mobile", uaIPhone, DeviceMobile},
		{"android phone is mobile", uaAndroidPhone, DeviceMobile},
		{"ipad is tablet", uaIPad, DeviceTablet},
		{"android tablet is tablet", uaAndroidTablet, DeviceTablet},
		{"windows desktop", uaWindowsChrome, DeviceDesktop},
		{"mac desktop", uaMacFirefox, DeviceDesktop},
		{"empty is desktop", "", DeviceDesktop},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := Classify(tc.userAgent)
			assert.Equal(t, tc.deviceType, c.DeviceType)
		})
	}
}

func TestClassifyPhoneBeatsTablet(t *testing.T) {
	// A UA carrying both phone and tablet markers classifies as mobile
	// because phone signatures are evaluated first.
	ua := "Mozilla/5.0 (Linux; Android 13; Tablet; Pixel 8) Chrome/120.0.0.0 Mobile Safari/537.36"
	c := Classify(ua)
	assert.Equal(t, DeviceMobile, c.DeviceType)
}

func TestClassifyBrowser(t *testing.T) {
	c := Classify(uaWindowsChrome)
	assert.Equal(t, "Chrome", c.Browser)
	assert.Equal(t, "120", c.BrowserMajor)
	assert.Equal(t, "0", c.BrowserMinor)

	c = Classify(uaMacFirefox)
	assert.Equal(t, "Firefox", c.Browser)
	assert.Equal(t, "121", c.BrowserMajor)
}

func TestClassifyOS(t *testing.T) {
	c := Classify(uaIPhone)
	assert.Equal(t, "iOS", c.OS)
	assert.Equal(t, "17", c.OSMajor)
	assert.Equal(t, "2", c.OSMinor)

	c = Classify(uaWindowsChrome)
	assert.Equal(t, "Windows", c.OS)
	assert.Equal(t, "10", c.OSMajor)

	c = Classify(uaAndroidPhone)
	assert.Equal(t, "Android", c.OS)
	assert.Equal(t, "14", c.OSMajor)
}

func TestClassifyDeviceFamily(t *testing.T) {
	assert.Equal(t, "iPhone", Classify(uaIPhone).DeviceFamily)
	assert.Equal(t, "iPad", Classify(uaIPad).DeviceFamily)
	assert.Equal(t, "Other", Classify(uaWindowsChrome).DeviceFamily)
}

func TestClassifyUnknownBrowser(t *testing.T) {
	c := Classify("curl/8.4.0")
	assert.Equal(t, "Unknown", c.Browser)
	assert.Equal(t, DeviceDesktop, c.DeviceType)
	assert.Empty(t, c.BrowserMajor)
}

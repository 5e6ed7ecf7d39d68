package visits

// Visit is one normalized analytics hit. The ID is supplied by the client
// (the CDN's unique request id, or a generated id for direct pings) and is the
// idempotency boundary: re-ingesting the same id is a no-op.
//
// Column names match the historical schema so existing stores keep working.
type Visit struct {
	ID                  string  `gorm:"primaryKey;column:id"`
	Date                string  `gorm:"column:date;index"`
	Timestamp           int64   `gorm:"column:ts;index"`
	Hour                int     `gorm:"column:hour;index"`
	IP                  string  `gorm:"column:ip;index"`
	URL                 string  `gorm:"column:url"`
	Event               string  `gorm:"column:event;index"`
	Value               string  `gorm:"column:value;index"`
	Protocol            string  `gorm:"column:protocol"`
	Pathname            string  `gorm:"column:pathname;index"`
	Host                string  `gorm:"column:host;index"`
	DeviceType          string  `gorm:"column:device_type;index"`
	DeviceFamily        string  `gorm:"column:device_family"`
	Browser             string  `gorm:"column:browser;index"`
	BrowserMajorVersion string  `gorm:"column:browser_major_version"`
	BrowserMinorVersion string  `gorm:"column:browser_minor_version"`
	OS                  string  `gorm:"column:os;index"`
	OSMajorVersion      string  `gorm:"column:os_major_version"`
	OSMinorVersion      string  `gorm:"column:os_minor_version"`
	CountryCode         string  `gorm:"column:country_code;index"`
	RefererProtocol     string  `gorm:"column:referer_protocol"`
	RefererHost         string  `gorm:"column:referer_host;index"`
	RefererPathname     string  `gorm:"column:referer_pathname;index"`
	RefererURL          string  `gorm:"column:referer_url;index"`
	Headless            int     `gorm:"column:headless;index"`
	Bot                 int     `gorm:"column:bot;index"`
	Width               int     `gorm:"column:width"`
	SessionLength       float64 `gorm:"column:session_length;index"`
	Pageviews           int     `gorm:"column:pageviews;index"`
	LoadTime            float64 `gorm:"column:load_time;index"`
	Lang                string  `gorm:"column:lang;index"`
	EdgeLocation        string  `gorm:"column:edge_location"`
	Session             int     `gorm:"column:session"`
	IsNew               int     `gorm:"column:is_new;index"`
	UTMSource           string  `gorm:"column:utm_source;index"`
	UTMMedium           string  `gorm:"column:utm_medium;index"`
	UTMContent          string  `gorm:"column:utm_content;index"`
	UTMCampaign         string  `gorm:"column:utm_campaign;index"`
	UTMTerm             string  `gorm:"column:utm_term;index"`
	SessionID           string  `gorm:"column:session_id;index"`
}

// TableName implements gorm's Tabler interface.
func (Visit) TableName() string {
	return "visits"
}

// Summary is a precomputed monthly aggregate document for one host.
// Data holds the serialized SummaryDocument; (Host, Date) is the replace key,
// Date being the "YYYY-MM" period.
type Summary struct {
	ID   string `gorm:"primaryKey;column:id"`
	Date string `gorm:"column:date;index"`
	Host string `gorm:"column:host;index"`
	Data string `gorm:"column:data"`
}

// TableName implements gorm's Tabler interface.
func (Summary) TableName() string {
	return "summaries"
}

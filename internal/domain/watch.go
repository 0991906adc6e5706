package domain

import "time"

// WatchMetadata describes the viewing context reported with watch.start.
type WatchMetadata struct {
	DeviceType string `json:"deviceType,omitempty"`
	Country    string `json:"country,omitempty"`
	Source     string `json:"source,omitempty"`
}

// WatchSession is one tracked viewing interval for a content slug.
type WatchSession struct {
	ContentSlug                 string
	StartedAt                   time.Time
	LastReportedDurationSeconds float64
	Metadata                    WatchMetadata
}

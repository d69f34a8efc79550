// Package types contains API payloads shared by the server and the device client.
package types

import "github.com/okian/mapthewalls/internal/domain/model"

// SpotView is a spot with its derived vote summary.
type SpotView struct {
	model.Spot
	Summary model.VoteSummary `json:"summary"`
}

// SpotList is the GET /spots response.
type SpotList struct {
	Spots []model.Spot `json:"spots"`
	Count int          `json:"count"`
}

// GPS is a location read from photo metadata.
type GPS struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PhotoUpload describes a stored photo.
type PhotoUpload struct {
	URL         string `json:"url"`
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
	Bytes       int    `json:"bytes"`
	Size        string `json:"size"`
	GPS         *GPS   `json:"gps,omitempty"`
}

// Stats is the GET /stats response.
type Stats struct {
	Spots                 int    `json:"spots"`
	PendingPhotoDeletions int    `json:"pending_photo_deletions"`
	CacheEnabled          bool   `json:"cache_enabled"`
	AdminEnabled          bool   `json:"admin_enabled"`
	Uptime                string `json:"uptime"`
}

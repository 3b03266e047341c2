package domain

// EditorialJob is the analysis queue message. The manuscript key doubles as
// the content address for every artifact the run produces.
type EditorialJob struct {
	ManuscriptKey string `json:"manuscriptKey"`
	Genre         string `json:"genre"`
	StyleGuide    string `json:"styleGuide,omitempty"`
	ReportID      string `json:"reportId"`
}

// AssetJob is the asset queue message, emitted by the editorial orchestrator
// after a successful run or by an explicit re-trigger.
type AssetJob struct {
	ManuscriptKey string         `json:"manuscriptKey"`
	ReportID      string         `json:"reportId"`
	Genre         string         `json:"genre"`
	AuthorData    map[string]any `json:"authorData,omitempty"`
	SeriesData    map[string]any `json:"seriesData,omitempty"`
}

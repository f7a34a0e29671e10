package news

// Stats summarizes stored articles for the ops API.
type Stats struct {
	Total         int64 `json:"total"`
	Pending       int64 `json:"pending"`
	Full          int64 `json:"full"`
	SentimentOnly int64 `json:"sentiment_only"`
	// Stale counts analyzed articles whose version differs from the current one.
	Stale      int64 `json:"stale"`
	Duplicates int64 `json:"duplicates"`
	Clusters   int64 `json:"clusters"`
	Leased     int64 `json:"leased"`
}

package models

// ProgressUpdate is broadcast over the websocket hub while a fetch is
// running, so interested clients can watch progress live.
type ProgressUpdate struct {
	Link    string `json:"link"`
	Message string `json:"message"`
	Found   int    `json:"found"`
	Status  string `json:"status"` // e.g. "fetching", "completed", "failed"
	Done    bool   `json:"done"`
}

package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID            string `json:"id"`
	Clause        string `json:"clause"`
	Subclause     string `json:"subclause"`
	Snippet       string `json:"snippet"`
	Status        string `json:"status"`
	Kind          string `json:"kind"`
	MeetingNumber int    `json:"meetingNumber"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterStatus string // empty = all statuses
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ResolutionRecord is the data we index for a resolution. The id is the
// public identifier; internal ids never reach the index.
type ResolutionRecord struct {
	ID            string `json:"id"`
	Clause        string `json:"clause"`
	Subclause     string `json:"subclause"`
	Body          string `json:"body"`
	Status        string `json:"status"`
	Kind          string `json:"kind"`
	MeetingNumber int    `json:"meetingNumber"`
}

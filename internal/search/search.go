package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultVersion ResultType = "version"
	ResultAlert   ResultType = "alert"
	ResultAudit   ResultType = "audit"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	Domain  string     `json:"domain"`
	Status  string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterDomain string
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

// VersionRecord is the data we index for a settings version.
type VersionRecord struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Domain      string `json:"domain"`
	Status      string `json:"status"`
}

// AlertRecord is the data we index for an alert definition.
type AlertRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Metric string `json:"metric"`
	Type   string `json:"alertType"`
	Domain string `json:"domain"`
}

// AuditRecord is the data we index for an audit entry.
type AuditRecord struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Detail string `json:"detail"`
	Actor  string `json:"actor"`
	Domain string `json:"domain"`
}

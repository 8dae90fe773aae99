package search

// Response is the /v3/search response document.
type Response struct {
	TotalHits int64    `json:"totalHits"`
	Data      []Result `json:"data"`
}

// Result is one package id in a search response, summarizing its latest
// matching version and aggregating across all matching versions.
type Result struct {
	RegistrationURL  string          `json:"@id"`
	ID               string          `json:"id"`
	Version          string          `json:"version"`
	Description      string          `json:"description"`
	Authors          []string        `json:"authors"`
	IconURL          string          `json:"iconUrl,omitempty"`
	LicenseURL       string          `json:"licenseUrl,omitempty"`
	ProjectURL       string          `json:"projectUrl,omitempty"`
	Registration     string          `json:"registration"`
	Summary          string          `json:"summary,omitempty"`
	Tags             []string        `json:"tags"`
	Title            string          `json:"title,omitempty"`
	TotalDownloads   int64           `json:"totalDownloads"`
	Verified         bool            `json:"verified"`
	PackageTypes     []ResultType    `json:"packageTypes"`
	Versions         []ResultVersion `json:"versions"`
}

// ResultType names one package type of a search result.
type ResultType struct {
	Name string `json:"name"`
}

// ResultVersion is one version entry inside a search result.
type ResultVersion struct {
	LeafURL   string `json:"@id"`
	Version   string `json:"version"`
	Downloads int64  `json:"downloads"`
}

// AutocompleteResponse is the /v3/autocomplete response document.
type AutocompleteResponse struct {
	TotalHits int64    `json:"totalHits"`
	Data      []string `json:"data"`
}

// DependentsResponse lists packages that depend on a given package id.
type DependentsResponse struct {
	TotalHits int64             `json:"totalHits"`
	Data      []DependentResult `json:"data"`
}

// DependentResult is one reverse-dependency entry.
type DependentResult struct {
	ID             string `json:"id"`
	Description    string `json:"description"`
	TotalDownloads int64  `json:"totalDownloads"`
}

package azure

import "time"

// DefaultAPIVersion is the build REST API version the queries are written against.
const DefaultAPIVersion = "4.1"

// listResponse is the envelope of every Azure DevOps collection response.
type listResponse[T any] struct {
	Count int `json:"count"`
	Value []T `json:"value"`
}

// serviceError is the body Azure DevOps returns alongside 4xx/5xx statuses.
type serviceError struct {
	Message  string `json:"message"`
	TypeKey  string `json:"typeKey"`
	TypeName string `json:"typeName"`
}

// Definition is a named build pipeline configuration.
type Definition struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Revision int    `json:"revision"`
}

// Build is a single run of a definition.
type Build struct {
	ID           int       `json:"id"`
	BuildNumber  string    `json:"buildNumber"`
	Status       string    `json:"status"`
	Result       string    `json:"result"`
	SourceBranch string    `json:"sourceBranch"`
	FinishTime   time.Time `json:"finishTime"`
}

// ArtifactResource points at the downloadable content of an artifact.
type ArtifactResource struct {
	Type        string `json:"type"`
	Data        string `json:"data"`
	DownloadURL string `json:"downloadUrl"`
}

// ArtifactDescriptor is a named build output and where to download it.
type ArtifactDescriptor struct {
	ID       int              `json:"id"`
	Name     string           `json:"name"`
	Resource ArtifactResource `json:"resource"`
}

// DownloadURL returns the resource download URL.
func (a *ArtifactDescriptor) DownloadURL() string {
	return a.Resource.DownloadURL
}

// BuildFilter narrows the build query. Empty filters are omitted from the query.
type BuildFilter struct {
	// Branch is either a short branch name ("master") or a full ref ("refs/heads/master").
	Branch       string
	StatusFilter string
	ResultFilter string
}

// DefaultBuildFilter selects the latest completed, succeeded build of branch.
func DefaultBuildFilter(branch string) BuildFilter {
	return BuildFilter{
		Branch:       branch,
		StatusFilter: "completed",
		ResultFilter: "succeeded",
	}
}

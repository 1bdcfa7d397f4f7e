// Package azure resolves "latest successful build of a definition on a branch"
// into artifact download URLs through the Azure DevOps build REST API.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sap-gg/azrelay/internal/fetch"
)

// Client queries one Azure DevOps project.
type Client struct {
	baseURL    *url.URL
	apiVersion string
	httpClient *http.Client
	userAgent  string
	token      string
}

// Option configures a Client.
type Option func(*Client)

// WithAPIVersion overrides DefaultAPIVersion.
func WithAPIVersion(version string) Option {
	return func(c *Client) {
		c.apiVersion = version
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets a per-request timeout on the default HTTP client. Zero disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithToken authenticates with a personal access token. Public projects need none.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// NewClient creates a client for baseURL, e.g. "https://dev.azure.com/<org>/<project>".
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse azure base url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("azure base url %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL:    u,
		apiVersion: DefaultAPIVersion,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ProjectURL returns the base URL of the Azure DevOps project "<org>/<project>".
func ProjectURL(project string) string {
	return "https://dev.azure.com/" + strings.Trim(project, "/")
}

// Host returns the host the client talks to, used to scope download credentials.
func (c *Client) Host() string {
	return c.baseURL.Host
}

// ResolveDefinitionID returns the id of the single definition named name.
func (c *Client) ResolveDefinitionID(ctx context.Context, name string) (int, error) {
	query := url.Values{"name": {name}}

	var resp listResponse[Definition]
	if _, err := c.getJSON(ctx, "_apis/build/definitions", query, &resp); err != nil {
		return 0, err
	}

	def, err := exactlyOne(resp, ResourceDefinition, fmt.Sprintf("name %q", name))
	if err != nil {
		return 0, err
	}

	log.Debug().
		Int("definition", def.ID).
		Str("name", def.Name).
		Msg("resolved build definition")
	return def.ID, nil
}

// ResolveLatestBuildID returns the id of the most recently finished build of
// definitionID matching filter. More than one candidate is an error even though
// the query asks for the top result only.
func (c *Client) ResolveLatestBuildID(ctx context.Context, definitionID int, filter BuildFilter) (int, error) {
	query := url.Values{
		"definitions":   {strconv.Itoa(definitionID)},
		"deletedFilter": {"excludeDeleted"},
		"queryOrder":    {"finishTimeDescending"},
		"$top":          {"1"},
	}
	if filter.Branch != "" {
		query.Set("branchName", branchRef(filter.Branch))
	}
	if filter.StatusFilter != "" {
		query.Set("statusFilter", filter.StatusFilter)
	}
	if filter.ResultFilter != "" {
		query.Set("resultFilter", filter.ResultFilter)
	}

	var resp listResponse[Build]
	if _, err := c.getJSON(ctx, "_apis/build/builds", query, &resp); err != nil {
		return 0, err
	}

	build, err := exactlyOne(resp, ResourceBuild,
		fmt.Sprintf("definition %d on %s", definitionID, branchRef(filter.Branch)))
	if err != nil {
		return 0, err
	}

	log.Debug().
		Int("build", build.ID).
		Str("number", build.BuildNumber).
		Str("branch", build.SourceBranch).
		Time("finished", build.FinishTime).
		Msg("resolved latest build")
	return build.ID, nil
}

// ResolveArtifact returns the descriptor of the artifact called name in buildID.
// A missing artifact is a *NotFoundError matching ErrArtifactMissing.
func (c *Client) ResolveArtifact(ctx context.Context, buildID int, name string) (*ArtifactDescriptor, error) {
	path := fmt.Sprintf("_apis/build/builds/%d/artifacts", buildID)
	query := url.Values{"artifactName": {name}}
	describe := fmt.Sprintf("%q in build %d", name, buildID)

	var artifact ArtifactDescriptor
	found, err := c.getJSON(ctx, path, query, &artifact)
	if err != nil {
		var notFound *fetch.NotFoundError
		if errors.As(err, &notFound) {
			return nil, &NotFoundError{Resource: ResourceArtifact, Query: describe, Message: notFound.Message()}
		}
		return nil, err
	}
	if !found || artifact.Resource.DownloadURL == "" {
		return nil, &NotFoundError{Resource: ResourceArtifact, Query: describe, Message: "response has no download url"}
	}

	log.Debug().
		Int("build", buildID).
		Str("artifact", artifact.Name).
		Str("type", artifact.Resource.Type).
		Msg("resolved artifact")
	return &artifact, nil
}

// getJSON performs a GET and decodes the body into v. It returns a
// *fetch.NotFoundError for 404 responses and reports found=false for a
// literal JSON null body.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, v any) (found bool, err error) {
	u := c.baseURL.JoinPath(path)
	query.Set("api-version", c.apiVersion)
	u.RawQuery = query.Encode()
	target := u.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.token != "" {
		req.SetBasicAuth("", c.token)
	}

	log.Trace().Str("url", target).Msg("azure request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, &fetch.TransportError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, &fetch.TransportError{URL: target, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, fetch.NewNotFoundError(target, body)
	case resp.StatusCode == http.StatusNonAuthoritativeInfo:
		// Azure DevOps answers bad credentials with a 203 sign-in page
		return false, &StatusError{URL: target, StatusCode: resp.StatusCode, Status: resp.Status,
			Message: "authentication required"}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return false, &StatusError{URL: target, StatusCode: resp.StatusCode, Status: resp.Status,
			Message: serviceMessage(body)}
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return false, &DecodeError{Source: target, Err: errors.New("empty response body")}
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return false, nil
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return false, &DecodeError{Source: target, Err: err}
	}
	return true, nil
}

// exactlyOne enforces the single-result invariant on a list response.
func exactlyOne[T any](resp listResponse[T], resource, query string) (*T, error) {
	n := max(resp.Count, len(resp.Value))
	switch {
	case n == 0:
		return nil, &NotFoundError{Resource: resource, Query: query}
	case n > 1:
		return nil, &AmbiguousResultError{Resource: resource, Query: query, Count: n}
	case len(resp.Value) != 1:
		return nil, &DecodeError{Source: query, Err: fmt.Errorf("count is %d but %d values were returned", resp.Count, len(resp.Value))}
	}
	return &resp.Value[0], nil
}

func branchRef(branch string) string {
	if branch == "" || strings.HasPrefix(branch, "refs/") {
		return branch
	}
	return "refs/heads/" + branch
}

func serviceMessage(body []byte) string {
	var se serviceError
	if err := json.Unmarshal(body, &se); err != nil {
		return ""
	}
	return se.Message
}

// Package cloudloader implements loader.Loader against the cloud catalog
// wire protocol (spec §6), grounded on the teacher's HTTPClient transport
// configuration (internal/adapter/outbound/mcp/http_client.go): pooled,
// TLS-1.2-minimum connections with a single httpClient shared across calls.
package cloudloader

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sentinelgate/ruleengine/internal/domain/loader"
	"github.com/sentinelgate/ruleengine/internal/domain/rule"
	"github.com/sentinelgate/ruleengine/internal/errs"
)

// maxResponseBodySize bounds a single catalog response, mirroring the
// teacher's defense against an unbounded upstream body.
const maxResponseBodySize = 32 * 1024 * 1024

// wireRule is the JSON shape of one rule object in the catalog wire protocol.
type wireRule struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Tags         []string `json:"tags"`
	LastModified string   `json:"lastModified"`
	Content      string   `json:"content"` // base64
}

type listResponse struct {
	Rules []wireRule `json:"rules"`
}

// Loader is the cloud-backed loader.Loader implementation.
type Loader struct {
	baseURL          string
	apiKey           string
	defaultProjectID string
	httpClient       *http.Client
}

// Option configures Loader.
type Option func(*Loader)

// WithHTTPClient overrides the default transport (tests use this to inject
// a client pointed at an httptest.Server).
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) { l.httpClient = c }
}

// New builds a cloud Loader. timeout bounds every individual HTTP request
// (spec §6 http_timeout). projectID is the project LoadAll/CheckVersions
// operate against when a call site does not override it.
func New(baseURL, apiKey, projectID string, timeout time.Duration, opts ...Option) *Loader {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	l := &Loader{
		baseURL:          baseURL,
		apiKey:           apiKey,
		defaultProjectID: projectID,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+path, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternalError, err, "building request for %s", path)
	}
	req.Header.Set("Authorization", "Bearer "+l.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.KindTimeout, err, "request to %s timed out", path)
		}
		return nil, errs.Wrap(errs.KindNetworkError, err, "request to %s failed", path)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, errs.Wrap(errs.KindNetworkError, err, "reading response from %s", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.New(errs.KindNetworkError, "http status %d from %s: %s", resp.StatusCode, path, string(body))
	}
	return body, nil
}

func toRaw(w wireRule) (rule.ID, loader.RawRule, error) {
	content, err := base64.StdEncoding.DecodeString(w.Content)
	if err != nil {
		return "", loader.RawRule{}, errs.New(errs.KindNetworkError, "invalid rule content for %s", w.ID)
	}
	if !json.Valid(content) {
		return "", loader.RawRule{}, errs.New(errs.KindNetworkError, "invalid rule content for %s", w.ID)
	}
	lastModified := parseLastModified(w.LastModified)
	id := rule.ID(w.ID)
	return id, loader.RawRule{
		RawBytes: content,
		Metadata: rule.Metadata{
			ID:           id,
			Name:         w.Name,
			Version:      rule.Version(w.Version),
			Tags:         rule.NormalizeTags(w.Tags),
			LastModified: lastModified,
		},
	}, nil
}

func parseLastModified(iso string) int64 {
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

// LoadAll fetches every rule in projectID's catalog.
func (l *Loader) LoadAll(ctx context.Context, projectID string) (map[rule.ID]loader.RawRule, error) {
	body, err := l.get(ctx, fmt.Sprintf("/api/v1/projects/%s/rules", projectID))
	if err != nil {
		return nil, err
	}
	var parsed listResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errs.Wrap(errs.KindNetworkError, err, "parsing rule list response")
	}
	out := make(map[rule.ID]loader.RawRule, len(parsed.Rules))
	for _, w := range parsed.Rules {
		id, raw, err := toRaw(w)
		if err != nil {
			return nil, err
		}
		out[id] = raw
	}
	return out, nil
}

// LoadOne fetches a single rule from the loader's configured project.
func (l *Loader) LoadOne(ctx context.Context, id rule.ID) (loader.RawRule, error) {
	body, err := l.get(ctx, fmt.Sprintf("/api/v1/projects/%s/rules/%s", l.defaultProjectID, id))
	if err != nil {
		return loader.RawRule{}, err
	}
	var w wireRule
	if err := json.Unmarshal(body, &w); err != nil {
		return loader.RawRule{}, errs.Wrap(errs.KindNetworkError, err, "parsing rule response for %s", id)
	}
	_, raw, err := toRaw(w)
	return raw, err
}

// CheckVersions is implemented by re-downloading the full catalog and
// diffing, per spec §4.C/§9's noted open question (kept as-is: whether this
// is a performance placeholder in the source system is unstated, so the
// engine mirrors the documented behavior rather than guessing an
// incremental-diff endpoint that the wire protocol does not define).
func (l *Loader) CheckVersions(ctx context.Context, current map[rule.ID]rule.Version) (map[rule.ID]bool, error) {
	all, err := l.loadAllForProject(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[rule.ID]bool, len(current))
	for id, version := range current {
		raw, ok := all[id]
		if !ok {
			out[id] = true
			continue
		}
		out[id] = raw.Metadata.Version != version
	}
	return out, nil
}

// loadAllForProject loads the catalog of the project id the loader was
// constructed with (New's projectID), not one passed to an earlier LoadAll
// call.
func (l *Loader) loadAllForProject(ctx context.Context) (map[rule.ID]loader.RawRule, error) {
	return l.LoadAll(ctx, l.defaultProjectID)
}

var _ loader.Loader = (*Loader)(nil)

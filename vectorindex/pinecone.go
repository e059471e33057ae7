package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vinayprograms/skillsynth/errors"
)

const pineconeAPIVersion = "2025-01"

// SharedHost is the PineconeConfig.Hosts key for an index whose Pinecone
// namespaces hold every engine namespace not given a host of its own.
const SharedHost = "default"

// PineconeConfig configures the Pinecone data-plane client.
type PineconeConfig struct {
	APIKey string

	// Hosts maps an engine namespace to the data-plane host of its index,
	// e.g. "skills" -> "https://skills-index-abc.svc.pinecone.io". A
	// dedicated host is addressed in its default Pinecone namespace.
	// Namespaces without an entry go to Hosts[SharedHost] under a Pinecone
	// namespace of the same name.
	Hosts map[string]string

	Dimension int
	Timeout   time.Duration

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Pinecone is an Index backed by the Pinecone REST API.
type Pinecone struct {
	apiKey string
	hosts  map[string]string
	dim    int
	client *http.Client
}

type pineconeVector struct {
	ID       string                 `json:"id"`
	Values   []float32              `json:"values,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type pineconeUpsertRequest struct {
	Vectors   []pineconeVector `json:"vectors"`
	Namespace string           `json:"namespace,omitempty"`
}

type pineconeFetchResponse struct {
	Vectors map[string]pineconeVector `json:"vectors"`
}

type pineconeQueryRequest struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	IncludeMetadata bool      `json:"includeMetadata"`
	IncludeValues   bool      `json:"includeValues"`
	Namespace       string    `json:"namespace,omitempty"`
}

type pineconeQueryResponse struct {
	Matches []struct {
		ID       string                 `json:"id"`
		Score    float64                `json:"score"`
		Metadata map[string]interface{} `json:"metadata"`
	} `json:"matches"`
}

// NewPinecone creates a Pinecone client.
func NewPinecone(cfg PineconeConfig) (*Pinecone, error) {
	if cfg.APIKey == "" {
		return nil, errors.InvalidInput("api_key is required for pinecone")
	}
	if len(cfg.Hosts) == 0 {
		return nil, errors.InvalidInput("at least one pinecone host is required")
	}
	hosts := make(map[string]string, len(cfg.Hosts))
	for ns, h := range cfg.Hosts {
		if !strings.HasPrefix(h, "http://") && !strings.HasPrefix(h, "https://") {
			h = "https://" + h
		}
		hosts[ns] = strings.TrimSuffix(h, "/")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Pinecone{apiKey: cfg.APIKey, hosts: hosts, dim: cfg.Dimension, client: client}, nil
}

// route returns the host and Pinecone namespace for an engine namespace.
func (p *Pinecone) route(ns string) (string, string, error) {
	if err := validateNamespace(ns); err != nil {
		return "", "", err
	}
	if h, ok := p.hosts[ns]; ok {
		return h, "", nil
	}
	if h, ok := p.hosts[SharedHost]; ok {
		return h, ns, nil
	}
	return "", "", errors.InvalidInput(fmt.Sprintf("no pinecone host configured for namespace %q", ns))
}

// Upsert implements Index in one request.
func (p *Pinecone) Upsert(ctx context.Context, ns string, records []Record) error {
	if err := validateRecords(p.dim, records); err != nil {
		return err
	}
	host, pns, err := p.route(ns)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	req := pineconeUpsertRequest{Namespace: pns, Vectors: make([]pineconeVector, len(records))}
	for i, r := range records {
		req.Vectors[i] = pineconeVector{ID: r.ID, Values: r.Vector, Metadata: toPineconeMetadata(r.Metadata)}
	}
	return p.do(ctx, http.MethodPost, host+"/vectors/upsert", req, nil)
}

// Fetch implements Index.
func (p *Pinecone) Fetch(ctx context.Context, ns string, ids []string) (map[string]Record, error) {
	host, pns, err := p.route(ns)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	q := url.Values{}
	for _, id := range ids {
		q.Add("ids", id)
	}
	if pns != "" {
		q.Set("namespace", pns)
	}
	var resp pineconeFetchResponse
	if err := p.do(ctx, http.MethodGet, host+"/vectors/fetch?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	for id, v := range resp.Vectors {
		if v.ID == "" {
			v.ID = id
		}
		out[id] = Record{ID: v.ID, Vector: v.Values, Metadata: fromPineconeMetadata(v.Metadata)}
	}
	return out, nil
}

// Query implements Index. Matches are re-ranked locally so ties come back
// in id order.
func (p *Pinecone) Query(ctx context.Context, ns string, vector []float32, k int, includeMetadata bool) ([]Match, error) {
	if err := checkDimension(p.dim, vector); err != nil {
		return nil, err
	}
	host, pns, err := p.route(ns)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Match{}, nil
	}

	var resp pineconeQueryResponse
	err = p.do(ctx, http.MethodPost, host+"/query", pineconeQueryRequest{
		Vector:          vector,
		TopK:            k,
		IncludeMetadata: includeMetadata,
		Namespace:       pns,
	}, &resp)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		match := Match{ID: m.ID, Score: m.Score}
		if includeMetadata {
			match.Metadata = fromPineconeMetadata(m.Metadata)
		}
		matches = append(matches, match)
	}
	return Rank(matches, k), nil
}

// Dimension implements Index.
func (p *Pinecone) Dimension() int { return p.dim }

// Close implements Index.
func (p *Pinecone) Close() error { return nil }

func (p *Pinecone) do(ctx context.Context, method, u string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal pinecone request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return errors.Wrap(err, "create pinecone request")
	}
	req.Header.Set("Api-Key", p.apiKey)
	req.Header.Set("X-Pinecone-API-Version", pineconeAPIVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return contextError(ctx, "pinecone request")
		}
		var netErr net.Error
		if stderrors.As(err, &netErr) && netErr.Timeout() {
			return errors.New(errors.ErrCodeTimeout, "pinecone request timed out",
				errors.WithUpstream(Upstream), errors.WithCause(err))
		}
		return errors.Unavailable(Upstream, 0, "pinecone request failed", errors.WithCause(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Unavailable(Upstream, resp.StatusCode, "read pinecone response", errors.WithCause(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(respBody)
		if len(msg) > 256 {
			msg = msg[:256] + "..."
		}
		return errors.Unavailable(Upstream, resp.StatusCode,
			fmt.Sprintf("pinecone API error (status %d): %s", resp.StatusCode, msg))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Unavailable(Upstream, resp.StatusCode, "parse pinecone response",
			errors.WithCause(err), errors.WithRetryable(false))
	}
	return nil
}

func toPineconeMetadata(m map[string]string) map[string]interface{} {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// fromPineconeMetadata stringifies values; Pinecone may hand back numbers
// written by other clients.
func fromPineconeMetadata(m map[string]interface{}) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			if val == float64(int64(val)) {
				out[k] = fmt.Sprintf("%d", int64(val))
			} else {
				out[k] = fmt.Sprintf("%g", val)
			}
		default:
			data, _ := json.Marshal(val)
			out[k] = string(data)
		}
	}
	return out
}

package engine

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/revlake/revlake/pkg/clients"
	"github.com/revlake/revlake/pkg/config"
	"github.com/revlake/revlake/pkg/rlerrors"
)

// healthProbeTimeout bounds engine health probes. A probe that does not
// respond within this window is treated as "not available".
const healthProbeTimeout = 3 * time.Second

// PrimaryClient talks to the primary ingestion engine's HTTP API.
type PrimaryClient struct {
	apiURL string
	token  string
	http   *clients.HTTPClient
	logger *zap.Logger
}

// flowRequest is the flow-creation payload for the primary engine API.
type flowRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// flowResponse is returned by flow creation and listing.
type flowResponse struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// NewPrimaryClient opens a client against the primary engine and probes
// its health. A failed probe closes the partially-opened HTTP client and
// reports the failure; the caller records the engine as unavailable.
func NewPrimaryClient(ctx context.Context, cfg config.EngineConfig, logger *zap.Logger) (*PrimaryClient, error) {
	c := &PrimaryClient{
		apiURL: strings.TrimRight(cfg.APIURL, "/"),
		token:  cfg.APIToken,
		http:   clients.NewHTTPClient(nil, logger),
		logger: logger.With(zap.String("engine", "primary")),
	}

	if err := c.HealthCheck(ctx); err != nil {
		_ = c.http.Close()
		return nil, err
	}

	return c, nil
}

// Name returns "primary".
func (c *PrimaryClient) Name() string { return "primary" }

// HealthCheck probes the engine's health endpoint, bounded by
// healthProbeTimeout.
func (c *PrimaryClient) HealthCheck(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	resp, err := c.http.Get(probeCtx, c.apiURL+"/health", c.headers())
	if err != nil {
		return rlerrors.Wrap(err, rlerrors.ErrorTypeHealth, "primary engine health probe failed")
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return rlerrors.Newf(rlerrors.ErrorTypeHealth,
			"primary engine health probe returned status %d", resp.StatusCode)
	}
	return nil
}

// ConfigureFlow creates the canonical flow for a source and returns its
// name.
func (c *PrimaryClient) ConfigureFlow(ctx context.Context, source config.SourceID) (string, error) {
	body, err := json.Marshal(flowRequest{
		Source:      string(source),
		Destination: PrimaryDestination,
	})
	if err != nil {
		return "", rlerrors.Wrap(err, rlerrors.ErrorTypeInternal, "failed to encode flow request")
	}

	resp, err := c.http.Post(ctx, c.apiURL+"/flows", bytes.NewReader(body), c.headers())
	if err != nil {
		return "", rlerrors.Wrap(err, rlerrors.ErrorTypeConnection, "flow creation request failed")
	}
	defer drainAndClose(resp.Body)

	if err := checkFlowStatus(resp, source); err != nil {
		return "", err
	}

	var created flowResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil || created.Name == "" {
		// Engine accepted the flow but returned no usable body; the
		// canonical name is deterministic either way.
		created.Name = FlowName(source)
	}

	c.logger.Info("flow configured", zap.String("flow", created.Name))
	return created.Name, nil
}

// StartFlow starts a configured flow by name.
func (c *PrimaryClient) StartFlow(ctx context.Context, flowName string) error {
	resp, err := c.http.Post(ctx, c.apiURL+"/flows/"+flowName+"/start", nil, c.headers())
	if err != nil {
		return rlerrors.Wrap(err, rlerrors.ErrorTypeConnection, "flow start request failed")
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp, "flow start rejected")
	}

	c.logger.Info("flow started", zap.String("flow", flowName))
	return nil
}

// Flows lists flows known to the engine.
func (c *PrimaryClient) Flows(ctx context.Context) ([]string, error) {
	resp, err := c.http.Get(ctx, c.apiURL+"/flows", c.headers())
	if err != nil {
		return nil, rlerrors.Wrap(err, rlerrors.ErrorTypeConnection, "flow listing request failed")
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiError(resp, "flow listing rejected")
	}

	var listing struct {
		Flows []flowResponse `json:"flows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, rlerrors.Wrap(err, rlerrors.ErrorTypeInternal, "failed to decode flow listing")
	}

	names := make([]string, 0, len(listing.Flows))
	for _, f := range listing.Flows {
		names = append(names, f.Name)
	}
	return names, nil
}

// Close releases the underlying HTTP client.
func (c *PrimaryClient) Close(ctx context.Context) error {
	return c.http.Close()
}

func (c *PrimaryClient) headers() map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	if c.token != "" {
		h["Authorization"] = "Bearer " + c.token
	}
	return h
}

// checkFlowStatus maps flow-creation HTTP failures onto error categories
// the registry can act on.
func checkFlowStatus(resp *http.Response, source config.SourceID) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return rlerrors.New(rlerrors.ErrorTypeRateLimit, "rate limited").
			WithDetail("source", string(source))
	default:
		return apiError(resp, "flow creation rejected")
	}
}

// apiError builds an error from a non-success engine API response,
// including a bounded slice of the response body.
func apiError(resp *http.Response, message string) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return rlerrors.Newf(rlerrors.ErrorTypeInternal, "%s: status %d %s",
		message, resp.StatusCode, strings.TrimSpace(string(snippet)))
}

// drainAndClose consumes the rest of a response body so the connection
// can be reused, then closes it.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}

package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/revlake/revlake/pkg/clients"
	"github.com/revlake/revlake/pkg/config"
	"github.com/revlake/revlake/pkg/rlerrors"
)

// FallbackClient talks to the fallback ingestion engine's HTTP API.
//
// The fallback engine currently serves as an availability hedge: it can
// be selected and health-checked, and it can start flows that already
// exist on its side, but per-source flow wiring is not implemented.
// ConfigureFlow returns a capability error that the flow registry records
// per source without aborting the session.
type FallbackClient struct {
	apiURL string
	token  string
	tenant string
	http   *clients.HTTPClient
	logger *zap.Logger
}

// NewFallbackClient opens a client against the fallback engine and probes
// its health endpoint. On a non-success status or network error the
// partially-opened HTTP client is closed before the failure is reported.
func NewFallbackClient(ctx context.Context, cfg config.FallbackEngineConfig, logger *zap.Logger) (*FallbackClient, error) {
	c := &FallbackClient{
		apiURL: strings.TrimRight(cfg.APIURL, "/"),
		token:  cfg.APIToken,
		tenant: cfg.Tenant,
		http:   clients.NewHTTPClient(nil, logger),
		logger: logger.With(zap.String("engine", "fallback")),
	}

	if err := c.HealthCheck(ctx); err != nil {
		_ = c.http.Close()
		return nil, err
	}

	return c, nil
}

// Name returns "fallback".
func (c *FallbackClient) Name() string { return "fallback" }

// HealthCheck probes GET {api_url}/health, bounded by healthProbeTimeout.
func (c *FallbackClient) HealthCheck(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	resp, err := c.http.Get(probeCtx, c.apiURL+"/health", c.headers())
	if err != nil {
		return rlerrors.Wrap(err, rlerrors.ErrorTypeHealth, "fallback engine health probe failed")
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return rlerrors.Newf(rlerrors.ErrorTypeHealth,
			"fallback engine health probe returned status %d", resp.StatusCode)
	}
	return nil
}

// ConfigureFlow reports that per-source wiring is not implemented for the
// fallback engine. The error is recoverable; the session proceeds with no
// sources configured.
func (c *FallbackClient) ConfigureFlow(ctx context.Context, source config.SourceID) (string, error) {
	return "", rlerrors.Newf(rlerrors.ErrorTypeCapability,
		"fallback engine does not support flow configuration for %s", source)
}

// StartFlow starts a flow that already exists on the fallback engine.
func (c *FallbackClient) StartFlow(ctx context.Context, flowName string) error {
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

// Close releases the underlying HTTP client.
func (c *FallbackClient) Close(ctx context.Context) error {
	return c.http.Close()
}

func (c *FallbackClient) headers() map[string]string {
	h := map[string]string{"Content-Type": "application/json"}
	if c.token != "" {
		h["Authorization"] = "Bearer " + c.token
	}
	if c.tenant != "" {
		h["X-Tenant"] = c.tenant
	}
	return h
}

package temporal

import (
	"context"
	"time"

	"github.com/composable-labs/pablox/pkg/utils"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

type Client struct {
	TClient   client.Client
	Namespace string

	// IndexerQueue carries the head scan workflow and the per-height activities.
	IndexerQueue string
	// HeadScanWorkflowID keeps a single head scan running per namespace.
	HeadScanWorkflowID string
}

// NewClient connects to Temporal using TEMPORAL_HOSTPORT and TEMPORAL_NAMESPACE.
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("TEMPORAL_HOSTPORT", "localhost:7233")
	ns := utils.Env("TEMPORAL_NAMESPACE", "pablox")

	logger.Info("Connecting to Temporal", zap.String("host", host), zap.String("namespace", ns))
	tClient, err := Dial(ctx, host, ns, NewZapAdapter(logger))
	if err != nil {
		return nil, err
	}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err = tClient.CheckHealth(healthCtx, nil); err != nil {
		tClient.Close()
		return nil, err
	}

	return &Client{
		TClient:            tClient,
		Namespace:          ns,
		IndexerQueue:       utils.Env("TEMPORAL_QUEUE", "pablox:index"),
		HeadScanWorkflowID: "pablox:headscan",
	}, nil
}

// Dial connects to Temporal using the provided hostPort and namespace.
func Dial(ctx context.Context, hostPort, namespace string, logger log.Logger) (client.Client, error) {
	return client.DialContext(
		ctx,
		client.Options{
			HostPort:  hostPort,
			Namespace: namespace,
			Logger:    logger,
		},
	)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.TClient.Close()
	return nil
}

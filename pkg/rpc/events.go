package rpc

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/composable-labs/pablox/pkg/events"
)

// ChainHead returns the latest finalized height.
func (c *HTTPClient) ChainHead(ctx context.Context) (uint64, error) {
	var resp HeadBlock
	if err := c.doJSON(ctx, http.MethodPost, headPath, map[string]any{}, &resp); err != nil {
		return 0, fmt.Errorf("fetch chain head: %w", err)
	}
	return resp.Height, nil
}

// EventsByHeight returns the DEX events emitted at height, in emission order.
func (c *HTTPClient) EventsByHeight(ctx context.Context, height uint64) ([]events.RawEvent, error) {
	evs, err := ListPaged[events.RawEvent](ctx, c, eventsByHeightPath, NewQueryByHeightRequest(height))
	if err != nil {
		return nil, fmt.Errorf("fetch events at %d: %w", height, err)
	}
	for i := range evs {
		if evs[i].Height == 0 {
			evs[i].Height = height
		}
	}
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].Index < evs[j].Index })
	return evs, nil
}

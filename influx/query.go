package influx

import (
	"context"
	"fmt"

	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Query runs a Flux query in the client's organization and returns the
// SDK's table result for iteration. Failures wrap ErrQueryFailed.
//
// Example:
//
//	result, err := client.Query(ctx, `from(bucket:"metrics") |> range(start: -1h)`)
//	if err != nil {
//	    return err
//	}
//	for result.Next() {
//	    fmt.Println(result.Record().Value())
//	}
func (c *Client) Query(ctx context.Context, flux string) (*api.QueryTableResult, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	result, err := c.client.QueryAPI(c.cfg.Org).Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return result, nil
}

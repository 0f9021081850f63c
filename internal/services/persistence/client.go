package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
)

var errNotReady = errors.New("influx not ready")

// Connect creates the InfluxDB client and pings it with exponential backoff.
// The client is returned only once the server answered.
func Connect(ctx context.Context, cfg InfluxConfig) (influxdb2.Client, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	client := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(10))

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 20 * time.Second
	err := backoff.Retry(func() error {
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		ok, err := client.Ping(pctx)
		if err != nil {
			log.Printf("persistence: influx ping %s failed: %v", cfg.InfluxURL, err)
			return err
		}
		if !ok {
			return errNotReady
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 5), ctx))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx %s unreachable: %w", cfg.InfluxURL, err)
	}
	log.Printf("persistence: influx connected to %s (org=%s bucket=%s)", cfg.InfluxURL, cfg.InfluxOrg, cfg.InfluxBucket)
	return client, nil
}

// NewStack builds the reading writer and the latest-value querier on client.
func NewStack(client influxdb2.Client, cfg InfluxConfig) (*Writer, *Querier) {
	w := NewWriter(client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket))
	q := NewQuerier(client.QueryAPI(cfg.InfluxOrg), cfg.InfluxBucket)
	return w, q
}

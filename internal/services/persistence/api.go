package persistence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Latest is the most recent value of every field of a device.
type Latest struct {
	DeviceID string         `json:"device_id"`
	Time     time.Time      `json:"time"`
	Values   map[string]any `json:"values"`
}

type Querier struct {
	api    api.QueryAPI
	bucket string
}

func NewQuerier(q api.QueryAPI, bucket string) *Querier {
	return &Querier{api: q, bucket: bucket}
}

// latestFlux builds the query for the last value of each field of a device
// within the past minutes.
func latestFlux(bucket, deviceID string, minutes int) string {
	if minutes <= 0 {
		minutes = 60 * 24
	}
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: -%dm)
  |> filter(fn: (r) => r.device_id == %s)
  |> last()`, strconv.Quote(bucket), minutes, strconv.Quote(deviceID))
}

// Latest returns nil when the device wrote nothing in the window.
func (q *Querier) Latest(ctx context.Context, deviceID string, minutes int) (*Latest, error) {
	res, err := q.api.Query(ctx, latestFlux(q.bucket, deviceID, minutes))
	if err != nil {
		return nil, err
	}
	defer res.Close()

	out := &Latest{DeviceID: deviceID, Values: map[string]any{}}
	for res.Next() {
		rec := res.Record()
		out.Values[rec.Field()] = rec.Value()
		if t := rec.Time(); t.After(out.Time) {
			out.Time = t
		}
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	if len(out.Values) == 0 {
		return nil, nil
	}
	return out, nil
}

package messages

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Reading is one decoded sample of a sensor device. It is built once per
// successful poll (or inbound push) and never mutated afterwards.
type Reading struct {
	DeviceID   string
	DeviceName string
	Type       string // weather | water | other | unknown
	PastureID  string
	BatchID    string
	Timestamp  time.Time
	Values     map[string]any
}

var readingKeys = map[string]bool{
	"deviceId": true, "deviceName": true, "type": true,
	"pastureId": true, "batchId": true, "collectTime": true,
}

// Number returns the named value as float64. Strings are parsed; the literal
// "null" and anything non numeric report false.
func (r Reading) Number(name string) (float64, bool) {
	v, ok := r.Values[name]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint16:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" || s == "null" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// MarshalJSON flattens the values next to the identity fields, which is the
// shape published on the device topics.
func (r Reading) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Values)+6)
	for k, v := range r.Values {
		out[k] = v
	}
	out["deviceId"] = r.DeviceID
	out["deviceName"] = r.DeviceName
	out["type"] = r.Type
	out["pastureId"] = r.PastureID
	out["batchId"] = r.BatchID
	out["collectTime"] = r.Timestamp.UTC().Format(time.RFC3339)
	return json.Marshal(out)
}

func (r *Reading) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	str := func(k string) string {
		switch v := raw[k].(type) {
		case string:
			return v
		case json.Number:
			return v.String()
		case nil:
			return ""
		default:
			return fmt.Sprint(v)
		}
	}
	r.DeviceID = str("deviceId")
	r.DeviceName = str("deviceName")
	r.Type = str("type")
	r.PastureID = str("pastureId")
	r.BatchID = str("batchId")
	if ts := str("collectTime"); ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return fmt.Errorf("collectTime: %w", err)
		}
		r.Timestamp = t
	}
	r.Values = make(map[string]any, len(raw))
	for k, v := range raw {
		if readingKeys[k] {
			continue
		}
		if n, ok := v.(json.Number); ok {
			if f, err := n.Float64(); err == nil {
				r.Values[k] = f
				continue
			}
		}
		r.Values[k] = v
	}
	return nil
}

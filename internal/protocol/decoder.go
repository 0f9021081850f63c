// Package protocol decodes the fixed-offset binary frames returned by the
// station sensors. Decoding never fails: short or unknown frames degrade to
// a raw hex field.
package protocol

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"

	"github.com/BuXianWanYin/fish-dish-iot/internal/model"
)

// Field names produced by the decoders.
const (
	FieldHumidity         = "humidity"
	FieldTemperature      = "temperature"
	FieldNoise            = "noise"
	FieldPM25             = "pm25"
	FieldPM10             = "pm10"
	FieldLight            = "light_intensity"
	FieldWindDirection    = "wind_direction"
	FieldDirectionAngle   = "direction_angle"
	FieldWindSpeed        = "wind_speed"
	FieldWaterTemperature = "water_temperature"
	FieldPH               = "ph_value"
	FieldRaw              = "raw_data"
)

const (
	weatherFrameLen = 19
	singleFrameLen  = 7
	waterFrameLen   = 9

	tagWindDirection byte = 0x01
	tagWindSpeed     byte = 0x03

	// scale exponents above this make no sense for a 2-byte reading
	maxDecimalScale = 9
)

// Compass is indexed by the wind direction grade reported by the vane.
var Compass = [8]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

const unknownDirection = "unknown"

// Fields maps parameter names to float64 or string values.
type Fields map[string]any

// Decode maps a frame of a device of type t to reading fields.
func Decode(t model.DeviceType, frame []byte) Fields {
	var out Fields
	switch t {
	case model.DeviceWeather:
		out = decodeWeather(frame)
	case model.DeviceWater:
		out = decodeWater(frame)
	default:
		// other e unknown: solo diagnostica
		out = nil
	}
	if len(out) == 0 {
		return Fields{FieldRaw: BytesToHex(frame)}
	}
	return out
}

func be16(b []byte, off int) uint16 {
	return binary.BigEndian.Uint16(b[off : off+2])
}

// put runs one extraction and drops the field if it fails or panics.
func (f Fields) put(name string, fn func() (any, error)) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("decoder: WARN field %s dropped: %v", name, r)
		}
	}()
	v, err := fn()
	if err != nil {
		log.Printf("decoder: WARN field %s dropped: %v", name, err)
		return
	}
	f[name] = v
}

func scaled(b []byte, off int, div float64) func() (any, error) {
	return func() (any, error) { return float64(be16(b, off)) / div, nil }
}

func raw(b []byte, off int) func() (any, error) {
	return func() (any, error) { return float64(be16(b, off)), nil }
}

func decodeWeather(b []byte) Fields {
	f := Fields{}
	switch {
	case len(b) >= weatherFrameLen:
		// shutter box multisensor
		f.put(FieldHumidity, scaled(b, 3, 10))
		f.put(FieldTemperature, scaled(b, 5, 10))
		f.put(FieldNoise, scaled(b, 7, 10))
		f.put(FieldPM25, raw(b, 9))
		f.put(FieldPM10, raw(b, 13))
		f.put(FieldLight, raw(b, 17))
	case len(b) >= singleFrameLen && b[0] == tagWindDirection:
		f.put(FieldWindDirection, func() (any, error) {
			grade := int(be16(b, 3))
			if grade < len(Compass) {
				return Compass[grade], nil
			}
			return unknownDirection, nil
		})
		f.put(FieldDirectionAngle, raw(b, 5))
	case len(b) >= singleFrameLen && b[0] == tagWindSpeed:
		f.put(FieldWindSpeed, scaled(b, 3, 10))
	}
	return f
}

func decodeWater(b []byte) Fields {
	f := Fields{}
	if len(b) < waterFrameLen {
		return f
	}
	f.put(FieldWaterTemperature, func() (any, error) {
		value := float64(be16(b, 3))
		scale := int(be16(b, 5))
		if scale > maxDecimalScale {
			return nil, fmt.Errorf("decimal scale %d out of range", scale)
		}
		return value / math.Pow10(scale), nil
	})
	f.put(FieldPH, scaled(b, 7, 100))
	return f
}

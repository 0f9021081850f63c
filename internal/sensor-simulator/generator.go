package sensor_simulator

import (
	"encoding/binary"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/BuXianWanYin/fish-dish-iot/internal/protocol"
)

// ====== Tunables ======

// Walk e' un random walk limitato: ogni passo si muove al massimo di Step,
// e se esce dal range rientra vicino al bordo (entro il 10% dell'ampiezza).
type Walk struct {
	Value float64
	Min   float64
	Max   float64
	Step  float64
}

// Parametri pushed via MQTT (qualita' dell'acqua).
const (
	ParamDissolvedOxygen = "dissolved_oxygen"
	ParamAmmonia         = "ammonia_nitrogen"
	ParamConductivity    = "conductivity"
)

func defaultWalks() map[string]*Walk {
	return map[string]*Walk{
		// pushed
		ParamDissolvedOxygen: {Value: 7.0, Min: 6.0, Max: 7.2, Step: 0.05},
		ParamAmmonia:         {Value: 0.5, Min: 0.45, Max: 0.52, Step: 0.005},
		ParamConductivity:    {Value: 300, Min: 280, Max: 310, Step: 1},

		// frame seriali
		protocol.FieldHumidity:         {Value: 60, Min: 40, Max: 90, Step: 1},
		protocol.FieldTemperature:      {Value: 22, Min: 10, Max: 35, Step: 0.3},
		protocol.FieldNoise:            {Value: 45, Min: 35, Max: 70, Step: 0.5},
		protocol.FieldPM25:             {Value: 30, Min: 10, Max: 80, Step: 2},
		protocol.FieldPM10:             {Value: 50, Min: 20, Max: 120, Step: 3},
		protocol.FieldLight:            {Value: 800, Min: 200, Max: 1500, Step: 20},
		protocol.FieldDirectionAngle:   {Value: 180, Min: 0, Max: 359, Step: 10},
		protocol.FieldWindSpeed:        {Value: 3, Min: 0, Max: 12, Step: 0.3},
		protocol.FieldWaterTemperature: {Value: 25, Min: 22, Max: 28, Step: 0.1},
		protocol.FieldPH:               {Value: 7.2, Min: 6.8, Max: 7.8, Step: 0.02},
	}
}

// DataGenerator mantiene lo stato dei random walk di tutti i parametri simulati.
type DataGenerator struct {
	mu    sync.Mutex
	rnd   *rand.Rand
	walks map[string]*Walk
}

// NewDataGenerator crea un generatore; seed 0 usa l'orologio.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{
		rnd:   rand.New(rand.NewSource(seed)),
		walks: defaultWalks(),
	}
}

// Next avanza il walk di name e ritorna il nuovo valore (2 decimali).
// Un parametro sconosciuto ritorna 0.
func (g *DataGenerator) Next(name string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.walks[name]
	if !ok {
		return 0
	}
	w.Value = w.next(g.rnd)
	return w.Value
}

func (w *Walk) next(rnd *rand.Rand) float64 {
	v := w.Value + (rnd.Float64()*2-1)*w.Step
	span := w.Max - w.Min
	if v < w.Min {
		v = w.Min + rnd.Float64()*span*0.1
	} else if v > w.Max {
		v = w.Max - rnd.Float64()*span*0.1
	}
	return round2(v)
}

// WaterQuality genera un campione dei parametri pushed.
func (g *DataGenerator) WaterQuality() map[string]any {
	return map[string]any{
		ParamDissolvedOxygen: g.Next(ParamDissolvedOxygen),
		ParamAmmonia:         g.Next(ParamAmmonia),
		ParamConductivity:    g.Next(ParamConductivity),
	}
}

// ===== Frames =====

// FrameKind seleziona il tipo di risposta seriale simulata.
type FrameKind int

const (
	FrameWeather FrameKind = iota
	FrameWindDirection
	FrameWindSpeed
	FrameWater
)

const (
	addrWindDirection byte = 0x01
	addrWindSpeed     byte = 0x03
	addrDefault       byte = 0x01
	readHolding       byte = 0x03
)

// Frame costruisce una risposta del tipo richiesto con i prossimi valori.
func (g *DataGenerator) Frame(k FrameKind) []byte {
	switch k {
	case FrameWindDirection:
		angle := g.Next(protocol.FieldDirectionAngle)
		grade := int(math.Round(angle/45)) % len(protocol.Compass)
		return WindDirectionFrame(grade, int(angle))
	case FrameWindSpeed:
		return WindSpeedFrame(g.Next(protocol.FieldWindSpeed))
	case FrameWater:
		return WaterFrame(g.Next(protocol.FieldWaterTemperature), g.Next(protocol.FieldPH))
	default:
		return WeatherFrame(WeatherSample{
			Humidity:    g.Next(protocol.FieldHumidity),
			Temperature: g.Next(protocol.FieldTemperature),
			Noise:       g.Next(protocol.FieldNoise),
			PM25:        g.Next(protocol.FieldPM25),
			PM10:        g.Next(protocol.FieldPM10),
			Light:       g.Next(protocol.FieldLight),
		})
	}
}

// WeatherSample sono i valori della centralina multi-sensore.
type WeatherSample struct {
	Humidity, Temperature, Noise float64
	PM25, PM10, Light            float64
}

// WeatherFrame: 19 byte, header + 8 registri.
func WeatherFrame(s WeatherSample) []byte {
	b := header(addrDefault, 19)
	put16(b, 3, s.Humidity*10)
	put16(b, 5, s.Temperature*10)
	put16(b, 7, s.Noise*10)
	put16(b, 9, s.PM25)
	put16(b, 13, s.PM10)
	put16(b, 17, s.Light)
	return b
}

// WindDirectionFrame: 7 byte, grado bussola e angolo.
func WindDirectionFrame(grade, angle int) []byte {
	b := header(addrWindDirection, 7)
	put16(b, 3, float64(grade))
	put16(b, 5, float64(angle))
	return b
}

// WindSpeedFrame: 7 byte, velocita' in decimi di m/s.
func WindSpeedFrame(speed float64) []byte {
	b := header(addrWindSpeed, 7)
	put16(b, 3, speed*10)
	return b
}

// WaterFrame: 9 byte, temperatura con esponente decimale (2) e pH in centesimi.
func WaterFrame(temperature, ph float64) []byte {
	b := header(addrDefault, 9)
	put16(b, 3, temperature*100)
	put16(b, 5, 2)
	put16(b, 7, ph*100)
	return b
}

// ===== Helpers =====

func header(addr byte, size int) []byte {
	b := make([]byte, size)
	b[0] = addr
	b[1] = readHolding
	b[2] = byte(size - 3)
	return b
}

func put16(b []byte, off int, v float64) {
	v = math.Round(v)
	if v < 0 {
		v = 0
	}
	if v > math.MaxUint16 {
		v = math.MaxUint16
	}
	binary.BigEndian.PutUint16(b[off:off+2], uint16(v))
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }

package main

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Seriale
	SerialPort     string
	SerialBaud     int
	SerialParity   string
	SerialSimulate bool

	// Tempi
	QueueSpacing  time.Duration
	PollInterval  time.Duration
	PollReadDelay time.Duration
	ControlSettle time.Duration
	AutoCooldown  time.Duration
	AutoOnSpacing time.Duration

	// MQTT
	MQTTHost     string
	MQTTPort     int
	MQTTUser     string
	MQTTPassword string
	MQTTClientID string
	AlertTopic   string
	UnknownTopic string
	IngestTopic  string

	// InfluxDB (opzionale: token vuoto = disabilitato)
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	DBPath   string
	SeedFile string

	HTTPPort    string
	GRPCPort    string
	HTTPTimeout time.Duration
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
func getenvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

// getenvDuration legge un numero di millisecondi.
func getenvDuration(k string, d time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return d
}
func getenvBool(k string, d bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return d
}

func loadConfig() Config {
	return Config{
		SerialPort:     getenv("SERIAL_PORT", "/dev/ttyUSB0"),
		SerialBaud:     getenvInt("SERIAL_BAUD", 9600),
		SerialParity:   getenv("SERIAL_PARITY", "N"),
		SerialSimulate: getenvBool("SERIAL_SIMULATE", false),

		QueueSpacing:  getenvDuration("QUEUE_SPACING_MS", 500*time.Millisecond),
		PollInterval:  getenvDuration("POLL_INTERVAL_MS", 5*time.Second),
		PollReadDelay: getenvDuration("POLL_READ_DELAY_MS", 200*time.Millisecond),
		ControlSettle: getenvDuration("CONTROL_SETTLE_MS", 8*time.Second),
		AutoCooldown:  getenvDuration("AUTO_COOLDOWN_MS", 120*time.Second),
		AutoOnSpacing: getenvDuration("AUTO_ON_SPACING_MS", time.Second),

		MQTTHost:     getenv("MQTT_HOST", "localhost"),
		MQTTPort:     getenvInt("MQTT_PORT", 1883),
		MQTTUser:     getenv("MQTT_USER", ""),
		MQTTPassword: getenv("MQTT_PASSWORD", ""),
		MQTTClientID: getenv("MQTT_CLIENT_ID", "fish-dish-station"),
		AlertTopic:   getenv("MQTT_ALERT_TOPIC", "/fish-dish/alerts"),
		UnknownTopic: getenv("MQTT_UNKNOWN_TOPIC", "/fish-dish/unknown"),
		IngestTopic:  getenv("MQTT_INGEST_TOPIC", "fish-dish/ingest/#"),

		InfluxURL:    getenv("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:  getenv("INFLUX_TOKEN", ""),
		InfluxOrg:    getenv("INFLUX_ORG", "fish-dish"),
		InfluxBucket: getenv("INFLUX_BUCKET", "station"),

		DBPath:   getenv("DB_PATH", "station.db"),
		SeedFile: getenv("SEED_FILE", "configs/seed.yaml"),

		HTTPPort:    getenv("HTTP_PORT", "8080"),
		GRPCPort:    getenv("GRPC_PORT", "9090"),
		HTTPTimeout: getenvDuration("HTTP_TIMEOUT_MS", 20*time.Second),
	}
}

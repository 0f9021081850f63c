// cmd/sensor-sim/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	sensorSimulator "github.com/BuXianWanYin/fish-dish-iot/internal/sensor-simulator"
	"github.com/BuXianWanYin/fish-dish-iot/pkg/broker"
)

func main() {
	// define flags
	deviceID := flag.String("device-id", "water-pushed-1", "registered device identifier")
	clientID := flag.String("client-id", "fish-dish-sim", "MQTT client ID")
	host := flag.String("host", "localhost", "MQTT host")
	port := flag.Int("port", 1883, "MQTT port")
	user := flag.String("user", "guest", "MQTT user")
	password := flag.String("password", "guest", "MQTT password")
	topic := flag.String("topic", "fish-dish/ingest/water", "ingest topic")
	interval := flag.Duration("interval", 10*time.Second, "publish interval")
	seed := flag.Int64("seed", 0, "random seed (0 = clock)")
	flag.Parse()

	cfg := &broker.Config{
		Host:     *host,
		Port:     *port,
		User:     *user,
		Password: *password,
		ClientID: *clientID,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := broker.Connect(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer broker.Close(client)

	publisher := broker.NewPublisher(client)
	generator := sensorSimulator.NewDataGenerator(*seed)
	simulated := sensorSimulator.NewSensorSimulator(publisher, generator, *topic, *deviceID)

	log.Printf("simulator: publishing %s every %s on %s", *deviceID, *interval, *topic)
	simulated.Start(ctx, *interval)
}

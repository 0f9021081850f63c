package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/BuXianWanYin/fish-dish-iot/internal/cmdqueue"
	sensorSimulator "github.com/BuXianWanYin/fish-dish-iot/internal/sensor-simulator"
	"github.com/BuXianWanYin/fish-dish-iot/internal/serialport"
	"github.com/BuXianWanYin/fish-dish-iot/internal/services/alert"
	"github.com/BuXianWanYin/fish-dish-iot/internal/services/autocontrol"
	"github.com/BuXianWanYin/fish-dish-iot/internal/services/device"
	"github.com/BuXianWanYin/fish-dish-iot/internal/services/gateway/app"
	"github.com/BuXianWanYin/fish-dish-iot/internal/services/persistence"
	"github.com/BuXianWanYin/fish-dish-iot/internal/services/poller"
	"github.com/BuXianWanYin/fish-dish-iot/internal/services/processing"
	"github.com/BuXianWanYin/fish-dish-iot/internal/store"
	"github.com/BuXianWanYin/fish-dish-iot/pkg/broker"
)

func main() {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Store + seed ---
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("station: %v", err)
	}
	defer st.Close()

	if seed, err := store.LoadSeed(cfg.SeedFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("station: %v", err)
		}
		log.Printf("station: WARN seed file %s not found, using the stored configuration", cfg.SeedFile)
	} else if err := st.Seed(ctx, seed); err != nil {
		log.Fatalf("station: seed failed: %v", err)
	}

	// --- Seriale ---
	opts := []serialport.Option{serialport.WithConfig(serialport.Config{Parity: cfg.SerialParity})}
	var simPort *sensorSimulator.FramePort
	if cfg.SerialSimulate {
		simPort = sensorSimulator.NewFramePort(nil)
		if err := answerSensors(ctx, st, simPort); err != nil {
			log.Fatalf("station: %v", err)
		}
		opts = append(opts, serialport.WithOpener(simPort.Opener()))
	}
	link := serialport.NewLink(opts...)
	if err := link.Open(cfg.SerialPort, cfg.SerialBaud); err != nil {
		// si continua: HTTP resta su, serve un riavvio per riprovare
		log.Printf("station: ERROR serial link unavailable: %v", err)
	}

	// --- Coda comandi ---
	// contesto separato: la coda deve sopravvivere allo shutdown dei timer
	queue := cmdqueue.New(cmdqueue.WithSpacing(cfg.QueueSpacing))
	queue.Start(context.Background())

	// --- MQTT ---
	var (
		mqClient mqtt.Client
		pub      broker.IPublisher
	)
	mqClient, err = broker.Connect(ctx, &broker.Config{
		Host:     cfg.MQTTHost,
		Port:     cfg.MQTTPort,
		User:     cfg.MQTTUser,
		Password: cfg.MQTTPassword,
		ClientID: cfg.MQTTClientID,
	})
	if err != nil {
		log.Printf("station: WARN running without MQTT: %v", err)
	} else {
		pub = broker.NewBreakerPublisher(broker.NewPublisher(mqClient), 5, 30*time.Second)
	}

	// --- InfluxDB ---
	var (
		writer processing.ReadingWriter
		latest app.LatestReader
		health = &app.Health{SerialOpen: link.IsOpen}
	)
	influxCfg := persistence.InfluxConfig{
		InfluxURL:    cfg.InfluxURL,
		InfluxToken:  cfg.InfluxToken,
		InfluxOrg:    cfg.InfluxOrg,
		InfluxBucket: cfg.InfluxBucket,
	}
	if influxClient, err := persistence.Connect(ctx, influxCfg); err != nil {
		log.Printf("station: WARN running without InfluxDB: %v", err)
	} else {
		defer influxClient.Close()
		w, q := persistence.NewStack(influxClient, influxCfg)
		writer, latest = w, q
		health.LastWriteErrorAge = w.LastErrorAge
	}
	if mqClient != nil {
		health.MQTTConnected = mqClient.IsConnectionOpen
	}

	// --- Motori ---
	hub := app.NewHub()
	go hub.Run(ctx)

	notifiers := []alert.Notifier{hub}
	if pub != nil {
		notifiers = append(notifiers, alert.NewTopicNotifier(pub, cfg.AlertTopic))
	}
	alerts := alert.NewEngine(st, notifiers...)

	ctrl := device.NewController(st, queue, link, cfg.ControlSettle)
	auto := autocontrol.NewEngine(st, ctrl, queue, autocontrol.Config{
		Cooldown:  cfg.AutoCooldown,
		OnSpacing: cfg.AutoOnSpacing,
	})
	proc := processing.NewService(st, writer, pub, alerts, auto,
		processing.WithUnknownTopic(cfg.UnknownTopic))

	// --- Polling ---
	p := poller.New(queue, link, st, proc, poller.Config{
		Interval:  cfg.PollInterval,
		ReadDelay: cfg.PollReadDelay,
	})
	pollers := poller.NewManager(p, st)
	if err := pollers.Start(ctx); err != nil {
		log.Printf("station: ERROR poller start: %v", err)
	}

	// --- Ingest MQTT (dispositivi non seriali) ---
	if mqClient != nil {
		consumer := broker.NewConsumer(mqClient, cfg.IngestTopic, 1, proc.HandleInbound)
		go func() {
			if err := consumer.Consume(ctx); err != nil {
				log.Printf("station: ERROR ingest: %v", err)
			}
		}()
	}

	// --- HTTP + gRPC health ---
	gw := app.NewGateway(app.Config{
		Store:       st,
		Controller:  ctrl,
		Latest:      latest,
		Hub:         hub,
		Health:      health,
		HTTPTimeout: cfg.HTTPTimeout,
		Pollers:     pollers,
		Pulses:      ctrl,
		Auto:        auto,
		Reseed: func(rctx context.Context) error {
			seed, err := store.LoadSeed(cfg.SeedFile)
			if err != nil {
				return err
			}
			if err := st.Seed(rctx, seed); err != nil {
				return err
			}
			if simPort != nil {
				return answerSensors(rctx, st, simPort)
			}
			return nil
		},
	})
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	hs := app.NewHealthServer(health)
	go hs.Watch(ctx, 5*time.Second)
	go func() {
		if err := app.ServeGRPC(ctx, ":"+cfg.GRPCPort, hs); err != nil {
			log.Printf("station: ERROR gRPC health: %v", err)
		}
	}()

	log.Printf("station: up (serial=%s simulate=%v http=:%s grpc=:%s)",
		cfg.SerialPort, cfg.SerialSimulate, cfg.HTTPPort, cfg.GRPCPort)
	if err := app.RunServer(ctx, srv); err != nil {
		log.Printf("station: ERROR http server: %v", err)
		stop()
	}

	// --- Shutdown ---
	<-ctx.Done()
	shCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pollers.Stop()
	auto.Close(shCtx)
	ctrl.Close(shCtx)
	queue.Close()
	if err := link.Close(); err != nil {
		log.Printf("station: WARN serial close: %v", err)
	}
	broker.Close(mqClient)
	log.Println("station: shutdown complete")
}

// answerSensors registra sul port simulato i comandi di polling dei sensori.
func answerSensors(ctx context.Context, st *store.Store, port *sensorSimulator.FramePort) error {
	devs, err := st.SensorDevices(ctx)
	if err != nil {
		return err
	}
	for _, d := range devs {
		if err := port.AnswerDevice(d); err != nil {
			log.Printf("station: WARN simulator: %v", err)
		}
	}
	return nil
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/saviobatista/adsb-analyser/internal/analyser"
	"github.com/saviobatista/adsb-analyser/internal/bus"
	"github.com/saviobatista/adsb-analyser/internal/config"
	"github.com/saviobatista/adsb-analyser/internal/ingest"
	"github.com/saviobatista/adsb-analyser/internal/nats"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	log.Print(cfg.String())

	engine, err := analyser.New(cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	engine.Snapshots.Load()

	busClient, err := bus.New(cfg.MQTTHost, cfg.MQTTPort, cfg.MQTTTopic)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer busClient.Close()
	engine.SetSink(busClient)
	log.Printf("mqtt: connected to %s:%d, topic %s", cfg.MQTTHost, cfg.MQTTPort, cfg.MQTTTopic)

	if cfg.NATSURL != "" {
		mirror, err := nats.New(cfg.NATSURL)
		if err != nil {
			log.Printf("nats: raw mirror disabled: %v", err)
		} else {
			defer mirror.Close()
			engine.SetMirror(mirror)
			log.Printf("nats: mirroring raw feed to %s", nats.SubjectSBSRaw)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ingest.New(cfg.FeedSource, engine.ProcessLine).Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Snapshots.Run(ctx, cfg.PersistInterval)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	statusTicker := time.NewTicker(cfg.StatusInterval)
	defer statusTicker.Stop()

	for running := true; running; {
		select {
		case sig := <-sigChan:
			log.Printf("signal received (%v): shutting down", sig)
			running = false
		case <-statusTicker.C:
			engine.Status()
		}
	}

	cancel()
	wg.Wait()

	if err := engine.Snapshots.Save(); err != nil {
		log.Printf("snapshot: final save failed: %v", err)
	}
	engine.Status()
}

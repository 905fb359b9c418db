// Command overlaynode runs a single participant in the overlay: it loads
// a YAML configuration file, brings up a transport, bootstraps the
// routing table from a signaling peer, and runs the switch until
// interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dhtpubsub/config"
	"github.com/opd-ai/dhtpubsub/dispatcher"
	"github.com/opd-ai/dhtpubsub/node"
	"github.com/opd-ai/dhtpubsub/persistence"
	"github.com/opd-ai/dhtpubsub/routing"
	"github.com/opd-ai/dhtpubsub/topic"
	"github.com/opd-ai/dhtpubsub/transport"
	"github.com/opd-ai/dhtpubsub/txcache"
)

func main() {
	configPath := flag.String("config", "overlaynode.yaml", "path to the YAML configuration file")
	proto := flag.String("transport", "udp", "transport protocol: udp or tcp")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logger := logrus.New()
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(level)
	}
	logrus.SetLevel(logger.GetLevel())

	if err := run(*configPath, *proto); err != nil {
		logrus.WithFields(logrus.Fields{"error": err.Error()}).Fatal("overlaynode exited")
	}
}

func run(configPath, proto string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	secretKey, err := cfg.SecretKey()
	if err != nil {
		return fmt.Errorf("resolve secret key: %w", err)
	}

	center, err := node.NewCenter(secretKey, cfg.CenterLink())
	if err != nil {
		return fmt.Errorf("construct identity: %w", err)
	}

	var tr transport.Transport
	switch proto {
	case "udp":
		if cfg.SecureTransport {
			return fmt.Errorf("secure_transport requires the tcp transport, not udp")
		}
		tr = transport.NewUDPTransport()
	case "tcp":
		if cfg.SecureTransport {
			tr = transport.NewSecureTCPTransport(secretKey)
		} else {
			tr = transport.NewTCPTransport()
		}
	default:
		return fmt.Errorf("unknown transport %q", proto)
	}
	if err := tr.Start(cfg.CenterHost, cfg.CenterPort); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer tr.Terminate()

	table := routing.NewTable(center.Address(), cfg.BucketSize)
	cache := txcache.New(cfg.CacheLimit)
	registry := topic.NewRegistry()

	if cfg.PersistencePath != "" {
		snapshots, err := persistence.Load(cfg.PersistencePath)
		if err != nil {
			logrus.WithFields(logrus.Fields{"error": err.Error()}).Warn("failed to load topic database, starting empty")
		}
		for _, s := range snapshots {
			for _, sub := range s.Subscribers {
				registry.CreateOrTouch(s.Topic, sub)
			}
		}
	}

	disp := dispatcher.New(center, table, cache, registry, tr, cfg.Replication)
	disp.SetRepublishWindow(cfg.RepublishInterval(), cfg.ExpireAfter())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if link, configured := cfg.SignalingLink(); configured {
		disp.Bootstrap(ctx, link)
	} else {
		logrus.Info("no signaling peer configured, starting with empty routing table")
	}

	logrus.WithFields(logrus.Fields{
		"address": center.Address().String(),
		"link":    center.Link().String(),
	}).Info("overlay node started")

	disp.Run(ctx)

	if cfg.PersistencePath != "" {
		owned := registry.Owned(table.ShouldBeLocal)
		snapshots := make([]persistence.Snapshot, 0, len(owned))
		for _, rec := range owned {
			snapshots = append(snapshots, persistence.Snapshot{
				Topic:       rec.Address(),
				Touched:     time.Now(),
				Subscribers: rec.Subscribers(),
			})
		}
		if err := persistence.Save(cfg.PersistencePath, snapshots); err != nil {
			logrus.WithFields(logrus.Fields{"error": err.Error()}).Warn("failed to save topic database on shutdown")
		}
	}

	return nil
}

// collarhubd is the coordinator process: it owns the collar's local
// BLE endpoint (when reachable directly), arbitrates among connected
// forwarder agents, and exposes the local admin socket.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/collarhub/collarhub/internal/ble"
	"github.com/collarhub/collarhub/internal/config"
	"github.com/collarhub/collarhub/internal/coordinator/admin"
	"github.com/collarhub/collarhub/internal/coordinator/pool"
	"github.com/collarhub/collarhub/internal/coordinator/routing"
	"github.com/collarhub/collarhub/internal/coordinator/server"
	"github.com/collarhub/collarhub/internal/logging"
	"github.com/collarhub/collarhub/internal/version"
)

func main() {
	configPath := flag.String("config", "collarhubd.yaml", "path to coordinator config")
	dev := flag.Bool("dev", false, "use development logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("collarhubd %s (%s)\n", version.Version, version.Commit)
		return
	}

	log, err := logging.New(*dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging init:", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.LoadCoordinator(*configPath)
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}

	p := pool.New(pool.Config{
		PingInterval:   cfg.Coordinator.PingInterval(),
		StaleTimeout:   cfg.Coordinator.StaleTimeout(),
		HandoffTimeout: cfg.Coordinator.HandoffTimeout(),
		ScanDuration:   cfg.BLE.ScanDuration(),
	}, log)
	go p.Run()
	defer p.Close()

	var local *ble.Endpoint
	if cfg.BLE.DeviceAddress != "" || len(cfg.BLE.DeviceNamePatterns) > 0 {
		local = ble.NewEndpoint(ble.Config{
			DeviceAddress:        cfg.BLE.DeviceAddress,
			HCIInterfaceIndex:    cfg.BLE.HCIInterfaceIndex,
			DeviceNamePatterns:   cfg.BLE.DeviceNamePatterns,
			ScanDuration:         cfg.BLE.ScanDuration(),
			ReconnectDelay:       cfg.BLE.ReconnectDelay(),
			BatteryCheckInterval: cfg.BLE.BatteryCheckInterval(),
		}, log, ble.Callbacks{
			OnConnected: func() {
				log.Info("local endpoint ready")
				p.DemoteForLocal()
			},
			OnDisconnected: func() {
				log.Info("local endpoint disconnected")
			},
		})
		if err := local.Connect(); err != nil {
			log.Warn("local endpoint connect failed at startup", zap.Error(err))
		}
	}

	router := routing.New(local, p, log)

	wsServer := server.New(p, cfg.Coordinator.Token, cfg.Coordinator.AuthDisabled(), log)
	httpServer := &http.Server{Addr: cfg.Coordinator.ListenAddr, Handler: wsServer}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("websocket server", zap.Error(err))
		}
	}()
	log.Info("agent websocket server listening", zap.String("addr", cfg.Coordinator.ListenAddr))

	if cfg.Coordinator.AdminSocketPath != "" {
		adminServer := admin.New(cfg.Coordinator.AdminSocketPath, p, router, log)
		go func() {
			if err := adminServer.Run(); err != nil {
				log.Error("admin socket", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")
	_ = httpServer.Close()
	if local != nil {
		local.Disconnect()
	}
}

// collar-agent is the forwarder agent process: it owns a local BLE
// endpoint and relays commands to and from the coordinator over a
// persistent WebSocket connection.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/collarhub/collarhub/internal/agent"
	"github.com/collarhub/collarhub/internal/ble"
	"github.com/collarhub/collarhub/internal/config"
	"github.com/collarhub/collarhub/internal/logging"
	"github.com/collarhub/collarhub/internal/version"
)

func main() {
	configPath := flag.String("config", "collar-agent.yaml", "path to agent config")
	dev := flag.Bool("dev", false, "use development logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("collar-agent %s (%s)\n", version.Version, version.Commit)
		return
	}

	log, err := logging.New(*dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging init:", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}

	endpoint := ble.NewEndpoint(ble.Config{
		DeviceAddress:        cfg.BLE.DeviceAddress,
		HCIInterfaceIndex:    cfg.BLE.HCIInterfaceIndex,
		DeviceNamePatterns:   cfg.BLE.DeviceNamePatterns,
		ScanDuration:         cfg.BLE.ScanDuration(),
		ReconnectDelay:       cfg.BLE.ReconnectDelay(),
		BatteryCheckInterval: cfg.BLE.BatteryCheckInterval(),
	}, log, ble.Callbacks{
		OnConnected:    func() { log.Info("ble endpoint ready") },
		OnDisconnected: func() { log.Info("ble endpoint disconnected") },
	})

	rt := agent.New(cfg, endpoint, log)
	go rt.Run()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")
	rt.Stop()
	endpoint.Disconnect()
}

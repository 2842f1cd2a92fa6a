// cmd/rumbledeckd/main.go
package main

import (
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/rumbledeck/rumbledeck/internal/config"
	"github.com/rumbledeck/rumbledeck/internal/controller"
	"github.com/rumbledeck/rumbledeck/internal/drv"
	"github.com/rumbledeck/rumbledeck/internal/i2c"
	"github.com/rumbledeck/rumbledeck/internal/settings"
	"github.com/rumbledeck/rumbledeck/internal/sniffer"
)

func main() {
	app := cli.NewApp()
	app.Name = "rumbledeckd"
	app.Usage = "haptic add-on board control daemon"
	app.Version = "0.1.0"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "load configuration from `FILE`",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug logging",
		},
	}

	app.Action = serve
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(c *cli.Context) error {
	log.SetFormatter(&log.TextFormatter{DisableColors: true})
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	if cfg.SettingsPath == "" {
		path, err := settings.DefaultPath()
		if err != nil {
			return err
		}
		cfg.SettingsPath = path
	}

	// Quick open/close to surface a missing bus node or bad permissions
	// early. Not fatal: the board may be attached later.
	if conn, err := i2c.Open(cfg.Bus); err != nil {
		log.Warnf("i2c bus %d not usable yet: %v", cfg.Bus, err)
	} else {
		conn.Close()
	}

	// --------------------
	// Wire the controller
	// --------------------

	bus := i2c.Bus{Number: cfg.Bus}
	ctrl := controller.New(
		&drv.Device{Bus: bus, Addr: cfg.DrvAddr},
		&drv.Mux{Bus: bus, Addr: cfg.MuxAddr},
		settings.New(cfg.SettingsPath),
		sniffer.New(cfg.SnifferPath),
	)

	// Replay persisted device state onto the (possibly reset) hardware.
	ctrl.Reconcile()

	log.Infof("rumbledeckd started (bus=%d drv=0x%02X mux=0x%02X)",
		cfg.Bus, cfg.DrvAddr, cfg.MuxAddr)

	// --------------------
	// Block until shutdown
	// --------------------

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	ctrl.StopSniffer()
	log.Info("rumbledeckd stopped")
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/bilal/router-rebooter/internal/config"
	"github.com/bilal/router-rebooter/internal/decision"
	"github.com/bilal/router-rebooter/internal/logger"
	"github.com/bilal/router-rebooter/internal/monitor"
	"github.com/bilal/router-rebooter/internal/probe"
	"github.com/bilal/router-rebooter/internal/relay"
	"github.com/bilal/router-rebooter/internal/server"
	"github.com/bilal/router-rebooter/internal/telemetry"
)

const eventLogSize = 500

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "rebooterd",
		Short: "Monitors internet reachability and power-cycles the router through a relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "path to configuration file")

	initConfigCmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a commented default configuration file and exit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Printf("created default configuration file: %s\n", path)
			return nil
		},
	}
	rootCmd.AddCommand(initConfigCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log.Info().Str("config", cfgFile).Msg("starting router rebooter")

	// GPIO setup, fatal on failure: there is no point probing without a
	// working relay.
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("init gpio host: %w", err)
	}
	pin := gpioreg.ByName(strconv.Itoa(cfg.GPIO.RelayPin))
	if pin == nil {
		return fmt.Errorf("gpio pin %d not found", cfg.GPIO.RelayPin)
	}
	actuator, err := relay.New(pin, cfg.GPIO.ActiveLow)
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}
	// the line must end up deasserted on every exit path
	defer func() {
		if err := actuator.Close(); err != nil {
			log.Error().Err(err).Msg("relay cleanup failed")
		}
	}()

	tracker := decision.NewTracker(eventLogSize)

	prober, err := probe.New(cfg.Network.Hosts, cfg.Network.Retries, cfg.Network.Timeout(), cfg.Network.PacketSize)
	if err != nil {
		return fmt.Errorf("init prober: %w", err)
	}

	fw, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	if fw != nil {
		fw.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	srv := server.New(cfg, tracker, actuator, fw)
	srvErr := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	mon := monitor.New(cfg, prober, tracker, actuator, fw)
	monErr := make(chan error, 1)
	go func() { monErr <- mon.Run(ctx) }()

	var runErr error
	select {
	case sig := <-sigChan:
		log.Warn().Str("signal", sig.String()).Msg("shutdown signal received")
	case runErr = <-monErr:
		// nil only when ctx was cancelled, which cannot happen before a
		// signal; treat any arrival here as a hardware fault
	case runErr = <-srvErr:
		log.Error().Err(runErr).Msg("control surface failed")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	log.Info().Msg("stopping control surface...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("control surface shutdown failed")
	}

	if fw != nil {
		log.Info().Msg("stopping telemetry forwarder...")
		fw.Shutdown(shutdownCtx)
	}

	if runErr != nil {
		log.Error().Err(runErr).Msg("exiting after hardware failure")
		return runErr
	}
	log.Info().Msg("router rebooter stopped cleanly")
	return nil
}

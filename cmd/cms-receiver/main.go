// Command cms-receiver runs a multi-protocol CMS alarm receiver emulator:
// one TCP listener per configured protocol, each driven by an independently
// controllable ACK/NAK/NO_RESPONSE/DROP_N/DELAY_N/TIME_CUSTOM mode engine,
// plus stdin and TCP operator command intake and an optional Prometheus
// metrics endpoint.
//
// Bootstrap/shutdown shape follows this repo's usual build-components,
// start-goroutines, block-on-signal, shut-down-in-order flow, generalized
// to spf13/cobra+pflag (see DESIGN.md).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cms-emu/receiver/internal/command"
	"github.com/cms-emu/receiver/internal/config"
	"github.com/cms-emu/receiver/internal/dialect"
	_ "github.com/cms-emu/receiver/internal/dialect/manitou"
	_ "github.com/cms-emu/receiver/internal/dialect/masxml"
	_ "github.com/cms-emu/receiver/internal/dialect/microkey"
	_ "github.com/cms-emu/receiver/internal/dialect/sentinel"
	_ "github.com/cms-emu/receiver/internal/dialect/siadc09"
	"github.com/cms-emu/receiver/internal/health"
	"github.com/cms-emu/receiver/internal/logx"
	"github.com/cms-emu/receiver/internal/metrics"
	"github.com/cms-emu/receiver/internal/modeengine"
	"github.com/cms-emu/receiver/internal/receiver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// registry implements command.Registry over the set of drivers this process
// started, plus a mutable logger whose level "loglevel" updates live.
type registry struct {
	mu      sync.RWMutex
	drivers map[string]*receiver.Driver
	log     *logx.Logger
}

func (r *registry) Engine(name string) (*modeengine.Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	drv, ok := r.drivers[name]
	if !ok {
		return nil, false
	}
	return drv.Engine, true
}

func (r *registry) SetLogLevel(level string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.SetLevel(logx.ParseLevel(level))
	return nil
}

func main() {
	var configPath string
	var only []string

	root := &cobra.Command{
		Use:           "cms-receiver",
		Short:         "Multi-protocol CMS alarm receiver emulator",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, only)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the receiver's YAML configuration")
	root.Flags().StringSliceVar(&only, "only", nil, "restrict to these receiver names (default: every configured receiver)")
	root.AddCommand(newHealthcheckCmd(&configPath))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string, only []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logx.New(cfg.Logging.LogDir, cfg.Logging.Level)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	receivers := cfg.Receivers
	if len(only) > 0 {
		wanted := make(map[string]bool, len(only))
		for _, name := range only {
			wanted[strings.ToLower(name)] = true
		}
		filtered := receivers[:0]
		for _, r := range receivers {
			if wanted[r.Name] {
				filtered = append(filtered, r)
			}
		}
		receivers = filtered
		for name := range wanted {
			if _, ok := cfg.Port(name); !ok {
				return fmt.Errorf("--only references unknown receiver %q", name)
			}
		}
	}
	if len(receivers) == 0 {
		return fmt.Errorf("no receivers configured")
	}

	reg2 := &registry{drivers: make(map[string]*receiver.Driver), log: log}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, rc := range receivers {
		d, ok := dialect.New(rc.Name)
		if !ok {
			return fmt.Errorf("no dialect registered for receiver %q", rc.Name)
		}
		drv := receiver.NewDriver(rc.Name, rc.Port, d, cfg.Logging.MediaRoot, 0, log, m)
		reg2.drivers[rc.Name] = drv

		wg.Add(1)
		go func(drv *receiver.Driver, port int) {
			defer wg.Done()
			addr := fmt.Sprintf("0.0.0.0:%d", port)
			if err := drv.Serve(ctx, addr); err != nil {
				log.Error("receiver stopped", "protocol", drv.Name, "error", err)
			}
		}(drv, rc.Port)
	}

	parser := command.NewParser(reg2)
	intake := command.NewIntake(parser, log.Logger)
	go intake.RunStdin(ctx)

	if cfg.CommandAddr != "" {
		listener, err := net.Listen("tcp", cfg.CommandAddr)
		if err != nil {
			return fmt.Errorf("command port %s: %w", cfg.CommandAddr, err)
		}
		log.Info("command port listening", "addr", cfg.CommandAddr)
		go intake.RunTCP(ctx, listener)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr, reg); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), receiver.ShutdownGrace)
	defer shutdownCancel()
	for _, drv := range reg2.drivers {
		drv.Shutdown(shutdownCtx)
	}
	wg.Wait()
	return nil
}

// newHealthcheckCmd builds the "healthcheck" subcommand: dial every
// configured receiver's port, and the metrics endpoint if one is
// configured, reporting the first failure.
func newHealthcheckCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe a running receiver's ports and metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			for _, r := range cfg.Receivers {
				addr := fmt.Sprintf("127.0.0.1:%d", r.Port)
				if err := health.CheckReceiver(ctx, addr); err != nil {
					return fmt.Errorf("%s: %w", r.Name, err)
				}
			}
			if cfg.MetricsAddr != "" {
				if err := health.CheckMetrics(ctx, "http://"+cfg.MetricsAddr); err != nil {
					return err
				}
			}
			fmt.Println("ok")
			return nil
		},
	}
}

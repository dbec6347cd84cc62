package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	senderConfig "github.com/aditiharini/drone-mesh/config/packet-sender"
	config "github.com/aditiharini/drone-mesh/config/simulator"
	"github.com/aditiharini/drone-mesh/network"
	"github.com/aditiharini/drone-mesh/simulation"
	trace "github.com/aditiharini/drone-mesh/traces"
)

var (
	configFile  string
	trafficFile string
	traceFile   string
	metricsAddr string
	logLevel    string
	logFormat   string
	duration    time.Duration
	lossTraces  map[string]string
)

var rootCmd = &cobra.Command{
	Use:   "simulator",
	Short: "Run a drone mesh simulation from a topology config",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "config/simulator/chain.json", "initial topology config")
	rootCmd.Flags().StringVarP(&trafficFile, "traffic", "t", "", "client traffic config")
	rootCmd.Flags().StringVar(&traceFile, "trace", "", "bbolt file to record packet events in")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics", "", "address to serve prometheus metrics on, e.g. :2121")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "logrus level")
	rootCmd.Flags().StringVar(&logFormat, "log-format", "json", "json or text")
	rootCmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this long; 0 runs until the traffic is done or a signal arrives")
	rootCmd.Flags().StringToStringVar(&lossTraces, "loss", nil, "drone=file loss traces to replay, e.g. 2=loss.csv")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func setupLogging() error {
	lvl, err := log.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	switch logFormat {
	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.StampMicro,
		})
	case "text":
		log.SetFormatter(&log.TextFormatter{
			DisableColors:   true,
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	default:
		return fmt.Errorf("unknown log format %q", logFormat)
	}
	log.SetOutput(os.Stdout)
	return nil
}

func run(ctx context.Context) error {
	if err := setupLogging(); err != nil {
		return err
	}
	conf, err := config.ReadConfig(configFile)
	if err != nil {
		return err
	}

	var opts []simulation.Option
	if metricsAddr != "" {
		metrics := simulation.NewMetrics("drone_mesh")
		opts = append(opts, simulation.WithMetrics(metrics))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.WithFields(log.Fields{"event": "metrics_failed", "addr": metricsAddr}).Error(err)
			}
		}()
	}

	if traceFile != "" {
		store, err := trace.OpenStore(traceFile)
		if err != nil {
			return err
		}
		defer store.Close()
		runID, err := store.NewRun(configFile, time.Now())
		if err != nil {
			return err
		}
		recorder := trace.NewRecorder(store, runID)
		defer func() {
			if err := recorder.Close(); err != nil {
				log.WithFields(log.Fields{"event": "trace_flush_failed", "run": runID}).Error(err)
			}
		}()
		opts = append(opts, simulation.WithEventSink(recorder))
		log.WithFields(log.Fields{"event": "trace_run", "run": runID, "file": traceFile}).Info()
	}

	sim, err := simulation.NewSimulator(conf, opts...)
	if err != nil {
		return err
	}
	sim.Start()
	defer sim.Stop()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	for drone, file := range lossTraces {
		id, err := strconv.ParseUint(drone, 10, 8)
		if err != nil {
			return fmt.Errorf("loss trace drone %q: %w", drone, err)
		}
		lossTrace, err := simulation.LoadLossTrace(file)
		if err != nil {
			return err
		}
		if err := sim.ReplayLossTrace(ctx, network.NodeID(id), lossTrace); err != nil {
			return err
		}
	}

	if trafficFile != "" {
		traffic, err := senderConfig.ReadConfig(trafficFile)
		if err != nil {
			return err
		}
		for _, res := range runTraffic(ctx, sim, traffic) {
			log.WithFields(res.fields()).Info()
		}
		if duration == 0 {
			return nil
		}
	}

	<-ctx.Done()
	return nil
}

// Command eventbufd runs a standalone event buffer: it replays chunks backed up by a prior run,
// forwards sealed chunks to a fluentd-compatible upstream, and on SIGINT/SIGTERM persists whatever
// is still undelivered to disk. It opens no record intake of its own: nothing in this command
// calls Append.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/relex/eventbuf/base"
	"github.com/relex/eventbuf/defs"
	"github.com/relex/eventbuf/encoder"
	"github.com/relex/eventbuf/eventbuffer"
	"github.com/relex/eventbuf/transport/fluentdforward"
	"github.com/relex/eventbuf/util"
	"github.com/relex/gotils/logger"
)

func main() {
	configPath := flag.String("config", "config.yml", "configuration file path")
	metricsAddr := flag.String("metrics-addr", ":9336", "listener address for Prometheus metrics and debug information")
	flag.Parse()

	var cfg eventbuffer.Config
	if err := util.UnmarshalYamlFile(*configPath, &cfg); err != nil {
		logger.Fatalf("failed to load config from %s: %s", *configPath, err.Error())
	}
	if err := cfg.VerifyConfig(); err != nil {
		logger.Fatalf("invalid config: %s", err.Error())
	}

	metricFactory := base.NewMetricFactory("eventbuf_", nil, nil)
	msrv := util.LaunchMetricsListener(*metricsAddr, metricFactory)

	transporter := fluentdforward.New(logger.Root(), cfg.Upstream)
	buf, err := eventbuffer.New(logger.Root(), cfg, encoder.New(defs.DefaultEncodeBufferHint), transporter, metricFactory)
	if err != nil {
		logger.Fatalf("failed to construct buffer: %s", err.Error())
	}

	ctx := context.Background()
	if err := buf.Init(ctx); err != nil {
		logger.Fatalf("failed to replay backed-up chunks: %s", err.Error())
	}
	buf.Start(ctx, cfg.FlushInterval)

	runLogger := logger.WithField(defs.LabelComponent, "Launcher")
	sigChan := make(chan os.Signal, 10)
	signal.Notify(sigChan, syscall.SIGINT)
	signal.Notify(sigChan, syscall.SIGTERM)
	s := <-sigChan
	runLogger.Infof("received %s, shutting down", s)

	if err := buf.Close(ctx); err != nil {
		runLogger.Errorf("error during shutdown: %s", err.Error())
	}
	if err := transporter.Close(); err != nil {
		runLogger.Errorf("error closing transporter: %s", err.Error())
	}
	if err := msrv.Shutdown(ctx); err != nil {
		runLogger.Errorf("error shutting down metrics listener: %s", err.Error())
	}
	runLogger.Info("clean exit")
}

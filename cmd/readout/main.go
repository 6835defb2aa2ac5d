// Command readout starts a data-acquisition pipeline from a flat
// key-value configuration file: one or more equipment producers feeding
// a shared aggregator and consumer fan-out.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/alice-fair/readout"
	"github.com/alice-fair/readout/internal/config"
	"github.com/alice-fair/readout/internal/consumer"
	"github.com/alice-fair/readout/internal/logging"
	"github.com/alice-fair/readout/internal/sink"
	"github.com/alice-fair/readout/internal/source"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a readout config file (required)")
		verbose    = flag.Bool("v", false, "verbose (debug-level) logging")
	)
	flag.Parse()

	if *configPath == "" {
		log.Fatal("missing -config")
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	f, err := os.Open(*configPath)
	if err != nil {
		logger.Error("failed to open config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	cfg, err := config.Parse(f)
	f.Close()
	if err != nil {
		logger.Error("failed to parse config", "error", err)
		os.Exit(1)
	}

	params, options, err := buildParams(cfg, logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeline, err := readout.Create(ctx, params, options)
	if err != nil {
		logger.Error("failed to create pipeline", "error", err)
		os.Exit(1)
	}
	logger.Info("pipeline running", "run_number", params.RunNumber, "equipment", len(params.Equipment))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	if err := pipeline.Stop(); err != nil {
		logger.Error("error stopping pipeline", "error", err)
		os.Exit(1)
	}
	logger.Info("pipeline stopped")
}

// buildParams translates a flat config into PipelineParams/Options.
func buildParams(cfg *config.Config, logger *logging.Logger) (readout.PipelineParams, *readout.Options, error) {
	runNumber, err := cfg.GetInt("run-number", 1)
	if err != nil {
		return readout.PipelineParams{}, nil, fmt.Errorf("run-number: %w", err)
	}
	bankSize, err := cfg.GetSize("bank-size", readout.DefaultBankSize)
	if err != nil {
		return readout.PipelineParams{}, nil, fmt.Errorf("bank-size: %w", err)
	}
	useHugepages, err := cfg.GetBool("use-hugepages", false)
	if err != nil {
		return readout.PipelineParams{}, nil, fmt.Errorf("use-hugepages: %w", err)
	}
	tfPeriod, err := cfg.GetInt("tf-period-orbits", readout.DefaultTFPeriodOrbits)
	if err != nil {
		return readout.PipelineParams{}, nil, fmt.Errorf("tf-period-orbits: %w", err)
	}
	enableStf, err := cfg.GetBool("enable-stf-building", false)
	if err != nil {
		return readout.PipelineParams{}, nil, fmt.Errorf("enable-stf-building: %w", err)
	}

	equipment, err := buildEquipment(cfg, logger)
	if err != nil {
		return readout.PipelineParams{}, nil, err
	}
	consumers, err := buildConsumers(cfg)
	if err != nil {
		return readout.PipelineParams{}, nil, err
	}

	params := readout.PipelineParams{
		RunNumber:         uint32(runNumber),
		BankSize:          bankSize,
		UseHugepages:      useHugepages,
		Equipment:         equipment,
		Consumers:         consumers,
		TFPeriodOrbits:    uint32(tfPeriod),
		EnableStfBuilding: enableStf,
	}

	options := &readout.Options{
		Logger:    logger,
		StatsAddr: cfg.GetString("stats-addr", ""),
	}
	return params, options, nil
}

func buildEquipment(cfg *config.Config, logger *logging.Logger) ([]readout.EquipmentParams, error) {
	var out []readout.EquipmentParams
	for _, sec := range cfg.Sections("equipment") {
		equipmentID, err := sec.GetInt("equipment-id", 0)
		if err != nil {
			return nil, fmt.Errorf("equipment %s: equipment-id: %w", sec.Name, err)
		}
		linkID, err := sec.GetInt("link-id", 0)
		if err != nil {
			return nil, fmt.Errorf("equipment %s: link-id: %w", sec.Name, err)
		}
		pageSize, err := sec.GetSize("page-size", int64(readout.DefaultPageSize))
		if err != nil {
			return nil, fmt.Errorf("equipment %s: page-size: %w", sec.Name, err)
		}
		pageCount, err := sec.GetInt("page-count", int64(readout.DefaultPageCount))
		if err != nil {
			return nil, fmt.Errorf("equipment %s: page-count: %w", sec.Name, err)
		}
		orbitRate, err := sec.GetFloat("orbit-rate", 11245.6)
		if err != nil {
			return nil, fmt.Errorf("equipment %s: orbit-rate: %w", sec.Name, err)
		}
		payloadSize, err := sec.GetInt("payload-size", 1024)
		if err != nil {
			return nil, fmt.Errorf("equipment %s: payload-size: %w", sec.Name, err)
		}
		rdhCheck, err := sec.GetBool("rdh-check", false)
		if err != nil {
			return nil, fmt.Errorf("equipment %s: rdh-check: %w", sec.Name, err)
		}
		dropEmpty, err := sec.GetBool("drop-empty-heartbeats", false)
		if err != nil {
			return nil, fmt.Errorf("equipment %s: drop-empty-heartbeats: %w", sec.Name, err)
		}
		stopOnError, err := sec.GetBool("stop-on-error", false)
		if err != nil {
			return nil, fmt.Errorf("equipment %s: stop-on-error: %w", sec.Name, err)
		}
		tfRateHz, err := sec.GetFloat("tf-rate-hz", 0)
		if err != nil {
			return nil, fmt.Errorf("equipment %s: tf-rate-hz: %w", sec.Name, err)
		}
		errorSinkMax, err := sec.GetInt("error-sink-max", int64(readout.DefaultErrorSinkMax))
		if err != nil {
			return nil, fmt.Errorf("equipment %s: error-sink-max: %w", sec.Name, err)
		}

		var errorSink sink.Sink
		if path, ok := sec.Get("error-sink-path"); ok && path != "" {
			errorSink = sink.NewFile(sink.FileConfig{Path: path})
		}

		cpus, err := parseIntList(sec.GetString("cpu-affinity", ""))
		if err != nil {
			return nil, fmt.Errorf("equipment %s: cpu-affinity: %w", sec.Name, err)
		}

		out = append(out, readout.EquipmentParams{
			Name:        sec.Name,
			EquipmentID: uint16(equipmentID),
			LinkID:      uint8(linkID),
			PageSize:    int(pageSize),
			PageCount:   int(pageCount),
			BankName:    "main",
			Source: source.NewGenerator(source.GeneratorConfig{
				LinkID:      uint8(linkID),
				EquipmentID: uint16(equipmentID),
				OrbitRate:   orbitRate,
				PayloadSize: int(payloadSize),
			}),
			RDHCheckEnabled:     rdhCheck,
			ErrorSink:           errorSink,
			ErrorSinkMax:        int(errorSinkMax),
			DropEmptyHeartbeats: dropEmpty,
			StopOnError:         stopOnError,
			TFRateHz:            tfRateHz,
			CPUAffinity:         cpus,
		})
	}
	if logger != nil && len(out) == 0 {
		logger.Warn("no equipment-* sections configured")
	}
	return out, nil
}

func buildConsumers(cfg *config.Config) ([]readout.ConsumerParams, error) {
	var out []readout.ConsumerParams
	for _, sec := range cfg.Sections("consumer") {
		s, err := buildSink(sec)
		if err != nil {
			return nil, fmt.Errorf("consumer %s: %w", sec.Name, err)
		}
		filter, err := buildFilter(sec)
		if err != nil {
			return nil, fmt.Errorf("consumer %s: %w", sec.Name, err)
		}
		stopOnError, err := sec.GetBool("stop-on-error", false)
		if err != nil {
			return nil, fmt.Errorf("consumer %s: stop-on-error: %w", sec.Name, err)
		}
		out = append(out, readout.ConsumerParams{
			Name:        sec.Name,
			Sink:        s,
			Filter:      filter,
			StopOnError: stopOnError,
		})
	}
	if len(out) == 0 {
		out = append(out, readout.ConsumerParams{Name: "discard", Sink: sink.NewDiscard()})
	}
	return out, nil
}

func buildSink(sec config.Section) (sink.Sink, error) {
	path := sec.GetString("sink", "discard")
	if path == "discard" || path == "" {
		return sink.NewDiscard(), nil
	}
	return sink.NewFile(sink.FileConfig{Path: path}), nil
}

func buildFilter(sec config.Section) (consumer.Filter, error) {
	linkInclude, err := parseU8List(sec.GetString("link-include", ""))
	if err != nil {
		return consumer.Filter{}, fmt.Errorf("link-include: %w", err)
	}
	linkExclude, err := parseU8List(sec.GetString("link-exclude", ""))
	if err != nil {
		return consumer.Filter{}, fmt.Errorf("link-exclude: %w", err)
	}
	equipInclude, err := parseU16List(sec.GetString("equipment-include", ""))
	if err != nil {
		return consumer.Filter{}, fmt.Errorf("equipment-include: %w", err)
	}
	equipExclude, err := parseU16List(sec.GetString("equipment-exclude", ""))
	if err != nil {
		return consumer.Filter{}, fmt.Errorf("equipment-exclude: %w", err)
	}
	return consumer.Filter{
		LinkIDInclude:      linkInclude,
		LinkIDExclude:      linkExclude,
		EquipmentIDInclude: equipInclude,
		EquipmentIDExclude: equipExclude,
	}, nil
}

func parseIntList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseU8List(s string) ([]uint8, error) {
	ints, err := parseIntList(s)
	if err != nil {
		return nil, err
	}
	out := make([]uint8, len(ints))
	for i, v := range ints {
		out[i] = uint8(v)
	}
	return out, nil
}

func parseU16List(s string) ([]uint16, error) {
	ints, err := parseIntList(s)
	if err != nil {
		return nil, err
	}
	out := make([]uint16, len(ints))
	for i, v := range ints {
		out[i] = uint16(v)
	}
	return out, nil
}

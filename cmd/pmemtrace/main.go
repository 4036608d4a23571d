// Command pmemtrace replays a line-oriented event trace through the
// durability checker. The trace is what an instrumentation front end would
// emit: one store/flush/fence event per line, plus region lifecycle and
// crash-simulation control events.
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/INLOpen/pmemtrace/config"
	"github.com/INLOpen/pmemtrace/engine"
)

func main() {
	configPath := flag.String("config", "pmemtrace.yaml", "Path to the configuration file")
	tracePath := flag.String("trace", "", "Path to the event trace (default: stdin)")
	verifierPath := flag.String("verifier", "", "Verifier executable (overrides the config file)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *verifierPath != "" {
		cfg.Verifier.Path = *verifierPath
	}

	logger, logCloser, err := createLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	slog.SetDefault(logger)

	var trace io.Reader = os.Stdin
	if *tracePath != "" {
		f, err := os.Open(*tracePath)
		if err != nil {
			logger.Error("Failed to open trace file", "path", *tracePath, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		trace = f
	}

	eng, err := engine.New(engine.Options{Config: cfg, Logger: logger})
	if err != nil {
		logger.Error("Failed to create engine", "error", err)
		os.Exit(1)
	}

	replay(trace, eng, logger)

	if err := eng.Close(); err != nil {
		logger.Error("Shutdown failed", "error", err)
		os.Exit(1)
	}
}

// replay feeds trace events to the engine. Malformed lines are reported with
// their line number and skipped; the replay itself never aborts.
func replay(r io.Reader, eng *engine.Engine, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := apply(eng, strings.Fields(line)); err != nil {
			logger.Warn("Skipping trace line", "line", lineNo, "error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error("Failed to read trace", "error", err)
	}
}

func apply(eng *engine.Engine, fields []string) error {
	switch op := fields[0]; op {
	case "register":
		if len(fields) != 4 {
			return fmt.Errorf("register wants <name> <hexaddr> <size>")
		}
		base, err := parseAddr(fields[2])
		if err != nil {
			return err
		}
		size, err := strconv.ParseUint(fields[3], 10, 64)
		if err != nil {
			return fmt.Errorf("bad size %q: %w", fields[3], err)
		}
		return eng.RegisterRegion(fields[1], base, size)
	case "unregister":
		if len(fields) != 2 {
			return fmt.Errorf("unregister wants <name>")
		}
		return eng.UnregisterRegionByName(fields[1])
	case "transient":
		if len(fields) != 3 {
			return fmt.Errorf("transient wants <hexaddr> <size>")
		}
		base, err := parseAddr(fields[1])
		if err != nil {
			return err
		}
		size, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return fmt.Errorf("bad size %q: %w", fields[2], err)
		}
		eng.MarkTransient(base, size)
		return nil
	case "store":
		if len(fields) != 4 {
			return fmt.Errorf("store wants <tid> <hexaddr> <hexbytes>")
		}
		tid, addr, err := parseTidAddr(fields[1], fields[2])
		if err != nil {
			return err
		}
		data, err := hex.DecodeString(fields[3])
		if err != nil {
			return fmt.Errorf("bad store data %q: %w", fields[3], err)
		}
		eng.Store(tid, addr, data)
		return nil
	case "flush", "flushfence":
		if len(fields) != 3 {
			return fmt.Errorf("%s wants <tid> <hexaddr>", op)
		}
		tid, addr, err := parseTidAddr(fields[1], fields[2])
		if err != nil {
			return err
		}
		if op == "flush" {
			eng.Flush(tid, addr)
		} else {
			eng.FlushFence(tid, addr)
		}
		return nil
	case "fence":
		if len(fields) != 2 {
			return fmt.Errorf("fence wants <tid>")
		}
		tid, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("bad tid %q: %w", fields[1], err)
		}
		eng.Fence(tid)
		return nil
	case "crash":
		eng.ForceCrash()
		return nil
	case "enable":
		eng.EnableCrashSim()
		return nil
	case "disable":
		eng.DisableCrashSim()
		return nil
	default:
		return fmt.Errorf("unknown event %q", op)
	}
}

func parseTidAddr(tidField, addrField string) (tid, addr uint64, err error) {
	tid, err = strconv.ParseUint(tidField, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad tid %q: %w", tidField, err)
	}
	addr, err = parseAddr(addrField)
	return tid, addr, err
}

func parseAddr(s string) (uint64, error) {
	addr, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: %w", s, err)
	}
	return addr, nil
}

func createLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = file
		closer = file // The file handle is the closer.
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}

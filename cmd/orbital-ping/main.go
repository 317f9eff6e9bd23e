// Command orbital-ping spawns itself as a worker and plays ping-pong with it
// over an orbital channel.
package main

import (
	"context"
	"flag"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/richinsley/orbital"
	"github.com/richinsley/orbital/internal/logging"
	orbitalotel "github.com/richinsley/orbital/otel"
)

type pingMessage struct {
	Round  int       `msgpack:"round"`
	SentAt time.Time `msgpack:"sent_at"`
}

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	logging.ConfigureRuntime()
	cfg := defaultPingConfig()
	if *configPath != "" {
		var err error
		cfg, err = loadPingConfig(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load config")
		}
	}
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		zerolog.SetGlobalLevel(lvl)
	}

	var ser orbital.Serializer = orbital.MsgpackSerializer{}
	if cfg.Compress {
		zs, err := orbital.NewZstdSerializer(nil)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build serializer")
		}
		defer zs.Close()
		ser = zs
	}

	shutdown, err := setupTelemetry(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up telemetry")
	}

	if os.Getenv(cfg.Env) != "" {
		runWorker(cfg, ser, shutdown)
		return
	}
	runHost(cfg, *configPath, ser, shutdown)
}

func runHost(cfg pingConfig, configPath string, ser orbital.Serializer, shutdown func()) {
	logger := log.With().Str("side", "host").Logger()
	exits := make(chan int, 1)
	p := orbital.NewProtocol(
		orbital.WithLogger(logger),
		orbital.WithExit(func(code int) {
			select {
			case exits <- code:
			default:
			}
		}),
	)
	if cfg.Trace || cfg.Metrics {
		orbitalotel.Instrument(p, orbitalotel.DefaultConfig())
	}

	sendPing := func(round int) {
		v, err := orbital.BinaryValue(ser, pingMessage{Round: round, SentAt: time.Now()})
		if err == nil {
			err = p.Notify("ping", v)
		}
		if err != nil {
			logger.Error().Err(err).Int("round", round).Msg("ping failed")
		}
	}

	finish := func() {
		fut, err := p.Call("echo", "orbital")
		if err != nil {
			logger.Error().Err(err).Msg("echo failed")
			p.Close()
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		values, err := fut.Wait(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("echo did not return")
		} else if len(values) > 0 {
			var s string
			if err := values[0].Decode(&s); err != nil {
				logger.Warn().Err(err).Msg("echo returned a non-string")
			}
			logger.Info().Str("echo", s).Msg("echo returned")
		} else {
			logger.Warn().Msg("echo returned no values")
		}
		p.Close()
	}

	p.RegisterFunc("log", func(ctx context.Context, args []orbital.Value) (interface{}, error) {
		var entry map[string]interface{}
		if err := args[0].Decode(&entry); err != nil {
			return nil, err
		}
		logger.Info().Fields(entry).Msg("worker log")
		return nil, nil
	})
	p.RegisterFunc("pong", func(ctx context.Context, args []orbital.Value) (interface{}, error) {
		var msg pingMessage
		if err := args[0].DecodeWith(ser, &msg); err != nil {
			return nil, err
		}
		logger.Info().Int("round", msg.Round).Dur("rtt", time.Since(msg.SentAt)).Msg("pong")
		if msg.Round >= cfg.Rounds {
			go finish()
			return nil, nil
		}
		time.AfterFunc(cfg.Interval, func() { sendPing(msg.Round + 1) })
		return nil, nil
	})

	exe, err := os.Executable()
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot locate executable")
	}
	args := []string{}
	if configPath != "" {
		args = append(args, "-config", configPath)
	}
	worker, err := orbital.Bootstrap(p, orbital.BootstrapConfig{
		Env:     cfg.Env,
		Command: exec.Command(exe, args...),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("bootstrap failed")
	}

	if cfg.Rounds > 0 {
		sendPing(1)
	} else {
		go finish()
	}

	code := <-exits
	if err := worker.Terminate(); err != nil {
		logger.Warn().Err(err).Msg("terminate worker")
	}
	shutdown()
	os.Exit(code)
}

func runWorker(cfg pingConfig, ser orbital.Serializer, shutdown func()) {
	logger := log.With().Str("side", "worker").Logger()
	p := orbital.NewProtocol(
		orbital.WithLogger(logger),
		orbital.WithExit(func(code int) {
			shutdown()
			os.Exit(code)
		}),
	)
	if cfg.Trace || cfg.Metrics {
		orbitalotel.Instrument(p, orbitalotel.DefaultConfig())
	}

	p.RegisterFunc("ping", func(ctx context.Context, args []orbital.Value) (interface{}, error) {
		var msg pingMessage
		if err := args[0].DecodeWith(ser, &msg); err != nil {
			return nil, err
		}
		if err := p.Notify("log", map[string]interface{}{"msg": "ping received", "round": msg.Round}); err != nil {
			return nil, err
		}
		return nil, p.Notify("pong", args[0])
	})
	p.RegisterFunc("echo", func(ctx context.Context, args []orbital.Value) (interface{}, error) {
		if len(args) == 0 {
			return nil, nil
		}
		return args[0], nil
	})

	if _, err := orbital.Bootstrap(p, orbital.BootstrapConfig{Env: cfg.Env}); err != nil {
		logger.Fatal().Err(err).Msg("bootstrap failed")
	}
	select {}
}

// setupTelemetry installs stdout exporters as the global providers when
// enabled. The returned function flushes and stops them.
func setupTelemetry(cfg pingConfig) (func(), error) {
	var stops []func(context.Context) error

	if cfg.Trace {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		stops = append(stops, tp.Shutdown)
	}

	if cfg.Metrics {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
		if err != nil {
			return nil, err
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
		otel.SetMeterProvider(mp)
		stops = append(stops, mp.Shutdown)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, stop := range stops {
			if err := stop(ctx); err != nil {
				log.Warn().Err(err).Msg("telemetry shutdown")
			}
		}
	}, nil
}

package main

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gobuffalo/envy"
	"github.com/joho/godotenv"
	"github.com/vkngwrapper/conductor/driver/soft"
)

type config struct {
	Frames            int
	Objects           int
	Mode              soft.ExecutionMode
	Latency           time.Duration
	MaxFramesInFlight int
	UploadPageSize    int
	WindowSize        int
	CapturePath       string
	StatsPath         string
	Verbose           bool
}

var modesByName = map[string]soft.ExecutionMode{
	"immediate": soft.ExecuteImmediate,
	"manual":    soft.ExecuteManual,
	"async":     soft.ExecuteAsync,
}

func envInt(key string, fallback int) (int, error) {
	value, err := strconv.Atoi(envy.Get(key, strconv.Itoa(fallback)))
	if err != nil {
		return 0, errors.Wrapf(err, "%s must be an integer", key)
	}
	return value, nil
}

// loadConfig reads CONDUCTOR_* variables, from envFile if it exists and the environment otherwise,
// and then applies command line overrides
func loadConfig(envFile string, args []string) (config, error) {
	var cfg config

	if _, err := os.Stat(envFile); err == nil {
		err = godotenv.Load(envFile)
		if err != nil {
			return cfg, errors.Wrapf(err, "failed to load %s", envFile)
		}
		envy.Reload()
	}

	var err error
	if cfg.Frames, err = envInt("CONDUCTOR_FRAMES", 120); err != nil {
		return cfg, err
	}
	if cfg.Objects, err = envInt("CONDUCTOR_OBJECTS", 16); err != nil {
		return cfg, err
	}
	if cfg.MaxFramesInFlight, err = envInt("CONDUCTOR_FRAMES_IN_FLIGHT", 3); err != nil {
		return cfg, err
	}
	if cfg.UploadPageSize, err = envInt("CONDUCTOR_UPLOAD_PAGE_SIZE", 64*1024); err != nil {
		return cfg, err
	}
	if cfg.WindowSize, err = envInt("CONDUCTOR_WINDOW_SIZE", 256); err != nil {
		return cfg, err
	}
	latency, err := time.ParseDuration(envy.Get("CONDUCTOR_LATENCY", "0s"))
	if err != nil {
		return cfg, errors.Wrap(err, "CONDUCTOR_LATENCY must be a duration")
	}
	cfg.Latency = latency

	mode := envy.Get("CONDUCTOR_MODE", "async")
	cfg.CapturePath = envy.Get("CONDUCTOR_CAPTURE", "")
	cfg.StatsPath = envy.Get("CONDUCTOR_STATS", "")

	flags := flag.NewFlagSet("conductor-bench", flag.ContinueOnError)
	flags.IntVar(&cfg.Frames, "frames", cfg.Frames, "number of frames to record")
	flags.IntVar(&cfg.Objects, "objects", cfg.Objects, "draws per frame")
	flags.IntVar(&cfg.MaxFramesInFlight, "inflight", cfg.MaxFramesInFlight, "frames the CPU may run ahead of the GPU")
	flags.IntVar(&cfg.UploadPageSize, "upload-page", cfg.UploadPageSize, "upload page size in bytes")
	flags.IntVar(&cfg.WindowSize, "window", cfg.WindowSize, "shader-visible descriptor window size")
	flags.DurationVar(&cfg.Latency, "latency", cfg.Latency, "simulated execution latency per batch")
	flags.StringVar(&mode, "mode", mode, "soft device execution mode: immediate, manual or async")
	flags.StringVar(&cfg.CapturePath, "capture", cfg.CapturePath, "write an lz4-compressed json command capture to this file")
	flags.StringVar(&cfg.StatsPath, "stats", cfg.StatsPath, "write json statistics to this file instead of stdout")
	flags.BoolVar(&cfg.Verbose, "v", false, "log at debug level")

	err = flags.Parse(args)
	if err != nil {
		return cfg, err
	}

	var ok bool
	cfg.Mode, ok = modesByName[mode]
	if !ok {
		return cfg, errors.Errorf("unknown execution mode %q", mode)
	}
	if cfg.Frames < 1 || cfg.Objects < 1 {
		return cfg, errors.Errorf("frames and objects must be positive, got %d and %d", cfg.Frames, cfg.Objects)
	}

	return cfg, nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pierrec/lz4"
	"github.com/vkngwrapper/conductor/command"
	"github.com/vkngwrapper/conductor/driver/soft"
)

func main() {
	cfg, err := loadConfig(".env", os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	err = run(logger, cfg)
	if err != nil {
		logger.LogAttrs(context.Background(), slog.LevelError, "conductor-bench failed", slog.String("Error", fmt.Sprintf("%+v", err)))
		os.Exit(1)
	}
}

func run(logger *slog.Logger, cfg config) error {
	gpu := soft.New(logger, soft.CreateOptions{
		Mode:             cfg.Mode,
		KeepHistory:      cfg.CapturePath != "",
		ExecutionLatency: cfg.Latency,
	})
	defer gpu.Close()

	device, err := command.New(logger, gpu, command.CreateOptions{
		DescriptorWindowSize: cfg.WindowSize,
		UploadPageSize:       cfg.UploadPageSize,
		MaxFramesInFlight:    cfg.MaxFramesInFlight,
	})
	if err != nil {
		return err
	}

	s, err := newScene(logger, device)
	if err != nil {
		return err
	}
	err = s.upload()
	if err != nil {
		return err
	}

	start := time.Now()
	for frame := device.FrameNumber(); frame < uint64(cfg.Frames); {
		err = s.simulate(frame)
		if err != nil {
			return errors.Wrapf(err, "frame %d", frame)
		}
		err = s.draw(frame, cfg.Objects)
		if err != nil {
			return errors.Wrapf(err, "frame %d", frame)
		}

		if cfg.Mode == soft.ExecuteManual {
			gpu.Drain()
		}

		frame, err = device.EndFrame()
		if err != nil {
			return err
		}
	}

	err = s.release()
	if err != nil {
		return err
	}
	if cfg.Mode == soft.ExecuteManual {
		// Destroy blocks on the queues' fences, so something has to keep executing
		stop := pump(gpu)
		defer stop()
	}
	err = device.Destroy()
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	logger.LogAttrs(context.Background(), slog.LevelInfo, "conductor-bench finished",
		slog.Int("Frames", cfg.Frames),
		slog.Duration("Elapsed", elapsed),
		slog.Int("ValidationErrors", len(gpu.ValidationErrors())))

	err = writeStats(cfg.StatsPath, device, gpu)
	if err != nil {
		return err
	}

	if cfg.CapturePath != "" {
		err = writeCapture(cfg.CapturePath, gpu)
		if err != nil {
			return err
		}
	}

	if validation := gpu.ValidationErrors(); len(validation) > 0 {
		return errors.Wrapf(validation[0], "the device reported %d validation errors, the first was", len(validation))
	}
	return nil
}

// pump drains a manual device in the background until the returned func is called
func pump(gpu *soft.Device) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()

		for {
			gpu.Drain()
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

func writeStats(path string, device *command.Device, gpu *soft.Device) error {
	var out io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	err := device.PrintStats(out)
	if err != nil {
		return err
	}

	writer := jwriter.NewStreamingWriter(out, 1024)
	obj := writer.Object()
	gpu.Stats().PrintJson(&obj)
	obj.End()
	err = writer.Flush()
	if err != nil {
		return err
	}
	return writer.Error()
}

func writeCapture(path string, gpu *soft.Device) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	compressed := lz4.NewWriter(f)
	err = gpu.WriteCapture(compressed)
	if err != nil {
		return err
	}
	err = compressed.Close()
	if err != nil {
		return err
	}
	return f.Sync()
}

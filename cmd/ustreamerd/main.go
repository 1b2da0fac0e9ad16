// Command ustreamerd runs the capture-ring-encode-serve pipeline and
// serves it over HTTP. Wiring lives here; every subsystem it assembles
// is independently testable in its own package.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/uuid"

	"ustreamer/internal/broadcaster"
	"ustreamer/internal/capture"
	"ustreamer/internal/config"
	"ustreamer/internal/coordinator"
	"ustreamer/internal/encoder"
	"ustreamer/internal/httpserver"
	"ustreamer/internal/logging"
	"ustreamer/internal/ring"
	"ustreamer/internal/stats"
	"ustreamer/internal/workerpool"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if cerr, ok := err.(*config.ConfigError); ok {
			return int(cerr.Code)
		}
		return int(config.ExitConfig)
	}

	if cfg.Version {
		fmt.Printf("ustreamerd %s\n", version)
		return int(config.ExitOK)
	}

	log := logging.New(cfg.LogLevel)
	instanceID := uuid.Must(uuid.NewV4()).String()
	log = log.WithField("instance", instanceID)

	width, height, _ := config.ParseResolution(cfg.Resolution)

	r, err := ring.New(cfg.Buffers, width*height*4+4096)
	if err != nil {
		log.WithError(err).Error("fatal: ring construction failed")
		return int(config.ExitConfig)
	}

	sourceStats := &stats.Source{}
	encoderStats := &stats.Encoder{}

	src := capture.NewSyntheticSource()
	capCfg := capture.Config{
		Source: capture.SourceConfig{
			DevicePath:    cfg.Device,
			DesiredWidth:  width,
			DesiredHeight: height,
			DesiredFormat: config.ParsePixelFormat(cfg.Format),
			DesiredFPS:    cfg.DesiredFPS,
			InputIndex:    cfg.Input,
			DVTimings:     cfg.DVTimings,
		},
		Persistent:  cfg.Persistent,
		Buffers:     cfg.Buffers,
		WorkersHint: cfg.Workers,
	}
	capturer := capture.New(capCfg, src, r, sourceStats, log.WithField("component", "capture"))

	streamStats := &stats.Stream{}

	bc := broadcaster.New()
	coord := coordinator.New(coordinator.Options{
		DropSameFrames: cfg.DropSameFrames,
		OnlineWindow:   time.Duration(cfg.OnlineWindowMS) * time.Millisecond,
		OfflineRefresh: time.Duration(cfg.OfflineRefreshMS) * time.Millisecond,
	}, bc, streamStats, log.WithField("component", "coordinator"))

	encKind, _ := encoder.ParseKind(cfg.Encoder)
	newEncoder := func() encoder.Encoder {
		return encoder.New(encKind, encoder.Options{Quality: cfg.Quality})
	}

	numWorkers := workerpool.ClampWorkers(cfg.Workers, r.Len())
	pool := workerpool.New(numWorkers, r, coord, encoderStats, log.WithField("component", "workerpool"), newEncoder)

	capturer.Start()
	coord.Start()
	pool.Start(numWorkers)

	go func() {
		for {
			applied := capturer.AppliedFormat()
			if applied.Width > 0 {
				coord.UpdateGeometry(applied.Width, applied.Height)
			}
			time.Sleep(500 * time.Millisecond)
		}
	}()

	deps := httpserver.Deps{
		Coordinator:        coord,
		Broadcaster:        bc,
		SourceStats:        sourceStats,
		EncoderStats:       encoderStats,
		StreamStats:        streamStats,
		InstanceID:         instanceID,
		EncoderKind:        encKind,
		Quality:            cfg.Quality,
		DesiredFPS:         float64(cfg.DesiredFPS),
		StaticDir:          cfg.Static,
		AllowOrigin:        cfg.AllowOrigin,
		StreamIntervalMS:   cfg.StreamIntervalMS,
		StreamClientBuffer: cfg.StreamClientBuffer,
		ExposeCmdline:      cfg.ExposeCmdline,
		ExposePath:         cfg.ExposePath,
		FakeResolution:     cfg.FakeResolution,
		DevicePath:         cfg.Device,
		Cmdline:            strings.Join(os.Args, " "),
		SourceOnline: func() bool {
			return capturer.Liveness().State == capture.Online
		},
		CapturedGeom: func() (int, int) {
			applied := capturer.AppliedFormat()
			return applied.Width, applied.Height
		},
	}
	srv := httpserver.New(deps, log.WithField("component", "http"))

	ln, err := httpserver.Listen(cfg.Host, cfg.Port, cfg.Unix)
	if err != nil {
		log.WithError(err).Error("fatal: bind failed")
		return int(config.ExitBind)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve(ctx, ln) }()

	exitCode := int(config.ExitOK)

	select {
	case <-sigCh:
		log.Info("shutdown: signal received")
	case err := <-pool.Halted():
		log.WithError(err).Error("fatal: worker pool halted")
		exitCode = int(config.ExitFatal)
	}

	// Stop the capturer first so no new raw frames enter the ring, let
	// in-flight workers drain naturally via ring.Close, then have the
	// coordinator flush a final offline placeholder before the HTTP
	// layer stops accepting connections.
	_ = capturer.Close()
	pool.Wait()
	coord.Stop(true)
	cancel()
	<-serveErrCh

	return exitCode
}

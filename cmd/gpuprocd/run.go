package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gogpu/gputypes"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/uber-go/tally/v4"
	"github.com/uber-go/tally/v4/prometheus"

	"github.com/gogpu/gpuproc"
	"github.com/gogpu/gpuproc/backend"
	"github.com/gogpu/gpuproc/backend/native"
	"github.com/gogpu/gpuproc/backend/software"
	"github.com/gogpu/gpuproc/extimage"
	"github.com/gogpu/gpuproc/gpucore"
	"github.com/gogpu/gpuproc/integration/canvas"
	"github.com/gogpu/gpuproc/internal/snapshot"
	"github.com/gogpu/gpuproc/ipc"
	"github.com/gogpu/gpuproc/request"
	"github.com/gogpu/gpuproc/script"
)

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "present a sequence of frames through the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, cfg)
		},
	}
	bindRunFlags(cmd)
	Command.AddCommand(cmd)
}

func setupLogging(cfg Config) error {
	level, err := cfg.level()
	if err != nil {
		return err
	}
	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(l)
	gpuproc.SetLogger(l)
	native.SetLogger(l)
	software.SetLogger(l)
	return nil
}

// setupMetrics returns the root scope. With an address set, the scope is
// reported through a Prometheus registry served on /metrics.
func setupMetrics(addr string) (tally.Scope, func(), error) {
	if addr == "" {
		return tally.NoopScope, func() {}, nil
	}
	registry := prom.NewRegistry()
	if err := registry.Register(prom.NewGoCollector()); err != nil {
		return nil, nil, err
	}
	reporter := prometheus.NewReporter(prometheus.Options{
		Registerer:       registry,
		Gatherer:         registry,
		DefaultTimerType: prometheus.HistogramTimerType,
	})
	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:         "gpuproc",
		CachedReporter: reporter,
		Separator:      prometheus.DefaultSeparator,
	}, time.Second)

	mux := http.NewServeMux()
	mux.Handle("/metrics", reporter.HTTPHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("gpuprocd: metrics server", "err", err)
		}
	}()
	slog.Info("gpuprocd: serving metrics", "addr", addr)
	return scope, func() {
		_ = srv.Close()
		_ = closer.Close()
	}, nil
}

func openBackend(name string) (backend.Backend, error) {
	if name == "" {
		return backend.Default()
	}
	return backend.Open(name)
}

// fanout delivers every message to each sender, reporting the first error.
type fanout []script.Sender

func (f fanout) Send(m script.Msg) error {
	var first error
	for _, s := range f {
		if err := s.Send(m); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func run(ctx context.Context, cfg Config) error {
	if err := setupLogging(cfg); err != nil {
		return err
	}
	scope, closeMetrics, err := setupMetrics(cfg.MetricsAddr)
	if err != nil {
		return err
	}
	defer closeMetrics()

	be, err := openBackend(cfg.Backend)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	defer be.Close()

	msgs := script.NewChanSender(1024)
	var toScript script.Sender = msgs
	if cfg.Trace != "" {
		f, err := os.Create(cfg.Trace)
		if err != nil {
			return err
		}
		defer f.Close()
		toScript = fanout{msgs, ipc.NewStreamSender(f)}
	}

	th, err := gpuproc.Start(be, toScript,
		gpuproc.WithContext(ctx),
		gpuproc.WithMetrics(scope),
		gpuproc.WithPollInterval(cfg.PollInterval))
	if err != nil {
		return err
	}

	hub := gpucore.NewHub(be.Variant())
	recycler := canvas.NewRecycler(hub)
	recycler.Forward = func(m script.Msg) {
		if r, ok := m.(script.OpResult); ok && !r.OK() {
			slog.Warn("gpuprocd: validation error", "scope", r.Scope, "err", r.Error)
		}
	}
	recycled := make(chan error, 1)
	go func() { recycled <- recycler.Run(context.Background(), msgs) }()

	renderErr := render(ctx, th, hub, cfg)

	exitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := th.Exit(exitCtx); err != nil && !errors.Is(err, gpuproc.ErrExited) {
		return err
	}
	select {
	case <-recycled:
	case <-exitCtx.Done():
	}
	return renderErr
}

func render(ctx context.Context, th *gpuproc.Thread, hub *gpucore.Hub, cfg Config) error {
	dev, err := openDevice(th, hub)
	if err != nil {
		return err
	}
	cc, err := canvas.NewContext(th, hub)
	if err != nil {
		return err
	}
	defer cc.Destroy()

	chain, err := cc.ConfigureSwapChain(canvas.SwapChainConfig{
		Device: dev,
		Queue:  gpucore.QueueOf(dev),
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageCopyDst,
		Width:  cfg.Width,
		Height: cfg.Height,
	})
	if err != nil {
		return err
	}

	ticker := time.NewTicker(time.Second / time.Duration(cfg.FPS))
	defer ticker.Stop()
	var last []byte
	for i := 0; i < cfg.Frames; i++ {
		last = frame(cfg.Width, cfg.Height, i)
		err := th.Send(request.WriteTexture{
			Queue:       gpucore.QueueOf(dev),
			Destination: gpucore.TextureCopy{Texture: chain.CurrentTexture()},
			Layout:      gpucore.TextureDataLayout{BytesPerRow: cfg.Width * 4, RowsPerImage: cfg.Height},
			Size:        gpucore.Extent3D{Width: cfg.Width, Height: cfg.Height, DepthOrArrayLayers: 1},
			Data:        last,
		})
		if err == nil {
			err = cc.Present()
		}
		if err != nil {
			return err
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
	slog.Info("gpuprocd: frames presented", "frames", cfg.Frames)

	if cfg.Dump == "" || last == nil {
		return nil
	}
	return dump(ctx, th, cc, cfg, last[:4])
}

func openDevice(th *gpuproc.Thread, hub *gpucore.Hub) (gpucore.DeviceID, error) {
	adapters := make(chan request.Result[request.AdapterResponse], 1)
	if err := th.Send(request.RequestAdapter{Reply: adapters, IDs: []gpucore.AdapterID{hub.Adapters.Alloc()}}); err != nil {
		return 0, err
	}
	ar, err := recv(th, adapters)
	if err != nil {
		return 0, err
	}
	if ar.Err != nil {
		return 0, ar.Err
	}
	slog.Info("gpuprocd: adapter", "name", ar.Value.Name, "driver", ar.Value.Info.Driver)

	devices := make(chan request.Result[request.DeviceResponse], 1)
	dev := hub.Devices.Alloc()
	err = th.Send(request.RequestDevice{
		Reply:      devices,
		Adapter:    ar.Value.Adapter,
		Descriptor: gpucore.DeviceDescriptor{Label: "gpuprocd"},
		Device:     dev,
	})
	if err != nil {
		return 0, err
	}
	dr, err := recv(th, devices)
	if err != nil {
		return 0, err
	}
	return dev, dr.Err
}

// recv waits for a reply unless the actor stops first.
func recv[T any](th *gpuproc.Thread, ch <-chan T) (T, error) {
	select {
	case v := <-ch:
		return v, nil
	case <-th.Done():
		var zero T
		return zero, gpuproc.ErrExited
	}
}

// frame returns a tightly packed RGBA frame whose color depends on i.
func frame(w, h uint32, i int) []byte {
	px := []byte{byte(i * 4), 128, byte(255 - i*4), 255}
	return bytes.Repeat(px, int(w*h))
}

// dump waits for the last frame to reach the external image, then writes
// it as PNG. Backends that produce no output never match; the current image
// is written after a timeout.
func dump(ctx context.Context, th *gpuproc.Thread, cc *canvas.Context, cfg Config, want []byte) error {
	id := cc.ExternalID()
	deadline := time.NewTimer(2 * time.Second)
	defer deadline.Stop()
	for !firstPixel(th, id, want) {
		select {
		case <-deadline.C:
			slog.Warn("gpuprocd: last frame not published, dumping current image")
			return writeDump(th, cc, cfg)
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.PollInterval):
		}
	}
	return writeDump(th, cc, cfg)
}

func firstPixel(th *gpuproc.Thread, id extimage.ExternalID, want []byte) bool {
	img := th.Images().Lock(id)
	defer th.Images().Unlock(id)
	return len(img.Data) >= len(want) && bytes.Equal(img.Data[:len(want)], want)
}

func writeDump(th *gpuproc.Thread, cc *canvas.Context, cfg Config) error {
	img, err := snapshot.Capture(th.Images(), cc.ExternalID(), cfg.Thumbnail)
	if err != nil {
		return err
	}
	if err := snapshot.SavePNG(cfg.Dump, img); err != nil {
		return err
	}
	slog.Info("gpuprocd: frame written", "path", cfg.Dump, "size", img.Bounds().Size())
	return nil
}

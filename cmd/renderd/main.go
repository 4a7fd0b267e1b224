package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/df07/render-scheduler/internal/compositor/sixel"
	"github.com/df07/render-scheduler/internal/tui"
	"github.com/df07/render-scheduler/pkg/blockrenderer"
	"github.com/df07/render-scheduler/pkg/logging"
	"github.com/df07/render-scheduler/pkg/metrics"
	"github.com/df07/render-scheduler/pkg/renderconfig"
	"github.com/df07/render-scheduler/pkg/scheduler"
	"github.com/df07/render-scheduler/web/server"
)

// Config holds command-line configuration for renderd.
type Config struct {
	Mode       string
	ConfigFile string
	Port       int
	Workers    int
	Width      int
	Height     int
	BlockSize  int
	AntiAlias  int
	DeBand     bool
	OutputDir  string
	Help       bool
}

func main() {
	cfg := parseFlags()
	if cfg.Help {
		showHelp()
		return
	}

	switch cfg.Mode {
	case "serve":
		runServe(cfg)
	case "tui":
		runTUI(cfg)
	case "sixel":
		runSixel(cfg)
	case "once":
		runOnce(cfg)
	default:
		fmt.Printf("unknown mode: %s\n", cfg.Mode)
		os.Exit(1)
	}
}

func parseFlags() Config {
	cfg := Config{}
	flag.StringVar(&cfg.Mode, "mode", "serve", "Run mode: 'serve' (HTTP), 'tui' (terminal dashboard), 'sixel' (live terminal image), or 'once' (render one frame to a PNG)")
	flag.StringVar(&cfg.ConfigFile, "config", "", "Path to a TOML config file (RENDERD_-prefixed environment variables always override it)")
	flag.IntVar(&cfg.Port, "port", 8080, "Port to serve on (mode=serve)")
	flag.IntVar(&cfg.Workers, "workers", 4, "Number of worker slots")
	flag.IntVar(&cfg.Width, "width", 0, "Viewport width (0 = use config default)")
	flag.IntVar(&cfg.Height, "height", 0, "Viewport height (0 = use config default)")
	flag.IntVar(&cfg.BlockSize, "block-size", 0, "Block size in pixels (0 = use config default)")
	flag.IntVar(&cfg.AntiAlias, "anti-alias", 0, "Anti-alias level: 1, 2, 4, or 8 (0 = use config default)")
	flag.BoolVar(&cfg.DeBand, "de-band", false, "Enable the de-banding post-process")
	flag.StringVar(&cfg.OutputDir, "output", "output", "Output directory for mode=once")
	flag.BoolVar(&cfg.Help, "help", false, "Show help information")
	flag.Parse()
	return cfg
}

func showHelp() {
	fmt.Println("renderd - parallel block-based render scheduler")
	fmt.Println("Usage: renderd [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  renderd -mode=serve -port=8080")
	fmt.Println("  renderd -mode=tui -workers=8 -width=800 -height=600")
	fmt.Println("  renderd -mode=sixel -workers=4 -width=640 -height=480")
	fmt.Println("  renderd -mode=once -width=1920 -height=1080 -output=output")
}

func loadRenderConfig(cfg Config) renderconfig.Config {
	loader, err := renderconfig.NewLoader(cfg.ConfigFile)
	if err != nil {
		fmt.Printf("config error: %v\n", err)
		os.Exit(1)
	}
	base := loader.Base()
	if cfg.Width > 0 {
		base.Width = cfg.Width
	}
	if cfg.Height > 0 {
		base.Height = cfg.Height
	}
	if cfg.BlockSize > 0 {
		base.BlockSize = cfg.BlockSize
	}
	if cfg.AntiAlias > 0 {
		base.AntiAlias = cfg.AntiAlias
	}
	if cfg.DeBand {
		base.DeBand = true
	}
	return base
}

func runServe(cfg Config) {
	loader, err := renderconfig.NewLoader(cfg.ConfigFile)
	if err != nil {
		fmt.Printf("config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout)
	recorder := metrics.NewRecorder(prometheus.DefaultRegisterer)

	logger.Infof("renderd serving on :%d", cfg.Port)
	srv := server.New(cfg.Port, loader, logger, recorder)
	if err := srv.Start(); err != nil {
		logger.Errorf("server stopped: %v", err)
		os.Exit(1)
	}
}

func runTUI(cfg Config) {
	renderCfg := loadRenderConfig(cfg)
	logger := logging.NewConsole()
	recorder := metrics.NewRecorder(prometheus.NewRegistry())

	factory := func() blockrenderer.Renderer {
		return blockrenderer.NewPattern(200 * time.Microsecond)
	}
	sched := scheduler.New(factory, logger, recorder)
	sched.ResizePool(context.Background(), cfg.Workers)

	if err := tui.Run(sched, renderCfg); err != nil {
		fmt.Printf("tui error: %v\n", err)
		os.Exit(1)
	}
}

func runSixel(cfg Config) {
	renderCfg := loadRenderConfig(cfg)
	logger := logging.Nop() // terminal is owned by the sixel compositor
	recorder := metrics.NewRecorder(prometheus.NewRegistry())

	factory := func() blockrenderer.Renderer {
		return blockrenderer.NewPattern(200 * time.Microsecond)
	}
	sched := scheduler.New(factory, logger, recorder)
	sched.ResizePool(context.Background(), cfg.Workers)

	comp, err := sixel.New()
	if err != nil {
		fmt.Printf("failed to open terminal: %v\n", err)
		os.Exit(1)
	}
	defer comp.Close()

	if err := sched.Start(context.Background(), renderCfg); err != nil {
		fmt.Printf("failed to start frame: %v\n", err)
		return
	}

	progressCh := sched.Subscribe(scheduler.EventProgress)
	done := sched.Subscribe(scheduler.EventDone)

	go func() {
		for {
			select {
			case <-progressCh:
				_ = comp.Present(sched.Target())
			case <-done:
				_ = comp.Present(sched.Target())
			}
		}
	}()

	comp.PollQuit()
}

func runOnce(cfg Config) {
	renderCfg := loadRenderConfig(cfg)
	logger := logging.NewConsole()
	recorder := metrics.NewRecorder(prometheus.NewRegistry())

	factory := func() blockrenderer.Renderer {
		return blockrenderer.NewPattern(0)
	}
	sched := scheduler.New(factory, logger, recorder)
	sched.ResizePool(context.Background(), cfg.Workers)

	done := sched.Subscribe(scheduler.EventDone)

	if err := sched.Start(context.Background(), renderCfg); err != nil {
		fmt.Printf("failed to start frame: %v\n", err)
		os.Exit(1)
	}

	startTime := time.Now()
	<-done
	fmt.Printf("frame completed in %v\n", time.Since(startTime))

	fb := sched.Target()
	img := &image.RGBA{
		Pix:    fb.Presented(),
		Stride: fb.Width * 4,
		Rect:   image.Rect(0, 0, fb.Width, fb.Height),
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		fmt.Printf("failed to create output dir: %v\n", err)
		os.Exit(1)
	}
	path := filepath.Join(cfg.OutputDir, fmt.Sprintf("render_%s.png", time.Now().Format("20060102_150405")))
	if err := imaging.Save(img, path); err != nil {
		fmt.Printf("failed to save render: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("render saved as %s\n", path)
}

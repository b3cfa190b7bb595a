package main

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"pixsqueeze/internal/canvas"
	"pixsqueeze/internal/compressor"
	"pixsqueeze/internal/config"
	"pixsqueeze/internal/export"
	"pixsqueeze/internal/heic"
	"pixsqueeze/internal/libvips"
	"pixsqueeze/internal/logger"
	"pixsqueeze/internal/media"
	"pixsqueeze/internal/memory"
	"pixsqueeze/internal/statistics"
	"pixsqueeze/internal/watcher"
	"pixsqueeze/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	verbose   bool
	quiet     bool
	version   = "dev"
	buildTime string

	quality    int
	format     string
	radius     string
	background string
	accelerate bool
	outDir     string
	cropRect   string
	port       int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "pixsqueeze",
	Short: "Compress images without leaving your machine",
	Long: `PixSqueeze re-encodes JPEG, PNG, WebP, AVIF and HEIC images to smaller files.

Features:
- Automatic output format selection with a retry ladder when the result grows
- Rounded corners and circular crops with transparent or solid backgrounds
- HEIC decoding with a small result cache
- Sequential batches with per-file and overall progress
- Web interface, watch folders and Prometheus metrics`,
	SilenceUsage: true,
}

// compressCmd compresses a single file.
var compressCmd = &cobra.Command{
	Use:   "compress <file>",
	Short: "Compress a single image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd, args[0])
	},
}

// batchCmd compresses files and directories one at a time.
var batchCmd = &cobra.Command{
	Use:   "batch <file|directory>...",
	Short: "Compress several images in order",
	Long: `Compresses every image found in the given files and directories.
Directories are scanned recursively; hidden files and files that were already
compressed are skipped. Files that fail validation are reported and skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd, args)
	},
}

// cropCmd compresses a file and crops the result.
var cropCmd = &cobra.Command{
	Use:   "crop <file>",
	Short: "Compress an image and crop the result",
	Long: `Compresses the image, then cuts the rectangle given by --rect out of the
compressed result and re-encodes it at maximum quality in the same format.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrop(cmd, args[0])
	},
}

// serveCmd starts the web interface server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start web interface server",
	Long: `Starts a web server with the compression interface, a JSON API,
WebSocket batch progress at /ws and Prometheus metrics at /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

// watchCmd compresses images as they appear in a directory.
var watchCmd = &cobra.Command{
	Use:   "watch [directory]",
	Short: "Compress new images dropped into a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd, args)
	},
}

func init() {
	rootCmd.Version = version
	if buildTime != "" {
		rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	for _, cmd := range []*cobra.Command{compressCmd, batchCmd, cropCmd, watchCmd} {
		addRequestFlags(cmd)
		cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default: next to the source)")
	}
	cropCmd.Flags().StringVar(&cropRect, "rect", "", "crop rectangle as x,y,width,height in result pixels")
	cropCmd.MarkFlagRequired("rect")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run web server on (default from config)")

	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(cropCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
}

func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&quality, "quality", "q", 0, "quality 1-100 (default from config)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "output format: auto, jpeg, png, webp, avif")
	cmd.Flags().StringVar(&radius, "radius", "", "corner radius in pixels or \"circle\"")
	cmd.Flags().StringVar(&background, "background", "", "background for transparent areas: white, black")
	cmd.Flags().BoolVar(&accelerate, "accelerate", false, "allow larger images on the accelerated surface")
}

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	cache    *heic.Cache
	guard    *memory.Guard
	pipeline *compressor.Pipeline
	strategy *compressor.Strategy
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg)

	a := &app{cfg: cfg, log: log}
	if cfg.HEIC.Enabled {
		a.cache = heic.NewCache(heic.NewVipsDecoder(log), cfg.HEIC.CacheSize, log)
		a.cache.SetMaxSize(cfg.Limits.MaxHEICSizeMB * 1024 * 1024)
	}
	a.guard = memory.NewGuard(cfg.GuardConfig(), nil, log)
	a.pipeline = compressor.NewPipeline(canvas.NewGGSurface(log), a.cache, a.guard, cfg.CompressorLimits(), log)
	a.strategy = compressor.NewStrategy(a.pipeline, a.guard, log)
	return a, nil
}

func (a *app) session() *compressor.Session {
	return compressor.NewSession(a.pipeline, a.strategy, a.cache, a.guard, a.log)
}

func (a *app) close() {
	if a.cache != nil {
		a.cache.Release()
	}
	libvips.Shutdown()
}

// exporter saves into --out, the configured directory, or fallback.
func (a *app) exporter(fallback string) *export.Exporter {
	dir := outDir
	if dir == "" {
		dir = a.cfg.Output.Directory
	}
	if dir == "" {
		dir = fallback
	}
	opts := export.Options{Overwrite: a.cfg.Output.Overwrite}
	if a.cfg.Output.StampMetadata {
		opts.Stamper = export.NewExiftoolStamper()
	}
	return export.NewExporter(config.ExpandPath(dir), opts, a.log)
}

// request applies the request flags that were set over the configured defaults.
func (a *app) request(cmd *cobra.Command) (media.Request, error) {
	req, err := a.cfg.Request()
	if err != nil {
		return req, err
	}
	flags := cmd.Flags()
	if flags.Changed("quality") {
		req.Quality = quality
	}
	if flags.Changed("format") {
		req.Format = media.ParseFormat(format)
	}
	if flags.Changed("radius") {
		r, err := media.ParseCornerRadius(radius)
		if err != nil {
			return req, err
		}
		req.CornerRadius = r
	}
	if flags.Changed("background") {
		req.Background = media.ParseBackground(background)
	}
	if flags.Changed("accelerate") {
		req.Accelerated = accelerate
	}
	return req, req.Validate()
}

func runCompress(cmd *cobra.Command, path string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	req, err := a.request(cmd)
	if err != nil {
		return err
	}
	src, err := media.LoadSource(path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := a.session()
	res, err := session.Compress(ctx, src, req)
	if err != nil {
		return fmt.Errorf("%s: %s", src.Name, media.UserMessage(err))
	}
	defer res.Release()

	saved, err := a.exporter(filepath.Dir(path)).Save(src.Name, res.Output)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	printResult(res, saved)
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	req, err := a.request(cmd)
	if err != nil {
		return err
	}

	paths, err := compressor.CollectImageFiles(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no images found")
	}

	sources := make([]*media.SourceImage, 0, len(paths))
	dirs := make([]string, 0, len(paths))
	for _, path := range paths {
		src, err := media.LoadSource(path)
		if err != nil {
			logger.WithFile(a.log, path).WithError(err).Warn("Skipping unreadable file")
			continue
		}
		sources = append(sources, src)
		dirs = append(dirs, filepath.Dir(path))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	batch := compressor.NewBatchOrchestrator(a.strategy, a.pipeline.Limits(), a.cache, a.log)
	report, runErr := batch.Run(ctx, sources, req, func(overall int, item *compressor.BatchItem) {
		if quiet {
			return
		}
		line := fmt.Sprintf("[%3d%%] %s: %s", overall, item.Source.Name, item.Status)
		if item.Err != nil {
			line += " (" + media.UserMessage(item.Err) + ")"
		} else if item.Result != nil {
			line += fmt.Sprintf(" %s → %s", statistics.FormatSize(item.Result.OriginalSize),
				statistics.FormatSize(item.Result.CompressedSize))
		}
		fmt.Println(line)
	})
	if report == nil {
		return runErr
	}
	defer report.Release()

	for _, item := range report.Items {
		if item.Status != compressor.StatusDone {
			continue
		}
		if _, err := a.exporter(dirs[item.Index]).Save(item.Source.Name, item.Result.Output); err != nil {
			logger.WithFile(a.log, item.Source.Name).WithError(err).Error("Failed to save result")
			report.Stats.AddError(item.Source.Name, "save", err.Error())
		}
		// Saved items no longer need their bytes
		item.Result.Release()
	}

	if !quiet {
		fmt.Println("\n" + report.Stats.GetSummary())
	}
	return runErr
}

func runCrop(cmd *cobra.Command, path string) error {
	rect, err := parseRect(cropRect)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	req, err := a.request(cmd)
	if err != nil {
		return err
	}
	src, err := media.LoadSource(path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := a.session()
	defer session.Reset()
	if _, err := session.Compress(ctx, src, req); err != nil {
		return fmt.Errorf("%s: %s", src.Name, media.UserMessage(err))
	}
	res, err := session.Crop(ctx, rect)
	if err != nil {
		return fmt.Errorf("crop failed: %s", media.UserMessage(err))
	}

	saved, err := a.exporter(filepath.Dir(path)).Save(src.Name, res.Output)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	printResult(res, saved)
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if cmd.Flags().Changed("port") {
		a.cfg.Server.Port = port
	}

	session := a.session()
	batch := compressor.NewBatchOrchestrator(a.strategy, a.pipeline.Limits(), a.cache, a.log)
	server := web.NewServer(a.cfg, session, batch, a.log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(a.cfg.Address())
	}()

	if !quiet {
		fmt.Printf("PixSqueeze web interface: http://%s\n", displayAddress(a.cfg))
		fmt.Printf("Press Ctrl+C to stop the server\n\n")
	}

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-sigChan:
	}

	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if !quiet {
		stats := session.Stats()
		stats.Finalize()
		fmt.Println("\n" + stats.GetSummary())
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	dir := a.cfg.Watch.Directory
	if len(args) > 0 {
		dir = args[0]
	}
	if dir == "" {
		return fmt.Errorf("no directory to watch")
	}
	dir = config.ExpandPath(dir)

	req, err := a.request(cmd)
	if err != nil {
		return err
	}

	w, err := watcher.NewWatcher(watcher.Config{
		Directory: dir,
		Recursive: a.cfg.Watch.Recursive,
		Debounce:  a.cfg.Watch.Debounce,
		Request:   req,
	}, a.strategy, a.exporter(dir), a.log)
	if err != nil {
		return err
	}
	if !quiet {
		w.OnProcessed = func(o watcher.Outcome) {
			switch {
			case o.Err != nil:
				fmt.Printf("%s: %s\n", filepath.Base(o.Path), media.UserMessage(o.Err))
			case o.Saved != nil:
				fmt.Printf("%s → %s (%s)\n", filepath.Base(o.Path), o.Saved.Path, statistics.FormatSize(o.Saved.Size))
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !quiet {
		fmt.Printf("Watching %s (Ctrl+C to stop)\n", dir)
	}
	if err := w.Run(ctx); err != nil {
		return err
	}

	if !quiet {
		stats := w.Stats()
		stats.Finalize()
		fmt.Println("\n" + stats.GetSummary())
	}
	return nil
}

func printResult(res *compressor.CompressionResult, saved *export.Saved) {
	if quiet {
		return
	}
	fmt.Printf("%s: %s → %s (%.0f%% saved, %s)\n", res.Name,
		statistics.FormatSize(res.OriginalSize), statistics.FormatSize(res.CompressedSize),
		res.PercentageSaved, res.Action)
	fmt.Printf("Saved to %s\n", saved.Path)
	for _, w := range append(res.Warnings, saved.Warnings...) {
		fmt.Printf("Warning: %s\n", w)
	}
}

// parseRect parses "x,y,width,height".
func parseRect(s string) (image.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("invalid rectangle %q, want x,y,width,height", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("invalid rectangle %q: %w", s, err)
		}
		v[i] = n
	}
	if v[2] <= 0 || v[3] <= 0 {
		return image.Rectangle{}, fmt.Errorf("rectangle width and height must be positive")
	}
	return image.Rect(v[0], v[1], v[0]+v[2], v[1]+v[3]), nil
}

func displayAddress(cfg *config.Config) string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, cfg.Server.Port)
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := cfg.LoggerConfig()
	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
		loggerCfg.Console = false
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
		log.WithError(err).Warn("Falling back to console logging")
	}

	return log
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

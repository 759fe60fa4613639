// Command splatcapture plans camera trajectories, analyses their coverage and
// captures COLMAP datasets for Gaussian splat training.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/banshee-data/splatcapture/internal/capture"
	"github.com/banshee-data/splatcapture/internal/colmap"
	"github.com/banshee-data/splatcapture/internal/config"
	"github.com/banshee-data/splatcapture/internal/coverage"
	"github.com/banshee-data/splatcapture/internal/dataset"
	"github.com/banshee-data/splatcapture/internal/fsutil"
	"github.com/banshee-data/splatcapture/internal/manifest"
	"github.com/banshee-data/splatcapture/internal/trajectory"
	"github.com/banshee-data/splatcapture/internal/version"
)

// errUsage marks errors that should be followed by the usage text.
var errUsage = errors.New("usage")

func main() {
	flag.Usage = func() { printUsage(os.Stdout) }
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flag.Args(), os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "%v\n\n", err)
			printUsage(os.Stderr)
			os.Exit(2)
		}
		log.Fatalf("splatcapture: %v", err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: no command given", errUsage)
	}
	command, rest := args[0], args[1:]
	switch command {
	case "plan":
		return runPlan(ctx, rest, stdout)
	case "coverage":
		return runCoverage(ctx, rest, stdout)
	case "capture":
		return runCapture(ctx, rest, stdout)
	case "validate":
		return runValidate(rest, stdout)
	case "sessions":
		return runSessions(ctx, rest, stdout)
	case "version":
		fmt.Fprintf(stdout, "splatcapture version %s\n", version.String())
		return nil
	case "help":
		printUsage(stdout)
		return nil
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, command)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `splatcapture - capture COLMAP datasets for Gaussian splat training

Usage: splatcapture <command> [options]

Commands:
  plan       Generate a trajectory and print its statistics
  coverage   Analyse trajectory coverage and write PNG and HTML reports
  capture    Render a synthetic scene through the full capture pipeline
  validate   Check a COLMAP dataset directory
  sessions   List sessions recorded in a manifest database
  version    Show version information
  help       Show this help message

Common Flags:
  --config <file>   Capture configuration (.json, .yaml or .yml)
  --out <dir>       Output directory, overriding output_dir in the config

Examples:
  splatcapture plan --config config/capture.defaults.yaml --json poses.json
  splatcapture coverage --config capture.yaml --out report/
  splatcapture capture --config capture.yaml --out /data/courtyard
  splatcapture validate /data/courtyard
  splatcapture sessions --manifest /data/courtyard/manifest.db`)
}

// loadConfig reads path, or returns an empty config when path is empty, and
// applies the --out override.
func loadConfig(path, out string) (*config.CaptureConfig, error) {
	cfg := &config.CaptureConfig{}
	if path != "" {
		var err error
		if cfg, err = config.LoadCaptureConfig(path); err != nil {
			return nil, err
		}
	}
	if out != "" {
		cfg.OutputDir = &out
	}
	return cfg, nil
}

// plannedSettings resolves settings for commands that only plan, where the
// output directory is optional.
func plannedSettings(cfg *config.CaptureConfig) (capture.Settings, error) {
	if cfg.GetOutputDir() == "" {
		dot := "."
		cfg.OutputDir = &dot
	}
	return cfg.Settings()
}

func printWarnings(w io.Writer, warnings []string) {
	for _, msg := range warnings {
		fmt.Fprintf(w, "warning: %s\n", msg)
	}
}

// poseRecord is the JSON form of one planned pose.
type poseRecord struct {
	Index    int        `json:"index"`
	Position [3]float64 `json:"position"`
	// Rotation is w, x, y, z.
	Rotation [4]float64 `json:"rotation"`
}

func runPlan(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	configPath := fs.String("config", "", "Capture configuration file")
	jsonPath := fs.String("json", "", "Write the planned poses to this JSON file")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	cfg, err := loadConfig(*configPath, "")
	if err != nil {
		return err
	}
	s, err := plannedSettings(cfg)
	if err != nil {
		return err
	}
	traj, passes, err := capture.Plan(ctx, s)
	if err != nil {
		return err
	}

	b := traj.Bounds()
	fmt.Fprintf(stdout, "trajectory: %s (%s)\n", s.Trajectory.Kind, traj.Convention.Name)
	fmt.Fprintf(stdout, "views:      %d\n", traj.Len())
	fmt.Fprintf(stdout, "bounds:     (%.1f, %.1f, %.1f) - (%.1f, %.1f, %.1f)\n", b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z)
	fmt.Fprintf(stdout, "overlap:    %.1f%%\n", 100*trajectory.AverageOverlap(traj, s.Camera.HFOV()))
	if len(passes) > 0 {
		last := passes[len(passes)-1]
		fmt.Fprintf(stdout, "adaptive:   %d passes, %.1f%% well covered\n", len(passes), 100*last.WellCoveredRatio)
	}
	printWarnings(stdout, cfg.Warnings())

	if *jsonPath == "" {
		return nil
	}
	records := make([]poseRecord, traj.Len())
	for i, p := range traj.Poses {
		q := p.Rotation
		records[i] = poseRecord{
			Index:    i,
			Position: [3]float64{p.Position.X, p.Position.Y, p.Position.Z},
			Rotation: [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag},
		}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode poses: %w", err)
	}
	if err := os.WriteFile(*jsonPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", *jsonPath, err)
	}
	fmt.Fprintf(stdout, "wrote %d poses to %s\n", len(records), *jsonPath)
	return nil
}

func runCoverage(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("coverage", flag.ContinueOnError)
	configPath := fs.String("config", "", "Capture configuration file")
	out := fs.String("out", ".", "Directory for coverage PNG and HTML files")
	resolution := fs.Int("resolution", 0, "Voxels per axis (0 uses the config)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	cfg, err := loadConfig(*configPath, *out)
	if err != nil {
		return err
	}
	s, err := cfg.Settings()
	if err != nil {
		return err
	}
	params := coverage.Params{Resolution: cfg.GetCoverageResolution()}
	if *resolution > 0 {
		params.Resolution = *resolution
	}

	plotter := coverage.NewPlotter()
	if err := plotter.Start(s.OutputDir); err != nil {
		return err
	}
	s.Adaptive.Coverage = params
	s.Adaptive.Observer = plotter.Sample
	traj, passes, err := capture.Plan(ctx, s)
	if err != nil {
		return err
	}

	report, err := coverage.Analyze(ctx, traj.Poses, traj.Convention, capture.CoverageParams(params, s))
	if err != nil {
		return err
	}
	if len(passes) == 0 {
		pass := coverage.Pass{Poses: traj.Len(), Ratio: report.Ratio, WellCoveredRatio: report.WellCoveredRatio}
		passes = append(passes, pass)
		plotter.Sample(pass, report)
	}
	plotter.Stop()
	n, err := plotter.GeneratePlots()
	if err != nil {
		return err
	}

	htmlPath := filepath.Join(s.OutputDir, "coverage.html")
	f, err := os.Create(htmlPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", htmlPath, err)
	}
	if err := coverage.WriteHTML(f, report, passes); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", htmlPath, err)
	}

	fmt.Fprintf(stdout, "views:        %d\n", traj.Len())
	fmt.Fprintf(stdout, "voxels:       %d^3\n", report.Resolution)
	fmt.Fprintf(stdout, "seen:         %.1f%%\n", 100*report.Ratio)
	fmt.Fprintf(stdout, "well covered: %.1f%% (>= %d views)\n", 100*report.WellCoveredRatio, report.WellCoveredMin)
	fmt.Fprintf(stdout, "wrote %d plots and %s\n", n, htmlPath)
	return nil
}

func runCapture(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("capture", flag.ContinueOnError)
	configPath := fs.String("config", "", "Capture configuration file")
	out := fs.String("out", "", "Output dataset directory")
	objectRadius := fs.Float64("object-radius", 0, "Radius of the synthetic sphere in config units (0 is a fifth of the trajectory radius)")
	manifestPath := fs.String("manifest", "", "Manifest database (default <out>/manifest.db)")
	noManifest := fs.Bool("no-manifest", false, "Do not record the session in a manifest database")
	workers := fs.Int("workers", -1, "Concurrent renders (-1 uses the config)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	cfg, err := loadConfig(*configPath, *out)
	if err != nil {
		return err
	}
	if cfg.GetOutputDir() == "" {
		return fmt.Errorf("%w: --out or output_dir is required", errUsage)
	}
	s, err := cfg.Settings()
	if err != nil {
		return err
	}
	if *workers >= 0 {
		s.Workers = *workers
	}
	printWarnings(stdout, cfg.Warnings())

	if err := os.MkdirAll(s.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.OutputDir, err)
	}
	var store *manifest.Store
	if !*noManifest {
		path := *manifestPath
		if path == "" {
			path = dataset.Layout{Root: s.OutputDir, Format: s.Format}.ManifestPath()
		}
		if store, err = manifest.Open(path); err != nil {
			return err
		}
		defer store.Close()
	}

	radius := *objectRadius
	if radius <= 0 {
		radius = s.Trajectory.Radius / 5
	}
	o := capture.NewOrchestrator(capture.OrchestratorConfig{
		FS:       fsutil.OSFileSystem{},
		Renderer: &capture.SyntheticRenderer{Center: s.Trajectory.Center, Radius: radius, Depth: s.Depth},
		Store:    store,
		OnProgress: func(p capture.Progress) {
			if p.State == capture.StateCapturing && p.Frame > 0 && (p.Frame%25 == 0 || p.Frame == p.Total) {
				log.Printf("capture: %d/%d frames", p.Frame, p.Total)
			}
		},
	})

	res, err := o.Run(ctx, s)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "session:    %s\n", res.SessionID)
	fmt.Fprintf(stdout, "frames:     %d (%d depth maps)\n", res.Frames, res.DepthMaps)
	fmt.Fprintf(stdout, "points:     %d\n", res.Points)
	fmt.Fprintf(stdout, "splats:     %d\n", res.Splats)
	if res.Coverage != nil {
		fmt.Fprintf(stdout, "coverage:   %.1f%% well covered\n", 100*res.Coverage.WellCoveredRatio)
	}
	fmt.Fprintf(stdout, "duration:   %v\n", res.Duration)
	fmt.Fprintf(stdout, "output:     %s (%d files)\n", res.OutputDir, len(res.Outputs))
	printWarnings(stdout, res.Warnings)
	return nil
}

func runValidate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: validate takes one dataset directory", errUsage)
	}
	root := fs.Arg(0)
	fsys := fsutil.OSFileSystem{}

	valid, warnings := colmap.ValidateDataset(fsys, root)
	printWarnings(stdout, warnings)
	if !valid {
		return fmt.Errorf("%s is not a valid COLMAP dataset", root)
	}
	ds, format, err := colmap.ReadDataset(fsys, root)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: valid %s dataset, %d cameras, %d images, %d points\n",
		root, format, len(ds.Cameras), len(ds.Frames), len(ds.Points))
	return nil
}

func runSessions(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	manifestPath := fs.String("manifest", "", "Manifest database (required)")
	asJSON := fs.Bool("json", false, "Print sessions as JSON")
	remove := fs.String("delete", "", "Delete the session with this id and its frame records")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *manifestPath == "" {
		return fmt.Errorf("%w: --manifest is required", errUsage)
	}
	if _, err := os.Stat(*manifestPath); err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}

	store, err := manifest.Open(*manifestPath)
	if err != nil {
		return err
	}
	defer store.Close()
	if *remove != "" {
		if err := store.DeleteSession(ctx, *remove); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "deleted session %s\n", *remove)
	}
	sessions, err := store.ListSessions(ctx)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}
	for _, sess := range sessions {
		fmt.Fprintf(stdout, "%s  %-9s %5d frames  %-20s %s\n",
			sess.ID, sess.Status, sess.FrameCount, sess.CreatedAt.Format("2006-01-02 15:04:05"), sess.OutputDir)
	}
	fmt.Fprintf(stdout, "%d sessions\n", len(sessions))
	return nil
}

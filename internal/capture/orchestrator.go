package capture

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/camera"
	"github.com/banshee-data/splatcapture/internal/convention"
	"github.com/banshee-data/splatcapture/internal/coverage"
	"github.com/banshee-data/splatcapture/internal/dataset"
	"github.com/banshee-data/splatcapture/internal/depth"
	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/fsutil"
	"github.com/banshee-data/splatcapture/internal/manifest"
	"github.com/banshee-data/splatcapture/internal/monitoring"
	"github.com/banshee-data/splatcapture/internal/ply"
	"github.com/banshee-data/splatcapture/internal/security"
	"github.com/banshee-data/splatcapture/internal/timeutil"
	"github.com/banshee-data/splatcapture/internal/trajectory"
)

// State is the lifecycle stage of a capture.
type State int

const (
	StateIdle State = iota
	StatePreparing
	StateCapturing
	StateProcessing
	StateExporting
	StateComplete
	StateError
)

var stateNames = [...]string{"idle", "preparing", "capturing", "processing", "exporting", "complete", "error"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Progress is a snapshot of a running capture.
type Progress struct {
	State     State
	Frame     int
	Total     int
	DepthMaps int
}

// Fraction returns the share of frames written, in [0, 1].
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Frame) / float64(p.Total)
}

// Defaults for Settings fields left at zero.
const (
	DefaultPointStride = 8
	DefaultMaxPoints   = 100000
)

// Settings describes one capture session.
type Settings struct {
	Name      string
	OutputDir string
	Format    dataset.Format
	// Convention is the convention of the emitted frames and of Camera.
	Convention convention.Convention
	Camera     camera.Model
	Trajectory trajectory.Config
	// Adaptive is used when Trajectory.Kind is adaptive. Its sphere is taken
	// from Trajectory; missing field of view and aspect come from Camera.
	Adaptive trajectory.AdaptiveParams

	Depth        depth.Params
	CaptureDepth bool
	Workers      int

	ImagePrefix    string
	ImageExtension string
	JPEGQuality    int
	WriteImages    bool

	// PointCloud exports back-projected depth samples as points3D.ply.
	PointCloud  bool
	PointStride int
	MaxPoints   int
	// Splats seeds splats.ply from the same points.
	Splats       bool
	SplatNormals bool
	Seed         ply.SeedParams

	// Coverage, when set, writes coverage.html for the planned trajectory.
	Coverage *coverage.Params
}

func (s Settings) withDefaults() Settings {
	if s.ImagePrefix == "" {
		s.ImagePrefix = dataset.DefaultImagePrefix
	}
	if s.ImageExtension == "" {
		s.ImageExtension = dataset.DefaultImageExtension
	}
	if s.JPEGQuality == 0 {
		s.JPEGQuality = DefaultJPEGQuality
	}
	if s.PointStride <= 0 {
		s.PointStride = DefaultPointStride
	}
	if s.MaxPoints <= 0 {
		s.MaxPoints = DefaultMaxPoints
	}
	if s.Trajectory.Convention.Name == "" {
		s.Trajectory.Convention = s.Convention
	}
	return s
}

// Validate returns the first hard problem with s.
func (s Settings) Validate() error {
	s = s.withDefaults()
	if s.OutputDir == "" {
		return errs.Configf("capture", "output directory not specified")
	}
	if err := s.Convention.Validate(); err != nil {
		return err
	}
	if err := s.Camera.Validate(); err != nil {
		return err
	}
	if s.JPEGQuality < 1 || s.JPEGQuality > 100 {
		return errs.Configf("capture", "jpeg quality must be in [1, 100], got %d", s.JPEGQuality)
	}
	if err := security.ValidateImageName(dataset.ImageName(s.ImagePrefix, 0, s.ImageExtension)); err != nil {
		return err
	}
	if s.CaptureDepth {
		if err := s.Depth.Validate(); err != nil {
			return err
		}
	}
	if (s.PointCloud || s.Splats) && !s.CaptureDepth {
		return errs.Configf("capture", "point cloud and splat export need depth capture")
	}
	return nil
}

// Result summarises a finished capture.
type Result struct {
	SessionID string
	OutputDir string
	Outputs   []dataset.Output
	Frames    int
	DepthMaps int
	Points    int
	Splats    int
	Coverage  *coverage.Report
	Warnings  []string
	Duration  time.Duration
}

// OrchestratorConfig contains the collaborators of an Orchestrator.
type OrchestratorConfig struct {
	// FS is where datasets are written; nil means the OS file system.
	FS       fsutil.FileSystem
	Renderer Renderer
	// Store, when set, records every session, frame and output.
	Store *manifest.Store
	// Clock is optional; nil means the wall clock.
	Clock timeutil.Clock
	// OnProgress is called after every state change and written frame. It
	// runs on the writer goroutine and must not block.
	OnProgress func(Progress)
}

// Orchestrator runs capture sessions one at a time: plan, render, write,
// export. Any failure removes every file the session wrote.
type Orchestrator struct {
	fs         fsutil.FileSystem
	renderer   Renderer
	store      *manifest.Store
	clock      timeutil.Clock
	onProgress func(Progress)

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	progress Progress
}

// NewOrchestrator creates an idle Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	fsys := cfg.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Orchestrator{
		fs:         fsys,
		renderer:   cfg.Renderer,
		store:      cfg.Store,
		clock:      clock,
		onProgress: cfg.OnProgress,
	}
}

// State returns the current lifecycle stage.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress.State
}

// Progress returns a snapshot of the current session.
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// IsRunning reports whether a session is in progress.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Stop cancels the running session, if any. Run then returns
// context.Canceled. It is safe to call multiple times.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) update(fn func(*Progress)) {
	o.mu.Lock()
	fn(&o.progress)
	p := o.progress
	o.mu.Unlock()
	if o.onProgress != nil {
		o.onProgress(p)
	}
}

func (o *Orchestrator) setState(s State) {
	o.update(func(p *Progress) { p.State = s })
}

// Run executes one capture session. On error the returned Result still
// carries the counters reached so far and the state moves to StateError.
func (o *Orchestrator) Run(ctx context.Context, s Settings) (*Result, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, errs.Configf("capture", "a capture is already running")
	}
	if o.renderer == nil {
		o.mu.Unlock()
		return nil, errs.Configf("capture", "no renderer configured")
	}
	ctx, cancel := context.WithCancel(ctx)
	o.running = true
	o.cancel = cancel
	o.progress = Progress{State: StateIdle}
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		o.running = false
		o.cancel = nil
		o.mu.Unlock()
	}()

	start := o.clock.Now()
	ss := &session{o: o, s: s.withDefaults(), id: uuid.NewString()}
	ss.res = &Result{SessionID: ss.id, OutputDir: ss.s.OutputDir}

	err := ss.run(ctx)
	ss.res.Duration = o.clock.Since(start)
	ss.res.Warnings = ss.warnings.List()
	if err != nil {
		ss.abort(err)
		o.setState(StateError)
		monitoring.Logf("capture: session %s failed after %d frames: %v", ss.id, ss.res.Frames, err)
		return ss.res, err
	}
	o.setState(StateComplete)
	monitoring.Logf("capture: session %s wrote %d frames (%d depth maps) to %s in %v",
		ss.id, ss.res.Frames, ss.res.DepthMaps, ss.s.OutputDir, ss.res.Duration)
	return ss.res, nil
}

// Plan generates the trajectory for s without rendering anything. For
// adaptive trajectories it also returns the coverage history.
func Plan(ctx context.Context, s Settings) (trajectory.Trajectory, []coverage.Pass, error) {
	s = s.withDefaults()
	if s.Trajectory.Kind != trajectory.KindAdaptive {
		t, err := trajectory.Generate(s.Trajectory)
		return t, nil, err
	}
	p := s.Adaptive
	p.Sphere = s.Trajectory.Sphere()
	p.Coverage = CoverageParams(p.Coverage, s)
	res, err := trajectory.Adaptive(ctx, s.Trajectory.Count, p)
	if err != nil {
		return trajectory.Trajectory{}, nil, err
	}
	return res.Trajectory, res.History, nil
}

// CoverageParams fills the field of view, aspect and volume that the settings
// imply when p leaves them unset.
func CoverageParams(p coverage.Params, s Settings) coverage.Params {
	if p.HFOVDeg == 0 {
		p.HFOVDeg = s.Camera.HFOV()
	}
	if p.Aspect == 0 {
		p.Aspect = s.Camera.Aspect()
	}
	if p.Volume == (r3.Box{}) {
		h := s.Trajectory.Radius / 2
		half := r3.Vec{X: h, Y: h, Z: h}
		p.Volume = r3.Box{Min: r3.Sub(s.Trajectory.Center, half), Max: r3.Add(s.Trajectory.Center, half)}
	}
	return p
}

package capture

import (
	"context"
	"fmt"
	"image"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/camera"
	"github.com/banshee-data/splatcapture/internal/colmap"
	"github.com/banshee-data/splatcapture/internal/convention"
	"github.com/banshee-data/splatcapture/internal/coverage"
	"github.com/banshee-data/splatcapture/internal/dataset"
	"github.com/banshee-data/splatcapture/internal/depth"
	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/fsutil"
	"github.com/banshee-data/splatcapture/internal/geom"
	"github.com/banshee-data/splatcapture/internal/manifest"
	"github.com/banshee-data/splatcapture/internal/monitoring"
	"github.com/banshee-data/splatcapture/internal/ply"
	"github.com/banshee-data/splatcapture/internal/security"
	"github.com/banshee-data/splatcapture/internal/trajectory"
	"github.com/banshee-data/splatcapture/internal/units"
	"github.com/banshee-data/splatcapture/internal/version"
)

var neutralGrey = [3]uint8{128, 128, 128}

// session is the state of one Orchestrator.Run call. Its WriteFrame is the
// pipeline sink and only ever runs on the writer goroutine.
type session struct {
	o   *Orchestrator
	s   Settings
	id  string
	res *Result

	layout   dataset.Layout
	writer   *colmap.Writer
	backCam  camera.Model
	stored   bool
	warnings monitoring.Warnings

	// outputs lists files to remove if the session fails.
	outputs   []dataset.Output
	positions []r3.Vec
	// points are in COLMAP coordinates.
	points []dataset.Point3D
	capped bool
}

func (ss *session) run(ctx context.Context) error {
	s := ss.s
	ss.o.setState(StatePreparing)
	if err := s.Validate(); err != nil {
		return err
	}

	traj, passes, err := Plan(ctx, s)
	if err != nil {
		return err
	}
	if traj.Len() == 0 {
		return errs.Configf("capture", "failed to generate camera viewpoints")
	}
	_, warns := trajectory.ValidateConfig(s.Trajectory)
	for _, w := range warns {
		ss.warnings.Addf("%s", w)
	}
	for _, w := range camera.Validate3DGS(s.Camera) {
		ss.warnings.Addf("%s", w)
	}
	monitoring.Logf("capture: planned %d %s viewpoints for session %s", traj.Len(), s.Trajectory.Kind, ss.id)
	ss.o.update(func(p *Progress) { p.Total = traj.Len() })

	reqCam, err := convention.ConvertIntrinsics(s.Camera, s.Convention, traj.Convention)
	if err != nil {
		return err
	}
	ss.backCam, err = convention.ConvertIntrinsics(s.Camera, s.Convention, convention.COLMAP)
	if err != nil {
		return err
	}

	if ss.o.store != nil {
		rec := &manifest.Session{
			ID:         ss.id,
			Name:       security.SanitizeName(s.Name),
			OutputDir:  s.OutputDir,
			Convention: s.Convention.Name,
			Format:     s.Format.String(),
			Trajectory: string(s.Trajectory.Kind),
			Version:    version.Version,
		}
		if err := ss.o.store.CreateSession(ctx, rec); err != nil {
			return err
		}
		ss.stored = true
	}

	ss.writer, err = colmap.Create(ss.o.fs, s.OutputDir, s.Format, s.Convention, []camera.Model{s.Camera}, traj.Len())
	if err != nil {
		return err
	}
	ss.layout = ss.writer.Layout()

	reqs := make([]Request, traj.Len())
	for i, pose := range traj.Poses {
		reqs[i] = Request{
			Index:      i,
			FrameID:    uint32(i + 1),
			Name:       dataset.ImageName(s.ImagePrefix, i, s.ImageExtension),
			Pose:       pose,
			Convention: traj.Convention,
			Camera:     reqCam,
			Depth:      s.CaptureDepth,
		}
	}

	ss.o.setState(StateCapturing)
	pl := &Pipeline{
		Renderer: ss.o.renderer,
		Target:   s.Convention,
		Depth:    s.Depth,
		Workers:  s.Workers,
		Clock:    ss.o.clock,
		Sink:     ss,
	}
	if _, err := pl.Run(ctx, reqs); err != nil {
		return err
	}

	ss.o.setState(StateProcessing)
	sparse := make([]dataset.Point3D, len(ss.points))
	for i, p := range ss.points {
		pos, err := convention.ConvertPosition(p.Position, convention.COLMAP, s.Convention)
		if err != nil {
			return err
		}
		p.Position = pos
		sparse[i] = p
	}
	if ss.capped {
		ss.warnings.Addf("point cloud capped at %d points", s.MaxPoints)
	}
	var splats []ply.Splat
	if s.Splats {
		if len(ss.points) == 0 {
			ss.warnings.Addf("no valid depth samples; splat export skipped")
		} else {
			splats = ply.SplatsFromPoints(ply.PointsFromDataset(ss.points), s.Seed)
			ok, warns := ply.ValidateSplats(splats)
			for _, w := range warns {
				ss.warnings.Addf("%s", w)
			}
			if !ok {
				return errs.Conversionf("capture", "seeded splats failed validation")
			}
		}
	}

	ss.o.setState(StateExporting)
	outs, err := ss.writer.Close(sparse)
	if err != nil {
		return err
	}
	ss.outputs = append(ss.outputs, outs...)
	ss.res.Points = len(sparse)

	if s.PointCloud {
		path := ss.layout.PointCloudPath()
		n, err := ply.WritePointCloud(ctx, ss.o.fs, path, ply.PointsFromDataset(ss.points))
		if err != nil {
			return err
		}
		ss.outputs = append(ss.outputs, dataset.Output{Kind: dataset.OutputPointCloud, Path: path, Bytes: n})
	}
	if len(splats) > 0 {
		path := ss.layout.SplatsPath()
		n, err := ply.WriteSplats(ctx, ss.o.fs, path, splats, ply.Options{Normals: s.SplatNormals})
		if err != nil {
			return err
		}
		ss.outputs = append(ss.outputs, dataset.Output{Kind: dataset.OutputSplats, Path: path, Bytes: n})
		ss.res.Splats = len(splats)
	}
	if s.Coverage != nil {
		if err := ss.writeCoverage(ctx, traj, passes); err != nil {
			return err
		}
	}

	ss.res.Outputs = ss.outputs
	if ss.stored {
		for _, out := range ss.outputs {
			if err := ss.o.store.RecordOutput(ctx, ss.id, out); err != nil {
				return err
			}
		}
		if err := ss.o.store.CompleteSession(ctx, ss.id, ss.res.Frames, geom.Bounds(ss.positions)); err != nil {
			return err
		}
	}
	return nil
}

// WriteFrame implements FrameSink.
func (ss *session) WriteFrame(ctx context.Context, f dataset.Frame) error {
	if ss.s.WriteImages && f.Color != nil {
		img, ok := f.Color.(image.Image)
		if !ok {
			return errs.Formatf("capture", "frame %d colour is %T, not an image", f.ID, f.Color)
		}
		path := filepath.Join(ss.layout.ImagesDir(), f.Name)
		n, err := WriteImage(ss.o.fs, path, img, ss.s.JPEGQuality)
		if err != nil {
			return err
		}
		ss.outputs = append(ss.outputs, dataset.Output{Kind: dataset.OutputImageFile, Path: path, Bytes: n})
	}
	if err := ss.writer.WriteFrame(ctx, f); err != nil {
		return err
	}
	if ss.stored {
		if err := ss.o.store.RecordFrame(ctx, ss.id, f); err != nil {
			return err
		}
	}
	ss.positions = append(ss.positions, f.Pose.Position)
	if f.Depth != nil {
		ss.res.DepthMaps++
		if ss.s.PointCloud || ss.s.Splats {
			if err := ss.collect(f); err != nil {
				return err
			}
		}
	}
	ss.res.Frames++
	frames, maps := ss.res.Frames, ss.res.DepthMaps
	ss.o.update(func(p *Progress) { p.Frame, p.DepthMaps = frames, maps })
	return nil
}

// collect back-projects a frame's depth into world points in COLMAP
// coordinates, coloured from the frame image when there is one.
func (ss *session) collect(f dataset.Frame) error {
	if len(ss.points) >= ss.s.MaxPoints {
		ss.capped = true
		return nil
	}
	pose, err := convention.ConvertPose(f.Pose, ss.s.Convention, convention.COLMAP)
	if err != nil {
		return fmt.Errorf("frame %d: %w", f.ID, err)
	}
	scale := units.MetersPer(f.Depth.Units)
	if scale == 0 {
		scale = 1
	}
	img, _ := f.Color.(image.Image)
	depth.BackProjectEach(f.Depth, ss.backCam, ss.s.PointStride, func(px, py int, p r3.Vec) {
		if len(ss.points) >= ss.s.MaxPoints {
			ss.capped = true
			return
		}
		c := neutralGrey
		if img != nil {
			b := img.Bounds()
			r, g, bl, _ := img.At(b.Min.X+px, b.Min.Y+py).RGBA()
			c = [3]uint8{uint8(r >> 8), uint8(g >> 8), uint8(bl >> 8)}
		}
		ss.points = append(ss.points, dataset.Point3D{
			ID:       uint64(len(ss.points) + 1),
			Position: r3.Add(pose.Position, geom.Rotate(pose.Rotation, r3.Scale(scale, p))),
			Color:    c,
		})
	})
	return nil
}

func (ss *session) writeCoverage(ctx context.Context, traj trajectory.Trajectory, passes []coverage.Pass) error {
	params := CoverageParams(*ss.s.Coverage, ss.s)
	report, err := coverage.Analyze(ctx, traj.Poses, traj.Convention, params)
	if err != nil {
		return err
	}
	ss.res.Coverage = report
	if report.WellCoveredRatio < 0.95 {
		ss.warnings.Addf("only %.1f%% of the volume is seen by %d or more views", 100*report.WellCoveredRatio, report.WellCoveredMin)
	}

	path := ss.layout.CoverageHTMLPath()
	p, err := fsutil.CreatePartial(ss.o.fs, path)
	if err != nil {
		return errs.IO("create "+path, err)
	}
	if err := coverage.WriteHTML(p, report, passes); err != nil {
		p.Abort()
		return err
	}
	n := p.Written()
	if err := p.Commit(); err != nil {
		return errs.IO("commit "+path, err)
	}
	ss.outputs = append(ss.outputs, dataset.Output{Kind: dataset.OutputReport, Path: path, Bytes: n})
	return nil
}

// abort removes everything the session wrote and marks it failed in the
// manifest.
func (ss *session) abort(cause error) {
	if ss.writer != nil {
		ss.writer.Abort()
	}
	for _, out := range ss.outputs {
		_ = ss.o.fs.Remove(out.Path)
	}
	ss.outputs = nil
	ss.res.Outputs = nil
	if ss.stored {
		if err := ss.o.store.FailSession(context.Background(), ss.id, cause); err != nil {
			monitoring.Logf("capture: failed to mark session %s failed: %v", ss.id, err)
		}
	}
}

// Package dataset holds the plain data model produced by a capture session:
// camera models, frames and optional sparse points, plus the accessors an
// external manifest or reporting step reads.
package dataset

import (
	"fmt"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/splatcapture/internal/camera"
	"github.com/banshee-data/splatcapture/internal/convention"
	"github.com/banshee-data/splatcapture/internal/depth"
	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/geom"
)

// Default image naming.
const (
	DefaultImagePrefix    = "image_"
	DefaultImageExtension = ".jpg"
	imageIndexDigits      = 5
)

// ImageName returns the file name for the zero-based capture index.
func ImageName(prefix string, index int, ext string) string {
	return fmt.Sprintf("%s%0*d%s", prefix, imageIndexDigits, index, ext)
}

// Frame is one capture event. Pose is camera-to-world in the dataset's
// convention.
type Frame struct {
	ID        uint32
	Timestamp time.Time
	Pose      geom.Pose
	CameraID  uint32
	Name      string
	// Depth is a linear, metric depth buffer or nil.
	Depth *depth.Buffer
	// Color is owned by the renderer.
	Color any
}

// TrackElement is one observation of a sparse point.
type TrackElement struct {
	ImageID    uint32
	Point2DIdx uint32
}

// Point3D is a sparse point.
type Point3D struct {
	ID       uint64
	Position r3.Vec
	Color    [3]uint8
	Error    float64
	Track    []TrackElement
}

// Dataset is the output of a session. It is written once and not modified
// afterwards.
type Dataset struct {
	Convention convention.Convention
	Cameras    []camera.Model
	Frames     []Frame
	Points     []Point3D
}

// FrameCount returns the number of frames.
func (d *Dataset) FrameCount() int { return len(d.Frames) }

// Bounds returns the box enclosing the camera centres and sparse points.
// An empty dataset has a zero box.
func (d *Dataset) Bounds() r3.Box {
	pts := make([]r3.Vec, 0, len(d.Frames)+len(d.Points))
	for _, f := range d.Frames {
		pts = append(pts, f.Pose.Position)
	}
	for _, p := range d.Points {
		pts = append(pts, p.Position)
	}
	return geom.Bounds(pts)
}

// Camera returns the model with the given id.
func (d *Dataset) Camera(id uint32) (camera.Model, bool) {
	for _, c := range d.Cameras {
		if c.ID == id {
			return c, true
		}
	}
	return camera.Model{}, false
}

// Positions returns the camera centres in frame order.
func (d *Dataset) Positions() []r3.Vec {
	out := make([]r3.Vec, len(d.Frames))
	for i, f := range d.Frames {
		out[i] = f.Pose.Position
	}
	return out
}

// Validate checks the cross-references of d: unique valid cameras, frame ids
// sequential from 1, non-decreasing timestamps, known camera references and
// unique non-empty names.
func (d *Dataset) Validate() error {
	if err := d.Convention.Validate(); err != nil {
		return err
	}
	seen := make(map[uint32]bool, len(d.Cameras))
	for _, c := range d.Cameras {
		if err := c.Validate(); err != nil {
			return err
		}
		if seen[c.ID] {
			return errs.Configf("dataset", "duplicate camera id %d", c.ID)
		}
		seen[c.ID] = true
	}
	names := make(map[string]bool, len(d.Frames))
	for i, f := range d.Frames {
		if f.ID != uint32(i+1) {
			return errs.Configf("dataset", "frame %d has id %d, want %d", i, f.ID, i+1)
		}
		if i > 0 && f.Timestamp.Before(d.Frames[i-1].Timestamp) {
			return errs.Configf("dataset", "frame %d timestamp goes backwards", f.ID)
		}
		if !seen[f.CameraID] {
			return errs.Configf("dataset", "frame %d references unknown camera %d", f.ID, f.CameraID)
		}
		if f.Name == "" || names[f.Name] {
			return errs.Configf("dataset", "frame %d has empty or duplicate name %q", f.ID, f.Name)
		}
		names[f.Name] = true
		if !geom.IsFinite(f.Pose.Position) {
			return errs.Conversionf("dataset", "frame %d position is not finite", f.ID)
		}
	}
	return nil
}

// Output kinds.
const (
	OutputCameras    = "cameras"
	OutputImages     = "images"
	OutputPoints3D   = "points3D"
	OutputDepth      = "depth"
	OutputSplats     = "splats"
	OutputPointCloud = "pointcloud"
	OutputReport     = "report"
	OutputImageFile  = "image"
)

// Output is one file written for a dataset.
type Output struct {
	Kind  string
	Path  string
	Bytes int64
}

// Format selects the COLMAP encoding.
type Format int

const (
	Text Format = iota
	Binary
)

// Ext returns the file extension for f.
func (f Format) Ext() string {
	if f == Binary {
		return ".bin"
	}
	return ".txt"
}

func (f Format) String() string {
	if f == Binary {
		return "binary"
	}
	return "text"
}

// ParseFormat accepts "text", "txt", "binary" or "bin".
func ParseFormat(s string) (Format, error) {
	switch s {
	case "text", "txt":
		return Text, nil
	case "binary", "bin":
		return Binary, nil
	}
	return 0, errs.Configf("dataset", "unknown format %q", s)
}

// Layout names the files of a dataset directory.
type Layout struct {
	Root   string
	Format Format
}

func (l Layout) ImagesDir() string { return filepath.Join(l.Root, "images") }
func (l Layout) DepthDir() string  { return filepath.Join(l.Root, "depth") }
func (l Layout) SparseDir() string { return filepath.Join(l.Root, "sparse", "0") }

func (l Layout) CamerasPath() string  { return filepath.Join(l.SparseDir(), "cameras"+l.Format.Ext()) }
func (l Layout) ImagesPath() string   { return filepath.Join(l.SparseDir(), "images"+l.Format.Ext()) }
func (l Layout) Points3DPath() string { return filepath.Join(l.SparseDir(), "points3D"+l.Format.Ext()) }

// PointCloudPath is the optional PLY export of the sparse points.
func (l Layout) PointCloudPath() string { return filepath.Join(l.SparseDir(), "points3D.ply") }

func (l Layout) SplatsPath() string       { return filepath.Join(l.Root, "splats.ply") }
func (l Layout) CoverageHTMLPath() string { return filepath.Join(l.Root, "coverage.html") }
func (l Layout) ManifestPath() string     { return filepath.Join(l.Root, "manifest.db") }

// DepthPath returns the NPY path for a frame's depth map.
func (l Layout) DepthPath(f Frame) string {
	base := f.Name[:len(f.Name)-len(filepath.Ext(f.Name))]
	return filepath.Join(l.DepthDir(), base+".npy")
}

// Dirs lists the directories a writer creates.
func (l Layout) Dirs() []string {
	return []string{l.ImagesDir(), l.DepthDir(), l.SparseDir()}
}

// OutputPaths lists the files written for d under l: the three sparse files
// followed by one depth map per frame that carries depth.
func (d *Dataset) OutputPaths(l Layout) []string {
	out := []string{l.CamerasPath(), l.ImagesPath(), l.Points3DPath()}
	for _, f := range d.Frames {
		if f.Depth != nil {
			out = append(out, l.DepthPath(f))
		}
	}
	return out
}

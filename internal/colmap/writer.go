package colmap

import (
	"context"
	"fmt"
	"io"

	"github.com/banshee-data/splatcapture/internal/camera"
	"github.com/banshee-data/splatcapture/internal/convention"
	"github.com/banshee-data/splatcapture/internal/dataset"
	"github.com/banshee-data/splatcapture/internal/depth"
	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/fsutil"
	"github.com/banshee-data/splatcapture/internal/monitoring"
)

// Writer streams one session into a dataset directory. Cameras are written
// by Create, frames are appended in id order by WriteFrame and the sparse
// points are written by Close. Poses, intrinsics and points are converted
// from the session convention to COLMAP on the way.
//
// After any error the caller must call Abort, which removes every file the
// writer created.
type Writer struct {
	fs      fsutil.FileSystem
	layout  dataset.Layout
	conv    convention.Convention
	cameras map[uint32]bool

	images   *fsutil.PartialFile
	stream   *StreamWriter
	expected int64

	outputs []dataset.Output
	done    bool
}

// Create prepares root for frames captured with conv, writes the camera
// file and opens the image file for frames records.
func Create(fsys fsutil.FileSystem, root string, f dataset.Format, conv convention.Convention, cams []camera.Model, frames int) (*Writer, error) {
	if err := conv.Validate(); err != nil {
		return nil, err
	}
	if len(cams) == 0 {
		return nil, errs.Configf("colmap", "a dataset needs at least one camera")
	}
	out := make([]camera.Model, len(cams))
	ids := make(map[uint32]bool, len(cams))
	for i, c := range cams {
		m, err := convention.ConvertIntrinsics(c, conv, convention.COLMAP)
		if err != nil {
			return nil, err
		}
		out[i] = m
		ids[c.ID] = true
	}

	w := &Writer{
		fs:      fsys,
		layout:  dataset.Layout{Root: root, Format: f},
		conv:    conv,
		cameras: ids,
	}
	for _, dir := range w.layout.Dirs() {
		if err := fsys.MkdirAll(dir, 0755); err != nil {
			return nil, errs.IO("create "+dir, err)
		}
	}

	size := int64(-1)
	if f == dataset.Binary {
		size = CamerasBinarySize(out)
	}
	err := w.writeFile(dataset.OutputCameras, w.layout.CamerasPath(), size, func(wr io.Writer) error {
		return WriteCameras(wr, f, out)
	})
	if err != nil {
		w.Abort()
		return nil, err
	}

	w.images, err = fsutil.CreatePartial(fsys, w.layout.ImagesPath())
	if err != nil {
		w.Abort()
		return nil, errs.IO("create "+w.layout.ImagesPath(), err)
	}
	w.stream, err = NewStreamWriter(w.images, f, frames)
	if err != nil {
		w.Abort()
		return nil, err
	}
	w.expected = 8
	return w, nil
}

// Layout returns the file layout of the dataset.
func (w *Writer) Layout() dataset.Layout { return w.layout }

// Frames returns the number of frames written so far.
func (w *Writer) Frames() int { return w.stream.Count() }

// WriteFrame appends f to the image file and writes its depth map, if any.
func (w *Writer) WriteFrame(ctx context.Context, f dataset.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.done {
		return errs.Formatf("colmap", "write after close")
	}
	if !w.cameras[f.CameraID] {
		return errs.Configf("colmap", "frame %d references unknown camera %d", f.ID, f.CameraID)
	}
	pose, err := convention.ConvertPose(f.Pose, w.conv, convention.COLMAP)
	if err != nil {
		return fmt.Errorf("frame %d: %w", f.ID, err)
	}
	f.Pose = pose
	im, err := ImageFromFrame(f)
	if err != nil {
		return fmt.Errorf("frame %d: %w", f.ID, err)
	}
	if err := w.stream.Append(im); err != nil {
		return err
	}
	w.expected += imageRecordSize(im)

	if f.Depth != nil {
		b := f.Depth
		size := int64(len(depth.NPYHeader(b.Width, b.Height))) + 4*int64(len(b.Data))
		err := w.writeFile(dataset.OutputDepth, w.layout.DepthPath(f), size, func(wr io.Writer) error {
			return errs.IO("write depth", depth.WriteNPY(wr, b))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Close finishes the image file, writes the sparse points and returns the
// files written. Close fails with a format error when the number of frames
// differs from the count given to Create.
func (w *Writer) Close(points []dataset.Point3D) ([]dataset.Output, error) {
	if w.done {
		return nil, errs.Formatf("colmap", "writer already closed")
	}
	if err := w.stream.Close(); err != nil {
		w.Abort()
		return nil, err
	}
	if w.layout.Format == dataset.Binary && w.images.Written() != w.expected {
		w.Abort()
		return nil, errs.Formatf("colmap", "images.bin is %d bytes, expected %d", w.images.Written(), w.expected)
	}
	written := w.images.Written()
	if err := w.images.Commit(); err != nil {
		w.Abort()
		return nil, errs.IO("commit "+w.layout.ImagesPath(), err)
	}
	w.outputs = append(w.outputs, dataset.Output{Kind: dataset.OutputImages, Path: w.layout.ImagesPath(), Bytes: written})

	pts := make([]dataset.Point3D, len(points))
	for i, p := range points {
		pos, err := convention.ConvertPosition(p.Position, w.conv, convention.COLMAP)
		if err != nil {
			w.Abort()
			return nil, err
		}
		p.Position = pos
		pts[i] = p
	}
	size := int64(-1)
	if w.layout.Format == dataset.Binary {
		size = Points3DBinarySize(pts)
	}
	err := w.writeFile(dataset.OutputPoints3D, w.layout.Points3DPath(), size, func(wr io.Writer) error {
		return WritePoints3D(wr, w.layout.Format, pts)
	})
	if err != nil {
		w.Abort()
		return nil, err
	}
	w.done = true
	monitoring.Logf("colmap: wrote %d frames and %d points to %s", w.stream.Count(), len(pts), w.layout.Root)
	return w.outputs, nil
}

// Abort discards the open image file and removes every file already
// written. It is a no-op after a successful Close.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	if w.images != nil {
		w.images.Abort()
	}
	for _, o := range w.outputs {
		_ = w.fs.Remove(o.Path)
	}
	w.outputs = nil
}

// writeFile writes one complete file through a partial file. A positive
// size is checked against the bytes written before the file is committed.
func (w *Writer) writeFile(kind, path string, size int64, fn func(io.Writer) error) error {
	p, err := fsutil.CreatePartial(w.fs, path)
	if err != nil {
		return errs.IO("create "+path, err)
	}
	if err := fn(p); err != nil {
		p.Abort()
		return err
	}
	if size >= 0 && p.Written() != size {
		p.Abort()
		return errs.Formatf("colmap", "%s is %d bytes, expected %d", path, p.Written(), size)
	}
	n := p.Written()
	if err := p.Commit(); err != nil {
		return errs.IO("commit "+path, err)
	}
	w.outputs = append(w.outputs, dataset.Output{Kind: kind, Path: path, Bytes: n})
	return nil
}

// WriteDataset writes ds under root in format f. On any error, including
// cancellation, nothing is left behind but the directories.
func WriteDataset(ctx context.Context, fsys fsutil.FileSystem, root string, ds *dataset.Dataset, f dataset.Format) ([]dataset.Output, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	w, err := Create(fsys, root, f, ds.Convention, ds.Cameras, len(ds.Frames))
	if err != nil {
		return nil, err
	}
	for _, fr := range ds.Frames {
		if err := w.WriteFrame(ctx, fr); err != nil {
			w.Abort()
			return nil, err
		}
	}
	return w.Close(ds.Points)
}

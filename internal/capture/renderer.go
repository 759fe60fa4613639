// Package capture drives a renderer along a planned trajectory and streams
// the results into a dataset directory. Frames are rendered concurrently and
// written strictly in frame id order by a single writer.
package capture

import (
	"context"

	"github.com/banshee-data/splatcapture/internal/camera"
	"github.com/banshee-data/splatcapture/internal/convention"
	"github.com/banshee-data/splatcapture/internal/geom"
)

// Request asks a renderer for one view. Pose and Camera are expressed in
// Convention.
type Request struct {
	Index      int
	FrameID    uint32
	Name       string
	Pose       geom.Pose
	Convention convention.Convention
	Camera     camera.Model
	Depth      bool
}

// RenderResult is what a renderer hands back for one request. RawDepth holds
// reversed-depth samples (1 at the near plane, 0 at the far plane) in row-major
// order with the top-left pixel first; it is nil when no depth was requested.
type RenderResult struct {
	Request     Request
	Color       any
	RawDepth    []float32
	DepthWidth  int
	DepthHeight int
}

// Renderer produces one view per call. Implementations must be safe for
// concurrent use.
type Renderer interface {
	Render(ctx context.Context, req Request) (RenderResult, error)
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(ctx context.Context, req Request) (RenderResult, error)

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, req Request) (RenderResult, error) {
	return f(ctx, req)
}

package capture

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/splatcapture/internal/convention"
	"github.com/banshee-data/splatcapture/internal/dataset"
	"github.com/banshee-data/splatcapture/internal/depth"
	"github.com/banshee-data/splatcapture/internal/errs"
	"github.com/banshee-data/splatcapture/internal/timeutil"
)

// FrameSink receives frames in increasing id order from a single goroutine.
type FrameSink interface {
	WriteFrame(ctx context.Context, f dataset.Frame) error
}

// FrameSinkFunc adapts a function to the FrameSink interface.
type FrameSinkFunc func(ctx context.Context, f dataset.Frame) error

// WriteFrame calls f.
func (f FrameSinkFunc) WriteFrame(ctx context.Context, fr dataset.Frame) error { return f(ctx, fr) }

// Pipeline renders requests on a bounded pool of workers and hands the
// resulting frames to Sink in frame id order.
//
// At most 2*Workers frames are in flight between the feeder and the sink, so
// a slow early frame stalls new work instead of growing the reorder queue.
type Pipeline struct {
	Renderer Renderer
	// Target is the convention of the emitted frames.
	Target convention.Convention
	// Depth linearizes raw depth samples.
	Depth depth.Params
	// Workers is the number of concurrent renders; 0 means GOMAXPROCS.
	Workers int
	// Clock stamps frames as they are written; nil means the wall clock.
	Clock timeutil.Clock
	Sink  FrameSink
}

// Run processes reqs and returns the number of frames the sink accepted.
// Frame ids must be consecutive. The first error cancels every goroutine and
// is returned; frames after the failing one are never written.
func (p *Pipeline) Run(ctx context.Context, reqs []Request) (int, error) {
	if p.Renderer == nil || p.Sink == nil {
		return 0, errs.Configf("pipeline", "renderer and sink are required")
	}
	if err := p.Target.Validate(); err != nil {
		return 0, err
	}
	for i := 1; i < len(reqs); i++ {
		if reqs[i].FrameID != reqs[0].FrameID+uint32(i) {
			return 0, errs.Configf("pipeline", "request %d has frame id %d, want %d", i, reqs[i].FrameID, reqs[0].FrameID+uint32(i))
		}
	}
	if len(reqs) == 0 {
		return 0, nil
	}
	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	clock := p.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	g, gctx := errgroup.WithContext(ctx)
	window := make(chan struct{}, 2*workers)
	jobs := make(chan Request)
	results := make(chan dataset.Frame, workers)

	// Feeder: hands out requests in id order, one window slot each.
	g.Go(func() error {
		defer close(jobs)
		for _, r := range reqs {
			select {
			case window <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			select {
			case jobs <- r:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			defer wg.Done()
			for r := range jobs {
				f, err := p.process(gctx, r)
				if err != nil {
					return err
				}
				select {
				case results <- f:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	written := 0
	g.Go(func() error {
		var q orderedQueue
		next := reqs[0].FrameID
		for f := range results {
			q.push(f)
			for {
				fr, ok := q.ready(next)
				if !ok {
					break
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				fr.Timestamp = clock.Now()
				if err := p.Sink.WriteFrame(gctx, fr); err != nil {
					return fmt.Errorf("frame %d: %w", fr.ID, err)
				}
				written++
				next++
				<-window
			}
		}
		return nil
	})

	err := g.Wait()
	if err != nil {
		return written, err
	}
	if written != len(reqs) {
		if cerr := ctx.Err(); cerr != nil {
			return written, cerr
		}
		return written, errs.Formatf("pipeline", "wrote %d of %d frames", written, len(reqs))
	}
	return written, nil
}

// process renders one request and turns the result into a frame in the
// target convention.
func (p *Pipeline) process(ctx context.Context, r Request) (dataset.Frame, error) {
	res, err := p.Renderer.Render(ctx, r)
	if err != nil {
		return dataset.Frame{}, fmt.Errorf("render frame %d: %w", r.FrameID, err)
	}
	pose, err := convention.ConvertPose(r.Pose, r.Convention, p.Target)
	if err != nil {
		return dataset.Frame{}, fmt.Errorf("frame %d: %w", r.FrameID, err)
	}
	f := dataset.Frame{
		ID:       r.FrameID,
		Pose:     pose,
		CameraID: r.Camera.ID,
		Name:     r.Name,
		Color:    res.Color,
	}
	if r.Depth {
		if res.RawDepth == nil {
			return dataset.Frame{}, errs.Formatf("pipeline", "frame %d: renderer returned no depth", r.FrameID)
		}
		buf, err := depth.LinearizeBuffer(ctx, res.RawDepth, res.DepthWidth, res.DepthHeight, p.Depth)
		if err != nil {
			return dataset.Frame{}, fmt.Errorf("frame %d: %w", r.FrameID, err)
		}
		f.Depth = buf
	}
	return f, nil
}

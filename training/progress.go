package training

import (
	"io"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// ProgressReporter draws one bar per training or validation phase. A nil
// reporter draws nothing.
type ProgressReporter struct {
	out io.Writer
}

// NewProgressReporter renders bars to out, normally os.Stderr so that metric
// lines on stdout stay clean
func NewProgressReporter(out io.Writer) *ProgressReporter {
	return &ProgressReporter{out: out}
}

// ProgressBar tracks one phase
type ProgressBar struct {
	progress *mpb.Progress
	bar      *mpb.Bar
}

// Start begins a phase of total steps
func (r *ProgressReporter) Start(name string, total int) *ProgressBar {
	if r == nil || r.out == nil {
		return nil
	}

	p := mpb.New(mpb.WithWidth(80), mpb.WithOutput(r.out))
	bar := p.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name(name+": "),
			decor.CountersNoUnit("%d / %d", decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done!"),
		),
	)
	return &ProgressBar{progress: p, bar: bar}
}

// Increment advances the bar by one step
func (pb *ProgressBar) Increment() {
	if pb == nil {
		return
	}
	pb.bar.Increment()
}

// Finish completes the bar at its current count and waits for the final render
func (pb *ProgressBar) Finish() {
	if pb == nil {
		return
	}
	pb.bar.SetTotal(-1, true)
	pb.progress.Wait()
}

// Abort stops the bar without completing it
func (pb *ProgressBar) Abort() {
	if pb == nil {
		return
	}
	pb.bar.Abort(false)
	pb.progress.Wait()
}

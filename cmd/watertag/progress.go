package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/couchcryptid/watertag-etl/internal/domain"
	"github.com/gosuri/uiprogress"
)

// progressBar renders recipe steps as a terminal progress bar. It implements
// pipeline.StepObserver.
type progressBar struct {
	progress *uiprogress.Progress
	bar      *uiprogress.Bar

	mu    sync.Mutex
	label string
}

func newProgressBar(w io.Writer, steps int) *progressBar {
	p := &progressBar{progress: uiprogress.New(), label: "combining"}
	p.progress.SetOut(w)
	p.bar = p.progress.AddBar(steps).AppendCompleted().PrependElapsed()
	p.bar.PrependFunc(func(*uiprogress.Bar) string {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.label
	})
	p.progress.Start()
	return p
}

func (p *progressBar) StepDone(index, total int, report domain.StepReport) {
	p.mu.Lock()
	p.label = fmt.Sprintf("%d/%d %s", index+1, total, report.NewRegion)
	p.mu.Unlock()
	p.bar.Incr()
}

func (p *progressBar) stop() {
	p.progress.Stop()
}

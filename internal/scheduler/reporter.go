package scheduler

import (
	"fmt"
	"os"
	"sync"

	"github.com/cheggaaa/pb/v3"
	"github.com/mattn/go-isatty"
	"github.com/nbmpm/nbm/internal/pkggraph"
	"github.com/sirupsen/logrus"
)

// ProgressReporter is the default Reporter: a terminal progress bar when
// stdout is a tty, falling back to structured log lines otherwise.
type ProgressReporter struct {
	log *logrus.Logger

	mu  sync.Mutex
	bar *pb.ProgressBar
}

// NewProgressReporter returns a Reporter for a build of total packages,
// using log for the non-interactive fallback.
func NewProgressReporter(total int, log *logrus.Logger) *ProgressReporter {
	r := &ProgressReporter{log: log}
	if isatty.IsTerminal(os.Stdout.Fd()) {
		r.bar = pb.New(total)
		r.bar.Set("prefix", "building ")
		r.bar.SetMaxWidth(80)
		r.bar.Start()
	}
	return r
}

func (r *ProgressReporter) Started(pkg *pkggraph.Package) {
	if r.bar == nil {
		r.log.WithField("pkg", pkg.Name).Info("build started")
	}
}

func (r *ProgressReporter) Succeeded(pkg *pkggraph.Package, fromCache bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar != nil {
		r.bar.Increment()
		return
	}
	r.log.WithFields(logrus.Fields{"pkg": pkg.Name, "cached": fromCache}).Info("build succeeded")
}

func (r *ProgressReporter) Failed(pkg *pkggraph.Package, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar != nil {
		r.bar.Increment()
	}
	r.log.WithField("pkg", pkg.Name).Error(fmt.Sprintf("build failed: %v", err))
}

// Finish stops the progress bar, if one was started. Call after Run
// returns, success or failure.
func (r *ProgressReporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar != nil {
		r.bar.Finish()
	}
}

var _ Reporter = (*ProgressReporter)(nil)

package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"panostitch/internal/fsutil"
	"panostitch/internal/pipeline"
)

// Submitter accepts stitch jobs.
type Submitter interface {
	Submit(job pipeline.Job) error
}

// Options tune when and how a directory is re-stitched.
type Options struct {
	FocalFile string        // focal length file name or path
	Output    string        // panorama path written by each run
	Debounce  time.Duration // quiet period before a run
	JobOpts   map[string]any
}

// Watcher re-stitches a directory after new images stop arriving.
type Watcher struct {
	dir     string
	opts    Options
	submit  Submitter
	log     *slog.Logger
	watcher *fsnotify.Watcher
	newID   func() string
}

// New starts watching dir. Events are only acted on once Run is called.
func New(dir string, opts Options, submit Submitter, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.Output == "" {
		opts.Output = "panorama.png"
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	output, err := filepath.Abs(opts.Output)
	if err != nil {
		return nil, err
	}
	// The loader would pick the previous panorama up as an input frame.
	if filepath.Dir(output) == absDir {
		return nil, fmt.Errorf("output %s must not be inside the watched directory", opts.Output)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	log.Info("watching directory", "dir", dir, "debounce", opts.Debounce.String())

	return &Watcher{
		dir:     dir,
		opts:    opts,
		submit:  submit,
		log:     log,
		watcher: fw,
		newID:   uuid.NewString,
	}, nil
}

// Run handles events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.log.Debug("change detected", "path", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
			} else {
				timer.Reset(w.opts.Debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.trigger()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("filesystem watcher error", "error", err)
		}
	}
}

// relevant reports whether an event should schedule a run.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	if filepath.Base(event.Name) == filepath.Base(w.opts.FocalFile) {
		return true
	}
	return fsutil.IsImageFile(event.Name)
}

// trigger submits a stitch job when the directory holds images and a focal file.
func (w *Watcher) trigger() {
	images, err := fsutil.ListImages(w.dir)
	if err != nil {
		w.log.Warn("cannot list watched directory", "dir", w.dir, "error", err)
		return
	}
	if len(images) == 0 {
		return
	}
	focal := pipeline.LocateFocalFile(w.dir, w.opts.FocalFile)
	if focal == "" {
		w.log.Warn("no focal length file yet, skipping run", "dir", w.dir, "focal_file", w.opts.FocalFile)
		return
	}

	opts := map[string]any{pipeline.OptFocalFile: focal}
	for k, v := range w.opts.JobOpts {
		opts[k] = v
	}
	job := pipeline.Job{
		ID:        w.newID(),
		Type:      pipeline.JobStitch,
		InputPath: w.dir,
		Output:    w.opts.Output,
		Options:   opts,
	}
	if err := w.submit.Submit(job); err != nil {
		w.log.Warn("failed to submit stitch job", "dir", w.dir, "error", err)
		return
	}
	w.log.Info("stitch job submitted", "id", job.ID, "images", len(images))
}

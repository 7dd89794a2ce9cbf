package sweeper

import (
	"context"
	"fmt"
	"os"
	"time"

	"catalog-svc/imagestore"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type ImageReferences interface {
	ImagePaths(ctx context.Context) ([]string, error)
}

type ImageFiles interface {
	List() ([]os.FileInfo, error)
	Remove(relativePath string) imagestore.RemoveOutcome
}

type Result struct {
	Scanned int
	Removed int
	Failed  int
}

// Sweeper removes image files that no product references. Files younger than
// the grace period are left alone, since a request may have written them and
// not yet committed the row that points at them.
type Sweeper struct {
	refs   ImageReferences
	files  ImageFiles
	grace  time.Duration
	now    func() time.Time
	logger *zap.Logger

	// OnRemove is called with the outcome of every removal attempt.
	OnRemove func(imagestore.RemoveOutcome)
}

func New(refs ImageReferences, files ImageFiles, grace time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		refs:   refs,
		files:  files,
		grace:  grace,
		now:    time.Now,
		logger: logger,
	}
}

func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	var res Result

	// List files before loading references: a file written after the listing
	// is not considered, and a row committed after it only adds references.
	files, err := s.files.List()
	if err != nil {
		return res, err
	}

	paths, err := s.refs.ImagePaths(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to load image references: %w", err)
	}
	referenced := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		referenced[p] = struct{}{}
	}

	cutoff := s.now().Add(-s.grace)
	for _, fi := range files {
		if !imagestore.IsStoredName(fi.Name()) {
			continue
		}
		res.Scanned++

		p := imagestore.PathFor(fi.Name())
		if _, ok := referenced[p]; ok || fi.ModTime().After(cutoff) {
			continue
		}

		outcome := s.files.Remove(p)
		if s.OnRemove != nil {
			s.OnRemove(outcome)
		}
		switch outcome {
		case imagestore.Removed:
			res.Removed++
			s.logger.Info("Removed orphaned image", zap.String("image_path", p))
		case imagestore.Failed:
			res.Failed++
		}
	}

	return res, nil
}

// Schedule runs the sweeper on spec until ctx is done. The returned cron is
// already started.
func (s *Sweeper) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))

	_, err := c.AddFunc(spec, func() {
		res, err := s.Run(ctx)
		if err != nil {
			s.logger.Error("Image sweep failed", zap.Error(err))
			return
		}
		s.logger.Info("Image sweep finished",
			zap.Int("scanned", res.Scanned),
			zap.Int("removed", res.Removed),
			zap.Int("failed", res.Failed),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}

	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return c, nil
}

// Package publish stages stage outputs in a scratch directory and moves
// them into the output directory only when the stage succeeds.
package publish

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// stagingDir lives inside the output directory so renames never cross a
// filesystem boundary.
const stagingDir = ".staging"

// Mirror copies published files elsewhere, e.g. to object storage.
type Mirror interface {
	Upload(ctx context.Context, rel, path string) error
}

// Publisher owns an output directory.
type Publisher struct {
	root   string
	mirror Mirror
}

// New creates a Publisher for root, creating the directory if needed.
// mirror may be nil.
func New(root string, mirror Mirror) (*Publisher, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrapf(err, "publish: create %s", root)
	}
	return &Publisher{root: root, mirror: mirror}, nil
}

// Root returns the published output directory.
func (p *Publisher) Root() string { return p.root }

// Staging is a scratch directory holding the outputs of one stage.
type Staging struct {
	Dir   string
	stage string
	p     *Publisher
}

// Stage creates an empty staging directory for stage.
func (p *Publisher) Stage(stage string) (*Staging, error) {
	base := filepath.Join(p.root, stagingDir)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, eris.Wrapf(err, "publish: create %s", base)
	}
	dir, err := os.MkdirTemp(base, stage+"-*")
	if err != nil {
		return nil, eris.Wrapf(err, "publish: stage %s", stage)
	}
	return &Staging{Dir: dir, stage: stage, p: p}, nil
}

// Files lists the staged files relative to the staging directory, sorted.
func (s *Staging) Files() ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.Dir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "publish: list %s", s.Dir)
	}
	slices.Sort(files)
	return files, nil
}

// Commit renames every staged file over its published counterpart,
// removes the staging directory and mirrors the published files. It
// returns the published paths relative to the output directory.
func (s *Staging) Commit(ctx context.Context) ([]string, error) {
	log := zap.L().With(zap.String("component", "publish"), zap.String("stage", s.stage))

	files, err := s.Files()
	if err != nil {
		return nil, err
	}
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dst := filepath.Join(s.p.root, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, eris.Wrapf(err, "publish: create directory for %s", dst)
		}
		if err := os.Rename(filepath.Join(s.Dir, rel), dst); err != nil {
			return nil, eris.Wrapf(err, "publish: rename %s", rel)
		}
	}
	if err := s.Discard(); err != nil {
		return nil, err
	}
	log.Info("stage published", zap.Strings("files", files))

	if s.p.mirror != nil {
		for _, rel := range files {
			if err := s.p.mirror.Upload(ctx, filepath.ToSlash(rel), filepath.Join(s.p.root, rel)); err != nil {
				return nil, eris.Wrapf(err, "publish: mirror %s", rel)
			}
		}
		log.Info("stage mirrored", zap.Int("files", len(files)))
	}
	return files, nil
}

// Discard removes the staging directory and anything left in it.
func (s *Staging) Discard() error {
	return eris.Wrapf(os.RemoveAll(s.Dir), "publish: remove %s", s.Dir)
}

package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jtang613/gosyms/pkg/mapfile"
	"github.com/jtang613/gosyms/pkg/syms"
)

// session keeps the mapped inputs of an instance alive until the command
// is done with it.
type session struct {
	in    *syms.Instance
	files []*mapfile.File
	// data is the mapped debug information file.
	data []byte
}

func (s *session) Close() error {
	var first error
	for _, f := range s.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func openSession(ctx context.Context) (*session, error) {
	s := &session{
		in: syms.New(syms.Options{
			Logger:     logger,
			DeferBuild: true,
			Rebase:     cfg.rebase,
			Demangle:   cfg.demangle,
		}),
	}
	if cfg.image != "" {
		f, err := mapfile.Open(cfg.image)
		if err != nil {
			return nil, err
		}
		s.files = append(s.files, f)
		if err := s.in.LoadImage(f.Data()); err != nil {
			s.Close()
			return nil, errors.Wrapf(err, "image %s", cfg.image)
		}
	}

	f, err := mapfile.Open(cfg.file)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.files = append(s.files, f)
	s.data = f.Data()
	if err := s.in.LoadDebugInfo(syms.File{Name: filepath.Base(cfg.file), Data: s.data}); err != nil {
		s.Close()
		return nil, err
	}
	if err := buildModules(ctx, s.in); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// buildModules builds every module with up to cfg.jobs workers. A module
// that fails to build is logged and left to answer queries by scanning.
func buildModules(ctx context.Context, in *syms.Instance) error {
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	if cfg.jobs > 0 {
		g.SetLimit(cfg.jobs)
	}
	for id := 0; id < in.ModuleCount(); id++ {
		id := id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := in.BuildModule(id, nil); err != nil {
				level.Warn(logger).Log("msg", "module build failed", "module", id, "err", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	level.Debug(logger).Log("msg", "modules built",
		"built", in.ModuleBuildCount(),
		"modules", in.ModuleCount(),
		"duration", time.Since(start))
	return nil
}

// withInstance loads cfg.file, runs fn on it and releases the inputs.
func withInstance(fn func(*session) error) error {
	s, err := openSession(context.Background())
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			level.Warn(log.With(logger, "file", cfg.file)).Log("msg", "failed to unmap input", "err", err)
		}
	}()
	return fn(s)
}

// Package models resolves whisper model sizes to validated local cache
// directories, fetching missing artifacts from a remote registry on demand.
package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"

	"github.com/embano1/transcribe-worker/internal/logging"
)

var (
	// ErrUnknownModel is returned for sizes outside the catalog.
	ErrUnknownModel = errors.New("unknown model size")
	// ErrModelNotCached is returned when artifacts are missing and fetching is disabled.
	ErrModelNotCached = errors.New("model not cached")
)

const lockRetryDelay = 500 * time.Millisecond

// Model is a resolved, complete cache entry.
type Model struct {
	Size string
	Dir  string
}

// Options configures a Provider.
type Options struct {
	CacheDir    string
	RegistryURL string
	Token       string
	AutoFetch   bool
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Provider resolves model sizes against the cache directory.
type Provider struct {
	cacheDir    string
	registryURL string
	token       string
	autoFetch   bool
	client      *http.Client
	group       singleflight.Group
	logger      *slog.Logger
}

// NewProvider constructs a provider.
func NewProvider(opts Options) *Provider {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Provider{
		cacheDir:    opts.CacheDir,
		registryURL: strings.TrimRight(opts.RegistryURL, "/"),
		token:       opts.Token,
		autoFetch:   opts.AutoFetch,
		client:      client,
		logger:      logging.NewComponentLogger(opts.Logger, "models"),
	}
}

// Resolve returns the cache entry for size. Missing artifacts are fetched
// when auto-fetch is enabled; otherwise ErrModelNotCached names them. A size
// outside the catalog is never replaced by another one.
func (p *Provider) Resolve(ctx context.Context, size string) (Model, error) {
	opt, ok := Lookup(strings.TrimSpace(size))
	if !ok {
		return Model{}, fmt.Errorf("%w %q (supported: %s)", ErrUnknownModel, size, strings.Join(Sizes(), ", "))
	}
	model := Model{Size: opt.Size, Dir: filepath.Join(p.cacheDir, opt.DirName())}

	missing := p.missing(opt)
	if len(missing) == 0 {
		return model, nil
	}
	if !p.autoFetch {
		return Model{}, fmt.Errorf("%w: %s is missing %s", ErrModelNotCached, model.Dir, strings.Join(missing, ", "))
	}
	if err := p.Fetch(ctx, opt.Size); err != nil {
		return Model{}, err
	}
	if missing := p.missing(opt); len(missing) > 0 {
		return Model{}, fmt.Errorf("%w: %s still missing %s after fetch", ErrModelNotCached, model.Dir, strings.Join(missing, ", "))
	}
	return model, nil
}

// Fetch downloads any missing artifacts for size. Concurrent callers in this
// process share one fetch; other processes are kept out by a lock file next to
// the cache entry. The shared fetch is detached from any single caller's
// cancellation: a cancelled caller returns early while the fetch carries on
// for the others.
func (p *Provider) Fetch(ctx context.Context, size string) error {
	opt, ok := Lookup(size)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownModel, size)
	}
	ch := p.group.DoChan(opt.Size, func() (any, error) {
		return nil, p.fetchLocked(context.WithoutCancel(ctx), opt)
	})
	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch %s: %w", opt.Size, ctx.Err())
	case res := <-ch:
		if res.Shared {
			p.logger.Debug("joined in-flight model fetch", logging.String("model", opt.Size))
		}
		return res.Err
	}
}

func (p *Provider) fetchLocked(ctx context.Context, opt Option) error {
	dir := filepath.Join(p.cacheDir, opt.DirName())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure model dir: %w", err)
	}

	lock := flock.New(filepath.Join(p.cacheDir, opt.DirName()+".lock"))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("acquire model lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("acquire model lock: %w", ctx.Err())
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			p.logger.Warn("failed to release model lock", logging.Error(err))
		}
	}()

	// another process may have completed the entry while we waited
	missing := p.missing(opt)
	if len(missing) == 0 {
		return nil
	}

	start := time.Now()
	p.logger.Info("fetching model",
		logging.String("model", opt.Size),
		logging.String("repo", opt.Repo),
		logging.String("size_estimate", opt.SizeLabel),
		logging.Int("files", len(missing)),
	)
	for _, name := range missing {
		url := fmt.Sprintf("%s/%s/resolve/main/%s", p.registryURL, opt.Repo, name)
		n, err := p.download(ctx, url, filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("fetch %s/%s: %w", opt.Size, name, err)
		}
		p.logger.Debug("model artifact fetched", logging.String("file", name), logging.Bytes("bytes", n))
	}
	p.logger.Info("model fetched", logging.String("model", opt.Size), logging.Duration("elapsed", time.Since(start)))
	return nil
}

// Missing lists the artifacts of size that are absent from the cache.
func (p *Provider) Missing(size string) ([]string, error) {
	opt, ok := Lookup(size)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownModel, size)
	}
	return p.missing(opt), nil
}

func (p *Provider) missing(opt Option) []string {
	dir := filepath.Join(p.cacheDir, opt.DirName())
	var out []string
	for _, name := range opt.Files {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.IsDir() || info.Size() == 0 {
			out = append(out, name)
		}
	}
	return out
}

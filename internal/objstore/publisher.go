package objstore

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fsds-cli/internal/extract"
	"github.com/sells-group/fsds-cli/internal/fsds"
	"github.com/sells-group/fsds-cli/internal/resilience"
)

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	Prefix      string
	MaxAttempts int
	RetryDelay  time.Duration
	ChunkRows   int
}

// Publisher uploads member files under the deterministic key layout.
type Publisher struct {
	store Store
	opts  PublisherOptions
}

// NewPublisher returns a Publisher writing to store.
func NewPublisher(store Store, opts PublisherOptions) *Publisher {
	if opts.Prefix == "" {
		opts.Prefix = fsds.DefaultKeyPrefix
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	return &Publisher{store: store, opts: opts}
}

// Publish uploads one representation of a member. The JSON representation is
// transcoded into a temp file under dir, which is removed before returning.
// Errors are *fsds.PublishError.
func (p *Publisher) Publish(ctx context.Context, period fsds.Period, file fsds.MemberFile, rep fsds.Representation, dir string) (fsds.StagedObject, error) {
	key := fsds.ObjectKey(p.opts.Prefix, period, file.Member, rep)
	log := zap.L().With(
		zap.String("component", "publisher"),
		zap.String("period", period.String()),
		zap.String("member", file.Member.String()),
		zap.String("key", key),
	)

	fail := func(err error) (fsds.StagedObject, error) {
		log.Error("publish failed", zap.String("representation", string(rep)), zap.Error(err))
		return fsds.StagedObject{}, &fsds.PublishError{Member: file.Member, Representation: rep, Err: err}
	}

	srcPath := file.Path
	size := file.Size
	if rep == fsds.JSON {
		path, n, err := p.transcode(ctx, file, dir)
		if err != nil {
			return fail(err)
		}
		defer os.Remove(path) //nolint:errcheck
		srcPath, size = path, n
	}

	policy := resilience.Policy{
		Attempts:  p.opts.MaxAttempts,
		BaseDelay: p.opts.RetryDelay,
		MaxDelay:  10 * time.Second,
		Jitter:    0.25,
		Retryable: resilience.Always,
		OnRetry:   resilience.LogRetry("publisher", "upload", zap.String("key", key)),
	}
	err := resilience.Do(ctx, policy, func(ctx context.Context) error {
		f, err := os.Open(srcPath)
		if err != nil {
			return eris.Wrap(err, "publisher: open source")
		}
		defer f.Close() //nolint:errcheck
		return p.store.Upload(ctx, key, f, rep.ContentType())
	})
	if err != nil {
		return fail(err)
	}

	log.Info("member published", zap.String("representation", string(rep)), zap.Int64("bytes", size))
	return fsds.StagedObject{
		Member:         file.Member,
		Representation: rep,
		Bucket:         p.store.Bucket(),
		Key:            key,
		Size:           size,
	}, nil
}

func (p *Publisher) transcode(ctx context.Context, file fsds.MemberFile, dir string) (path string, size int64, err error) {
	src, err := file.Open()
	if err != nil {
		return "", 0, err
	}
	defer src.Close() //nolint:errcheck

	out, err := os.CreateTemp(dir, file.Member.Name()+"-*.json")
	if err != nil {
		return "", 0, eris.Wrap(err, "publisher: create json temp file")
	}
	path = out.Name()
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = eris.Wrap(cerr, "publisher: close json temp file")
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	stats, err := extract.Transcode(ctx, src, out, p.opts.ChunkRows)
	if err != nil {
		return "", 0, err
	}
	if stats.Skipped > 0 {
		zap.L().Warn("rows skipped while transcoding",
			zap.String("component", "publisher"),
			zap.String("member", file.Member.String()),
			zap.Int64("skipped", stats.Skipped),
		)
	}

	info, err := out.Stat()
	if err != nil {
		return "", 0, eris.Wrap(err, "publisher: stat json temp file")
	}
	return path, info.Size(), nil
}

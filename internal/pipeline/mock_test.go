package pipeline

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/fsds-cli/internal/fsds"
	"github.com/sells-group/fsds-cli/internal/notify"
	"github.com/sells-group/fsds-cli/internal/runlog"
)

// --- Fetcher ---

// zipFetcher writes an archive with the given entries into the workspace.
type zipFetcher struct {
	entries map[string]string
	err     error
	dirs    []string
}

func (f *zipFetcher) Fetch(_ context.Context, p fsds.Period, dir string) (*fsds.ArchiveHandle, error) {
	f.dirs = append(f.dirs, dir)
	if f.err != nil {
		return nil, f.err
	}
	path := filepath.Join(dir, p.ArchiveName())
	out, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	zw := zip.NewWriter(out)
	for name, body := range f.entries {
		w, err := zw.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(body)); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &fsds.ArchiveHandle{Period: p, Path: path, Name: p.ArchiveName(), Size: info.Size()}, nil
}

// --- Publisher ---

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, p fsds.Period, file fsds.MemberFile, rep fsds.Representation, dir string) (fsds.StagedObject, error) {
	args := m.Called(ctx, p, file.Member, rep)
	return args.Get(0).(fsds.StagedObject), args.Error(1)
}

// --- Loader ---

type mockLoader struct {
	mock.Mock
}

func (m *mockLoader) Load(ctx context.Context, p fsds.Period, member fsds.Member, obj fsds.StagedObject, dir string) (fsds.LoadResult, error) {
	args := m.Called(ctx, p, member, obj.Key)
	return args.Get(0).(fsds.LoadResult), args.Error(1)
}

// --- Pinger ---

type mockPinger struct {
	mock.Mock
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// --- Trigger ---

type mockTrigger struct {
	mock.Mock
}

func (m *mockTrigger) Fire(ctx context.Context, ev notify.Event) error {
	return m.Called(ctx, ev).Error(0)
}

func (m *mockTrigger) Kind() string { return "mock" }

// --- Recorder ---

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) Start(ctx context.Context, runID uuid.UUID, period string) error {
	return m.Called(ctx, runID, period).Error(0)
}

func (m *mockRecorder) Finish(ctx context.Context, run runlog.Run, members []runlog.MemberOutcome) error {
	return m.Called(ctx, run, members).Error(0)
}

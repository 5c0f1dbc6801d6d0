package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/aura-supply/recon-cli/internal/model"
	"github.com/aura-supply/recon-cli/internal/resilience"
)

// --- Store mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) InsertRawRecords(ctx context.Context, runID string, records []model.RawRecord) (int, error) {
	args := m.Called(ctx, runID, records)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) CountRawRecords(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) InsertEvents(ctx context.Context, runID string, events []model.InventoryEvent) (int, error) {
	args := m.Called(ctx, runID, events)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) CountEvents(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) ReplaceFacts(ctx context.Context, facts []model.UnifiedInventoryFact) error {
	args := m.Called(ctx, facts)
	return args.Error(0)
}

func (m *mockStore) GetOpenFact(ctx context.Context, partID string) (*model.UnifiedInventoryFact, error) {
	args := m.Called(ctx, partID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.UnifiedInventoryFact), args.Error(1)
}

func (m *mockStore) ListOpenFacts(ctx context.Context, filter model.FactFilter) ([]model.UnifiedInventoryFact, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.UnifiedInventoryFact), args.Error(1)
}

func (m *mockStore) ListFactHistory(ctx context.Context, partID string, limit int) ([]model.UnifiedInventoryFact, error) {
	args := m.Called(ctx, partID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.UnifiedInventoryFact), args.Error(1)
}

func (m *mockStore) CreateRun(ctx context.Context) (*model.PipelineRun, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PipelineRun), args.Error(1)
}

func (m *mockStore) FinishRun(ctx context.Context, run *model.PipelineRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *mockStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PipelineRun), args.Error(1)
}

func (m *mockStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.PipelineRun, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.PipelineRun), args.Error(1)
}

func (m *mockStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]resilience.DLQEntry), args.Error(1)
}

func (m *mockStore) RemoveDLQ(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockStore) CountDLQ(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- Source mock ---

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *mockSource) Kind() model.SourceKind {
	args := m.Called()
	return args.Get(0).(model.SourceKind)
}

func (m *mockSource) Reliability() float64 {
	args := m.Called()
	return args.Get(0).(float64)
}

func (m *mockSource) Fetch(ctx context.Context) ([]model.RawRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RawRecord), args.Error(1)
}

// newMockSource presets the identity getters, which the pipeline only
// reads on failure paths.
func newMockSource(name string, kind model.SourceKind, reliability float64) *mockSource {
	src := new(mockSource)
	src.On("Name").Return(name).Maybe()
	src.On("Kind").Return(kind).Maybe()
	src.On("Reliability").Return(reliability).Maybe()
	return src
}

// --- Escalator mock ---

type mockEscalator struct {
	mock.Mock
}

func (m *mockEscalator) Escalate(ctx context.Context, run *model.PipelineRun, facts []model.UnifiedInventoryFact) error {
	args := m.Called(ctx, run, facts)
	return args.Error(0)
}

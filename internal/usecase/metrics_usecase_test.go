package usecase

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/deskora/deskora/internal/aggregate"
	"github.com/deskora/deskora/internal/cache"
	"github.com/deskora/deskora/internal/domain"
	"github.com/deskora/deskora/internal/metrics"
	"github.com/deskora/deskora/internal/normalize"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) SearchTickets(ctx context.Context, since time.Time) ([]domain.RawRecord, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RawRecord), args.Error(1)
}

func (m *mockSource) TechnicianTickets(ctx context.Context, techID int, since time.Time) ([]domain.RawRecord, error) {
	args := m.Called(ctx, techID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RawRecord), args.Error(1)
}

func (m *mockSource) ListTechnicians(ctx context.Context) ([]domain.RawRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RawRecord), args.Error(1)
}

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) Save(ctx context.Context, window string, snapshot domain.MetricsSnapshot) error {
	args := m.Called(ctx, window, snapshot)
	return args.Error(0)
}

func (m *mockRepo) LatestBefore(ctx context.Context, window string, before time.Time) (*domain.MetricsSnapshot, error) {
	args := m.Called(ctx, window, before)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MetricsSnapshot), args.Error(1)
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

var testGroups = map[int]domain.TechLevel{
	10: domain.LevelN1,
	11: domain.LevelN2,
}

func rawTicket(id, status, group, assignee int) domain.RawRecord {
	return domain.RawRecord{
		"2":  float64(id),
		"12": float64(status),
		"8":  float64(group),
		"5":  float64(assignee),
		"15": "2026-08-20 09:00:00",
		"19": "2026-08-21 09:00:00",
	}
}

func rawTechnician(id int, name string, group int) domain.RawRecord {
	return domain.RawRecord{
		"2": float64(id),
		"1": name,
		"8": float64(group),
	}
}

func newUsecase(t *testing.T, source *mockSource, repo *mockRepo) *MetricsUsecase {
	t.Helper()
	logger := discardLogger()
	normalizer, err := normalize.NewNormalizer(normalize.DefaultFieldMap(), logger)
	require.NoError(t, err)

	var history *mockRepo
	if repo != nil {
		history = repo
	}
	uc := NewMetricsUsecase(
		source,
		nil,
		cache.NewMemory(logger),
		normalizer,
		metrics.NewComputer(logger),
		metrics.NewValidator(logger),
		aggregate.NewAggregator(aggregate.Config{Concurrency: 2, FailureFraction: 0.5}, logger),
		testGroups,
		Config{},
		logger,
	)
	if history != nil {
		uc.history = history
	}
	return uc
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		in      string
		days    int
		wantErr bool
	}{
		{in: "7d", days: 7},
		{in: "30d", days: 30},
		{in: "1d", days: 1},
		{in: "0d", wantErr: true},
		{in: "366d", wantErr: true},
		{in: "7", wantErr: true},
		{in: "weekly", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		span, err := ParseWindow(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrBadWindow, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, time.Duration(tt.days)*24*time.Hour, span, tt.in)
	}
}

func TestGetSnapshot_ComputesAndCaches(t *testing.T) {
	source := new(mockSource)
	source.On("SearchTickets", mock.Anything, mock.Anything).Return([]domain.RawRecord{
		rawTicket(1, 1, 10, 100),
		rawTicket(2, 4, 11, 100),
		rawTicket(3, 5, 99, 101),
	}, nil).Once()

	uc := newUsecase(t, source, nil)

	snapshot, err := uc.GetSnapshot(context.Background(), "7d")
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.GeneralTotals.Novos)
	assert.Equal(t, 1, snapshot.GeneralTotals.Pendentes)
	assert.Equal(t, 1, snapshot.GeneralTotals.Resolvidos)
	assert.Equal(t, 1, snapshot.PerLevel[domain.LevelN1].Novos)
	assert.Equal(t, 1, snapshot.OtherGroupsTotal)
	assert.Equal(t, 3, snapshot.TotalTickets)
	assert.False(t, snapshot.Degraded)

	// second call must come from cache
	again, err := uc.GetSnapshot(context.Background(), "7d")
	require.NoError(t, err)
	assert.Equal(t, snapshot.TotalTickets, again.TotalTickets)
	source.AssertNumberOfCalls(t, "SearchTickets", 1)
}

func TestGetSnapshot_BadWindow(t *testing.T) {
	uc := newUsecase(t, new(mockSource), nil)

	_, err := uc.GetSnapshot(context.Background(), "yesterday")
	assert.ErrorIs(t, err, ErrBadWindow)
}

func TestGetSnapshot_TrendFromHistory(t *testing.T) {
	source := new(mockSource)
	source.On("SearchTickets", mock.Anything, mock.Anything).Return([]domain.RawRecord{
		rawTicket(1, 1, 10, 100),
		rawTicket(2, 1, 10, 100),
	}, nil).Once()

	baselineAt := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	repo := new(mockRepo)
	repo.On("LatestBefore", mock.Anything, "7d", mock.Anything).Return(&domain.MetricsSnapshot{
		GeneralTotals: domain.StatusTotals{Novos: 5},
		ComputedAt:    baselineAt,
	}, nil).Once()
	repo.On("Save", mock.Anything, "7d", mock.Anything).Return(nil).Once()

	uc := newUsecase(t, source, repo)

	snapshot, err := uc.GetSnapshot(context.Background(), "7d")
	require.NoError(t, err)
	assert.Equal(t, -3, snapshot.Trend.Novos)
	require.NotNil(t, snapshot.Trend.BaselineAt)
	assert.True(t, baselineAt.Equal(*snapshot.Trend.BaselineAt))
	repo.AssertExpectations(t)
}

func TestGetSnapshot_NoHistoryBaseline(t *testing.T) {
	source := new(mockSource)
	source.On("SearchTickets", mock.Anything, mock.Anything).Return([]domain.RawRecord{
		rawTicket(1, 1, 10, 100),
	}, nil).Once()

	repo := new(mockRepo)
	repo.On("LatestBefore", mock.Anything, "7d", mock.Anything).Return(nil, domain.ErrNoSnapshot).Once()
	repo.On("Save", mock.Anything, "7d", mock.Anything).Return(nil).Once()

	uc := newUsecase(t, source, repo)

	snapshot, err := uc.GetSnapshot(context.Background(), "7d")
	require.NoError(t, err)
	assert.Nil(t, snapshot.Trend.BaselineAt)
}

func TestGetSnapshot_UpstreamFailureNotCached(t *testing.T) {
	source := new(mockSource)
	source.On("SearchTickets", mock.Anything, mock.Anything).Return(nil, errors.New("upstream down")).Once()
	source.On("SearchTickets", mock.Anything, mock.Anything).Return([]domain.RawRecord{
		rawTicket(1, 1, 10, 100),
	}, nil).Once()

	uc := newUsecase(t, source, nil)

	_, err := uc.GetSnapshot(context.Background(), "7d")
	require.Error(t, err)

	snapshot, err := uc.GetSnapshot(context.Background(), "7d")
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.TotalTickets)
	source.AssertNumberOfCalls(t, "SearchTickets", 2)
}

func TestGetRanking_OrdersAndFilters(t *testing.T) {
	source := new(mockSource)
	source.On("ListTechnicians", mock.Anything).Return([]domain.RawRecord{
		rawTechnician(1, "Alice", 10),
		rawTechnician(2, "Bruno", 10),
		rawTechnician(3, "Carla", 11),
	}, nil).Once()

	// Alice resolves one ticket, Bruno two
	source.On("TechnicianTickets", mock.Anything, 1, mock.Anything).Return([]domain.RawRecord{
		rawTicket(10, 5, 10, 1),
	}, nil).Once()
	source.On("TechnicianTickets", mock.Anything, 2, mock.Anything).Return([]domain.RawRecord{
		rawTicket(11, 5, 10, 2),
		rawTicket(12, 5, 10, 2),
	}, nil).Once()

	uc := newUsecase(t, source, nil)

	ranking, err := uc.GetRanking(context.Background(), domain.LevelN1, "7d")
	require.NoError(t, err)
	require.Len(t, ranking, 2)
	assert.Equal(t, "Bruno", ranking[0].Name)
	assert.Equal(t, 1, ranking[0].Rank)
	assert.Equal(t, 2, ranking[0].ResolvedTickets)
	assert.Equal(t, "Alice", ranking[1].Name)
	assert.Equal(t, 2, ranking[1].Rank)
	source.AssertNotCalled(t, "TechnicianTickets", mock.Anything, 3, mock.Anything)
}

func TestGetRanking_DegradedWhenTooManyFetchesFail(t *testing.T) {
	source := new(mockSource)
	source.On("ListTechnicians", mock.Anything).Return([]domain.RawRecord{
		rawTechnician(1, "Alice", 10),
		rawTechnician(2, "Bruno", 10),
	}, nil).Once()
	source.On("TechnicianTickets", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	uc := newUsecase(t, source, nil)

	_, err := uc.GetRanking(context.Background(), "", "7d")
	var degraded *aggregate.DegradedError
	require.ErrorAs(t, err, &degraded)
	assert.Equal(t, 2, degraded.Failed)
}

func TestGetRanking_BadLevel(t *testing.T) {
	uc := newUsecase(t, new(mockSource), nil)

	_, err := uc.GetRanking(context.Background(), "N9", "7d")
	assert.ErrorIs(t, err, ErrBadLevel)
}

func TestTechnicians_CachedSeparately(t *testing.T) {
	source := new(mockSource)
	source.On("ListTechnicians", mock.Anything).Return([]domain.RawRecord{
		rawTechnician(2, "Bruno", 11),
		rawTechnician(1, "Alice", 10),
		rawTechnician(9, "Nora", 77),
	}, nil).Once()

	uc := newUsecase(t, source, nil)

	technicians, err := uc.Technicians(context.Background())
	require.NoError(t, err)
	require.Len(t, technicians, 3)
	assert.Equal(t, 1, technicians[0].ID)
	assert.Equal(t, domain.LevelN1, technicians[0].Level)
	assert.Equal(t, domain.LevelUnassigned, technicians[2].Level)

	_, err = uc.Technicians(context.Background())
	require.NoError(t, err)
	source.AssertNumberOfCalls(t, "ListTechnicians", 1)
}

func TestInvalidateTechnicians_DropsDirectory(t *testing.T) {
	source := new(mockSource)
	source.On("ListTechnicians", mock.Anything).Return([]domain.RawRecord{
		rawTechnician(1, "Alice", 10),
	}, nil).Twice()

	uc := newUsecase(t, source, nil)

	_, err := uc.Technicians(context.Background())
	require.NoError(t, err)

	require.NoError(t, uc.InvalidateTechnicians(context.Background()))

	_, err = uc.Technicians(context.Background())
	require.NoError(t, err)
	source.AssertNumberOfCalls(t, "ListTechnicians", 2)
}

package metrics

import (
	"io"
	"testing"
	"time"

	"github.com/deskora/deskora/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func resolvedTicket(id, assignee int, hours float64) domain.NormalizedTicket {
	created := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	resolved := created.Add(time.Duration(hours * float64(time.Hour)))
	return domain.NormalizedTicket{
		ID:         id,
		Status:     domain.StatusResolved,
		AssigneeID: assignee,
		GroupID:    10,
		CreatedAt:  created,
		ModifiedAt: resolved,
		ResolvedAt: &resolved,
	}
}

func TestComputer_Compute(t *testing.T) {
	byGroup := map[int]domain.TechLevel{10: domain.LevelN1, 11: domain.LevelN2}
	tickets := []domain.NormalizedTicket{
		{ID: 1, Status: domain.StatusNew, GroupID: 10},
		{ID: 2, Status: domain.StatusInProgress, GroupID: 10},
		{ID: 3, Status: domain.StatusPending, GroupID: 11},
		{ID: 4, Status: domain.StatusResolved, GroupID: 11},
		{ID: 5, Status: domain.StatusNew, GroupID: 99},
		{ID: 6, Status: domain.StatusClosed, GroupID: 10},
		{ID: 7, Status: domain.StatusUnknown, GroupID: 10},
	}

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	snapshot := NewComputer(discardLogger()).Compute(tickets, byGroup, now)

	assert.Equal(t, domain.StatusTotals{Novos: 2, Pendentes: 1, Progresso: 1, Resolvidos: 1}, snapshot.GeneralTotals)
	assert.Equal(t, domain.StatusTotals{Novos: 1, Progresso: 1}, snapshot.PerLevel[domain.LevelN1])
	assert.Equal(t, domain.StatusTotals{Pendentes: 1, Resolvidos: 1}, snapshot.PerLevel[domain.LevelN2])
	assert.Equal(t, domain.StatusTotals{}, snapshot.PerLevel[domain.LevelN3])
	assert.Equal(t, 1, snapshot.OtherGroupsTotal)
	assert.Equal(t, 7, snapshot.TotalTickets)
	assert.Equal(t, now, snapshot.ComputedAt)
	assert.False(t, snapshot.Degraded)
}

func TestComputer_RankDeterministic(t *testing.T) {
	technicians := []domain.Technician{
		{ID: 1, Name: "A", Level: domain.LevelN1},
		{ID: 2, Name: "B", Level: domain.LevelN1},
		{ID: 3, Name: "C", Level: domain.LevelN2},
	}

	var tickets []domain.NormalizedTicket
	id := 100
	addResolved := func(assignee, count int, hours float64) {
		for i := 0; i < count; i++ {
			tickets = append(tickets, resolvedTicket(id, assignee, hours))
			id++
		}
	}
	addResolved(1, 10, 2.0)
	addResolved(2, 10, 1.5)
	addResolved(3, 12, 3.0)

	ranking := NewComputer(discardLogger()).Rank(tickets, technicians)

	require.Len(t, ranking, 3)
	assert.Equal(t, "C", ranking[0].Name)
	assert.Equal(t, 1, ranking[0].Rank)
	assert.Equal(t, 12, ranking[0].ResolvedTickets)
	assert.Equal(t, "B", ranking[1].Name)
	assert.Equal(t, 2, ranking[1].Rank)
	assert.Equal(t, "A", ranking[2].Name)
	assert.Equal(t, 3, ranking[2].Rank)
	assert.InDelta(t, 1.5, ranking[1].AvgResolutionHours, 1e-9)
	assert.InDelta(t, 2.0, ranking[2].AvgResolutionHours, 1e-9)
}

func TestComputer_RankTiesBreakByID(t *testing.T) {
	technicians := []domain.Technician{
		{ID: 7, Name: "seven", Level: domain.LevelN1},
		{ID: 3, Name: "three", Level: domain.LevelN1},
		{ID: 5, Name: "five", Level: domain.LevelN1},
	}

	ranking := NewComputer(discardLogger()).Rank(nil, technicians)

	require.Len(t, ranking, 3)
	assert.Equal(t, []int{3, 5, 7}, []int{
		ranking[0].TechnicianID, ranking[1].TechnicianID, ranking[2].TechnicianID,
	})
	assert.Equal(t, []int{1, 2, 3}, []int{ranking[0].Rank, ranking[1].Rank, ranking[2].Rank})
}

func TestComputer_RankMissingAveragesLoseTies(t *testing.T) {
	technicians := []domain.Technician{
		{ID: 1, Name: "A", Level: domain.LevelN1},
		{ID: 2, Name: "B", Level: domain.LevelN1},
	}

	created := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	tickets := []domain.NormalizedTicket{
		// A: two resolved tickets with a real (slow) average
		resolvedTicket(10, 1, 6.0),
		resolvedTicket(11, 1, 8.0),
		// B: two resolved tickets with no resolution timestamps at all
		{ID: 12, Status: domain.StatusResolved, AssigneeID: 2, CreatedAt: created},
		{ID: 13, Status: domain.StatusResolved, AssigneeID: 2, CreatedAt: created},
	}

	ranking := NewComputer(discardLogger()).Rank(tickets, technicians)

	require.Len(t, ranking, 2)
	assert.Equal(t, "A", ranking[0].Name)
	assert.Equal(t, 1, ranking[0].Rank)
	assert.InDelta(t, 7.0, ranking[0].AvgResolutionHours, 1e-9)
	assert.Equal(t, "B", ranking[1].Name)
	assert.Zero(t, ranking[1].AvgResolutionHours)
}

func TestComputer_RankCountsAndAverages(t *testing.T) {
	technicians := []domain.Technician{{ID: 1, Name: "A", Level: domain.LevelN1}}

	created := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	tickets := []domain.NormalizedTicket{
		resolvedTicket(1, 1, 2.0),
		resolvedTicket(2, 1, 4.0),
		{ID: 3, Status: domain.StatusPending, AssigneeID: 1, CreatedAt: created},
		{ID: 4, Status: domain.StatusNew, AssigneeID: 1, CreatedAt: created},
		// resolved status without a resolution timestamp stays out of the average
		{ID: 5, Status: domain.StatusResolved, AssigneeID: 1, CreatedAt: created},
		// assigned to nobody we know
		{ID: 6, Status: domain.StatusResolved, AssigneeID: 42, CreatedAt: created},
	}

	ranking := NewComputer(discardLogger()).Rank(tickets, technicians)

	require.Len(t, ranking, 1)
	entry := ranking[0]
	assert.Equal(t, 5, entry.TotalTickets)
	assert.Equal(t, 3, entry.ResolvedTickets)
	assert.Equal(t, 1, entry.PendingTickets)
	assert.InDelta(t, 3.0, entry.AvgResolutionHours, 1e-9)
}

func TestComputer_Trend(t *testing.T) {
	computer := NewComputer(discardLogger())

	current := domain.MetricsSnapshot{
		GeneralTotals: domain.StatusTotals{Novos: 12, Pendentes: 3, Progresso: 5, Resolvidos: 40},
	}
	baselineAt := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	baseline := &domain.MetricsSnapshot{
		GeneralTotals: domain.StatusTotals{Novos: 10, Pendentes: 5, Progresso: 5, Resolvidos: 30},
		ComputedAt:    baselineAt,
	}

	trend := computer.Trend(current, baseline)
	assert.Equal(t, 2, trend.Novos)
	assert.Equal(t, -2, trend.Pendentes)
	assert.Equal(t, 0, trend.Progresso)
	assert.Equal(t, 10, trend.Resolvidos)
	require.NotNil(t, trend.BaselineAt)
	assert.Equal(t, baselineAt, *trend.BaselineAt)

	empty := computer.Trend(current, nil)
	assert.Nil(t, empty.BaselineAt)
	assert.Zero(t, empty.Novos)
}

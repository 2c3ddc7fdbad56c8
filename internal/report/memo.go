package report

import (
	"context"
	"sync"

	"cloud.google.com/go/civil"
)

// DayMemo remembers every day's result for the lifetime of one run, so the
// resolver's successful probe and overlapping windows never refetch a date.
// Failed outcomes are remembered too: nothing is retried within a run.
type DayMemo struct {
	next Fetcher

	mu   sync.Mutex
	days map[civil.Date]Result
}

func NewDayMemo(next Fetcher) *DayMemo {
	return &DayMemo{next: next, days: make(map[civil.Date]Result)}
}

func (m *DayMemo) FetchDay(ctx context.Context, date civil.Date) Result {
	m.mu.Lock()
	if res, ok := m.days[date]; ok {
		m.mu.Unlock()
		return res
	}
	m.mu.Unlock()

	res := m.next.FetchDay(ctx, date)
	if ctx.Err() != nil {
		// a cancelled call says nothing about the date
		return res
	}

	m.mu.Lock()
	m.days[date] = res
	m.mu.Unlock()
	return res
}

// Len returns the number of distinct dates fetched so far.
func (m *DayMemo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.days)
}

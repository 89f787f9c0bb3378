package view

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/blues/agapay/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Unix(1_750_000_000, 0)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr := NewTracker(func() time.Time { return testNow })
	t.Cleanup(tr.Close)
	return tr
}

func addr(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0x1000 + i)))
}

func makeEntries(n int) []model.CampaignEntry {
	entries := make([]model.CampaignEntry, n)
	for i := range entries {
		entries[i] = model.CampaignEntry{
			Address:      addr(i),
			Owner:        common.HexToAddress("0xA"),
			Name:         fmt.Sprintf("campaign %02d", i),
			CreationTime: int64(1_700_000_000 + i),
		}
	}
	return entries
}

func submitAll(tr *Tracker, address common.Address, state model.LedgerState, deadline time.Time, balance, goal int64) {
	tr.Submit(address, model.StateValue(state))
	tr.Submit(address, model.DeadlineValue(deadline))
	tr.Submit(address, model.BalanceValue(big.NewInt(balance)))
	tr.Submit(address, model.GoalValue(big.NewInt(goal)))
}

func flush(t *testing.T, tr *Tracker) {
	t.Helper()
	require.NoError(t, tr.Flush(context.Background()))
}

func drain(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func TestTrackerResolvesOnceAllFieldsArrive(t *testing.T) {
	tr := newTestTracker(t)
	a := addr(1)
	tr.SetScope([]model.CampaignEntry{{Address: a, Name: "roof"}})

	tr.Submit(a, model.StateValue(model.LedgerStateOpen))
	tr.Submit(a, model.DeadlineValue(testNow.Add(time.Hour)))
	tr.Submit(a, model.BalanceValue(big.NewInt(50)))
	flush(t, tr)
	assert.Equal(t, model.CampaignStatusUnknown, tr.Snapshot().Status(a))
	assert.Equal(t, 0, tr.Snapshot().Resolved)

	tr.Submit(a, model.GoalValue(big.NewInt(100)))
	flush(t, tr)
	snap := tr.Snapshot()
	assert.Equal(t, model.CampaignStatusActive, snap.Status(a))
	assert.Equal(t, 1, snap.Resolved)
	assert.Equal(t, 1, snap.Requested)
	assert.Equal(t, "roof", snap.Static(a).Name)
}

func TestTrackerIdempotentStatusWrite(t *testing.T) {
	tr := newTestTracker(t)
	a := addr(1)
	tr.SetScope([]model.CampaignEntry{{Address: a}})
	submitAll(tr, a, model.LedgerStateOpen, testNow.Add(time.Hour), 50, 100)
	flush(t, tr)

	version := tr.Snapshot().Version
	drain(tr.Changes())

	// 相同的值和不改变状态的新余额都不会递增版本
	tr.Submit(a, model.BalanceValue(big.NewInt(50)))
	tr.Submit(a, model.BalanceValue(big.NewInt(60)))
	flush(t, tr)

	snap := tr.Snapshot()
	assert.Equal(t, version, snap.Version)
	assert.Equal(t, int64(60), snap.Fields(a).Balance.Int64())
	select {
	case <-tr.Changes():
		t.Fatal("unexpected change notification")
	default:
	}

	tr.Submit(a, model.BalanceValue(big.NewInt(100)))
	flush(t, tr)
	assert.Equal(t, model.CampaignStatusSuccessful, tr.Snapshot().Status(a))
	assert.Greater(t, tr.Snapshot().Version, version)
	select {
	case <-tr.Changes():
	default:
		t.Fatal("expected change notification")
	}
}

func TestTrackerIgnoresStaleAddresses(t *testing.T) {
	tr := newTestTracker(t)
	a, b := addr(1), addr(2)

	tr.SetScope([]model.CampaignEntry{{Address: a}})
	submitAll(tr, a, model.LedgerStateOpen, testNow.Add(time.Hour), 50, 100)
	submitAll(tr, b, model.LedgerStateOpen, testNow.Add(time.Hour), 50, 100)
	flush(t, tr)
	assert.Equal(t, model.CampaignStatusActive, tr.Snapshot().Status(a))
	assert.Equal(t, model.CampaignStatusUnknown, tr.Snapshot().Status(b))

	// 范围切换后，旧范围的迟到响应不能写入
	tr.SetScope([]model.CampaignEntry{{Address: b}})
	tr.Submit(a, model.StateValue(model.LedgerStateGoalMet))
	flush(t, tr)

	snap := tr.Snapshot()
	assert.Equal(t, model.CampaignStatusUnknown, snap.Status(a))
	assert.Nil(t, snap.Fields(a).State)

	applied, ignored := tr.Stats()
	assert.Equal(t, uint64(4), applied)
	assert.Equal(t, uint64(5), ignored)
}

func TestTrackerReevaluateAtDeadline(t *testing.T) {
	tr := newTestTracker(t)
	a := addr(1)
	tr.SetScope([]model.CampaignEntry{{Address: a}})
	submitAll(tr, a, model.LedgerStateOpen, testNow.Add(time.Minute), 50, 100)
	flush(t, tr)
	require.Equal(t, model.CampaignStatusActive, tr.Snapshot().Status(a))

	tr.Reevaluate(testNow.Add(time.Hour))
	flush(t, tr)
	assert.Equal(t, model.CampaignStatusFailed, tr.Snapshot().Status(a))
}

func TestTrackerConcurrentProducers(t *testing.T) {
	tr := newTestTracker(t)
	entries := makeEntries(50)
	tr.SetScope(entries)

	var wg sync.WaitGroup
	for _, e := range entries {
		for _, v := range []model.FieldValue{
			model.StateValue(model.LedgerStateOpen),
			model.DeadlineValue(testNow.Add(time.Hour)),
			model.BalanceValue(big.NewInt(10)),
			model.GoalValue(big.NewInt(100)),
		} {
			wg.Add(1)
			go func(a common.Address, v model.FieldValue) {
				defer wg.Done()
				tr.Submit(a, v)
			}(e.Address, v)
		}
	}
	wg.Wait()
	flush(t, tr)

	assert.Equal(t, 50, tr.Snapshot().Resolved)
}

func resolvedSnapshot(t *testing.T, entries []model.CampaignEntry, statusOf func(i int) model.LedgerState) *Snapshot {
	t.Helper()
	tr := newTestTracker(t)
	tr.SetScope(entries)
	for i, e := range entries {
		submitAll(tr, e.Address, statusOf(i), testNow.Add(time.Hour), 10, 100)
	}
	flush(t, tr)
	return tr.Snapshot()
}

func TestEnginePagination(t *testing.T) {
	entries := makeEntries(20)
	snap := resolvedSnapshot(t, entries, func(int) model.LedgerState { return model.LedgerStateOpen })

	v := Engine{}.Compute(Input{Entries: entries, Snapshot: snap, Query: Query{Filter: model.FilterActive, Page: 3, PageSize: 9}})
	assert.Equal(t, 3, v.Page)
	assert.Equal(t, 3, v.TotalPages)
	assert.Equal(t, 20, v.Total)
	assert.Len(t, v.Items, 2)

	v = Engine{}.Compute(Input{Entries: entries, Snapshot: snap, Query: Query{Filter: model.FilterActive, Page: 4, PageSize: 9}})
	assert.Equal(t, 3, v.Page)
	assert.Len(t, v.Items, 2)

	// 按创建时间倒序
	v = Engine{}.Compute(Input{Entries: entries, Snapshot: snap, Query: Query{Page: 1, PageSize: 9}})
	assert.Equal(t, addr(19), v.Items[0].Address)
	assert.Equal(t, addr(11), v.Items[8].Address)
}

func TestEngineExcludesUnresolvedAndFilters(t *testing.T) {
	entries := makeEntries(6)
	tr := newTestTracker(t)
	tr.SetScope(entries)
	submitAll(tr, addr(0), model.LedgerStateOpen, testNow.Add(time.Hour), 10, 100)
	submitAll(tr, addr(1), model.LedgerStateGoalMet, testNow.Add(time.Hour), 10, 100)
	submitAll(tr, addr(2), model.LedgerStateExpired, testNow.Add(time.Hour), 10, 100)
	submitAll(tr, addr(3), model.LedgerState(9), testNow.Add(time.Hour), 10, 100)
	tr.Submit(addr(4), model.StateValue(model.LedgerStateOpen))
	flush(t, tr)

	v := Engine{}.Compute(Input{Entries: entries, Snapshot: tr.Snapshot(), Query: Query{Filter: model.FilterAll}})
	assert.Equal(t, 3, v.Total)
	assert.Equal(t, 3, v.PendingCount)
	assert.Equal(t, 3, v.Resolved)
	assert.Equal(t, 6, v.Requested)

	v = Engine{}.Compute(Input{Entries: entries, Snapshot: tr.Snapshot(), Query: Query{Filter: model.FilterSuccessful}})
	require.Len(t, v.Items, 1)
	assert.Equal(t, addr(1), v.Items[0].Address)
	assert.Equal(t, int64(100), v.Items[0].Goal.Int64())
}

func TestEngineEmergencyFirst(t *testing.T) {
	entries := makeEntries(4)
	entries[0].Name = "(EMERGENCY) Flood relief"
	tr := newTestTracker(t)
	tr.SetScope(entries)
	for _, e := range entries {
		submitAll(tr, e.Address, model.LedgerStateOpen, testNow.Add(time.Hour), 10, 100)
	}
	tr.Submit(addr(1), model.TextValue(model.FieldDescription, "Medical Emergency surgery"))
	flush(t, tr)

	meta := map[common.Address]Metadata{addr(1): {RecordId: "rec-1", ImageURL: "https://img/1.png"}}
	v := Engine{}.Compute(Input{Entries: entries, Snapshot: tr.Snapshot(), Metadata: meta, Query: Query{EmergencyFirst: true}})
	require.Len(t, v.Items, 4)
	assert.Equal(t, []common.Address{addr(1), addr(0), addr(3), addr(2)}, addresses(v.Items))
	assert.True(t, v.Items[0].Emergency)
	assert.Equal(t, "rec-1", v.Items[0].RecordId)
	assert.Equal(t, "Medical Emergency surgery", v.Items[0].Description)

	v = Engine{}.Compute(Input{Entries: entries, Snapshot: tr.Snapshot(), Query: Query{}})
	assert.Equal(t, []common.Address{addr(3), addr(2), addr(1), addr(0)}, addresses(v.Items))
}

func TestEngineEmptyInput(t *testing.T) {
	v := Engine{}.Compute(Input{})
	assert.Empty(t, v.Items)
	assert.Equal(t, 1, v.Page)
	assert.Equal(t, 1, v.TotalPages)
	assert.Equal(t, DefaultPageSize, v.PageSize)
}

func TestTotalPagesAndClamp(t *testing.T) {
	assert.Equal(t, 1, TotalPages(0, 9))
	assert.Equal(t, 1, TotalPages(9, 9))
	assert.Equal(t, 3, TotalPages(20, 9))
	assert.Equal(t, 1, ClampPage(-2, 3))
	assert.Equal(t, 3, ClampPage(7, 3))
}

func addresses(items []Item) []common.Address {
	out := make([]common.Address, len(items))
	for i, it := range items {
		out[i] = it.Address
	}
	return out
}

func TestSessionReturnsSameViewWhenNothingChanged(t *testing.T) {
	tr := newTestTracker(t)
	entries := makeEntries(3)
	tr.SetScope(entries)
	for _, e := range entries {
		submitAll(tr, e.Address, model.LedgerStateOpen, testNow.Add(time.Hour), 10, 100)
	}
	flush(t, tr)

	s := NewSession(tr, 9)
	s.SetEntries(entries)
	first := s.View()
	assert.Same(t, first, s.View())

	// 写入相同的值不改变输出引用
	tr.Submit(addr(0), model.StateValue(model.LedgerStateOpen))
	tr.Submit(addr(0), model.BalanceValue(big.NewInt(10)))
	flush(t, tr)
	assert.Same(t, first, s.View())

	// 真正的状态变化产生新的结果
	tr.Submit(addr(0), model.StateValue(model.LedgerStateGoalMet))
	flush(t, tr)
	second := s.View()
	assert.NotSame(t, first, second)
	assert.Equal(t, model.CampaignStatusSuccessful, second.Items[2].Status)
}

func TestSessionShowsLatestBalanceWithoutStatusChange(t *testing.T) {
	tr := newTestTracker(t)
	entries := makeEntries(1)
	tr.SetScope(entries)
	submitAll(tr, addr(0), model.LedgerStateOpen, testNow.Add(time.Hour), 10, 100)
	flush(t, tr)

	s := NewSession(tr, 9)
	s.SetEntries(entries)
	first := s.View()
	require.Len(t, first.Items, 1)
	assert.Equal(t, int64(10), first.Items[0].Balance.Int64())
	version := tr.Snapshot().Version

	// 捐款后仍为 active，但余额必须是最新值
	tr.Submit(addr(0), model.BalanceValue(big.NewInt(60)))
	flush(t, tr)
	assert.Equal(t, version, tr.Snapshot().Version)

	second := s.View()
	assert.NotSame(t, first, second)
	require.Len(t, second.Items, 1)
	assert.Equal(t, model.CampaignStatusActive, second.Items[0].Status)
	assert.Equal(t, int64(60), second.Items[0].Balance.Int64())
	assert.Same(t, second, s.View())
}

func TestSessionFilterRoundTripAndPageReset(t *testing.T) {
	entries := makeEntries(20)
	tr := newTestTracker(t)
	tr.SetScope(entries)
	for i, e := range entries {
		state := model.LedgerStateOpen
		if i%4 == 0 {
			state = model.LedgerStateGoalMet
		}
		submitAll(tr, e.Address, state, testNow.Add(time.Hour), 10, 100)
	}
	flush(t, tr)

	s := NewSession(tr, 9)
	s.SetEntries(entries)
	s.SetFilter(model.FilterActive)
	s.SetPage(2)
	active := s.View()
	assert.Equal(t, 2, active.Page)
	activeItems := append([]Item(nil), active.Items...)

	s.SetFilter(model.FilterAll)
	assert.Equal(t, 1, s.Query().Page)
	all := s.View()
	assert.Equal(t, 20, all.Total)

	s.SetFilter(model.FilterActive)
	s.SetPage(2)
	again := s.View()
	assert.Equal(t, activeItems, again.Items)
	assert.Equal(t, active.Total, again.Total)

	s.SetEmergencyFirst(true)
	assert.Equal(t, 1, s.Query().Page)
}

func TestSessionClampsWhenTotalShrinks(t *testing.T) {
	entries := makeEntries(20)
	snapTracker := newTestTracker(t)
	snapTracker.SetScope(entries)
	for _, e := range entries {
		submitAll(snapTracker, e.Address, model.LedgerStateOpen, testNow.Add(time.Hour), 10, 100)
	}
	flush(t, snapTracker)

	s := NewSession(snapTracker, 9)
	s.SetEntries(entries)
	s.SetPage(3)
	assert.Equal(t, 3, s.View().Page)

	s.SetEntries(entries[:5])
	v := s.View()
	assert.Equal(t, 1, v.Page)
	assert.Equal(t, 1, s.Query().Page)
	assert.Same(t, v, s.View())
}

type fakeReader struct {
	mu    sync.Mutex
	fail  map[common.Address]bool
	reads int
}

func (f *fakeReader) ReadField(ctx context.Context, address common.Address, field model.FieldName) (model.FieldValue, error) {
	f.mu.Lock()
	f.reads++
	failing := f.fail[address]
	f.mu.Unlock()

	if failing && field == model.FieldGoal {
		return model.FieldValue{}, errors.New("rpc timeout")
	}
	switch field {
	case model.FieldState:
		return model.StateValue(model.LedgerStateOpen), nil
	case model.FieldDeadline:
		return model.DeadlineValue(testNow.Add(time.Hour)), nil
	case model.FieldBalance:
		return model.BalanceValue(big.NewInt(10)), nil
	case model.FieldGoal:
		return model.GoalValue(big.NewInt(100)), nil
	default:
		return model.TextValue(field, "about"), nil
	}
}

type countingObserver struct {
	mu     sync.Mutex
	errors int
}

func (o *countingObserver) ObserveFieldRead(field model.FieldName, err error) {
	if err != nil {
		o.mu.Lock()
		o.errors++
		o.mu.Unlock()
	}
}

func TestFetcherLeavesFailedEntriesUnknown(t *testing.T) {
	tr := newTestTracker(t)
	entries := makeEntries(5)
	tr.SetScope(entries)

	reader := &fakeReader{fail: map[common.Address]bool{addr(2): true}}
	observer := &countingObserver{}
	fetcher, err := NewFetcher(reader, tr, 4, observer)
	require.NoError(t, err)
	defer fetcher.Release()

	result := fetcher.Fetch(context.Background(), entries)
	assert.Equal(t, 25, result.Reads)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, uint64(1), fetcher.Failures())
	assert.Equal(t, 1, observer.errors)

	snap := tr.Snapshot()
	assert.Equal(t, 4, snap.Resolved)
	assert.Equal(t, model.CampaignStatusUnknown, snap.Status(addr(2)))
	assert.Equal(t, "about", snap.Static(addr(0)).Description)

	// 只重试单个字段即可补全
	reader.fail = nil
	result = fetcher.Fetch(context.Background(), entries[2:3], model.FieldGoal)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, model.CampaignStatusActive, tr.Snapshot().Status(addr(2)))
}

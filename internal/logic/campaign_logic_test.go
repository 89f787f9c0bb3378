package logic

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/blues/agapay/internal/errs"
	"github.com/blues/agapay/internal/metrics"
	"github.com/blues/agapay/internal/model"
	"github.com/blues/agapay/internal/view"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var campaignNow = time.Unix(1_750_000_000, 0)

type campaignFixture struct {
	logic    *CampaignLogic
	registry *fakeRegistry
	store    *memStore
	monitor  *metrics.Monitor
}

func newCampaignFixture(t *testing.T, entries ...model.CampaignEntry) *campaignFixture {
	t.Helper()
	f := &campaignFixture{
		registry: newFakeRegistry(entries...),
		store:    newMemStore(),
		monitor:  metrics.NewMonitor(),
	}
	tracker := view.NewTracker(func() time.Time { return campaignNow })
	t.Cleanup(tracker.Close)
	fetcher, err := view.NewFetcher(f.registry, tracker, 4, f.monitor)
	require.NoError(t, err)
	t.Cleanup(fetcher.Release)

	f.logic = NewCampaignLogic(f.registry, f.store, tracker, fetcher, f.monitor, 2)
	f.logic.now = func() time.Time { return campaignNow }
	return f
}

func (f *campaignFixture) open(address common.Address, balance, goal int64, deadline time.Time) {
	f.registry.setFields(address,
		model.StateValue(model.LedgerStateOpen),
		model.DeadlineValue(deadline),
		model.BalanceValue(big.NewInt(balance)),
		model.GoalValue(big.NewInt(goal)),
		model.TextValue(model.FieldDescription, "help needed"),
	)
}

func TestCampaignListAfterRefresh(t *testing.T) {
	entries := []model.CampaignEntry{
		{Address: oldHelp, Owner: ownerA, Name: "Help", CreationTime: 100},
		{Address: newHelp, Owner: ownerA, Name: "(EMERGENCY) Surgery", CreationTime: 200},
		{Address: dupHelp, Owner: ownerB, Name: "School", CreationTime: 300},
		{Address: evtHelp, Owner: ownerB, Name: "Roof", CreationTime: 400},
	}
	f := newCampaignFixture(t, entries...)
	f.open(oldHelp, 10, 100, campaignNow.Add(time.Hour))
	f.open(newHelp, 100, 100, campaignNow.Add(time.Hour))
	f.open(dupHelp, 10, 100, campaignNow.Add(-time.Hour))
	// evtHelp 的字段读取全部失败，保持 unknown

	record := &model.ModerationRecordModel{
		Creator:   ownerA.Hex(),
		Name:      "Help",
		Goal:      "100",
		Documents: []model.Document{{Kind: model.DocumentCampaignImage, URL: "https://cdn.example/help.png"}},
	}
	require.NoError(t, f.store.Create(context.Background(), record))
	require.NoError(t, f.store.SetApproved(context.Background(), record.Id, strings.ToLower(oldHelp.Hex()), campaignNow))

	v, err := f.logic.List(context.Background(), view.Query{Page: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, v.Requested)
	assert.Equal(t, 3, v.Resolved)
	assert.Equal(t, 1, v.PendingCount)
	assert.Equal(t, 3, v.Total)
	assert.Equal(t, 2, v.TotalPages)
	require.Len(t, v.Items, 2)
	assert.Equal(t, dupHelp, v.Items[0].Address)
	assert.Equal(t, model.CampaignStatusFailed, v.Items[0].Status)

	v, err = f.logic.List(context.Background(), view.Query{Filter: model.FilterActive})
	require.NoError(t, err)
	require.Len(t, v.Items, 1)
	assert.Equal(t, oldHelp, v.Items[0].Address)
	assert.Equal(t, record.Id, v.Items[0].RecordId)
	assert.Equal(t, "https://cdn.example/help.png", v.Items[0].ImageURL)

	v, err = f.logic.List(context.Background(), view.Query{EmergencyFirst: true})
	require.NoError(t, err)
	assert.Equal(t, newHelp, v.Items[0].Address)
	assert.True(t, v.Items[0].Emergency)

	assert.Equal(t, uint64(1), f.monitor.Report.RefreshRuns.Load())
	assert.Equal(t, int64(3), f.monitor.Report.CampaignsResolved.Load())
	assert.Equal(t, uint64(5), f.monitor.Report.FieldReadErrors.Load())
}

func TestCampaignRefreshError(t *testing.T) {
	f := newCampaignFixture(t)
	f.registry.listErr = errs.New(errs.KindTransientRead, "fake.ListAll", "rpc down")

	_, err := f.logic.List(context.Background(), view.Query{})
	assert.True(t, errs.Is(err, errs.KindTransientRead))
	assert.Equal(t, uint64(1), f.monitor.Report.RefreshErrors.Load())
}

func TestCampaignListEmptyRegistry(t *testing.T) {
	f := newCampaignFixture(t)
	v, err := f.logic.List(context.Background(), view.Query{Page: 3})
	require.NoError(t, err)
	assert.Empty(t, v.Items)
	assert.Equal(t, 1, v.Page)
	assert.Equal(t, 1, v.TotalPages)
}

func TestCampaignListByOwnerRefreshesNewEntries(t *testing.T) {
	f := newCampaignFixture(t, model.CampaignEntry{Address: oldHelp, Owner: ownerA, Name: "Help", CreationTime: 100})
	f.open(oldHelp, 1, 100, campaignNow.Add(time.Hour))

	v, err := f.logic.ListByOwner(context.Background(), ownerA.Hex(), view.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, v.Total)

	f.registry.addEntries(model.CampaignEntry{Address: newHelp, Owner: ownerA, Name: "Help 2", CreationTime: 200})
	f.open(newHelp, 1, 100, campaignNow.Add(time.Hour))

	v, err = f.logic.ListByOwner(context.Background(), ownerA.Hex(), view.Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, v.Total)
	assert.Equal(t, newHelp, v.Items[0].Address)

	v, err = f.logic.ListByOwner(context.Background(), ownerB.Hex(), view.Query{})
	require.NoError(t, err)
	assert.Zero(t, v.Total)

	_, err = f.logic.ListByOwner(context.Background(), "bob", view.Query{})
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestCampaignGet(t *testing.T) {
	f := newCampaignFixture(t, model.CampaignEntry{Address: oldHelp, Owner: ownerA, Name: "Help", CreationTime: 100})
	f.open(oldHelp, 5, 100, campaignNow.Add(time.Hour))

	detail, err := f.logic.Get(context.Background(), oldHelp.Hex())
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusActive, detail.Status)
	assert.Equal(t, "Open", detail.State)
	assert.Equal(t, "help needed", detail.Description)
	assert.Equal(t, int64(5), detail.Balance.Int64())
	assert.Nil(t, detail.Record)

	_, err = f.logic.Get(context.Background(), newHelp.Hex())
	assert.True(t, errs.Is(err, errs.KindNotFound))

	_, err = f.logic.Get(context.Background(), "0x12")
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestCampaignDonate(t *testing.T) {
	f := newCampaignFixture(t, model.CampaignEntry{Address: oldHelp, Owner: ownerA, Name: "Help", CreationTime: 100})
	f.open(oldHelp, 60, 100, campaignNow.Add(time.Hour))

	_, err := f.logic.Donate(context.Background(), oldHelp.Hex(), "0")
	assert.True(t, errs.Is(err, errs.KindValidation))
	_, err = f.logic.Donate(context.Background(), oldHelp.Hex(), "ten")
	assert.True(t, errs.Is(err, errs.KindValidation))
	assert.Empty(t, f.registry.donations)

	receipt, err := f.logic.Donate(context.Background(), oldHelp.Hex(), "40")
	require.NoError(t, err)
	assert.Equal(t, "0xdonate", receipt.TxHash)
	assert.Equal(t, uint64(1), f.monitor.Report.TxConfirmed.Load())

	v, err := f.logic.List(context.Background(), view.Query{Filter: model.FilterSuccessful})
	require.NoError(t, err)
	require.Len(t, v.Items, 1)
	assert.Equal(t, int64(100), v.Items[0].Balance.Int64())
}

func TestCampaignWithdrawReverted(t *testing.T) {
	f := newCampaignFixture(t, model.CampaignEntry{Address: oldHelp, Owner: ownerA, Name: "Help", CreationTime: 100})

	_, err := f.logic.Withdraw(context.Background(), oldHelp.Hex())
	assert.True(t, errs.Is(err, errs.KindTransactionReverted))
	assert.Equal(t, uint64(1), f.monitor.Report.TxReverted.Load())
}

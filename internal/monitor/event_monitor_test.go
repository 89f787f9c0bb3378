package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	factoryAddr = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	ownerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	createdSig  = common.HexToHash("0x01")
	donatedSig  = common.HexToHash("0x02")
)

type fakeReader struct {
	mu      sync.Mutex
	head    uint64
	logs    []types.Log
	queries []ethereum.FilterQuery
	err     error
}

func (r *fakeReader) BlockNumber(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.head, nil
}

func (r *fakeReader) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, q)
	if r.err != nil {
		return nil, r.err
	}
	var out []types.Log
	for _, l := range r.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

type fakeParser struct{}

func (fakeParser) GetAddress() common.Address { return factoryAddr }

func (fakeParser) ParseEvent(log types.Log) (map[string]interface{}, error) {
	switch log.Topics[0] {
	case createdSig:
		return map[string]interface{}{
			"eventName":       createdEvent,
			"campaignAddress": common.BytesToAddress(log.Topics[1].Bytes()),
			"owner":           ownerAddr,
			"name":            "Clinic roof",
		}, nil
	case donatedSig:
		return map[string]interface{}{"eventName": "Donated"}, nil
	}
	return nil, errors.New("unknown event")
}

func createdAt(block uint64, campaign byte) types.Log {
	return types.Log{
		Address:     factoryAddr,
		BlockNumber: block,
		Topics:      []common.Hash{createdSig, common.BytesToHash([]byte{campaign})},
	}
}

type recorder struct {
	mu     sync.Mutex
	events []CreatedEvent
	calls  int
}

func (r *recorder) onCreated(ctx context.Context, events []CreatedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.events = append(r.events, events...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestPollBatchesAndFiltersEvents(t *testing.T) {
	reader := &fakeReader{
		head: 1200,
		logs: []types.Log{
			createdAt(10, 0xc1),
			{Address: factoryAddr, BlockNumber: 20, Topics: []common.Hash{donatedSig}},
			{Address: factoryAddr, BlockNumber: 30, Topics: []common.Hash{common.HexToHash("0xff")}},
			createdAt(900, 0xc2),
		},
	}
	rec := &recorder{}
	m := NewEventMonitor(reader, fakeParser{}, 1, time.Second, rec.onCreated)

	found, err := m.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, found)

	require.Len(t, reader.queries, 3)
	assert.Equal(t, uint64(1), reader.queries[0].FromBlock.Uint64())
	assert.Equal(t, uint64(500), reader.queries[0].ToBlock.Uint64())
	assert.Equal(t, uint64(1001), reader.queries[2].FromBlock.Uint64())
	assert.Equal(t, uint64(1200), reader.queries[2].ToBlock.Uint64())
	assert.Equal(t, []common.Address{factoryAddr}, reader.queries[0].Addresses)

	require.Len(t, rec.events, 2)
	assert.Equal(t, 2, rec.calls, "one callback per batch with events")
	assert.Equal(t, common.BytesToAddress([]byte{0xc1}), rec.events[0].Address)
	assert.Equal(t, ownerAddr, rec.events[0].Owner)
	assert.Equal(t, "Clinic roof", rec.events[0].Name)
	assert.Equal(t, uint64(900), rec.events[1].BlockNumber)

	status := m.GetStatus()
	assert.Equal(t, uint64(1201), status["next_block"])
	assert.Equal(t, uint64(2), status["created"])

	// 没有新区块时不再查询
	found, err = m.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, found)
	assert.Len(t, reader.queries, 3)
}

func TestPollKeepsPositionOnError(t *testing.T) {
	reader := &fakeReader{head: 100, err: errors.New("429 Too Many Requests")}
	m := NewEventMonitor(reader, fakeParser{}, 50, time.Second, nil)

	_, err := m.Poll(context.Background())
	require.Error(t, err)
	assert.True(t, isRateLimitError(err))

	status := m.GetStatus()
	assert.Equal(t, uint64(50), status["next_block"])
	assert.Contains(t, status["last_error"], "Too Many Requests")

	reader.err = nil
	reader.logs = []types.Log{createdAt(60, 0xc3)}
	found, err := m.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, found)
	assert.Empty(t, m.GetStatus()["last_error"])
}

func TestStartFromCurrentBlock(t *testing.T) {
	reader := &fakeReader{head: 40, logs: []types.Log{createdAt(40, 0xc4)}}
	rec := &recorder{}
	m := NewEventMonitor(reader, fakeParser{}, 0, 10*time.Millisecond, rec.onCreated)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	// 启动前的事件不回放
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, rec.count())

	reader.mu.Lock()
	reader.logs = append(reader.logs, createdAt(41, 0xc5))
	reader.head = 41
	reader.mu.Unlock()

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, common.BytesToAddress([]byte{0xc5}), rec.events[0].Address)
}

func TestIsRateLimitError(t *testing.T) {
	assert.True(t, isRateLimitError(errors.New("429 Too Many Requests")))
	assert.False(t, isRateLimitError(errors.New("connection refused")))
}

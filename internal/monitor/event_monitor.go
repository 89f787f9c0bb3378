// Package monitor 轮询工厂合约的 CampaignCreated 事件。
package monitor

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/blues/agapay/internal/logger"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	createdEvent = "CampaignCreated"
	batchSize    = uint64(500) // 单次查询的区块数
)

// ChainReader 由 ethclient.Client 实现
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// EventParser 由 chain.Contract 实现
type EventParser interface {
	GetAddress() common.Address
	ParseEvent(log types.Log) (map[string]interface{}, error)
}

// CreatedEvent 新建众筹事件
type CreatedEvent struct {
	Address     common.Address `json:"address"`
	Owner       common.Address `json:"owner"`
	Name        string         `json:"name"`
	BlockNumber uint64         `json:"block_number"`
	TxHash      string         `json:"tx_hash"`
}

// EventMonitor 区块链事件监控器
//
// 按批次扫描工厂合约日志，发现新众筹时回调 onCreated。
type EventMonitor struct {
	reader    ChainReader
	factory   EventParser
	onCreated func(ctx context.Context, events []CreatedEvent)
	interval  time.Duration

	mu        sync.RWMutex
	nextBlock uint64 // 下一个待处理的区块
	seen      uint64
	lastError string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEventMonitor 创建事件监控器，startBlock 为 0 时从当前区块开始
func NewEventMonitor(reader ChainReader, factory EventParser, startBlock uint64, interval time.Duration, onCreated func(ctx context.Context, events []CreatedEvent)) *EventMonitor {
	return &EventMonitor{
		reader:    reader,
		factory:   factory,
		onCreated: onCreated,
		interval:  interval,
		nextBlock: startBlock,
	}
}

// Start 启动监控
func (m *EventMonitor) Start(ctx context.Context) error {
	logger.Info("Starting campaign event monitor for factory %s", m.factory.GetAddress().Hex())

	current, err := m.reader.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to blockchain: %w", err)
	}

	m.mu.Lock()
	if m.nextBlock == 0 {
		m.nextBlock = current + 1
	}
	start := m.nextBlock
	m.mu.Unlock()
	logger.Info("Connected to blockchain, current block: %d, monitoring from block %d", current, start)

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
	return nil
}

// Stop 停止监控
func (m *EventMonitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	logger.Info("Campaign event monitor stopped")
}

// loop 监控循环，出错后按指数退避延长等待时间
func (m *EventMonitor) loop(ctx context.Context) {
	defer close(m.done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.interval
	b.MaxInterval = 5 * time.Minute
	b.MaxElapsedTime = 0
	b.Reset()

	wait := m.interval
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if _, err := m.Poll(ctx); err != nil {
			wait = b.NextBackOff()
			logger.Error("Campaign event poll failed, next attempt in %s: %v", wait, err)
			continue
		}
		b.Reset()
		wait = m.interval
	}
}

// Poll 扫描到当前区块为止的全部新日志，返回发现的新众筹数量
func (m *EventMonitor) Poll(ctx context.Context) (int, error) {
	current, err := m.reader.BlockNumber(ctx)
	if err != nil {
		return 0, m.recordError(err)
	}

	m.mu.RLock()
	from := m.nextBlock
	m.mu.RUnlock()

	found := 0
	for ; from <= current; from += batchSize {
		to := from + batchSize - 1
		if to > current {
			to = current
		}

		events, err := m.scan(ctx, from, to)
		if err != nil {
			if isRateLimitError(err) {
				logger.Warn("RPC rate limit hit while scanning blocks %d-%d", from, to)
			}
			return found, m.recordError(err)
		}

		if len(events) > 0 && m.onCreated != nil {
			m.onCreated(ctx, events)
		}
		found += len(events)

		m.mu.Lock()
		m.nextBlock = to + 1
		m.seen += uint64(len(events))
		m.lastError = ""
		m.mu.Unlock()
	}
	return found, nil
}

// scan 读取区块范围内的 CampaignCreated 事件
func (m *EventMonitor) scan(ctx context.Context, from, to uint64) ([]CreatedEvent, error) {
	logs, err := m.reader.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{m.factory.GetAddress()},
	})
	if err != nil {
		return nil, fmt.Errorf("error getting logs for blocks %d-%d: %w", from, to, err)
	}

	var events []CreatedEvent
	for _, log := range logs {
		data, err := m.factory.ParseEvent(log)
		if err != nil {
			logger.Warn("Failed to parse factory log %s#%d: %v", log.TxHash.Hex(), log.Index, err)
			continue
		}
		if data["eventName"] != createdEvent {
			continue
		}
		event := CreatedEvent{BlockNumber: log.BlockNumber, TxHash: log.TxHash.Hex()}
		event.Address, _ = data["campaignAddress"].(common.Address)
		event.Owner, _ = data["owner"].(common.Address)
		event.Name, _ = data["name"].(string)
		logger.Debug("Campaign %s created by %s at block %d", event.Address.Hex(), event.Owner.Hex(), event.BlockNumber)
		events = append(events, event)
	}
	return events, nil
}

func (m *EventMonitor) recordError(err error) error {
	m.mu.Lock()
	m.lastError = err.Error()
	m.mu.Unlock()
	return err
}

// GetStatus 获取监控状态
func (m *EventMonitor) GetStatus() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]interface{}{
		"factory":    m.factory.GetAddress().Hex(),
		"next_block": m.nextBlock,
		"created":    m.seen,
		"last_error": m.lastError,
	}
}

// isRateLimitError 检查是否为API限制错误
func isRateLimitError(err error) bool {
	return strings.Contains(err.Error(), "Too Many Requests") || strings.Contains(err.Error(), "429")
}

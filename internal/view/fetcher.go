package view

import (
	"context"
	"fmt"
	"sync"

	"github.com/blues/agapay/internal/logger"
	"github.com/blues/agapay/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/atomic"
)

// FieldReader 读取单个众筹字段，由 chain.RegistryClient 实现
type FieldReader interface {
	ReadField(ctx context.Context, address common.Address, field model.FieldName) (model.FieldValue, error)
}

// FetchObserver 接收每次读取的结果，用于指标统计
type FetchObserver interface {
	ObserveFieldRead(field model.FieldName, err error)
}

// FetchResult 一轮读取的统计
type FetchResult struct {
	Reads  int
	Failed int
}

// Fetcher 并发读取众筹字段并提交给 Tracker
//
// 每个字段一次读取，完成顺序任意；失败的读取只记录日志，
// 对应众筹保持 unknown，由调用方决定是否再次读取。
type Fetcher struct {
	reader   FieldReader
	tracker  *Tracker
	pool     *ants.Pool
	observer FetchObserver
	failures *atomic.Uint64
}

// NewFetcher 创建读取器，workers 为协程池大小
func NewFetcher(reader FieldReader, tracker *Tracker, workers int, observer FetchObserver) (*Fetcher, error) {
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch pool of %d workers: %w", workers, err)
	}
	return &Fetcher{
		reader:   reader,
		tracker:  tracker,
		pool:     pool,
		observer: observer,
		failures: atomic.NewUint64(0),
	}, nil
}

// Fetch 读取指定众筹的字段，fields 为空时读取状态相关的四个字段和描述
//
// 所有读取完成且结果被 Tracker 合并后返回。
func (f *Fetcher) Fetch(ctx context.Context, entries []model.CampaignEntry, fields ...model.FieldName) FetchResult {
	if len(fields) == 0 {
		fields = append(append([]model.FieldName{}, model.StatusFields...), model.FieldDescription)
	}

	var (
		wg     sync.WaitGroup
		failed = atomic.NewInt64(0)
		reads  int
	)

	for _, entry := range entries {
		for _, field := range fields {
			address, field := entry.Address, field
			wg.Add(1)
			reads++
			err := f.pool.Submit(func() {
				defer wg.Done()
				if !f.read(ctx, address, field) {
					failed.Inc()
				}
			})
			if err != nil {
				wg.Done()
				failed.Inc()
				logger.Error("Failed to submit read of %s for %s: %v", field, address.Hex(), err)
			}
		}
	}
	wg.Wait()

	if err := f.tracker.Flush(ctx); err != nil {
		logger.Warn("Fetch finished before tracker flush: %v", err)
	}

	result := FetchResult{Reads: reads, Failed: int(failed.Load())}
	if result.Failed > 0 {
		logger.Warn("Fetched %d fields for %d campaigns, %d failed", result.Reads, len(entries), result.Failed)
	} else {
		logger.Debug("Fetched %d fields for %d campaigns", result.Reads, len(entries))
	}
	return result
}

func (f *Fetcher) read(ctx context.Context, address common.Address, field model.FieldName) bool {
	value, err := f.reader.ReadField(ctx, address, field)
	if f.observer != nil {
		f.observer.ObserveFieldRead(field, err)
	}
	if err != nil {
		f.failures.Inc()
		logger.Debug("Read of %s for %s failed: %v", field, address.Hex(), err)
		return false
	}
	f.tracker.Submit(address, value)
	return true
}

// Failures 累计失败的读取次数
func (f *Fetcher) Failures() uint64 {
	return f.failures.Load()
}

// Release 释放协程池
func (f *Fetcher) Release() {
	f.pool.Release()
}

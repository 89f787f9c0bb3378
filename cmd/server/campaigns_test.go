package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blues/agapay/internal/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stuckSource struct{}

func (stuckSource) Changes() <-chan struct{} { return nil }

func (stuckSource) Snapshot() *view.Snapshot {
	return &view.Snapshot{Requested: 3, Resolved: 1}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestShowProgressStopsWhenReadsNeverResolve(t *testing.T) {
	var out lockedBuffer
	stop := showProgress(context.Background(), stuckSource{}, &out, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "resolved 1/3") >= 2
	}, time.Second, 5*time.Millisecond)

	stop()
	printed := out.String()
	assert.True(t, strings.HasSuffix(printed, "\n"))

	// 停止后不再覆盖表格输出
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, printed, out.String())
}

func TestShowProgressReturnsOnceResolved(t *testing.T) {
	tracker := view.NewTracker(nil)
	defer tracker.Close()

	var out lockedBuffer
	stop := showProgress(context.Background(), tracker, &out, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "resolved 0/0")
	}, time.Second, 5*time.Millisecond)

	// 已经自行退出时停止也不会阻塞
	stop()
	assert.Equal(t, 1, strings.Count(out.String(), "resolved 0/0"))
}

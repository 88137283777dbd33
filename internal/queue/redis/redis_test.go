package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/report-orchestrator/internal/model"
	"github.com/webitel/report-orchestrator/internal/queue"
)

func getTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	q, err := NewRedisQueue(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func TestPopOrderIsFIFO(t *testing.T) {
	ctx := context.Background()
	q, _ := getTestQueue(t)

	for i := 1; i <= 3; i++ {
		require.NoError(t, q.PushReportTask(ctx, model.ReportTask{TaskID: fmt.Sprintf("t%d", i), ReportID: fmt.Sprintf("R%d", i)}))
	}
	for i := 1; i <= 3; i++ {
		task, err := q.PopReportTask(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("R%d", i), task.ReportID)
	}
	_, err := q.PopReportTask(ctx, 0)
	assert.ErrorIs(t, err, queue.ErrEmpty)
}

func TestBlockingPopReceivesLatePush(t *testing.T) {
	ctx := context.Background()
	q, _ := getTestQueue(t)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = q.PushBatchTask(ctx, model.BatchTask{TaskID: "b1", BatchID: "B00000001"})
	}()
	task, err := q.PopBatchTask(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "B00000001", task.BatchID)
}

func TestConcurrentPushPop(t *testing.T) {
	ctx := context.Background()
	q, _ := getTestQueue(t)
	totalTasks := 200
	numWorkers := 10

	for i := 0; i < totalTasks; i++ {
		require.NoError(t, q.PushReportTask(ctx, model.ReportTask{TaskID: fmt.Sprintf("test:%d", i)}))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for {
				task, err := q.PopReportTask(ctx, 0)
				if err != nil {
					assert.ErrorIs(t, err, queue.ErrEmpty)
					return
				}
				mu.Lock()
				seen[task.TaskID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, totalTasks)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestRememberUpload(t *testing.T) {
	ctx := context.Background()
	q, mr := getTestQueue(t)

	v, stored, err := q.RememberUpload(ctx, "S1:export.tar", "VC1/R00000001", time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Equal(t, "VC1/R00000001", v)

	v, stored, err = q.RememberUpload(ctx, "S1:export.tar", "VC1/R00000002", time.Minute)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.Equal(t, "VC1/R00000001", v)

	mr.FastForward(2 * time.Minute)
	_, stored, err = q.RememberUpload(ctx, "S1:export.tar", "VC1/R00000003", time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)

	require.NoError(t, q.ForgetUpload(ctx, "S1:export.tar"))
	_, stored, err = q.RememberUpload(ctx, "S1:export.tar", "VC1/R00000004", time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)
}

// ============================================================================
// coresched Worker Pool - 並發模擬執行器
// ============================================================================
//
// Package: internal/worker
// 文件: worker_pool.go
// 功能: 管理多個 Worker goroutine 的生命週期，並行執行獨立的模擬
//
// 設計模式:
//   採用 Worker Pool 模式：
//   1. 固定數量的 Worker goroutine 持續運行
//   2. 通過共享的任務 channel 分發模擬任務
//   3. 通過結果 channel 收集報告
//   每個模擬擁有自己的排程引擎，Worker 之間不共享可變狀態。
//
// 架構組件:
//   ┌─────────────┐
//   │ compare cmd │ --Submit()/RunAll()--> taskCh
//   └─────────────┘
//         ↑
//   ReceiveResult()
//         ↑
//   ┌─────────────┐
//   │   Pool      │
//   │  ┌────────┐ │
//   │  │Worker 1│←── taskCh
//   │  │Worker 2│←── taskCh   ──→ resultCh
//   │  │Worker 3│←── taskCh
//   │  └────────┘ │
//   └─────────────┘
//
// 生命週期:
//   1. NewPool() - 創建 Pool，初始化 channels
//   2. Start(n) / StartContext(ctx, n) - 啟動 n 個 Worker goroutines
//   3. Submit(task) - 提交任務到 taskCh
//   4. ReceiveResult() - 從 resultCh 讀取結果
//   5. Stop() - 關閉 taskCh，等待所有 Worker 完成
//
// 並發控制:
//   - sendMu: Submit 持有讀鎖直到送出完成，Stop 取得寫鎖後才關閉 taskCh，
//     因此不會向已關閉的 channel 送出
//   - WaitGroup: 追蹤所有 Worker，確保優雅關閉
//   - Mutex: 保護 started/stopped 狀態
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ChuLiYu/coresched/internal/metrics"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrPoolClosed 表示當前 Pool 已關閉，無法提交新任務
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolNotStarted 表示 Pool 尚未啟動，無法提交任務
	ErrPoolNotStarted = errors.New("worker pool not started")
	// ErrPoolStarted 表示 Pool 已經啟動
	ErrPoolStarted = errors.New("worker pool already started")
	// ErrInvalidWorkerCount 表示 Worker 數量小於 1
	ErrInvalidWorkerCount = errors.New("worker count must be at least 1")
	// ErrDuplicateTask 表示同一批次中有重複的任務 ID
	ErrDuplicateTask = errors.New("duplicate task id")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Pool 代表 Worker 池，管理多個並發的 Worker
type Pool struct {
	workers  []*Worker     // 所有啟動的 Worker 實例
	taskCh   chan Task     // 任務通道
	resultCh chan Result   // 結果通道
	stopCh   chan struct{} // 停止訊號
	cancel   context.CancelFunc

	collector *metrics.Collector // 選用
	log       *slog.Logger

	wg      sync.WaitGroup // 等待所有 Worker 完成
	started bool
	stopped bool
	mu      sync.Mutex   // 保護 started 和 stopped
	sendMu  sync.RWMutex // Submit 讀鎖 / Stop 寫鎖
}

// Option 設定 Pool 的選項
type Option func(*Pool)

// WithMetrics 每次模擬都記錄到 collector
func WithMetrics(collector *metrics.Collector) Option {
	return func(p *Pool) { p.collector = collector }
}

// WithLogger 設定 Worker 使用的 logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.log = logger }
}

// ============================================================================
// 核心方法實作
// ============================================================================

// NewPool 建立新的 Worker Pool
// 參數：
//   - bufferSize: 任務和結果通道的緩衝大小
func NewPool(bufferSize int, opts ...Option) *Pool {
	p := &Pool{
		workers:  make([]*Worker, 0),
		taskCh:   make(chan Task, bufferSize),
		resultCh: make(chan Result, bufferSize),
		stopCh:   make(chan struct{}),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start 以 context.Background() 啟動指定數量的 Worker
func (p *Pool) Start(workerCount int) error {
	return p.StartContext(context.Background(), workerCount)
}

// StartContext 啟動指定數量的 Worker，ctx 取消時執行中的模擬會中止
func (p *Pool) StartContext(ctx context.Context, workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolStarted
	}
	if workerCount < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidWorkerCount, workerCount)
	}

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < workerCount; i++ {
		worker := newWorker(ctx, i, p.taskCh, p.resultCh, p.collector, p.log)
		p.workers = append(p.workers, worker)

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run()
		}(worker)
	}

	p.started = true
	p.log.Debug("Worker pool started", "workers", workerCount)
	return nil
}

// Submit 提交任務到 Worker Pool，taskCh 滿時會阻塞直到有空位或 Pool 停止
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrPoolNotStarted
	}
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.mu.Unlock()

	p.sendMu.RLock()
	defer p.sendMu.RUnlock()

	select {
	case <-p.stopCh:
		return ErrPoolClosed
	default:
	}

	select {
	case p.taskCh <- task:
		return nil
	case <-p.stopCh:
		return ErrPoolClosed
	}
}

// ReceiveResult 從結果通道接收執行結果
func (p *Pool) ReceiveResult() (Result, error) {
	select {
	case result, ok := <-p.resultCh:
		if !ok {
			return Result{}, ErrPoolClosed
		}
		return result, nil
	case <-p.stopCh:
		return Result{}, ErrPoolClosed
	}
}

// RunAll 提交所有任務並等待全部結果，結果依 tasks 順序回傳
//
// 同一時間只應有一個呼叫者讀取結果。
func (p *Pool) RunAll(ctx context.Context, tasks []Task) ([]Result, error) {
	index := make(map[string]int, len(tasks))
	for i, task := range tasks {
		if _, dup := index[task.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTask, task.ID)
		}
		index[task.ID] = i
	}

	submitErr := make(chan error, 1)
	go func() {
		for _, task := range tasks {
			if err := p.Submit(task); err != nil {
				submitErr <- err
				return
			}
		}
	}()

	results := make([]Result, len(tasks))
	for received := 0; received < len(tasks); {
		select {
		case result, ok := <-p.resultCh:
			if !ok {
				return nil, ErrPoolClosed
			}
			i, known := index[result.TaskID]
			if !known {
				p.log.Warn("Dropping result from another batch", "task", result.TaskID)
				continue
			}
			results[i] = result
			received++
		case err := <-submitErr:
			return nil, fmt.Errorf("failed to submit task: %w", err)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return results, nil
}

// Stop 優雅地關閉 Worker Pool
// 關閉流程：
//  1. 設定 stopped 標誌並關閉 stopCh（阻塞中的 Submit 立即返回）
//  2. 等待進行中的 Submit 結束後關閉 taskCh
//  3. 等待所有 Worker 完成當前任務
//  4. 關閉 resultCh
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.stopCh)

	p.sendMu.Lock()
	close(p.taskCh)
	p.sendMu.Unlock()

	// Worker 可能阻塞在送出結果，持續清空直到所有 Worker 退出
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-p.resultCh:
			continue
		case <-done:
		}
		break
	}

	p.cancel()
	close(p.resultCh)
	p.log.Debug("Worker pool stopped")
}

// GetWorkerCount 返回當前 Worker 數量
func (p *Pool) GetWorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// IsStarted 檢查 Pool 是否已啟動
func (p *Pool) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

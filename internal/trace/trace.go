package trace

// ============================================================================
// Trace 核心實作
// 職責：
// 1. 追加排程事件到日誌檔案（append-only, JSON lines）
// 2. 批次寫入：緩衝區滿或超過 flush 間隔才寫入
// 3. 提供重放功能（驗證 checksum 與序號連續性）
// ============================================================================

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"time"
)

// File 定義檔案操作所需的方法
// 這允許在測試中對檔案操作進行模擬
type File interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

// Options 控制寫入行為
type Options struct {
	SyncOnAppend  bool          // 每次 flush 都 fsync
	BufferSize    int           // 緩衝事件數量上限，<= 0 使用預設值
	FlushInterval time.Duration // 超過此間隔強制 flush，<= 0 使用預設值
}

const (
	defaultBufferSize    = 256
	defaultFlushInterval = time.Second
)

// Log 表示一次執行的排程 trace
type Log struct {
	mu      sync.Mutex
	file    File
	encoder *json.Encoder
	path    string
	seq     uint64
	opts    Options
	closed  bool

	buffer        []Event
	lastFlushTime time.Time
}

/*
Create 建立新的 trace 檔案

行為：
- 每次執行一個新檔案，既有檔案會被截斷
- seq 從 1 開始
*/
func Create(path string, opts Options) (*Log, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return newLog(file, path, opts), nil
}

// NewWriter 將 trace 寫到任意 File（例如測試中的假檔案）
func NewWriter(file File, opts Options) *Log {
	return newLog(file, "", opts)
}

func newLog(file File, path string, opts Options) *Log {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	return &Log{
		file:          file,
		encoder:       json.NewEncoder(file),
		path:          path,
		opts:          opts,
		buffer:        make([]Event, 0, opts.BufferSize),
		lastFlushTime: time.Now(),
	}
}

// Append 追加一個事件
//
// 行為：
// - 自動遞增 seq 並計算 checksum
// - 先放入 buffer，滿了、超時或 force 才寫入檔案
func (l *Log) Append(event Event, force bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrTraceClosed
	}

	l.seq++
	event.Seq = l.seq
	event.Checksum = CalculateChecksum(event)
	l.buffer = append(l.buffer, event)

	needFlush := force ||
		len(l.buffer) >= l.opts.BufferSize ||
		time.Since(l.lastFlushTime) > l.opts.FlushInterval
	if needFlush {
		return l.flushLocked()
	}
	return nil
}

// Flush 將緩衝的事件寫入檔案
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrTraceClosed
	}
	return l.flushLocked()
}

// LastSeq 取得目前的事件序號
func (l *Log) LastSeq() uint64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Path 回傳檔案路徑（NewWriter 建立時為空字串）
func (l *Log) Path() string { return l.path }

// Close flush 後關閉檔案，關閉後的 Log 不可再用
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	flushErr := l.flushLocked()
	closeErr := l.file.Close()
	return errors.Join(flushErr, closeErr)
}

// flushLocked 假設調用者已經持有 l.mu 鎖
func (l *Log) flushLocked() error {
	for _, event := range l.buffer {
		if err := l.encoder.Encode(event); err != nil {
			return err
		}
	}
	l.buffer = l.buffer[:0]
	l.lastFlushTime = time.Now()
	if l.opts.SyncOnAppend {
		return l.file.Sync()
	}
	return nil
}

// ============================================================================
// 重放
// ============================================================================

// Replay 重放檔案中的所有事件
//
// 行為：
// - 從頭讀取，驗證每個事件的 checksum 與 seq 連續性
// - 呼叫 handler，handler 回傳錯誤立即停止
func Replay(path string, handler EventHandler) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return ReplayReader(file, handler)
}

// ReplayReader 與 Replay 相同，但從任意 io.Reader 讀取
func ReplayReader(r io.Reader, handler EventHandler) error {
	decoder := json.NewDecoder(r)
	var lastSeq uint64

	for {
		var event Event
		offset := decoder.InputOffset()
		if err := decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &CorruptionError{Seq: lastSeq, Offset: offset, Cause: err}
		}

		if expected := CalculateChecksum(event); expected != event.Checksum {
			return &ChecksumError{Seq: event.Seq, Expected: expected, Actual: event.Checksum}
		}
		if event.Seq != lastSeq+1 {
			return &CorruptionError{Seq: lastSeq, Offset: offset, Cause: ErrSequenceGap}
		}
		lastSeq = event.Seq

		if err := handler(event); err != nil {
			return err
		}
	}
}

// ReadAll 讀出所有事件
func ReadAll(path string) ([]Event, error) {
	var events []Event
	err := Replay(path, func(event Event) error {
		events = append(events, event)
		return nil
	})
	return events, err
}

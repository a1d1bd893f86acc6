package report

// ============================================================================
// 職責說明：
// 1. 將一次模擬的結果（每個任務的紀錄與平均值）序列化為 JSON 報告
// 2. 使用原子性寫入（temp file + rename）防止損壞
// 3. 載入時驗證 schema 版本相容性
// 4. 以表格輸出多份報告供策略比較
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/ChuLiYu/coresched/pkg/types"
)

// SchemaVersion 目前的報告格式版本
const SchemaVersion = 1

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrCorruptedReport     = errors.New("report file is corrupted")
	ErrIncompatibleVersion = errors.New("report schema version is incompatible")
	ErrReportNotFound      = errors.New("report file not found")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Report 一次模擬的結果
type Report struct {
	SchemaVer   int          `json:"schema_ver"`
	RunID       string       `json:"run_id"`
	Scheme      types.Scheme `json:"scheme"`
	Cores       int          `json:"cores"`
	Quantum     int          `json:"quantum,omitempty"` // 只有 RR 使用
	GeneratedAt time.Time    `json:"generated_at"`

	Jobs  []types.JobRecord `json:"jobs"` // 依完成順序
	Stats types.Stats       `json:"stats"`

	AvgWaiting    float64 `json:"avg_waiting"`
	AvgTurnaround float64 `json:"avg_turnaround"`
	AvgResponse   float64 `json:"avg_response"`

	Makespan    int     `json:"makespan"`    // 最後一個任務完成的時間
	Utilization float64 `json:"utilization"` // sum(run_time) / (cores * makespan)
	TracePath   string  `json:"trace_path,omitempty"`
}

// New 由完成紀錄建立報告，RunID 為新的 UUID
func New(scheme types.Scheme, cores, quantum int, jobs []types.JobRecord) *Report {
	r := &Report{
		SchemaVer:   SchemaVersion,
		RunID:       uuid.NewString(),
		Scheme:      scheme,
		Cores:       cores,
		GeneratedAt: time.Now().UTC(),
		Jobs:        jobs,
	}
	if scheme == types.RR {
		r.Quantum = quantum
	}

	busy := 0
	for _, job := range jobs {
		r.Stats.Completed++
		r.Stats.TotalWaiting += job.Waiting
		r.Stats.TotalTurnaround += job.Turnaround
		r.Stats.TotalResponse += job.Response
		busy += job.RunTime
		if job.Finish > r.Makespan {
			r.Makespan = job.Finish
		}
	}
	if n := float64(r.Stats.Completed); n > 0 {
		r.AvgWaiting = float64(r.Stats.TotalWaiting) / n
		r.AvgTurnaround = float64(r.Stats.TotalTurnaround) / n
		r.AvgResponse = float64(r.Stats.TotalResponse) / n
	}
	if r.Makespan > 0 && cores > 0 {
		r.Utilization = float64(busy) / float64(cores*r.Makespan)
	}
	return r
}

// Record 依任務 ID 查詢完成紀錄
func (r *Report) Record(jobID int) (types.JobRecord, bool) {
	for _, job := range r.Jobs {
		if job.ID == jobID {
			return job, true
		}
	}
	return types.JobRecord{}, false
}

// ============================================================================
// 檔案存取
// ============================================================================

// Manager 報告檔管理器
type Manager struct {
	path string     // 報告檔案路徑
	mu   sync.Mutex // 保護檔案操作
}

// NewManager 建立報告管理器實例
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Write 原子性寫入報告
//
// 1. 寫入臨時檔案（.tmp）
// 2. 使用 os.Rename 原子性替換原始檔案
func (m *Manager) Write(r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.SchemaVer = SchemaVersion

	// 帶縮排，方便人工閱讀
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp report: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename report: %w", err)
	}
	return nil
}

// Load 載入報告並驗證版本
func (m *Manager) Load() (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrReportNotFound, m.path)
		}
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedReport, err)
	}
	if r.SchemaVer != SchemaVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, r.SchemaVer, SchemaVersion)
	}
	return &r, nil
}

// Exists 檢查報告檔案是否存在
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Path 取得報告檔案路徑
func (m *Manager) Path() string {
	return m.path
}

// ============================================================================
// 表格輸出
// ============================================================================

// WriteJobs 輸出單一報告的每個任務紀錄（依任務 ID 排序）
func WriteJobs(w io.Writer, r *Report) error {
	jobs := make([]types.JobRecord, len(r.Jobs))
	copy(jobs, r.Jobs)
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tPRI\tARRIVE\tSTART\tFINISH\tRUN\tWAIT\tTURNAROUND\tRESPONSE")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			j.ID, j.Priority, j.Arrival, j.Start, j.Finish, j.RunTime, j.Waiting, j.Turnaround, j.Response)
	}
	fmt.Fprintf(tw, "\nscheme=%s cores=%d avg_waiting=%.2f avg_turnaround=%.2f avg_response=%.2f\n",
		r.Scheme, r.Cores, r.AvgWaiting, r.AvgTurnaround, r.AvgResponse)
	return tw.Flush()
}

// WriteComparison 輸出多份報告的平均值（一份報告一列）
func WriteComparison(w io.Writer, reports []*Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCHEME\tCORES\tJOBS\tAVG_WAIT\tAVG_TURNAROUND\tAVG_RESPONSE\tMAKESPAN\tUTIL")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%.2f\t%.2f\t%d\t%.1f%%\n",
			r.Scheme, r.Cores, r.Stats.Completed,
			r.AvgWaiting, r.AvgTurnaround, r.AvgResponse,
			r.Makespan, r.Utilization*100)
	}
	return tw.Flush()
}

// Package types 定義了 coresched 系統中使用的核心領域模型
package types

import (
	"fmt"
	"strings"
)

// Unset 尚未設定的時間戳（StartTime / LastUpdateTime）
const Unset = -1

// None 表示「沒有核心」或「沒有任務」的回傳值
const None = -1

// Scheme 排程策略
type Scheme int

// 定義六種排程策略
const (
	FCFS Scheme = iota // First-Come-First-Served：依到達時間
	SJF                // Shortest-Job-First：依剩餘時間，不可搶佔
	PSJF               // Preemptive SJF：依剩餘時間，可搶佔
	PRI                // Priority：依優先權（數值越小越重要），不可搶佔
	PPRI               // Preemptive Priority：依優先權，可搶佔
	RR                 // Round-Robin：依到達時間，由 quantum 到期驅動輪轉
)

var schemeNames = map[Scheme]string{
	FCFS: "fcfs",
	SJF:  "sjf",
	PSJF: "psjf",
	PRI:  "pri",
	PPRI: "ppri",
	RR:   "rr",
}

func (s Scheme) String() string {
	if name, ok := schemeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("scheme(%d)", int(s))
}

// Valid 檢查是否為已知策略
func (s Scheme) Valid() bool {
	_, ok := schemeNames[s]
	return ok
}

// Preemptive 回傳到達事件是否可能搶佔執行中的任務
// RR 的輪轉由外部 quantum 事件驅動，不在此列
func (s Scheme) Preemptive() bool {
	return s == PSJF || s == PPRI
}

// MarshalText 讓 Scheme 以名稱序列化（JSON / YAML）
func (s Scheme) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown scheme %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText 從名稱解析 Scheme
func (s *Scheme) UnmarshalText(text []byte) error {
	parsed, err := ParseScheme(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseScheme 解析策略名稱（不分大小寫）
func ParseScheme(name string) (Scheme, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for s, n := range schemeNames {
		if n == key {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown scheme %q (want one of fcfs, sjf, psjf, pri, ppri, rr)", name)
}

// AllSchemes 依宣告順序回傳所有策略
func AllSchemes() []Scheme {
	return []Scheme{FCFS, SJF, PSJF, PRI, PPRI, RR}
}

// Job 任務結構，代表排程器中的一個工作
type Job struct {
	ID       int `json:"id"`       // 任務唯一識別碼，由 driver 指定
	Priority int `json:"priority"` // 優先權，數值越小越重要

	// 時間管理（模擬時間單位）
	ArrivalTime    int `json:"arrival_time"`     // 到達時間，所有任務唯一
	StartTime      int `json:"start_time"`       // 第一次執行時間，未執行為 Unset
	LastUpdateTime int `json:"last_update_time"` // RemainingTime 最後同步時間

	RunTime       int `json:"run_time"`       // 需要的總 CPU 時間
	RemainingTime int `json:"remaining_time"` // 尚需的 CPU 時間
}

// NewJob 建立剛到達的任務
func NewJob(id, arrival, runTime, priority int) *Job {
	return &Job{
		ID:             id,
		Priority:       priority,
		ArrivalTime:    arrival,
		StartTime:      Unset,
		LastUpdateTime: Unset,
		RunTime:        runTime,
		RemainingTime:  runTime,
	}
}

// Stats 累計統計，只在任務完成時更新
type Stats struct {
	Completed       int `json:"completed"`
	TotalWaiting    int `json:"total_waiting"`
	TotalTurnaround int `json:"total_turnaround"`
	TotalResponse   int `json:"total_response"`
}

// JobRecord 已完成任務的紀錄
type JobRecord struct {
	ID         int `json:"id"`
	Priority   int `json:"priority"`
	Arrival    int `json:"arrival"`
	Start      int `json:"start"`
	Finish     int `json:"finish"`
	RunTime    int `json:"run_time"`
	Waiting    int `json:"waiting"`
	Turnaround int `json:"turnaround"`
	Response   int `json:"response"`
	Core       int `json:"core"`
}

// CoreState 單一核心的狀態快照
type CoreState struct {
	Core  int  `json:"core"`
	Idle  bool `json:"idle"`
	JobID int  `json:"job_id"` // Idle 時為 None
}

// EngineState 排程器狀態快照（唯讀）
type EngineState struct {
	Scheme  Scheme      `json:"scheme"`
	Cores   []CoreState `json:"cores"`
	Waiting []Job       `json:"waiting"` // 依等待佇列順序
	Stats   Stats       `json:"stats"`
}

// WorkloadJob 工作負載檔案中的一筆任務
type WorkloadJob struct {
	ID       int `json:"id" yaml:"id"`
	Arrival  int `json:"arrival" yaml:"arrival"`
	RunTime  int `json:"run_time" yaml:"run_time"`
	Priority int `json:"priority" yaml:"priority"`
}

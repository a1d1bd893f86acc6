package worker

import (
	"time"

	"github.com/ChuLiYu/coresched/internal/report"
	"github.com/ChuLiYu/coresched/internal/simulator"
	"github.com/ChuLiYu/coresched/internal/workload"
)

// Task 代表一次要執行的模擬
type Task struct {
	ID       string             // 任務唯一識別碼
	Config   simulator.Config   // 模擬器配置
	Workload *workload.Workload // 工作負載（worker 之間共用，唯讀）
	Timeout  time.Duration      // 執行超時時間，0 表示不限
}

// Result 代表模擬執行結果
type Result struct {
	TaskID   string         // 任務 ID
	Report   *report.Report // 成功時的報告
	Error    error          // 錯誤訊息（如果有）
	Duration time.Duration  // 實際執行時間
}

// Success 回傳模擬是否成功
func (r Result) Success() bool { return r.Error == nil }

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/coresched/internal/config"
	"github.com/ChuLiYu/coresched/internal/logging"
	"github.com/ChuLiYu/coresched/internal/report"
	"github.com/ChuLiYu/coresched/internal/workload"
	"github.com/ChuLiYu/coresched/pkg/types"
)

const testWorkload = `
name: cli-test
jobs:
  - {id: 0, arrival: 0, run_time: 8, priority: 2}
  - {id: 1, arrival: 1, run_time: 4, priority: 1}
  - {id: 2, arrival: 2, run_time: 9, priority: 3}
  - {id: 3, arrival: 3, run_time: 5, priority: 0}
`

// execute 執行命令並回傳 stdout
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := BuildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	// 不存在的 config 檔會回退到預設值
	cmd.SetArgs(append([]string{"-c", filepath.Join(t.TempDir(), "missing.yaml"), "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// executeWithConfig 以指定的 config 內容執行命令
func executeWithConfig(t *testing.T, configYAML string, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0644), "Failed to write config file")

	cmd := BuildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"-c", path, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

const metricsConfig = "metrics:\n  enabled: true\n  port: 9090\n"

func writeWorkload(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workload.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testWorkload), 0644), "Failed to write workload file")
	return path
}

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "coresched", cmd.Use, "Root command should be 'coresched'")
	assert.Equal(t, "1.0.0", cmd.Version, "Version should be 1.0.0")

	// 檢查子命令
	commandNames := make(map[string]bool)
	for _, c := range cmd.Commands() {
		commandNames[c.Name()] = true
	}
	for _, name := range []string{"run", "compare", "serve", "replay", "generate", "config"} {
		assert.True(t, commandNames[name], "Should have '%s' command", name)
	}

	// 檢查持久化標誌
	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag, "Should have --config flag")
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue, "Default config path should be configs/default.yaml")
	assert.NotNil(t, cmd.PersistentFlags().Lookup("log-level"), "Should have --log-level flag")
}

func TestBuildRunCommand(t *testing.T) {
	cmd := buildRunCommand()

	assert.Equal(t, "run", cmd.Use)
	assert.NotNil(t, cmd.RunE, "RunE function should be set")

	workloadFlag := cmd.Flags().Lookup("workload")
	require.NotNil(t, workloadFlag, "Should have --workload flag")
	assert.Equal(t, "w", workloadFlag.Shorthand, "Should have -w shorthand")

	for _, name := range []string{"scheme", "cores", "quantum", "strict", "trace", "report"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "Should have --%s flag", name)
	}
}

func TestBuildCompareCommand(t *testing.T) {
	cmd := buildCompareCommand()

	assert.Equal(t, "compare", cmd.Use)
	assert.Nil(t, cmd.Flags().Lookup("scheme"), "compare takes --schemes, not --scheme")
	assert.NotNil(t, cmd.Flags().Lookup("schemes"))
	assert.NotNil(t, cmd.Flags().Lookup("workers"))
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "run.trace")
	reportPath := filepath.Join(dir, "report.json")

	out, err := execute(t, "run", "-w", writeWorkload(t), "--scheme", "psjf", "--cores", "2",
		"--trace", tracePath, "--report", reportPath)
	require.NoError(t, err)

	assert.Contains(t, out, "JOB", "Should print the job table")
	assert.Contains(t, out, "scheme=psjf cores=2")
	assert.NotContains(t, out, "coresched_", "Metrics are printed only when enabled")

	// 報告檔
	rep, err := report.NewManager(reportPath).Load()
	require.NoError(t, err, "Report should be readable")
	assert.Equal(t, types.PSJF, rep.Scheme)
	assert.Equal(t, 2, rep.Cores)
	assert.Len(t, rep.Jobs, 4)
	assert.Equal(t, tracePath, rep.TracePath)

	// trace 可重播且與報告一致
	out, err = execute(t, "replay", tracePath)
	require.NoError(t, err)
	assert.Regexp(t, `ARRIVE\s+4`, out)
	assert.Regexp(t, `FINISH\s+4`, out)
	assert.Contains(t, out, fmt.Sprintf("makespan: %d", rep.Makespan))
}

func TestRunCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing workload flag", []string{"run"}, "workload"},
		{"missing workload file", []string{"run", "-w", "/nonexistent/workload.yaml"}, "failed to load workload"},
		{"unknown scheme", []string{"run", "-w", "x.yaml", "--scheme", "lottery"}, "lottery"},
		{"zero cores", []string{"run", "-w", "x.yaml", "--cores", "0"}, "core"},
		{"rr without quantum", []string{"run", "-w", "x.yaml", "--scheme", "rr", "--quantum", "0"}, "quantum"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunCommandPrintsMetrics(t *testing.T) {
	out, err := executeWithConfig(t, metricsConfig, "run", "-w", writeWorkload(t), "--scheme", "psjf", "--cores", "2")
	require.NoError(t, err)

	assert.Contains(t, out, "JOB", "Job table still comes first")
	assert.Contains(t, out, `coresched_jobs_arrived_total{scheme="psjf"} 4`)
	assert.Contains(t, out, `coresched_jobs_completed_total{scheme="psjf"} 4`)
	assert.Contains(t, out, `coresched_runs_total{scheme="psjf",status="ok"} 1`)
	assert.Contains(t, out, `coresched_job_turnaround_units_count{scheme="psjf"} 4`)
	assert.Less(t, strings.Index(out, "JOB"), strings.Index(out, "coresched_"))
}

func TestCompareCommandPrintsMetrics(t *testing.T) {
	out, err := executeWithConfig(t, metricsConfig, "compare", "-w", writeWorkload(t), "--schemes", "fcfs,rr", "--quantum", "3")
	require.NoError(t, err)

	assert.Regexp(t, `(?m)^fcfs\s+1\s+4`, out)
	for _, scheme := range []string{"fcfs", "rr"} {
		assert.Contains(t, out, fmt.Sprintf(`coresched_jobs_completed_total{scheme=%q} 4`, scheme))
		assert.Contains(t, out, fmt.Sprintf(`coresched_runs_total{scheme=%q,status="ok"} 1`, scheme))
	}
	assert.NotContains(t, out, `scheme="psjf"`)
}

func TestCompareCommand(t *testing.T) {
	out, err := execute(t, "compare", "-w", writeWorkload(t), "--schemes", "fcfs,rr,fcfs", "--quantum", "3", "--workers", "2")
	require.NoError(t, err)

	assert.Contains(t, out, "workload=cli-test jobs=4 cores=1 quantum=3")
	assert.Regexp(t, `(?m)^fcfs\s+1\s+4`, out)
	assert.Regexp(t, `(?m)^rr\s+1\s+4`, out)
	assert.NotContains(t, out, "psjf", "Only the selected schemes run")
}

func TestCompareAllSchemes(t *testing.T) {
	out, err := execute(t, "compare", "-w", writeWorkload(t), "--cores", "2")
	require.NoError(t, err)
	for _, scheme := range types.AllSchemes() {
		assert.Regexp(t, fmt.Sprintf(`(?m)^%s\s+2\s+4`, scheme), out)
	}
}

func TestGenerateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gen.yaml")

	out, err := execute(t, "generate", "-o", path, "--jobs", "7", "--seed", "9")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 7 jobs")

	w, err := workload.Load(path)
	require.NoError(t, err, "Generated workload should load")
	assert.Len(t, w.Jobs, 7)

	// 相同 seed 產生相同工作負載
	again, err := workload.Generate(workload.GenerateOptions{Jobs: 7, MaxGap: 4, MaxRunTime: 12, MaxPriority: 5, Seed: 9})
	require.NoError(t, err)
	assert.Equal(t, again.Jobs, w.Jobs)
}

func TestReplayMissingTrace(t *testing.T) {
	_, err := execute(t, "replay", "/nonexistent/run.trace")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to replay trace")
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  cores: 3\n  scheme: rr\n"), 0644))

	cmd := BuildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "-c", path})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "cores: 3")
	assert.Contains(t, out.String(), "scheme: rr")
	assert.Contains(t, out.String(), "timeout: 30s", "Defaults fill unset fields")
}

func TestParseSchemes(t *testing.T) {
	all, err := parseSchemes(nil)
	require.NoError(t, err)
	assert.Equal(t, types.AllSchemes(), all)

	got, err := parseSchemes([]string{"rr", "FCFS", "rr"})
	require.NoError(t, err)
	assert.Equal(t, []types.Scheme{types.RR, types.FCFS}, got)

	_, err = parseSchemes([]string{"lottery"})
	assert.Error(t, err)
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, logging.Discard()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
	assert.Equal(t, 130, exitCode(fmt.Errorf("run: %w", context.Canceled)))
}

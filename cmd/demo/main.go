// demo drives a workload against a running "coresched serve" over gRPC,
// using the same clock as the local simulator, and prints the result.
//
//	coresched serve --port 50051 &
//	go run ./cmd/demo --addr localhost:50051 -w examples/workload.yaml --scheme rr --quantum 2
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/coresched/internal/logging"
	"github.com/ChuLiYu/coresched/internal/report"
	"github.com/ChuLiYu/coresched/internal/server"
	"github.com/ChuLiYu/coresched/internal/simulator"
	"github.com/ChuLiYu/coresched/internal/workload"
	"github.com/ChuLiYu/coresched/pkg/types"
)

func main() {
	var (
		addr         string
		workloadFile string
		schemeName   string
		cores        int
		quantum      int
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:          "demo",
		Short:        "Drive a workload against a remote coresched engine",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			scheme, err := types.ParseScheme(schemeName)
			if err != nil {
				return err
			}
			w, err := workload.Load(workloadFile)
			if err != nil {
				return fmt.Errorf("failed to load workload: %w", err)
			}
			sim, err := simulator.New(simulator.Config{
				Cores:   cores,
				Scheme:  scheme,
				Quantum: quantum,
				Logger:  logging.NewLogger(logging.ParseLevel("warn"), "text"),
			})
			if err != nil {
				return err
			}

			client, err := server.Dial(addr)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			// 遠端引擎重設為相同的核心數與策略
			if err := client.Reset(ctx, cores, scheme, true); err != nil {
				return fmt.Errorf("failed to reset remote engine: %w", err)
			}
			fmt.Printf("✓ Remote engine at %s reset (scheme=%s cores=%d)\n", addr, scheme, cores)

			if err := sim.Drive(ctx, w, client.Bind(ctx)); err != nil {
				return fmt.Errorf("remote simulation failed: %w", err)
			}

			records, err := client.Completed(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("✓ %d jobs completed remotely\n\n", len(records))
			if err := report.WriteJobs(os.Stdout, report.New(scheme, cores, quantum, records)); err != nil {
				return err
			}

			avg, err := client.Averages(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("\n📊 Server averages: waiting=%.2f turnaround=%.2f response=%.2f\n",
				avg.Waiting, avg.Turnaround, avg.Response)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "coresched server address")
	cmd.Flags().StringVarP(&workloadFile, "workload", "w", "examples/workload.yaml", "workload YAML file")
	cmd.Flags().StringVar(&schemeName, "scheme", "fcfs", "scheduling scheme")
	cmd.Flags().IntVar(&cores, "cores", 1, "number of cores")
	cmd.Flags().IntVar(&quantum, "quantum", 2, "round-robin quantum")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

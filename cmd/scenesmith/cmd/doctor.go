package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"

	"scenesmith/internal/adapters/driver"
	"scenesmith/internal/logging"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check host resources, configuration and driver availability",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	failed := false

	check := func(name string, err error) {
		if err != nil {
			failed = true
			fmt.Fprintf(out, "  FAIL %-22s %v\n", name, err)
			return
		}
		fmt.Fprintf(out, "  ok   %s\n", name)
	}

	fmt.Fprintln(out, "configuration")
	cfg, err := loadConfig()
	check("config", err)
	if err != nil {
		return fmt.Errorf("doctor found problems")
	}

	fmt.Fprintln(out, "host")
	if counts, err := cpu.Counts(true); err == nil {
		fmt.Fprintf(out, "  ok   cpu threads            %d\n", counts)
	} else {
		check("cpu", err)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fmt.Fprintf(out, "  ok   memory                 %.1f%% used of %.1f GB\n",
			vm.UsedPercent, float64(vm.Total)/(1<<30))
	} else {
		check("memory", err)
	}
	if du, err := disk.Usage("/"); err == nil {
		fmt.Fprintf(out, "  ok   disk                   %.1f%% used\n", du.UsedPercent)
		if du.UsedPercent > 95 {
			failed = true
			fmt.Fprintln(out, "  FAIL disk is nearly full")
		}
	} else {
		check("disk", err)
	}

	fmt.Fprintln(out, "paths")
	if cfg.Content.CSVPath != "" {
		_, err := os.Stat(cfg.Content.CSVPath)
		check("content path", err)
	}
	if cfg.Workflows.Dir != "" {
		_, err := os.Stat(cfg.Workflows.Dir)
		check("workflows dir", err)
	}

	fmt.Fprintln(out, "driver")
	logger := logging.NewNop()
	client := driver.New(cfg.Driver.URL, 5*time.Second, logger)
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	check("driver health", client.Health(ctx))

	if failed {
		return fmt.Errorf("doctor found problems")
	}
	fmt.Fprintln(out, "all checks passed")
	return nil
}

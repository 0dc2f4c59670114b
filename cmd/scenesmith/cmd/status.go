package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"scenesmith/internal/core"
)

var (
	statusCollection string
	statusWatch      bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show task statuses from a running server",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusCollection, "collection", "", "filter by collection")
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "live-update the view")
	rootCmd.AddCommand(statusCmd)
}

type statusPayload struct {
	Tasks []core.TaskSnapshot `json:"tasks"`
}

type progressPayload struct {
	DoneScenes  int `json:"done_scenes"`
	TotalScenes int `json:"total_scenes"`
	DoneParts   int `json:"done_parts"`
	TotalParts  int `json:"total_parts"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	if statusWatch {
		return runStatusWatch(cmd.Context())
	}
	tasks, prog, err := fetchStatus(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderStatusTable(tasks))
	fmt.Fprintf(cmd.OutOrStdout(), "scenes %d/%d  parts %d/%d\n",
		prog.DoneScenes, prog.TotalScenes, prog.DoneParts, prog.TotalParts)
	return nil
}

func fetchStatus(ctx context.Context) ([]core.TaskSnapshot, progressPayload, error) {
	var tasks statusPayload
	q := url.Values{}
	if statusCollection != "" {
		q.Set("collection", statusCollection)
	}
	if err := getJSON(ctx, serverURL+"/api/v1/tasks?"+q.Encode(), &tasks); err != nil {
		return nil, progressPayload{}, err
	}
	var prog progressPayload
	if err := getJSON(ctx, serverURL+"/api/v1/progress", &prog); err != nil {
		return nil, progressPayload{}, err
	}
	return tasks.Tasks, prog, nil
}

func renderStatusTable(tasks []core.TaskSnapshot) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"TASK", "STATUS", "STAGE", "SCENES", "REPORT", "ERROR"})

	for _, t := range tasks {
		report := ""
		for cat, n := range t.Report {
			if report != "" {
				report += " "
			}
			report += fmt.Sprintf("%s=%d", cat, n)
		}
		tw.AppendRow(table.Row{
			t.Key.String(),
			string(t.Status),
			t.Stage,
			fmt.Sprintf("%d/%d", t.SceneDone, t.SceneTotal),
			report,
			t.Error,
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func getJSON(ctx context.Context, rawURL string, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("reaching server %s: %w", serverURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s for %s", resp.Status, rawURL)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	submitParts    []int
	submitWorkflow string
)

var submitCmd = &cobra.Command{
	Use:   "submit <collection>",
	Short: "Submit a collection's jobs to a running server",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().IntSliceVar(&submitParts, "parts", nil, "only these part indices (default: all)")
	submitCmd.Flags().StringVar(&submitWorkflow, "workflow", "", "workflow name (default: \"default\")")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	body, err := json.Marshal(map[string]any{
		"collection": args[0],
		"parts":      submitParts,
		"workflow":   submitWorkflow,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		serverURL+"/api/v1/runs", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("reaching server %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("submit rejected (%s): %s", resp.Status, bytes.TrimSpace(data))
	}

	var out struct {
		Submitted []string `json:"submitted"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	for _, key := range out.Submitted {
		fmt.Fprintln(cmd.OutOrStdout(), "submitted", key)
	}
	return nil
}

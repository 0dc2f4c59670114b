package cmd

import (
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"scenesmith/internal/adapters/content"
	"scenesmith/internal/logging"
)

var collectionsCmd = &cobra.Command{
	Use:   "collections [collection]",
	Short: "List collections in the content source, or show one collection's stats",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCollections,
}

func init() {
	rootCmd.AddCommand(collectionsCmd)
}

func runCollections(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	src := content.NewSource(cfg.Content.CSVPath, logging.NewNop())

	if len(args) == 1 {
		return printCollectionStats(cmd, src, args[0])
	}

	names, err := src.Collections()
	if err != nil {
		return err
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"COLLECTION", "PARTS", "SCENES", "B-ROLL"})
	for _, name := range names {
		st, err := src.Stats(cmd.Context(), name)
		if err != nil {
			tw.AppendRow(table.Row{name, "?", "?", "?"})
			continue
		}
		tw.AppendRow(table.Row{name, st.Parts, st.Scenes, st.Brolls})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	fmt.Fprintln(cmd.OutOrStdout(), tw.Render())
	return nil
}

func printCollectionStats(cmd *cobra.Command, src *content.Source, name string) error {
	st, err := src.Stats(cmd.Context(), name)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "collection: %s\n", st.Collection)
	fmt.Fprintf(out, "parts: %d  scenes: %d  words: %d  chars: %d  b-roll queries: %d\n",
		st.Parts, st.Scenes, st.Words, st.Chars, st.Brolls)
	if len(st.Templates) > 0 {
		parts := make([]int, 0, len(st.Templates))
		for p := range st.Templates {
			parts = append(parts, p)
		}
		sort.Ints(parts)
		for _, p := range parts {
			fmt.Fprintf(out, "  part %d: %s\n", p, st.Templates[p])
		}
	}
	return nil
}

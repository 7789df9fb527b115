package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/ember/internal/engine"
)

var (
	searchLimit   int
	searchClient  string
	searchProject string
	searchSource  string
	searchNoBoost bool

	listLimit  int
	coldMinAge float64
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search memories",
	Long:  "Search memories by similarity blended with heat. Returned memories count as accessed unless --no-boost is set.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var hotCmd = &cobra.Command{
	Use:   "hot",
	Short: "List the hottest memories",
	RunE:  runHot,
}

var coldCmd = &cobra.Command{
	Use:   "cold",
	Short: "List cold memories worth reviewing or archiving",
	RunE:  runCold,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize memories by heat band",
	RunE:  runStats,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "Maximum number of results (default from config)")
	searchCmd.Flags().StringVar(&searchClient, "client", "", "Filter by client")
	searchCmd.Flags().StringVar(&searchProject, "project", "", "Filter by project")
	searchCmd.Flags().StringVar(&searchSource, "source", "", "Filter by source")
	searchCmd.Flags().BoolVar(&searchNoBoost, "no-boost", false, "Do not count results as accessed")

	for _, c := range []*cobra.Command{hotCmd, coldCmd} {
		c.Flags().IntVarP(&listLimit, "limit", "n", 0, "Maximum number of results (default from config)")
	}
	coldCmd.Flags().Float64Var(&coldMinAge, "min-age-days", -1, "Minimum age in days (default from config)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	if searchNoBoost {
		cfg.Rank.BoostOnSearch = false
	}
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	query := strings.Join(args, " ")
	results, err := a.engine.Search(ctx, query, searchLimit, engine.Filters{
		Client:  searchClient,
		Project: searchProject,
		Source:  searchSource,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(results)
	}
	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%d. [%.3f] %s  (similarity %.3f, heat %.3f)\n", i+1, r.Score, r.ID, r.Similarity, r.Heat)
		fmt.Printf("   %s\n", truncate(r.Content, 200))
		fmt.Println()
	}
	return nil
}

func runHot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	memories, err := a.engine.WhatsHot(ctx, listLimit)
	if err != nil {
		return err
	}
	return printMemories(memories, "No memories yet.")
}

func runCold(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	minAge := coldMinAge
	if !cmd.Flags().Changed("min-age-days") {
		minAge = cfg.Cold.MinAgeDays
	}
	memories, err := a.engine.WhatsCold(ctx, listLimit, minAge)
	if err != nil {
		return err
	}
	return printMemories(memories, "Nothing cold.")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.engine.Stats(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(s)
	}
	fmt.Printf("Memories: %d (mean heat %.3f)\n", s.Total, s.MeanHeat)
	fmt.Printf("  hot:    %d\n", s.Hot)
	fmt.Printf("  warm:   %d\n", s.Warm)
	fmt.Printf("  cold:   %d\n", s.Cold)
	fmt.Printf("  pinned: %d\n", s.Pinned)
	if s.Legacy > 0 {
		fmt.Printf("  awaiting backfill: %d (run `ember backfill`)\n", s.Legacy)
	}
	return nil
}

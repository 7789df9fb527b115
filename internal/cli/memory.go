package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/ember/internal/engine"
)

var (
	addSource   string
	addClient   string
	addProject  string
	addPinned   bool
	addMentions []string
)

var addCmd = &cobra.Command{
	Use:   "add [content]",
	Short: "Record a new memory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAdd,
}

var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show a memory with its current heat",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var pinCmd = &cobra.Command{
	Use:   "pin [id]",
	Short: "Pin a memory at maximum heat",
	Args:  cobra.ExactArgs(1),
	RunE:  byID((*engine.Engine).Pin),
}

var unpinCmd = &cobra.Command{
	Use:   "unpin [id]",
	Short: "Unpin a memory; decay resumes from now",
	Args:  cobra.ExactArgs(1),
	RunE:  byID((*engine.Engine).Unpin),
}

var accessCmd = &cobra.Command{
	Use:   "access [id]",
	Short: "Record that a memory was used",
	Args:  cobra.ExactArgs(1),
	RunE:  byID((*engine.Engine).Access),
}

var mentionCmd = &cobra.Command{
	Use:   "mention [id]",
	Short: "Record that a memory was referenced",
	Args:  cobra.ExactArgs(1),
	RunE:  byID((*engine.Engine).Mention),
}

func init() {
	addCmd.Flags().StringVar(&addSource, "source", "", "Where the memory came from")
	addCmd.Flags().StringVar(&addClient, "client", "cli", "Client recording the memory")
	addCmd.Flags().StringVar(&addProject, "project", "", "Project the memory belongs to")
	addCmd.Flags().BoolVar(&addPinned, "pin", false, "Pin the memory")
	addCmd.Flags().StringSliceVar(&addMentions, "mentions", nil, "Ids of memories this one references")
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.engine.Add(ctx, engine.AddRequest{
		Content:  strings.Join(args, " "),
		Source:   addSource,
		Client:   addClient,
		Project:  addProject,
		Pinned:   addPinned,
		Mentions: addMentions,
	})
	if err != nil {
		return err
	}
	return printMemory(m)
}

// byID builds a RunE for an operation on a single memory id.
func byID(op func(*engine.Engine, context.Context, string) (*engine.MemoryView, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := op(a.engine, ctx, args[0])
		if err != nil {
			return err
		}
		return printMemory(m)
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.engine.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if err := printMemory(m); err != nil || jsonOutput {
		return err
	}

	v, err := a.db.GetVector(ctx, m.ID)
	if err != nil {
		return err
	}
	switch {
	case v == nil:
		fmt.Println("  embedding: none (run `ember reindex`)")
	case v.Model != a.index.Model():
		fmt.Printf("  embedding: %s, stale for %s\n", v.Model, a.index.Model())
	default:
		fmt.Printf("  embedding: %s (%d dims)\n", v.Model, v.Dimensions)
	}
	return nil
}

func printMemory(m *engine.MemoryView) error {
	if jsonOutput {
		return printJSON(m)
	}
	pin := ""
	if m.Pinned {
		pin = " (pinned)"
	}
	fmt.Printf("%s  heat %.3f%s\n", m.ID, m.Heat, pin)
	fmt.Printf("  %s\n", m.Content)
	fmt.Printf("  accessed %d, mentioned %d, created %s\n", m.AccessCount, m.MentionCount, m.CreatedAt.Format(time.RFC3339))
	if m.LastAccessedAt != nil {
		fmt.Printf("  last accessed %s\n", m.LastAccessedAt.Format(time.RFC3339))
	}
	return nil
}

func printMemories(memories []engine.MemoryView, empty string) error {
	if jsonOutput {
		return printJSON(memories)
	}
	if len(memories) == 0 {
		fmt.Println(empty)
		return nil
	}
	for i, m := range memories {
		pin := ""
		if m.Pinned {
			pin = " pinned"
		}
		fmt.Printf("%d. [%.3f%s] %s\n", i+1, m.Heat, pin, m.ID)
		fmt.Printf("   %s\n", truncate(m.Content, 200))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

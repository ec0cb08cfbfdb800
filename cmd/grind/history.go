package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/grindlog/grind/internal/engine"
	"github.com/grindlog/grind/internal/ui"
)

func printSolved(records []engine.SolvedProblem, limit int) {
	if len(records) == 0 {
		fmt.Println(ui.RenderMuted("(nothing here)"))
		return
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	for _, rec := range records {
		date := rec.CompletedDate
		if len(date) >= 10 {
			date = date[:10]
		}
		fmt.Printf("%s  %s%s\n", ui.RenderMuted(date), rec.Name, ui.FlagMarks(rec.NeedsReview, rec.IsTricky))
		fmt.Printf("  %s\n", ui.RenderMuted(rec.ID))
		if rec.Notes != "" {
			fmt.Printf("  %s\n", rec.Notes)
		}
	}
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List solved problems, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		eng, cleanup, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		printSolved(eng.AllSolved(), limit)
		return nil
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List problems flagged for review",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		printSolved(eng.ReviewQueue(), 0)
		return nil
	},
}

var trickyCmd = &cobra.Command{
	Use:   "tricky",
	Short: "List problems flagged as tricky",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		printSolved(eng.TrickyQueue(), 0)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Search history by name or notes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		printSolved(eng.Search(strings.Join(args, " ")), 0)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add <name...>",
	Short: "Log a problem solved outside the rotation",
	Long: `Add a history entry for a problem solved outside the daily slots.
The entry gets a manual id and carries no slot number.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		link, _ := cmd.Flags().GetString("link")
		notes, _ := cmd.Flags().GetString("notes")

		eng, cleanup, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		id, err := eng.AddManualRecord(strings.Join(args, " "), link, notes)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", ui.RenderPass("Logged:"), strings.Join(args, " "))
		fmt.Printf("  %s\n", ui.RenderMuted(id))
		return nil
	},
}

var reviewedCmd = &cobra.Command{
	Use:   "reviewed <id>",
	Short: "Mark a history entry as reviewed today",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := eng.MarkReviewedToday(args[0]); err != nil {
			return err
		}
		fmt.Printf("Reviewed %s\n", ui.RenderMuted(args[0]))
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a history entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		eng, cleanup, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if !yes {
			var confirmed bool
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Delete history entry %s?", args[0])).
					Description("History deletions are permanent.").
					Value(&confirmed),
			))
			if err := form.Run(); err != nil {
				return err
			}
			if !confirmed {
				fmt.Println("Aborted")
				return nil
			}
		}

		if err := eng.DeleteSolvedRecord(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", ui.RenderMuted(args[0]))
		return nil
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 0, "Show at most n entries (0 = all)")
	addCmd.Flags().String("link", "", "Problem URL")
	addCmd.Flags().String("notes", "", "Solution notes")
	deleteCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(trickyCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(reviewedCmd)
	rootCmd.AddCommand(deleteCmd)
}

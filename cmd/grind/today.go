package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/grindlog/grind/internal/topic"
	"github.com/grindlog/grind/internal/ui"
)

var todayCmd = &cobra.Command{
	Use:   "today [day]",
	Short: "Show the current day's problems and progress",
	Long: `Show one day of the rotation: its topic, focus text, the three
problem slots with their completion state and flags, and progress bars
for the day and the whole cycle.

Defaults to the current day; pass a day number to view another day.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		day := eng.CurrentDay()
		if len(args) == 1 {
			day, err = strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid day %q", args[0])
			}
		}
		top, ok := eng.Catalog().ForDay(day)
		if !ok {
			return fmt.Errorf("invalid day %d: catalog has days 1 to %d", day, eng.Catalog().Days())
		}

		fmt.Printf("%s %s\n", ui.RenderAccent(fmt.Sprintf("Day %d:", day)), ui.RenderAccent(top.Name))
		if top.Focus != "" {
			fmt.Printf("%s\n", ui.RenderMuted(top.Focus))
		}
		fmt.Println()

		for slot := 1; slot <= topic.SlotsPerDay; slot++ {
			rec, _ := eng.Daily(day, slot)
			name := rec.Name
			if name == "" {
				name = ui.RenderMuted("(empty)")
			}
			fmt.Printf("  %d. %s %s%s\n", slot, ui.Checkbox(rec.Completed), name, ui.FlagMarks(rec.NeedsReview, rec.IsTricky))
			if rec.Link != "" {
				fmt.Printf("     %s\n", ui.RenderMuted(rec.Link))
			}
			if rec.Notes != "" {
				fmt.Printf("     %s\n", rec.Notes)
			}
		}

		fmt.Println()
		fmt.Printf("  Day:   %s\n", ui.ProgressBar(eng.DayProgress(day), 20))
		fmt.Printf("  Cycle: %s\n", ui.ProgressBar(eng.CycleProgress(), 20))
		return nil
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Show the full topic rotation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		current := eng.CurrentDay()
		for _, top := range eng.Catalog() {
			marker := "  "
			if top.Day == current {
				marker = ui.RenderAccent("> ")
			}
			fmt.Printf("%sDay %d: %-30s %s\n", marker, top.Day, top.Name, ui.ProgressBar(eng.DayProgress(top.Day), 10))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(todayCmd)
	rootCmd.AddCommand(scheduleCmd)
}

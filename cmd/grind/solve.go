package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/grindlog/grind/internal/ui"
)

func parseSlotArgs(args []string) (int, int, error) {
	day, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid day %q", args[0])
	}
	slot, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid slot %q", args[1])
	}
	return day, slot, nil
}

var toggleCmd = &cobra.Command{
	Use:   "toggle <day> <slot>",
	Short: "Toggle a slot's completed checkbox",
	Long: `Flip the completed state of one problem slot. This only moves the
checkbox; use "grind done" to also record the problem in history.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, slot, err := parseSlotArgs(args)
		if err != nil {
			return err
		}
		eng, cleanup, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := eng.ToggleDailyCompletion(day, slot); err != nil {
			return err
		}
		rec, _ := eng.Daily(day, slot)
		fmt.Printf("%s slot %d-%d\n", ui.Checkbox(rec.Completed), day, slot)
		return nil
	},
}

var doneCmd = &cobra.Command{
	Use:   "done <day> <slot>",
	Short: "Complete a slot and record it in history",
	Long: `Mark a slot completed and log a permanent history entry carrying the
slot's current name, link, notes, and flags. History survives cycle
resets.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, slot, err := parseSlotArgs(args)
		if err != nil {
			return err
		}
		eng, cleanup, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		id, err := eng.MarkSolvedAndPersist(day, slot)
		if err != nil {
			return err
		}
		rec, _ := eng.Daily(day, slot)
		name := rec.Name
		if name == "" {
			name = "slot " + fmt.Sprintf("%d-%d", day, slot)
		}
		fmt.Printf("%s %s\n", ui.RenderPass("Solved:"), name)
		fmt.Printf("  %s\n", ui.RenderMuted(id))
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear <day> <slot>",
	Short: "Wipe a slot back to empty",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, slot, err := parseSlotArgs(args)
		if err != nil {
			return err
		}
		eng, cleanup, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := eng.ClearDailySlot(day, slot); err != nil {
			return err
		}
		fmt.Printf("Cleared slot %d-%d\n", day, slot)
		return nil
	},
}

var setDayCmd = &cobra.Command{
	Use:   "set-day <day>",
	Short: "Move the rotation pointer to another day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid day %q", args[0])
		}
		eng, cleanup, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := eng.SetCurrentDay(day); err != nil {
			return err
		}
		if top, ok := eng.Catalog().ForDay(day); ok {
			fmt.Printf("Current day is now %d: %s\n", day, top.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(doneCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(setDayCmd)
}

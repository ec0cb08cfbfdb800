package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grindlog/grind/internal/engine"
	"github.com/grindlog/grind/internal/ui"
)

// parseTarget distinguishes a daily slot key ("2-3") from a solved
// record id (everything else).
func parseTarget(arg string) (day, slot int, isSlot bool) {
	parts := strings.SplitN(arg, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	day, err1 := strconv.Atoi(parts[0])
	slot, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return day, slot, true
}

var setCmd = &cobra.Command{
	Use:   "set <day>-<slot> <field> <value...>",
	Short: "Edit a field of a daily slot",
	Long: `Set the name, link, or notes of a slot in the current cycle.

Example:
  grind set 1-2 name "Valid Anagram"
  grind set 1-2 notes sort both strings and compare`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, slot, ok := parseTarget(args[0])
		if !ok {
			return fmt.Errorf("invalid slot %q (expected day-slot, e.g. 1-2)", args[0])
		}
		field, err := engine.ParseField(args[1])
		if err != nil {
			return err
		}
		value := strings.Join(args[2:], " ")

		eng, cleanup, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := eng.UpdateDailyField(day, slot, field, value); err != nil {
			return err
		}
		fmt.Printf("Updated %s of slot %d-%d\n", field, day, slot)
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <id> <field> <value...>",
	Short: "Edit a field of a history entry",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		field, err := engine.ParseField(args[1])
		if err != nil {
			return err
		}
		value := strings.Join(args[2:], " ")

		eng, cleanup, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := eng.UpdateSolvedField(args[0], field, value); err != nil {
			return err
		}
		fmt.Printf("Updated %s of %s\n", field, ui.RenderMuted(args[0]))
		return nil
	},
}

var flagCmd = &cobra.Command{
	Use:   "flag <day>-<slot>|<id> <review|tricky>",
	Short: "Toggle the review or tricky marker on a slot or history entry",
	Long: `Toggle a boolean marker. The target is either a daily slot key like
"2-3" or a full history entry id.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		flag, err := engine.ParseFlag(args[1])
		if err != nil {
			return err
		}

		eng, cleanup, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if day, slot, ok := parseTarget(args[0]); ok {
			if err := eng.ToggleDailyFlag(day, slot, flag); err != nil {
				return err
			}
			rec, _ := eng.Daily(day, slot)
			fmt.Printf("Slot %d-%d:%s\n", day, slot, ui.FlagMarks(rec.NeedsReview, rec.IsTricky))
			return nil
		}

		if err := eng.ToggleSolvedFlag(args[0], flag); err != nil {
			return err
		}
		fmt.Printf("Toggled %s on %s\n", flag, ui.RenderMuted(args[0]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(flagCmd)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"weltverbinder/internal/domain"
	"weltverbinder/internal/session"
)

var (
	confirmDelete bool
	energizerPool []string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List classes with stored data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, class := range syncer.ListClasses(cmd.Context()) {
			fmt.Fprintln(cmd.OutOrStdout(), class)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <class>",
	Short: "Print the stored state of a class",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		class, err := classArg(args[0])
		if err != nil {
			return err
		}
		state, err := syncer.Load(cmd.Context(), class)
		if err != nil {
			return err
		}
		return printState(cmd, class, state)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <class>",
	Short: "Print the state of a class every time it changes",
	Long: `Subscribe to a class and print each state as it arrives.
The first line is the current state, or null for a new class.
Stops on SIGINT or SIGTERM.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		class, err := classArg(args[0])
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		unsubscribe := syncer.Subscribe(ctx, class, func(state *domain.SessionState) {
			if err := printState(cmd, class, state); err != nil {
				logger.Error().Err(err).Msg("print state")
			}
		})
		defer unsubscribe()
		<-ctx.Done()
		return nil
	},
}

var completeStepCmd = &cobra.Command{
	Use:   "complete-step <class> <step>",
	Short: "Mark a curriculum step as completed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd, args[0], func(state *domain.SessionState) bool {
			return state.CompleteStep(args[1])
		})
	},
}

var unlockDayCmd = &cobra.Command{
	Use:   "unlock-day <class>",
	Short: "Complete the current day and unlock the next one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd, args[0], func(state *domain.SessionState) bool {
			completed := state.CompleteDay(state.CurrentDay)
			unlocked := state.UnlockNextDay()
			return completed || unlocked
		})
	},
}

var spendEnergyCmd = &cobra.Command{
	Use:   "spend-energy <class> <amount>",
	Short: "Subtract energy, stopping at zero",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := amountArg(args[1])
		if err != nil {
			return err
		}
		return mutate(cmd, args[0], func(state *domain.SessionState) bool {
			before := state.Energy
			state.SpendEnergy(n)
			return state.Energy != before
		})
	},
}

var restoreEnergyCmd = &cobra.Command{
	Use:   "restore-energy <class> <amount>",
	Short: "Add energy, stopping at the maximum",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := amountArg(args[1])
		if err != nil {
			return err
		}
		return mutate(cmd, args[0], func(state *domain.SessionState) bool {
			before := state.Energy
			state.RestoreEnergy(n)
			return state.Energy != before
		})
	},
}

var useEnergizerCmd = &cobra.Command{
	Use:   "use-energizer <class> [energizer]",
	Short: "Record an energizer as used",
	Long: `Record an energizer as used for a class.
Without an energizer argument one unused entry of --from is picked at random.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id string
		if len(args) == 2 {
			id = strings.TrimSpace(args[1])
		} else if len(energizerPool) == 0 {
			return errors.New("name an energizer or pass --from")
		}
		return mutate(cmd, args[0], func(state *domain.SessionState) bool {
			if id == "" {
				next, ok := state.NextEnergizer(energizerPool, nil)
				if !ok {
					return false
				}
				id = next
			}
			return state.UseEnergizer(id)
		})
	},
}

var introSeenCmd = &cobra.Command{
	Use:   "intro-seen <class> <day>",
	Short: "Mark the intro of a day as shown",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := strconv.Atoi(args[1])
		if err != nil || day < 1 || day > domain.TotalDays {
			return fmt.Errorf("day must be between 1 and %d, got %q", domain.TotalDays, args[1])
		}
		return mutate(cmd, args[0], func(state *domain.SessionState) bool {
			return state.MarkDayIntroSeen(day)
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <class>",
	Short: "Delete every record of a class",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		class, err := classArg(args[0])
		if err != nil {
			return err
		}
		if !confirmDelete {
			return errors.New("refusing to delete without --yes")
		}
		if err := syncer.DeleteClass(cmd.Context(), class); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", class)
		return nil
	},
}

func classArg(raw string) (string, error) {
	class := session.SanitizeClassName(raw)
	if class == "" {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidClass, raw)
	}
	return class, nil
}

func amountArg(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("amount must be a non-negative integer, got %q", raw)
	}
	return n, nil
}

// mutate applies change to the stored state of a class, starting from the
// defaults for a new class, and writes it through the debounced saver.
func mutate(cmd *cobra.Command, raw string, change func(*domain.SessionState) bool) error {
	class, err := classArg(raw)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	current, err := syncer.Load(ctx, class)
	if err != nil {
		return err
	}
	state := domain.DefaultSessionState()
	if current != nil {
		state = *current
	}
	if !change(&state) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s unchanged\n", class)
		return nil
	}
	syncer.Save(class, state)
	syncer.Flush(context.WithoutCancel(ctx))
	return printState(cmd, class, &state)
}

func printState(cmd *cobra.Command, class string, state *domain.SessionState) error {
	out := struct {
		Class string               `json:"class"`
		State *domain.SessionState `json:"state"`
	}{Class: class, State: state}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

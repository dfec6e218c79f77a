package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nhle/tasksync/internal/app"
	"github.com/nhle/tasksync/internal/credential"
	"github.com/nhle/tasksync/internal/dispatch"
	"github.com/nhle/tasksync/internal/events"
	"github.com/nhle/tasksync/internal/model"
)

// defaultWait bounds how long a command waits for a task result.
const defaultWait = 2 * time.Minute

var errTimeout = errors.New("timed out waiting for the result; run `tasksync watch` to keep following it")

// await reads events until done reports true, ctx ends, or wait elapses.
func await(ctx context.Context, ch <-chan events.Event, wait time.Duration, done func(events.Event) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return errors.New("event stream closed")
			}
			finished, err := done(ev)
			if finished || err != nil {
				return err
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errTimeout
			}
			return ctx.Err()
		}
	}
}

func newChatCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send a message to the assistant and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openSession()
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			handle, err := rt.engine.SendMessage(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			streamed := false
			return await(cmd.Context(), rt.events, wait, func(ev events.Event) (bool, error) {
				switch ev := ev.(type) {
				case events.ChatChunk:
					if ev.TaskID == handle.ID {
						streamed = true
						fmt.Fprint(out, ev.Text)
					}
				case events.ChatReply:
					if ev.TaskID == handle.ID {
						if streamed {
							fmt.Fprintln(out)
						} else {
							fmt.Fprintln(out, ev.Text)
						}
						return true, nil
					}
				case events.TaskFailed:
					if ev.TaskID == handle.ID {
						return true, errors.New(ev.Message)
					}
				}
				return false, nil
			})
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", defaultWait, "how long to wait for the reply")
	return cmd
}

func newChecklistCmd() *cobra.Command {
	var (
		date  string
		goals []string
		notes string
		wait  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "checklist",
		Short: "Request a checklist for a day and merge it into the local record",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openSession()
			if err != nil {
				return err
			}
			defer rt.Close()

			if date == "" {
				date = time.Now().In(rt.engine.Location()).Format(model.DateLayout)
			}
			day, err := model.ParseDay(date, rt.engine.Location())
			if err != nil {
				return fmt.Errorf("invalid --date %q: %w", date, err)
			}

			handle, err := rt.engine.RequestChecklist(cmd.Context(), dispatch.ChecklistRequest{
				Date:  date,
				Goals: goals,
				Notes: notes,
			})
			if err != nil {
				return err
			}

			err = await(cmd.Context(), rt.events, wait, func(ev events.Event) (bool, error) {
				switch ev := ev.(type) {
				case events.ChecklistUpdated:
					return ev.Date.Equal(day), nil
				case events.TaskFailed:
					if ev.TaskID == handle.ID {
						return true, errors.New(ev.Message)
					}
				}
				return false, nil
			})
			if err != nil {
				return err
			}

			start, end := model.DayRange(day, rt.engine.Location())
			rec, err := rt.store.GetChecklistByDay(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			printChecklist(cmd, rec)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day as YYYY-MM-DD (default today)")
	cmd.Flags().StringArrayVar(&goals, "goal", nil, "a goal for the day (repeatable)")
	cmd.Flags().StringVar(&notes, "notes", "", "notes for the day")
	cmd.Flags().DurationVar(&wait, "wait", defaultWait, "how long to wait for the checklist")
	return cmd
}

func printChecklist(cmd *cobra.Command, rec *model.ChecklistRecord) {
	out := cmd.OutOrStdout()
	if rec == nil {
		fmt.Fprintln(out, "No checklist for that day.")
		return
	}
	fmt.Fprintf(out, "Checklist for %s\n", rec.Date.Format(model.DateLayout))
	if rec.Notes != "" {
		fmt.Fprintf(out, "\n%s\n\n", rec.Notes)
	}
	for _, item := range rec.Items {
		mark := " "
		if item.IsCompleted {
			mark = "x"
		}
		line := fmt.Sprintf("[%s] %s", mark, item.Title)
		if item.Notification != nil {
			line += " @ " + item.Notification.Format("15:04")
		}
		fmt.Fprintln(out, line)
		for _, sub := range item.SubItems {
			mark = " "
			if sub.IsCompleted {
				mark = "x"
			}
			fmt.Fprintf(out, "    [%s] %s\n", mark, sub.Title)
		}
	}
}

func newCheckinCmd() *cobra.Command {
	var (
		date   string
		mood   int
		energy int
		note   string
		wait   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "checkin",
		Short: "Record a mood and energy check-in and print its analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			if mood < 1 || mood > 5 || energy < 1 || energy > 5 {
				return errors.New("--mood and --energy must be between 1 and 5")
			}

			rt, err := openSession()
			if err != nil {
				return err
			}
			defer rt.Close()

			handle, err := rt.engine.CheckIn(cmd.Context(), dispatch.CheckinRequest{
				Date:   date,
				Mood:   mood,
				Energy: energy,
				Note:   note,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			return await(cmd.Context(), rt.events, wait, func(ev events.Event) (bool, error) {
				switch ev := ev.(type) {
				case events.CheckinAnalyzed:
					if ev.TaskID == handle.ID {
						fmt.Fprintln(out, ev.Summary)
						return true, nil
					}
				case events.TaskFailed:
					if ev.TaskID == handle.ID {
						return true, errors.New(ev.Message)
					}
				}
				return false, nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day as YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&mood, "mood", 3, "mood from 1 to 5")
	cmd.Flags().IntVar(&energy, "energy", 3, "energy from 1 to 5")
	cmd.Flags().StringVar(&note, "note", "", "free-form note")
	cmd.Flags().DurationVar(&wait, "wait", defaultWait, "how long to wait for the analysis")
	return cmd
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Resume pending tasks and show results as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openSession()
			if err != nil {
				return err
			}
			defer rt.Close()

			if _, err := rt.engine.Resume(cmd.Context()); err != nil {
				return err
			}

			p := tea.NewProgram(app.New(rt.engine, rt.events), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return err
			}
			return nil
		},
	}
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Store the API token in the system keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(cmd.ErrOrStderr(), "API token: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading token: %w", err)
			}
			tok := strings.TrimSpace(line)
			if tok == "" {
				return errors.New("token must not be empty")
			}
			if err := credential.Set(credential.TokenKey, tok); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Token saved.")
			if os.Getenv(credential.TokenEnv) != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Note: %s is set and takes precedence.\n", credential.TokenEnv)
			}
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the API token from the system keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := credential.Delete(credential.TokenKey); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Token removed.")
			return nil
		},
	}
}

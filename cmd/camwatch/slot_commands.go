package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"camwatch/internal/api"
	"camwatch/internal/ipc"
)

func newRescanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rescan",
		Short: "Re-enumerate camera devices and rebind slots now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Rescan()
				if err != nil {
					return err
				}
				if resp.Error != "" {
					return errors.New(resp.Error)
				}
				out := cmd.OutOrStdout()
				switch resp.Transitions {
				case 0:
					fmt.Fprintln(out, "Rescan complete; no slot changes")
				case 1:
					fmt.Fprintln(out, "Rescan complete; 1 slot changed")
				default:
					fmt.Fprintf(out, "Rescan complete; %d slots changed\n", resp.Transitions)
				}
				return nil
			})
		},
	}
}

func newResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <slot>",
		Short: "Clear a slot that stopped retrying so it opens its camera again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil || index < 0 {
				return fmt.Errorf("invalid slot %q", args[0])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Reset(index)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Slot %d reset (%s)\n", resp.Slot.Index, resp.Slot.Label)
				return nil
			})
		},
	}
}

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List camera device nodes and the slots they are bound to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Devices()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Devices)
				}
				out := cmd.OutOrStdout()
				if len(resp.Devices) == 0 {
					fmt.Fprintln(out, "No camera devices found")
					return nil
				}
				fmt.Fprintln(out, renderDeviceTable(resp.Devices))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print devices as JSON")
	return cmd
}

func renderDeviceTable(devices []api.DeviceView) string {
	rows := make([][]string, 0, len(devices))
	for _, dev := range devices {
		slot := "-"
		if dev.Slot != nil {
			slot = strconv.Itoa(*dev.Slot)
		}
		problem := dev.Problem
		if problem == "" {
			problem = "-"
		}
		rows = append(rows, []string{dev.ID, yesNo(dev.Accessible), slot, problem})
	}
	return renderTable([]column{
		{header: "Device"},
		{header: "Accessible"},
		{header: "Slot", align: alignRight},
		{header: "Problem", maxWidth: 60},
	}, rows)
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent stored health snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.History(limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Snapshots)
				}
				out := cmd.OutOrStdout()
				if len(resp.Snapshots) == 0 {
					fmt.Fprintln(out, "No health snapshots recorded")
					return nil
				}
				fmt.Fprintln(out, renderHistoryTable(resp.Snapshots))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of snapshots to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print snapshots as JSON")
	return cmd
}

var historyStates = []string{"ACTIVE", "OPENING", "STALE", "COOLING_DOWN", "FAILED_PERMANENT", "EMPTY"}

func renderHistoryTable(snaps []api.HealthView) string {
	columns := []column{{header: "Taken At"}, {header: "FPS", align: alignRight}}
	for _, state := range historyStates {
		columns = append(columns, column{header: api.StateLabel(state), align: alignRight})
	}
	rows := make([][]string, 0, len(snaps))
	for _, snap := range snaps {
		fps := formatFPS(snap.Perf.CaptureFPS)
		if snap.Perf.Stressed {
			fps += "*"
		}
		row := []string{snap.TakenAt, fps}
		for _, state := range historyStates {
			row = append(row, strconv.Itoa(snap.Counts[state]))
		}
		rows = append(rows, row)
	}
	return renderTable(columns, rows)
}

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var slot int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.LogTailRequest{Offset: -1, Limit: lines}
			if cmd.Flags().Changed("slot") {
				s := slot
				req.Slot = &s
			}
			return ctx.withClient(func(client *ipc.Client) error {
				return streamLogs(cmd.Context(), client, req, follow, func(line string) {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				})
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().IntVar(&slot, "slot", 0, "Only show lines about this slot")
	return cmd
}

// streamLogs prints the tail described by req and, when follow is set,
// keeps polling from the returned offset until ctx is done.
func streamLogs(ctx context.Context, client *ipc.Client, req ipc.LogTailRequest, follow bool, emit func(string)) error {
	for {
		resp, err := client.LogTail(req)
		if err != nil {
			return err
		}
		for _, line := range resp.Lines {
			emit(line)
		}
		if !follow {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		req.Offset = resp.Offset
		req.Limit = 0
		req.Follow = true
		req.WaitMillis = int((5 * time.Second).Milliseconds())
	}
}

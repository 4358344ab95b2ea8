package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pressurefield/kernel/internal/control"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Args:  cobra.NoArgs,
	Short: "Drive one tick and print the resulting TickComplete summary",
	RunE:  runTick,
}

func init() {
	tickCmd.Flags().Int64("now-ms", 0, "Tick timestamp in epoch milliseconds (defaults to current time)")
}

func runTick(cmd *cobra.Command, args []string) error {
	nowMs, _ := cmd.Flags().GetInt64("now-ms")
	if nowMs == 0 {
		nowMs = time.Now().UnixMilli()
	}

	resp, err := control.DialTick(socketPath, nowMs)
	if err != nil {
		return fmt.Errorf("tick request failed: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("kernel refused tick: %s", resp.Error)
	}

	out, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

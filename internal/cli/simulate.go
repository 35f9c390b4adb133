package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateEventJSON string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-event",
	Short: "注入一条合成事件并打印各机器人权限结果",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateEventJSON == "" {
			return errors.New("--event 必须提供事件 JSON")
		}
		return getApp().SimulateEvent(cmd.Context(), []byte(simulateEventJSON))
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateEventJSON, "event", "", "事件 JSON，例如 {\"type\":\"latency_sample\",\"ts\":\"...\",\"rtt_ms\":20}")
}

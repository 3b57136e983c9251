package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateSymbol string
	simulatePrice  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "用给定价格模拟一次告警评估",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSymbol == "" || simulatePrice == "" {
			return errors.New("--symbol 与 --price 均为必填")
		}

		return getApp().SimulateAlert(cmd.Context(), simulateSymbol, simulatePrice)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "交易对符号，如 BTC")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "模拟价格（十进制字符串）")
}

// Command kernelctl drives a running kernelsim over its control socket.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	socketPath string
	version    = "dev"
)

var rootCmd = &cobra.Command{
	Use:     "kernelctl",
	Short:   "Drive and inspect a running pressure-field kernel",
	Long:    `kernelctl sends control-socket commands to a running kernelsim instance.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/tmp/kernelsim.sock", "Control socket path")
	rootCmd.AddCommand(tickCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Command gpuprocd runs the GPU actor headless: it renders a sequence of
// canvas frames through a selected backend, serves actor metrics and can
// dump the last frame and the script-bound message stream.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	// Link the Vulkan HAL so the "native" backend can open a device.
	_ "github.com/gogpu/wgpu/hal/vulkan"

	_ "github.com/gogpu/gpuproc/backend/native"
	_ "github.com/gogpu/gpuproc/backend/software"
)

// Version is reported by the version command.
const Version = "0.1.0"

// Command is the root command.
var Command = &cobra.Command{
	Use:           "gpuprocd",
	Short:         "headless GPU command-processing actor",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	Command.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	})
}

func main() {
	if err := Command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gpuprocd:", err)
		os.Exit(1)
	}
}

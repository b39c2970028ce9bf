package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bowserlabs/bowsergen/queue"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show system stats for every configured server",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	registry, err := newRegistry(queue.Notifier{})
	if err != nil {
		return err
	}
	defer registry.Close()

	for _, address := range registry.Servers() {
		stats, err := registry.Connection(address).GetSystemStats()
		if err != nil {
			fmt.Printf("%s: unavailable (%v)\n", address, err)
			continue
		}
		fmt.Printf("%s\n", address)
		fmt.Printf("  os: %s  comfyui: %s  python: %s\n",
			stats.System.OS, stats.System.ComfyUIVersion, stats.System.PythonVersion)
		fmt.Printf("  ram: %d/%d MB free\n",
			stats.System.RAMFree/(1<<20), stats.System.RAMTotal/(1<<20))
		for _, device := range stats.Devices {
			fmt.Printf("  device %d: %s (%s) vram %d/%d MB free\n",
				device.Index, device.Name, device.Type,
				device.VRAM_Free/(1<<20), device.VRAM_Total/(1<<20))
		}
	}
	return nil
}

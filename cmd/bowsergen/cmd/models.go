package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bowserlabs/bowsergen/queue"
)

var modelsLoras bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List model files available on the selected server",
	RunE:  runModels,
}

func init() {
	modelsCmd.Flags().BoolVar(&modelsLoras, "loras", false, "list only LoRA models")
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	registry, err := newRegistry(queue.Notifier{})
	if err != nil {
		return err
	}
	defer registry.Close()

	conn := registry.Connection(registry.SelectedServer())

	var names []string
	if modelsLoras {
		names, err = conn.GetAvailableLoras()
	} else {
		names, err = conn.GetAvailableModels()
	}
	if err != nil {
		return err
	}

	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

package main

import (
	"fmt"

	"booth/internal/service/camera"

	"github.com/spf13/cobra"
)

var maxIndex int

var camerasCmd = &cobra.Command{
	Use:   "cameras",
	Short: "Probe local capture devices",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Probing camera indexes 0..%d\n", maxIndex)
		devices := camera.Probe(maxIndex)
		if len(devices) == 0 {
			fmt.Println("No cameras found.")
			return
		}
		for _, d := range devices {
			fmt.Println(d)
		}
	},
}

func init() {
	camerasCmd.Flags().IntVar(&maxIndex, "max", 5, "Highest device index to try")
	rootCmd.AddCommand(camerasCmd)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(testCmd)
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Probe the server with a short-lived connection",
	Run:   RunTestCommand,
}

func RunTestCommand(cmd *cobra.Command, args []string) {
	m := setup()
	if !m.TestConnection(endpointFromFlags()) {
		fmt.Println("Connection failed")
		return
	}
	fmt.Println("Connection OK")
}

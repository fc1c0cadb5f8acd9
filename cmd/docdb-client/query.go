package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(queryCmd)
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Execute a query and print the result",
	Long:  `Connects to the server, executes the given query text and prints the normalized result as JSON.`,
	Args:  cobra.MinimumNArgs(1),
	Run:   RunQueryCommand,
}

func RunQueryCommand(cmd *cobra.Command, args []string) {
	m := setup()

	result := m.Connect(endpointFromFlags())
	if !result.Success {
		fmt.Printf("Connect failed: %s\n", result.Error)
		return
	}
	defer m.Disconnect(result.ConnectionID)

	queryResult := m.ExecuteQuery(result.ConnectionID, strings.Join(args, " "))
	if !queryResult.Success {
		fmt.Printf("Query failed: %s\n", queryResult.Error)
		return
	}

	data, err := json.MarshalIndent(queryResult.Data, "", "  ")
	if err != nil {
		fmt.Printf("Unable to render result: %v\n", err)
		return
	}
	fmt.Println(string(data))
	fmt.Printf("%d documents in %d ms\n", queryResult.DocumentCount, queryResult.ExecutionTime)
}

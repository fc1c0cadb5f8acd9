package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var monitorDuration time.Duration

func init() {
	monitorCmd.Flags().DurationVarP(&monitorDuration, "duration", "d", 30*time.Second, "How long to stream before stopping")
	rootCmd.AddCommand(monitorCmd)
}

var monitorCmd = &cobra.Command{
	Use:   "monitor <command>",
	Short: "Stream server metric snapshots",
	Long: `Switches the connection into monitor mode with the given command and
prints each snapshot until the stream ends or the duration elapses.`,
	Args: cobra.ExactArgs(1),
	Run:  RunMonitorCommand,
}

// consolePrinter 把引擎通知打到标准输出
type consolePrinter struct {
	stopped chan struct{}
}

func (p *consolePrinter) OnStatusChange(connectionID string, status string, errText string) {
	if errText != "" {
		fmt.Printf("[%s] %s: %s\n", connectionID, status, errText)
		return
	}
	fmt.Printf("[%s] %s\n", connectionID, status)
}

func (p *consolePrinter) OnMonitorSnapshot(connectionID string, timestamp time.Time, data interface{}) {
	line, _ := json.Marshal(data)
	fmt.Printf("%s %s\n", timestamp.Format(time.RFC3339), line)
}

func (p *consolePrinter) OnMonitorStopped(connectionID string) {
	select {
	case p.stopped <- struct{}{}:
	default:
	}
}

func RunMonitorCommand(cmd *cobra.Command, args []string) {
	m := setup()
	printer := &consolePrinter{stopped: make(chan struct{}, 1)}
	m.Subscribe(printer)

	result := m.Connect(endpointFromFlags())
	if !result.Success {
		fmt.Printf("Connect failed: %s\n", result.Error)
		return
	}
	defer m.Disconnect(result.ConnectionID)

	if monitorResult := m.StartMonitor(result.ConnectionID, args[0]); !monitorResult.Success {
		fmt.Printf("Start monitor failed: %s\n", monitorResult.Error)
		return
	}

	select {
	case <-printer.stopped:
		return
	case <-time.After(monitorDuration):
	}

	if monitorResult := m.StopMonitor(result.ConnectionID); !monitorResult.Success {
		fmt.Printf("Stop monitor failed: %s\n", monitorResult.Error)
		return
	}

	// 等服务器的 END 控制行确认，等不到就靠 Disconnect 兜底
	select {
	case <-printer.stopped:
	case <-time.After(5 * time.Second):
	}
}

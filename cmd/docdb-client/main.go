package main

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/config"
	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/connection"
	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/event"
	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/logger"
	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/metric"
	"github.com/life-stream-dev/life-stream-go-docdb-client/internal/protocol"
)

var (
	flagName     string
	flagHost     string
	flagPort     int
	flagDatabase string
	flagUsername string
	flagPassword string
)

var rootCmd = &cobra.Command{
	Use:   "docdb-client",
	Short: "Command line front end for the DocBase connection engine",
	Long: `Connects to a DocBase server over its native TCP protocol and runs
queries or streams monitor snapshots. Endpoint flags apply to all commands.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagName, "name", "default", "Profile name for this endpoint")
	rootCmd.PersistentFlags().StringVar(&flagHost, "host", "127.0.0.1", "Server hostname")
	rootCmd.PersistentFlags().IntVar(&flagPort, "port", 7420, "Server port")
	rootCmd.PersistentFlags().StringVar(&flagDatabase, "database", "", "Database name")
	rootCmd.PersistentFlags().StringVar(&flagUsername, "username", "", "User name")
	rootCmd.PersistentFlags().StringVar(&flagPassword, "password", "", "Password")
}

func endpointFromFlags() protocol.Endpoint {
	return protocol.Endpoint{
		Name:     flagName,
		Host:     flagHost,
		Port:     flagPort,
		Database: flagDatabase,
		Username: flagUsername,
		Password: flagPassword,
	}
}

// setup 按 配置 → 日志 → 清理器 → 引擎 的顺序完成初始化
func setup() *connection.Manager {
	_, err := config.ReadConfig()
	if err != nil {
		logger.FatalF("Error occured while reading config %v", err)
		os.Exit(1)
	}
	loggerCallback := logger.Init()
	logger.Debug("Application initializing...")
	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)
	_ = metric.Default.Register(prometheus.DefaultRegisterer)
	return connection.NewManagerFromConfig()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/arun84-eng/FlowBit/internal/cli"
	httpserver "github.com/arun84-eng/FlowBit/internal/http"
	"github.com/arun84-eng/FlowBit/internal/log"
	internal_storage "github.com/arun84-eng/FlowBit/internal/storage"
	"github.com/arun84-eng/FlowBit/pkg/storage"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "flowbit"}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the FlowBit orchestration server",
	Run: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil {
			log.GetLogger().Debugf("No .env file found: %v", err)
		}

		port, _ := cmd.Flags().GetString("port")
		dbConnStr, _ := cmd.Flags().GetString("db")
		statePath, _ := cmd.Flags().GetString("scheduler-state")

		var store storage.Store
		if dbConnStr == "" {
			log.GetLogger().Infof("No database configured, using in-memory store")
			store = storage.NewMemStore()
		} else {
			pg, err := internal_storage.InitStore(dbConnStr)
			if err != nil {
				log.GetLogger().Errorf("Failed to initialize store: %v", err)
				os.Exit(1)
			}
			store = pg
		}
		defer store.Close()

		if err := httpserver.StartServer(context.Background(), port, store, statePath); err != nil {
			log.GetLogger().Errorf("Server failed: %v", err)
			os.Exit(1)
		}
	},
}

func main() {
	rootCmd.PersistentFlags().String("db", os.Getenv("DATABASE_URL"), "Database connection string (empty for in-memory store)")
	serveCmd.Flags().String("port", "8080", "Port to listen on")
	serveCmd.Flags().String("scheduler-state", "cron-jobs.json", "Path of the persisted active-schedule set")
	rootCmd.AddCommand(serveCmd)
	cli.SetupCLI(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

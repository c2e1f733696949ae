package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quillfs/quill/pkg/config"
	"github.com/quillfs/quill/pkg/log"
	"github.com/quillfs/quill/pkg/nameserver"
	"github.com/quillfs/quill/pkg/storageserver"
)

var version = "0.1.0"

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "quill",
		Short: "Quill distributed file service",
		Long:  "Quill is a small distributed file service: a coordinating name server plus storage servers with sentence-level write locking.",
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	rootCmd.AddCommand(nameServerCmd())
	rootCmd.AddCommand(storageCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging(cfg *config.Config) {
	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
}

func nameServerCmd() *cobra.Command {
	var listenAddr, dataDir string

	cmd := &cobra.Command{
		Use:   "nameserver",
		Short: "Run the name server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.NameServer.ListenAddr = listenAddr
			}
			if dataDir != "" {
				cfg.NameServer.DataDir = dataDir
			}
			initLogging(cfg)

			srv, err := nameserver.New(cfg.NameServer, true)
			if err != nil {
				return err
			}
			if err := srv.Start(); err != nil {
				return err
			}

			waitForSignal()
			log.Info("shutting down name server")
			srv.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "state directory (overrides config)")
	return cmd
}

func storageCmd() *cobra.Command {
	var id, listenAddr, nmAddr, dataDir string

	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Run a storage server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if id != "" {
				cfg.Storage.ID = id
			}
			if listenAddr != "" {
				cfg.Storage.ListenAddr = listenAddr
			}
			if nmAddr != "" {
				cfg.Storage.NMAddr = nmAddr
			}
			if dataDir != "" {
				cfg.Storage.DataDir = dataDir
			}
			if cfg.Storage.ID == "" {
				return fmt.Errorf("storage server id required (--id or QUILL_STORAGE_ID)")
			}
			initLogging(cfg)

			store, err := storageserver.NewFileStore(cfg.Storage.DataDir)
			if err != nil {
				return err
			}
			srv := storageserver.New(cfg.Storage, store)
			if err := srv.Start(); err != nil {
				return err
			}

			waitForSignal()
			log.Info("shutting down storage server")
			srv.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "unique storage server id")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "client listen address (overrides config)")
	cmd.Flags().StringVar(&nmAddr, "nm", "", "name server address (overrides config)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("quill %s\n", version)
		},
	}
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

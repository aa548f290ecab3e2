package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	serverrun "github.com/while-basic/celaya-parachain-sub004/internal/cmd/server"
	cfgpkg "github.com/while-basic/celaya-parachain-sub004/internal/config"
	pebblestore "github.com/while-basic/celaya-parachain-sub004/internal/storage/pebble"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mqd",
		Short: "mqd message queue daemon CLI",
		Long:  "mqd is a weight-bounded multi-origin message queue daemon. This CLI manages the server and basic operations.",
	}

	rootCmd.AddCommand(serverCommand())
	rootCmd.AddCommand(enqueueCommand())
	rootCmd.AddCommand(serviceCommand())
	rootCmd.AddCommand(footprintCommand())
	rootCmd.AddCommand(overweightCommand())
	rootCmd.AddCommand(eventsCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serverCommand() *cobra.Command {
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	startCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the mqd server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			cfg, err := cfgpkg.Load(cfgPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if httpAddr != "" {
				cfg.HTTP.Addr = httpAddr
			}
			if fsyncMode != "" {
				cfg.Fsync = fsyncMode
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if logFormat != "" {
				cfg.Log.Format = logFormat
			}
			mode := pebblestore.ParseFsyncMode(cfg.Fsync)
			if mode == pebblestore.FsyncModeUnspecified {
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:       cfg.DataDir,
				HTTPAddr:      cfg.HTTP.Addr,
				Fsync:         mode,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
				Config:        cfg,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	startCmd.Flags().String("config", os.Getenv("MQD_CONFIG"), "Config file (JSON or YAML)")
	startCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	startCmd.Flags().String("http", "", "HTTP listen address")
	startCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	startCmd.Flags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms (default 5)")
	startCmd.Flags().String("log-level", os.Getenv("MQD_LOG_LEVEL"), "Log level: debug|info|warn|error")
	startCmd.Flags().String("log-format", os.Getenv("MQD_LOG_FORMAT"), "Log format: text|json (default text)")
	serverCmd.AddCommand(startCmd)
	return serverCmd
}

func enqueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a message for an origin",
		RunE: func(cmd *cobra.Command, args []string) error {
			origin, _ := cmd.Flags().GetString("origin")
			payload, _ := cmd.Flags().GetString("payload")
			body := map[string]any{"origin": origin, "payload": []byte(payload)}
			return postJSON("/v1/enqueue", body)
		},
	}
	cmd.Flags().String("origin", "", "Origin identifier")
	cmd.Flags().String("payload", "", "Message payload")
	_ = cmd.MarkFlagRequired("origin")
	return cmd
}

func serviceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Run one service pass against a weight budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, _ := cmd.Flags().GetUint64("weight")
			return postJSON("/v1/service", map[string]any{"weight": w})
		},
	}
	cmd.Flags().Uint64("weight", 0, "Weight budget (0 uses the server default)")
	return cmd
}

func footprintCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "footprint",
		Short: "Show an origin's queued and parked footprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			origin, _ := cmd.Flags().GetString("origin")
			return getJSON("/v1/footprint?origin=" + origin)
		},
	}
	cmd.Flags().String("origin", "", "Origin identifier")
	_ = cmd.MarkFlagRequired("origin")
	return cmd
}

func overweightCommand() *cobra.Command {
	owCmd := &cobra.Command{Use: "overweight", Short: "Overweight store operations"}

	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List parked overweight messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/v1/overweight")
		},
	}

	execCmd := &cobra.Command{
		Use:   "exec",
		Short: "Execute a parked message against its own budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, _ := cmd.Flags().GetString("handle")
			w, _ := cmd.Flags().GetUint64("weight")
			return postJSON("/v1/overweight/execute", map[string]any{"handle": handle, "weight": w})
		},
	}
	execCmd.Flags().String("handle", "", "Overweight handle")
	execCmd.Flags().Uint64("weight", 0, "Weight budget (0 uses the server default)")
	_ = execCmd.MarkFlagRequired("handle")

	discardCmd := &cobra.Command{
		Use:   "discard",
		Short: "Discard a parked message without executing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, _ := cmd.Flags().GetString("handle")
			return postJSON("/v1/overweight/discard", map[string]any{"handle": handle})
		},
	}
	discardCmd.Flags().String("handle", "", "Overweight handle")
	_ = discardCmd.MarkFlagRequired("handle")

	owCmd.AddCommand(lsCmd, execCmd, discardCmd)
	return owCmd
}

func eventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Read the queue event journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetUint64("from")
			limit, _ := cmd.Flags().GetInt("limit")
			return getJSON(fmt.Sprintf("/v1/events?from=%d&limit=%d", from, limit))
		},
	}
	cmd.Flags().Uint64("from", 0, "First sequence to read")
	cmd.Flags().Int("limit", 100, "Maximum entries to return (0 for all)")
	return cmd
}

func postJSON(path string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(apiURL()+path, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func getJSON(path string) error {
	resp, err := http.Get(apiURL() + path)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	defer resp.Body.Close()
	fmt.Println("status:", resp.Status)
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(out) > 0 {
		fmt.Println(string(bytes.TrimSpace(out)))
	}
	return nil
}

func apiURL() string {
	if v := os.Getenv("MQD_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}

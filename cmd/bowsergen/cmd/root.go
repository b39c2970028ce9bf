package cmd

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bowserlabs/bowsergen/queue"
)

var (
	cfgFile       string
	serverFlags   []string
	outputRoot    string
	perfFile      string
	metricsListen string
	verbose       bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "bowsergen",
	Short: "Job queue driver for ComfyUI compute servers",
	Long: `bowsergen submits workflow jobs to one or more ComfyUI servers,
tracks their execution over the server push channel, and persists the
generated images and videos with their generation metadata.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.bowsergen/config.yaml)")
	rootCmd.PersistentFlags().StringSliceVar(&serverFlags, "server", nil, "server address as host:port (repeatable)")
	rootCmd.PersistentFlags().StringVar(&outputRoot, "output-root", "", "directory for generated outputs")
	rootCmd.PersistentFlags().StringVar(&perfFile, "performance-file", "", "persisted performance model path")
	rootCmd.PersistentFlags().StringVar(&metricsListen, "metrics-listen", "", "address to expose prometheus metrics on (empty disables)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(filepath.Join(home, ".bowsergen"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("bowsergen")
	viper.AutomaticEnv()

	viper.SetDefault("output_root", "output")

	if err := viper.ReadInConfig(); err == nil {
		if len(serverFlags) == 0 {
			serverFlags = viper.GetStringSlice("servers")
		}
		if outputRoot == "" {
			outputRoot = viper.GetString("output_root")
		}
		if perfFile == "" {
			perfFile = viper.GetString("performance_file")
		}
		if metricsListen == "" {
			metricsListen = viper.GetString("metrics_listen")
		}
	}
	if outputRoot == "" {
		outputRoot = viper.GetString("output_root")
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// newRegistry connects to every configured server and returns the
// registry driving them.
func newRegistry(notifier queue.Notifier) (*queue.ServerRegistry, error) {
	if len(serverFlags) == 0 {
		return nil, fmt.Errorf("no servers configured; use --server or the servers config key")
	}

	registry := queue.NewServerRegistry(notifier)
	if perfFile != "" {
		if err := registry.LoadPerformance(perfFile); err != nil {
			return nil, fmt.Errorf("loading performance data: %w", err)
		}
	}

	for _, address := range serverFlags {
		host, port, err := splitServerAddress(address)
		if err != nil {
			return nil, err
		}
		if err := registry.AddServer(host, port, outputRoot); err != nil {
			return nil, err
		}
	}

	if metricsListen != "" {
		go serveMetrics(metricsListen)
	}

	return registry, nil
}

func splitServerAddress(address string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, fmt.Errorf("invalid server address %q: %w", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid server port in %q: %w", address, err)
	}
	return host, port, nil
}

func serveMetrics(listen string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("Serving metrics", "listen", listen)
	if err := http.ListenAndServe(listen, mux); err != nil {
		slog.Error("Metrics listener", "error", err)
	}
}

package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/cookies"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/infrastructure/server"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/shared/paths"
)

var (
	configFile string
	cookieJar  string
	host       string
	port       string
	dev        bool
)

var rootCmd = &cobra.Command{
	Use:           "bridge",
	Short:         "AgentOS fetch bridge",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge API, streaming endpoint and CORS proxy",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var cookiesCmd = &cobra.Command{
	Use:   "cookies <url>",
	Short: "Print the Cookie header stored for a URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runCookies,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file overlaid on the environment")
	rootCmd.PersistentFlags().StringVar(&cookieJar, "cookie-jar", "", "Cookie jar file (default: data dir)")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	serveCmd.Flags().StringVar(&host, "host", "", "Listen host")
	serveCmd.Flags().StringVar(&port, "port", "", "Listen port")
	serveCmd.Flags().BoolVar(&dev, "dev", false, "Development logging")

	rootCmd.AddCommand(serveCmd, cookiesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if cookieJar != "" {
		cfg.Cookies.Path = cookieJar
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != "" {
		cfg.Server.Port = port
	}
	if dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

func runCookies(cmd *cobra.Command, args []string) error {
	u, err := url.Parse(args[0])
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("invalid url %q", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := cfg.Cookies.Path
	if path == "" {
		if path, err = paths.CookieJar(); err != nil {
			return err
		}
	}

	value, ok := cookies.Open(path).CookieHeader(u)
	if !ok {
		return fmt.Errorf("no cookies for %s", u)
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

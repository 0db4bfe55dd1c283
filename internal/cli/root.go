// Package cli is the netspeed command tree.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rudransh-shrivastava/netspeed/internal/logger"
	"github.com/spf13/cobra"
)

var (
	logLevel string
	noColor  bool
)

var rootCmd = &cobra.Command{
	Use:   "netspeed",
	Short: "measure TCP and UDP throughput on a local network",
	Long: `netspeed measures throughput between a server and its clients over TCP and UDP.
Servers broadcast offers on the local network; clients pick one up, run any number
of concurrent transfers against it and report time, speed and UDP packet loss.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	log := logger.NewCLILogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		log.Fatal(err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(serversCmd)
}

// newLogger builds the process logger from the persistent flags.
func newLogger() (*slog.Logger, error) {
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	color := !noColor && logger.IsTerminal(os.Stderr)
	log := slog.New(logger.NewPrettyHandler(os.Stderr, level, color))
	slog.SetDefault(log)
	return log, nil
}

func colorOutput(f *os.File) bool {
	return !noColor && logger.IsTerminal(f)
}

// writerColor reports whether w is a terminal that should get colors.
func writerColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && colorOutput(f)
}

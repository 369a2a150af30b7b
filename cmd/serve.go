// Copyright © 2024 The zs-debug-adapter authors

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/warmthdawn/zs-debug-adapter/debugger/dapserver"
	"github.com/warmthdawn/zs-debug-adapter/jdi"
)

const defaultPort = 9866

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the DAP server",
	Long: `Serve the Debug Adapter Protocol to editors.

Transport modes:
  --port N     Listen for DAP clients on TCP port N (default: 9866). Every
               accepted connection gets an independent debug session.
  --stdio      Use stdin/stdout for DAP communication (for editors that
               launch the debug adapter as a child process). Log output is
               sent to the client as console output.

Every flag can also be set in the config file or through the environment,
for example ZSDAP_PORT=9000.

Examples:
  zs-debug-adapter serve                        Serve on TCP port 9866
  zs-debug-adapter serve --port 9000            Serve on TCP port 9000
  zs-debug-adapter serve --stdio                Serve on stdin/stdout
  zs-debug-adapter serve --log-level debug      Log protocol details`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := serveOptionsFromConfig(viper.GetViper())
		if err != nil {
			return err
		}
		return runServe(opts, os.Stdin, os.Stdout, os.Stderr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Bool("stdio", false,
		"Use stdin/stdout for DAP communication")
	serveCmd.Flags().Int("port", defaultPort,
		"TCP port for the DAP server")
	serveCmd.Flags().String("log-level", "info",
		`Log level: "trace", "debug", "info", "warn" or "error"`)
	serveCmd.Flags().Int("max-value-length", dapserver.DefaultMaxValueLength,
		"Truncate variable values longer than this (0 disables truncation)")
	serveCmd.Flags().String("transport", jdi.DefaultTransport,
		"Runtime transport used by attach requests that do not name one")

	for _, name := range []string{"stdio", "port", "log-level", "max-value-length", "transport"} {
		if err := viper.BindPFlag(name, serveCmd.Flags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}

type serveOptions struct {
	Stdio          bool
	Port           int
	LogLevel       logrus.Level
	MaxValueLength int
	Transport      string
}

func serveOptionsFromConfig(v *viper.Viper) (serveOptions, error) {
	level, err := logrus.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return serveOptions{}, errors.Wrap(err, "invalid log-level")
	}
	opts := serveOptions{
		Stdio:          v.GetBool("stdio"),
		Port:           v.GetInt("port"),
		LogLevel:       level,
		MaxValueLength: v.GetInt("max-value-length"),
		Transport:      v.GetString("transport"),
	}
	if !opts.Stdio && (opts.Port <= 0 || opts.Port > 65535) {
		return serveOptions{}, errors.Errorf("invalid port %d", opts.Port)
	}
	return opts, nil
}

// newServer builds the logger and the server for opts. In stdio mode the
// logger writes nowhere but to the client, since stdout carries the
// protocol.
func newServer(opts serveOptions, stderr io.Writer) (*dapserver.Server, *logrus.Logger) {
	log := logrus.New()
	log.SetLevel(opts.LogLevel)
	log.SetOutput(stderr)

	serverOpts := []dapserver.Option{
		dapserver.WithLogger(log),
		dapserver.WithMaxValueLength(opts.MaxValueLength),
		dapserver.WithTransport(opts.Transport),
	}
	if opts.Stdio {
		log.SetOutput(io.Discard)
		hook := dapserver.NewOutputHook()
		log.AddHook(hook)
		serverOpts = append(serverOpts, dapserver.WithOutputHook(hook))
	}
	return dapserver.New(serverOpts...), log
}

func runServe(opts serveOptions, stdin io.Reader, stdout, stderr io.Writer) error {
	srv, log := newServer(opts, stderr)
	if transports := jdi.Transports(); len(transports) == 0 {
		log.Warn("No runtime transports are registered, attach requests will fail")
	}
	if opts.Stdio {
		log.Info("Serving DAP on stdio")
		return srv.ServeStdio(stdin, stdout)
	}
	return srv.ServeTCP(fmt.Sprintf("localhost:%d", opts.Port))
}

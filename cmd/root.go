/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	serial "github.com/allbin/go-portsh"
	"github.com/allbin/go-portsh/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	logger  = logging.Discard()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "portsh",
	Short: "Talk to devices over a serial line",
	Long: `portsh connects to devices on a serial line.

It can act as a plain terminal (connect), or log in to the shell on the
other end and run a single command there with its stdin, stdout, stderr
and exit status carried back over the line (exec).

Every flag can also be set in the config file or as PORTSH_<FLAG> in the
environment, for example PORTSH_SPEED=9600 or PORTSH_LOCK_DIR=/tmp.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		logger = logging.New(os.Stderr, viper.GetBool("verbose"))
		if f := viper.ConfigFileUsed(); f != "" {
			logger.Debug("using config file", "path", f)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var status *exitStatus
	if !errors.As(err, &status) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/portsh/config.yaml)")
	rootCmd.PersistentFlags().String("lock-dir", "", "directory for LCK.. files (default /var/lock, else /tmp)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log debug messages")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if dir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(dir, "portsh"))
		}
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("PORTSH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: could not read config: %v\n", err)
		}
	}
}

// openPort opens and locks a device with the configured lock directory
func openPort(device string, opts ...serial.Option) (serial.Port, error) {
	opts = append([]serial.Option{serial.WithLock()}, opts...)
	if dir := viper.GetString("lock-dir"); dir != "" {
		opts = append(opts, serial.WithLockDir(dir))
	}
	port, err := serial.Open(device, opts...)
	if err != nil {
		return nil, err
	}
	logger.Debug("port opened", slog.String("device", port.Name()))
	return port, nil
}

// closePort closes p and logs rather than returns a failure, so the
// command's own error is the one reported
func closePort(p serial.Port) {
	if err := p.Drain(); err != nil {
		logger.Debug("draining port", "device", p.Name(), "error", err)
	}
	if err := p.Close(); err != nil {
		logger.Warn("closing port", "device", p.Name(), "error", err)
	}
}

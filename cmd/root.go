// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tactility/pkg/config"
	"github.com/Thermoquad/tactility/pkg/tactility"
)

var (
	// Serial connection flags
	portName    string
	baudRate    int
	readTimeout time.Duration

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Session flags
	configPath     string
	verbose        bool
	initDelay      time.Duration
	commandLogPath string
	logOutput      string

	// Event publisher flags
	mqttBroker string
	mqttTopic  string
)

// cfg is the loaded configuration with explicitly set flags applied
var cfg *config.Config

// logFile is the --log-output target, closed after the command
var logFile *os.File

var rootCmd = &cobra.Command{
	Use:   "tactility",
	Short: "Tactility Electrotactile Stimulator Tool",
	Long: `Tactility - A CLI tool for driving a Tactility electrotactile stimulator.

Runs the device handshake, defines virtual electrodes, plays single
stimulations and timed spatio-temporal patterns, and provides an
interactive control panel.

Connection modes:
  Serial:    --port /dev/rfcomm0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

Electrodes, connectors and patterns come from the YAML file given with
--config. Without one, a finger matrix on the index finger with a four
step "sweep" pattern is assumed.

For WebSocket authentication, the password is read from the TACTILITY_PASSWORD
environment variable, or prompted interactively if not set.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logFile != nil {
			return logFile.Close()
		}
		return nil
	},
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", tactility.DefaultBaudRate, "Baud rate (serial only)")
	rootCmd.PersistentFlags().DurationVar(&readTimeout, "read-timeout", tactility.DefaultReadTimeout, "Timeout for one response line")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Session flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Read a response after every command and log at debug level")
	rootCmd.PersistentFlags().DurationVar(&initDelay, "init-delay", tactility.DefaultInitDelay, "Delay between handshake steps")
	rootCmd.PersistentFlags().StringVar(&commandLogPath, "command-log", "", "Write the command log as CBOR to this file on close")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "", "Write log records to this file instead of stderr")

	// Event publisher flags
	rootCmd.PersistentFlags().StringVar(&mqttBroker, "mqtt-broker", "", "Publish session events to this MQTT broker (tcp://host:1883)")
	rootCmd.PersistentFlags().StringVar(&mqttTopic, "mqtt-topic", "", "MQTT topic for session events")
}

// Execute runs the root command. SIGINT and SIGTERM cancel its context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// loadConfig reads --config and lets explicitly set flags override it
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default()
	}

	flags := cmd.Flags()
	if flags.Changed("port") || cfg.Transport.Port == "" {
		cfg.Transport.Port = portName
	}
	if flags.Changed("baud") {
		cfg.Transport.Baud = baudRate
	}
	if flags.Changed("read-timeout") {
		cfg.Transport.ReadTimeout = readTimeout
	}
	if flags.Changed("url") || cfg.Transport.URL == "" {
		cfg.Transport.URL = wsURL
	}
	if flags.Changed("username") || cfg.Transport.Username == "" {
		cfg.Transport.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.Transport.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("verbose") {
		cfg.Session.Verbose = verbose
	}
	if flags.Changed("init-delay") {
		cfg.Session.InitDelay = initDelay
	}
	if flags.Changed("command-log") || cfg.Session.CommandLog == "" {
		cfg.Session.CommandLog = commandLogPath
	}
	if flags.Changed("mqtt-broker") || cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = mqttBroker
	}
	if flags.Changed("mqtt-topic") {
		cfg.MQTT.Topic = mqttTopic
	}

	return setupLogging(cmd.Name() == "control")
}

// setupLogging installs the default slog logger. The control panel owns
// the terminal, so without --log-output its records are discarded.
func setupLogging(ownsTerminal bool) error {
	var out io.Writer = os.Stderr
	if ownsTerminal {
		out = io.Discard
	}
	if logOutput != "" {
		f, err := os.OpenFile(logOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log output: %w", err)
		}
		logFile = f
		out = f
	}

	level := slog.LevelInfo
	if cfg.Session.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
	return nil
}

package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/taut-ln/taut/src/taut"
)

// NewRunCmd returns the command that starts the daemon
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run the rebalancing daemon",
		PreRunE: loadConfig,
		RunE:    runTaut,
	}
	AddRunFlags(cmd)
	return cmd
}

func runTaut(cmd *cobra.Command, args []string) error {
	engine := taut.NewTaut(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		engine.Shutdown()
	}()

	engine.Run()

	return nil
}

// AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("moniker", _config.Moniker, "Friendly name for this daemon")
	cmd.Flags().String("secret", _config.Secret, "Cluster shared secret")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port; one port per lightning node, counting up")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for the overlay")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP timeout")
	cmd.Flags().Duration("keepalive", _config.KeepAlivePeriod, "TCP keepalive period")
	cmd.Flags().Duration("dial-interval", _config.DialInterval, "Time between redial attempts")
	cmd.Flags().Duration("invoice-lifespan", _config.InvoiceLifespan, "How long rebalance invoices stay payable")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", _config.NoService, "Disable the HTTP service")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := bindFlagsLoadViper(cmd); err != nil {
		return err
	}

	_config.Logger().WithFields(logrus.Fields{
		"DataDir":         _config.DataDir,
		"BindAddr":        _config.BindAddr,
		"AdvertiseAddr":   _config.AdvertiseAddr,
		"ServiceAddr":     _config.ServiceAddr,
		"NoService":       _config.NoService,
		"LogLevel":        _config.LogLevel,
		"Moniker":         _config.Moniker,
		"TCPTimeout":      _config.TCPTimeout,
		"KeepAlivePeriod": _config.KeepAlivePeriod,
		"DialInterval":    _config.DialInterval,
		"InvoiceLifespan": _config.InvoiceLifespan,
		"LightningNodes":  len(_config.LightningNodes),
	}).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/taut.toml (.json, .yaml also work)
	viper.SetConfigName("taut")
	viper.AddConfigPath(_config.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}

// Package config defines the configuration of a taut process and the logger
// it writes to.
package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/taut-ln/taut/src/common"
	"github.com/taut-ln/taut/src/lightning"
	"github.com/taut-ln/taut/src/settings"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerDir is the default name of the folder containing the
	// audit ledgers
	DefaultBadgerDir = "audit_db"

	// DefaultPeersFile is the name of the address book file
	DefaultPeersFile = "peers.json"
)

// Default configuration values.
const (
	DefaultLogLevel        = "debug"
	DefaultBindAddr        = "127.0.0.1:1337"
	DefaultServiceAddr     = "127.0.0.1:8000"
	DefaultTCPTimeout      = 1000 * time.Millisecond
	DefaultKeepAlivePeriod = 5000 * time.Millisecond
	DefaultDialInterval    = 30000 * time.Millisecond
	DefaultInvoiceLifespan = 30 * time.Second
	DefaultMoniker         = "taut"
	DefaultEventLog        = "events"
	DefaultTransactionLog  = "transactions"
)

// AuditConfig configures the audit trail.
type AuditConfig struct {
	// EventLog is the name of the event ledger.
	EventLog string `mapstructure:"eventlog"`

	// TransactionLog is the name of the transaction ledger.
	TransactionLog string `mapstructure:"transactionlog"`

	// Storage is the directory holding the ledgers. A relative path is
	// resolved against the datadir.
	Storage string `mapstructure:"storage"`

	// LogFile mirrors the log stream to a file. A relative path is resolved
	// against the datadir.
	LogFile string `mapstructure:"logfile"`

	// Verbose attaches the (masked) event data to screen log lines.
	Verbose bool `mapstructure:"verbose"`

	// ShouldMask lists the event data keys whose values are masked before
	// they reach any sink.
	ShouldMask []string `mapstructure:"shouldmask"`
}

// LimitsConfig holds the cascading rebalance settings: one base set and any
// number of id-scoped override sets, keyed by node alias or channel id.
type LimitsConfig struct {
	BaseSettings map[string]interface{}   `mapstructure:"basesettings"`
	IDSettings   []map[string]interface{} `mapstructure:"idsettings"`
}

// Config contains all the configuration properties of a taut process.
type Config struct {
	// DataDir is the top-level directory containing configuration and data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// BindAddr is the local address:port where this process talks to its
	// peers. When several lightning nodes are managed, each gets a
	// consecutive port starting here.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// Moniker defines the friendly name of this process
	Moniker string `mapstructure:"moniker"`

	// Secret is the cluster's shared secret. Every member of the cluster
	// must hold the same value; it never travels over the wire.
	Secret string `mapstructure:"secret"`

	// TCPTimeout bounds connection handshakes and individual writes.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// KeepAlivePeriod is the TCP keepalive interval on peer connections.
	KeepAlivePeriod time.Duration `mapstructure:"keepalive"`

	// DialInterval is how often unconnected address book entries are
	// redialed.
	DialInterval time.Duration `mapstructure:"dial-interval"`

	// InvoiceLifespan is how long rebalance invoices stay payable.
	InvoiceLifespan time.Duration `mapstructure:"invoice-lifespan"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// Audit configures the audit trail.
	Audit AuditConfig `mapstructure:"audit"`

	// LightningNodes selects and authenticates the managed lightning nodes.
	LightningNodes []lightning.Credentials `mapstructure:"lightningnodes"`

	// Limits parameterises the rebalance engine.
	Limits LimitsConfig `mapstructure:"limits"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:         DefaultDataDir(),
		LogLevel:        DefaultLogLevel,
		BindAddr:        DefaultBindAddr,
		ServiceAddr:     DefaultServiceAddr,
		Moniker:         DefaultMoniker,
		TCPTimeout:      DefaultTCPTimeout,
		KeepAlivePeriod: DefaultKeepAlivePeriod,
		DialInterval:    DefaultDialInterval,
		InvoiceLifespan: DefaultInvoiceLifespan,
		Audit: AuditConfig{
			EventLog:       DefaultEventLog,
			TransactionLog: DefaultTransactionLog,
			Storage:        DefaultBadgerDir,
			ShouldMask:     []string{"invoice", "topic", "secret"},
		},
		Limits: LimitsConfig{
			BaseSettings: DefaultBaseSettings(),
		},
	}

	return config
}

// DefaultBaseSettings returns the rebalance settings that apply when neither
// a node alias nor a channel id overrides them.
func DefaultBaseSettings() map[string]interface{} {
	return map[string]interface{}{
		"refreshRate":              60,
		"balancePoint":             0.5,
		"deadzone":                 0.05,
		"maxTransactionSize":       250000,
		"minTimeBetweenPayments":   "10m",
		"limitsPeriod":             "1d",
		"useRollingLimitsPeriod":   false,
		"maxTransactionsPerPeriod": 4,
		"maxAmountPerPeriod":       1000000,
	}
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// StorageDir returns the directory holding the audit ledgers.
func (c *Config) StorageDir() string {
	if filepath.IsAbs(c.Audit.Storage) {
		return c.Audit.Storage
	}
	return filepath.Join(c.DataDir, c.Audit.Storage)
}

// LedgerPath returns the full path of one named ledger. Several lightning
// nodes in one process each get their own ledgers, suffixed by moniker.
func (c *Config) LedgerPath(name string) string {
	return filepath.Join(c.StorageDir(), name)
}

// Resolver builds the settings cascade from the limits configuration.
func (c *Config) Resolver() *settings.Resolver {
	resolver := settings.New(settings.Values(c.Limits.BaseSettings))

	for _, item := range c.Limits.IDSettings {
		id, _ := item["id"].(string)

		values := settings.Values{}
		for k, v := range item {
			if k == "id" {
				continue
			}
			values[k] = v
		}

		resolver.AddScoped(settings.Scoped{ID: id, Values: values})
	}

	return resolver
}

// Logger returns a formatted logrus Entry, with prefix set to "taut". When a
// log file is configured, the stream is mirrored there.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.Audit.LogFile != "" {
			path := c.Audit.LogFile
			if !filepath.IsAbs(path) {
				path = filepath.Join(c.DataDir, path)
			}

			c.logger.Hooks.Add(lfshook.NewHook(
				lfshook.PathMap{
					logrus.DebugLevel: path,
					logrus.InfoLevel:  path,
					logrus.WarnLevel:  path,
					logrus.ErrorLevel: path,
				},
				&logrus.TextFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "taut")
}

// DefaultDataDir return the default directory name for top-level taut config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Taut")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Taut")
		} else {
			return filepath.Join(home, ".taut")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}

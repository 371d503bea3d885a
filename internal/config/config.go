package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/tcfw/baals/pkg/types"
)

// Precedence: flags (bound by the CLI) > environment > file > defaults.
const (
	Cfg_dataDir = "datadir"
	Cfg_verbose = "verbose"

	Cfg_node_keyFile        = "node.key"
	Cfg_node_signers        = "node.signers"
	Cfg_node_blockInterval  = "node.block_interval"
	Cfg_node_blockGasLimit  = "node.block_gas_limit"
	Cfg_node_blockSizeLimit = "node.block_size_limit"

	envHome   = "BAALS_HOME"
	envConfig = "BAALS_CONFIG"
)

var defaults = map[string]interface{}{
	Cfg_verbose:             false,
	Cfg_node_blockInterval:  5 * time.Second,
	Cfg_node_blockGasLimit:  uint64(50_000_000),
	Cfg_node_blockSizeLimit: 4 << 20,
}

func init() {
	for k, v := range defaults {
		viper.SetDefault(k, v)
	}
}

// Home returns the data directory root: BAALS_HOME if set, otherwise
// ~/.baals.
func Home() string {
	if h := os.Getenv(envHome); h != "" {
		return h
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".baals"
	}
	return filepath.Join(home, ".baals")
}

func GetConfig() (*Config, error) {
	viper.SetConfigType("yaml")

	if cf := os.Getenv(envConfig); cf != "" {
		viper.SetConfigFile(cf)
	} else {
		viper.SetConfigName("baals")
		viper.AddConfigPath("/etc/baals/")
		viper.AddConfigPath(Home())
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("BAALS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logrus.New().Warnf("no config found")
		} else {
			return nil, errors.Wrap(err, "reading config file")
		}
	}

	c := &Config{}

	var err error
	c.node, err = buildNodeConfig()
	if err != nil {
		return nil, errors.Wrap(err, "node config")
	}

	c.chain, err = buildChainConfig()
	if err != nil {
		return nil, errors.Wrap(err, "chain config")
	}

	if viper.GetBool(Cfg_verbose) {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.WithField("level", "debug").Debug("setting log level")
	}

	return c, nil
}

type Config struct {
	node  *Node
	chain *Chain
}

func (c *Config) Node() *Node { return c.node }

func (c *Config) Chain() *Chain { return c.chain }

// DataDir resolves the storage directory, defaulting under Home.
func (c *Config) DataDir() string {
	if d := viper.GetString(Cfg_dataDir); d != "" {
		return d
	}
	return filepath.Join(Home(), "data")
}

// Node carries the producer/validator settings.
type Node struct {
	KeyFile        string
	Signers        []types.PublicKey
	BlockInterval  time.Duration
	BlockGasLimit  uint64
	BlockSizeLimit int
}

func buildNodeConfig() (*Node, error) {
	n := &Node{
		KeyFile:        viper.GetString(Cfg_node_keyFile),
		BlockInterval:  viper.GetDuration(Cfg_node_blockInterval),
		BlockGasLimit:  viper.GetUint64(Cfg_node_blockGasLimit),
		BlockSizeLimit: viper.GetInt(Cfg_node_blockSizeLimit),
	}

	for _, s := range viper.GetStringSlice(Cfg_node_signers) {
		pk, err := types.PublicKeyFromHex(s)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing signer %q", s)
		}
		n.Signers = append(n.Signers, pk)
	}

	return n, nil
}

package config

import (
	"encoding/base64"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tcfw/baals/pkg/ledger"
)

// Chain carries the genesis description used on first start.
type Chain struct {
	Genesis *ledger.GenesisConfig
}

const (
	// Cfg_chain_genesisInfo holds the base64 canonical encoding of the
	// genesis config, so a whole chain identity fits in one env var.
	Cfg_chain_genesisInfo = "chain.genesis"
)

func buildChainConfig() (*Chain, error) {
	c := &Chain{}

	gcfg := viper.GetString(Cfg_chain_genesisInfo)
	if gcfg == "" {
		return c, nil
	}

	gcfg_raw, err := base64.StdEncoding.DecodeString(gcfg)
	if err != nil {
		return nil, errors.Wrap(err, "b64 decoding genesis config")
	}

	c.Genesis = &ledger.GenesisConfig{}
	if err := msgpack.Unmarshal(gcfg_raw, c.Genesis); err != nil {
		return nil, errors.Wrap(err, "unmarshaling genesis config")
	}

	return c, nil
}

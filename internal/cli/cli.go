package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tcfw/baals/internal/config"
	"github.com/tcfw/baals/pkg/consensus"
	"github.com/tcfw/baals/pkg/contracts"
	"github.com/tcfw/baals/pkg/ledger"
	"github.com/tcfw/baals/pkg/mempool"
	"github.com/tcfw/baals/pkg/storage"
)

var (
	rootCmd = &cobra.Command{
		Use:           "baals",
		Short:         "embeddable single-node blockchain engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	jsonOut bool
)

func Execute() error {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "increase verbosity")
	viper.BindPFlag(config.Cfg_verbose, rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.PersistentFlags().String("datadir", "", "data directory")
	viper.BindPFlag(config.Cfg_dataDir, rootCmd.PersistentFlags().Lookup("datadir"))

	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "machine-readable output")

	regCommands()

	return rootCmd.Execute()
}

// ExitCode maps an Execute error to the documented process exit codes:
// 0 success, 1 user error, 2 validation failure, 3 I/O failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	switch {
	case errors.Is(err, storage.ErrCorruption),
		errors.Is(err, storage.ErrClosed),
		isIOErr(err):
		return 3

	case errors.Is(err, mempool.ErrBadSignature),
		errors.Is(err, mempool.ErrNonceTooLow),
		errors.Is(err, mempool.ErrNonceGap),
		errors.Is(err, mempool.ErrDuplicate),
		errors.Is(err, mempool.ErrFull),
		errors.Is(err, mempool.ErrMalformed),
		errors.Is(err, contracts.ErrValidation),
		errors.Is(err, consensus.ErrUnauthorizedSigner),
		errors.Is(err, consensus.ErrBadSignature),
		errors.Is(err, consensus.ErrBadTimestamp),
		errors.Is(err, consensus.ErrBadLinkage),
		errors.Is(err, ledger.ErrBadHeader),
		errors.Is(err, ledger.ErrStateRootMismatch):
		return 2

	default:
		return 1
	}
}

func isIOErr(err error) bool {
	var pe *os.PathError
	return errors.As(err, &pe)
}

// output prints v as indented JSON under --json, or in plain key:value
// form otherwise.
func output(v interface{}) error {
	if jsonOut {
		d, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return errors.Wrap(err, "encoding output")
		}
		fmt.Println(string(d))
		return nil
	}

	switch x := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s: %v\n", k, x[k])
		}
	default:
		fmt.Printf("%+v\n", v)
	}

	return nil
}

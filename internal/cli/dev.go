package cli

import (
	"encoding/hex"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tcfw/baals/pkg/contracts"
	"github.com/tcfw/baals/pkg/mempool"
	"github.com/tcfw/baals/pkg/types"
)

var (
	devCmd = &cobra.Command{
		Use:   "dev",
		Short: "development and debugging helpers",
	}

	dev_generateKeysCmd = &cobra.Command{
		Use:   "generate-keys",
		Short: "generate a keypair without storing it",
		RunE:  runDevGenerateKeys,
	}

	dev_simulateContractCmd = &cobra.Command{
		Use:   "simulate-contract <wasm-file> <method>",
		Short: "execute a module against empty state",
		Args:  cobra.ExactArgs(2),
		RunE:  runDevSimulateContract,
	}

	dev_validateTxCmd = &cobra.Command{
		Use:   "validate-tx <tx-hex|file>",
		Short: "statically validate a signed transaction",
		Args:  cobra.ExactArgs(1),
		RunE:  runDevValidateTx,
	}
)

func init() {
	dev_simulateContractCmd.Flags().String("args", "", "hex input")
	dev_simulateContractCmd.Flags().Uint64("gas", 1_000_000, "fuel budget")
}

func runDevGenerateKeys(cmd *cobra.Command, args []string) error {
	key, err := types.GenerateKey()
	if err != nil {
		return err
	}

	return output(map[string]interface{}{
		"address": key.Public().String(),
		"seed":    hex.EncodeToString(key.Seed()),
	})
}

// emptyState is the sandbox view for simulation: no storage, no other
// contracts.
type emptyState struct{}

func (emptyState) GetContractStorage(types.ContractID, []byte) ([]byte, bool, error) {
	return nil, false, nil
}

func (emptyState) GetContractCode(types.ContractID) ([]byte, error) {
	return nil, errors.New("no deployed contracts in simulation")
}

func runDevSimulateContract(cmd *cobra.Command, args []string) error {
	wasm, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrap(err, "reading module file")
	}

	var input []byte
	if a, _ := cmd.Flags().GetString("args"); a != "" {
		input, err = hex.DecodeString(a)
		if err != nil {
			return errors.Wrap(err, "decoding input hex")
		}
	}
	gas, _ := cmd.Flags().GetUint64("gas")

	engine, err := contracts.NewEngine(contracts.DefaultConfig())
	if err != nil {
		return err
	}

	if err := engine.ValidateModule(wasm); err != nil {
		return err
	}

	res, err := engine.Execute(emptyState{}, contracts.CallContext{
		Input: input,
		Gas:   gas,
	}, wasm, args[1])
	if err != nil {
		return err
	}

	writes := make(map[string]interface{})
	res.Overlay.Each(func(_ types.ContractID, key, value []byte, deleted bool) {
		if deleted {
			writes[string(key)] = nil
			return
		}
		writes[string(key)] = hex.EncodeToString(value)
	})

	return output(map[string]interface{}{
		"return":   hex.EncodeToString(res.Return),
		"gas_used": res.GasUsed,
		"events":   len(res.Events),
		"writes":   writes,
	})
}

func runDevValidateTx(cmd *cobra.Command, args []string) error {
	raw := args[0]
	if d, err := os.ReadFile(raw); err == nil {
		raw = string(d)
	}

	d, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return errors.Wrap(mempool.ErrMalformed, err.Error())
	}

	tx := &types.Transaction{}
	if err := tx.Unmarshal(d); err != nil {
		return errors.Wrap(mempool.ErrMalformed, err.Error())
	}
	if err := tx.Payload.Valid(); err != nil {
		return errors.Wrap(mempool.ErrMalformed, err.Error())
	}
	if err := tx.VerifySignature(); err != nil {
		return errors.Wrap(mempool.ErrBadSignature, err.Error())
	}

	return output(map[string]interface{}{
		"hash":  tx.Hash.String(),
		"valid": true,
	})
}

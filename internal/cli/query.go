package cli

import (
	"encoding/hex"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tcfw/baals/internal/node"
	"github.com/tcfw/baals/pkg/types"
)

var (
	queryCmd = &cobra.Command{
		Use:   "query",
		Short: "read committed chain state",
	}

	query_headCmd = &cobra.Command{
		Use:   "head",
		Short: "print the chain tip",
		RunE:  runQueryHead,
	}

	query_blockCmd = &cobra.Command{
		Use:   "block <hash|height>",
		Short: "print a block by hash or height",
		Args:  cobra.ExactArgs(1),
		RunE:  runQueryBlock,
	}

	query_txCmd = &cobra.Command{
		Use:   "tx <hash>",
		Short: "print a committed transaction and its receipt",
		Args:  cobra.ExactArgs(1),
		RunE:  runQueryTx,
	}

	query_accountCmd = &cobra.Command{
		Use:   "account <addr-hex>",
		Short: "print an account",
		Args:  cobra.ExactArgs(1),
		RunE:  runQueryAccount,
	}

	query_contractStateCmd = &cobra.Command{
		Use:   "contract-state <contract-id> <key>",
		Short: "print one contract storage slot",
		Args:  cobra.ExactArgs(2),
		RunE:  runQueryContractState,
	}

	query_contractCallCmd = &cobra.Command{
		Use:   "contract-call <contract-id> <method>",
		Short: "execute a read-only contract call",
		Args:  cobra.ExactArgs(2),
		RunE:  runQueryContractCall,
	}
)

func init() {
	query_contractCallCmd.Flags().String("args", "", "hex call arguments")
	query_contractCallCmd.Flags().Uint64("gas", 0, "gas budget (0 = maximum)")
}

func withNode(cmd *cobra.Command, fn func(n *node.Node) error) error {
	n, err := node.NewNode(cmd.Context())
	if err != nil {
		return errors.Wrap(err, "initing node")
	}
	defer n.Stop()

	return fn(n)
}

func runQueryHead(cmd *cobra.Command, args []string) error {
	return withNode(cmd, func(n *node.Node) error {
		cs, err := n.Runtime().QueryHead()
		if err != nil {
			return err
		}

		return output(map[string]interface{}{
			"latest_height": cs.LatestHeight,
			"latest_hash":   cs.LatestHash.String(),
			"accounts_root": cs.AccountsRoot.String(),
			"total_supply":  cs.TotalSupply,
		})
	})
}

func runQueryBlock(cmd *cobra.Command, args []string) error {
	return withNode(cmd, func(n *node.Node) error {
		var (
			blk *types.Block
			err error
		)

		if height, perr := strconv.ParseUint(args[0], 10, 64); perr == nil {
			blk, err = n.Runtime().QueryBlockByHeight(height)
		} else {
			hash, herr := types.HashFromHex(args[0])
			if herr != nil {
				return errors.Wrap(herr, "parsing block reference")
			}
			blk, err = n.Runtime().QueryBlock(hash)
		}
		if err != nil {
			return err
		}

		txs := make([]string, 0, len(blk.Txs))
		for _, tx := range blk.Txs {
			txs = append(txs, tx.Hash.String())
		}

		return output(map[string]interface{}{
			"height":     blk.Height,
			"hash":       blk.Hash.String(),
			"prev_hash":  blk.PrevHash.String(),
			"timestamp":  blk.Ts,
			"tx_root":    blk.TxRoot.String(),
			"state_root": blk.StateRoot.String(),
			"signer":     blk.Signer.String(),
			"txs":        txs,
		})
	})
}

func runQueryTx(cmd *cobra.Command, args []string) error {
	hash, err := types.HashFromHex(args[0])
	if err != nil {
		return errors.Wrap(err, "parsing tx hash")
	}

	return withNode(cmd, func(n *node.Node) error {
		tx, receipt, err := n.Runtime().QueryTransaction(hash)
		if err != nil {
			return err
		}

		out := map[string]interface{}{
			"hash":     tx.Hash.String(),
			"sender":   tx.Sender.String(),
			"nonce":    tx.Nonce,
			"kind":     tx.Payload.Kind,
			"status":   receipt.Status,
			"gas_used": receipt.GasUsed,
		}
		if receipt.Error != "" {
			out["error"] = receipt.Error
		}
		if !receipt.ContractID.IsZero() {
			out["contract_id"] = receipt.ContractID.String()
		}
		if len(receipt.Return) > 0 {
			out["return"] = hex.EncodeToString(receipt.Return)
		}

		return output(out)
	})
}

func runQueryAccount(cmd *cobra.Command, args []string) error {
	hash, err := types.HashFromHex(args[0])
	if err != nil {
		return errors.Wrap(err, "parsing address")
	}

	return withNode(cmd, func(n *node.Node) error {
		acct, err := n.Runtime().QueryAccount([32]byte(hash))
		if err != nil {
			return err
		}

		out := map[string]interface{}{
			"kind":    acct.Kind,
			"balance": acct.Balance,
			"nonce":   acct.Nonce,
		}
		if acct.IsContract() {
			out["code_hash"] = acct.CodeHash.String()
			out["storage_root"] = acct.StorageRoot.String()
		}

		return output(out)
	})
}

func runQueryContractState(cmd *cobra.Command, args []string) error {
	id, err := types.ContractIDFromHex(args[0])
	if err != nil {
		return errors.Wrap(err, "parsing contract id")
	}

	return withNode(cmd, func(n *node.Node) error {
		value, err := n.Runtime().QueryContractStorage(id, []byte(args[1]))
		if err != nil {
			return err
		}

		return output(map[string]interface{}{
			"key":   args[1],
			"value": hex.EncodeToString(value),
		})
	})
}

func runQueryContractCall(cmd *cobra.Command, args []string) error {
	id, err := types.ContractIDFromHex(args[0])
	if err != nil {
		return errors.Wrap(err, "parsing contract id")
	}

	var callArgs []byte
	if a, _ := cmd.Flags().GetString("args"); a != "" {
		callArgs, err = hex.DecodeString(a)
		if err != nil {
			return errors.Wrap(err, "decoding call args")
		}
	}
	gas, _ := cmd.Flags().GetUint64("gas")

	return withNode(cmd, func(n *node.Node) error {
		ret, err := n.Runtime().QueryContract(id, args[1], callArgs, gas)
		if err != nil {
			return err
		}

		return output(map[string]interface{}{
			"return": hex.EncodeToString(ret),
		})
	})
}

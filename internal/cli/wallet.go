package cli

import (
	"encoding/hex"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tcfw/baals/internal/config"
	"github.com/tcfw/baals/internal/keystore"
)

var (
	walletCmd = &cobra.Command{
		Use:   "wallet",
		Short: "manage local keys",
	}

	wallet_createCmd = &cobra.Command{
		Use:   "create <name>",
		Short: "create a new wallet key",
		Args:  cobra.ExactArgs(1),
		RunE:  runWalletCreate,
	}

	wallet_listCmd = &cobra.Command{
		Use:   "list",
		Short: "list wallet keys",
		RunE:  runWalletList,
	}

	wallet_importCmd = &cobra.Command{
		Use:   "import <name> <seed-hex>",
		Short: "import a seed",
		Args:  cobra.ExactArgs(2),
		RunE:  runWalletImport,
	}

	wallet_exportCmd = &cobra.Command{
		Use:   "export <name>",
		Short: "export a seed",
		Args:  cobra.ExactArgs(1),
		RunE:  runWalletExport,
	}

	wallet_signCmd = &cobra.Command{
		Use:   "sign <name> <msg-hex>",
		Short: "sign arbitrary bytes",
		Args:  cobra.ExactArgs(2),
		RunE:  runWalletSign,
	}
)

func keys() *keystore.Store {
	return keystore.New(filepath.Join(config.Home(), "keys"))
}

func runWalletCreate(cmd *cobra.Command, args []string) error {
	key, err := keys().Create(args[0])
	if err != nil {
		return err
	}

	return output(map[string]interface{}{
		"name":    args[0],
		"address": key.Public().String(),
	})
}

func runWalletList(cmd *cobra.Command, args []string) error {
	ks := keys()

	names, err := ks.List()
	if err != nil {
		return err
	}

	wallets := make(map[string]interface{}, len(names))
	for _, name := range names {
		key, err := ks.Load(name)
		if err != nil {
			return errors.Wrapf(err, "loading %s", name)
		}
		wallets[name] = key.Public().String()
	}

	return output(wallets)
}

func runWalletImport(cmd *cobra.Command, args []string) error {
	seed, err := hex.DecodeString(args[1])
	if err != nil {
		return errors.Wrap(err, "decoding seed hex")
	}

	if err := keys().Import(args[0], seed); err != nil {
		return err
	}

	key, err := keys().Load(args[0])
	if err != nil {
		return err
	}

	return output(map[string]interface{}{
		"name":    args[0],
		"address": key.Public().String(),
	})
}

func runWalletExport(cmd *cobra.Command, args []string) error {
	seed, err := keys().Export(args[0])
	if err != nil {
		return err
	}

	return output(map[string]interface{}{
		"name": args[0],
		"seed": hex.EncodeToString(seed),
	})
}

func runWalletSign(cmd *cobra.Command, args []string) error {
	key, err := keys().Load(args[0])
	if err != nil {
		return err
	}

	msg, err := hex.DecodeString(args[1])
	if err != nil {
		return errors.Wrap(err, "decoding message hex")
	}

	sig := key.Sign(msg)

	return output(map[string]interface{}{
		"address":   key.Public().String(),
		"signature": hex.EncodeToString(sig[:]),
	})
}

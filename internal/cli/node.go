package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tcfw/baals/internal/config"
	"github.com/tcfw/baals/internal/node"
	"github.com/tcfw/baals/pkg/storage"
)

var (
	nodeCmd = &cobra.Command{
		Use:   "node",
		Short: "run and inspect the local node",
	}

	node_startCmd = &cobra.Command{
		Use:   "start",
		Short: "start the node and production loop",
		RunE:  runNodeStart,
	}

	node_stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "stop a running node",
		RunE:  runNodeStop,
	}

	node_statusCmd = &cobra.Command{
		Use:   "status",
		Short: "print the chain tip",
		RunE:  runNodeStatus,
	}

	nodeConfigCmd = &cobra.Command{
		Use:   "config",
		Short: "manage the config file",
	}

	nodeConfig_initCmd = &cobra.Command{
		Use:   "init",
		Short: "write a default config file",
		RunE:  runNodeConfigInit,
	}

	nodeConfig_setCmd = &cobra.Command{
		Use:   "set <key> <value>",
		Short: "set a config value",
		Args:  cobra.ExactArgs(2),
		RunE:  runNodeConfigSet,
	}
)

func pidPath() string {
	return filepath.Join(config.Home(), "baals.pid")
}

func runNodeStart(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	n, err := node.NewNode(ctx)
	if err != nil {
		return errors.Wrap(err, "initing node")
	}
	defer n.Stop()

	if err := os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return errors.Wrap(err, "writing pid file")
	}
	defer os.Remove(pidPath())

	errCh := make(chan error, 1)
	go func() {
		if err := n.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigs:
		cancel()
		return nil
	}
}

func runNodeStop(cmd *cobra.Command, args []string) error {
	d, err := os.ReadFile(pidPath())
	if err != nil {
		return errors.Wrap(err, "no running node found")
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(d)))
	if err != nil {
		return errors.Wrap(err, "parsing pid file")
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return errors.Wrap(err, "signalling node")
	}

	return output(map[string]interface{}{"stopped": pid})
}

func runNodeStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	store, err := storage.NewPebbleStore(cfg.DataDir())
	if err != nil {
		return errors.Wrap(err, "opening store")
	}
	defer store.Close()

	snap, err := store.Snapshot()
	if err != nil {
		return err
	}
	defer snap.Close()

	cs, err := storage.GetChainState(snap)
	if errors.Is(err, storage.ErrNotFound) {
		return output(map[string]interface{}{"initialized": false})
	}
	if err != nil {
		return err
	}

	return output(map[string]interface{}{
		"initialized":   true,
		"latest_height": cs.LatestHeight,
		"latest_hash":   cs.LatestHash.String(),
		"accounts_root": cs.AccountsRoot.String(),
		"total_supply":  cs.TotalSupply,
	})
}

func runNodeConfigInit(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(config.Home(), 0o700); err != nil {
		return errors.Wrap(err, "creating home dir")
	}

	path := filepath.Join(config.Home(), "baals.yaml")
	if _, err := os.Stat(path); err == nil {
		return errors.Errorf("config already exists at %s", path)
	}

	if err := viper.WriteConfigAs(path); err != nil {
		return errors.Wrap(err, "writing config")
	}

	fmt.Printf("wrote %s\n", path)
	return nil
}

func runNodeConfigSet(cmd *cobra.Command, args []string) error {
	path := filepath.Join(config.Home(), "baals.yaml")
	viper.SetConfigFile(path)

	// best effort read so unrelated keys survive
	viper.ReadInConfig()

	viper.Set(args[0], args[1])
	if err := viper.WriteConfigAs(path); err != nil {
		return errors.Wrap(err, "writing config")
	}

	return output(map[string]interface{}{args[0]: args[1]})
}

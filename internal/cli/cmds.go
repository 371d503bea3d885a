package cli

func regCommands() {
	//Node
	nodeConfigCmd.AddCommand(nodeConfig_initCmd)
	nodeConfigCmd.AddCommand(nodeConfig_setCmd)
	nodeCmd.AddCommand(node_startCmd)
	nodeCmd.AddCommand(node_stopCmd)
	nodeCmd.AddCommand(node_statusCmd)
	nodeCmd.AddCommand(nodeConfigCmd)

	//Wallet
	walletCmd.AddCommand(wallet_createCmd)
	walletCmd.AddCommand(wallet_listCmd)
	walletCmd.AddCommand(wallet_importCmd)
	walletCmd.AddCommand(wallet_exportCmd)
	walletCmd.AddCommand(wallet_signCmd)

	//Tx
	txCmd.AddCommand(tx_transferCmd)
	txCmd.AddCommand(tx_deployCmd)
	txCmd.AddCommand(tx_callCmd)
	txCmd.AddCommand(tx_dataCmd)
	txCmd.AddCommand(tx_inspectCmd)

	//Query
	queryCmd.AddCommand(query_headCmd)
	queryCmd.AddCommand(query_blockCmd)
	queryCmd.AddCommand(query_txCmd)
	queryCmd.AddCommand(query_accountCmd)
	queryCmd.AddCommand(query_contractStateCmd)
	queryCmd.AddCommand(query_contractCallCmd)

	//Dev
	devCmd.AddCommand(dev_generateKeysCmd)
	devCmd.AddCommand(dev_simulateContractCmd)
	devCmd.AddCommand(dev_validateTxCmd)

	//Root
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(walletCmd)
	rootCmd.AddCommand(txCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(devCmd)
}

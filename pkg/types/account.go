package types

type AccountKind uint8

const (
	AccountWallet AccountKind = iota + 1
	AccountContract
)

// Account is the tagged state record for one address. Wallet accounts
// carry balance and nonce; contract accounts additionally commit to
// their code and local storage.
type Account struct {
	Kind        AccountKind `msgpack:"k"`
	Balance     uint64      `msgpack:"b"`
	Nonce       uint64      `msgpack:"n"`
	CodeHash    Hash        `msgpack:"c"`
	StorageRoot Hash        `msgpack:"s"`
}

func NewWalletAccount(balance uint64) *Account {
	return &Account{Kind: AccountWallet, Balance: balance}
}

func NewContractAccount(codeHash Hash) *Account {
	return &Account{Kind: AccountContract, CodeHash: codeHash}
}

func (a *Account) IsContract() bool { return a.Kind == AccountContract }

func (a *Account) Marshal() ([]byte, error) { return Marshal(a) }

func (a *Account) Unmarshal(b []byte) error { return Unmarshal(b, a) }

// ChainState is the single record pointing at the current tip. It is
// replaced atomically with every block commit.
type ChainState struct {
	LatestHash   Hash   `msgpack:"l"`
	LatestHeight uint64 `msgpack:"h"`
	AccountsRoot Hash   `msgpack:"a"`
	TotalSupply  uint64 `msgpack:"s"`
}

func (c *ChainState) Marshal() ([]byte, error) { return Marshal(c) }

func (c *ChainState) Unmarshal(b []byte) error { return Unmarshal(b, c) }

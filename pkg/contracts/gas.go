package contracts

// Host-call fuel charges. Storage writes cost more than reads, reads
// more than pure compute, mirroring their relative I/O weight. Charges
// are deducted from the same fuel counter that meters emitted code, so
// one budget bounds the whole call.
const (
	costStorageReadBase  = 100
	costStorageReadByte  = 1
	costStorageWriteBase = 500
	costStorageWriteByte = 3
	costStorageRemove    = 300
	costEnvRead          = 20
	costHash             = 60
	costHashByte         = 1
	costVerifySig        = 2000
	costEmitEventBase    = 150
	costEmitEventByte    = 2
	costCallBase         = 800

	// costMemoryGrowPage charges each 64 KiB page grown during a call;
	// wasmtime's per-instruction fuel does not cover grown memory.
	costMemoryGrowPage = 256
)

// Pre-execution charges applied by the ledger before the sandbox runs.
const (
	// CostCodeLoadPerKiB charges for pulling the module into the
	// instance, per started KiB of code.
	CostCodeLoadPerKiB = 50
)

// CodeLoadCost returns the pre-execution charge for a module of the
// given size.
func CodeLoadCost(codeLen int) uint64 {
	kib := (codeLen + 1023) / 1024
	return uint64(kib) * CostCodeLoadPerKiB
}

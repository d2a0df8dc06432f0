package types

// Amount is a coin value in base units (groths).
type Amount = uint64

// Height is a block height.
type Height = uint64

// MaxHeight marks a height that is not yet known (e.g. the maturity of a
// coin whose confirming proof has not arrived).
const MaxHeight Height = 1<<64 - 1

// Monetary constants.
const (
	// Coin is the number of base units in one whole coin.
	Coin Amount = 1_000_000

	// CoinbaseEmission is the fixed block reward credited to miners.
	CoinbaseEmission Amount = 40 * Coin

	// KernelFee is the flat fee attached to every transfer.
	KernelFee Amount = 1
)

package multicall

import "github.com/holiman/uint256"

// domainUint aliases uint256.Int so the public PoolDecoder/BatchResult
// signatures above stay readable without importing uint256 in every call
// site of this package.
type domainUint = uint256.Int

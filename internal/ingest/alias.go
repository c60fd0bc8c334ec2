package ingest

import "github.com/holiman/uint256"

type uint256Alias = uint256.Int

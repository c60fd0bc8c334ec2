package chain

import "errors"

var errShortInput = errors.New("chain: input shorter than a 4-byte selector")

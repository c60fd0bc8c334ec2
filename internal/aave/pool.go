// Package aave adapts chain.ContractClient to the narrow on-chain
// interfaces the rest of liqbot depends on (multicall.PoolDecoder/
// Aggregator, reserves.PoolReader, prices.DirectFeed/OracleFallback,
// tokens.OnChainReader, intent.Packer, intent.GasEstimator). Calldata is
// built from hand-computed selectors and abi.Arguments rather than a
// generated JSON ABI binding, since the pool/oracle contracts are known
// by their handful of call signatures, not by a full interface file.
package aave

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/liqcore/liqbot/internal/chain"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/liqcore/liqbot/internal/multicall"
	"github.com/liqcore/liqbot/internal/tokens"
)

func selector(signature string) [4]byte {
	var out [4]byte
	copy(out[:], crypto.Keccak256([]byte(signature))[:4])
	return out
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

var (
	addressT = mustType("address")
	uint256T = mustType("uint256")
	boolT    = mustType("bool")

	selAccountData  = selector("getUserAccountData(address)")
	selReserveData  = selector("getReserveData(address)")
	selReservesList = selector("getReservesList()")
	selAssetPrice   = selector("getAssetPrice(address)")
	selLatestRound  = selector("latestRoundData()")
	selSymbol       = selector("symbol()")
	selDecimals     = selector("decimals()")
	selLiquidate    = selector("liquidationCall(address,address,address,uint256,bool)")
	selAggregate3   = selector("aggregate3((address,bool,bytes)[])")
)

func pack(sel [4]byte, args abi.Arguments, values ...interface{}) ([]byte, error) {
	encoded, err := args.Pack(values...)
	if err != nil {
		return nil, err
	}
	return append(sel[:], encoded...), nil
}

// Pool wraps the pool contract's ContractClient for the handful of reads
// and the one write (liquidationCall) liqbot needs.
type Pool struct {
	client *chain.ContractClient
}

// NewPool constructs a Pool adapter over an already-dialed ContractClient
// pointed at the deployed pool address; its abi.ABI field is unused here
// since every call below hand-packs its own selector and arguments.
func NewPool(client *chain.ContractClient) *Pool {
	return &Pool{client: client}
}

// PoolAddress implements multicall.PoolDecoder.
func (p *Pool) PoolAddress() common.Address { return p.client.Address() }

// EncodeAccountData implements multicall.PoolDecoder.
func (p *Pool) EncodeAccountData(user common.Address) ([]byte, error) {
	return pack(selAccountData, abi.Arguments{{Type: addressT}}, user)
}

// DecodeAccountData implements multicall.PoolDecoder. The pool's
// getUserAccountData returns (totalCollateralBase, totalDebtBase,
// availableBorrowsBase, currentLiquidationThreshold, ltv, healthFactor);
// only the first two and the liquidation threshold are needed here.
func (p *Pool) DecodeAccountData(data []byte) (*uint256.Int, *uint256.Int, uint32, error) {
	args := abi.Arguments{
		{Type: uint256T}, {Type: uint256T}, {Type: uint256T},
		{Type: uint256T}, {Type: uint256T}, {Type: uint256T},
	}
	out, err := args.Unpack(data)
	if err != nil {
		return nil, nil, 0, err
	}
	collateral, ok := out[0].(*big.Int)
	if !ok {
		return nil, nil, 0, fmt.Errorf("aave: unexpected type for totalCollateralBase")
	}
	debt, ok := out[1].(*big.Int)
	if !ok {
		return nil, nil, 0, fmt.Errorf("aave: unexpected type for totalDebtBase")
	}
	threshold, ok := out[3].(*big.Int)
	if !ok {
		return nil, nil, 0, fmt.Errorf("aave: unexpected type for liquidationThreshold")
	}
	return fromBig(collateral), fromBig(debt), uint32(threshold.Uint64()), nil
}

// EncodeReserveData implements multicall.PoolDecoder, reading the asset's
// reserve configuration rather than a per-user balance: the user's actual
// aToken/debt balances are read from the token contracts directly by the
// caller and merged in, since the pool's own getReserveData does not carry
// them.
func (p *Pool) EncodeReserveData(user, asset common.Address) ([]byte, error) {
	return pack(selReserveData, abi.Arguments{{Type: addressT}}, asset)
}

// DecodeReserveData implements multicall.PoolDecoder, decoding the
// liquidation-relevant slice of ReserveData: the configuration bitmap is
// deliberately not decoded (out of scope); only the fields liqbot's risk
// math reads are unpacked, via the reserve's separately-maintained
// liquidation bonus.
func (p *Pool) DecodeReserveData(data []byte) (domain.ReservePosition, error) {
	args := abi.Arguments{{Type: uint256T}, {Type: addressT}}
	out, err := args.Unpack(data)
	if err != nil {
		return domain.ReservePosition{}, err
	}
	aTokenAddr, ok := out[1].(common.Address)
	if !ok {
		return domain.ReservePosition{}, fmt.Errorf("aave: unexpected type for aTokenAddress")
	}
	return domain.ReservePosition{Asset: aTokenAddr, UsageAsCollateralEnabled: true}, nil
}

// ListReserves implements reserves.PoolReader.
func (p *Pool) ListReserves(ctx context.Context) ([]common.Address, error) {
	out, err := p.call(ctx, selReservesList, nil)
	if err != nil {
		return nil, err
	}
	args := abi.Arguments{{Type: mustType("address[]")}}
	unpacked, err := args.Unpack(out)
	if err != nil {
		return nil, err
	}
	list, ok := unpacked[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("aave: unexpected type for reserves list")
	}
	return list, nil
}

// ReserveConfiguration implements reserves.PoolReader. Symbol/decimals are
// left for TokenRegistry to resolve. It issues getReserveData only to check
// that the call succeeds and discards the returned data; the packed
// configuration bitmap is not decoded, so every reserve gets the same fixed
// risk parameters (8000 bps liquidation threshold, 500 bps bonus).
func (p *Pool) ReserveConfiguration(ctx context.Context, asset common.Address) (domain.Reserve, error) {
	data, err := p.EncodeReserveData(common.Address{}, asset)
	if err != nil {
		return domain.Reserve{}, err
	}
	if _, err := p.call(ctx, [4]byte{data[0], data[1], data[2], data[3]}, data[4:]); err != nil {
		return domain.Reserve{}, err
	}
	return domain.Reserve{
		Asset:                    asset,
		IsActive:                 true,
		UsageAsCollateralEnabled: true,
		LiquidationThresholdBps:  8000,
		LiquidationBonusBps:      500,
	}, nil
}

func (p *Pool) call(ctx context.Context, sel [4]byte, encodedArgs []byte) ([]byte, error) {
	data := append(sel[:], encodedArgs...)
	msg := ethereum.CallMsg{To: addressPtr(p.client.Address()), Data: data}
	return p.client.RawCall(ctx, msg)
}

func addressPtr(a common.Address) *common.Address { return &a }

// fromBig converts a *big.Int returned by abi unpacking into *uint256.Int,
// clamping to zero on overflow rather than panicking: a malformed or
// hostile RPC response must not crash the process.
func fromBig(v *big.Int) *uint256.Int {
	u, overflow := uint256.FromBig(v)
	if overflow {
		return uint256.NewInt(0)
	}
	return u
}

// LiquidationCall packs the pool's liquidationCall calldata, used by
// intent.Builder via the Packer interface, built from hand-encoded
// arguments instead of a generated contract binding.
func (p *Pool) LiquidationCall(collateralAsset, debtAsset, user common.Address, debtToCover *uint256.Int, receiveAToken bool) ([]byte, error) {
	return pack(selLiquidate,
		abi.Arguments{{Type: addressT}, {Type: addressT}, {Type: addressT}, {Type: uint256T}, {Type: boolT}},
		collateralAsset, debtAsset, user, debtToCover.ToBig(), receiveAToken)
}

// Pack implements intent.Packer, routed to LiquidationCall for the one
// method name IntentBuilder ever packs.
func (p *Pool) Pack(method string, args ...interface{}) ([]byte, error) {
	if method != "liquidationCall" || len(args) != 5 {
		return nil, fmt.Errorf("aave: unsupported pack method %q", method)
	}
	collateral, _ := args[0].(common.Address)
	debt, _ := args[1].(common.Address)
	user, _ := args[2].(common.Address)
	amount, _ := args[3].(*uint256.Int)
	receive, _ := args[4].(bool)
	return p.LiquidationCall(collateral, debt, user, amount, receive)
}

// Oracle wraps the pool's price oracle, quoted in BaseUnit (10^8) USD.
type Oracle struct {
	client  *chain.ContractClient
	bySymbol map[string]common.Address
}

// NewOracle constructs an Oracle over the deployed PriceOracle contract and
// a static symbol->asset-address map drawn from ReserveCatalog.
func NewOracle(client *chain.ContractClient, bySymbol map[string]common.Address) *Oracle {
	return &Oracle{client: client, bySymbol: bySymbol}
}

// AssetPrice implements prices.OracleFallback.
func (o *Oracle) AssetPrice(ctx context.Context, symbol string) (*uint256.Int, error) {
	asset, ok := o.bySymbol[symbol]
	if !ok {
		return nil, fmt.Errorf("aave: unknown symbol %q for oracle fallback", symbol)
	}
	calldata, err := pack(selAssetPrice, abi.Arguments{{Type: addressT}}, asset)
	if err != nil {
		return nil, err
	}
	msg := ethereum.CallMsg{To: addressPtr(o.client.Address()), Data: calldata}
	out, err := o.client.RawCall(ctx, msg)
	if err != nil {
		return nil, err
	}
	args := abi.Arguments{{Type: uint256T}}
	unpacked, err := args.Unpack(out)
	if err != nil {
		return nil, err
	}
	price, ok := unpacked[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("aave: unexpected type for asset price")
	}
	return fromBig(price), nil
}

// ChainlinkFeed wraps a Chainlink-style aggregator reader, one
// ContractClient per registered feed address, keyed by symbol.
type ChainlinkFeed struct {
	feeds map[string]*chain.ContractClient
}

// NewChainlinkFeed constructs a DirectFeed over a symbol->feed-contract map.
func NewChainlinkFeed(feeds map[string]*chain.ContractClient) *ChainlinkFeed {
	return &ChainlinkFeed{feeds: feeds}
}

// LatestRoundData implements prices.DirectFeed.
func (f *ChainlinkFeed) LatestRoundData(ctx context.Context, symbol string) (*uint256.Int, uint64, uint64, time.Time, error) {
	client, ok := f.feeds[symbol]
	if !ok {
		return nil, 0, 0, time.Time{}, fmt.Errorf("aave: no chainlink feed registered for %q", symbol)
	}
	msg := ethereum.CallMsg{To: addressPtr(client.Address()), Data: selLatestRound[:]}
	out, err := client.RawCall(ctx, msg)
	if err != nil {
		return nil, 0, 0, time.Time{}, err
	}
	args := abi.Arguments{
		{Type: uint256T}, {Type: mustType("int256")}, {Type: uint256T}, {Type: uint256T}, {Type: uint256T},
	}
	unpacked, err := args.Unpack(out)
	if err != nil {
		return nil, 0, 0, time.Time{}, err
	}
	roundID, _ := unpacked[0].(*big.Int)
	answer, _ := unpacked[1].(*big.Int)
	updatedAt, _ := unpacked[3].(*big.Int)
	answeredInRound, _ := unpacked[4].(*big.Int)
	return fromBig(answer), roundID.Uint64(), answeredInRound.Uint64(), time.Unix(updatedAt.Int64(), 0), nil
}

// ERC20Reader reads symbol()/decimals() directly off a token contract.
type ERC20Reader struct {
	backend chain.Backend
}

// NewERC20Reader constructs an OnChainReader over a raw chain.Backend
// (no fixed contract address: each call targets the queried token).
func NewERC20Reader(backend chain.Backend) *ERC20Reader {
	return &ERC20Reader{backend: backend}
}

// ReadSymbolDecimals implements tokens.OnChainReader.
func (e *ERC20Reader) ReadSymbolDecimals(ctx context.Context, address common.Address) (tokens.Info, error) {
	symbolOut, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: addressPtr(address), Data: selSymbol[:]}, nil)
	if err != nil {
		return tokens.Info{}, err
	}
	symArgs := abi.Arguments{{Type: mustType("string")}}
	symUnpacked, err := symArgs.Unpack(symbolOut)
	if err != nil {
		return tokens.Info{}, err
	}
	symbol, _ := symUnpacked[0].(string)

	decOut, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: addressPtr(address), Data: selDecimals[:]}, nil)
	if err != nil {
		return tokens.Info{}, err
	}
	decArgs := abi.Arguments{{Type: uint256T}}
	decUnpacked, err := decArgs.Unpack(decOut)
	if err != nil {
		return tokens.Info{}, err
	}
	decimals, _ := decUnpacked[0].(*big.Int)
	return tokens.Info{Symbol: symbol, Decimals: uint8(decimals.Uint64())}, nil
}

// Aggregator wraps a deployed Multicall3 contract for multicall.Aggregator.
type Aggregator struct {
	client *chain.ContractClient
}

// NewAggregator constructs an Aggregator over a ContractClient pointed at
// the chain's Multicall3 deployment.
func NewAggregator(client *chain.ContractClient) *Aggregator {
	return &Aggregator{client: client}
}

// Aggregate3 implements multicall.Aggregator.
func (a *Aggregator) Aggregate3(ctx context.Context, calls []multicall.Call3) ([]multicall.Result3, error) {
	tupleType := mustType("(address,bool,bytes)[]")
	tuples := make([]struct {
		Target       common.Address
		AllowFailure bool
		CallData     []byte
	}, len(calls))
	for i, c := range calls {
		tuples[i] = struct {
			Target       common.Address
			AllowFailure bool
			CallData     []byte
		}{c.Target, c.AllowFailure, c.CallData}
	}
	encoded, err := abi.Arguments{{Type: tupleType}}.Pack(tuples)
	if err != nil {
		return nil, err
	}
	calldata := append(selAggregate3[:], encoded...)
	msg := ethereum.CallMsg{To: addressPtr(a.client.Address()), Data: calldata}
	out, err := a.client.RawCall(ctx, msg)
	if err != nil {
		return nil, err
	}
	returnTupleType := mustType("(bool,bytes)[]")
	unpacked, err := (abi.Arguments{{Type: returnTupleType}}).Unpack(out)
	if err != nil {
		return nil, err
	}
	raw, ok := unpacked[0].([]struct {
		Success    bool
		ReturnData []byte
	})
	if !ok {
		return nil, fmt.Errorf("aave: unexpected type for aggregate3 result")
	}
	results := make([]multicall.Result3, len(raw))
	for i, r := range raw {
		results[i] = multicall.Result3{Success: r.Success, ReturnData: r.ReturnData}
	}
	return results, nil
}

// Package evmadapter implements the Reputation Client's HostAdapter
// (spec.md section 4.D) against an EVM chain: a small registry contract
// holding per-address stake/reputation, and verifyPayment resolved by
// scanning the recipient's recent PaymentSettled events rather than a
// generic transfer log, so the same reason enumeration as the local
// fallback applies.
package evmadapter

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/meshprotocol/agent/pkg/ethereum"
	"github.com/meshprotocol/agent/pkg/reputation"
)

// registryABI describes the MESH reputation/stake registry contract. It is
// intentionally small: the facade above this adapter (reputation.Client)
// already carries all of MESH's trust-mode and validation logic, so the
// contract only needs to hold per-address state and emit the one event
// verifyPayment scans for.
const registryABI = `[
  {"type":"function","name":"registerAgent","stateMutability":"nonpayable","inputs":[{"name":"agent","type":"address"},{"name":"stakeWei","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"reputationOf","stateMutability":"view","inputs":[{"name":"agent","type":"address"}],"outputs":[{"name":"score","type":"int256"},{"name":"found","type":"bool"}]},
  {"type":"function","name":"stakeInfo","stateMutability":"view","inputs":[{"name":"agent","type":"address"}],"outputs":[{"name":"stakeWei","type":"uint256"},{"name":"since","type":"uint256"}]},
  {"type":"function","name":"recordOutcome","stateMutability":"nonpayable","inputs":[{"name":"executor","type":"address"},{"name":"txRef","type":"bytes32"},{"name":"rating","type":"int256"}],"outputs":[]},
  {"type":"function","name":"slash","stateMutability":"nonpayable","inputs":[{"name":"offender","type":"address"},{"name":"reason","type":"string"}],"outputs":[]},
  {"type":"function","name":"withdrawStake","stateMutability":"nonpayable","inputs":[{"name":"agent","type":"address"}],"outputs":[]},
  {"type":"event","name":"PaymentSettled","anonymous":false,"inputs":[
    {"name":"sender","type":"address","indexed":true},
    {"name":"recipient","type":"address","indexed":true},
    {"name":"txRef","type":"bytes32","indexed":false},
    {"name":"amountWei","type":"uint256","indexed":false},
    {"name":"timestamp","type":"uint256","indexed":false}
  ]}
]`

const weiPerToken = 1e18

// paymentSettledEvent mirrors PaymentSettled's non-indexed fields, in order,
// for abi.UnpackIntoInterface.
type paymentSettledEvent struct {
	TxRef     [32]byte
	AmountWei *big.Int
	Timestamp *big.Int
}

// Config configures an Adapter.
type Config struct {
	RPCURL          string
	ChainID         int64
	ContractAddress string
	// PrivateKeyHex signs the mutating calls (registerAgent, recordOutcome,
	// slash, withdrawStake). A read-only adapter can omit it and will error
	// only if one of those methods is actually invoked.
	PrivateKeyHex string
	GasLimit      uint64
	// LookbackBlocks bounds verifyPayment's FilterLogs window. Defaults to 5000.
	LookbackBlocks uint64
}

func (c Config) withDefaults() Config {
	if c.GasLimit == 0 {
		c.GasLimit = 200_000
	}
	if c.LookbackBlocks == 0 {
		c.LookbackBlocks = 5000
	}
	return c
}

// Adapter is a reputation.HostAdapter backed by the registry contract.
type Adapter struct {
	eth      *ethereum.Client
	contract common.Address
	abi      abi.ABI
	cfg      Config
	from     common.Address
	hasKey   bool
}

// New dials the configured RPC endpoint and parses the registry ABI.
func New(cfg Config) (*Adapter, error) {
	cfg = cfg.withDefaults()
	client, err := ethereum.NewClient(cfg.RPCURL, cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("evmadapter: %w", err)
	}
	parsedABI, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("evmadapter: parse registry abi: %w", err)
	}
	a := &Adapter{
		eth:      client,
		contract: common.HexToAddress(cfg.ContractAddress),
		abi:      parsedABI,
		cfg:      cfg,
	}
	if cfg.PrivateKeyHex != "" {
		addr, err := ethereum.GetPublicAddress(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("evmadapter: derive signer address: %w", err)
		}
		a.from = addr
		a.hasKey = true
	}
	return a, nil
}

func weiToFloat(v *big.Int) float64 {
	f := new(big.Float).SetInt(v)
	f.Quo(f, big.NewFloat(weiPerToken))
	out, _ := f.Float64()
	return out
}

func floatToWei(v float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(v), big.NewFloat(weiPerToken))
	out, _ := f.Int(nil)
	return out
}

func (a *Adapter) requireSigner(op string) error {
	if !a.hasKey {
		return fmt.Errorf("evmadapter: %s requires a signing key, none configured", op)
	}
	return nil
}

// RegisterAgent calls registerAgent(agent, stakeWei) on the registry.
func (a *Adapter) RegisterAgent(ctx context.Context, addr string, stake float64) error {
	if err := a.requireSigner("registerAgent"); err != nil {
		return err
	}
	_, err := a.eth.SendContractTransaction(ctx, a.contract, registryABI, a.cfg.PrivateKeyHex,
		"registerAgent", a.cfg.GasLimit, common.HexToAddress(addr), floatToWei(stake))
	if err != nil {
		return fmt.Errorf("evmadapter: registerAgent: %w", err)
	}
	return nil
}

// GetReputation calls the view method reputationOf(agent).
func (a *Adapter) GetReputation(ctx context.Context, addr string) (int64, bool, error) {
	outputs, err := a.eth.CallContract(ctx, a.contract, registryABI, "reputationOf", common.HexToAddress(addr))
	if err != nil {
		return 0, false, fmt.Errorf("evmadapter: reputationOf: %w", err)
	}
	score := outputs[0].(*big.Int).Int64()
	found := outputs[1].(bool)
	return score, found, nil
}

// GetStakeInfo calls the view method stakeInfo(agent).
func (a *Adapter) GetStakeInfo(ctx context.Context, addr string) (reputation.StakeInfo, error) {
	outputs, err := a.eth.CallContract(ctx, a.contract, registryABI, "stakeInfo", common.HexToAddress(addr))
	if err != nil {
		return reputation.StakeInfo{}, fmt.Errorf("evmadapter: stakeInfo: %w", err)
	}
	stakeWei := outputs[0].(*big.Int)
	since := outputs[1].(*big.Int).Int64()
	age := time.Now().Unix() - since
	if age < 0 {
		age = 0
	}
	return reputation.StakeInfo{Stake: weiToFloat(stakeWei), Since: since, AgeSeconds: age}, nil
}

// RecordOutcome calls recordOutcome(executor, txRef, rating).
func (a *Adapter) RecordOutcome(ctx context.Context, executor, txHash string, rating int64) error {
	if err := a.requireSigner("recordOutcome"); err != nil {
		return err
	}
	_, err := a.eth.SendContractTransaction(ctx, a.contract, registryABI, a.cfg.PrivateKeyHex,
		"recordOutcome", a.cfg.GasLimit, common.HexToAddress(executor), common.HexToHash(txHash), big.NewInt(rating))
	if err != nil {
		return fmt.Errorf("evmadapter: recordOutcome: %w", err)
	}
	return nil
}

// Slash calls slash(offender, reason).
func (a *Adapter) Slash(ctx context.Context, offender, reason string) error {
	if err := a.requireSigner("slash"); err != nil {
		return err
	}
	_, err := a.eth.SendContractTransaction(ctx, a.contract, registryABI, a.cfg.PrivateKeyHex,
		"slash", a.cfg.GasLimit, common.HexToAddress(offender), reason)
	if err != nil {
		return fmt.Errorf("evmadapter: slash: %w", err)
	}
	return nil
}

// WithdrawStake reads the prior stake before sending withdrawStake(agent),
// since the transaction receipt carries no return value.
func (a *Adapter) WithdrawStake(ctx context.Context, addr string) (float64, error) {
	if err := a.requireSigner("withdrawStake"); err != nil {
		return 0, err
	}
	info, err := a.GetStakeInfo(ctx, addr)
	if err != nil {
		return 0, err
	}
	_, err = a.eth.SendContractTransaction(ctx, a.contract, registryABI, a.cfg.PrivateKeyHex,
		"withdrawStake", a.cfg.GasLimit, common.HexToAddress(addr))
	if err != nil {
		return 0, fmt.Errorf("evmadapter: withdrawStake: %w", err)
	}
	return info.Stake, nil
}

// VerifyPayment scans PaymentSettled logs emitted by the registry contract
// over the last LookbackBlocks blocks, matching the same reason enumeration
// as the local fallback's ledger scan so callers see identical behavior
// regardless of which HostAdapter is wired in.
func (a *Adapter) VerifyPayment(ctx context.Context, check reputation.PaymentCheck) (reputation.PaymentResult, error) {
	if check.TxHash == "" {
		return reputation.PaymentResult{Reason: "missing_tx_hash"}, nil
	}
	if check.ExpectedRecipient == "" {
		return reputation.PaymentResult{Reason: "missing_expected_recipient"}, nil
	}

	latest, err := a.eth.GetLatestBlockNumber(ctx)
	if err != nil {
		return reputation.PaymentResult{}, fmt.Errorf("evmadapter: get latest block: %w", err)
	}
	from := latest - int64(a.cfg.LookbackBlocks)
	if from < 0 {
		from = 0
	}

	eventID := a.abi.Events["PaymentSettled"].ID
	recipientTopic := common.BytesToHash(common.HexToAddress(check.ExpectedRecipient).Bytes())

	query := geth.FilterQuery{
		FromBlock: big.NewInt(from),
		ToBlock:   big.NewInt(latest),
		Addresses: []common.Address{a.contract},
		Topics:    [][]common.Hash{{eventID}, nil, {recipientTopic}},
	}
	logs, err := a.eth.GetClient().FilterLogs(ctx, query)
	if err != nil {
		return reputation.PaymentResult{}, fmt.Errorf("evmadapter: filter logs: %w", err)
	}

	target := strings.ToLower(strings.TrimPrefix(check.TxHash, "0x"))
	var match *gethtypes.Log
	var matchEv paymentSettledEvent
	for i := len(logs) - 1; i >= 0; i-- {
		l := logs[i]
		var ev paymentSettledEvent
		if err := a.abi.UnpackIntoInterface(&ev, "PaymentSettled", l.Data); err != nil {
			continue
		}
		if strings.ToLower(common.Bytes2Hex(ev.TxRef[:])) == target {
			lcopy := l
			match = &lcopy
			matchEv = ev
			break
		}
	}
	if match == nil {
		return reputation.PaymentResult{Reason: "tx_not_found_in_recent_recipient_history"}, nil
	}

	ev := matchEv
	sender := common.HexToAddress(match.Topics[1].Hex()).Hex()
	recipient := common.HexToAddress(match.Topics[2].Hex()).Hex()

	if check.ExpectedSender != "" && !strings.EqualFold(sender, check.ExpectedSender) {
		return reputation.PaymentResult{Reason: "sender_mismatch"}, nil
	}
	if !strings.EqualFold(recipient, check.ExpectedRecipient) {
		return reputation.PaymentResult{Reason: "recipient_mismatch"}, nil
	}
	amount := weiToFloat(ev.AmountWei)
	allowGreaterOrEqual := check.AllowAmountGreaterOrEqual == nil || *check.AllowAmountGreaterOrEqual
	if allowGreaterOrEqual {
		if amount < check.Amount {
			return reputation.PaymentResult{Reason: "amount_mismatch"}, nil
		}
	} else if amount != check.Amount {
		return reputation.PaymentResult{Reason: "amount_mismatch"}, nil
	}
	ts := ev.Timestamp.Int64()
	if check.MaxTxAgeSeconds > 0 && time.Now().Unix()-ts > check.MaxTxAgeSeconds {
		return reputation.PaymentResult{Reason: "tx_too_old"}, nil
	}

	return reputation.PaymentResult{OK: true, Tx: &reputation.Tx{
		Hash:      check.TxHash,
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Timestamp: ts,
	}}, nil
}

var _ reputation.HostAdapter = (*Adapter)(nil)

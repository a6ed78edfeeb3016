// Package ledger records finished tournaments on an EVM chain through the
// registerTournament contract call.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"pong-server/internal/config"
)

var ErrDisabled = errors.New("LEDGER_DISABLED: ledger is not configured")

const contractABI = `[
  {
    "inputs": [
      {"internalType": "uint256", "name": "_timestamp", "type": "uint256"},
      {"internalType": "string", "name": "_name", "type": "string"},
      {"internalType": "string", "name": "_winnerName", "type": "string"},
      {"internalType": "uint256", "name": "_participants", "type": "uint256"}
    ],
    "name": "registerTournament",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "timestamp", "type": "uint256"},
      {"indexed": false, "internalType": "string", "name": "name", "type": "string"},
      {"indexed": false, "internalType": "string", "name": "winnerName", "type": "string"},
      {"indexed": false, "internalType": "uint256", "name": "participants", "type": "uint256"}
    ],
    "name": "TournamentRegistered",
    "type": "event"
  }
]`

const registerMethod = "registerTournament"

// Receipt identifies the transaction that recorded a tournament.
type Receipt struct {
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"txHash"`
	ExplorerURL string `json:"explorerUrl"`
	ContractURL string `json:"contractUrl"`
}

// Recorder is what the tournament orchestrator needs from a ledger.
type Recorder interface {
	RecordTournament(ctx context.Context, name, winner string, participants int) (Receipt, error)
}

// Links builds block explorer URLs for one chain.
type Links struct {
	Explorer string
	ChainID  int64
	Contract common.Address
}

func (l Links) Tx(hash common.Hash) string {
	return fmt.Sprintf("%s/tx/%s?chainid=%d", l.Explorer, hash.Hex(), l.ChainID)
}

func (l Links) ContractCode() string {
	return fmt.Sprintf("%s/address/%s/contract/%d/code", l.Explorer, l.Contract.Hex(), l.ChainID)
}

// Client submits registerTournament transactions and waits for them to be
// mined.
type Client struct {
	eth      *ethclient.Client
	contract *bind.BoundContract
	key      *ecdsa.PrivateKey
	chainID  *big.Int
	links    Links
	log      *zap.Logger
	now      func() time.Time
}

func parseABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(contractABI))
}

// Dial connects to the RPC endpoint in cfg.
func Dial(ctx context.Context, cfg config.Ledger, log *zap.Logger) (*Client, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}
	key, err := crypto.HexToECDSA(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid ledger private key: %w", err)
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid ledger contract address %q", cfg.ContractAddress)
	}
	parsed, err := parseABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract abi: %w", err)
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ledger rpc: %w", err)
	}
	addr := common.HexToAddress(cfg.ContractAddress)
	log = log.Named("ledger")
	log.Info("ledger connected",
		zap.String("contract", addr.Hex()),
		zap.String("sender", crypto.PubkeyToAddress(key.PublicKey).Hex()),
		zap.Int64("chain_id", cfg.ChainID))
	return &Client{
		eth:      eth,
		contract: bind.NewBoundContract(addr, parsed, eth, eth, eth),
		key:      key,
		chainID:  big.NewInt(cfg.ChainID),
		links:    Links{Explorer: cfg.ExplorerURL, ChainID: cfg.ChainID, Contract: addr},
		log:      log,
		now:      time.Now,
	}, nil
}

// RecordTournament sends the transaction and blocks until it is mined or
// ctx is done.
func (c *Client) RecordTournament(ctx context.Context, name, winner string, participants int) (Receipt, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to build transactor: %w", err)
	}
	opts.Context = ctx

	c.log.Info("recording tournament", zap.String("name", name), zap.String("winner", winner))
	tx, err := c.contract.Transact(opts, registerMethod,
		big.NewInt(c.now().Unix()), name, winner, big.NewInt(int64(participants)))
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to send %s: %w", registerMethod, err)
	}
	c.log.Info("transaction sent", zap.String("tx_hash", tx.Hash().Hex()))

	rcpt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed waiting for %s: %w", tx.Hash().Hex(), err)
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		return Receipt{}, fmt.Errorf("transaction %s reverted", tx.Hash().Hex())
	}
	return Receipt{
		BlockNumber: rcpt.BlockNumber.Uint64(),
		TxHash:      tx.Hash().Hex(),
		ExplorerURL: c.links.Tx(tx.Hash()),
		ContractURL: c.links.ContractCode(),
	}, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

// Disabled is used when no ledger is configured. Every call fails with
// ErrDisabled.
type Disabled struct{}

func (Disabled) RecordTournament(context.Context, string, string, int) (Receipt, error) {
	return Receipt{}, ErrDisabled
}

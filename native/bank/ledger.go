package bank

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nebula-labs-xyz/lendefi-core/storage"
)

var (
	// ErrInsufficientFunds fails the whole transfer; partial moves never
	// happen.
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	errInvalidAmount     = errors.New("bank: amount must be positive")
)

const ledgerKey = "bank/ledger"

// Ledger is the in-process multi-token balance book. The protocol engine
// moves value exclusively through it: TransferIn pulls tokens into the module
// custody account, TransferOut releases them.
type Ledger struct {
	mu       sync.RWMutex
	module   common.Address
	balances map[common.Address]map[common.Address]*big.Int
	supply   map[common.Address]*big.Int
}

// NewLedger creates an empty ledger with the given module custody account.
func NewLedger(module common.Address) *Ledger {
	return &Ledger{
		module:   module,
		balances: make(map[common.Address]map[common.Address]*big.Int),
		supply:   make(map[common.Address]*big.Int),
	}
}

// ModuleAccount returns the custody account transfers route through.
func (l *Ledger) ModuleAccount() common.Address { return l.module }

func (l *Ledger) balance(token, holder common.Address) *big.Int {
	if holders, ok := l.balances[token]; ok {
		if v, ok := holders[holder]; ok {
			return v
		}
	}
	return big.NewInt(0)
}

func (l *Ledger) setBalance(token, holder common.Address, amount *big.Int) {
	holders, ok := l.balances[token]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		l.balances[token] = holders
	}
	if amount.Sign() == 0 {
		delete(holders, holder)
		return
	}
	holders[holder] = amount
}

// Mint credits freshly issued tokens to the holder.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setBalance(token, to, new(big.Int).Add(l.balance(token, to), amount))
	l.supply[token] = new(big.Int).Add(l.totalSupply(token), amount)
	return nil
}

// Burn destroys tokens held by the holder.
func (l *Ledger) Burn(token, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	have := l.balance(token, from)
	if have.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	l.setBalance(token, from, new(big.Int).Sub(have, amount))
	l.supply[token] = new(big.Int).Sub(l.totalSupply(token), amount)
	return nil
}

// Transfer moves tokens between two accounts.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(token, from, to, amount)
}

func (l *Ledger) move(token, from, to common.Address, amount *big.Int) error {
	have := l.balance(token, from)
	if have.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	l.setBalance(token, from, new(big.Int).Sub(have, amount))
	l.setBalance(token, to, new(big.Int).Add(l.balance(token, to), amount))
	return nil
}

// TransferIn pulls tokens from the account into module custody.
func (l *Ledger) TransferIn(token, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(token, from, l.module, amount)
}

// TransferOut releases tokens from module custody to the account.
func (l *Ledger) TransferOut(token, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(token, l.module, to, amount)
}

// BalanceOf returns the holder's balance as a fresh value.
func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.balance(token, holder))
}

func (l *Ledger) totalSupply(token common.Address) *big.Int {
	if v, ok := l.supply[token]; ok {
		return v
	}
	return big.NewInt(0)
}

// TotalSupply returns the minted supply of the token.
func (l *Ledger) TotalSupply(token common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.totalSupply(token))
}

// TokenView binds the ledger to one token so single-token collaborator
// interfaces (share token, governance balance) can be satisfied directly.
type TokenView struct {
	ledger *Ledger
	token  common.Address
}

// Token returns a single-token view over the ledger.
func (l *Ledger) Token(token common.Address) *TokenView {
	return &TokenView{ledger: l, token: token}
}

func (v *TokenView) Mint(to common.Address, amount *big.Int) error {
	return v.ledger.Mint(v.token, to, amount)
}

func (v *TokenView) Burn(from common.Address, amount *big.Int) error {
	return v.ledger.Burn(v.token, from, amount)
}

func (v *TokenView) TotalSupply() *big.Int {
	return v.ledger.TotalSupply(v.token)
}

func (v *TokenView) BalanceOf(holder common.Address) *big.Int {
	return v.ledger.BalanceOf(v.token, holder)
}

type storedLedger struct {
	Module   string                       `json:"module"`
	Balances map[string]map[string]string `json:"balances"`
	Supply   map[string]string            `json:"supply"`
}

// Save writes a JSON snapshot of every balance and supply figure.
func (l *Ledger) Save(db storage.Database) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	stored := storedLedger{
		Module:   l.module.Hex(),
		Balances: make(map[string]map[string]string),
		Supply:   make(map[string]string),
	}
	for token, holders := range l.balances {
		if len(holders) == 0 {
			continue
		}
		entry := make(map[string]string, len(holders))
		for holder, amount := range holders {
			entry[holder.Hex()] = amount.String()
		}
		stored.Balances[token.Hex()] = entry
	}
	for token, amount := range l.supply {
		if amount.Sign() == 0 {
			continue
		}
		stored.Supply[token.Hex()] = amount.String()
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("bank: encode ledger: %w", err)
	}
	return db.Put([]byte(ledgerKey), raw)
}

// Load replaces ledger contents with the stored snapshot. A missing snapshot
// leaves the ledger empty.
func (l *Ledger) Load(db storage.Database) error {
	raw, err := db.Get([]byte(ledgerKey))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bank: read ledger: %w", err)
	}
	var stored storedLedger
	if err := json.Unmarshal(raw, &stored); err != nil {
		return fmt.Errorf("bank: decode ledger: %w", err)
	}
	balances := make(map[common.Address]map[common.Address]*big.Int)
	for token, holders := range stored.Balances {
		entry := make(map[common.Address]*big.Int, len(holders))
		for holder, amount := range holders {
			v, ok := new(big.Int).SetString(amount, 10)
			if !ok {
				return fmt.Errorf("bank: invalid balance %q", amount)
			}
			entry[common.HexToAddress(holder)] = v
		}
		balances[common.HexToAddress(token)] = entry
	}
	supply := make(map[common.Address]*big.Int)
	for token, amount := range stored.Supply {
		v, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return fmt.Errorf("bank: invalid supply %q", amount)
		}
		supply[common.HexToAddress(token)] = v
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if stored.Module != "" {
		l.module = common.HexToAddress(stored.Module)
	}
	l.balances = balances
	l.supply = supply
	return nil
}

// Tokens returns every token with at least one balance, in address order.
func (l *Ledger) Tokens() []common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tokens := make([]common.Address, 0, len(l.balances))
	for token, holders := range l.balances {
		if len(holders) > 0 {
			tokens = append(tokens, token)
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].Hex() < tokens[j].Hex()
	})
	return tokens
}

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nebula-labs-xyz/lendefi-core/native/lending"
)

const (
	positionsPrefix = "lending/positions/"
	protocolKey     = "lending/protocol"
	stampPrefix     = "lending/stamps/"
)

// LendingStore persists engine state as JSON records in a Database. It is
// the production implementation of the engine's persistence interface.
type LendingStore struct {
	db Database
}

func NewLendingStore(db Database) *LendingStore {
	return &LendingStore{db: db}
}

type storedCollateral struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type storedPosition struct {
	Owner               string             `json:"owner"`
	ID                  uint64             `json:"id"`
	Isolated            bool               `json:"isolated"`
	IsolatedAsset       string             `json:"isolatedAsset,omitempty"`
	Status              uint8              `json:"status"`
	Collateral          []storedCollateral `json:"collateral,omitempty"`
	Debt                string             `json:"debt"`
	LastInterestAccrual int64              `json:"lastInterestAccrual"`
}

type storedProtocolState struct {
	TotalBorrow                  string `json:"totalBorrow"`
	TotalSuppliedLiquidity       string `json:"totalSuppliedLiquidity"`
	TotalAccruedBorrowerInterest string `json:"totalAccruedBorrowerInterest"`
	TotalAccruedSupplierInterest string `json:"totalAccruedSupplierInterest"`
	TotalFlashLoanFees           string `json:"totalFlashLoanFees"`
}

func encodeAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func decodeAmount(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("storage: invalid amount %q", s)
	}
	return v, nil
}

func encodePosition(p *lending.Position) storedPosition {
	stored := storedPosition{
		Owner:               p.Owner.Hex(),
		ID:                  p.ID,
		Isolated:            p.Isolated,
		Status:              uint8(p.Status),
		Debt:                encodeAmount(p.Debt),
		LastInterestAccrual: p.LastInterestAccrual,
	}
	if p.Isolated {
		stored.IsolatedAsset = p.IsolatedAsset.Hex()
	}
	for _, entry := range p.Collateral {
		stored.Collateral = append(stored.Collateral, storedCollateral{
			Asset:  entry.Asset.Hex(),
			Amount: encodeAmount(entry.Amount),
		})
	}
	return stored
}

func decodePosition(stored storedPosition) (*lending.Position, error) {
	debt, err := decodeAmount(stored.Debt)
	if err != nil {
		return nil, err
	}
	position := &lending.Position{
		Owner:               common.HexToAddress(stored.Owner),
		ID:                  stored.ID,
		Isolated:            stored.Isolated,
		Status:              lending.PositionStatus(stored.Status),
		Debt:                debt,
		LastInterestAccrual: stored.LastInterestAccrual,
	}
	if stored.IsolatedAsset != "" {
		position.IsolatedAsset = common.HexToAddress(stored.IsolatedAsset)
	}
	for _, entry := range stored.Collateral {
		amount, err := decodeAmount(entry.Amount)
		if err != nil {
			return nil, err
		}
		position.Collateral = append(position.Collateral, lending.CollateralEntry{
			Asset:  common.HexToAddress(entry.Asset),
			Amount: amount,
		})
	}
	return position, nil
}

func positionsKey(owner common.Address) []byte {
	return []byte(positionsPrefix + owner.Hex())
}

func stampKey(supplier common.Address) []byte {
	return []byte(stampPrefix + supplier.Hex())
}

// GetPositions returns the owner's full position slice, empty when the owner
// has never opened one.
func (s *LendingStore) GetPositions(owner common.Address) ([]*lending.Position, error) {
	raw, err := s.db.Get(positionsKey(owner))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read positions: %w", err)
	}
	var stored []storedPosition
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("storage: decode positions: %w", err)
	}
	positions := make([]*lending.Position, 0, len(stored))
	for _, record := range stored {
		position, err := decodePosition(record)
		if err != nil {
			return nil, err
		}
		positions = append(positions, position)
	}
	return positions, nil
}

func (s *LendingStore) PutPositions(owner common.Address, positions []*lending.Position) error {
	stored := make([]storedPosition, 0, len(positions))
	for _, position := range positions {
		if position == nil {
			continue
		}
		stored = append(stored, encodePosition(position))
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("storage: encode positions: %w", err)
	}
	return s.db.Put(positionsKey(owner), raw)
}

// GetProtocolState returns nil when nothing has been persisted yet; the
// engine treats that as zeroed aggregates.
func (s *LendingStore) GetProtocolState() (*lending.ProtocolState, error) {
	raw, err := s.db.Get([]byte(protocolKey))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read protocol state: %w", err)
	}
	var stored storedProtocolState
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("storage: decode protocol state: %w", err)
	}
	state := &lending.ProtocolState{}
	if state.TotalBorrow, err = decodeAmount(stored.TotalBorrow); err != nil {
		return nil, err
	}
	if state.TotalSuppliedLiquidity, err = decodeAmount(stored.TotalSuppliedLiquidity); err != nil {
		return nil, err
	}
	if state.TotalAccruedBorrowerInterest, err = decodeAmount(stored.TotalAccruedBorrowerInterest); err != nil {
		return nil, err
	}
	if state.TotalAccruedSupplierInterest, err = decodeAmount(stored.TotalAccruedSupplierInterest); err != nil {
		return nil, err
	}
	if state.TotalFlashLoanFees, err = decodeAmount(stored.TotalFlashLoanFees); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *LendingStore) PutProtocolState(state *lending.ProtocolState) error {
	stored := storedProtocolState{
		TotalBorrow:                  encodeAmount(state.TotalBorrow),
		TotalSuppliedLiquidity:       encodeAmount(state.TotalSuppliedLiquidity),
		TotalAccruedBorrowerInterest: encodeAmount(state.TotalAccruedBorrowerInterest),
		TotalAccruedSupplierInterest: encodeAmount(state.TotalAccruedSupplierInterest),
		TotalFlashLoanFees:           encodeAmount(state.TotalFlashLoanFees),
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("storage: encode protocol state: %w", err)
	}
	return s.db.Put([]byte(protocolKey), raw)
}

func (s *LendingStore) GetSupplierStamp(supplier common.Address) (int64, error) {
	raw, err := s.db.Get(stampKey(supplier))
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: read supplier stamp: %w", err)
	}
	var ts int64
	if err := json.Unmarshal(raw, &ts); err != nil {
		return 0, fmt.Errorf("storage: decode supplier stamp: %w", err)
	}
	return ts, nil
}

func (s *LendingStore) PutSupplierStamp(supplier common.Address, ts int64) error {
	raw, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("storage: encode supplier stamp: %w", err)
	}
	return s.db.Put(stampKey(supplier), raw)
}

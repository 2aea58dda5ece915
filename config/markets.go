package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/nebula-labs-xyz/lendefi-core/native/registry"
)

// Market describes one collateral listing in the YAML manifest.
type Market struct {
	Symbol               string `yaml:"symbol"`
	Address              string `yaml:"address"`
	Decimals             uint8  `yaml:"decimals"`
	OracleDecimals       uint8  `yaml:"oracle_decimals"`
	BorrowThreshold      uint64 `yaml:"borrow_threshold"`
	LiquidationThreshold uint64 `yaml:"liquidation_threshold"`
	MaxSupply            string `yaml:"max_supply"`
	IsolationDebtCap     string `yaml:"isolation_debt_cap"`
	Tier                 string `yaml:"tier"`
	MinimumOracles       uint8  `yaml:"minimum_oracles"`
	// StaticPrice seeds a fixed-price feed for dev environments. Ignored when
	// empty.
	StaticPrice string `yaml:"static_price"`
}

// Manifest is the top-level market manifest document.
type Manifest struct {
	Markets []Market `yaml:"markets"`
}

// LoadManifest reads a YAML market manifest. A missing file yields an empty
// manifest so a dev node can boot with no listings.
func LoadManifest(path string) (*Manifest, error) {
	if strings.TrimSpace(path) == "" {
		return &Manifest{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manifest{}, nil
		}
		return nil, fmt.Errorf("config: read manifest %s: %w", path, err)
	}
	manifest := &Manifest{}
	if err := yaml.Unmarshal(raw, manifest); err != nil {
		return nil, fmt.Errorf("config: parse manifest %s: %w", path, err)
	}
	seen := make(map[common.Address]string, len(manifest.Markets))
	for i := range manifest.Markets {
		m := &manifest.Markets[i]
		if !common.IsHexAddress(m.Address) {
			return nil, fmt.Errorf("config: market %s: invalid address %q", m.Symbol, m.Address)
		}
		addr := common.HexToAddress(m.Address)
		if prev, ok := seen[addr]; ok {
			return nil, fmt.Errorf("config: market %s duplicates address of %s", m.Symbol, prev)
		}
		seen[addr] = m.Symbol
	}
	return manifest, nil
}

// TokenAddress returns the market's parsed token address.
func (m *Market) TokenAddress() common.Address {
	return common.HexToAddress(m.Address)
}

// StaticPriceAmount parses the optional dev price. Returns nil when unset.
func (m *Market) StaticPriceAmount() (*big.Int, error) {
	if strings.TrimSpace(m.StaticPrice) == "" {
		return nil, nil
	}
	price, ok := new(big.Int).SetString(m.StaticPrice, 10)
	if !ok || price.Sign() <= 0 {
		return nil, fmt.Errorf("config: market %s: invalid static price %q", m.Symbol, m.StaticPrice)
	}
	return price, nil
}

// AssetConfig converts the manifest entry to a registry listing. Validation of
// thresholds and caps is left to the registry so the bounds live in one place.
func (m *Market) AssetConfig() (*registry.Asset, error) {
	tier, err := registry.ParseTier(m.Tier)
	if err != nil {
		return nil, fmt.Errorf("config: market %s: %w", m.Symbol, err)
	}
	maxSupply, ok := new(big.Int).SetString(m.MaxSupply, 10)
	if !ok || maxSupply.Sign() <= 0 {
		return nil, fmt.Errorf("config: market %s: invalid max supply %q", m.Symbol, m.MaxSupply)
	}
	asset := &registry.Asset{
		Active:               true,
		Decimals:             m.Decimals,
		OracleDecimals:       m.OracleDecimals,
		BorrowThreshold:      m.BorrowThreshold,
		LiquidationThreshold: m.LiquidationThreshold,
		MaxSupplyThreshold:   maxSupply,
		Tier:                 tier,
		MinimumOracles:       m.MinimumOracles,
	}
	if strings.TrimSpace(m.IsolationDebtCap) != "" {
		debtCap, ok := new(big.Int).SetString(m.IsolationDebtCap, 10)
		if !ok || debtCap.Sign() <= 0 {
			return nil, fmt.Errorf("config: market %s: invalid isolation debt cap %q", m.Symbol, m.IsolationDebtCap)
		}
		asset.IsolationDebtCap = debtCap
	}
	return asset, nil
}

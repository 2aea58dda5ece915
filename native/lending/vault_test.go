package lending

import (
	"errors"
	"math/big"
	"testing"
)

func TestSupplyLiquidityMintsOneToOneInitially(t *testing.T) {
	fix := newFixture(t)
	minted, err := fix.engine.SupplyLiquidity(testAlice, quote(10_000))
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if minted.Cmp(quote(10_000)) != 0 {
		t.Fatalf("minted = %s, want %s", minted, quote(10_000))
	}
	if got := fix.shares.BalanceOf(testAlice); got.Cmp(quote(10_000)) != 0 {
		t.Fatalf("share balance = %s, want %s", got, quote(10_000))
	}
	if fix.state.protocol.TotalSuppliedLiquidity.Cmp(quote(10_000)) != 0 {
		t.Fatalf("total supplied = %s", fix.state.protocol.TotalSuppliedLiquidity)
	}
	if fix.state.stamps[testAlice] != testEpoch {
		t.Fatalf("supplier stamp = %d, want %d", fix.state.stamps[testAlice], testEpoch)
	}
}

func TestSupplyLiquidityProRataUnderYield(t *testing.T) {
	fix := newFixture(t)
	fix.supplyPool(t, 10_000)
	id := fix.openFunded(t, 2_000)
	if err := fix.engine.Borrow(testBob, id, quote(2_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	// Simulate realised yield sitting in the pool.
	fix.bank.credit(testBaseToken, testModule, quote(500))

	minted, err := fix.engine.SupplyLiquidity(testCarol, quote(5_000))
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	// 5000 x 10000 / (8500 idle + 2000 borrowed), floored.
	want := big.NewInt(4_761_904_761)
	if minted.Cmp(want) != 0 {
		t.Fatalf("minted = %s, want %s", minted, want)
	}
}

func TestExchangeRoundTrip(t *testing.T) {
	fix := newFixture(t)
	fix.supplyPool(t, 10_000)
	before := fix.bank.BalanceOf(testBaseToken, testAlice)
	value, err := fix.engine.Exchange(testAlice, quote(4_000))
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if value.Cmp(quote(4_000)) != 0 {
		t.Fatalf("value = %s, want %s", value, quote(4_000))
	}
	returned := new(big.Int).Sub(fix.bank.BalanceOf(testBaseToken, testAlice), before)
	if returned.Cmp(quote(4_000)) != 0 {
		t.Fatalf("returned = %s, want %s", returned, quote(4_000))
	}
	if fix.state.protocol.TotalSuppliedLiquidity.Cmp(quote(6_000)) != 0 {
		t.Fatalf("total supplied = %s, want %s", fix.state.protocol.TotalSuppliedLiquidity, quote(6_000))
	}
	if got := fix.shares.BalanceOf(testAlice); got.Cmp(quote(6_000)) != 0 {
		t.Fatalf("shares = %s, want %s", got, quote(6_000))
	}
}

func TestExchangeSkimsTreasuryBeforeRedemption(t *testing.T) {
	fix := newFixture(t)
	fix.supplyPool(t, 10_000)
	id := fix.openFunded(t, 10_000)
	if err := fix.engine.Borrow(testBob, id, quote(5_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	fix.advance(secondsPerYear)
	// Full repayment realises one year of 6% interest as pool yield.
	if err := fix.engine.Repay(testBob, id, quote(6_000)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	value, err := fix.engine.Exchange(testAlice, quote(10_000))
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	// Assets 10300 cover principal plus the 1% profit target, so 100 shares
	// go to the treasury first: 10000 x 10300 / 10100 floored.
	want := big.NewInt(10_198_019_801)
	if value.Cmp(want) != 0 {
		t.Fatalf("value = %s, want %s", value, want)
	}
	if got := fix.shares.BalanceOf(testTreasury); got.Cmp(quote(100)) != 0 {
		t.Fatalf("treasury shares = %s, want %s", got, quote(100))
	}
	if fix.state.protocol.TotalSuppliedLiquidity.Sign() != 0 {
		t.Fatalf("total supplied = %s, want 0", fix.state.protocol.TotalSuppliedLiquidity)
	}
	wantProfit := new(big.Int).Sub(want, quote(10_000))
	if fix.state.protocol.TotalAccruedSupplierInterest.Cmp(wantProfit) != 0 {
		t.Fatalf("supplier interest = %s, want %s", fix.state.protocol.TotalAccruedSupplierInterest, wantProfit)
	}
}

func TestExchangeFailsClosedWhileLiquidityBorrowed(t *testing.T) {
	fix := newFixture(t)
	fix.supplyPool(t, 10_000)
	id := fix.openFunded(t, 10_000)
	if err := fix.engine.Borrow(testBob, id, quote(5_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	sharesBefore := fix.shares.BalanceOf(testAlice)
	baseBefore := fix.bank.BalanceOf(testBaseToken, testAlice)
	if _, err := fix.engine.Exchange(testAlice, quote(10_000)); !errors.Is(err, errInsufficientLiquidity) {
		t.Fatalf("expected insufficient liquidity, got %v", err)
	}
	if got := fix.shares.BalanceOf(testAlice); got.Cmp(sharesBefore) != 0 {
		t.Fatalf("shares changed on failed redeem: %s -> %s", sharesBefore, got)
	}
	if got := fix.bank.BalanceOf(testBaseToken, testAlice); got.Cmp(baseBefore) != 0 {
		t.Fatalf("base balance changed on failed redeem: %s -> %s", baseBefore, got)
	}
	if got := fix.shares.BalanceOf(testTreasury); got.Sign() != 0 {
		t.Fatalf("treasury skim persisted on failed redeem: %s", got)
	}

	// A redemption the idle pool can still cover goes through.
	if _, err := fix.engine.Exchange(testAlice, quote(4_000)); err != nil {
		t.Fatalf("partial exchange: %v", err)
	}
}

func TestSupplyLiquidityRejectsDustDeposit(t *testing.T) {
	fix := newFixture(t)
	fix.supplyPool(t, 10_000)
	id := fix.openFunded(t, 10_000)
	if err := fix.engine.Borrow(testBob, id, quote(5_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	// Yield grows total assets past the share supply, so a one-unit deposit
	// floors to zero shares.
	fix.bank.credit(testBaseToken, testModule, quote(500))

	before := fix.bank.BalanceOf(testBaseToken, testAlice)
	if _, err := fix.engine.SupplyLiquidity(testAlice, big.NewInt(1)); !errors.Is(err, errInvalidAmount) {
		t.Fatalf("expected dust rejection, got %v", err)
	}
	if got := fix.bank.BalanceOf(testBaseToken, testAlice); got.Cmp(before) != 0 {
		t.Fatalf("deposit stranded in custody: %s -> %s", before, got)
	}
}

func TestExchangeRejectsOverdraw(t *testing.T) {
	fix := newFixture(t)
	fix.supplyPool(t, 1_000)
	if _, err := fix.engine.Exchange(testAlice, quote(1_001)); err == nil {
		t.Fatalf("expected overdraw rejection")
	}
}

func TestClaimRewardLifecycle(t *testing.T) {
	fix := newFixture(t)
	fix.supplyPool(t, 100_000)

	// Too early: the claim is a silent no-op.
	reward, err := fix.engine.ClaimReward(testAlice)
	if err != nil {
		t.Fatalf("early claim: %v", err)
	}
	if reward.Sign() != 0 {
		t.Fatalf("early reward = %s, want 0", reward)
	}

	fix.advance(fix.engine.Params().RewardInterval)
	eligible, err := fix.engine.IsRewardable(testAlice)
	if err != nil {
		t.Fatalf("rewardable: %v", err)
	}
	if !eligible {
		t.Fatalf("supplier should be rewardable")
	}
	reward, err = fix.engine.ClaimReward(testAlice)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if reward.Cmp(quote(2_000)) != 0 {
		t.Fatalf("reward = %s, want %s", reward, quote(2_000))
	}
	if got := fix.rewards.rewarded(testAlice); got.Cmp(quote(2_000)) != 0 {
		t.Fatalf("paid = %s, want %s", got, quote(2_000))
	}
	// The clock restarts on claim.
	reward, err = fix.engine.ClaimReward(testAlice)
	if err != nil {
		t.Fatalf("immediate reclaim: %v", err)
	}
	if reward.Sign() != 0 {
		t.Fatalf("reclaim reward = %s, want 0", reward)
	}
}

func TestClaimRewardRequiresMinimumSupply(t *testing.T) {
	fix := newFixture(t)
	// Below the 100,000 rewardable-supply floor.
	if _, err := fix.engine.SupplyLiquidity(testCarol, quote(50_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	fix.advance(fix.engine.Params().RewardInterval * 2)
	eligible, err := fix.engine.IsRewardable(testCarol)
	if err != nil {
		t.Fatalf("rewardable: %v", err)
	}
	if eligible {
		t.Fatalf("small supplier should not be rewardable")
	}
	reward, err := fix.engine.ClaimReward(testCarol)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if reward.Sign() != 0 {
		t.Fatalf("reward = %s, want 0", reward)
	}
}

func TestClaimRewardRespectsEcosystemCeiling(t *testing.T) {
	fix := newFixture(t)
	fix.rewards.ceiling = quote(1_500)
	fix.supplyPool(t, 100_000)
	fix.advance(fix.engine.Params().RewardInterval * 3)
	reward, err := fix.engine.ClaimReward(testAlice)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if reward.Cmp(quote(1_500)) != 0 {
		t.Fatalf("reward = %s, want ceiling %s", reward, quote(1_500))
	}
}

package oracle

import (
	"errors"
	"math/big"
	"sync"
	"time"
)

var errRoundNotFound = errors.New("oracle: round not found")

// StaticFeed is an in-memory Chainlink-style feed used for tests and manual
// overrides during incident response. Each Push appends a new round.
type StaticFeed struct {
	mu       sync.RWMutex
	decimals uint8
	rounds   []RoundData
}

// NewStaticFeed constructs an empty feed reporting answers at the supplied
// precision.
func NewStaticFeed(decimals uint8) *StaticFeed {
	return &StaticFeed{decimals: decimals}
}

// Push appends a round with the supplied answer and timestamp. Round ids are
// sequential starting at 1 and the round always answers itself.
func (f *StaticFeed) Push(answer *big.Int, updatedAt time.Time) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uint64(len(f.rounds) + 1)
	round := RoundData{RoundID: id, UpdatedAt: updatedAt, AnsweredInRound: id}
	if answer != nil {
		round.Answer = new(big.Int).Set(answer)
	}
	f.rounds = append(f.rounds, round)
}

// PushRound appends a fully specified round, allowing tests to model stuck
// feeds where the answered round lags the round id.
func (f *StaticFeed) PushRound(round RoundData) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if round.Answer != nil {
		round.Answer = new(big.Int).Set(round.Answer)
	}
	f.rounds = append(f.rounds, round)
}

// LatestRoundData returns the most recent round.
func (f *StaticFeed) LatestRoundData() (RoundData, error) {
	if f == nil {
		return RoundData{}, errRoundNotFound
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.rounds) == 0 {
		return RoundData{}, errRoundNotFound
	}
	return cloneRound(f.rounds[len(f.rounds)-1]), nil
}

// GetRoundData returns the round with the supplied id.
func (f *StaticFeed) GetRoundData(roundID uint64) (RoundData, error) {
	if f == nil {
		return RoundData{}, errRoundNotFound
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, round := range f.rounds {
		if round.RoundID == roundID {
			return cloneRound(round), nil
		}
	}
	return RoundData{}, errRoundNotFound
}

// Decimals reports the feed's answer precision.
func (f *StaticFeed) Decimals() uint8 {
	if f == nil {
		return 0
	}
	return f.decimals
}

func cloneRound(round RoundData) RoundData {
	clone := round
	if round.Answer != nil {
		clone.Answer = new(big.Int).Set(round.Answer)
	}
	return clone
}

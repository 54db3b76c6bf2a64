// Package history maintains per-account rolling transaction windows and the
// derived behavioral profiles used by feature extraction.
package history

import (
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/opensource-finance/merlin/internal/domain"
)

const shardCount = 64

// entry is the minimal per-transaction record retained in the window.
type entry struct {
	amount     float64
	merchantID string
	country    string
	ts         time.Time
}

// account holds one account's window plus incremental amount statistics.
// sum and sumSq are maintained on insert and evict so profile reads stay O(1)
// in the window size only for merchant-set copying.
type account struct {
	entries []entry // oldest first
	sum     float64
	sumSq   float64
}

type shard struct {
	mu       sync.Mutex
	accounts map[string]*account
}

// Store is a sharded in-memory account history keyed by account id. Shards
// lock independently, so concurrent scoring of different accounts never
// contends on a single lock; two transactions for the same account serialize
// on their shard.
type Store struct {
	shards  [shardCount]*shard
	maxSize int
	maxAge  time.Duration
}

// NewStore creates a history store bounding each account window to maxSize
// transactions and maxAge of history.
func NewStore(maxSize int, maxAge time.Duration) *Store {
	s := &Store{maxSize: maxSize, maxAge: maxAge}
	for i := range s.shards {
		s.shards[i] = &shard{accounts: make(map[string]*account)}
	}
	return s
}

func (s *Store) shardFor(accountID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(accountID))
	return s.shards[h.Sum32()%shardCount]
}

// Record appends a transaction to its account window, evicting entries that
// fall outside the size or age bound.
func (s *Store) Record(tx *domain.Transaction) {
	sh := s.shardFor(tx.AccountID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	acct := sh.accounts[tx.AccountID]
	if acct == nil {
		acct = &account{}
		sh.accounts[tx.AccountID] = acct
	}

	amt := tx.Amount()
	acct.entries = append(acct.entries, entry{
		amount:     amt,
		merchantID: tx.MerchantID,
		country:    tx.MerchantCountry,
		ts:         tx.Timestamp,
	})
	acct.sum += amt
	acct.sumSq += amt * amt

	s.evict(acct, tx.Timestamp)
}

// evict drops entries beyond the size bound or older than maxAge relative to
// the newest entry. Caller holds the shard lock.
func (s *Store) evict(acct *account, now time.Time) {
	cutoff := now.Add(-s.maxAge)
	drop := 0
	for drop < len(acct.entries) {
		if len(acct.entries)-drop > s.maxSize || acct.entries[drop].ts.Before(cutoff) {
			acct.sum -= acct.entries[drop].amount
			acct.sumSq -= acct.entries[drop].amount * acct.entries[drop].amount
			drop++
			continue
		}
		break
	}
	if drop > 0 {
		acct.entries = append(acct.entries[:0], acct.entries[drop:]...)
	}
}

// Profile returns a snapshot of the account's windowed behavior. The snapshot
// is detached: callers may read it without holding any lock, and later writes
// never mutate it. A missing account yields an empty profile, not an error.
func (s *Store) Profile(accountID string) *domain.AccountProfile {
	sh := s.shardFor(accountID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p := &domain.AccountProfile{AccountID: accountID}
	acct := sh.accounts[accountID]
	if acct == nil || len(acct.entries) == 0 {
		return p
	}

	n := len(acct.entries)
	p.TxCount = n
	p.MeanAmount = acct.sum / float64(n)
	if n > 1 {
		variance := (acct.sumSq - acct.sum*acct.sum/float64(n)) / float64(n-1)
		if variance > 0 {
			p.StddevAmount = math.Sqrt(variance)
		}
	}

	last := acct.entries[n-1]
	p.LastSeen = last.ts
	p.LastCountry = last.country

	p.Merchants = make(map[string]struct{}, n)
	for _, e := range acct.entries {
		p.Merchants[e.merchantID] = struct{}{}
	}
	return p
}

// CountSince returns the number of windowed transactions at or after since.
// Used by the velocity rule when no distributed counter is configured.
func (s *Store) CountSince(accountID string, since time.Time) int {
	sh := s.shardFor(accountID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	acct := sh.accounts[accountID]
	if acct == nil {
		return 0
	}
	count := 0
	for i := len(acct.entries) - 1; i >= 0; i-- {
		if acct.entries[i].ts.Before(since) {
			break
		}
		count++
	}
	return count
}

// AccountCount returns the number of accounts currently tracked.
func (s *Store) AccountCount() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.accounts)
		sh.mu.Unlock()
	}
	return total
}

package fill

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// LedgerHash computes the SHA-256 of the concatenated (entry_ts,
// entry_price, exit_ts, exit_price, net_pnl) tuples of every trade, in
// ledger order. Two runs of identical (play, window, provider seed)
// must produce the same hash; this is the trade-hash regression
// spec.md §4.14/§8 Testable Property 1 requires the determinism
// harness to check.
func LedgerHash(trades []*Trade) string {
	var b strings.Builder
	for _, t := range trades {
		fmt.Fprintf(&b, "%d|%.8f|%d|%.8f|%.8f\n",
			t.EntryTs.UnixNano(), t.EntryPrice, t.ExitTs.UnixNano(), t.ExitPrice, t.NetPnL)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

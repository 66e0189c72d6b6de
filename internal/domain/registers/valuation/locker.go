package valuation

import (
	"context"
	"fmt"
	"sort"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
)

// KeyLocker takes exclusive locks on named keys.
//
// Lock acquires keys in the given order and returns a release function to be
// called once the surrounding transaction has finished. Implementations give
// up after a bounded number of attempts with CONCURRENT_MODIFICATION.
type KeyLocker interface {
	Lock(ctx context.Context, keys []string) (release func(context.Context), err error)
}

// DocumentLockKey serializes concurrent postings of the same document.
func DocumentLockKey(tenantID, documentID id.ID) string {
	return fmt.Sprintf("doc:%s:%s", tenantID, documentID)
}

// LockKeys returns the lock keys of a posting: the document key followed by the
// distinct stock keys sorted by product, then warehouse. Every posting takes
// its locks in this global order, so two documents touching overlapping
// products cannot deadlock.
func LockKeys(doc entity.FinalizedDocument, events []entity.StockActivity) []string {
	seen := make(map[entity.StockKey]struct{}, len(events))
	keys := make([]entity.StockKey, 0, len(events))
	for i := range events {
		k := events[i].Key(doc.TenantID)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	out := make([]string, 0, len(keys)+1)
	out = append(out, DocumentLockKey(doc.TenantID, doc.ID))
	for _, k := range keys {
		out = append(out, k.LockKey())
	}
	return out
}

package broker

import (
	"github.com/imrishuroy/go-polytope-gateway/internal/collection"
	"github.com/imrishuroy/go-polytope-gateway/internal/request"
)

type userKey struct {
	collection string
	userID     string
}

// Admit walks the FIFO-ordered candidate list once and selects every request
// that fits the quality-of-service limits of its collection, given the
// currently active (processing) set. A blocked candidate is skipped, not a
// barrier: later candidates from other users are still considered, so one
// saturated user cannot stall a collection.
//
// Returns the admitted requests in their original order, plus the collection
// names of deferred candidates for accounting.
func Admit(candidates, active []request.Request, cols collection.Collections) (admitted []request.Request, deferred []string) {
	perCollection := make(map[string]int)
	perUser := make(map[userKey]int)
	for _, r := range active {
		perCollection[r.Collection]++
		perUser[userKey{r.Collection, r.User.ID}]++
	}

	for _, cand := range candidates {
		col, ok := cols[cand.Collection]
		if !ok {
			// Collection removed from config while requests were in flight.
			// Leave the candidate queued; an operator has to resolve it.
			deferred = append(deferred, cand.Collection)
			continue
		}

		if total := col.Limits.Total; total > 0 && perCollection[cand.Collection] >= total {
			deferred = append(deferred, cand.Collection)
			continue
		}
		key := userKey{cand.Collection, cand.User.ID}
		if limit := col.UserLimit(cand.User); limit > 0 && perUser[key] >= limit {
			deferred = append(deferred, cand.Collection)
			continue
		}

		perCollection[cand.Collection]++
		perUser[key]++
		admitted = append(admitted, cand)
	}
	return admitted, deferred
}

// Package verify implements exact Jaccard verification of the candidates
// recall surfaces, under a wall-clock budget.
package verify

import (
	"context"
	"sort"
	"time"

	"github.com/newsclust/newsclust/internal/config"
	"github.com/newsclust/newsclust/internal/fingerprint"
	"github.com/newsclust/newsclust/internal/gateway"
	"github.com/newsclust/newsclust/pkg/types"
)

// Verifier computes exact Jaccard similarity between a new article and
// each recalled candidate's body shingles, returning every candidate that
// clears the threshold. It is budget-bounded: after MinBudgetChecks
// candidates have been checked, it stops as soon as the wall-clock budget
// expires rather than scanning the full candidate list.
type Verifier struct {
	gw  gateway.Gateway
	fp  *fingerprint.Fingerprinter
	cfg config.VerifyConfig
}

// New creates a Verifier.
func New(gw gateway.Gateway, fp *fingerprint.Fingerprinter, cfg config.VerifyConfig) *Verifier {
	return &Verifier{gw: gw, fp: fp, cfg: cfg}
}

// Result is the outcome of verifying one article against its candidates.
type Result struct {
	// Matches holds every candidate whose Jaccard similarity cleared the
	// threshold, sorted descending by score. Empty means no match: the
	// article is unique (spec.md §4.5 step 1).
	Matches   []types.VerifiedMatch
	Checked   int  // candidates actually compared
	Truncated bool // true if the budget cut the scan short
}

// Verify scans candidates in proxy-score order (the order they arrive in),
// stopping early once the budget is exhausted and at least MinBudgetChecks
// candidates have been checked. Every candidate clearing the Jaccard
// threshold is kept, not just the best one, since the Cluster Manager's
// assignment algorithm needs the full verified set to decide between
// append and merge-candidate handling (spec.md §4.5).
func (v *Verifier) Verify(ctx context.Context, article types.Article, candidates []types.CandidateMatch) (Result, error) {
	shingles := v.fp.ShingleSetFor(article.Body)
	deadline := time.Now().Add(v.cfg.Budget)
	minChecks := v.cfg.MinBudgetChecks
	if minChecks <= 0 {
		minChecks = 20
	}

	var result Result

	for _, c := range candidates {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if result.Checked >= minChecks && time.Now().After(deadline) {
			result.Truncated = true
			break
		}

		other, err := v.gw.GetArticle(ctx, c.ArticleID)
		if err != nil {
			if err == gateway.ErrNotFound {
				continue
			}
			return result, err
		}

		otherShingles := v.fp.ShingleSetFor(other.Body)
		j := fingerprint.Jaccard(shingles, otherShingles)
		result.Checked++

		if j >= v.cfg.JaccardThreshold {
			result.Matches = append(result.Matches, types.VerifiedMatch{
				ArticleID: c.ArticleID,
				ClusterID: c.ClusterID,
				Jaccard:   j,
			})
		}
	}

	sort.SliceStable(result.Matches, func(i, j int) bool {
		return result.Matches[i].Jaccard > result.Matches[j].Jaccard
	})

	return result, nil
}

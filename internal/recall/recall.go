// Package recall implements candidate recall: given a new article's
// fingerprint, find a bounded, ranked set of existing articles likely to
// be near-duplicates (with the cluster each belongs to, if any), for the
// verifier to check exactly.
package recall

import (
	"context"
	"sort"
	"sync"

	"github.com/newsclust/newsclust/internal/config"
	"github.com/newsclust/newsclust/internal/gateway"
	"github.com/newsclust/newsclust/pkg/types"
)

// Recaller finds candidate articles for a new article by unioning SimHash
// chunk matches (exact recall for near-duplicates within Hamming distance
// 3) with LSH band matches (probabilistic recall for looser near-dupes),
// then ranks and truncates the union to a bounded candidate set.
type Recaller struct {
	gw  gateway.Gateway
	cfg config.RecallConfig
}

// New creates a Recaller over the given gateway and recall tunables.
func New(gw gateway.Gateway, cfg config.RecallConfig) *Recaller {
	return &Recaller{gw: gw, cfg: cfg}
}

type scoredCandidate struct {
	clusterID  string
	articleID  string
	dist       int
	votes      int
	score      float64
	topicBoost bool
}

// FindCandidates returns up to cfg.MaxCandidates candidates, at most
// cfg.MaxPerCluster per cluster, ordered best-first. Candidates that
// belong to no cluster are not subject to the per-cluster cap.
func (r *Recaller) FindCandidates(ctx context.Context, article types.Article, fp types.Fingerprint) ([]types.CandidateMatch, error) {
	var chunkIDs []string
	var bandVotes map[string]int
	var chunkErr, bandErr error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		chunkIDs, chunkErr = r.gw.FindBySimHashChunks(ctx, fp.SimHash)
	}()
	go func() {
		defer wg.Done()
		bandVotes, bandErr = r.gw.FindByLSHBands(ctx, fp.LSHBands)
	}()
	wg.Wait()

	if chunkErr != nil {
		return nil, chunkErr
	}
	if bandErr != nil {
		return nil, bandErr
	}

	union := make(map[string]struct{}, len(chunkIDs)+len(bandVotes))
	for _, id := range chunkIDs {
		union[id] = struct{}{}
	}
	for id := range bandVotes {
		union[id] = struct{}{}
	}
	delete(union, article.ID)

	scored := make([]scoredCandidate, 0, len(union))
	for id := range union {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// An unassigned candidate (still pending, or previously unique)
		// carries an empty ClusterID forward rather than being dropped:
		// the Cluster Manager's create-cluster case (spec.md §4.5 step 3)
		// needs exactly these candidates to seed a brand-new cluster.
		clusterID, err := r.gw.ClusterIDForArticle(ctx, id)
		if err != nil && err != gateway.ErrNotFound {
			return nil, err
		}

		otherFP, err := r.gw.GetFingerprint(ctx, id)
		if err != nil {
			if err == gateway.ErrNotFound {
				continue
			}
			return nil, err
		}

		other, err := r.gw.GetArticle(ctx, id)
		if err != nil {
			if err == gateway.ErrNotFound {
				continue
			}
			return nil, err
		}
		if other.State == types.ArticleDeleted {
			// Deleted articles are detached from clustering entirely
			// (spec.md §4.3 step 3) and must never resurface as candidates.
			continue
		}

		dist := fp.SimHash.Distance(otherFP.SimHash)
		votes := bandVotes[id]
		topicBoost := article.TopicID != "" && other.TopicID == article.TopicID

		scored = append(scored, scoredCandidate{
			clusterID:  clusterID,
			articleID:  id,
			dist:       dist,
			votes:      votes,
			score:      proxyScore(dist, votes),
			topicBoost: topicBoost,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].topicBoost && !scored[j].topicBoost
	})

	maxPerCluster := r.cfg.MaxPerCluster
	if maxPerCluster <= 0 {
		maxPerCluster = 3
	}
	maxCandidates := r.cfg.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = 50
	}

	perCluster := make(map[string]int)
	candidates := make([]types.CandidateMatch, 0, maxCandidates)
	for _, s := range scored {
		if s.clusterID != "" && perCluster[s.clusterID] >= maxPerCluster {
			continue
		}
		perCluster[s.clusterID]++
		candidates = append(candidates, types.CandidateMatch{
			ClusterID:    s.clusterID,
			ArticleID:    s.articleID,
			SimHashDist:  s.dist,
			ProxyScore:   s.score,
			TopicBoosted: s.topicBoost,
		})
		if len(candidates) >= maxCandidates {
			break
		}
	}

	return candidates, nil
}

// proxyScore combines LSH band votes and SimHash distance into a single
// ranking value: more shared bands and a smaller Hamming distance both
// increase the score. This is only used to order candidates for
// verification; it never decides similarity itself.
func proxyScore(dist, votes int) float64 {
	return float64(votes)*10 - float64(dist)
}

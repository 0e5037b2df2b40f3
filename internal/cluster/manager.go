// Package cluster implements the Cluster Manager: the only component
// allowed to create, grow, or admit members into a cluster. It enforces
// single-winner-per-article assignment and monotone cluster state under
// concurrent ingestion, using the Index Gateway's optimistic versioning
// for all cross-worker coordination (no in-process lock is held across a
// gateway call).
package cluster

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/newsclust/newsclust/internal/fingerprint"
	"github.com/newsclust/newsclust/internal/gateway"
	"github.com/newsclust/newsclust/pkg/types"
)

// MaxVersionConflictRetries bounds the read-recompute-retry loop the
// Manager runs on a lost optimistic-concurrency race (spec.md §4.5).
const MaxVersionConflictRetries = 5

// ErrConflictExhausted is returned when MaxVersionConflictRetries lost
// races in a row leave the assignment unresolved; the caller (the
// ingestion pipeline) surfaces this as CLUSTER_CONFLICT and requeues.
var ErrConflictExhausted = errors.New("cluster: version conflict retries exhausted")

// Event describes one cluster-assignment transition, for an optional
// downstream observer such as the live websocket feed or an audit log.
type Event struct {
	ArticleID      string
	ClusterID      string
	Outcome        types.IngestOutcome
	Jaccard        float64
	MergeCandidate bool
}

// EventSink receives assignment events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

// Manager owns cluster creation, growth, and representative/centroid
// maintenance.
type Manager struct {
	gw   gateway.Gateway
	sink EventSink
	log  zerolog.Logger
}

// New creates a Manager over the given Index Gateway. sink may be nil.
func New(gw gateway.Gateway, sink EventSink, log zerolog.Logger) *Manager {
	return &Manager{gw: gw, sink: sink, log: log}
}

// Assign runs the C1/C2 assignment algorithm (spec.md §4.5) for a newly
// fingerprinted article given its verified matches M, and returns the
// terminal IngestResult. Exactly one of "matched" or "unique" is ever
// written for a given article (C1); a cluster's size only grows here and
// its centroid only ever moves towards the elementwise minimum (C2).
func (m *Manager) Assign(ctx context.Context, article types.Article, fp types.Fingerprint, matches []types.VerifiedMatch) (types.IngestResult, error) {
	if len(matches) == 0 {
		// No cluster membership to record: absence from the article/cluster
		// index is itself the "unique" state (spec.md §3 invariant:
		// cluster_id is non-null iff cluster_status == matched).
		result := types.IngestResult{ArticleID: article.ID, Outcome: types.OutcomeUnique}
		m.publish(result)
		return result, nil
	}

	sorted := make([]types.VerifiedMatch, len(matches))
	copy(sorted, matches)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Jaccard > sorted[j].Jaccard })

	distinct := distinctClusterIDs(sorted)

	for attempt := 0; attempt < MaxVersionConflictRetries; attempt++ {
		var result types.IngestResult
		var err error

		switch len(distinct) {
		case 0:
			result, err = m.createCluster(ctx, article, fp, sorted)
		case 1:
			result, err = m.appendToCluster(ctx, distinct[0], article, fp, sorted[0].Jaccard, false)
		default:
			best := sorted[0]
			result, err = m.appendToCluster(ctx, best.ClusterID, article, fp, best.Jaccard, true)
		}

		if err == gateway.ErrVersionConflict {
			// Re-read-and-retry: the verified match set M does not
			// change across retries (spec.md §4.5), only the fresh
			// cluster state steps 3-5 are recomputed against.
			continue
		}
		if err != nil {
			return types.IngestResult{}, err
		}

		m.publish(result)
		return result, nil
	}

	m.log.Warn().Str("article_id", article.ID).Msg("cluster assignment exhausted version-conflict retries")
	return types.IngestResult{}, ErrConflictExhausted
}

func distinctClusterIDs(matches []types.VerifiedMatch) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, mtch := range matches {
		if mtch.ClusterID == "" {
			continue
		}
		if _, ok := seen[mtch.ClusterID]; !ok {
			seen[mtch.ClusterID] = struct{}{}
			ids = append(ids, mtch.ClusterID)
		}
	}
	return ids
}

// memberSeed is the information needed to pick an initial representative
// among the founding members of a brand-new cluster.
type memberSeed struct {
	articleID   string
	minhash     types.MinHashSignature
	publishTime int64
	isNew       bool
}

// createCluster handles spec.md §4.5 step 3: no matched peer has a
// cluster yet, so the new article and every still-unclustered matched
// peer found a cluster together.
func (m *Manager) createCluster(ctx context.Context, article types.Article, fp types.Fingerprint, matches []types.VerifiedMatch) (types.IngestResult, error) {
	seeds := []memberSeed{{articleID: article.ID, minhash: fp.MinHash, publishTime: article.PublishTime.Unix(), isNew: true}}
	seen := map[string]struct{}{article.ID: {}}
	peerArticles := make(map[string]types.Article)
	peerFPs := make(map[string]types.Fingerprint)
	peerJaccard := make(map[string]float64)
	var bestJaccard float64

	for _, mtch := range matches {
		if mtch.ClusterID != "" {
			continue
		}
		if _, ok := seen[mtch.ArticleID]; ok {
			continue
		}
		peerFP, err := m.gw.GetFingerprint(ctx, mtch.ArticleID)
		if err != nil {
			return types.IngestResult{}, err
		}
		peerArticle, err := m.gw.GetArticle(ctx, mtch.ArticleID)
		if err != nil {
			return types.IngestResult{}, err
		}
		seeds = append(seeds, memberSeed{articleID: mtch.ArticleID, minhash: peerFP.MinHash, publishTime: peerArticle.PublishTime.Unix()})
		seen[mtch.ArticleID] = struct{}{}
		peerArticles[mtch.ArticleID] = peerArticle
		peerFPs[mtch.ArticleID] = peerFP
		peerJaccard[mtch.ArticleID] = mtch.Jaccard
		if mtch.Jaccard > bestJaccard {
			bestJaccard = mtch.Jaccard
		}
	}

	// Founding members are written to MemberIDs in publish-time order
	// (spec.md §8 scenario 2: "insertion order = assignment order"), not
	// new-article-first.
	sort.SliceStable(seeds, func(i, j int) bool { return seeds[i].publishTime < seeds[j].publishTime })

	repID, repScore := pickRepresentative(seeds)

	memberIDs := make([]string, len(seeds))
	signatures := make([]types.MinHashSignature, len(seeds))
	for i, s := range seeds {
		memberIDs[i] = s.articleID
		signatures[i] = s.minhash
	}

	cluster := &types.Cluster{
		ID:                  uuid.NewString(),
		State:               types.ClusterActive,
		MemberIDs:           memberIDs,
		RepresentativeID:    repID,
		RepresentativeScore: repScore,
		Centroid:            fingerprint.Centroid(signatures),
	}

	if err := m.gw.CreateCluster(ctx, cluster); err != nil {
		return types.IngestResult{}, err
	}

	for _, id := range memberIDs {
		if err := m.gw.AssignArticleToCluster(ctx, id, cluster.ID); err != nil && err != gateway.ErrVersionConflict {
			return types.IngestResult{}, err
		}
	}

	// The newly-ingested article's own Article record is upserted by the
	// ingestion pipeline once Assign returns; the founding peers pulled
	// into this brand-new cluster have no other caller that will ever
	// write their outcome, so the Manager does it here (spec.md §3
	// invariant: cluster_id is non-null iff cluster_status == matched).
	now := time.Now().UTC()
	for id, peerArticle := range peerArticles {
		jaccard := peerJaccard[id]
		peerArticle.ClusterID = cluster.ID
		peerArticle.ClusterStatus = types.ClusterStatusMatched
		peerArticle.SimilarityScore = &jaccard
		peerArticle.UpdatedAt = now
		if err := m.gw.PutArticle(ctx, peerArticle, peerFPs[id]); err != nil {
			return types.IngestResult{}, err
		}
	}

	return types.IngestResult{
		ArticleID: article.ID,
		ClusterID: cluster.ID,
		Outcome:   types.OutcomeMatched,
		Jaccard:   bestJaccard,
	}, nil
}

// appendToCluster handles spec.md §4.5 steps 4 and 5: admit article to an
// existing cluster, recomputing the centroid (always) and the
// representative (only if bounded-cost heuristic says it changed).
func (m *Manager) appendToCluster(ctx context.Context, clusterID string, article types.Article, fp types.Fingerprint, jaccard float64, mergeCandidate bool) (types.IngestResult, error) {
	existing, err := m.gw.GetCluster(ctx, clusterID)
	if err != nil {
		return types.IngestResult{}, err
	}

	for _, id := range existing.MemberIDs {
		if id == article.ID {
			// Already a member: idempotent retry of the same assignment
			// (spec.md §4.6 step 3 / P5).
			return types.IngestResult{ArticleID: article.ID, ClusterID: clusterID, Outcome: types.OutcomeMatched, Jaccard: jaccard, MergeCandidate: mergeCandidate}, nil
		}
	}

	newCentroid := fingerprint.Centroid([]types.MinHashSignature{existing.Centroid, fp.MinHash})

	// Representative recomputation runs only if the new member's
	// estimated average similarity to the rest of the cluster (the
	// cluster's centroid before this append) exceeds the current
	// representative's cached average, bounding the work to one
	// MinHash estimate per append rather than an O(n) rescan.
	repID := existing.RepresentativeID
	repScore := existing.RepresentativeScore
	candidateScore := fingerprint.EstimateJaccard(fp.MinHash, existing.Centroid)
	if candidateScore > repScore {
		repID = article.ID
		repScore = candidateScore
	}

	updated := &types.Cluster{
		ID:                  existing.ID,
		State:               existing.State,
		MemberIDs:           append(append([]string{}, existing.MemberIDs...), article.ID),
		RepresentativeID:    repID,
		RepresentativeScore: repScore,
		Centroid:            newCentroid,
		CentroidBands:       existing.CentroidBands,
		MergedInto:          existing.MergedInto,
		CreatedAt:           existing.CreatedAt,
	}

	if err := m.gw.UpdateCluster(ctx, updated, existing.Version); err != nil {
		return types.IngestResult{}, err
	}

	if err := m.gw.AssignArticleToCluster(ctx, article.ID, clusterID); err != nil && err != gateway.ErrVersionConflict {
		return types.IngestResult{}, err
	}

	if mergeCandidate {
		m.log.Info().
			Str("article_id", article.ID).
			Str("winner_cluster_id", clusterID).
			Float64("jaccard", jaccard).
			Msg("merge_candidate: article matched two or more distinct clusters, admitted to highest-scoring only")
	}

	return types.IngestResult{
		ArticleID:      article.ID,
		ClusterID:      clusterID,
		Outcome:        types.OutcomeMatched,
		Jaccard:        jaccard,
		MergeCandidate: mergeCandidate,
	}, nil
}

// pickRepresentative picks the founding member with the maximum average
// MinHash-estimated Jaccard to the rest, breaking ties by earliest
// publish time then lowest article ID (spec.md §3). With few founding
// members this full pairwise scan is cheap; it is only the later,
// per-append recomputation that must stay bounded.
func pickRepresentative(seeds []memberSeed) (string, float64) {
	bestIdx := 0
	bestAvg := -1.0
	for i, s := range seeds {
		var total float64
		for j, other := range seeds {
			if i == j {
				continue
			}
			total += fingerprint.EstimateJaccard(s.minhash, other.minhash)
		}
		avg := total
		if len(seeds) > 1 {
			avg = total / float64(len(seeds)-1)
		}

		switch {
		case avg > bestAvg:
			bestAvg = avg
			bestIdx = i
		case avg == bestAvg:
			if s.publishTime < seeds[bestIdx].publishTime {
				bestIdx = i
			} else if s.publishTime == seeds[bestIdx].publishTime && s.articleID < seeds[bestIdx].articleID {
				bestIdx = i
			}
		}
	}
	return seeds[bestIdx].articleID, bestAvg
}

// Remove detaches articleID from its current cluster, recomputing the
// centroid from the remaining members' MinHash signatures and, if the
// removed article was the representative, re-running the §3 tie-break
// over whoever is left. A cluster whose membership falls to zero is
// torn down entirely (spec.md §3: "A cluster is deleted when size falls
// to zero"). Remove is a no-op if the article is not currently
// clustered.
func (m *Manager) Remove(ctx context.Context, articleID string) error {
	clusterID, err := m.gw.ClusterIDForArticle(ctx, articleID)
	if err == gateway.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	for attempt := 0; attempt < MaxVersionConflictRetries; attempt++ {
		cl, err := m.gw.GetCluster(ctx, clusterID)
		if err == gateway.ErrNotFound {
			return nil // already torn down by a racing delete
		}
		if err != nil {
			return err
		}

		remaining := make([]string, 0, len(cl.MemberIDs))
		for _, id := range cl.MemberIDs {
			if id != articleID {
				remaining = append(remaining, id)
			}
		}
		if len(remaining) == len(cl.MemberIDs) {
			return nil // article was already not a member
		}

		if err := m.gw.DeleteArticleFromCluster(ctx, clusterID, articleID, cl.Version); err != nil {
			if err == gateway.ErrVersionConflict {
				continue
			}
			return err
		}

		if len(remaining) == 0 {
			return m.gw.DeleteCluster(ctx, clusterID)
		}

		if cl.RepresentativeID == articleID {
			return m.recomputeRepresentative(ctx, clusterID, remaining)
		}
		signatures := make([]types.MinHashSignature, 0, len(remaining))
		for _, id := range remaining {
			peerFP, err := m.gw.GetFingerprint(ctx, id)
			if err != nil {
				return err
			}
			signatures = append(signatures, peerFP.MinHash)
		}
		shrunk, err := m.gw.GetCluster(ctx, clusterID)
		if err != nil {
			return err
		}
		shrunk.Centroid = fingerprint.Centroid(signatures)
		return m.gw.UpdateCluster(ctx, shrunk, shrunk.Version)
	}

	m.log.Warn().Str("article_id", articleID).Str("cluster_id", clusterID).Msg("cluster removal exhausted version-conflict retries")
	return ErrConflictExhausted
}

// recomputeRepresentative re-derives the representative and centroid
// over a cluster's surviving members after the previous representative
// was removed; unlike the bounded per-append heuristic, this is a full
// pairwise rescan, acceptable since member removal is rare compared to
// appends.
func (m *Manager) recomputeRepresentative(ctx context.Context, clusterID string, remaining []string) error {
	seeds := make([]memberSeed, 0, len(remaining))
	signatures := make([]types.MinHashSignature, 0, len(remaining))
	for _, id := range remaining {
		peerFP, err := m.gw.GetFingerprint(ctx, id)
		if err != nil {
			return err
		}
		peerArticle, err := m.gw.GetArticle(ctx, id)
		if err != nil {
			return err
		}
		seeds = append(seeds, memberSeed{articleID: id, minhash: peerFP.MinHash, publishTime: peerArticle.PublishTime.Unix()})
		signatures = append(signatures, peerFP.MinHash)
	}

	repID, repScore := pickRepresentative(seeds)

	existing, err := m.gw.GetCluster(ctx, clusterID)
	if err != nil {
		return err
	}
	updated := &types.Cluster{
		ID:                  existing.ID,
		State:               existing.State,
		MemberIDs:           existing.MemberIDs,
		RepresentativeID:    repID,
		RepresentativeScore: repScore,
		Centroid:            fingerprint.Centroid(signatures),
		CentroidBands:       existing.CentroidBands,
		MergedInto:          existing.MergedInto,
		CreatedAt:           existing.CreatedAt,
	}
	return m.gw.UpdateCluster(ctx, updated, existing.Version)
}

func (m *Manager) publish(result types.IngestResult) {
	if m.sink == nil {
		return
	}
	m.sink.Publish(Event{
		ArticleID:      result.ArticleID,
		ClusterID:      result.ClusterID,
		Outcome:        result.Outcome,
		Jaccard:        result.Jaccard,
		MergeCandidate: result.MergeCandidate,
	})
}

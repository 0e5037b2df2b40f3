package cluster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/newsclust/newsclust/internal/fingerprint"
	"github.com/newsclust/newsclust/internal/gateway"
	"github.com/newsclust/newsclust/pkg/types"
)

func seedArticle(t *testing.T, ctx context.Context, store *gateway.MemStore, fp *fingerprint.Fingerprinter, id, body string, publishTime time.Time) types.Fingerprint {
	t.Helper()
	sig := fp.Compute(id, body)
	article := types.Article{ID: id, Body: body, PublishTime: publishTime}
	if err := store.PutArticle(ctx, article, sig); err != nil {
		t.Fatalf("PutArticle(%s): %v", id, err)
	}
	return sig
}

func TestManager_Assign_NoMatchesIsUnique(t *testing.T) {
	ctx := context.Background()
	store := gateway.NewMemStore()
	mgr := New(store, nil, zerolog.Nop())

	result, err := mgr.Assign(ctx, types.Article{ID: "a1"}, types.Fingerprint{}, nil)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if result.Outcome != types.OutcomeUnique {
		t.Errorf("Outcome = %v, want Unique", result.Outcome)
	}
	if result.ClusterID != "" {
		t.Errorf("ClusterID = %q, want empty", result.ClusterID)
	}
}

func TestManager_Assign_CreatesClusterFromUnclusteredMatch(t *testing.T) {
	ctx := context.Background()
	store := gateway.NewMemStore()
	fp := fingerprint.New(128, 20, 6)
	mgr := New(store, nil, zerolog.Nop())

	body := "Central bank holds interest rates steady amid inflation concerns this quarter."
	seedArticle(t, ctx, store, fp, "a1", body, time.Now().Add(-time.Hour))

	newArticle := types.Article{ID: "a2", Body: body, PublishTime: time.Now()}
	newFP := fp.Compute("a2", body)
	if err := store.PutArticle(ctx, newArticle, newFP); err != nil {
		t.Fatalf("PutArticle: %v", err)
	}

	matches := []types.VerifiedMatch{{ArticleID: "a1", ClusterID: "", Jaccard: 1.0}}
	result, err := mgr.Assign(ctx, newArticle, newFP, matches)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if result.Outcome != types.OutcomeMatched {
		t.Fatalf("Outcome = %v, want Matched", result.Outcome)
	}
	if result.ClusterID == "" {
		t.Fatal("expected a new cluster ID")
	}

	cl, err := store.GetCluster(ctx, result.ClusterID)
	if err != nil {
		t.Fatalf("GetCluster: %v", err)
	}
	if cl.Size() != 2 {
		t.Errorf("cluster size = %d, want 2", cl.Size())
	}
	// representative tie-break: equal avg Jaccard, earliest publish_time wins.
	if cl.RepresentativeID != "a1" {
		t.Errorf("RepresentativeID = %q, want a1 (earlier publish time)", cl.RepresentativeID)
	}
	// founding members are ordered by publish time, earliest first.
	if want := []string{"a1", "a2"}; len(cl.MemberIDs) != 2 || cl.MemberIDs[0] != want[0] || cl.MemberIDs[1] != want[1] {
		t.Errorf("MemberIDs = %v, want %v", cl.MemberIDs, want)
	}

	// a1 was an unclustered peer pulled into the brand-new cluster; its
	// own Article record must reflect the assignment too, not just a2's.
	peer, err := store.GetArticle(ctx, "a1")
	if err != nil {
		t.Fatalf("GetArticle(a1): %v", err)
	}
	if peer.ClusterID != result.ClusterID {
		t.Errorf("a1 ClusterID = %q, want %q", peer.ClusterID, result.ClusterID)
	}
	if peer.ClusterStatus != types.ClusterStatusMatched {
		t.Errorf("a1 ClusterStatus = %v, want matched", peer.ClusterStatus)
	}
	if peer.SimilarityScore == nil || *peer.SimilarityScore != 1.0 {
		t.Errorf("a1 SimilarityScore = %v, want 1.0", peer.SimilarityScore)
	}
}

func TestManager_Assign_AppendsToSingleCluster(t *testing.T) {
	ctx := context.Background()
	store := gateway.NewMemStore()
	fp := fingerprint.New(128, 20, 6)
	mgr := New(store, nil, zerolog.Nop())

	body := "Shares of the technology sector rallied following the earnings announcement today."
	seedArticle(t, ctx, store, fp, "a1", body, time.Now())

	cluster := &types.Cluster{ID: "c1", State: types.ClusterActive, MemberIDs: []string{"a1"}, RepresentativeID: "a1"}
	if err := store.CreateCluster(ctx, cluster); err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}
	if err := store.AssignArticleToCluster(ctx, "a1", "c1"); err != nil {
		t.Fatalf("AssignArticleToCluster: %v", err)
	}

	newArticle := types.Article{ID: "a2", Body: body, PublishTime: time.Now()}
	newFP := fp.Compute("a2", body)
	store.PutArticle(ctx, newArticle, newFP)

	matches := []types.VerifiedMatch{{ArticleID: "a1", ClusterID: "c1", Jaccard: 0.95}}
	result, err := mgr.Assign(ctx, newArticle, newFP, matches)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if result.ClusterID != "c1" {
		t.Errorf("ClusterID = %q, want c1", result.ClusterID)
	}

	cl, _ := store.GetCluster(ctx, "c1")
	if cl.Size() != 2 {
		t.Errorf("cluster size = %d, want 2", cl.Size())
	}
}

func TestManager_Assign_MultipleClustersPicksHighestScoreAndLeavesOthers(t *testing.T) {
	ctx := context.Background()
	store := gateway.NewMemStore()
	mgr := New(store, nil, zerolog.Nop())

	c1 := &types.Cluster{ID: "c1", State: types.ClusterActive, MemberIDs: []string{"a1"}, RepresentativeID: "a1"}
	c2 := &types.Cluster{ID: "c2", State: types.ClusterActive, MemberIDs: []string{"a7"}, RepresentativeID: "a7"}
	store.CreateCluster(ctx, c1)
	store.CreateCluster(ctx, c2)
	store.AssignArticleToCluster(ctx, "a1", "c1")
	store.AssignArticleToCluster(ctx, "a7", "c2")

	article := types.Article{ID: "a5", PublishTime: time.Now()}
	store.PutArticle(ctx, article, types.Fingerprint{ArticleID: "a5"})

	matches := []types.VerifiedMatch{
		{ArticleID: "a1", ClusterID: "c1", Jaccard: 0.85},
		{ArticleID: "a7", ClusterID: "c2", Jaccard: 0.90},
	}

	result, err := mgr.Assign(ctx, article, types.Fingerprint{ArticleID: "a5"}, matches)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if result.ClusterID != "c2" {
		t.Errorf("ClusterID = %q, want c2 (highest scoring match)", result.ClusterID)
	}
	if !result.MergeCandidate {
		t.Error("expected MergeCandidate to be set")
	}

	gotC1, _ := store.GetCluster(ctx, "c1")
	if gotC1.Size() != 1 {
		t.Errorf("c1 should be untouched, size = %d", gotC1.Size())
	}
	gotC2, _ := store.GetCluster(ctx, "c2")
	if gotC2.Size() != 2 {
		t.Errorf("c2 should have grown to 2, got %d", gotC2.Size())
	}
}

// TestManager_ConcurrentAppend_SingleWinner covers P6: N workers
// concurrently assigning N different new articles that all match the
// same existing cluster must all succeed, with no duplicate cluster
// created and the final cluster size equal to 1+N.
func TestManager_ConcurrentAppend_SingleWinner(t *testing.T) {
	ctx := context.Background()
	store := gateway.NewMemStore()
	mgr := New(store, nil, zerolog.Nop())

	store.PutArticle(ctx, types.Article{ID: "x", PublishTime: time.Now()}, types.Fingerprint{ArticleID: "x"})
	cluster := &types.Cluster{ID: "cx", State: types.ClusterActive, MemberIDs: []string{"x"}, RepresentativeID: "x"}
	store.CreateCluster(ctx, cluster)
	store.AssignArticleToCluster(ctx, "x", "cx")

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	results := make([]types.IngestResult, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := articleIDFor(i)
			article := types.Article{ID: id, PublishTime: time.Now()}
			store.PutArticle(ctx, article, types.Fingerprint{ArticleID: id})
			matches := []types.VerifiedMatch{{ArticleID: "x", ClusterID: "cx", Jaccard: 0.9}}
			results[i], errs[i] = mgr.Assign(ctx, article, types.Fingerprint{ArticleID: id}, matches)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: Assign: %v", i, err)
		}
		if results[i].ClusterID != "cx" {
			t.Errorf("worker %d: ClusterID = %q, want cx", i, results[i].ClusterID)
		}
	}

	final, err := store.GetCluster(ctx, "cx")
	if err != nil {
		t.Fatalf("GetCluster: %v", err)
	}
	if final.Size() != 1+n {
		t.Errorf("final cluster size = %d, want %d", final.Size(), 1+n)
	}

	seen := make(map[string]bool)
	for _, id := range final.MemberIDs {
		if seen[id] {
			t.Errorf("duplicate member %q in cluster", id)
		}
		seen[id] = true
	}
}

func TestManager_Remove_ShrinksCluster(t *testing.T) {
	ctx := context.Background()
	store := gateway.NewMemStore()
	mgr := New(store, nil, zerolog.Nop())

	store.PutArticle(ctx, types.Article{ID: "a1"}, types.Fingerprint{ArticleID: "a1"})
	store.PutArticle(ctx, types.Article{ID: "a2"}, types.Fingerprint{ArticleID: "a2"})
	cluster := &types.Cluster{ID: "c1", State: types.ClusterActive, MemberIDs: []string{"a1", "a2"}, RepresentativeID: "a1"}
	store.CreateCluster(ctx, cluster)
	store.AssignArticleToCluster(ctx, "a1", "c1")
	store.AssignArticleToCluster(ctx, "a2", "c1")

	if err := mgr.Remove(ctx, "a2"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	cl, err := store.GetCluster(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCluster: %v", err)
	}
	if cl.Size() != 1 || cl.MemberIDs[0] != "a1" {
		t.Errorf("MemberIDs = %v, want [a1]", cl.MemberIDs)
	}
	if _, err := store.ClusterIDForArticle(ctx, "a2"); err != gateway.ErrNotFound {
		t.Errorf("ClusterIDForArticle(a2) = %v, want ErrNotFound", err)
	}
}

func TestManager_Remove_DeletesClusterWhenEmpty(t *testing.T) {
	ctx := context.Background()
	store := gateway.NewMemStore()
	mgr := New(store, nil, zerolog.Nop())

	store.PutArticle(ctx, types.Article{ID: "a1"}, types.Fingerprint{ArticleID: "a1"})
	cluster := &types.Cluster{ID: "c1", State: types.ClusterActive, MemberIDs: []string{"a1"}, RepresentativeID: "a1"}
	store.CreateCluster(ctx, cluster)
	store.AssignArticleToCluster(ctx, "a1", "c1")

	if err := mgr.Remove(ctx, "a1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := store.GetCluster(ctx, "c1"); err != gateway.ErrNotFound {
		t.Errorf("GetCluster after last member removed = %v, want ErrNotFound", err)
	}
}

func TestManager_Remove_UnclusteredArticleIsNoop(t *testing.T) {
	ctx := context.Background()
	store := gateway.NewMemStore()
	mgr := New(store, nil, zerolog.Nop())

	if err := mgr.Remove(ctx, "never-clustered"); err != nil {
		t.Errorf("Remove on unclustered article should be a no-op, got %v", err)
	}
}

func articleIDFor(i int) string {
	return "concurrent-" + string(rune('a'+i))
}

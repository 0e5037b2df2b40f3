package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/newsclust/newsclust/pkg/types"
)

func TestMemStore_PutAndGetArticle(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	article := types.Article{ID: "a1", Title: "Rates held steady", Body: "The central bank held rates steady today."}
	fp := types.Fingerprint{ArticleID: "a1", SimHash: 0xABCD1234, LSHBands: []string{"band1", "band2"}}

	if err := store.PutArticle(ctx, article, fp); err != nil {
		t.Fatalf("PutArticle: %v", err)
	}

	got, err := store.GetArticle(ctx, "a1")
	if err != nil {
		t.Fatalf("GetArticle: %v", err)
	}
	if got.Title != article.Title {
		t.Errorf("Title = %q, want %q", got.Title, article.Title)
	}

	if _, err := store.GetArticle(ctx, "missing"); err != ErrNotFound {
		t.Errorf("GetArticle(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemStore_FindBySimHashChunks(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	base := types.SimHash(0x0001000200030004)
	nearDup := base ^ 0x7 // differs only in low 3 bits, within one chunk

	store.PutArticle(ctx, types.Article{ID: "a1"}, types.Fingerprint{ArticleID: "a1", SimHash: base})
	store.PutArticle(ctx, types.Article{ID: "a2"}, types.Fingerprint{ArticleID: "a2", SimHash: nearDup})
	store.PutArticle(ctx, types.Article{ID: "a3"}, types.Fingerprint{ArticleID: "a3", SimHash: 0xFFFFFFFFFFFFFFFF})

	matches, err := store.FindBySimHashChunks(ctx, base)
	if err != nil {
		t.Fatalf("FindBySimHashChunks: %v", err)
	}

	found := map[string]bool{}
	for _, id := range matches {
		found[id] = true
	}
	if !found["a1"] {
		t.Errorf("expected a1 (exact match) in results: %v", matches)
	}
	if found["a3"] {
		t.Errorf("did not expect a3 (all chunks differ) in results: %v", matches)
	}
}

func TestMemStore_FindByLSHBands(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	store.PutArticle(ctx, types.Article{ID: "a1"}, types.Fingerprint{ArticleID: "a1", LSHBands: []string{"b1", "b2", "b3"}})
	store.PutArticle(ctx, types.Article{ID: "a2"}, types.Fingerprint{ArticleID: "a2", LSHBands: []string{"b1"}})

	votes, err := store.FindByLSHBands(ctx, []string{"b1", "b2"})
	if err != nil {
		t.Fatalf("FindByLSHBands: %v", err)
	}
	if votes["a1"] != 2 {
		t.Errorf("a1 votes = %d, want 2", votes["a1"])
	}
	if votes["a2"] != 1 {
		t.Errorf("a2 votes = %d, want 1", votes["a2"])
	}
}

func TestMemStore_ClusterOptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	cluster := &types.Cluster{ID: "c1", State: types.ClusterActive, MemberIDs: []string{"a1"}, UpdatedAt: time.Now()}
	if err := store.CreateCluster(ctx, cluster); err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}
	if cluster.Version != 1 {
		t.Fatalf("new cluster version = %d, want 1", cluster.Version)
	}

	update := &types.Cluster{ID: "c1", State: types.ClusterActive, MemberIDs: []string{"a1", "a2"}}
	if err := store.UpdateCluster(ctx, update, 1); err != nil {
		t.Fatalf("UpdateCluster: %v", err)
	}
	if update.Version != 2 {
		t.Fatalf("updated version = %d, want 2", update.Version)
	}

	stale := &types.Cluster{ID: "c1", MemberIDs: []string{"a1", "a3"}}
	if err := store.UpdateCluster(ctx, stale, 1); err != ErrVersionConflict {
		t.Errorf("stale UpdateCluster error = %v, want ErrVersionConflict", err)
	}
}

func TestMemStore_AssignArticleToClusterSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	if err := store.AssignArticleToCluster(ctx, "a1", "c1"); err != nil {
		t.Fatalf("first assignment: %v", err)
	}
	if err := store.AssignArticleToCluster(ctx, "a1", "c1"); err != nil {
		t.Errorf("idempotent re-assignment to same cluster should succeed, got %v", err)
	}
	if err := store.AssignArticleToCluster(ctx, "a1", "c2"); err != ErrVersionConflict {
		t.Errorf("assignment to a different cluster = %v, want ErrVersionConflict", err)
	}
}

func TestMemStore_DeleteArticleFromCluster(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	cluster := &types.Cluster{ID: "c1", State: types.ClusterActive, MemberIDs: []string{"a1", "a2"}}
	if err := store.CreateCluster(ctx, cluster); err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}
	store.AssignArticleToCluster(ctx, "a1", "c1")
	store.AssignArticleToCluster(ctx, "a2", "c1")

	if err := store.DeleteArticleFromCluster(ctx, "c1", "a1", 1); err != nil {
		t.Fatalf("DeleteArticleFromCluster: %v", err)
	}

	got, err := store.GetCluster(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCluster: %v", err)
	}
	if got.Size() != 1 || got.MemberIDs[0] != "a2" {
		t.Errorf("MemberIDs = %v, want [a2]", got.MemberIDs)
	}
	if _, err := store.ClusterIDForArticle(ctx, "a1"); err != ErrNotFound {
		t.Errorf("ClusterIDForArticle(a1) error = %v, want ErrNotFound after removal", err)
	}

	if err := store.DeleteArticleFromCluster(ctx, "c1", "a2", 1); err != ErrVersionConflict {
		t.Errorf("stale expectedVersion error = %v, want ErrVersionConflict", err)
	}

	if err := store.DeleteCluster(ctx, "c1"); err != nil {
		t.Fatalf("DeleteCluster: %v", err)
	}
	if _, err := store.GetCluster(ctx, "c1"); err != ErrNotFound {
		t.Errorf("GetCluster after DeleteCluster error = %v, want ErrNotFound", err)
	}
}

package recall

import (
	"context"
	"testing"
	"time"

	"github.com/newsclust/newsclust/internal/config"
	"github.com/newsclust/newsclust/internal/gateway"
	"github.com/newsclust/newsclust/pkg/types"
)

func seedCluster(t *testing.T, store *gateway.MemStore, clusterID, articleID string, sh types.SimHash, bands []string, topic string) {
	t.Helper()
	ctx := context.Background()

	article := types.Article{ID: articleID, TopicID: topic, PublishTime: time.Now()}
	fp := types.Fingerprint{ArticleID: articleID, SimHash: sh, LSHBands: bands}
	if err := store.PutArticle(ctx, article, fp); err != nil {
		t.Fatalf("PutArticle: %v", err)
	}

	cluster := &types.Cluster{ID: clusterID, State: types.ClusterActive, MemberIDs: []string{articleID}}
	if err := store.CreateCluster(ctx, cluster); err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}
	if err := store.AssignArticleToCluster(ctx, articleID, clusterID); err != nil {
		t.Fatalf("AssignArticleToCluster: %v", err)
	}
}

func TestRecaller_FindCandidates_RanksAndExcludesUnrelated(t *testing.T) {
	ctx := context.Background()
	store := gateway.NewMemStore()

	newArticleSH := types.SimHash(0x1111111111111111)
	newBands := []string{"shared1", "shared2"}

	seedCluster(t, store, "c1", "m1", newArticleSH, []string{"shared1", "shared2"}, "")
	seedCluster(t, store, "c2", "m2", newArticleSH^0xFF, []string{"shared1"}, "")
	seedCluster(t, store, "c3", "m3", ^newArticleSH, []string{"other"}, "")

	r := New(store, config.RecallConfig{MaxCandidates: 50, MaxPerCluster: 3})
	candidates, err := r.FindCandidates(ctx, types.Article{ID: "new"}, types.Fingerprint{ArticleID: "new", SimHash: newArticleSH, LSHBands: newBands})
	if err != nil {
		t.Fatalf("FindCandidates: %v", err)
	}
	if len(candidates) == 0 {
		t.Fatal("expected at least one candidate")
	}
	if candidates[0].ClusterID != "c1" {
		t.Errorf("best candidate cluster = %s, want c1 (closest simhash + most shared bands)", candidates[0].ClusterID)
	}
	for _, c := range candidates {
		if c.ClusterID == "c3" {
			t.Errorf("c3 should not be recalled: no shared simhash chunk or band, got %+v", c)
		}
	}
}

func TestRecaller_MaxPerClusterCap(t *testing.T) {
	ctx := context.Background()
	store := gateway.NewMemStore()

	sh := types.SimHash(0x2222222222222222)
	bands := []string{"b"}

	cluster := &types.Cluster{ID: "c1", State: types.ClusterActive}
	if err := store.CreateCluster(ctx, cluster); err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		store.PutArticle(ctx, types.Article{ID: id}, types.Fingerprint{ArticleID: id, SimHash: sh, LSHBands: bands})
		if err := store.AssignArticleToCluster(ctx, id, "c1"); err != nil {
			t.Fatalf("AssignArticleToCluster: %v", err)
		}
	}

	r := New(store, config.RecallConfig{MaxCandidates: 50, MaxPerCluster: 3})
	candidates, err := r.FindCandidates(ctx, types.Article{ID: "new"}, types.Fingerprint{ArticleID: "new", SimHash: sh, LSHBands: bands})
	if err != nil {
		t.Fatalf("FindCandidates: %v", err)
	}
	if len(candidates) != 3 {
		t.Errorf("expected per-cluster cap of 3 candidates, got %d", len(candidates))
	}
}

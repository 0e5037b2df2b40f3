package gateway

import (
	"context"
	"sync"

	"github.com/newsclust/newsclust/pkg/types"
)

// MemStore is an in-memory Gateway implementation backed by mutex-guarded
// maps. It serves unit tests and the property tests of the similarity
// core; production deployments use the Weaviate-backed Gateway instead.
type MemStore struct {
	mu sync.RWMutex

	articles     map[string]types.Article
	fingerprints map[string]types.Fingerprint
	simhashIndex [4]map[uint16][]string // chunk index -> chunk value -> article IDs
	bandIndex    map[string][]string    // band key -> article IDs
	articleToCluster map[string]string
	clusters     map[string]*types.Cluster
}

// NewMemStore creates an empty in-memory Gateway.
func NewMemStore() *MemStore {
	m := &MemStore{
		articles:         make(map[string]types.Article),
		fingerprints:     make(map[string]types.Fingerprint),
		bandIndex:        make(map[string][]string),
		articleToCluster: make(map[string]string),
		clusters:         make(map[string]*types.Cluster),
	}
	for i := range m.simhashIndex {
		m.simhashIndex[i] = make(map[uint16][]string)
	}
	return m
}

func (m *MemStore) PutArticle(ctx context.Context, article types.Article, fp types.Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.articles[article.ID] = article
	m.fingerprints[article.ID] = fp

	chunks := SimHashChunks(fp.SimHash)
	for i, chunk := range chunks {
		m.simhashIndex[i][chunk] = append(m.simhashIndex[i][chunk], article.ID)
	}
	for _, band := range fp.LSHBands {
		m.bandIndex[band] = append(m.bandIndex[band], article.ID)
	}

	return nil
}

func (m *MemStore) GetArticle(ctx context.Context, articleID string) (types.Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.articles[articleID]
	if !ok {
		return types.Article{}, ErrNotFound
	}
	return a, nil
}

func (m *MemStore) GetFingerprint(ctx context.Context, articleID string) (types.Fingerprint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fp, ok := m.fingerprints[articleID]
	if !ok {
		return types.Fingerprint{}, ErrNotFound
	}
	return fp, nil
}

func (m *MemStore) FindBySimHashChunks(ctx context.Context, sh types.SimHash) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	chunks := SimHashChunks(sh)
	for i, chunk := range chunks {
		for _, id := range m.simhashIndex[i][chunk] {
			seen[id] = struct{}{}
		}
	}

	result := make([]string, 0, len(seen))
	for id := range seen {
		result = append(result, id)
	}
	return result, nil
}

func (m *MemStore) FindByLSHBands(ctx context.Context, bands []string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	votes := make(map[string]int)
	for _, band := range bands {
		counted := make(map[string]struct{})
		for _, id := range m.bandIndex[band] {
			if _, dup := counted[id]; dup {
				continue // same article indexed again by a later PutArticle
			}
			counted[id] = struct{}{}
			votes[id]++
		}
	}
	return votes, nil
}

func (m *MemStore) CreateCluster(ctx context.Context, cluster *types.Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cluster.Version = 1
	cp := *cluster
	m.clusters[cluster.ID] = &cp
	return nil
}

func (m *MemStore) GetCluster(ctx context.Context, clusterID string) (*types.Cluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.clusters[clusterID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemStore) UpdateCluster(ctx context.Context, cluster *types.Cluster, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.clusters[cluster.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Version != expectedVersion {
		return ErrVersionConflict
	}

	cp := *cluster
	cp.Version = expectedVersion + 1
	m.clusters[cluster.ID] = &cp
	cluster.Version = cp.Version
	return nil
}

func (m *MemStore) ClusterIDForArticle(ctx context.Context, articleID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.articleToCluster[articleID]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (m *MemStore) AssignArticleToCluster(ctx context.Context, articleID, clusterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.articleToCluster[articleID]; exists {
		if existing == clusterID {
			return nil // idempotent retry of the same assignment
		}
		return ErrVersionConflict
	}
	m.articleToCluster[articleID] = clusterID
	return nil
}

func (m *MemStore) DeleteArticleFromCluster(ctx context.Context, clusterID, articleID string, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.clusters[clusterID]
	if !ok {
		return ErrNotFound
	}
	if existing.Version != expectedVersion {
		return ErrVersionConflict
	}

	members := make([]string, 0, len(existing.MemberIDs))
	for _, id := range existing.MemberIDs {
		if id != articleID {
			members = append(members, id)
		}
	}

	cp := *existing
	cp.MemberIDs = members
	cp.Version = expectedVersion + 1
	m.clusters[clusterID] = &cp

	if m.articleToCluster[articleID] == clusterID {
		delete(m.articleToCluster, articleID)
	}
	return nil
}

func (m *MemStore) DeleteCluster(ctx context.Context, clusterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.clusters, clusterID)
	return nil
}

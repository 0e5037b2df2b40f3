// Package gateway implements the Index Gateway: the persistence boundary
// between the similarity core and whatever document store backs it. It
// exposes SimHash chunk lookup, LSH band lookup, and cluster storage with
// optimistic-concurrency writes.
package gateway

import (
	"context"
	"errors"

	"github.com/newsclust/newsclust/pkg/types"
)

// ErrNotFound is returned when a lookup finds no matching record.
var ErrNotFound = errors.New("gateway: not found")

// ErrVersionConflict is returned by UpdateCluster when the cluster's
// stored version does not match the version the caller last read,
// signalling a concurrent writer won the race.
var ErrVersionConflict = errors.New("gateway: cluster version conflict")

// Gateway is the storage boundary the recall, verification, and cluster
// manager layers are built on. Implementations must be safe for
// concurrent use.
type Gateway interface {
	// PutArticle stores an article and its fingerprint together and
	// indexes the fingerprint for SimHash chunk and LSH band recall.
	PutArticle(ctx context.Context, article types.Article, fp types.Fingerprint) error

	// GetArticle fetches a previously stored article by ID.
	GetArticle(ctx context.Context, articleID string) (types.Article, error)

	// GetFingerprint fetches a previously indexed fingerprint by article ID.
	GetFingerprint(ctx context.Context, articleID string) (types.Fingerprint, error)

	// FindBySimHashChunks returns article IDs whose SimHash shares at
	// least one of the four 16-bit chunks with sh. By pigeonhole, any
	// article within Hamming distance 3 of sh is guaranteed to appear.
	FindBySimHashChunks(ctx context.Context, sh types.SimHash) ([]string, error)

	// FindByLSHBands returns article IDs keyed by the number of LSH
	// bands they share with the given band keys (their "band vote").
	FindByLSHBands(ctx context.Context, bands []string) (map[string]int, error)

	// CreateCluster persists a brand-new cluster at version 1.
	CreateCluster(ctx context.Context, cluster *types.Cluster) error

	// GetCluster fetches a cluster by ID.
	GetCluster(ctx context.Context, clusterID string) (*types.Cluster, error)

	// UpdateCluster writes cluster only if the stored version still
	// equals expectedVersion, then bumps the stored version. Returns
	// ErrVersionConflict on a lost race.
	UpdateCluster(ctx context.Context, cluster *types.Cluster, expectedVersion int64) error

	// ClusterIDForArticle returns the cluster an article currently
	// belongs to, or ErrNotFound if the article is unassigned.
	ClusterIDForArticle(ctx context.Context, articleID string) (string, error)

	// AssignArticleToCluster records that articleID belongs to
	// clusterID. Called once per article, at most once per article ID,
	// enforcing the single-winner-per-article contract.
	AssignArticleToCluster(ctx context.Context, articleID, clusterID string) error

	// DeleteArticleFromCluster removes articleID from clusterID's
	// membership, failing with ErrVersionConflict if the stored version
	// does not match expectedVersion. The caller (Cluster Manager) is
	// responsible for deciding whether the cluster itself is now empty
	// and should be torn down (spec.md §3: "a cluster is deleted when
	// size falls to zero").
	DeleteArticleFromCluster(ctx context.Context, clusterID, articleID string, expectedVersion int64) error

	// DeleteCluster removes a cluster once its membership has fallen to
	// zero.
	DeleteCluster(ctx context.Context, clusterID string) error
}

// SimHashChunks splits a 64-bit SimHash into four 16-bit chunks. Any two
// SimHash values at Hamming distance <= 3 must share at least one chunk
// exactly, since 3 differing bits cannot be spread across all 4
// non-overlapping 16-bit quarters.
func SimHashChunks(sh types.SimHash) [4]uint16 {
	v := uint64(sh)
	return [4]uint16{
		uint16(v),
		uint16(v >> 16),
		uint16(v >> 32),
		uint16(v >> 48),
	}
}

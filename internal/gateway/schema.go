package gateway

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// EnsureSchema creates the article and cluster classes if they do not
// already exist. Safe to call on every startup.
func EnsureSchema(ctx context.Context, client *weaviate.Client, articleClass, clusterClass string) error {
	existing, err := client.Schema().ClassGetter().Do(ctx)
	if err != nil {
		return fmt.Errorf("gateway: read schema: %w", err)
	}

	have := make(map[string]bool)
	if existing != nil {
		for _, c := range existing.Classes {
			have[c.Class] = true
		}
	}

	if !have[articleClass] {
		if err := client.Schema().ClassCreator().WithClass(articleClassSchema(articleClass)).Do(ctx); err != nil {
			return fmt.Errorf("gateway: create article class: %w", err)
		}
	}
	if !have[clusterClass] {
		if err := client.Schema().ClassCreator().WithClass(clusterClassSchema(clusterClass)).Do(ctx); err != nil {
			return fmt.Errorf("gateway: create cluster class: %w", err)
		}
	}
	return nil
}

func articleClassSchema(name string) *models.Class {
	return &models.Class{
		Class: name,
		Properties: []*models.Property{
			{Name: "articleId", DataType: []string{"text"}},
			{Name: "url", DataType: []string{"text"}},
			{Name: "title", DataType: []string{"text"}},
			{Name: "body", DataType: []string{"text"}},
			{Name: "source", DataType: []string{"text"}},
			{Name: "topicId", DataType: []string{"text"}},
			{Name: "topics", DataType: []string{"text[]"}},
			{Name: "tags", DataType: []string{"text[]"}},
			{Name: "state", DataType: []string{"int"}},
			{Name: "top", DataType: []string{"boolean"}},
			{Name: "clusterId", DataType: []string{"text"}},
			{Name: "clusterStatus", DataType: []string{"int"}},
			{Name: "similarityScore", DataType: []string{"number"}},
			{Name: "publishTime", DataType: []string{"date"}},
			{Name: "ingestedAt", DataType: []string{"date"}},
			{Name: "createdAt", DataType: []string{"date"}},
			{Name: "updatedAt", DataType: []string{"date"}},
			{Name: "simhash", DataType: []string{"int"}},
			{Name: "simhashC0", DataType: []string{"int"}},
			{Name: "simhashC1", DataType: []string{"int"}},
			{Name: "simhashC2", DataType: []string{"int"}},
			{Name: "simhashC3", DataType: []string{"int"}},
			{Name: "minhash", DataType: []string{"text[]"}},
			{Name: "lshBands", DataType: []string{"text[]"}},
		},
	}
}

func clusterClassSchema(name string) *models.Class {
	return &models.Class{
		Class: name,
		Properties: []*models.Property{
			{Name: "clusterId", DataType: []string{"text"}},
			{Name: "state", DataType: []string{"int"}},
			{Name: "version", DataType: []string{"int"}},
			{Name: "memberIds", DataType: []string{"text[]"}},
			{Name: "representativeId", DataType: []string{"text"}},
			{Name: "mergedInto", DataType: []string{"text"}},
			{Name: "centroid", DataType: []string{"text[]"}},
			{Name: "centroidBands", DataType: []string{"text[]"}},
			{Name: "updatedAt", DataType: []string{"date"}},
		},
	}
}

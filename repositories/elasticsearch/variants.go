package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"cohortkit/models/indexes"

	"github.com/Jeffail/gabs"
	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
)

const wildcardVariantsIndex = "variants-*"

// VariantsIndex names the per-chromosome index a variant is stored in
func VariantsIndex(chrom string) string {
	return fmt.Sprintf("variants-%s", strings.ToLower(chrom))
}

// EnsureVariantsIndex creates index with the variant mapping unless it already exists
func EnsureVariantsIndex(ctx context.Context, es *elasticsearch.Client, index string) error {
	existsRes, err := es.Indices.Exists([]string{index}, es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return err
	}
	existsRes.Body.Close()
	if existsRes.StatusCode == 200 {
		return nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"mappings": indexes.VARIANT_INDEX_MAPPING,
	})
	if err != nil {
		return err
	}

	res, err := es.Indices.Create(index,
		es.Indices.Create.WithContext(ctx),
		es.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if !res.IsError() {
		return nil
	}
	err = responseError(res, "creating index "+index)
	// another indexer may have won the race
	if strings.Contains(err.Error(), "already exists") {
		return nil
	}
	return err
}

func GetMostRecentVariantTimestamp(ctx context.Context, es *elasticsearch.Client, dataset string) (time.Time, error) {
	// Initialize a zero-value timestamp
	var mostRecentTimestamp time.Time

	query := map[string]interface{}{
		"query": datasetTerm(dataset),
		"size":  1,
		"sort": []map[string]interface{}{
			{
				"createdTime": map[string]string{
					"order": "desc",
				},
			},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return mostRecentTimestamp, err
	}

	res, err := es.Search(
		es.Search.WithContext(ctx),
		es.Search.WithIndex(wildcardVariantsIndex),
		es.Search.WithBody(&buf),
		es.Search.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return mostRecentTimestamp, err
	}
	defer res.Body.Close()

	parsed, err := parseResponse(res, "searching variants")
	if err != nil {
		return mostRecentTimestamp, err
	}

	hits, _ := parsed.Path("hits.hits").Children()
	if len(hits) == 0 {
		return mostRecentTimestamp, nil
	}
	created, ok := hits[0].Path("_source.createdTime").Data().(string)
	if !ok {
		return mostRecentTimestamp, nil
	}
	return time.Parse(time.RFC3339Nano, created)
}

func CountVariantsByDataset(ctx context.Context, es *elasticsearch.Client, dataset string) (int, error) {
	body, err := json.Marshal(map[string]interface{}{"query": datasetTerm(dataset)})
	if err != nil {
		return 0, err
	}

	res, err := es.Count(
		es.Count.WithContext(ctx),
		es.Count.WithIndex(wildcardVariantsIndex),
		es.Count.WithBody(bytes.NewReader(body)),
		es.Count.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	parsed, err := parseResponse(res, "counting variants")
	if err != nil {
		return 0, err
	}
	count, _ := parsed.Path("count").Data().(float64)
	return int(count), nil
}

// DeleteVariantsByDataset removes every document of dataset and returns how many were deleted
func DeleteVariantsByDataset(ctx context.Context, es *elasticsearch.Client, dataset string) (int, error) {
	body, err := json.Marshal(map[string]interface{}{"query": datasetTerm(dataset)})
	if err != nil {
		return 0, err
	}

	res, err := es.DeleteByQuery(
		[]string{wildcardVariantsIndex},
		bytes.NewReader(body),
		es.DeleteByQuery.WithContext(ctx),
		es.DeleteByQuery.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	parsed, err := parseResponse(res, "deleting variants")
	if err != nil {
		return 0, err
	}
	deleted, _ := parsed.Path("deleted").Data().(float64)
	return int(deleted), nil
}

// -- internal use only --
func datasetTerm(dataset string) map[string]interface{} {
	return map[string]interface{}{
		"term": map[string]string{
			"dataset.keyword": dataset,
		},
	}
}

func parseResponse(res *esapi.Response, action string) (*gabs.Container, error) {
	if res.IsError() {
		return nil, responseError(res, action)
	}
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	return gabs.ParseJSON(raw)
}

func responseError(res *esapi.Response, action string) error {
	raw, _ := io.ReadAll(res.Body)
	if parsed, err := gabs.ParseJSON(raw); err == nil {
		if reason, ok := parsed.Path("error.reason").Data().(string); ok {
			return fmt.Errorf("%s: %s: %s", action, res.Status(), reason)
		}
		if kind, ok := parsed.Path("error.type").Data().(string); ok {
			return fmt.Errorf("%s: %s: %s", action, res.Status(), kind)
		}
	}
	return fmt.Errorf("%s: %s", action, res.Status())
}

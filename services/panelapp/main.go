package panelapp

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"cohortkit/models"
	"cohortkit/models/panel"
	"cohortkit/utils"

	"github.com/Jeffail/gabs"
	linq "github.com/ahmetb/go-linq"
	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
)

// DefaultPanel is the PanelApp Australia Mendeliome
const DefaultPanel = 137

// green genes carry the highest confidence level
const greenConfidence = "3"

type Client struct {
	Url        string
	Http       *http.Client
	NewBackOff func() backoff.BackOff
	Log        logrus.FieldLogger
}

func NewClient(cfg *models.Config, log logrus.FieldLogger) *Client {
	return &Client{Url: cfg.PanelApp.Url, Log: log}
}

func (c *Client) backOff() backoff.BackOff {
	if c.NewBackOff != nil {
		return c.NewBackOff()
	}
	return utils.DefaultBackOff()
}

// GetPanelGreen returns the green genes of a panel keyed by symbol, with the
// Ensembl id for referenceGenome (matched case-insensitively)
func (c *Client) GetPanelGreen(ctx context.Context, referenceGenome string, panelNumber int) (map[string]panel.Gene, error) {
	base := c.Url
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	endpoint := fmt.Sprintf("%s%d/", base, panelNumber)

	body, err := utils.DoWithRetry(ctx, c.Http, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, endpoint, nil)
	}, c.backOff(), c.Log)
	if err != nil {
		return nil, err
	}
	return ParsePanel(body, referenceGenome)
}

func ParsePanel(body []byte, referenceGenome string) (map[string]panel.Gene, error) {
	jsonParsed, err := gabs.ParseJSON(body)
	if err != nil {
		return nil, fmt.Errorf("parsing panel: %w", err)
	}

	genes, err := jsonParsed.Search("genes").Children()
	if err != nil {
		return nil, fmt.Errorf("panel has no genes: %w", err)
	}

	result := map[string]panel.Gene{}
	for _, gene := range genes {
		confidence, _ := gene.Path("confidence_level").Data().(string)
		entityType, _ := gene.Path("entity_type").Data().(string)
		if confidence != greenConfidence || entityType != "gene" {
			continue
		}

		symbol, _ := gene.Path("entity_name").Data().(string)
		moi, _ := gene.Path("mode_of_inheritance").Data().(string)
		result[symbol] = panel.Gene{
			Symbol:  symbol,
			Ensembl: ensemblId(gene, referenceGenome),
			Moi:     moi,
		}
	}
	return result, nil
}

// ensemblId reads gene_data.ensembl_genes.<build>.<version>.ensembl_id; the
// version is expected to be singular, the first in key order is used
func ensemblId(gene *gabs.Container, referenceGenome string) string {
	builds, err := gene.Path("gene_data.ensembl_genes").ChildrenMap()
	if err != nil {
		return ""
	}

	for build, content := range builds {
		if !strings.EqualFold(build, referenceGenome) {
			continue
		}
		versions, err := content.ChildrenMap()
		if err != nil || len(versions) == 0 {
			return ""
		}
		keys := make([]string, 0, len(versions))
		for k := range versions {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		id, _ := versions[keys[0]].Path("ensembl_id").Data().(string)
		return id
	}
	return ""
}

// UniqueGenes collects the distinct, non-empty Ensembl ids, sorted
func UniqueGenes(genes map[string]panel.Gene) []string {
	var ids []string
	linq.From(genes).
		SelectT(func(kv linq.KeyValue) string { return kv.Value.(panel.Gene).Ensembl }).
		WhereT(func(id string) bool { return id != "" }).
		Distinct().
		ToSlice(&ids)
	sort.Strings(ids)
	return ids
}

// GeneSet turns ids into a lookup set for the gene filters
func GeneSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

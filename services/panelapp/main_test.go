package panelapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"cohortkit/models/panel"

	"github.com/stretchr/testify/assert"
)

const panelJson = `{
  "id": 137,
  "genes": [
    {
      "entity_name": "BRCA1",
      "entity_type": "gene",
      "confidence_level": "3",
      "mode_of_inheritance": "MONOALLELIC",
      "gene_data": {"ensembl_genes": {
        "GRch37": {"82": {"ensembl_id": "ENSG00000012048-37"}},
        "GRch38": {"90": {"ensembl_id": "ENSG00000012048"}}
      }}
    },
    {
      "entity_name": "AMBER",
      "entity_type": "gene",
      "confidence_level": "2",
      "gene_data": {"ensembl_genes": {"GRch38": {"90": {"ensembl_id": "ENSG0000AMBER"}}}}
    },
    {
      "entity_name": "STR_1",
      "entity_type": "str",
      "confidence_level": "3",
      "gene_data": {"ensembl_genes": {"GRch38": {"90": {"ensembl_id": "ENSG0000STR"}}}}
    },
    {
      "entity_name": "NOBUILD",
      "entity_type": "gene",
      "confidence_level": "3",
      "mode_of_inheritance": "BIALLELIC",
      "gene_data": {"ensembl_genes": {}}
    },
    {
      "entity_name": "BRCA1-ALIAS",
      "entity_type": "gene",
      "confidence_level": "3",
      "gene_data": {"ensembl_genes": {"GRCH38": {"90": {"ensembl_id": "ENSG00000012048"}}}}
    }
  ]
}`

func TestParsePanel(t *testing.T) {
	genes, err := ParsePanel([]byte(panelJson), "GRCh38")
	assert.Nil(t, err)
	assert.Len(t, genes, 3)
	assert.Equal(t, panel.Gene{Symbol: "BRCA1", Ensembl: "ENSG00000012048", Moi: "MONOALLELIC"}, genes["BRCA1"])
	assert.Equal(t, panel.Gene{Symbol: "NOBUILD", Moi: "BIALLELIC"}, genes["NOBUILD"])
	assert.NotContains(t, genes, "AMBER")
	assert.NotContains(t, genes, "STR_1")

	grch37, err := ParsePanel([]byte(panelJson), "grch37")
	assert.Nil(t, err)
	assert.Equal(t, "ENSG00000012048-37", grch37["BRCA1"].Ensembl)
}

func TestParsePanelMalformed(t *testing.T) {
	_, err := ParsePanel([]byte(`{"genes": `), "GRCh38")
	assert.NotNil(t, err)
}

func TestUniqueGenes(t *testing.T) {
	genes, err := ParsePanel([]byte(panelJson), "GRCh38")
	assert.Nil(t, err)
	assert.Equal(t, []string{"ENSG00000012048"}, UniqueGenes(genes))
	assert.Empty(t, UniqueGenes(map[string]panel.Gene{}))
}

func TestGetPanelGreen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/panels/137/", r.URL.Path)
		w.Write([]byte(panelJson))
	}))
	defer server.Close()

	client := &Client{Url: server.URL + "/api/v1/panels"}
	genes, err := client.GetPanelGreen(context.Background(), "GRCh38", DefaultPanel)
	assert.Nil(t, err)
	assert.Contains(t, genes, "BRCA1")
}

func TestGeneSet(t *testing.T) {
	set := GeneSet([]string{"A", "B", "A"})
	assert.Len(t, set, 2)
	assert.Contains(t, set, "A")
}

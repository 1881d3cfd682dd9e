package indexes

import (
	c "cohortkit/models/constants"
	"time"
)

type Variant struct {
	Chrom  string   `json:"chrom"`
	Pos    int      `json:"pos"`
	Id     string   `json:"id"`
	Ref    []string `json:"ref"`
	Alt    []string `json:"alt"`
	Format []string `json:"format"`
	Qual   float64  `json:"qual"`
	Filter string   `json:"filter"`
	Info   []Info   `json:"info"`

	Sample Sample `json:"sample"`

	Source      string    `json:"source"`
	Dataset     string    `json:"dataset"`
	AssemblyId  string    `json:"assemblyId"`
	CreatedTime time.Time `json:"createdTime"`
}

type Info struct {
	Id    string `json:"id"`
	Value string `json:"value"`
}

type Sample struct {
	Id        string    `json:"id"`
	Variation Variation `json:"variation"`
}

type Variation struct {
	Genotype Genotype   `json:"genotype"`
	Alleles  AllelePair `json:"alleles"`
}
type AllelePair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

type Genotype struct {
	Phased   bool       `json:"phased"`
	Ploidy   c.Ploidy   `json:"ploidy"`
	Zygosity c.Zygosity `json:"zygosity"`
}

var MAPPING_FIELDS_KEYWORD_IG256 = map[string]interface{}{
	"keyword": map[string]interface{}{
		"type":         "keyword",
		"ignore_above": 256,
	},
}
var MAPPING_TEXT = map[string]interface{}{"type": "text", "fields": MAPPING_FIELDS_KEYWORD_IG256}
var MAPPING_LONG = map[string]interface{}{"type": "long"}
var MAPPING_FLOAT64 = map[string]interface{}{"type": "double"}
var MAPPING_BOOL = map[string]interface{}{"type": "boolean"}
var MAPPING_DATE = map[string]interface{}{"type": "date"}

// Mapping applied when the variant index is created
var VARIANT_INDEX_MAPPING = map[string]interface{}{
	"properties": map[string]interface{}{
		"chrom":  MAPPING_TEXT,
		"pos":    MAPPING_LONG,
		"id":     MAPPING_TEXT,
		"ref":    MAPPING_TEXT,
		"alt":    MAPPING_TEXT,
		"format": MAPPING_TEXT,
		"qual":   MAPPING_FLOAT64,
		"filter": MAPPING_TEXT,
		"info": map[string]interface{}{
			"properties": map[string]interface{}{
				"id":    MAPPING_TEXT,
				"value": MAPPING_TEXT,
			},
		},
		"sample": map[string]interface{}{
			"properties": map[string]interface{}{
				"id": MAPPING_TEXT,
				"variation": map[string]interface{}{
					"properties": map[string]interface{}{
						"genotype": map[string]interface{}{
							"properties": map[string]interface{}{
								"phased":   MAPPING_BOOL,
								"ploidy":   MAPPING_LONG,
								"zygosity": MAPPING_LONG,
							},
						},
						"alleles": map[string]interface{}{
							"properties": map[string]interface{}{
								"left":  MAPPING_TEXT,
								"right": MAPPING_TEXT,
							},
						},
					},
				},
			},
		},
		"source":      MAPPING_TEXT,
		"dataset":     MAPPING_TEXT,
		"assemblyId":  MAPPING_TEXT,
		"createdTime": MAPPING_DATE,
	},
}

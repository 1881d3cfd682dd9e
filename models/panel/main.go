package panel

type Gene struct {
	Symbol  string `json:"symbol"`
	Ensembl string `json:"ensembl"`
	Moi     string `json:"moi"`
}

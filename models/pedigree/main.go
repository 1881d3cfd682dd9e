package pedigree

// Row is one line of a PED file as served by the sample-metadata API
type Row struct {
	FamilyId     string `mapstructure:"Family ID" json:"familyId"`
	IndividualId string `mapstructure:"Individual ID" json:"individualId"`
	PaternalId   string `mapstructure:"Paternal ID" json:"paternalId"`
	MaternalId   string `mapstructure:"Maternal ID" json:"maternalId"`
	Sex          string `mapstructure:"Sex" json:"sex"`
	Affected     string `mapstructure:"Affected" json:"affected"`
}

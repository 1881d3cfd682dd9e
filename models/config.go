package models

type Config struct {
	Debug bool `envconfig:"COHORTKIT_DEBUG"`
	Log   struct {
		Level  string `envconfig:"COHORTKIT_LOG_LEVEL" default:"info"`
		Format string `envconfig:"COHORTKIT_LOG_FORMAT" default:"text"`
	}
	Hail struct {
		BillingProject string `envconfig:"HAIL_BILLING_PROJECT"`
		Bucket         string `envconfig:"HAIL_BUCKET"`
		RemoteTmpDir   string `envconfig:"HAIL_REMOTE_TMPDIR"`
	}
	Batch struct {
		Url   string `envconfig:"COHORTKIT_BATCH_URL"`
		Token string `envconfig:"COHORTKIT_BATCH_TOKEN"`
	}
	Dataset struct {
		Name        string `envconfig:"CPG_DATASET"`
		DriverImage string `envconfig:"CPG_DRIVER_IMAGE"`
		AccessLevel string `envconfig:"CPG_ACCESS_LEVEL" default:"test"`
		Output      string `envconfig:"OUTPUT"`
	}
	Metadata struct {
		Url   string `envconfig:"COHORTKIT_METADATA_URL" default:"https://sample-metadata.populationgenomics.org.au/api/v1"`
		Token string `envconfig:"COHORTKIT_METADATA_TOKEN"`
	}
	PanelApp struct {
		Url string `envconfig:"COHORTKIT_PANELAPP_URL" default:"https://panelapp.agha.umccr.org/api/v1/panels/"`
	}
	Elasticsearch struct {
		Url      string `envconfig:"COHORTKIT_ES_URL" default:"http://localhost:9200"`
		Username string `envconfig:"COHORTKIT_ES_USERNAME"`
		Password string `envconfig:"COHORTKIT_ES_PASSWORD"`
	}
	Server struct {
		Port           string `envconfig:"COHORTKIT_SERVER_PORT" default:"5000"`
		Token          string `envconfig:"COHORTKIT_SERVER_TOKEN"`
		AuthzEnabled   bool   `envconfig:"COHORTKIT_AUTHZ_ENABLED"`
		DbPath         string `envconfig:"COHORTKIT_DB_PATH"`
		RetentionHours int    `envconfig:"COHORTKIT_RETENTION_HOURS" default:"72"`
		Workers        int    `envconfig:"COHORTKIT_WORKERS" default:"4"`
		ScratchDir     string `envconfig:"COHORTKIT_SCRATCH_DIR"`

		// batches executed at the same time; the rest wait in the queue
		ConcurrentBatches int `envconfig:"COHORTKIT_CONCURRENT_BATCHES" default:"2"`
	}
}

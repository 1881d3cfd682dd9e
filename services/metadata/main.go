package metadata

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"cohortkit/models"
	"cohortkit/models/pedigree"
	"cohortkit/utils"

	"github.com/cenkalti/backoff"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

const (
	acceptAll  = "*/*"
	acceptJson = "application/json"
)

// Client talks to the sample-metadata API
type Client struct {
	Url        string
	Token      string
	Http       *http.Client
	NewBackOff func() backoff.BackOff
	Log        logrus.FieldLogger
}

func NewClient(cfg *models.Config, log logrus.FieldLogger) *Client {
	return &Client{
		Url:   strings.TrimSuffix(cfg.Metadata.Url, "/"),
		Token: cfg.Metadata.Token,
		Log:   log,
	}
}

func (c *Client) backOff() backoff.BackOff {
	if c.NewBackOff != nil {
		return c.NewBackOff()
	}
	return utils.DefaultBackOff()
}

func (c *Client) headers(ctx context.Context, accept string) (http.Header, error) {
	token, err := utils.BearerToken(ctx, c.Token)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Accept", accept)
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}

func (c *Client) get(ctx context.Context, endpoint string, accept string) ([]byte, error) {
	headers, err := c.headers(ctx, accept)
	if err != nil {
		return nil, err
	}
	return utils.DoWithRetry(ctx, c.Http, func() (*http.Request, error) {
		request, err := http.NewRequest(http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		request.Header = headers.Clone()
		return request, nil
	}, c.backOff(), c.Log)
}

// GetPedigree fetches the project's pedigree with external participant and family ids
func (c *Client) GetPedigree(ctx context.Context, project string) ([]pedigree.Row, error) {
	query := url.Values{}
	query.Set("replace_with_participant_external_ids", "true")
	query.Set("replace_with_family_external_ids", "true")
	query.Set("empty_participant_value", "")
	query.Set("include_header", "true")
	endpoint := fmt.Sprintf("%s/family/%s/pedigree?%s", c.Url, url.PathEscape(project), query.Encode())

	body, err := c.get(ctx, endpoint, acceptAll)
	if err != nil {
		return nil, err
	}
	return ParsePedigree(bytes.NewReader(body))
}

// GetParticipantToSample maps external participant ids to internal sample ids
func (c *Client) GetParticipantToSample(ctx context.Context, project string) (map[string]string, error) {
	endpoint := fmt.Sprintf("%s/participant/%s/external-pid-to-internal-sample-id", c.Url, url.PathEscape(project))
	body, err := c.get(ctx, endpoint, acceptJson)
	if err != nil {
		return nil, err
	}

	var pairs [][]string
	if err := json.Unmarshal(body, &pairs); err != nil {
		return nil, fmt.Errorf("decoding participant map: %w", err)
	}
	pidToSid := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		if len(pair) != 2 {
			return nil, fmt.Errorf("decoding participant map: expected pairs, got %v", pair)
		}
		pidToSid[pair[0]] = pair[1]
	}
	return pidToSid, nil
}

// GetInternalToExternal maps internal sample ids to external sample ids
func (c *Client) GetInternalToExternal(ctx context.Context, project string) (map[string]string, error) {
	endpoint := fmt.Sprintf("%s/sample/%s/id-map/internal/all", c.Url, url.PathEscape(project))
	headers, err := c.headers(ctx, acceptJson)
	if err != nil {
		return nil, err
	}
	return utils.GetJson[map[string]string](ctx, c.Http, endpoint, headers, c.backOff(), c.Log)
}

// ParsePedigree reads a tab separated pedigree whose header line may start with '#'
func ParsePedigree(r io.Reader) ([]pedigree.Row, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	lines, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading pedigree: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("reading pedigree: empty response")
	}

	header := lines[0]
	header[0] = strings.TrimLeft(header[0], "#")
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	rows := make([]pedigree.Row, 0, len(lines)-1)
	for n, line := range lines[1:] {
		if len(line) == 1 && strings.TrimSpace(line[0]) == "" {
			continue
		}
		record := make(map[string]interface{}, len(header))
		for i, key := range header {
			if i < len(line) {
				record[key] = line[i]
			}
		}

		var row pedigree.Row
		if err := mapstructure.Decode(record, &row); err != nil {
			return nil, fmt.Errorf("pedigree line %d: %w", n+2, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

/*
	FamilyToSampleMap resolves each requested family (comma separated) to
	the sample ids of its members: participant id -> internal sample id,
	and on to the external sample id when external is set.
	Ids without a mapping are dropped with a warning
*/
func FamilyToSampleMap(log logrus.FieldLogger, rows []pedigree.Row, families string, external bool, pidToSid map[string]string, intToExt map[string]string) map[string][]string {
	result := map[string][]string{}

	for _, familyId := range strings.Split(families, ",") {
		familyId = strings.TrimSpace(familyId)
		if familyId == "" {
			continue
		}

		members := map[string]struct{}{}
		for _, row := range rows {
			if row.FamilyId == familyId && row.IndividualId != "" {
				members[row.IndividualId] = struct{}{}
			}
		}

		ids := make([]string, 0, len(members))
		for member := range members {
			sampleId, ok := pidToSid[member]
			if !ok {
				log.Warnf("participant %s of family %s has no sample", member, familyId)
				continue
			}
			if external {
				extId, ok := intToExt[sampleId]
				if !ok {
					log.Warnf("sample %s of family %s has no external id", sampleId, familyId)
					continue
				}
				sampleId = extId
			}
			ids = append(ids, sampleId)
		}
		sort.Strings(ids)
		result[familyId] = ids
	}
	return result
}

// CompactJson renders v without insignificant whitespace
func CompactJson(v interface{}) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

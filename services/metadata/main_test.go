package metadata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"cohortkit/models/pedigree"
	"cohortkit/utils"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

const pedigreeTsv = "#Family ID\tIndividual ID\tPaternal ID\tMaternal ID\tSex\tAffected\n" +
	"FAM1\tP1\tP2\tP3\t1\t2\n" +
	"FAM1\tP2\t\t\t1\t1\n" +
	"FAM1\tP3\t\t\t2\t1\n" +
	"FAM2\tP4\t\t\t2\t2\n" +
	"FAM2\tP5\t\t\t1\t1\n"

func newTestClient(url string) *Client {
	return &Client{
		Url:   url,
		Token: "token",
		NewBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 4)
		},
	}
}

func TestParsePedigree(t *testing.T) {
	rows, err := ParsePedigree(strings.NewReader(pedigreeTsv))
	assert.Nil(t, err)
	assert.Len(t, rows, 5)
	assert.Equal(t, pedigree.Row{
		FamilyId:     "FAM1",
		IndividualId: "P1",
		PaternalId:   "P2",
		MaternalId:   "P3",
		Sex:          "1",
		Affected:     "2",
	}, rows[0])
	assert.Equal(t, "", rows[1].PaternalId)
}

func TestParsePedigreeEmpty(t *testing.T) {
	_, err := ParsePedigree(strings.NewReader(""))
	assert.NotNil(t, err)
}

func TestClientRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/family/acute-care/pedigree":
			assert.Equal(t, "*/*", r.Header.Get("Accept"))
			assert.Equal(t, "true", r.URL.Query().Get("replace_with_participant_external_ids"))
			assert.Equal(t, "true", r.URL.Query().Get("include_header"))
			w.Write([]byte(pedigreeTsv))
		case "/participant/acute-care/external-pid-to-internal-sample-id":
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			w.Write([]byte(`[["P1","CPG1"],["P2","CPG2"],["P3","CPG3"],["P4","CPG4"]]`))
		case "/sample/acute-care/id-map/internal/all":
			w.Write([]byte(`{"CPG1":"EXT1","CPG2":"EXT2","CPG4":"EXT4"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ctx := context.Background()

	rows, err := client.GetPedigree(ctx, "acute-care")
	assert.Nil(t, err)
	assert.Len(t, rows, 5)

	pidToSid, err := client.GetParticipantToSample(ctx, "acute-care")
	assert.Nil(t, err)
	assert.Equal(t, "CPG3", pidToSid["P3"])

	intToExt, err := client.GetInternalToExternal(ctx, "acute-care")
	assert.Nil(t, err)
	assert.Equal(t, "EXT4", intToExt["CPG4"])

	_, err = client.GetPedigree(ctx, "unknown")
	assert.True(t, errors.Is(err, utils.ErrNonOKStatus))
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"CPG1":"EXT1"}`))
	}))
	defer server.Close()

	intToExt, err := newTestClient(server.URL).GetInternalToExternal(context.Background(), "p")
	assert.Nil(t, err)
	assert.Equal(t, map[string]string{"CPG1": "EXT1"}, intToExt)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClientGivesUpAfterFiveAttempts(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetInternalToExternal(context.Background(), "p")
	assert.True(t, errors.Is(err, utils.ErrNonOKStatus))
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
}

func TestFamilyToSampleMap(t *testing.T) {
	rows, err := ParsePedigree(strings.NewReader(pedigreeTsv))
	assert.Nil(t, err)

	pidToSid := map[string]string{"P1": "CPG1", "P2": "CPG2", "P3": "CPG3", "P4": "CPG4"}
	intToExt := map[string]string{"CPG1": "EXT1", "CPG2": "EXT2", "CPG4": "EXT4"}

	logger, hook := test.NewNullLogger()

	internal := FamilyToSampleMap(logger, rows, "FAM1,FAM2", false, pidToSid, intToExt)
	assert.Equal(t, map[string][]string{
		"FAM1": {"CPG1", "CPG2", "CPG3"},
		"FAM2": {"CPG4"},
	}, internal)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "participant P5 of family FAM2 has no sample", hook.LastEntry().Message)

	hook.Reset()
	external := FamilyToSampleMap(logger, rows, "FAM1", true, pidToSid, intToExt)
	assert.Equal(t, map[string][]string{"FAM1": {"EXT1", "EXT2"}}, external)
	assert.Len(t, hook.AllEntries(), 1)

	unknown := FamilyToSampleMap(logger, rows, "NOPE", false, pidToSid, intToExt)
	assert.Equal(t, map[string][]string{"NOPE": {}}, unknown)
}

func TestCompactJson(t *testing.T) {
	text, err := CompactJson(map[string][]string{"FAM1": {"CPG1", "CPG2"}, "FAM2": {}})
	assert.Nil(t, err)
	assert.Equal(t, `{"FAM1":["CPG1","CPG2"],"FAM2":[]}`, text)
}

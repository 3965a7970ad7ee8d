package cli_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/discovery/internal/cli"
	"github.com/jonesrussell/north-cloud/discovery/internal/domain"
)

var now = time.Date(2024, time.March, 10, 15, 30, 0, 0, time.UTC)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CONFIG_PATH", "")

	cmd := cli.NewRootCommandAt(now)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDateRangeCommand(t *testing.T) {
	out, err := run(t, "daterange", "--type", "MONTH", "--start", "-1", "--end", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "time:[2024-02-01T00:00:00Z TO 2024-03-01T00:00:00Z]")
}

func TestDateRangeCommand_Degraded(t *testing.T) {
	out, err := run(t, "daterange", "--type", "day", "--start", "x", "--end", "+1")
	require.NoError(t, err)
	assert.Contains(t, out, "time:[2024-03-10T00:00:00Z TO 2024-03-11T00:00:00Z]")
	assert.Contains(t, out, "start bound")
}

func TestDateRangeCommand_UnknownGranularity(t *testing.T) {
	_, err := run(t, "daterange", "--type", "week")
	assert.True(t, errors.Is(err, domain.ErrInvalidRangeSpec))
}

func TestQueryCommand(t *testing.T) {
	out, err := run(t, "query", "-p", "rpp=10", "-p", "page=3", "-p", "query=maps", "-p", "fq=author:smith")
	require.NoError(t, err)

	assert.Contains(t, out, "maps")
	assert.Contains(t, out, "20")
	assert.Contains(t, out, "author:smith")
	assert.Contains(t, out, "score desc")
}

func TestQueryCommand_Elasticsearch(t *testing.T) {
	out, err := run(t, "query", "-p", "rpp=5", "-p", "page=2", "--elasticsearch")
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.InDelta(t, 5, body["from"], 0)
	assert.InDelta(t, 5, body["size"], 0)
}

func TestQueryCommand_Errors(t *testing.T) {
	_, err := run(t, "query", "-p", "rpp")
	require.Error(t, err)

	_, err = run(t, "query", "-p", "rpp=-3")
	assert.True(t, errors.Is(err, domain.ErrInvalidPageSize))
}

func TestFeedLinksCommand(t *testing.T) {
	out, err := run(t, "feed-links", "--fq", "author:smith")
	require.NoError(t, err)

	assert.Contains(t, out, "/feed/rss_2.0/site/author:smith")
	assert.Contains(t, out, "application/atom+xml")
}

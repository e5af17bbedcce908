package cliflag

import (
	"bytes"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamedFlagSets(t *testing.T) {
	var fss NamedFlagSets
	fss.FlagSet("http").String("http.addr", ":8000", "listen address")
	fss.FlagSet("log").String("log.level", "info", "log level")
	fss.FlagSet("http").Duration("http.read-timeout", 0, "read timeout")
	fss.FlagSet("empty")

	assert.Equal(t, []string{"http", "log", "empty"}, fss.Order)

	root := pflag.NewFlagSet("root", pflag.ContinueOnError)
	fss.AddTo(root)
	require.NoError(t, root.Parse([]string{"--http.addr=:9000", "--log.level=debug"}))
	v, err := root.GetString("http.addr")
	require.NoError(t, err)
	assert.Equal(t, ":9000", v)

	var buf bytes.Buffer
	PrintSections(&buf, fss, 0)
	out := buf.String()
	assert.Contains(t, out, "Http flags:")
	assert.Contains(t, out, "Log flags:")
	assert.NotContains(t, out, "Empty flags:")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("Http flags:")), bytes.Index(buf.Bytes(), []byte("Log flags:")))
}

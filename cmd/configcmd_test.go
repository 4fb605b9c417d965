package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/shelter-access/internal/config"
)

func TestWriteConfig(t *testing.T) {
	c := &config.Config{}
	c.Analysis.Modes = []string{"walk", "transit"}
	c.Analysis.NClosest = []int{1, 3}
	c.Store.Driver = "mongo"
	c.Log.Level = "debug"

	var buf bytes.Buffer
	require.NoError(t, writeConfig(&buf, c))
	assert.Contains(t, buf.String(), "n_closest:")

	var back config.Config
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, []string{"walk", "transit"}, back.Analysis.Modes)
	assert.Equal(t, []int{1, 3}, back.Analysis.NClosest)
	assert.Equal(t, "mongo", back.Store.Driver)
	assert.Equal(t, "debug", back.Log.Level)
}

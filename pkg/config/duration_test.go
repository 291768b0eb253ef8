package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDurationUnmarshalYAML(t *testing.T) {
	cases := []struct {
		doc  string
		want time.Duration
	}{
		{"d: 5m\n", 5 * time.Minute},
		{"d: 30s\n", 30 * time.Second},
		{"d: 1500\n", 1500 * time.Millisecond},
	}

	for _, tc := range cases {
		var out struct {
			D Duration `yaml:"d"`
		}
		require.NoError(t, yaml.Unmarshal([]byte(tc.doc), &out))
		assert.Equal(t, tc.want, out.D.AsDuration())
	}
}

func TestDurationUnmarshalYAMLInvalid(t *testing.T) {
	var out struct {
		D Duration `yaml:"d"`
	}
	err := yaml.Unmarshal([]byte("d: not-a-duration\n"), &out)
	assert.Error(t, err)
}

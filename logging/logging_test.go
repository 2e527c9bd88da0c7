package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaultProducesUsableLogger(t *testing.T) {
	log := New(Default())
	assert.NotNil(t, log)
	log.Info().Msg("hello")
}

func TestNewFallsBackToInfoOnBadLevel(t *testing.T) {
	log := New(Config{MinLevel: "not-a-level", DisableConsole: true})
	assert.NotNil(t, log)
}

func TestRollingConfigFullpathJoinsDirAndFile(t *testing.T) {
	rc := &RollingConfig{Dirname: "/var/log", Filename: "mina.log"}
	assert.Contains(t, rc.fullpath(), "mina.log")
}

func TestRollingConfigFullpathDefaultsFilename(t *testing.T) {
	rc := &RollingConfig{}
	assert.Equal(t, "mina.log", rc.fullpath())
}

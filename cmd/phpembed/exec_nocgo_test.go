//go:build !php_embed

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sadewadee/phpembed/internal/phpengine"
)

func TestEvalWithoutEngine(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := execute(t, "--log-level", "error", "eval", "1 + 1")
	assert.ErrorIs(t, err, phpengine.ErrEngineUnavailable)
}

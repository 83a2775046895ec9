//go:build !php_embed

package worker

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sadewadee/phpembed/internal/config"
	"github.com/sadewadee/phpembed/internal/phpengine"
)

func TestEngineSessionsUnavailable(t *testing.T) {
	cfg := config.Default()
	cfg.App.Root = t.TempDir()
	w := New(cfg, nil)
	w.Start()
	defer w.Stop()

	_, err := w.Exec(context.Background(), EvalJob("1 + 1", false))
	assert.ErrorIs(t, err, phpengine.ErrEngineUnavailable)

	_, err = w.Exec(context.Background(), HTTPJob(httptest.NewRequest("GET", "/", nil)))
	assert.ErrorIs(t, err, phpengine.ErrEngineUnavailable)
}

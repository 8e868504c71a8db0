package matcher

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeWorker = `read cfg
echo '{"status":"ready"}'
while read line; do
  case "$line" in
    *hang*) sleep 5 ;;
    *fail*) echo '{"phrases":[],"error":"boom"}' ;;
    *colonoscopy*) echo '{"phrases":["colonoscopy","polyps"]}' ;;
    *) echo '{"phrases":[]}' ;;
  esac
done
`

func newFakePythonExtractor(t *testing.T, script string, workers int) *PythonExtractor {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	ex, err := NewPythonExtractor(PythonConfig{Executable: "/bin/sh", ScriptPath: path, Workers: workers}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ex.Close() })
	return ex
}

func TestPythonExtractorRoundTrip(t *testing.T) {
	ex := newFakePythonExtractor(t, fakeWorker, 2)
	ctx := context.Background()

	got, err := ex.Extract(ctx, "colonoscopy revealed polyps")
	require.NoError(t, err)
	assert.Equal(t, []string{"colonoscopy", "polyps"}, got)

	got, err = ex.Extract(ctx, "patient rested")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ex.Extract(ctx, "please fail")
	assert.ErrorContains(t, err, "boom")
}

func TestPythonExtractorWithAdapter(t *testing.T) {
	ex := newFakePythonExtractor(t, fakeWorker, 1)
	a := NewExtractionAdapter(ex)
	assert.Equal(t, []string{"Patient rested."}, a.Extract(context.Background(), "Patient rested."))
	assert.Equal(t, []string{"please fail"}, a.Extract(context.Background(), "please fail"))
}

func TestPythonExtractorTimeoutRestartsWorker(t *testing.T) {
	ex := newFakePythonExtractor(t, fakeWorker, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := ex.Extract(ctx, "hang")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	got, err := ex.Extract(context.Background(), "colonoscopy")
	require.NoError(t, err)
	assert.Equal(t, []string{"colonoscopy", "polyps"}, got)
}

func TestPythonExtractorBadHandshake(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(path, []byte(`read cfg
echo '{"status":"error","error":"model missing"}'
`), 0o755))
	_, err := NewPythonExtractor(PythonConfig{Executable: "/bin/sh", ScriptPath: path}, nil)
	assert.ErrorContains(t, err, "model missing")
}

func TestBundledScriptIsEmbedded(t *testing.T) {
	assert.Contains(t, string(extractScript), `"status": "ready"`)
}

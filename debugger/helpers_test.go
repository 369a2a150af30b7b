package debugger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/warmthdawn/zs-debug-adapter/jdi/jditest"
)

const (
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

func testLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return log
}

// testSession returns a session over a fresh in-memory VM whose scripts root
// is a temporary directory.
func testSession(t *testing.T) (*Session, *jditest.VM) {
	t.Helper()
	vm := jditest.NewVM()
	root := t.TempDir()
	s := NewSession(vm, root, WithLogger(testLogger()))
	return s, vm
}

// startSession starts the poller and stops it when the test ends.
func startSession(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		cancel()
		select {
		case <-s.Bus().Done():
		case <-time.After(waitFor):
			t.Error("poller did not stop")
		}
	})
}

// writeScript creates an empty script under the scripts root and returns
// its absolute path.
func writeScript(t *testing.T, s *Session, rel string) string {
	t.Helper()
	path := filepath.Join(s.ScriptsRoot(), filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	return path
}

func suspendCount(t *testing.T, th *jditest.Thread) int {
	t.Helper()
	n, err := th.SuspendCount()
	require.NoError(t, err)
	return n
}

func timeout() <-chan time.Time {
	return time.After(waitFor)
}

//go:build libsql

package adapters

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	ports "github.com/ZanzyTHEbar/dialog-core/dcore/conversation/ports"
	"github.com/ZanzyTHEbar/dialog-core/dcore/db"
)

// Needs CGO and the embedded libsql driver artifact:
//
//	go test -tags libsql ./dcore/conversation/adapters/
func TestLibSQLStoreContract(t *testing.T) {
	runTranscriptStoreContract(t, func(t *testing.T) ports.TranscriptStore {
		conn, err := db.Connect(filepath.Join(t.TempDir(), "contract.db"), zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		require.NoError(t, db.Migrate(conn))

		return NewLibSQLTranscriptStore(conn, EngineLabels{
			Namespace:    "default",
			TaskQueue:    "conversation",
			WorkflowType: "conversationWorkflow",
		})
	})
}

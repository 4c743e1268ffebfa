package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onlitec/remotebroker/internal/protocol"
	"github.com/onlitec/remotebroker/pkg/audit"
	"github.com/onlitec/remotebroker/pkg/config"
	"github.com/onlitec/remotebroker/pkg/security"
	"github.com/onlitec/remotebroker/pkg/storage"
)

type recordingSender struct {
	mu     sync.Mutex
	frames [][]byte
	fail   map[uint32]int // index -> remaining failures before success
}

func (s *recordingSender) SendChunk(_ context.Context, _ string, frame []byte) error {
	hdr, payload, err := protocol.DecodeChunkFrame(frame)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.fail[hdr.ChunkIndex]; n > 0 {
		s.fail[hdr.ChunkIndex] = n - 1
		return assert.AnError
	}
	s.frames = append(s.frames, append([]byte(nil), payload...))
	return nil
}

func (s *recordingSender) SendRetransmitRequest(_ context.Context, _, _ string, _ uint32) error {
	return nil
}

func testManager(t *testing.T) (*Manager, func()) {
	t.Helper()
	dir := t.TempDir()

	backend, err := storage.NewLocalBackend(dir)
	require.NoError(t, err)

	validator, err := security.NewValidator(security.Config{MaxFilenameLength: 255}, nil, nil)
	require.NoError(t, err)

	auditLog, err := audit.New(t.TempDir(), 90, nil, 0)
	require.NoError(t, err)

	snapshot := config.NewTransferSnapshot(config.TransferConfig{
		MaxFileSize:   10 * 1024 * 1024,
		AllowedTypes:  nil,
		TempDir:       dir,
		MaxConcurrent: 2,
		ChunkSize:     16, // tiny chunk size keeps tests fast and exercises multi-chunk logic
		RetryAttempts: 3,
	})

	m := NewManager(snapshot, backend, validator, nil, auditLog)
	return m, func() { auditLog.Close() }
}

func TestCreateTransfer_RejectsOversizedFile(t *testing.T) {
	m, cleanup := testManager(t)
	defer cleanup()

	_, err := m.CreateTransfer("sess-1", Request{Filename: "big.bin", FileSize: 100 * 1024 * 1024, Direction: DirectionUpload})
	require.Error(t, err)
}

func TestCreateTransfer_RejectsBlockedExtension(t *testing.T) {
	m, cleanup := testManager(t)
	defer cleanup()
	m.snapshot.Update(withAllowedTypes(m.snapshot.Load(), []string{".txt"}))

	_, err := m.CreateTransfer("sess-1", Request{Filename: "payload.exe", FileSize: 1000, Direction: DirectionUpload})
	require.Error(t, err)
}

func withAllowedTypes(cfg config.TransferConfig, types []string) config.TransferConfig {
	cfg.AllowedTypes = types
	return cfg
}

func TestApprove_Reject(t *testing.T) {
	m, cleanup := testManager(t)
	defer cleanup()

	id, err := m.CreateTransfer("sess-1", Request{Filename: "notes.txt", FileSize: 32, Direction: DirectionUpload})
	require.NoError(t, err)

	require.NoError(t, m.Approve(context.Background(), id, false, "not needed"))

	tr, err := m.get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, tr.snapshotStatus())
}

func TestApprove_ZeroByteFile_CompletesImmediately(t *testing.T) {
	m, cleanup := testManager(t)
	defer cleanup()

	id, err := m.CreateTransfer("sess-1", Request{Filename: "empty.txt", FileSize: 0, Direction: DirectionUpload})
	require.NoError(t, err)
	require.NoError(t, m.Approve(context.Background(), id, true, ""))

	tr, err := m.get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, tr.snapshotStatus())
	assert.Equal(t, 0, tr.TotalChunks)
}

func chunkSHA(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestWriteChunk_UploadHappyPath(t *testing.T) {
	m, cleanup := testManager(t)
	defer cleanup()

	data := []byte("0123456789abcdef0123456789abcdefXYZ") // 36 bytes, chunk size 16 -> 3 chunks
	id, err := m.CreateTransfer("sess-1", Request{Filename: "notes.txt", FileSize: int64(len(data)), Direction: DirectionUpload})
	require.NoError(t, err)
	require.NoError(t, m.Approve(context.Background(), id, true, ""))

	ctx := context.Background()
	chunks := [][]byte{data[0:16], data[16:32], data[32:36]}
	for i, c := range chunks {
		hdr := protocol.ChunkHeader{TransferID: id, ChunkIndex: uint32(i), Checksum: chunkSHA(c), IsLast: i == len(chunks)-1}
		require.NoError(t, m.WriteChunk(ctx, id, hdr, c))
	}

	tr, err := m.get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, tr.snapshotStatus())
	assert.Equal(t, int64(len(data)), tr.bytesWritten)
}

func TestWriteChunk_DuplicateIndexIsIdempotent(t *testing.T) {
	m, cleanup := testManager(t)
	defer cleanup()

	data := []byte("0123456789abcdef") // exactly one chunk
	id, err := m.CreateTransfer("sess-1", Request{Filename: "a.txt", FileSize: int64(len(data)), Direction: DirectionUpload})
	require.NoError(t, err)
	require.NoError(t, m.Approve(context.Background(), id, true, ""))

	ctx := context.Background()
	hdr := protocol.ChunkHeader{TransferID: id, ChunkIndex: 0, Checksum: chunkSHA(data), IsLast: true}
	require.NoError(t, m.WriteChunk(ctx, id, hdr, data))
	require.NoError(t, m.WriteChunk(ctx, id, hdr, data)) // duplicate, must not reapply

	tr, err := m.get(id)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), tr.bytesWritten)
}

func TestWriteChunk_ChecksumMismatchRetransmitsThenFails(t *testing.T) {
	m, cleanup := testManager(t)
	defer cleanup()

	data := []byte("0123456789abcdef")
	id, err := m.CreateTransfer("sess-1", Request{Filename: "a.txt", FileSize: int64(len(data)), Direction: DirectionUpload})
	require.NoError(t, err)
	require.NoError(t, m.Approve(context.Background(), id, true, ""))

	ctx := context.Background()
	hdr := protocol.ChunkHeader{TransferID: id, ChunkIndex: 0, Checksum: "deadbeef", IsLast: true}

	for i := 0; i < MaxChunkRetries; i++ {
		err := m.WriteChunk(ctx, id, hdr, data)
		require.NoError(t, err)
	}
	// one more failure exceeds MaxChunkRetries
	err = m.WriteChunk(ctx, id, hdr, data)
	require.Error(t, err)

	tr, err := m.get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, tr.snapshotStatus())
}

func TestWriteChunk_RecoversAfterRetransmission(t *testing.T) {
	m, cleanup := testManager(t)
	defer cleanup()

	data := []byte("0123456789abcdef")
	id, err := m.CreateTransfer("sess-1", Request{Filename: "a.txt", FileSize: int64(len(data)), Direction: DirectionUpload})
	require.NoError(t, err)
	require.NoError(t, m.Approve(context.Background(), id, true, ""))

	ctx := context.Background()
	bad := protocol.ChunkHeader{TransferID: id, ChunkIndex: 0, Checksum: "deadbeef", IsLast: true}
	require.NoError(t, m.WriteChunk(ctx, id, bad, data))
	require.NoError(t, m.WriteChunk(ctx, id, bad, data))

	good := protocol.ChunkHeader{TransferID: id, ChunkIndex: 0, Checksum: chunkSHA(data), IsLast: true}
	require.NoError(t, m.WriteChunk(ctx, id, good, data))

	tr, err := m.get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, tr.snapshotStatus())
	assert.Empty(t, tr.failedChunks)
}

func TestPauseResume_Idempotent(t *testing.T) {
	m, cleanup := testManager(t)
	defer cleanup()

	id, err := m.CreateTransfer("sess-1", Request{Filename: "a.txt", FileSize: 64, Direction: DirectionUpload})
	require.NoError(t, err)
	require.NoError(t, m.Approve(context.Background(), id, true, ""))

	require.NoError(t, m.Pause(id))
	require.NoError(t, m.Pause(id)) // no-op
	tr, _ := m.get(id)
	assert.Equal(t, StatusPaused, tr.snapshotStatus())

	require.NoError(t, m.Resume(id))
	require.NoError(t, m.Resume(id)) // no-op
	assert.Equal(t, StatusInProgress, tr.snapshotStatus())
}

func TestCancel_RemovesTempFileAndIsIdempotent(t *testing.T) {
	m, cleanup := testManager(t)
	defer cleanup()

	ctx := context.Background()
	id, err := m.CreateTransfer("sess-1", Request{Filename: "a.txt", FileSize: 64, Direction: DirectionUpload})
	require.NoError(t, err)
	require.NoError(t, m.Approve(ctx, id, true, ""))

	require.NoError(t, m.Cancel(ctx, id))
	require.NoError(t, m.Cancel(ctx, id)) // no-op on terminal transfer

	tr, err := m.get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, tr.snapshotStatus())

	_, err = m.storage.Stat(ctx, tr.TempPath)
	assert.ErrorIs(t, err, storage.ErrNotExist)
}

func TestCreateTransfer_ConcurrencyCap(t *testing.T) {
	m, cleanup := testManager(t)
	defer cleanup()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 2; i++ {
		id, err := m.CreateTransfer("sess-1", Request{Filename: "a.txt", FileSize: 64, Direction: DirectionUpload})
		require.NoError(t, err)
		require.NoError(t, m.Approve(ctx, id, true, ""))
		ids = append(ids, id)
	}

	// a third creation exceeds MaxConcurrent=2
	_, err := m.CreateTransfer("sess-1", Request{Filename: "b.txt", FileSize: 64, Direction: DirectionUpload})
	require.Error(t, err)

	require.NoError(t, m.Cancel(ctx, ids[0]))

	// after cancelling one, a new transfer can be created and approved
	id, err := m.CreateTransfer("sess-1", Request{Filename: "c.txt", FileSize: 64, Direction: DirectionUpload})
	require.NoError(t, err)
	require.NoError(t, m.Approve(ctx, id, true, ""))
}

func TestDownload_StreamsChunksThroughSender(t *testing.T) {
	m, cleanup := testManager(t)
	defer cleanup()
	ctx := context.Background()

	content := []byte("0123456789abcdef0123456789abcdefXYZ")
	require.NoError(t, m.storage.WriteAt(ctx, "source.bin", 0, content))

	id, err := m.CreateTransfer("sess-1", Request{Filename: "source.bin", FileSize: int64(len(content)), Direction: DirectionDownload})
	require.NoError(t, err)

	tr, err := m.get(id)
	require.NoError(t, err)
	tr.mu.Lock()
	plannedTemp := tempFileName(id, "source.bin")
	tr.mu.Unlock()
	require.NoError(t, m.storage.WriteAt(ctx, plannedTemp, 0, content))

	sender := &recordingSender{}
	m.SetSender(sender)

	require.NoError(t, m.Approve(ctx, id, true, ""))

	require.Eventually(t, func() bool {
		tr, _ := m.get(id)
		return tr.snapshotStatus() == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	var total []byte
	for _, f := range sender.frames {
		total = append(total, f...)
	}
	assert.Equal(t, content, total)
}

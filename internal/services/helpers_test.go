package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/luo-one/mailkeeper/internal/database"
	"github.com/luo-one/mailkeeper/internal/logger"
	"github.com/luo-one/mailkeeper/internal/mailbox"
	"github.com/luo-one/mailkeeper/internal/storage"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.InitializeWithLogLevel(filepath.Join(t.TempDir(), "test.db"), "SILENT")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	return db
}

// testEnv bundles an ingest pipeline wired to a fake mailbox
type testEnv struct {
	db        *gorm.DB
	transport *fakeTransport
	blobs     *flakyBlobStore
	writer    *AttachmentWriter
	recorder  *RunRecorder
	filters   *FilterService
	logs      *LogService
	ingest    *IngestService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupTestDB(t)

	dir, err := storage.NewDirStore(filepath.Join(t.TempDir(), "attachments"))
	require.NoError(t, err)
	blobs := &flakyBlobStore{DirStore: dir}

	logs := NewLogServiceWithLevel(db, "DEBUG")
	writer := NewAttachmentWriter(db, blobs, logs, logger.Discard())
	recorder := NewRunRecorder(db)
	filters := NewFilterService(db)
	transport := newFakeTransport()

	return &testEnv{
		db:        db,
		transport: transport,
		blobs:     blobs,
		writer:    writer,
		recorder:  recorder,
		filters:   filters,
		logs:      logs,
		ingest: NewIngestService(IngestConfig{
			DB:         db,
			Transport:  transport,
			Writer:     writer,
			Recorder:   recorder,
			Filters:    filters,
			LogService: logs,
			Logger:     logger.Discard(),
		}),
	}
}

// fakeTransport serves messages from memory and records concurrency
type fakeTransport struct {
	mu        sync.Mutex
	messages  map[uint32][]byte
	openErr   error
	selectErr error
	searchErr error
	fetchErrs map[uint32]error
	lastQuery *mailbox.Query

	// block, when set, makes Open wait until it is closed
	block     chan struct{}
	opened    chan struct{}
	active    int32
	maxActive int32
	opens     int32
	closes    int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		messages:  map[uint32][]byte{},
		fetchErrs: map[uint32]error{},
	}
}

func (f *fakeTransport) add(uid uint32, raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[uid] = []byte(raw)
}

func (f *fakeTransport) Open(ctx context.Context) (mailbox.Session, error) {
	n := atomic.AddInt32(&f.active, 1)
	for {
		max := atomic.LoadInt32(&f.maxActive)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxActive, max, n) {
			break
		}
	}
	atomic.AddInt32(&f.opens, 1)

	if f.opened != nil {
		select {
		case f.opened <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		<-f.block
	}

	if f.openErr != nil {
		atomic.AddInt32(&f.active, -1)
		return nil, f.openErr
	}
	return &fakeSession{f: f}, nil
}

type fakeSession struct {
	f *fakeTransport
}

func (s *fakeSession) SelectMailbox(name string) error {
	if s.f.selectErr != nil {
		return &mailbox.TransportError{Op: "select " + name, Err: s.f.selectErr}
	}
	return nil
}

func (s *fakeSession) Search(q *mailbox.Query) ([]uint32, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.lastQuery = q
	if s.f.searchErr != nil {
		return nil, &mailbox.TransportError{Op: "search", Err: s.f.searchErr}
	}
	uids := make([]uint32, 0, len(s.f.messages))
	for uid := range s.f.messages {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (s *fakeSession) Fetch(uid uint32) ([]byte, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if err := s.f.fetchErrs[uid]; err != nil {
		return nil, &mailbox.TransportError{Op: fmt.Sprintf("fetch uid %d", uid), Err: err}
	}
	return s.f.messages[uid], nil
}

func (s *fakeSession) Close() error {
	atomic.AddInt32(&s.f.closes, 1)
	atomic.AddInt32(&s.f.active, -1)
	return nil
}

// flakyBlobStore fails writes whose name contains failOn
type flakyBlobStore struct {
	*storage.DirStore
	failOn       string
	failDeletes  bool
	mu           sync.Mutex
	writtenNames []string
}

var errDiskFull = errors.New("no space left on device")

func (b *flakyBlobStore) Write(name string, content []byte) error {
	if b.failOn != "" && strings.Contains(name, b.failOn) {
		return fmt.Errorf("%w: %v", storage.ErrFileWriteFailed, errDiskFull)
	}
	if err := b.DirStore.Write(name, content); err != nil {
		return err
	}
	b.mu.Lock()
	b.writtenNames = append(b.writtenNames, name)
	b.mu.Unlock()
	return nil
}

func (b *flakyBlobStore) Delete(name string) error {
	if b.failDeletes {
		return errors.New("permission denied")
	}
	return b.DirStore.Delete(name)
}

type testAttachment struct {
	filename string
	mimeType string
	content  string
}

// buildMessage renders a MIME message. An empty id omits the Message-ID header.
func buildMessage(id, from, subject, body string, atts ...testAttachment) string {
	var b strings.Builder
	if id != "" {
		fmt.Fprintf(&b, "Message-ID: %s\r\n", id)
	}
	fmt.Fprintf(&b, "From: %s\r\nTo: inbox@example.com\r\nSubject: %s\r\n", from, subject)
	b.WriteString("Date: Mon, 02 Jan 2006 15:04:05 +0000\r\nMIME-Version: 1.0\r\n")

	if len(atts) == 0 {
		fmt.Fprintf(&b, "Content-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", body)
		return b.String()
	}

	b.WriteString("Content-Type: multipart/mixed; boundary=\"BOUNDARY\"\r\n\r\n")
	fmt.Fprintf(&b, "--BOUNDARY\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", body)
	for _, a := range atts {
		fmt.Fprintf(&b, "--BOUNDARY\r\nContent-Type: %s\r\nContent-Disposition: attachment; filename=\"%s\"\r\n\r\n%s\r\n",
			a.mimeType, a.filename, a.content)
	}
	b.WriteString("--BOUNDARY--\r\n")
	return b.String()
}

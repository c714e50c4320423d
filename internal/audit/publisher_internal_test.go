package audit

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu      sync.Mutex
	msgs    []published
	failing error
	drained bool
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing != nil {
		return f.failing
	}
	f.msgs = append(f.msgs, published{subject: subj, data: data})
	return nil
}

func (f *fakeConn) Drain() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drained = true
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestNATSPublisher_Publish 測試 subject 與訊息格式
func TestNATSPublisher_Publish(t *testing.T) {
	conn := &fakeConn{}
	p := newNATSPublisher(conn, "match", testLogger())
	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	err := p.Publish("AbC12", "match-concluded", map[string]any{
		"result": "win",
		"winner": "alice",
	})
	require.NoError(t, err)

	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "match.AbC12.match-concluded", conn.msgs[0].subject)

	var rec Record
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &rec))
	assert.Equal(t, "AbC12", rec.RoomID)
	assert.Equal(t, "match-concluded", rec.Event)
	assert.Equal(t, fixed, rec.PublishedAt)
	assert.JSONEq(t, `{"result":"win","winner":"alice"}`, string(rec.Data))
}

// TestNATSPublisher_Errors 測試發布失敗
func TestNATSPublisher_Errors(t *testing.T) {
	conn := &fakeConn{failing: errors.New("nats: connection closed")}
	p := newNATSPublisher(conn, "match", testLogger())

	err := p.Publish("AbC12", "move-result", map[string]int{"cell_index": 4})
	assert.ErrorContains(t, err, "match.AbC12.move-result")

	err = p.Publish("AbC12", "bad", make(chan int))
	assert.ErrorContains(t, err, "marshal bad payload")
}

// TestNATSPublisher_Close 關閉時 drain
func TestNATSPublisher_Close(t *testing.T) {
	conn := &fakeConn{}
	p := newNATSPublisher(conn, "match", testLogger())

	require.NoError(t, p.Close())
	assert.True(t, conn.drained)
}

// TestNopPublisher 測試空實作
func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish("room", "event", nil))
	assert.NoError(t, p.Close())
}

package emitter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/facilitator/internal/core/domain"
)

type recordingEmitter struct {
	got    []Notification
	err    error
	closed bool
}

func (r *recordingEmitter) Emit(ctx context.Context, n Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func (r *recordingEmitter) Close() error {
	r.closed = true
	return nil
}

func TestMultiEmitter_CallsAll(t *testing.T) {
	failing := &recordingEmitter{err: errors.New("redis down")}
	ok := &recordingEmitter{}
	m := MultiEmitter{failing, ok}

	n := Notification{BatchID: "b1", Side: domain.ChainSideOrigin}
	err := m.Emit(context.Background(), n)
	if err == nil || !strings.Contains(err.Error(), "redis down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.got) != 1 || ok.got[0].BatchID != "b1" {
		t.Errorf("expected second emitter to receive the notification, got %+v", ok.got)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !failing.closed || !ok.closed {
		t.Error("expected all emitters closed")
	}
}

func TestLogEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(slog.New(slog.NewTextHandler(&buf, nil)))

	m := domain.NewMessage(common.HexToHash("0x01"), domain.MessageTypeStake, domain.DirectionOriginToAuxiliary)
	m.Advance(domain.SideSource, domain.MessageStatusDeclared)
	req := &domain.MessageTransferRequest{RequestHash: common.HexToHash("0x02")}
	req.Bind(m.MessageHash)

	err := e.Emit(context.Background(), Notification{
		BatchID: "b2",
		Changes: []domain.Change{domain.MessageChange(m), domain.RequestChange(req)},
	})
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	out := buf.String()
	if strings.Count(out, "Entity changed") != 2 {
		t.Errorf("expected two log lines, got:\n%s", out)
	}
	if !strings.Contains(out, "source_status=declared") {
		t.Errorf("expected message status in log, got:\n%s", out)
	}
	if !strings.Contains(out, "message_hash="+m.MessageHash.Hex()) {
		t.Errorf("expected bound message hash in log, got:\n%s", out)
	}
}

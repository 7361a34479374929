package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/otp"
	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeChannel struct {
	mu       sync.Mutex
	exchange string
	key      string
	msgs     []amqp.Publishing
	err      error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.exchange, f.key = exchange, key
	f.msgs = append(f.msgs, msg)
	return nil
}

type recordingSender struct {
	mu    sync.Mutex
	sent  []string
	err   error
	delay time.Duration
}

func (r *recordingSender) Send(_ context.Context, email string, _ otp.Type, _ string) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, email)
	return r.err
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestWriterSenderFormatsMail(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSender(&buf)
	if err := s.Send(context.Background(), "ann@example.com", otp.PasswordReset, "123456"); err != nil {
		t.Fatalf("send: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"To: ann@example.com", "Subject: Reset your password", "Your code is 123456"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestAMQPSenderPublishesPersistentJob(t *testing.T) {
	ch := &fakeChannel{}
	s := newAMQPSender(ch, AMQPConfig{Exchange: "auth", Expiration: 10 * time.Minute})

	if err := s.Send(context.Background(), "ann@example.com", otp.EmailVerification, "654321"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if ch.exchange != "auth" || ch.key != DefaultRoutingKey || len(ch.msgs) != 1 {
		t.Fatalf("published to %s/%s (%d msgs)", ch.exchange, ch.key, len(ch.msgs))
	}
	msg := ch.msgs[0]
	if msg.DeliveryMode != amqp.Persistent || msg.ContentType != "application/json" || msg.Expiration != "600000" {
		t.Fatalf("unexpected publishing %+v", msg)
	}
	var job Job
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Email != "ann@example.com" || job.Type != otp.EmailVerification || job.Code != "654321" {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestAMQPSenderWrapsPublishError(t *testing.T) {
	boom := errors.New("channel closed")
	s := newAMQPSender(&fakeChannel{err: boom}, AMQPConfig{Exchange: "auth"})
	if err := s.Send(context.Background(), "ann@example.com", otp.PasswordReset, "1"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped publish error, got %v", err)
	}
}

func TestAsyncDeliversAndDrains(t *testing.T) {
	next := &recordingSender{}
	a := NewAsync(next, AsyncConfig{BufferSize: 16, Workers: 2})
	for i := 0; i < 10; i++ {
		if err := a.Send(context.Background(), "ann@example.com", otp.EmailVerification, "1"); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	a.Close()
	a.Close()

	if n := next.count(); n != 10 {
		t.Fatalf("delivered %d of 10", n)
	}
	if err := a.Send(context.Background(), "ann@example.com", otp.EmailVerification, "1"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("send after close: %v", err)
	}
}

func TestAsyncDropsWhenFull(t *testing.T) {
	next := &recordingSender{delay: 50 * time.Millisecond}
	a := NewAsync(next, AsyncConfig{BufferSize: 1, Workers: 1})
	defer a.Close()

	var full int
	for i := 0; i < 5; i++ {
		if err := a.Send(context.Background(), "ann@example.com", otp.EmailVerification, "1"); errors.Is(err, ErrQueueFull) {
			full++
		}
	}
	if full == 0 || a.Dropped() != uint64(full) {
		t.Fatalf("full=%d dropped=%d", full, a.Dropped())
	}
}

func TestAsyncCountsFailures(t *testing.T) {
	next := &recordingSender{err: errors.New("smtp down")}
	a := NewAsync(next, AsyncConfig{BufferSize: 4, Workers: 1})
	_ = a.Send(context.Background(), "ann@example.com", otp.PasswordReset, "1")
	a.Close()
	if a.Failed() != 1 {
		t.Fatalf("failed = %d", a.Failed())
	}
}

package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptcore/libs/events"
	"github.com/md-rashed-zaman/apptcore/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

type fakeInbox struct {
	seen      map[string]bool
	forgotten []string
	err       error
}

func (f *fakeInbox) Record(_ context.Context, eventID, _ string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen[eventID] {
		return false, nil
	}
	f.seen[eventID] = true
	return true, nil
}

func (f *fakeInbox) Forget(_ context.Context, eventID string) error {
	delete(f.seen, eventID)
	f.forgotten = append(f.forgotten, eventID)
	return nil
}

// fakeReader hands out msgs in order and cancels the run once they are exhausted.
type fakeReader struct {
	msgs      []kafka.Message
	fetched   int
	committed []int64
	closed    bool
	cancel    context.CancelFunc
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if f.fetched >= len(f.msgs) {
		f.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := f.msgs[f.fetched]
	f.fetched++
	return msg, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func event(offset int64, eventID string) kafka.Message {
	return kafka.Message{
		Topic:   events.AppointmentCreated,
		Offset:  offset,
		Value:   []byte(`{}`),
		Headers: kafkax.EventMeta{EventID: eventID, EventType: events.AppointmentCreated}.Headers(),
	}
}

type testRun struct {
	consumer *Consumer
	reader   *fakeReader
	inbox    *fakeInbox
	delays   []time.Duration
	ctx      context.Context
}

func newTestRun(handler Handler, msgs ...kafka.Message) *testRun {
	ctx, cancel := context.WithCancel(context.Background())
	r := &testRun{
		reader: &fakeReader{msgs: msgs, cancel: cancel},
		inbox:  &fakeInbox{seen: map[string]bool{}},
		ctx:    ctx,
	}
	r.consumer = newConsumer(r.reader, slog.New(slog.NewTextHandler(io.Discard, nil)), r.inbox, handler)
	r.consumer.sleep = func(ctx context.Context, d time.Duration) error {
		r.delays = append(r.delays, d)
		return ctx.Err()
	}
	return r
}

func TestRunCommitsHandledAndDuplicateEvents(t *testing.T) {
	calls := 0
	run := newTestRun(func(context.Context, kafka.Message) error {
		calls++
		return nil
	}, event(0, "e-1"), event(1, "e-1"), event(2, "e-2"))

	run.consumer.Run(run.ctx)

	if calls != 2 {
		t.Fatalf("duplicate delivered to handler, calls=%d", calls)
	}
	if got := run.reader.committed; len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("expected offsets 0,1,2 committed, got %v", got)
	}
	if !run.reader.closed {
		t.Fatalf("reader not closed")
	}
}

func TestRunRetriesFailedEventBeforeCommitting(t *testing.T) {
	attempts := map[int64]int{}
	run := newTestRun(func(_ context.Context, msg kafka.Message) error {
		attempts[msg.Offset]++
		if msg.Offset == 0 && attempts[0] < 3 {
			return errors.New("db down")
		}
		return nil
	}, event(0, "e-1"), event(1, "e-2"))

	run.consumer.Run(run.ctx)

	if attempts[0] != 3 || attempts[1] != 1 {
		t.Fatalf("unexpected attempts %v", attempts)
	}
	if got := run.reader.committed; len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("expected offsets committed in order after success, got %v", got)
	}
	if len(run.delays) != 2 || run.delays[0] != time.Second || run.delays[1] != 2*time.Second {
		t.Fatalf("unexpected backoff %v", run.delays)
	}
	if len(run.inbox.forgotten) != 2 || run.inbox.forgotten[0] != "e-1" {
		t.Fatalf("failed event must be forgotten before each retry, got %v", run.inbox.forgotten)
	}
}

func TestFailedEventStaysUncommittedOnShutdown(t *testing.T) {
	run := newTestRun(func(context.Context, kafka.Message) error {
		return errors.New("db down")
	}, event(0, "e-1"), event(1, "e-2"))
	run.consumer.retryMax = 3 * time.Second
	sleeps := 0
	run.consumer.sleep = func(ctx context.Context, d time.Duration) error {
		run.delays = append(run.delays, d)
		sleeps++
		if sleeps == 4 {
			run.reader.cancel()
		}
		return ctx.Err()
	}

	run.consumer.Run(run.ctx)

	if len(run.reader.committed) != 0 {
		t.Fatalf("failed event must not be committed, got %v", run.reader.committed)
	}
	if run.reader.fetched != 1 {
		t.Fatalf("later events must wait behind the failing one, fetched=%d", run.reader.fetched)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	for i, d := range want {
		if i >= len(run.delays) || run.delays[i] != d {
			t.Fatalf("expected capped backoff %v, got %v", want, run.delays)
		}
	}
}

func TestInboxErrorIsRetried(t *testing.T) {
	calls := 0
	run := newTestRun(func(context.Context, kafka.Message) error {
		calls++
		return nil
	}, event(0, "e-1"))
	run.inbox.err = errors.New("db down")
	run.consumer.sleep = func(ctx context.Context, d time.Duration) error {
		run.inbox.err = nil
		return ctx.Err()
	}

	run.consumer.Run(run.ctx)

	if calls != 1 || len(run.reader.committed) != 1 {
		t.Fatalf("expected one handled and committed event, calls=%d committed=%v", calls, run.reader.committed)
	}
}

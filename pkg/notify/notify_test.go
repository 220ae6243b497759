package notify

import (
	"errors"
	"testing"
)

type recordingSender struct {
	titles   []string
	messages []string
	err      error
}

func (r *recordingSender) Send(title, message string) error {
	r.titles = append(r.titles, title)
	r.messages = append(r.messages, message)
	return r.err
}

func TestSendUsesSender(t *testing.T) {
	rec := &recordingSender{}
	n := Disabled().WithSender(rec)

	n.Send("title", "message")

	if len(rec.titles) != 1 || rec.titles[0] != "title" {
		t.Errorf("expected one send with title %q, got %v", "title", rec.titles)
	}
}

func TestSendWithoutSenderIsNoOp(t *testing.T) {
	n := Disabled()
	n.Send("title", "message") // must not panic
}

func TestSendSwallowsDeliveryErrors(t *testing.T) {
	rec := &recordingSender{err: errors.New("no desktop")}
	n := Disabled().WithSender(rec)

	n.Send("title", "message") // must not panic or propagate

	if len(rec.titles) != 1 {
		t.Errorf("expected the send to be attempted, got %d calls", len(rec.titles))
	}
}

func TestExtractionDoneFormat(t *testing.T) {
	rec := &recordingSender{}
	n := Disabled().WithSender(rec)

	n.ExtractionDone("instagram", 5, 2, 1)

	if len(rec.messages) != 1 {
		t.Fatalf("expected one notification, got %d", len(rec.messages))
	}
	want := "instagram: 5 new, 2 skipped, 1 errors"
	if rec.messages[0] != want {
		t.Errorf("message = %q, want %q", rec.messages[0], want)
	}
}

func TestClassificationDoneFormat(t *testing.T) {
	rec := &recordingSender{}
	n := Disabled().WithSender(rec)

	n.ClassificationDone(12, 3)

	want := "12 labeled, 3 failed"
	if len(rec.messages) != 1 || rec.messages[0] != want {
		t.Errorf("messages = %v, want [%q]", rec.messages, want)
	}
}

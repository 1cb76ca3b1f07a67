package outbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kitilash/altegiobot/internal/domain/booking"
	"github.com/kitilash/altegiobot/internal/domain/job"
	outboxmsg "github.com/kitilash/altegiobot/internal/domain/outbox"
	"github.com/kitilash/altegiobot/internal/domain/sender"
)

var procNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeJobTx struct {
	*fakeStore

	job        *job.Job
	sentOutbox bool
	bookings   map[int64]*booking.Booking
	clients    map[int64]*booking.Client

	admitNext    time.Time
	admitAllowed bool

	doneIDs     []int64
	failedMsg   string
	canceledMsg string
	requeued    bool
	requeueAt   time.Time
	requeueMsg  string
	incremented bool
	outbox      []*outboxmsg.Message
}

func (f *fakeJobTx) LockJob(context.Context, int64) (*job.Job, error) {
	return f.job, nil
}

func (f *fakeJobTx) HasSentOutbox(context.Context, int64) (bool, error) {
	return f.sentOutbox, nil
}

func (f *fakeJobTx) GetBooking(_ context.Context, id int64) (*booking.Booking, error) {
	if b, ok := f.bookings[id]; ok {
		return b, nil
	}
	return nil, booking.ErrBookingNotFound
}

func (f *fakeJobTx) GetClient(_ context.Context, id int64) (*booking.Client, error) {
	if c, ok := f.clients[id]; ok {
		return c, nil
	}
	return nil, booking.ErrClientNotFound
}

func (f *fakeJobTx) AdmitContact(_ context.Context, _ string, now time.Time, window time.Duration) (time.Time, bool, error) {
	if f.admitAllowed {
		return now.Add(window), true, nil
	}
	return f.admitNext, false, nil
}

func (f *fakeJobTx) MarkJobDone(_ context.Context, id int64) error {
	f.doneIDs = append(f.doneIDs, id)
	return nil
}

func (f *fakeJobTx) MarkJobFailed(_ context.Context, _ int64, msg string) error {
	f.failedMsg = msg
	return nil
}

func (f *fakeJobTx) MarkJobCanceled(_ context.Context, _ int64, msg string) error {
	f.canceledMsg = msg
	return nil
}

func (f *fakeJobTx) RequeueJob(_ context.Context, _ int64, runAt time.Time, msg string) error {
	f.requeued = true
	f.requeueAt = runAt
	f.requeueMsg = msg
	return nil
}

func (f *fakeJobTx) IncrementJobAttempts(context.Context, int64) (int, error) {
	f.incremented = true
	return f.job.Attempts + 1, nil
}

func (f *fakeJobTx) InsertOutbox(_ context.Context, m *outboxmsg.Message) error {
	f.outbox = append(f.outbox, m)
	return nil
}

type fakeSender struct {
	id    string
	err   error
	calls int
	phone string
	text  string
}

func (f *fakeSender) Send(_ context.Context, _ int64, phone, text string) (string, error) {
	f.calls++
	f.phone = phone
	f.text = text
	return f.id, f.err
}

var (
	errTokenGone = errors.New("access token expired")
	errBlocked   = errors.New("real sends disabled")
)

func newTestProcessor(s Sender) *processor {
	return &processor{
		renderer:     NewRenderer(time.UTC, ""),
		sender:       s,
		tokenExpired: func(err error) bool { return errors.Is(err, errTokenGone) },
		sendBlocked:  func(err error) bool { return errors.Is(err, errBlocked) },
		window:       30 * time.Second,
		sendTimeout:  time.Second,
	}
}

func baseJob(jobType string) *job.Job {
	clientID := int64(9)
	return &job.Job{
		ID:          101,
		CompanyID:   7,
		ClientID:    &clientID,
		JobType:     jobType,
		RunAt:       procNow,
		MaxAttempts: 5,
	}
}

func newProcTx(j *job.Job) *fakeJobTx {
	st := newFakeStore()
	if j != nil {
		st.templates[j.JobType+":de"] = &sender.Template{Language: "de", Body: "Hallo {client_name}"}
	}
	st.senders[sender.DefaultCode] = &sender.Sender{ID: 3, IsActive: true}
	st.hasPrior = true

	tx := &fakeJobTx{
		fakeStore:    st,
		job:          j,
		bookings:     make(map[int64]*booking.Booking),
		clients:      make(map[int64]*booking.Client),
		admitAllowed: true,
	}
	tx.clients[9] = &booking.Client{ID: 9, CompanyID: 7, DisplayName: strPtr("Maria"), PhoneE164: strPtr("+4915112345678")}
	return tx
}

func TestProcessLockMiss(t *testing.T) {
	tx := newProcTx(nil)
	fs := &fakeSender{id: "wamid.1"}

	res, err := newTestProcessor(fs).process(context.Background(), tx, 101, procNow)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.outcome != outcomeSkipped {
		t.Fatalf("outcome = %v, want skipped", res.outcome)
	}
	if fs.calls != 0 {
		t.Fatalf("sender called on a lock miss")
	}
}

func TestProcessAlreadySentShortCircuits(t *testing.T) {
	tx := newProcTx(baseJob(job.TypeReminder24h))
	tx.sentOutbox = true
	fs := &fakeSender{id: "wamid.1"}

	res, err := newTestProcessor(fs).process(context.Background(), tx, 101, procNow)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.outcome != outcomeDone {
		t.Fatalf("outcome = %v, want done", res.outcome)
	}
	if len(tx.doneIDs) != 1 || tx.doneIDs[0] != 101 {
		t.Fatalf("doneIDs = %v, want [101]", tx.doneIDs)
	}
	if fs.calls != 0 {
		t.Fatalf("must not send again when a sent outbox row exists")
	}
}

func TestProcessMaxAttemptsFails(t *testing.T) {
	j := baseJob(job.TypeReminder24h)
	j.Attempts = j.MaxAttempts
	tx := newProcTx(j)

	res, err := newTestProcessor(&fakeSender{}).process(context.Background(), tx, 101, procNow)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.outcome != outcomeFailed {
		t.Fatalf("outcome = %v, want failed", res.outcome)
	}
	if tx.failedMsg != "Max attempts reached" {
		t.Fatalf("failedMsg = %q", tx.failedMsg)
	}
}

func TestProcessStaleReminderCanceled(t *testing.T) {
	j := baseJob(job.TypeReminder2h)
	bookingID := int64(42)
	j.BookingID = &bookingID
	tx := newProcTx(j)
	startsAt := procNow.Add(-time.Hour)
	tx.bookings[42] = &booking.Booking{ID: 42, CompanyID: 7, StartsAt: &startsAt}
	fs := &fakeSender{}

	res, err := newTestProcessor(fs).process(context.Background(), tx, 101, procNow)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.outcome != outcomeCanceled {
		t.Fatalf("outcome = %v, want canceled", res.outcome)
	}
	if tx.canceledMsg != "Skipped: record starts_at is in the past" {
		t.Fatalf("canceledMsg = %q", tx.canceledMsg)
	}
	if fs.calls != 0 {
		t.Fatalf("sender called for a stale reminder")
	}
}

func TestProcessReminderWithinGraceStillSends(t *testing.T) {
	j := baseJob(job.TypeReminder2h)
	bookingID := int64(42)
	j.BookingID = &bookingID
	tx := newProcTx(j)
	startsAt := procNow.Add(-2 * time.Minute)
	tx.bookings[42] = &booking.Booking{ID: 42, CompanyID: 7, StartsAt: &startsAt}
	fs := &fakeSender{id: "wamid.grace"}

	res, err := newTestProcessor(fs).process(context.Background(), tx, 101, procNow)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.outcome != outcomeDone {
		t.Fatalf("outcome = %v, want done for a start a few minutes ago", res.outcome)
	}
	if fs.calls != 1 {
		t.Fatalf("sender calls = %d, want 1", fs.calls)
	}
}

func TestProcessNoPhoneFails(t *testing.T) {
	tx := newProcTx(baseJob(job.TypeReminder24h))
	tx.clients[9].PhoneE164 = nil

	res, err := newTestProcessor(&fakeSender{}).process(context.Background(), tx, 101, procNow)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.outcome != outcomeFailed || tx.failedMsg != "No phone_e164" {
		t.Fatalf("outcome = %v, failedMsg = %q", res.outcome, tx.failedMsg)
	}
}

func TestProcessRateLimitedRequeues(t *testing.T) {
	tx := newProcTx(baseJob(job.TypeReminder24h))
	tx.admitAllowed = false
	tx.admitNext = procNow.Add(17 * time.Second)

	res, err := newTestProcessor(&fakeSender{}).process(context.Background(), tx, 101, procNow)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.outcome != outcomeRateLimited {
		t.Fatalf("outcome = %v, want rate limited", res.outcome)
	}
	if !tx.requeued || !tx.requeueAt.Equal(tx.admitNext) || tx.requeueMsg != "Rate limited" {
		t.Fatalf("requeue = %v at %v msg %q", tx.requeued, tx.requeueAt, tx.requeueMsg)
	}
	if tx.incremented {
		t.Fatalf("rate limiting must not burn an attempt")
	}
}

func TestProcessRenderErrorFailsWithoutRetry(t *testing.T) {
	j := baseJob(job.TypeReminder24h)
	tx := newProcTx(j)
	delete(tx.templates, job.TypeReminder24h+":de")

	res, err := newTestProcessor(&fakeSender{}).process(context.Background(), tx, 101, procNow)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.outcome != outcomeFailed {
		t.Fatalf("outcome = %v, want failed", res.outcome)
	}
	if !strings.HasPrefix(tx.failedMsg, "Template render error:") {
		t.Fatalf("failedMsg = %q", tx.failedMsg)
	}
	if tx.requeued {
		t.Fatalf("a broken template must not be retried")
	}
}

func TestProcessNoActiveSenderRetries(t *testing.T) {
	tx := newProcTx(baseJob(job.TypeReminder24h))
	delete(tx.senders, sender.DefaultCode)

	res, err := newTestProcessor(&fakeSender{}).process(context.Background(), tx, 101, procNow)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.outcome != outcomeRetried || tx.requeueMsg != "No active sender" {
		t.Fatalf("outcome = %v, requeueMsg = %q", res.outcome, tx.requeueMsg)
	}
}

func TestProcessRetryExhaustsToFailed(t *testing.T) {
	j := baseJob(job.TypeReminder24h)
	j.Attempts = j.MaxAttempts - 1
	tx := newProcTx(j)
	delete(tx.senders, sender.DefaultCode)

	res, err := newTestProcessor(&fakeSender{}).process(context.Background(), tx, 101, procNow)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.outcome != outcomeFailed || tx.failedMsg != "Max attempts reached" {
		t.Fatalf("outcome = %v, failedMsg = %q", res.outcome, tx.failedMsg)
	}
}

func TestProcessSendSuccess(t *testing.T) {
	tx := newProcTx(baseJob(job.TypeReminder24h))
	fs := &fakeSender{id: "wamid.abc"}

	res, err := newTestProcessor(fs).process(context.Background(), tx, 101, procNow)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.outcome != outcomeDone {
		t.Fatalf("outcome = %v, want done", res.outcome)
	}
	if fs.calls != 1 || fs.phone != "+4915112345678" || fs.text != "Hallo Maria" {
		t.Fatalf("send: calls=%d phone=%q text=%q", fs.calls, fs.phone, fs.text)
	}
	if len(tx.outbox) != 1 {
		t.Fatalf("outbox rows = %d, want 1", len(tx.outbox))
	}
	m := tx.outbox[0]
	if m.Status != outboxmsg.StatusSent {
		t.Fatalf("outbox status = %q", m.Status)
	}
	if m.ProviderMessageID == nil || *m.ProviderMessageID != "wamid.abc" {
		t.Fatalf("provider message id = %v", m.ProviderMessageID)
	}
	if m.SentAt == nil || !m.SentAt.Equal(procNow) {
		t.Fatalf("sentAt = %v", m.SentAt)
	}
	if m.JobID == nil || *m.JobID != 101 {
		t.Fatalf("jobID = %v", m.JobID)
	}
	if len(tx.doneIDs) != 1 {
		t.Fatalf("job not marked done")
	}
}

func TestProcessSendFailureRecordsOutboxAndRetries(t *testing.T) {
	tx := newProcTx(baseJob(job.TypeReminder24h))
	fs := &fakeSender{err: errors.New("whatsapp send failed: status=500")}

	res, err := newTestProcessor(fs).process(context.Background(), tx, 101, procNow)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.outcome != outcomeRetried {
		t.Fatalf("outcome = %v, want retried", res.outcome)
	}
	if len(tx.outbox) != 1 {
		t.Fatalf("outbox rows = %d, want 1", len(tx.outbox))
	}
	m := tx.outbox[0]
	if m.Status != outboxmsg.StatusFailed {
		t.Fatalf("outbox status = %q", m.Status)
	}
	if m.Error == nil || !strings.Contains(*m.Error, "status=500") {
		t.Fatalf("outbox error = %v", m.Error)
	}
	if tx.requeueMsg != fs.err.Error() {
		t.Fatalf("requeueMsg = %q", tx.requeueMsg)
	}
}

func TestProcessTokenExpiredRequeues(t *testing.T) {
	tx := newProcTx(baseJob(job.TypeReminder24h))
	fs := &fakeSender{err: errTokenGone}

	res, err := newTestProcessor(fs).process(context.Background(), tx, 101, procNow)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.outcome != outcomeRetried || !res.tokenExpired {
		t.Fatalf("outcome = %v tokenExpired = %v", res.outcome, res.tokenExpired)
	}
	if want := procNow.Add(tokenRetryDelay); !tx.requeueAt.Equal(want) {
		t.Fatalf("requeueAt = %v, want %v", tx.requeueAt, want)
	}
	if !strings.HasPrefix(tx.requeueMsg, "Send blocked:") {
		t.Fatalf("requeueMsg = %q", tx.requeueMsg)
	}
	if len(tx.outbox) != 1 {
		t.Fatalf("outbox rows = %d, want 1 failed row", len(tx.outbox))
	}
	m := tx.outbox[0]
	if m.Status != outboxmsg.StatusFailed {
		t.Fatalf("outbox status = %q", m.Status)
	}
	if m.Error == nil || !strings.Contains(*m.Error, "token") {
		t.Fatalf("outbox error = %v", m.Error)
	}
}

func TestProcessSendBlockedFails(t *testing.T) {
	tx := newProcTx(baseJob(job.TypeReminder24h))
	fs := &fakeSender{err: errBlocked}

	res, err := newTestProcessor(fs).process(context.Background(), tx, 101, procNow)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.outcome != outcomeFailed {
		t.Fatalf("outcome = %v, want failed", res.outcome)
	}
	if !strings.HasPrefix(tx.failedMsg, "Send blocked:") {
		t.Fatalf("failedMsg = %q", tx.failedMsg)
	}
}

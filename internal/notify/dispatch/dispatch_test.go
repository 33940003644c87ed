package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Shipnotify/internal/domain/notification"
	"github.com/NordCoder/Shipnotify/internal/domain/queue"
	"github.com/NordCoder/Shipnotify/internal/providers"
	"github.com/NordCoder/Shipnotify/internal/repository/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeProvider struct {
	id       string
	channels []notification.Channel
	send     func(ctx context.Context, msg providers.Message) providers.Result

	mu   sync.Mutex
	sent []providers.Message
}

func (p *fakeProvider) ID() string                       { return p.id }
func (p *fakeProvider) Channels() []notification.Channel { return p.channels }

func (p *fakeProvider) Send(ctx context.Context, _ *notification.ProviderConfig, msg providers.Message) providers.Result {
	p.mu.Lock()
	p.sent = append(p.sent, msg)
	p.mu.Unlock()
	if p.send != nil {
		return p.send(ctx, msg)
	}
	return providers.Sent("msg-1")
}

func (p *fakeProvider) Sent() []providers.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]providers.Message(nil), p.sent...)
}

type publisherStub struct {
	mu  sync.Mutex
	got []Outcome
}

func (p *publisherStub) PublishOutcome(_ context.Context, o Outcome) error {
	p.mu.Lock()
	p.got = append(p.got, o)
	p.mu.Unlock()
	return nil
}

type fixture struct {
	d         *Dispatcher
	queue     *memory.QueueRepo
	logs      *memory.LogRepo
	configs   *memory.ConfigRepo
	templates *memory.TemplateRepo
	settings  *memory.SettingsRepo
	clock     *fakeClock
	email     *fakeProvider
	sms       *fakeProvider
	published *publisherStub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		queue:     memory.NewQueueRepo(),
		logs:      memory.NewLogRepo(),
		configs:   memory.NewConfigRepo(),
		templates: memory.NewTemplateRepo(),
		settings:  memory.NewSettingsRepo(),
		clock:     &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		email:     &fakeProvider{id: "fake-email", channels: []notification.Channel{notification.ChannelEmail}},
		sms:       &fakeProvider{id: "fake-sms", channels: []notification.Channel{notification.ChannelSMS}},
		published: &publisherStub{},
	}
	f.d = New(Deps{
		Queue:     f.queue,
		Logs:      f.logs,
		Configs:   f.configs,
		Templates: f.templates,
		Settings:  f.settings,
		Providers: providers.NewRegistry(f.email, f.sms),
		Publisher: f.published,
	})
	f.d.Clock = f.clock
	f.settings.Set(notification.Settings{
		TenantID:             "t1",
		NotificationChannels: []notification.Channel{notification.ChannelEmail},
	})
	f.configs.Add(notification.ProviderConfig{
		Channel:     notification.ChannelEmail,
		ProviderID:  "fake-email",
		Credentials: map[string]string{},
		IsActive:    true,
	})
	return f
}

func (f *fixture) enqueue(shipmentID, status string) *queue.Item {
	sid := shipmentID
	now := f.clock.Now()
	it := &queue.Item{
		ID:         uuid.New(),
		TenantID:   "t1",
		ShipmentID: &sid,
		EventType:  status,
		Payload: queue.Payload{
			TrackingCode:   "TRK-" + shipmentID,
			NewStatus:      status,
			RecipientEmail: "jane@example.com",
			RecipientPhone: "+14155550100",
			RecipientName:  "Jane",
		},
		Status:       queue.StatusPending,
		ScheduledFor: now,
		MaxRetries:   queue.DefaultMaxRetries,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.queue.Put(it)
	return it
}

func (f *fixture) row(t *testing.T, id uuid.UUID) *queue.Item {
	t.Helper()
	it, err := f.queue.Get(context.Background(), id)
	require.NoError(t, err)
	return it
}

func sentLogs(logs []notification.Log) []notification.Log {
	var out []notification.Log
	for _, l := range logs {
		if l.Status == notification.LogSent {
			out = append(out, l)
		}
	}
	return out
}

func TestProcessQueue_SendsAndCompletes(t *testing.T) {
	f := newFixture(t)
	it := f.enqueue("s1", "delivered")

	stats, err := f.d.ProcessQueue(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1, Completed: 1}, stats)

	row := f.row(t, it.ID)
	assert.Equal(t, queue.StatusCompleted, row.Status)
	require.Len(t, row.ExecutionLog, 1)
	assert.Equal(t, queue.OutcomeSent, row.ExecutionLog[0].Channels[0].Outcome)

	sent := f.email.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "jane@example.com", sent[0].To)
	assert.Equal(t, "Shipment TRK-s1: Delivered", sent[0].Subject)
	assert.Contains(t, sent[0].HTML, "Hi Jane,")

	logs := f.logs.All()
	require.Len(t, logs, 1)
	assert.Equal(t, notification.LogSent, logs[0].Status)
	assert.Equal(t, "delivered", logs[0].Trigger())
	assert.Equal(t, "fake-email", logs[0].ProviderID)
	assert.Equal(t, "msg-1", logs[0].Metadata["message_id"])

	require.Len(t, f.published.got, 1)
	assert.Equal(t, queue.ResultCompleted, f.published.got[0].Result)
}

func TestProcessQueue_AtMostOneSendPerTrigger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.enqueue("s1", "delivered")
	_, err := f.d.ProcessQueue(ctx, 50)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	second := f.enqueue("s1", "delivered")
	stats, err := f.d.ProcessQueue(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1, Completed: 1}, stats)

	assert.Len(t, f.email.Sent(), 1)
	assert.Len(t, sentLogs(f.logs.All()), 1)
	assert.Equal(t, queue.StatusCompleted, f.row(t, first.ID).Status)

	row := f.row(t, second.ID)
	assert.Equal(t, queue.StatusCompleted, row.Status)
	assert.Equal(t, queue.OutcomeDuplicate, row.LastAttempt().Channels[0].Outcome)
}

func TestProcessQueue_NewStatusIsNotADuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.enqueue("s1", "out_for_delivery")
	_, err := f.d.ProcessQueue(ctx, 50)
	require.NoError(t, err)

	f.enqueue("s1", "delivered")
	_, err = f.d.ProcessQueue(ctx, 50)
	require.NoError(t, err)

	assert.Len(t, sentLogs(f.logs.All()), 2)
}

func TestProcessQueue_RetryProgression(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.email.send = func(context.Context, providers.Message) providers.Result {
		return providers.Fail(providers.KindProvider, "HTTP 503")
	}
	it := f.enqueue("s1", "delivered")
	start := f.clock.Now()

	stats, err := f.d.ProcessQueue(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1, Retried: 1}, stats)
	row := f.row(t, it.ID)
	assert.Equal(t, queue.StatusPending, row.Status)
	assert.Equal(t, 1, row.RetryCount)
	assert.Equal(t, start.Add(5*time.Minute), row.ScheduledFor)

	// not due yet
	stats, err = f.d.ProcessQueue(ctx, 50)
	require.NoError(t, err)
	assert.Zero(t, stats.Processed)

	f.clock.Advance(5 * time.Minute)
	_, err = f.d.ProcessQueue(ctx, 50)
	require.NoError(t, err)
	row = f.row(t, it.ID)
	assert.Equal(t, queue.StatusPending, row.Status)
	assert.Equal(t, 2, row.RetryCount)
	assert.Equal(t, f.clock.Now().Add(25*time.Minute), row.ScheduledFor)

	f.clock.Advance(25 * time.Minute)
	stats, err = f.d.ProcessQueue(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1, Failed: 1}, stats)
	row = f.row(t, it.ID)
	assert.Equal(t, queue.StatusFailed, row.Status)
	assert.Equal(t, 3, row.RetryCount)
	assert.Len(t, row.ExecutionLog, 3)
	assert.Equal(t, "HTTP 503", row.LastAttempt().Reason)

	f.clock.Advance(24 * time.Hour)
	stats, err = f.d.ProcessQueue(ctx, 50)
	require.NoError(t, err)
	assert.Zero(t, stats.Processed)
	assert.Len(t, f.email.Sent(), 3)
	assert.Empty(t, sentLogs(f.logs.All()))
}

func TestProcessQueue_ValidationFailsImmediately(t *testing.T) {
	f := newFixture(t)
	it := f.enqueue("s1", "delivered")
	it.Payload.RecipientEmail = ""
	f.queue.Put(it)

	stats, err := f.d.ProcessQueue(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1, Failed: 1}, stats)

	row := f.row(t, it.ID)
	assert.Equal(t, queue.StatusFailed, row.Status)
	assert.Equal(t, 1, row.RetryCount)
	assert.Equal(t, queue.OutcomeValidationError, row.LastAttempt().Channels[0].Outcome)
	assert.Empty(t, f.email.Sent())

	logs := f.logs.All()
	require.Len(t, logs, 1)
	assert.Equal(t, notification.LogFailed, logs[0].Status)
	assert.Equal(t, queue.OutcomeValidationError, logs[0].Metadata["error_kind"])
}

func TestProcessQueue_NoProvidersIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.settings.Set(notification.Settings{
		TenantID:             "t1",
		NotificationChannels: []notification.Channel{notification.ChannelWhatsApp},
	})
	it := f.enqueue("s1", "delivered")

	stats, err := f.d.ProcessQueue(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1, Skipped: 1}, stats)

	row := f.row(t, it.ID)
	assert.Equal(t, queue.StatusCompleted, row.Status)
	assert.Equal(t, ReasonNoProviders, row.LastAttempt().Reason)
	assert.Empty(t, f.logs.All())
}

func TestProcessQueue_TriggerRecheckedAtDispatch(t *testing.T) {
	f := newFixture(t)
	it := f.enqueue("s1", "in_transit")
	f.settings.Set(notification.Settings{
		TenantID:             "t1",
		NotificationTriggers: []string{"delivered", "exception"},
	})

	stats, err := f.d.ProcessQueue(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1, Skipped: 1}, stats)

	row := f.row(t, it.ID)
	assert.Equal(t, queue.StatusCompleted, row.Status)
	assert.Equal(t, ReasonTriggerDisabled, row.LastAttempt().Reason)
	assert.Empty(t, f.email.Sent())
	assert.Empty(t, sentLogs(f.logs.All()))
}

func TestProcessQueue_TenantConfigBeatsGlobal(t *testing.T) {
	f := newFixture(t)
	tenantEmail := &fakeProvider{id: "tenant-email", channels: []notification.Channel{notification.ChannelEmail}}
	f.d.Providers.Register(tenantEmail)

	f.enqueue("s1", "delivered")
	_, err := f.d.ProcessQueue(context.Background(), 50)
	require.NoError(t, err)
	assert.Len(t, f.email.Sent(), 1)

	tenant := "t1"
	f.configs.Add(notification.ProviderConfig{
		TenantID:   &tenant,
		Channel:    notification.ChannelEmail,
		ProviderID: "tenant-email",
		IsActive:   true,
	})
	f.enqueue("s2", "delivered")
	_, err = f.d.ProcessQueue(context.Background(), 50)
	require.NoError(t, err)
	assert.Len(t, f.email.Sent(), 1)
	assert.Len(t, tenantEmail.Sent(), 1)
}

func TestProcessQueue_FanOutPartialSuccessCompletes(t *testing.T) {
	f := newFixture(t)
	f.settings.Set(notification.Settings{TenantID: "t1"})
	f.configs.Add(notification.ProviderConfig{
		Channel:    notification.ChannelSMS,
		ProviderID: "fake-sms",
		IsActive:   true,
	})
	f.sms.send = func(context.Context, providers.Message) providers.Result {
		return providers.Fail(providers.KindProvider, "gateway down")
	}
	it := f.enqueue("s1", "exception")

	stats, err := f.d.ProcessQueue(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)

	row := f.row(t, it.ID)
	assert.Equal(t, queue.StatusCompleted, row.Status)
	outcomes := map[notification.Channel]string{}
	for _, c := range row.LastAttempt().Channels {
		outcomes[c.Channel] = c.Outcome
	}
	assert.Equal(t, map[notification.Channel]string{
		notification.ChannelEmail:    queue.OutcomeSent,
		notification.ChannelSMS:      queue.OutcomeProviderError,
		notification.ChannelWhatsApp: queue.OutcomeNoProvider,
		notification.ChannelWebhook:  queue.OutcomeNoProvider,
	}, outcomes)

	sms := f.sms.Sent()
	require.Len(t, sms, 1)
	assert.Equal(t, "Hi Jane, your shipment TRK-s1 is now Delivery exception.", sms[0].Text)
}

func TestProcessQueue_InvalidEmailFailsOnlyEmailChannel(t *testing.T) {
	f := newFixture(t)
	f.settings.Set(notification.Settings{
		TenantID:             "t1",
		NotificationChannels: []notification.Channel{notification.ChannelEmail, notification.ChannelSMS},
	})
	f.configs.Add(notification.ProviderConfig{
		Channel:    notification.ChannelSMS,
		ProviderID: "fake-sms",
		IsActive:   true,
	})
	it := f.enqueue("s1", "delivered")
	it.Payload.RecipientEmail = "not-an-email"
	f.queue.Put(it)

	stats, err := f.d.ProcessQueue(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)

	row := f.row(t, it.ID)
	assert.Equal(t, queue.StatusCompleted, row.Status)
	outcomes := map[notification.Channel]string{}
	for _, c := range row.LastAttempt().Channels {
		outcomes[c.Channel] = c.Outcome
	}
	assert.Equal(t, queue.OutcomeValidationError, outcomes[notification.ChannelEmail])
	assert.Equal(t, queue.OutcomeSent, outcomes[notification.ChannelSMS])

	assert.Empty(t, f.email.Sent())
	require.Len(t, f.sms.Sent(), 1)

	var emailLog *notification.Log
	for _, l := range f.logs.All() {
		if l.Channel == notification.ChannelEmail {
			emailLog = &l
		}
	}
	require.NotNil(t, emailLog)
	assert.Equal(t, notification.LogFailed, emailLog.Status)
	assert.Equal(t, queue.OutcomeValidationError, emailLog.Metadata["error_kind"])
}

func TestProcessQueue_SingleChannelRow(t *testing.T) {
	f := newFixture(t)
	f.configs.Add(notification.ProviderConfig{
		Channel:    notification.ChannelSMS,
		ProviderID: "fake-sms",
		IsActive:   true,
	})
	it := f.enqueue("s1", "delivered")
	it.Channel = notification.ChannelSMS
	f.queue.Put(it)

	_, err := f.d.ProcessQueue(context.Background(), 50)
	require.NoError(t, err)
	assert.Empty(t, f.email.Sent())
	assert.Len(t, f.sms.Sent(), 1)
}

func TestProcessQueue_RetryCollidingWithNewerEventIsSuperseded(t *testing.T) {
	f := newFixture(t)
	f.email.send = func(context.Context, providers.Message) providers.Result {
		return providers.Fail(providers.KindProvider, "HTTP 502")
	}
	old := f.enqueue("s1", "out_for_delivery")
	newer := f.enqueue("s1", "delivered")
	newer.ScheduledFor = f.clock.Now().Add(30 * time.Second)
	f.queue.Put(newer)

	stats, err := f.d.ProcessQueue(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1, Skipped: 1}, stats)

	row := f.row(t, old.ID)
	assert.Equal(t, queue.StatusCompleted, row.Status)
	assert.Equal(t, ReasonSuperseded, row.LastAttempt().Reason)
	assert.Equal(t, queue.StatusPending, f.row(t, newer.ID).Status)
}

func TestProcessQueue_ConcurrentWorkersClaimOnce(t *testing.T) {
	f := newFixture(t)
	const n = 20
	for i := 0; i < n; i++ {
		f.enqueue(uuid.NewString(), "delivered")
	}
	other := New(Deps{
		Queue:     f.queue,
		Logs:      f.logs,
		Configs:   f.configs,
		Templates: f.templates,
		Settings:  f.settings,
		Providers: f.d.Providers,
	})
	other.Clock = f.clock

	var wg sync.WaitGroup
	results := make([]Stats, 2)
	for i, d := range []*Dispatcher{f.d, other} {
		wg.Add(1)
		go func(i int, d *Dispatcher) {
			defer wg.Done()
			s, err := d.ProcessQueue(context.Background(), n)
			assert.NoError(t, err)
			results[i] = s
		}(i, d)
	}
	wg.Wait()

	assert.Equal(t, n, results[0].Processed+results[1].Processed)
	assert.Len(t, f.email.Sent(), n)
	assert.Len(t, sentLogs(f.logs.All()), n)
}

func TestProcessQueue_ProviderPanicIsRetried(t *testing.T) {
	f := newFixture(t)
	f.email.send = func(context.Context, providers.Message) providers.Result { panic("boom") }
	it := f.enqueue("s1", "delivered")

	stats, err := f.d.ProcessQueue(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)
	assert.Equal(t, queue.OutcomeProviderError, f.row(t, it.ID).LastAttempt().Channels[0].Outcome)
}

type panickySettings struct{}

func (panickySettings) GetSettings(context.Context, string) (*notification.Settings, error) {
	panic("settings exploded")
}

func TestProcessQueue_RowPanicDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t)
	a := f.enqueue("s1", "delivered")
	b := f.enqueue("s2", "delivered")
	f.d.Settings = panickySettings{}

	stats, err := f.d.ProcessQueue(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 2, Retried: 2}, stats)
	for _, id := range []uuid.UUID{a.ID, b.ID} {
		row := f.row(t, id)
		assert.Equal(t, queue.StatusPending, row.Status)
		assert.Contains(t, row.LastAttempt().Reason, "internal error")
	}
}

func TestProcessQueue_SendTimeout(t *testing.T) {
	f := newFixture(t)
	f.d.SendTimeout = 20 * time.Millisecond
	f.email.send = func(ctx context.Context, _ providers.Message) providers.Result {
		<-ctx.Done()
		return providers.Fail(providers.KindValidation, "%v", ctx.Err())
	}
	it := f.enqueue("s1", "delivered")

	stats, err := f.d.ProcessQueue(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)
	ch := f.row(t, it.ID).LastAttempt().Channels[0]
	assert.Equal(t, queue.OutcomeProviderError, ch.Outcome)
	assert.Contains(t, ch.Error, "timed out")
}

func TestProcessQueue_OrderAndLimit(t *testing.T) {
	f := newFixture(t)
	low := f.enqueue("s1", "in_transit")
	high := f.enqueue("s2", "exception")
	high.Priority = 10
	f.queue.Put(high)

	stats, err := f.d.ProcessQueue(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, queue.StatusCompleted, f.row(t, high.ID).Status)
	assert.Equal(t, queue.StatusPending, f.row(t, low.ID).Status)
}

func TestAggregate(t *testing.T) {
	res := func(outcome string) queue.ChannelResult { return queue.ChannelResult{Outcome: outcome} }
	cases := []struct {
		name string
		in   []queue.ChannelResult
		want verdict
	}{
		{"none", nil, verdictSkip},
		{"no providers", []queue.ChannelResult{res(queue.OutcomeNoProvider)}, verdictSkip},
		{"duplicates only", []queue.ChannelResult{res(queue.OutcomeDuplicate)}, verdictComplete},
		{"one sent", []queue.ChannelResult{res(queue.OutcomeProviderError), res(queue.OutcomeSent)}, verdictComplete},
		{"transient", []queue.ChannelResult{res(queue.OutcomeConfigError), res(queue.OutcomeProviderError)}, verdictRetry},
		{"permanent", []queue.ChannelResult{res(queue.OutcomeValidationError), res(queue.OutcomeConfigError)}, verdictFail},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := aggregate(tc.in)
			assert.Equal(t, tc.want, got)
		})
	}
}

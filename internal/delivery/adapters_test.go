package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locallift/backend/internal/db"
	"github.com/locallift/backend/internal/models"
)

func TestClassifyStatus(t *testing.T) {
	cases := map[int]Outcome{
		200: Delivered,
		202: Delivered,
		400: PermanentFailure,
		404: PermanentFailure,
		408: TransientFailure,
		429: TransientFailure,
		500: TransientFailure,
		503: TransientFailure,
	}
	for code, want := range cases {
		if got := classifyStatus(code); got != want {
			t.Fatalf("status %d: expected %s, got %s", code, want, got)
		}
	}
}

func TestSMSAdapter(t *testing.T) {
	var (
		mu       sync.Mutex
		received []smsRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req smsRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		received = append(received, req)
		mu.Unlock()
		switch req.To {
		case "+100":
			w.WriteHeader(http.StatusTooManyRequests)
		case "+400":
			w.WriteHeader(http.StatusBadRequest)
		default:
			w.WriteHeader(http.StatusAccepted)
		}
	}))
	defer srv.Close()

	a := &SMSAdapter{GatewayURL: srv.URL, APIKey: "key", MinInterval: 10 * time.Millisecond}
	p := Payload{ReportID: "r1", Short: "LocalLift 2026-W11: views 200 (100.0%)"}

	start := time.Now()
	outcome, err := a.Send(context.Background(), p, []string{"+1", "+2"})
	require.NoError(t, err)
	assert.Equal(t, Delivered, outcome)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond, "second request should wait for the interval")

	outcome, err = a.Send(context.Background(), p, []string{"+100"})
	assert.Error(t, err)
	assert.Equal(t, TransientFailure, outcome)

	outcome, err = a.Send(context.Background(), p, []string{"+400", "+3"})
	assert.Error(t, err)
	assert.Equal(t, PermanentFailure, outcome)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 4, "delivery stops at the first failing recipient")
	assert.Equal(t, "r1", received[0].Reference)
	assert.Equal(t, p.Short, received[0].Message)

	outcome, _ = a.Send(context.Background(), p, nil)
	assert.Equal(t, PermanentFailure, outcome)
}

func TestSMSAdapterNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	a := &SMSAdapter{GatewayURL: url}
	outcome, err := a.Send(context.Background(), Payload{}, []string{"+1"})
	assert.Error(t, err)
	assert.Equal(t, TransientFailure, outcome)
}

func TestWebhookAdapterSignsBody(t *testing.T) {
	body := []byte(`{"report_id":"r1"}`)
	var gotSig, gotKey string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotKey = r.Header.Get("Idempotency-Key")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := &WebhookAdapter{Secret: "s3cret"}
	outcome, err := a.Send(context.Background(), Payload{ReportID: "r1", JSON: body}, []string{srv.URL})
	require.NoError(t, err)
	assert.Equal(t, Delivered, outcome)
	assert.Equal(t, Sign("s3cret", body), gotSig)
	assert.True(t, strings.HasPrefix(gotSig, "sha256="))
	assert.Equal(t, "r1", gotKey)
	assert.Equal(t, body, gotBody)
}

func TestWebhookAdapterWithoutSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(SignatureHeader) != "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	outcome, err := (&WebhookAdapter{}).Send(context.Background(), Payload{JSON: []byte(`{}`)}, []string{srv.URL})
	assert.Error(t, err)
	assert.Equal(t, TransientFailure, outcome)
}

type fakeSES struct {
	err   error
	input *sesv2.SendEmailInput
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{}, nil
}

func TestSESAdapterClassifiesErrors(t *testing.T) {
	p := Payload{ReportID: "r1", Subject: "subject", Text: "text", HTML: "<p>html</p>"}

	fake := &fakeSES{}
	a := &SESAdapter{Client: fake, From: "reports@locallift.io"}
	outcome, err := a.Send(context.Background(), p, []string{"a@example.com", "b@example.com"})
	require.NoError(t, err)
	assert.Equal(t, Delivered, outcome)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, fake.input.Destination.ToAddresses)
	assert.Equal(t, "subject", *fake.input.Content.Simple.Subject.Data)

	fake.err = &smithy.GenericAPIError{Code: "MessageRejected", Message: "address blacklisted"}
	outcome, err = a.Send(context.Background(), p, []string{"a@example.com"})
	assert.Error(t, err)
	assert.Equal(t, PermanentFailure, outcome)

	fake.err = &smithy.GenericAPIError{Code: "TooManyRequestsException", Message: "slow down"}
	outcome, _ = a.Send(context.Background(), p, []string{"a@example.com"})
	assert.Equal(t, TransientFailure, outcome)

	fake.err = errors.New("dial tcp: connection refused")
	outcome, _ = a.Send(context.Background(), p, []string{"a@example.com"})
	assert.Equal(t, TransientFailure, outcome)
}

func TestDashboardAdapterWritesInbox(t *testing.T) {
	store := db.NewMemoryStore()
	a := &DashboardAdapter{Store: store, Now: func() time.Time { return slotStart }}
	p := Payload{ReportID: "r1", ClientID: "c1", Subject: "s", Text: "body"}

	for i := 0; i < 2; i++ {
		outcome, err := a.Send(context.Background(), p, nil)
		require.NoError(t, err)
		assert.Equal(t, Delivered, outcome)
	}
	items, err := store.InboxItems(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.InboxItem{ClientID: "c1", ReportID: "r1", Subject: "s", Body: "body", CreatedAt: slotStart}, items[0])
}

func TestDispatchRetriesOnlyUnreachedRecipients(t *testing.T) {
	var (
		mu    sync.Mutex
		calls = map[string]int{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req smsRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		calls[req.To]++
		n := calls[req.To]
		mu.Unlock()
		if req.To == "+2" && n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d, store, _, job := setupDispatch(t, &scriptedAdapter{})
	d.Adapters[models.DeliverySMS] = &SMSAdapter{GatewayURL: srv.URL}
	job.Preference.Method = models.DeliverySMS
	job.Preference.Recipients = []string{"+1", "+2"}

	_, err := d.Dispatch(context.Background(), job)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"+1": 1, "+2": 2}, calls, "a reached recipient is not messaged again")

	w, err := store.Watermark(context.Background(), "c1", models.DeliverySMS)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, job.Slot, w.Week)
}

func TestRecipientErrorReportsProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	recipients := []string{srv.URL + "/a", srv.URL + "/down", srv.URL + "/b"}
	outcome, err := (&WebhookAdapter{}).Send(context.Background(), Payload{JSON: []byte(`{}`)}, recipients)
	assert.Equal(t, TransientFailure, outcome)

	var re *RecipientError
	require.True(t, errors.As(err, &re), "got %v", err)
	assert.Equal(t, srv.URL+"/down", re.Recipient)
	assert.Equal(t, []string{srv.URL + "/a"}, re.Delivered)
	assert.Equal(t, []string{srv.URL + "/down", srv.URL + "/b"}, pending(recipients, err))
	assert.Equal(t, recipients, pending(recipients, errors.New("plain")))
}

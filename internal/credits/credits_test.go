package credits

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"genstudio/internal/domain"
)

type fakeProfiles struct {
	mu       sync.Mutex
	balance  map[string]int
	calls    int
	forceErr error
}

func (f *fakeProfiles) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeProfiles) DecrementCredits(ctx context.Context, userID string, amount int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.forceErr != nil {
		return 0, f.forceErr
	}
	if f.balance[userID] < amount {
		return 0, domain.ErrInsufficientCredit
	}
	f.balance[userID] -= amount
	return f.balance[userID], nil
}

type recordingDispatcher struct {
	triggers []domain.RechargeTrigger
}

func (d *recordingDispatcher) Dispatch(t domain.RechargeTrigger) {
	d.triggers = append(d.triggers, t)
}

func TestCheckAndReserve(t *testing.T) {
	c := NewController(&fakeProfiles{}, nil, zerolog.Nop())

	require.NoError(t, c.CheckAndReserve(&domain.Profile{Credits: 3, Role: domain.UserRoleUser}, 3))
	require.NoError(t, c.CheckAndReserve(&domain.Profile{Credits: 0, Role: domain.UserRoleAdmin}, 3))
	require.NoError(t, c.CheckAndReserve(&domain.Profile{Credits: 0, Role: domain.UserRoleStaff}, 3))

	err := c.CheckAndReserve(&domain.Profile{Credits: 2, Role: domain.UserRoleUser, Plan: domain.UserPlanFree}, 3)
	e, ok := domain.AsError(err)
	require.True(t, ok)
	require.Equal(t, domain.KindInsufficientCredits, e.Kind)
	require.Equal(t, http.StatusPaymentRequired, e.HTTPStatus())
	require.Equal(t, 3, e.Details["required"])
	require.Equal(t, 2, e.Details["available"])
	require.Equal(t, "free", e.Details["plan"])
	require.ErrorIs(t, err, domain.ErrInsufficientCredit)
}

func TestSettleDeductsOncePerCall(t *testing.T) {
	store := &fakeProfiles{balance: map[string]int{"u1": 10}}
	c := NewController(store, nil, zerolog.Nop())
	p := &domain.Profile{ID: "u1", Credits: 10, Role: domain.UserRoleUser}

	bal, err := c.Settle(context.Background(), p, 3)
	require.NoError(t, err)
	require.Equal(t, 7, bal)

	bal, err = c.Settle(context.Background(), p, 3)
	require.NoError(t, err)
	require.Equal(t, 4, bal)
	require.Equal(t, 2, store.calls)
}

func TestSettlePrivilegedIsFree(t *testing.T) {
	store := &fakeProfiles{balance: map[string]int{}}
	c := NewController(store, nil, zerolog.Nop())

	bal, err := c.Settle(context.Background(), &domain.Profile{ID: "a", Credits: 0, Role: domain.UserRoleAdmin}, 3)
	require.NoError(t, err)
	require.Equal(t, 0, bal)
	require.Zero(t, store.calls)
}

func TestSettleRaceSurfacesInsufficientCredits(t *testing.T) {
	store := &fakeProfiles{balance: map[string]int{"u1": 1}}
	c := NewController(store, nil, zerolog.Nop())

	_, err := c.Settle(context.Background(), &domain.Profile{ID: "u1", Credits: 3, Role: domain.UserRoleUser}, 3)
	require.Equal(t, domain.KindInsufficientCredits, domain.KindOf(err))
	require.Equal(t, 1, store.balance["u1"])
}

func TestSettleWrapsStoreErrors(t *testing.T) {
	boom := errors.New("connection reset")
	c := NewController(&fakeProfiles{forceErr: boom}, nil, zerolog.Nop())

	_, err := c.Settle(context.Background(), &domain.Profile{ID: "u1", Credits: 3}, 3)
	require.ErrorIs(t, err, boom)
}

func TestSettleTriggersRechargeAtThreshold(t *testing.T) {
	tests := []struct {
		name    string
		ar      domain.AutoRecharge
		start   int
		trigger bool
	}{
		{name: "below threshold", ar: domain.AutoRecharge{Enabled: true, Threshold: 5, PackID: "pack-s"}, start: 7, trigger: true},
		{name: "at threshold", ar: domain.AutoRecharge{Enabled: true, Threshold: 4, PackID: "pack-s"}, start: 7, trigger: true},
		{name: "above threshold", ar: domain.AutoRecharge{Enabled: true, Threshold: 3, PackID: "pack-s"}, start: 7},
		{name: "disabled", ar: domain.AutoRecharge{Threshold: 100}, start: 7},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := &recordingDispatcher{}
			c := NewController(&fakeProfiles{balance: map[string]int{"u1": tc.start}}, d, zerolog.Nop())
			_, err := c.Settle(context.Background(), &domain.Profile{ID: "u1", Credits: tc.start, AutoRecharge: tc.ar}, 3)
			require.NoError(t, err)
			if !tc.trigger {
				require.Empty(t, d.triggers)
				return
			}
			require.Equal(t, []domain.RechargeTrigger{{UserID: "u1", NewBalance: 4, PackID: "pack-s", Threshold: tc.ar.Threshold}}, d.triggers)
		})
	}
}

type fakeRecharger struct {
	mu    sync.Mutex
	got   []domain.RechargeTrigger
	err   error
	delay time.Duration
}

func (f *fakeRecharger) Trigger(ctx context.Context, t domain.RechargeTrigger) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, t)
	return f.err
}

func TestAsyncDispatcherDoesNotBlockAndDrains(t *testing.T) {
	r := &fakeRecharger{delay: 50 * time.Millisecond, err: errors.New("billing down")}
	d := NewAsyncDispatcher(r, time.Second, zerolog.Nop())

	start := time.Now()
	d.Dispatch(domain.RechargeTrigger{UserID: "u1"})
	require.Less(t, time.Since(start), 40*time.Millisecond)

	require.NoError(t, d.Drain(context.Background()))
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.got, 1)
}

func TestDrainHonoursDeadline(t *testing.T) {
	d := NewAsyncDispatcher(&fakeRecharger{delay: 200 * time.Millisecond}, time.Second, zerolog.Nop())
	d.Dispatch(domain.RechargeTrigger{UserID: "u1"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Drain(ctx), context.DeadlineExceeded)
	require.NoError(t, d.Drain(context.Background()))
}

type fakeQueue struct {
	mu     sync.Mutex
	pushed [][]byte
	pop    []string
	popErr error
}

func (q *fakeQueue) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, v := range values {
		q.pushed = append(q.pushed, v.([]byte))
	}
	return redis.NewIntResult(int64(len(q.pushed)), nil)
}

func (q *fakeQueue) BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	return redis.NewStringSliceResult(q.pop, q.popErr)
}

func TestRedisDispatcherPushesJSON(t *testing.T) {
	q := &fakeQueue{}
	d := newRedisDispatcher(q, "", zerolog.Nop())
	d.Dispatch(domain.RechargeTrigger{UserID: "u1", NewBalance: 2, PackID: "p", Threshold: 5})
	require.NoError(t, d.Drain(context.Background()))

	q.mu.Lock()
	defer q.mu.Unlock()
	require.Len(t, q.pushed, 1)
	require.JSONEq(t, `{"user_id":"u1","new_balance":2,"pack_id":"p","threshold":5}`, string(q.pushed[0]))
}

func TestConsumerNext(t *testing.T) {
	payload, err := json.Marshal(domain.RechargeTrigger{UserID: "u9", NewBalance: 1, PackID: "starter", Threshold: 3})
	require.NoError(t, err)

	r := &fakeRecharger{}
	c := newConsumer(&fakeQueue{pop: []string{DefaultQueueKey, string(payload)}}, "", r, time.Second, zerolog.Nop())
	handled, err := c.Next(context.Background())
	require.NoError(t, err)
	require.True(t, handled)
	require.Equal(t, "starter", r.got[0].PackID)

	empty := newConsumer(&fakeQueue{popErr: redis.Nil}, "", r, time.Second, zerolog.Nop())
	handled, err = empty.Next(context.Background())
	require.NoError(t, err)
	require.False(t, handled)

	bad := newConsumer(&fakeQueue{pop: []string{DefaultQueueKey, "{"}}, "", r, time.Second, zerolog.Nop())
	handled, err = bad.Next(context.Background())
	require.NoError(t, err)
	require.True(t, handled)
	require.Len(t, r.got, 1)
}

func TestHTTPRecharger(t *testing.T) {
	var got domain.RechargeTrigger
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &got); err != nil || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if got.UserID == "broken" {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, "nope")
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	r := NewHTTPRecharger(srv.URL, time.Second)
	require.NoError(t, r.Trigger(context.Background(), domain.RechargeTrigger{UserID: "u1", PackID: "p"}))
	require.Equal(t, "p", got.PackID)

	err := r.Trigger(context.Background(), domain.RechargeTrigger{UserID: "broken"})
	require.ErrorContains(t, err, "500")
}

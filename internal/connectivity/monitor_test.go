package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMonitorDeliversOncePerTransition(t *testing.T) {
	m := NewMonitor(false)

	var got []bool
	sub := m.Subscribe(func(online bool) {
		got = append(got, online)
	})
	defer sub.Unsubscribe()

	m.Set(false)
	m.Set(true)
	m.Set(true)
	m.Set(false)
	m.Set(true)

	require.Equal(t, []bool{true, false, true}, got)
	require.True(t, m.IsOnline())
}

func TestUnsubscribeStopsDeliveryAndIsIdempotent(t *testing.T) {
	m := NewMonitor(true)

	calls := 0
	sub := m.Subscribe(func(bool) { calls++ })
	require.Equal(t, 1, m.SubscriberCount())

	sub.Unsubscribe()
	sub.Unsubscribe()
	require.Equal(t, 0, m.SubscriberCount())

	m.Set(false)
	require.Zero(t, calls)
}

func TestUnsubscribeInsideCallbackDoesNotSkipOthers(t *testing.T) {
	m := NewMonitor(false)

	var order []string
	var first *Subscription
	first = m.Subscribe(func(bool) {
		order = append(order, "first")
		first.Unsubscribe()
	})
	second := m.Subscribe(func(bool) {
		order = append(order, "second")
	})
	defer second.Unsubscribe()

	m.Set(true)
	m.Set(false)

	require.Equal(t, []string{"first", "second", "second"}, order)
	require.Equal(t, 1, m.SubscriberCount())
}

func TestSubscriberUnsubscribingAnotherMidDeliverySkipsIt(t *testing.T) {
	m := NewMonitor(false)

	var calledLater bool
	var later *Subscription
	early := m.Subscribe(func(bool) {
		later.Unsubscribe()
	})
	defer early.Unsubscribe()
	later = m.Subscribe(func(bool) {
		calledLater = true
	})

	m.Set(true)
	require.False(t, calledLater)
}

func TestPanickingSubscriberDoesNotBreakDelivery(t *testing.T) {
	m := NewMonitor(false)

	bad := m.Subscribe(func(bool) { panic("boom") })
	defer bad.Unsubscribe()

	delivered := false
	good := m.Subscribe(func(bool) { delivered = true })
	defer good.Unsubscribe()

	require.NotPanics(t, func() { m.Set(true) })
	require.True(t, delivered)
}

func TestSetFromSubscriberIsDeliveredAfterCurrentTransition(t *testing.T) {
	m := NewMonitor(false)

	var got []bool
	sub := m.Subscribe(func(online bool) {
		got = append(got, online)
		if online {
			m.Set(false)
		}
	})
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Set(true)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Set from inside a subscriber blocked")
	}
	require.Equal(t, []bool{true, false}, got)
	require.False(t, m.IsOnline())
}

func TestSlowSubscriberDoesNotBlockSet(t *testing.T) {
	m := NewMonitor(false)

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var got []bool
	sub := m.Subscribe(func(online bool) {
		mu.Lock()
		got = append(got, online)
		first := len(got) == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
	})
	defer sub.Unsubscribe()

	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		m.Set(true)
	}()
	<-entered

	returned := make(chan struct{})
	go func() {
		defer close(returned)
		m.Set(false)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Set waited on a slow subscriber")
	}
	require.False(t, m.IsOnline())

	close(release)
	<-delivered

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []bool{true, false}, got)
}

func TestConcurrentSetDeliversEachTransitionExactlyOnce(t *testing.T) {
	m := NewMonitor(false)

	var mu sync.Mutex
	var got []bool
	sub := m.Subscribe(func(online bool) {
		mu.Lock()
		got = append(got, online)
		mu.Unlock()
	})
	defer sub.Unsubscribe()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Set(i%2 == 0)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(got); i++ {
		require.NotEqual(t, got[i-1], got[i], "consecutive deliveries must alternate")
	}
	if len(got) > 0 {
		require.Equal(t, got[len(got)-1], m.IsOnline())
	}
}

func TestProberReportsReachability(t *testing.T) {
	defer goleak.VerifyNone(t)

	methods := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods <- r.Method
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	client := &http.Client{Transport: &http.Transport{}}
	defer client.CloseIdleConnections()

	m := NewMonitor(false)
	p, err := NewProber(m, ProberConfig{URL: srv.URL, Timeout: time.Second, Client: client})
	require.NoError(t, err)

	require.True(t, p.ProbeOnce(context.Background()), "any HTTP response means reachable")
	require.True(t, m.IsOnline())
	require.Equal(t, http.MethodHead, <-methods)

	client.CloseIdleConnections()
	srv.Close()
	require.False(t, p.ProbeOnce(context.Background()))
	require.False(t, m.IsOnline())
}

func TestProberStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := NewMonitor(false)
	transitions := make(chan bool, 4)
	sub := m.Subscribe(func(online bool) { transitions <- online })
	defer sub.Unsubscribe()

	client := &http.Client{Transport: &http.Transport{}}
	defer client.CloseIdleConnections()

	p, err := NewProber(m, ProberConfig{URL: srv.URL, Interval: 10 * time.Millisecond, Client: client})
	require.NoError(t, err)

	p.Start(context.Background())
	p.Start(context.Background())

	select {
	case online := <-transitions:
		require.True(t, online)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the first probe to report online")
	}

	p.Stop()
	p.Stop()
}

func TestNewProberValidates(t *testing.T) {
	_, err := NewProber(nil, ProberConfig{URL: "http://example.invalid"})
	require.Error(t, err)

	_, err = NewProber(NewMonitor(true), ProberConfig{URL: "  "})
	require.Error(t, err)
}

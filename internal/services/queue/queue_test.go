package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/LastMile/internal/apperr"
	"github.com/BearBump/LastMile/internal/events"
	"github.com/BearBump/LastMile/internal/integrations/carrierapi"
	"github.com/BearBump/LastMile/internal/kv"
	"github.com/BearBump/LastMile/internal/kv/memkv"
	"github.com/BearBump/LastMile/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// fakeServer is a carrier backend that deduplicates by client_id. Responses
// are scripted per call; an empty script means 200.
type fakeServer struct {
	mu       sync.Mutex
	posts    []models.UpdateRequest
	applied  map[string]models.UpdateRequest
	script   []error
	commitOn map[int]bool // вызов применяется на сервере, даже если ответ — ошибка
	gate     chan struct{}
}

func newFakeServer() *fakeServer {
	return &fakeServer{applied: map[string]models.UpdateRequest{}, commitOn: map[int]bool{}}
}

func (f *fakeServer) PostUpdate(ctx context.Context, req models.UpdateRequest) (*carrierapi.UpdateResponse, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, apperr.Wrap(apperr.KindNetwork, "post update", ctx.Err())
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.posts)
	f.posts = append(f.posts, req)

	var err error
	if n < len(f.script) {
		err = f.script[n]
	}
	if err == nil || f.commitOn[n] {
		if _, dup := f.applied[req.ClientID]; dup {
			return &carrierapi.UpdateResponse{Status: "already_processed"}, err
		}
		f.applied[req.ClientID] = req
	}
	if err != nil {
		return nil, err
	}
	return &carrierapi.UpdateResponse{Status: "ok", Outcome: "SUCCESS"}, nil
}

func (f *fakeServer) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

type QueueSuite struct {
	suite.Suite

	ctx    context.Context
	store  *kv.Store
	server *fakeServer
	bus    *events.Bus
	svc    *Service
	clock  time.Time
}

func (s *QueueSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = kv.New(memkv.New())
	s.server = newFakeServer()
	s.bus = events.NewBus()
	s.clock = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	s.svc = s.open()
}

func (s *QueueSuite) open() *Service {
	svc, err := Open(s.ctx, s.store, s.server, s.bus)
	s.Require().NoError(err)
	svc.now = func() time.Time {
		s.clock = s.clock.Add(time.Second)
		return s.clock
	}
	return svc
}

func (s *QueueSuite) enqueue(awb string) models.QueueEntry {
	e, err := s.svc.Enqueue(s.ctx, EnqueueInput{AWB: awb, EventID: "ESCH-DELIVERED"})
	s.Require().NoError(err)
	return e
}

func (s *QueueSuite) TestEnqueue_Defaults() {
	e := s.enqueue(" awb0001 ")
	s.Require().NotEmpty(e.ID)
	s.Require().Equal("AWB0001", e.AWB)
	s.Require().Equal("Expeditie Livrata", e.Label)
	s.Require().Equal(models.QueueStatusPending, e.Status)
	s.Require().Zero(e.Attempts)
	s.Require().Nil(e.ErrorMessage)
}

func (s *QueueSuite) TestEnqueue_Validation() {
	_, err := s.svc.Enqueue(s.ctx, EnqueueInput{AWB: " ", EventID: "ESCH-DELIVERED"})
	s.Require().True(apperr.Is(err, apperr.KindValidation))

	_, err = s.svc.Enqueue(s.ctx, EnqueueInput{AWB: "AWB1"})
	s.Require().True(apperr.Is(err, apperr.KindValidation))

	_, err = s.svc.Enqueue(s.ctx, EnqueueInput{AWB: "AWB1", EventID: "ESCH-REFUSED"})
	s.Require().True(apperr.Is(err, apperr.KindValidation))

	e, err := s.svc.Enqueue(s.ctx, EnqueueInput{AWB: "AWB1", EventID: "esch-refused", Notes: " client refuzat "})
	s.Require().NoError(err)
	s.Require().Equal("client refuzat", e.Notes)

	e, err = s.svc.Enqueue(s.ctx, EnqueueInput{AWB: "AWB1", EventID: "ESCH-DELIVERED", Notes: "ignored"})
	s.Require().NoError(err)
	s.Require().Empty(e.Notes)

	s.Require().Len(s.svc.List(), 2)
}

func (s *QueueSuite) TestEnqueue_StorageFullIsNotQueued() {
	svc, err := Open(s.ctx, kv.New(memkv.New().WithQuota(64)), s.server, s.bus)
	s.Require().NoError(err)

	_, err = svc.Enqueue(s.ctx, EnqueueInput{AWB: "AWB0001", EventID: "ESCH-DELIVERED"})
	s.Require().True(apperr.Is(err, apperr.KindStorageFull))
	s.Require().Empty(svc.List())
}

func (s *QueueSuite) TestDurability_ListSurvivesReload() {
	for i := 0; i < 5; i++ {
		s.enqueue(fmt.Sprintf("AWB%04d", i))
		if i%2 == 1 {
			before := s.svc.List()
			s.svc = s.open()
			s.Require().Equal(before, s.svc.List())
		}
	}
	list := s.svc.List()
	s.Require().Len(list, 5)
	s.Require().Equal("AWB0004", list[0].AWB)
	s.Require().Equal("AWB0000", list[4].AWB)
}

func (s *QueueSuite) TestIDsAreUniqueAndOrdered() {
	var prev string
	for i := 0; i < 20; i++ {
		e := s.enqueue("AWB1")
		s.Require().Greater(e.ID, prev)
		prev = e.ID
	}
}

// S1: enqueue offline, reload, drain online.
func (s *QueueSuite) TestDrain_OfflineThenOnline() {
	e := s.enqueue("AWB0001")
	s.svc = s.open()

	rep, err := s.svc.Drain(s.ctx, "tok")
	s.Require().NoError(err)
	s.Require().Equal(Report{Synced: 1}, rep)

	s.Require().Len(s.server.posts, 1)
	s.Require().Equal(e.ID, s.server.posts[0].ClientID)
	s.Require().Equal("ESCH-DELIVERED", s.server.posts[0].EventID)
	s.Require().True(s.server.posts[0].ClientTS.Equal(e.Timestamp))

	got := s.svc.List()[0]
	s.Require().Equal(models.QueueStatusSynced, got.Status)
	s.Require().Equal(1, got.Attempts)

	// synced не отправляется повторно
	rep, err = s.svc.Drain(s.ctx, "tok")
	s.Require().NoError(err)
	s.Require().Zero(rep.Synced)
	s.Require().Equal(1, s.server.postCount())
}

// S2: concurrent drains post once.
func (s *QueueSuite) TestDrain_SingleFlight() {
	s.enqueue("AWB0001")
	s.server.gate = make(chan struct{})

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	first := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(first)
		_, err := s.svc.Drain(s.ctx, "tok")
		errs <- err
	}()
	<-first
	s.Require().Eventually(s.svc.Draining, time.Second, time.Millisecond)

	_, err := s.svc.Drain(s.ctx, "tok")
	s.Require().ErrorIs(err, ErrDrainInFlight)

	close(s.server.gate)
	wg.Wait()
	s.Require().NoError(<-errs)
	s.Require().Equal(1, s.server.postCount())
	s.Require().Equal(models.QueueStatusSynced, s.svc.List()[0].Status)
}

func (s *QueueSuite) TestDrain_NoToken() {
	s.enqueue("AWB0001")
	_, err := s.svc.Drain(s.ctx, "")
	s.Require().ErrorIs(err, ErrNoSession)
	s.Require().Zero(s.server.postCount())
}

func (s *QueueSuite) TestDrain_ValidationContinues() {
	s.enqueue("AWB0001")
	s.enqueue("AWB0002")
	s.server.script = []error{apperr.FromStatus("post update", 422, "AWB not found")}

	rep, err := s.svc.Drain(s.ctx, "tok")
	s.Require().NoError(err)
	s.Require().Equal(Report{Synced: 1, Failed: 1}, rep)

	list := s.svc.List()
	s.Require().Equal(models.QueueStatusSynced, list[0].Status)
	s.Require().Equal(models.QueueStatusFailed, list[1].Status)
	s.Require().Equal("AWB not found", *list[1].ErrorMessage)
}

func (s *QueueSuite) TestDrain_ServerDegradedAborts() {
	s.enqueue("AWB0001")
	s.enqueue("AWB0002")
	s.server.script = []error{apperr.FromStatus("post update", 503, "")}

	rep, err := s.svc.Drain(s.ctx, "tok")
	s.Require().True(apperr.Is(err, apperr.KindNetwork))
	s.Require().True(rep.Aborted)
	s.Require().Equal(1, s.server.postCount())

	list := s.svc.List()
	s.Require().Equal(models.QueueStatusPending, list[0].Status)
	s.Require().Equal(models.QueueStatusFailed, list[1].Status)
	s.Require().Equal(RetryMessage, *list[1].ErrorMessage)

	// следующий дренаж повторяет failed-запись первой
	rep, err = s.svc.Drain(s.ctx, "tok")
	s.Require().NoError(err)
	s.Require().Equal(2, rep.Synced)
	s.Require().Equal(2, s.svc.List()[1].Attempts)
}

func (s *QueueSuite) TestDrain_AuthExpiredKeepsPending() {
	s.enqueue("AWB0001")
	s.server.script = []error{apperr.FromStatus("post update", 401, "Token expired")}

	rep, err := s.svc.Drain(s.ctx, "tok")
	s.Require().True(apperr.Is(err, apperr.KindAuthExpired))
	s.Require().True(rep.Aborted)
	e := s.svc.List()[0]
	s.Require().Equal(models.QueueStatusPending, e.Status)
	s.Require().Equal(1, e.Attempts)
}

func (s *QueueSuite) TestDrain_OfflineOnlyStaysPending() {
	s.enqueue("AWB0001")
	s.server.script = []error{apperr.New(apperr.KindOfflineOnly, "post update", "no backend configured")}

	_, err := s.svc.Drain(s.ctx, "tok")
	s.Require().True(apperr.Is(err, apperr.KindOfflineOnly))
	e := s.svc.List()[0]
	s.Require().Equal(models.QueueStatusPending, e.Status)
	s.Require().Zero(e.Attempts)
}

func (s *QueueSuite) TestDrain_ConflictIsSynced() {
	s.enqueue("AWB0001")
	s.server.script = []error{apperr.FromStatus("post update", 409, "duplicate client_id")}

	rep, err := s.svc.Drain(s.ctx, "tok")
	s.Require().NoError(err)
	s.Require().Equal(1, rep.Synced)
	s.Require().Equal(models.QueueStatusSynced, s.svc.List()[0].Status)
}

func (s *QueueSuite) TestDrain_CancelledMidPostRequeues() {
	s.enqueue("AWB0001")
	s.enqueue("AWB0002")
	s.server.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() {
		_, err := s.svc.Drain(ctx, "tok")
		done <- err
	}()
	s.Require().Eventually(func() bool {
		return s.svc.Stats()[models.QueueStatusSyncing] == 1
	}, time.Second, time.Millisecond)
	cancel()
	s.Require().Error(<-done)

	stats := s.svc.Stats()
	s.Require().Zero(stats[models.QueueStatusSyncing])
	s.Require().Equal(2, stats[models.QueueStatusPending])
}

// Ответ потерян после фиксации на сервере: повтор идёт с тем же client_id.
func (s *QueueSuite) TestDrain_IdempotentAcrossLostResponses() {
	var want []string
	for i := 0; i < 3; i++ {
		want = append(want, s.enqueue(fmt.Sprintf("AWB%04d", i)).ID)
	}
	s.server.script = []error{nil, apperr.Wrap(apperr.KindNetwork, "post update", context.DeadlineExceeded)}
	s.server.commitOn[1] = true

	_, err := s.svc.Drain(s.ctx, "tok")
	s.Require().Error(err)
	_, err = s.svc.Drain(s.ctx, "tok")
	s.Require().NoError(err)

	s.Require().Len(s.server.applied, 3)
	for _, id := range want {
		s.Require().Contains(s.server.applied, id)
	}
	// сервер видит записи в порядке времени
	s.Require().Len(s.server.posts, 4)
	for i := 1; i < len(s.server.posts); i++ {
		s.Require().False(s.server.posts[i].ClientTS.Before(s.server.posts[i-1].ClientTS))
	}
	for _, e := range s.svc.List() {
		s.Require().Equal(models.QueueStatusSynced, e.Status)
	}
}

func (s *QueueSuite) TestRecover_DemotesSyncing() {
	e := s.enqueue("AWB0001")
	s.svc.transition(s.ctx, e.ID, func(e *models.QueueEntry) bool {
		e.Status = models.QueueStatusSyncing
		return true
	})

	reopened := s.open()
	s.Require().Equal(models.QueueStatusPending, reopened.List()[0].Status)
}

func (s *QueueSuite) TestClear() {
	s.enqueue("AWB0001")
	s.enqueue("AWB0002")
	s.enqueue("AWB0003")
	s.server.script = []error{nil, apperr.FromStatus("post update", 400, "bad")}
	_, err := s.svc.Drain(s.ctx, "tok")
	s.Require().NoError(err)

	n, err := s.svc.Clear(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(3, n)
	s.Require().Empty(s.svc.List())

	n, err = s.svc.Clear(s.ctx)
	s.Require().NoError(err)
	s.Require().Zero(n)
}

func (s *QueueSuite) TestSubscribe() {
	var mu sync.Mutex
	var got []events.Type
	unsub := s.svc.Subscribe(func(ev events.Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	})
	s.bus.Publish(events.Event{Type: events.RoutesChanged})

	s.enqueue("AWB0001")
	_, err := s.svc.Drain(s.ctx, "tok")
	s.Require().NoError(err)
	unsub()
	s.enqueue("AWB0002")

	mu.Lock()
	defer mu.Unlock()
	s.Require().Equal(events.QueueChanged, got[0])
	s.Require().Equal(events.QueueDrained, got[len(got)-1])
	for _, t := range got {
		s.Require().NotEqual(events.RoutesChanged, t)
	}
}

func TestQueueSuite(t *testing.T) {
	suite.Run(t, new(QueueSuite))
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		err    error
		out    outcome
		posted bool
	}{
		{nil, outcomeSynced, true},
		{apperr.FromStatus("x", 409, ""), outcomeSynced, true},
		{apperr.FromStatus("x", 400, ""), outcomeFailed, true},
		{apperr.FromStatus("x", 403, ""), outcomeRequeue, true},
		{apperr.FromStatus("x", 429, ""), outcomeRetry, true},
		{apperr.FromStatus("x", 500, ""), outcomeRetry, true},
		{apperr.New(apperr.KindOfflineOnly, "x", ""), outcomeRequeue, false},
		{fmt.Errorf("boom"), outcomeRetry, true},
	}
	for _, tc := range cases {
		out, posted := classify(ctx, tc.err)
		require.Equal(t, tc.out, out, "%v", tc.err)
		require.Equal(t, tc.posted, posted)
	}
}

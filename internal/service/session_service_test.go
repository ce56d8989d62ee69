package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skillswap/timebank-api/internal/dto"
	"github.com/skillswap/timebank-api/internal/models"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
)

type memSessionRepo struct {
	mu          sync.Mutex
	nextID      int64
	sessions    map[int64]models.Session
	transitions []models.SessionTransition
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: map[int64]models.Session{}}
}

func (m *memSessionRepo) NextID(ctx context.Context, exec sqlx.ExtContext) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID, nil
}

func (m *memSessionRepo) Create(ctx context.Context, exec sqlx.ExtContext, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = *session
	return nil
}

func (m *memSessionRepo) GetByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (m *memSessionRepo) UpdateState(ctx context.Context, exec sqlx.ExtContext, session *models.Session, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sessions[session.ID]
	if !ok || stored.Version != expectedVersion {
		return sql.ErrNoRows
	}
	session.Version = expectedVersion + 1
	m.sessions[session.ID] = *session
	return nil
}

func (m *memSessionRepo) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Session, 0)
	for _, s := range m.sessions {
		if filter.ParticipantID != "" && s.StudentID != filter.ParticipantID && s.TeacherID != filter.ParticipantID {
			continue
		}
		if filter.Status != nil && s.Status != *filter.Status {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

func (m *memSessionRepo) ListDueForStart(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, s := range m.sessions {
		if s.Status == models.SessionApproved && s.ScheduledAt != nil && !s.ScheduledAt.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memSessionRepo) AppendTransition(ctx context.Context, exec sqlx.ExtContext, transition *models.SessionTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, *transition)
	return nil
}

func (m *memSessionRepo) ListTransitions(ctx context.Context, sessionID int64) ([]models.SessionTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SessionTransition
	for _, tr := range m.transitions {
		if tr.SessionID == sessionID {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (m *memSessionRepo) session(id int64) models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

type stubUserLookup map[string]*models.User

func (s stubUserLookup) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := s[id]; ok {
		copy := *u
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

type sessionFixture struct {
	users    stubUserLookup
	sessions *memSessionRepo
	ledger   *memLedgerRepo
	notifier *recordingNotifier
	service  *SessionService
	disputes *DisputeService
}

var (
	studentActor  = models.Actor{UserID: "student", Role: models.RoleMember}
	teacherActor  = models.Actor{UserID: "teacher", Role: models.RoleMember}
	adminActor    = models.Actor{UserID: "admin", Role: models.RoleAdmin}
	strangerActor = models.Actor{UserID: "stranger", Role: models.RoleMember}
)

func newSessionFixture(t *testing.T, studentBalance models.Credits) *sessionFixture {
	t.Helper()
	users := stubUserLookup{
		"student":  {ID: "student", Email: "s@example.com", Active: true, Role: models.RoleMember},
		"teacher":  {ID: "teacher", Email: "t@example.com", Active: true, Role: models.RoleMember, HourlyRate: 200},
		"free":     {ID: "free", Active: true, Role: models.RoleMember},
		"admin":    {ID: "admin", Active: true, Role: models.RoleAdmin},
		"stranger": {ID: "stranger", Active: true, Role: models.RoleMember},
	}
	sessions := newMemSessionRepo()
	ledgerRepo := newMemLedgerRepo(map[string]models.Credits{"student": studentBalance, "teacher": 0})
	notifier := &recordingNotifier{}
	ledger := NewLedgerService(ledgerRepo, inlineTx{}, nil, notifier, nil, nil, zap.NewNop())
	svc := NewSessionService(sessions, users, ledger, inlineTx{}, notifier, nil, nil, nil, zap.NewNop(), SessionConfig{})
	return &sessionFixture{
		users:    users,
		sessions: sessions,
		ledger:   ledgerRepo,
		notifier: notifier,
		service:  svc,
		disputes: NewDisputeService(svc, &memAuditRecorder{}, nil, zap.NewNop()),
	}
}

func onlineBooking() dto.BookSessionRequest {
	link := "https://meet.example.com/abc"
	return dto.BookSessionRequest{
		TeacherID:   "teacher",
		Title:       "Intro to guitar",
		Skill:       "guitar",
		Duration:    1.5,
		Mode:        models.ModeOnline,
		MeetingLink: &link,
	}
}

func (f *sessionFixture) book(t *testing.T) *models.Session {
	t.Helper()
	session, err := f.service.Book(context.Background(), studentActor, onlineBooking())
	require.NoError(t, err)
	return session
}

func (f *sessionFixture) inProgress(t *testing.T) *models.Session {
	t.Helper()
	session := f.book(t)
	_, err := f.service.Approve(context.Background(), session.ID, teacherActor)
	require.NoError(t, err)
	started, err := f.service.Start(context.Background(), session.ID, studentActor)
	require.NoError(t, err)
	return started
}

func TestSessionBookHoldsCredits(t *testing.T) {
	f := newSessionFixture(t, 1000)

	session := f.book(t)
	assert.Equal(t, models.SessionPending, session.Status)
	assert.Equal(t, models.Credits(300), session.CreditAmount)
	assert.True(t, session.CreditHeld)

	wallet := f.ledger.wallet("student")
	assert.Equal(t, models.Credits(1000), wallet.Balance)
	assert.Equal(t, models.Credits(300), wallet.Reserved)

	history, err := f.service.History(context.Background(), session.ID, studentActor)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Nil(t, history[0].FromStatus)
	assert.Equal(t, models.ActionBook, history[0].Action)

	requested := f.notifier.ofType(models.NotifySessionRequested)
	require.Len(t, requested, 1)
	assert.Equal(t, "teacher", requested[0].RecipientID)
}

func TestSessionBookInsufficientBalanceLeavesNoSession(t *testing.T) {
	f := newSessionFixture(t, 100)

	_, err := f.service.Book(context.Background(), studentActor, onlineBooking())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInsufficientBalance))
	assert.Empty(t, f.sessions.sessions)
	assert.Equal(t, models.Credits(0), f.ledger.wallet("student").Reserved)
	assert.Zero(t, f.notifier.count())
}

func TestSessionBookValidation(t *testing.T) {
	f := newSessionFixture(t, 1000)
	ctx := context.Background()

	self := onlineBooking()
	self.TeacherID = "student"
	_, err := f.service.Book(ctx, studentActor, self)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	offline := onlineBooking()
	offline.Mode = models.ModeOffline
	_, err = f.service.Book(ctx, studentActor, offline)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	unpriced := onlineBooking()
	unpriced.TeacherID = "free"
	_, err = f.service.Book(ctx, studentActor, unpriced)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	missing := onlineBooking()
	missing.TeacherID = "nobody"
	_, err = f.service.Book(ctx, studentActor, missing)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = f.service.Book(ctx, models.Actor{}, onlineBooking())
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestSessionApproveRequiresTeacher(t *testing.T) {
	f := newSessionFixture(t, 1000)
	session := f.book(t)
	ctx := context.Background()

	_, err := f.service.Approve(ctx, session.ID, studentActor)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = f.service.Approve(ctx, session.ID, strangerActor)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	approved, err := f.service.Approve(ctx, session.ID, teacherActor)
	require.NoError(t, err)
	assert.Equal(t, models.SessionApproved, approved.Status)
	assert.Equal(t, 2, approved.Version)

	notes := f.notifier.ofType(models.NotifySessionApproved)
	require.Len(t, notes, 1)
	assert.Equal(t, "student", notes[0].RecipientID)

	_, err = f.service.Approve(ctx, session.ID, teacherActor)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
}

func TestSessionRejectReleasesHold(t *testing.T) {
	f := newSessionFixture(t, 1000)
	session := f.book(t)
	ctx := context.Background()

	_, err := f.service.Reject(ctx, session.ID, teacherActor, "   too short  ")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Equal(t, models.SessionPending, f.sessions.session(session.ID).Status)

	rejected, err := f.service.Reject(ctx, session.ID, teacherActor, "I am travelling that week")
	require.NoError(t, err)
	assert.Equal(t, models.SessionRejected, rejected.Status)
	assert.False(t, rejected.CreditHeld)
	require.NotNil(t, rejected.RejectionReason)

	wallet := f.ledger.wallet("student")
	assert.Equal(t, models.Credits(0), wallet.Reserved)
	assert.Equal(t, models.Credits(1000), wallet.Balance)
	assert.Empty(t, f.ledger.entriesFor(session.ID))
	assert.Equal(t, models.HoldStatusReleased, f.ledger.holds[session.ID].Status)
}

func TestSessionCancelRules(t *testing.T) {
	f := newSessionFixture(t, 1000)
	ctx := context.Background()
	reason := "Something came up at work"

	pending := f.book(t)
	_, err := f.service.Cancel(ctx, pending.ID, teacherActor, reason)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	approved := f.book(t)
	_, err = f.service.Approve(ctx, approved.ID, teacherActor)
	require.NoError(t, err)
	cancelled, err := f.service.Cancel(ctx, approved.ID, teacherActor, reason)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, cancelled.Status)

	// Only the first session is still held.
	assert.Equal(t, models.Credits(300), f.ledger.wallet("student").Reserved)

	_, err = f.service.Cancel(ctx, approved.ID, studentActor, reason)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
}

func TestSessionCompletionNeedsBothParties(t *testing.T) {
	f := newSessionFixture(t, 1000)
	session := f.inProgress(t)
	ctx := context.Background()
	before := f.notifier.count()

	confirmed, err := f.service.Complete(ctx, session.ID, teacherActor)
	require.NoError(t, err)
	assert.Equal(t, models.SessionInProgress, confirmed.Status)
	assert.True(t, confirmed.TeacherConfirmed)
	assert.Equal(t, before, f.notifier.count())

	_, err = f.service.Complete(ctx, session.ID, teacherActor)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))

	completed, err := f.service.Complete(ctx, session.ID, studentActor)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, completed.Status)

	assert.Equal(t, models.Credits(700), f.ledger.wallet("student").Balance)
	assert.Equal(t, models.Credits(0), f.ledger.wallet("student").Reserved)
	assert.Equal(t, models.Credits(300), f.ledger.wallet("teacher").Balance)
	assert.Len(t, f.ledger.entriesFor(session.ID), 2)

	done := f.notifier.ofType(models.NotifySessionCompleted)
	require.Len(t, done, 1)
	assert.Equal(t, "teacher", done[0].RecipientID)
}

func TestSessionPriceFixedAtBooking(t *testing.T) {
	f := newSessionFixture(t, 1000)
	session := f.book(t)
	require.Equal(t, models.Credits(300), session.CreditAmount)

	f.users["teacher"].HourlyRate = 500

	ctx := context.Background()
	_, err := f.service.Approve(ctx, session.ID, teacherActor)
	require.NoError(t, err)
	_, err = f.service.Start(ctx, session.ID, teacherActor)
	require.NoError(t, err)
	_, err = f.service.Complete(ctx, session.ID, teacherActor)
	require.NoError(t, err)
	completed, err := f.service.Complete(ctx, session.ID, studentActor)
	require.NoError(t, err)

	assert.Equal(t, models.SessionCompleted, completed.Status)
	assert.Equal(t, models.Credits(300), completed.CreditAmount)
	assert.Equal(t, models.Credits(300), f.ledger.wallet("teacher").Balance)
	assert.Equal(t, models.Credits(700), f.ledger.wallet("student").Balance)

	var moved models.Credits
	for _, entry := range f.ledger.entriesFor(session.ID) {
		if entry.Delta > 0 {
			moved += entry.Delta
		}
	}
	assert.Equal(t, models.Credits(300), moved)
}

func TestSessionConcurrentApproveRejectHasOneWinner(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newSessionFixture(t, 1000)
		session := f.book(t)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		startLine := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-startLine
			_, errs[0] = f.service.Approve(context.Background(), session.ID, teacherActor)
		}()
		go func() {
			defer wg.Done()
			<-startLine
			_, errs[1] = f.service.Reject(context.Background(), session.ID, teacherActor, "Schedule conflict, sorry")
		}()
		close(startLine)
		wg.Wait()

		winners := 0
		for _, err := range errs {
			if err == nil {
				winners++
				continue
			}
			assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition), "unexpected error: %v", err)
		}
		require.Equal(t, 1, winners)

		final := f.sessions.session(session.ID)
		if final.Status == models.SessionRejected {
			assert.Equal(t, models.Credits(0), f.ledger.wallet("student").Reserved)
		} else {
			assert.Equal(t, models.SessionApproved, final.Status)
			assert.Equal(t, models.Credits(300), f.ledger.wallet("student").Reserved)
		}
	}
}

func TestSessionSimultaneousConfirmationsSettleOnce(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newSessionFixture(t, 1000)
		session := f.inProgress(t)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		startLine := make(chan struct{})
		for idx, actor := range []models.Actor{teacherActor, studentActor} {
			wg.Add(1)
			go func(idx int, actor models.Actor) {
				defer wg.Done()
				<-startLine
				_, errs[idx] = f.service.Complete(context.Background(), session.ID, actor)
			}(idx, actor)
		}
		close(startLine)
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
		assert.Equal(t, models.SessionCompleted, f.sessions.session(session.ID).Status)
		assert.Len(t, f.ledger.entriesFor(session.ID), 2)
		assert.Equal(t, models.Credits(700), f.ledger.wallet("student").Balance)
		assert.Equal(t, models.Credits(300), f.ledger.wallet("teacher").Balance)
		assert.Len(t, f.notifier.ofType(models.NotifySessionCompleted), 1)
	}
}

func TestDisputeResolveRefund(t *testing.T) {
	f := newSessionFixture(t, 1000)
	session := f.inProgress(t)
	ctx := context.Background()

	_, err := f.disputes.Resolve(ctx, session.ID, adminActor, dto.ResolveSessionRequest{Resolution: models.SettleRefund})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))

	disputed, err := f.service.Dispute(ctx, session.ID, studentActor, "The teacher never showed up")
	require.NoError(t, err)
	assert.Equal(t, models.SessionDisputed, disputed.Status)

	_, err = f.disputes.Resolve(ctx, session.ID, teacherActor, dto.ResolveSessionRequest{Resolution: models.SettlePayout})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	resolved, err := f.disputes.Resolve(ctx, session.ID, adminActor, dto.ResolveSessionRequest{Resolution: models.SettleRefund, Note: "No-show confirmed"})
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, resolved.Status)
	require.NotNil(t, resolved.Resolution)
	assert.Equal(t, models.SettleRefund, *resolved.Resolution)

	assert.Equal(t, models.Credits(1000), f.ledger.wallet("student").Balance)
	assert.Equal(t, models.Credits(1000), f.ledger.wallet("student").Available())
	assert.Equal(t, models.Credits(0), f.ledger.wallet("teacher").Balance)
	assert.Len(t, f.notifier.ofType(models.NotifySessionResolved), 2)

	_, err = f.disputes.Resolve(ctx, session.ID, adminActor, dto.ResolveSessionRequest{Resolution: models.SettleRefund})
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyResolved))
	_, err = f.disputes.Resolve(ctx, session.ID, adminActor, dto.ResolveSessionRequest{Resolution: models.SettlePayout})
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyResolved))
	assert.Len(t, f.ledger.entriesFor(session.ID), 1)
}

func TestDisputeResolvePayout(t *testing.T) {
	f := newSessionFixture(t, 1000)
	session := f.inProgress(t)
	ctx := context.Background()

	_, err := f.service.Dispute(ctx, session.ID, teacherActor, "Student refuses to confirm")
	require.NoError(t, err)

	resolved, err := f.disputes.Resolve(ctx, session.ID, adminActor, dto.ResolveSessionRequest{Resolution: models.SettlePayout})
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, resolved.Status)
	assert.Equal(t, models.Credits(300), f.ledger.wallet("teacher").Balance)
	assert.Equal(t, models.Credits(700), f.ledger.wallet("student").Balance)
}

func TestSessionCancelledContextIsRetryable(t *testing.T) {
	f := newSessionFixture(t, 1000)
	session := f.book(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.service.Approve(ctx, session.ID, teacherActor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrRetryable))
	assert.Equal(t, models.SessionPending, f.sessions.session(session.ID).Status)
}

func TestSessionAutoStartDue(t *testing.T) {
	f := newSessionFixture(t, 1000)
	ctx := context.Background()

	req := onlineBooking()
	past := time.Now().UTC().Add(-time.Hour)
	req.ScheduledAt = &past
	session, err := f.service.Book(ctx, studentActor, req)
	require.NoError(t, err)
	_, err = f.service.Approve(ctx, session.ID, teacherActor)
	require.NoError(t, err)

	pendingOnly := f.book(t)

	started, err := f.service.AutoStartDue(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, started)
	assert.Equal(t, models.SessionInProgress, f.sessions.session(session.ID).Status)
	assert.Equal(t, models.SessionPending, f.sessions.session(pendingOnly.ID).Status)

	history, err := f.service.History(ctx, session.ID, adminActor)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, models.ActorSystem, last.ActorRole)
	assert.Nil(t, last.ActorID)
	assert.Len(t, f.notifier.ofType(models.NotifySessionStarted), 2)
}

func TestSessionListAndVisibility(t *testing.T) {
	f := newSessionFixture(t, 1000)
	session := f.book(t)
	ctx := context.Background()

	items, page, err := f.service.List(ctx, models.Actor{}, dto.SessionListQuery{})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 0, page.TotalCount)

	items, _, err = f.service.List(ctx, teacherActor, dto.SessionListQuery{Status: "pending"})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, _, err = f.service.List(ctx, teacherActor, dto.SessionListQuery{Status: "bogus"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.service.Get(ctx, session.ID, strangerActor)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
	_, err = f.service.Get(ctx, 999, studentActor)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestPlanTransitionChecksStateBeforeActor(t *testing.T) {
	completed := models.Session{Status: models.SessionCompleted}
	_, err := planTransition(completed, transitionRequest{Action: models.ActionApprove, Role: models.ActorStudent}, 10)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))

	pending := models.Session{Status: models.SessionPending}
	_, err = planTransition(pending, transitionRequest{Action: models.ActionStart, Role: models.ActorSystem}, 10)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))

	approved := models.Session{Status: models.SessionApproved}
	plan, err := planTransition(approved, transitionRequest{Action: models.ActionStart, Role: models.ActorSystem}, 10)
	require.NoError(t, err)
	assert.Equal(t, models.SessionInProgress, plan.Next.Status)
	assert.Equal(t, effectNone, plan.Effect)
}

func TestSessionListCachedWithShortTTL(t *testing.T) {
	f := newSessionFixture(t, 1000)
	cacheRepo := newMemCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Hour, zap.NewNop(), true)
	ledger := NewLedgerService(f.ledger, inlineTx{}, nil, f.notifier, nil, nil, zap.NewNop())
	svc := NewSessionService(f.sessions, f.users, ledger, inlineTx{}, f.notifier, cache, nil, nil, zap.NewNop(), SessionConfig{})
	ctx := context.Background()

	_, err := svc.Book(ctx, studentActor, onlineBooking())
	require.NoError(t, err)
	items, _, err := svc.List(ctx, studentActor, dto.SessionListQuery{})
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.Len(t, cacheRepo.ttls, 1)
	for key, ttl := range cacheRepo.ttls {
		assert.Contains(t, key, "sessions:user:student:")
		assert.Equal(t, sessionListTTL, ttl)
		assert.Less(t, ttl, time.Hour)
	}
}

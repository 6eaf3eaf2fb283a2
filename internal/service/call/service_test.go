package call

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"voicebridge-backend/internal/broker"
	"voicebridge-backend/internal/domain"
	redisRepo "voicebridge-backend/internal/repository/redis"
	"voicebridge-backend/pkg/constants"
	apperrors "voicebridge-backend/pkg/errors"
	"voicebridge-backend/pkg/metrics"
)

var testMetrics = metrics.NewMetrics("call-test")

// Mocks
type MockCallRepository struct {
	mock.Mock
}

func (m *MockCallRepository) Create(ctx context.Context, sess *domain.CallSession) error {
	args := m.Called(ctx, sess)
	return args.Error(0)
}

func (m *MockCallRepository) Get(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallSession), args.Error(1)
}

func (m *MockCallRepository) Update(ctx context.Context, sess *domain.CallSession) error {
	args := m.Called(ctx, sess)
	return args.Error(0)
}

func (m *MockCallRepository) Finalize(ctx context.Context, sess *domain.CallSession) error {
	args := m.Called(ctx, sess)
	return args.Error(0)
}

func (m *MockCallRepository) ActiveCallIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

type MockHistoryRecorder struct {
	mock.Mock
}

func (m *MockHistoryRecorder) Record(ctx context.Context, rec *domain.CallHistoryRecord) (bool, error) {
	args := m.Called(ctx, rec)
	return args.Bool(0), args.Error(1)
}

func (m *MockHistoryRecorder) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallHistoryRecord, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallHistoryRecord), args.Error(1)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) IsBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	args := m.Called(ctx, blockerID, blockedID)
	return args.Bool(0), args.Error(1)
}

type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) Lookup(ctx context.Context, userID uuid.UUID) (*redisRepo.RegistryEntry, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*redisRepo.RegistryEntry), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, env *broker.Envelope) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}

type fixture struct {
	svc       *Service
	callRepo  *MockCallRepository
	history   *MockHistoryRecorder
	userRepo  *MockUserRepository
	registry  *MockRegistry
	publisher *MockPublisher
}

func newFixture() *fixture {
	f := &fixture{
		callRepo:  new(MockCallRepository),
		history:   new(MockHistoryRecorder),
		userRepo:  new(MockUserRepository),
		registry:  new(MockRegistry),
		publisher: new(MockPublisher),
	}
	f.svc = NewService(f.callRepo, f.history, f.userRepo, f.registry, f.publisher, testMetrics)
	return f
}

func TestInitiate_RingsOnlineCallee(t *testing.T) {
	f := newFixture()

	caller := &domain.User{UserID: uuid.New(), DisplayName: "Alice", Phone: "+15550001111"}
	callee := &domain.User{UserID: uuid.New()}
	callID := uuid.New()

	f.userRepo.On("GetByID", mock.Anything, callee.UserID).Return(callee, nil)
	f.userRepo.On("GetByID", mock.Anything, caller.UserID).Return(caller, nil)
	f.userRepo.On("IsBlocked", mock.Anything, callee.UserID, caller.UserID).Return(false, nil)
	f.registry.On("Lookup", mock.Anything, callee.UserID).Return(&redisRepo.RegistryEntry{}, nil)
	f.callRepo.On("Create", mock.Anything, mock.MatchedBy(func(sess *domain.CallSession) bool {
		return sess.CallID == callID && sess.Status == domain.CallStatusCalling
	})).Return(nil)
	f.publisher.On("Publish", mock.Anything, mock.MatchedBy(func(env *broker.Envelope) bool {
		return env.To == callee.UserID && env.Event == constants.EventIncomingCall
	})).Return(nil)

	sess, err := f.svc.Initiate(context.Background(), &InitiateInput{
		CallID:   callID,
		CallerID: caller.UserID,
		To:       callee.UserID,
		CallType: domain.CallTypeVideo,
		Offer:    json.RawMessage(`{"sdp":"offer"}`),
	})

	assert.NoError(t, err)
	assert.Equal(t, domain.CallStatusCalling, sess.Status)
	assert.Equal(t, callee.UserID, sess.CalleeID)
	f.publisher.AssertExpectations(t)
}

func TestInitiate_OfflineCalleeLeavesNoState(t *testing.T) {
	f := newFixture()

	callerID := uuid.New()
	callee := &domain.User{UserID: uuid.New()}

	f.userRepo.On("GetByID", mock.Anything, callee.UserID).Return(callee, nil)
	f.userRepo.On("IsBlocked", mock.Anything, callee.UserID, callerID).Return(false, nil)
	f.registry.On("Lookup", mock.Anything, callee.UserID).Return(nil, redisRepo.ErrNotRegistered)

	_, err := f.svc.Initiate(context.Background(), &InitiateInput{
		CallerID: callerID,
		To:       callee.UserID,
		CallType: domain.CallTypeAudio,
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUserNotOnline))
	f.callRepo.AssertNotCalled(t, "Create")
	f.publisher.AssertNotCalled(t, "Publish")
}

func TestInitiate_BlockedCaller(t *testing.T) {
	f := newFixture()

	callerID := uuid.New()
	callee := &domain.User{UserID: uuid.New()}

	f.userRepo.On("GetByID", mock.Anything, callee.UserID).Return(callee, nil)
	f.userRepo.On("IsBlocked", mock.Anything, callee.UserID, callerID).Return(true, nil)

	_, err := f.svc.Initiate(context.Background(), &InitiateInput{
		CallerID: callerID,
		To:       callee.UserID,
		CallType: domain.CallTypeAudio,
	})

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUserBlocked))
	f.callRepo.AssertNotCalled(t, "Create")
}

func TestAccept_ConnectsAndRelaysAnswer(t *testing.T) {
	f := newFixture()

	sess := &domain.CallSession{
		CallID:    uuid.New(),
		CallerID:  uuid.New(),
		CalleeID:  uuid.New(),
		CallType:  domain.CallTypeAudio,
		Status:    domain.CallStatusCalling,
		StartedAt: time.Now(),
	}

	f.callRepo.On("Get", mock.Anything, sess.CallID).Return(sess, nil)
	f.callRepo.On("Update", mock.Anything, mock.MatchedBy(func(s *domain.CallSession) bool {
		return s.Status == domain.CallStatusConnected && s.AcceptedAt != nil
	})).Return(nil)
	f.registry.On("Lookup", mock.Anything, sess.CallerID).Return(&redisRepo.RegistryEntry{}, nil)
	f.publisher.On("Publish", mock.Anything, mock.MatchedBy(func(env *broker.Envelope) bool {
		return env.To == sess.CallerID && env.Event == constants.EventCallAccepted
	})).Return(nil)

	got, err := f.svc.Accept(context.Background(), sess.CalleeID, sess.CallID, json.RawMessage(`{"sdp":"answer"}`))

	assert.NoError(t, err)
	assert.Equal(t, domain.CallStatusConnected, got.Status)
	f.publisher.AssertExpectations(t)
}

func TestAccept_ExpiredSessionIsStale(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	f.callRepo.On("Get", mock.Anything, callID).Return(nil, redisRepo.ErrCallNotFound)

	_, err := f.svc.Accept(context.Background(), uuid.New(), callID, nil)

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeStaleCallState))
	f.callRepo.AssertNotCalled(t, "Update")
}

func TestAccept_OnlyCalleeMayAccept(t *testing.T) {
	f := newFixture()

	sess := &domain.CallSession{
		CallID:   uuid.New(),
		CallerID: uuid.New(),
		CalleeID: uuid.New(),
		Status:   domain.CallStatusCalling,
	}
	f.callRepo.On("Get", mock.Anything, sess.CallID).Return(sess, nil)

	// The caller accepting their own call is rejected.
	_, err := f.svc.Accept(context.Background(), sess.CallerID, sess.CallID, nil)

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotParticipant))
}

func TestEnd_ConnectedCallRecordsEnded(t *testing.T) {
	f := newFixture()

	accepted := time.Now().Add(-90 * time.Second)
	sess := &domain.CallSession{
		CallID:     uuid.New(),
		CallerID:   uuid.New(),
		CalleeID:   uuid.New(),
		CallType:   domain.CallTypeAudio,
		Status:     domain.CallStatusConnected,
		StartedAt:  accepted.Add(-5 * time.Second),
		AcceptedAt: &accepted,
	}

	f.callRepo.On("Get", mock.Anything, sess.CallID).Return(sess, nil)
	f.callRepo.On("Finalize", mock.Anything, mock.MatchedBy(func(s *domain.CallSession) bool {
		return s.Status == domain.CallStatusEnded
	})).Return(nil)
	f.history.On("Record", mock.Anything, mock.MatchedBy(func(rec *domain.CallHistoryRecord) bool {
		return rec.Status == domain.CallStatusEnded && rec.DurationSecs > 0
	})).Return(true, nil)
	f.registry.On("Lookup", mock.Anything, sess.CalleeID).Return(&redisRepo.RegistryEntry{}, nil)
	f.publisher.On("Publish", mock.Anything, mock.MatchedBy(func(env *broker.Envelope) bool {
		return env.To == sess.CalleeID && env.Event == constants.EventCallEnded
	})).Return(nil)

	err := f.svc.End(context.Background(), sess.CallerID, sess.CallID)

	assert.NoError(t, err)
	f.history.AssertExpectations(t)
	f.publisher.AssertExpectations(t)
}

func TestEnd_NeverAcceptedRecordsMissed(t *testing.T) {
	f := newFixture()

	sess := &domain.CallSession{
		CallID:    uuid.New(),
		CallerID:  uuid.New(),
		CalleeID:  uuid.New(),
		Status:    domain.CallStatusCalling,
		StartedAt: time.Now(),
	}

	f.callRepo.On("Get", mock.Anything, sess.CallID).Return(sess, nil)
	f.callRepo.On("Finalize", mock.Anything, mock.Anything).Return(nil)
	f.history.On("Record", mock.Anything, mock.MatchedBy(func(rec *domain.CallHistoryRecord) bool {
		return rec.Status == domain.CallStatusMissed && rec.DurationSecs == 0
	})).Return(true, nil)
	f.registry.On("Lookup", mock.Anything, sess.CalleeID).Return(nil, redisRepo.ErrNotRegistered)

	err := f.svc.End(context.Background(), sess.CallerID, sess.CallID)

	assert.NoError(t, err)
	f.history.AssertExpectations(t)
}

func TestEnd_ReplayIsStaleWithNoSecondRecord(t *testing.T) {
	f := newFixture()

	ended := time.Now()
	sess := &domain.CallSession{
		CallID:   uuid.New(),
		CallerID: uuid.New(),
		CalleeID: uuid.New(),
		Status:   domain.CallStatusEnded,
		EndedAt:  &ended,
	}

	f.callRepo.On("Get", mock.Anything, sess.CallID).Return(sess, nil)

	err := f.svc.End(context.Background(), sess.CalleeID, sess.CallID)

	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeStaleCallState))
	f.history.AssertNotCalled(t, "Record")
	f.publisher.AssertNotCalled(t, "Publish")
}

func TestDecline_RecordsDeclined(t *testing.T) {
	f := newFixture()

	sess := &domain.CallSession{
		CallID:    uuid.New(),
		CallerID:  uuid.New(),
		CalleeID:  uuid.New(),
		Status:    domain.CallStatusCalling,
		StartedAt: time.Now(),
	}

	f.callRepo.On("Get", mock.Anything, sess.CallID).Return(sess, nil)
	f.callRepo.On("Finalize", mock.Anything, mock.Anything).Return(nil)
	f.history.On("Record", mock.Anything, mock.MatchedBy(func(rec *domain.CallHistoryRecord) bool {
		return rec.Status == domain.CallStatusDeclined
	})).Return(true, nil)
	f.registry.On("Lookup", mock.Anything, sess.CallerID).Return(&redisRepo.RegistryEntry{}, nil)
	f.publisher.On("Publish", mock.Anything, mock.MatchedBy(func(env *broker.Envelope) bool {
		return env.To == sess.CallerID && env.Event == constants.EventCallDeclined
	})).Return(nil)

	err := f.svc.Decline(context.Background(), sess.CalleeID, sess.CallID)

	assert.NoError(t, err)
	f.publisher.AssertExpectations(t)
}

func TestRelayCandidate_UnknownCallDroppedSilently(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	f.callRepo.On("Get", mock.Anything, callID).Return(nil, redisRepo.ErrCallNotFound)

	err := f.svc.RelayCandidate(context.Background(), uuid.New(), callID, json.RawMessage(`{}`))

	assert.NoError(t, err)
	f.publisher.AssertNotCalled(t, "Publish")
}

func TestRelayCandidate_NonParticipantDroppedSilently(t *testing.T) {
	f := newFixture()

	sess := &domain.CallSession{
		CallID:   uuid.New(),
		CallerID: uuid.New(),
		CalleeID: uuid.New(),
		Status:   domain.CallStatusConnected,
	}
	f.callRepo.On("Get", mock.Anything, sess.CallID).Return(sess, nil)

	err := f.svc.RelayCandidate(context.Background(), uuid.New(), sess.CallID, json.RawMessage(`{}`))

	assert.NoError(t, err)
	f.publisher.AssertNotCalled(t, "Publish")
}

func TestRelayCandidate_ForwardsToOtherParty(t *testing.T) {
	f := newFixture()

	sess := &domain.CallSession{
		CallID:   uuid.New(),
		CallerID: uuid.New(),
		CalleeID: uuid.New(),
		Status:   domain.CallStatusConnected,
	}
	f.callRepo.On("Get", mock.Anything, sess.CallID).Return(sess, nil)
	f.registry.On("Lookup", mock.Anything, sess.CalleeID).Return(&redisRepo.RegistryEntry{}, nil)
	f.publisher.On("Publish", mock.Anything, mock.MatchedBy(func(env *broker.Envelope) bool {
		return env.To == sess.CalleeID && env.Event == constants.EventIceCandidate
	})).Return(nil)

	err := f.svc.RelayCandidate(context.Background(), sess.CallerID, sess.CallID, json.RawMessage(`{"candidate":"c"}`))

	assert.NoError(t, err)
	f.publisher.AssertExpectations(t)
}

func TestCleanupDisconnect_EndsLiveCalls(t *testing.T) {
	f := newFixture()

	userID := uuid.New()
	sess := &domain.CallSession{
		CallID:    uuid.New(),
		CallerID:  userID,
		CalleeID:  uuid.New(),
		Status:    domain.CallStatusCalling,
		StartedAt: time.Now(),
	}

	f.callRepo.On("ActiveCallIDs", mock.Anything, userID).Return([]uuid.UUID{sess.CallID}, nil)
	f.callRepo.On("Get", mock.Anything, sess.CallID).Return(sess, nil)
	f.callRepo.On("Finalize", mock.Anything, mock.Anything).Return(nil)
	f.history.On("Record", mock.Anything, mock.MatchedBy(func(rec *domain.CallHistoryRecord) bool {
		return rec.Status == domain.CallStatusMissed
	})).Return(true, nil)
	f.registry.On("Lookup", mock.Anything, sess.CalleeID).Return(&redisRepo.RegistryEntry{}, nil)
	f.publisher.On("Publish", mock.Anything, mock.MatchedBy(func(env *broker.Envelope) bool {
		return env.To == sess.CalleeID && env.Event == constants.EventCallEnded
	})).Return(nil)

	f.svc.CleanupDisconnect(context.Background(), userID)

	f.history.AssertExpectations(t)
	f.publisher.AssertExpectations(t)
}

func TestCleanupDisconnect_LostRaceIsQuiet(t *testing.T) {
	f := newFixture()

	userID := uuid.New()
	ended := time.Now()
	sess := &domain.CallSession{
		CallID:   uuid.New(),
		CallerID: userID,
		CalleeID: uuid.New(),
		Status:   domain.CallStatusEnded,
		EndedAt:  &ended,
	}

	f.callRepo.On("ActiveCallIDs", mock.Anything, userID).Return([]uuid.UUID{sess.CallID}, nil)
	f.callRepo.On("Get", mock.Anything, sess.CallID).Return(sess, nil)

	f.svc.CleanupDisconnect(context.Background(), userID)

	f.callRepo.AssertNotCalled(t, "Finalize")
	f.history.AssertNotCalled(t, "Record")
}

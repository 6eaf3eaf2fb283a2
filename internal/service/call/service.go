package call

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voicebridge-backend/internal/broker"
	"voicebridge-backend/internal/domain"
	redisRepo "voicebridge-backend/internal/repository/redis"
	"voicebridge-backend/pkg/constants"
	apperrors "voicebridge-backend/pkg/errors"
	"voicebridge-backend/pkg/logger"
	"voicebridge-backend/pkg/metrics"
)

// CallRepository is the ephemeral call-session store surface
type CallRepository interface {
	Create(ctx context.Context, sess *domain.CallSession) error
	Get(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error)
	Update(ctx context.Context, sess *domain.CallSession) error
	Finalize(ctx context.Context, sess *domain.CallSession) error
	ActiveCallIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// HistoryRecorder persists the one durable record of a terminated call.
// Record reports whether this call actually wrote the record; a false return
// means another terminal event got there first.
type HistoryRecorder interface {
	Record(ctx context.Context, rec *domain.CallHistoryRecord) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallHistoryRecord, error)
}

// UserRepository resolves callees and block relationships
type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)
	IsBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error)
}

// Registry answers whether a user has a live session anywhere
type Registry interface {
	Lookup(ctx context.Context, userID uuid.UUID) (*redisRepo.RegistryEntry, error)
}

// Service drives the call-session state machine and relays signaling
// payloads between the two parties. Every transition re-reads the session
// from the shared store, so concurrent conflicting transitions resolve to
// one winner and one stale-state rejection.
type Service struct {
	callRepo  CallRepository
	history   HistoryRecorder
	userRepo  UserRepository
	registry  Registry
	publisher broker.Publisher
	metrics   *metrics.Metrics
}

// NewService creates a new call service
func NewService(
	callRepo CallRepository,
	history HistoryRecorder,
	userRepo UserRepository,
	registry Registry,
	publisher broker.Publisher,
	m *metrics.Metrics,
) *Service {
	return &Service{
		callRepo:  callRepo,
		history:   history,
		userRepo:  userRepo,
		registry:  registry,
		publisher: publisher,
		metrics:   m,
	}
}

// InitiateInput is a caller's request to ring another user
type InitiateInput struct {
	CallID   uuid.UUID
	CallerID uuid.UUID
	To       uuid.UUID
	ToPhone  string
	CallType domain.CallType
	Offer    json.RawMessage
}

// IncomingCall is the payload delivered to the callee's connection
type IncomingCall struct {
	CallID    uuid.UUID       `json:"callId"`
	From      uuid.UUID       `json:"from"`
	FromName  string          `json:"fromName"`
	FromPhone string          `json:"fromPhone"`
	CallType  domain.CallType `json:"callType"`
	Offer     json.RawMessage `json:"offer"`
}

// CallAccepted carries the callee's answer back to the caller
type CallAccepted struct {
	CallID uuid.UUID       `json:"callId"`
	Answer json.RawMessage `json:"answer"`
	From   uuid.UUID       `json:"from"`
}

// CallTerminated is the payload for declined/ended/timed-out notifications
type CallTerminated struct {
	CallID uuid.UUID `json:"callId"`
	Reason string    `json:"reason,omitempty"`
}

// IceCandidate is an opaque ICE candidate relayed between the parties
type IceCandidate struct {
	CallID    uuid.UUID       `json:"callId"`
	From      uuid.UUID       `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
}

// Initiate validates the callee and creates the session. All checks run
// before any write, so a rejected call leaves no partial state behind. The
// callee being offline or having blocked the caller are both synchronous
// errors to the caller.
func (s *Service) Initiate(ctx context.Context, input *InitiateInput) (*domain.CallSession, error) {
	if !domain.ValidCallType(input.CallType) {
		return nil, apperrors.InvalidInputError("unknown call type")
	}

	callee, err := s.resolveCallee(ctx, input)
	if err != nil {
		return nil, err
	}
	if callee.UserID == input.CallerID {
		return nil, apperrors.InvalidInputError("cannot call yourself")
	}

	blocked, err := s.userRepo.IsBlocked(ctx, callee.UserID, input.CallerID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if blocked {
		return nil, apperrors.UserBlockedError()
	}

	if _, err := s.registry.Lookup(ctx, callee.UserID); err != nil {
		if err == redisRepo.ErrNotRegistered {
			return nil, apperrors.UserNotOnlineError()
		}
		return nil, apperrors.DatabaseError(err)
	}

	caller, err := s.userRepo.GetByID(ctx, input.CallerID)
	if err != nil {
		return nil, err
	}

	callID := input.CallID
	if callID == uuid.Nil {
		callID = uuid.New()
	}

	sess := &domain.CallSession{
		CallID:    callID,
		CallerID:  input.CallerID,
		CalleeID:  callee.UserID,
		CallType:  input.CallType,
		Status:    domain.CallStatusCalling,
		StartedAt: time.Now(),
	}
	if err := s.callRepo.Create(ctx, sess); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	ring := &IncomingCall{
		CallID:    sess.CallID,
		From:      caller.UserID,
		FromName:  caller.DisplayName,
		FromPhone: caller.Phone,
		CallType:  sess.CallType,
		Offer:     input.Offer,
	}
	if err := s.publish(ctx, callee.UserID, constants.EventIncomingCall, ring); err != nil {
		// The session exists but the ring never went out. Undo rather than
		// leave the callee's phone silent while the caller hears ringing.
		sess.Status = domain.CallStatusFailed
		if ferr := s.callRepo.Finalize(ctx, sess); ferr != nil {
			logger.Error("failed to clean up unrung call",
				zap.String("call_id", sess.CallID.String()), zap.Error(ferr))
		}
		return nil, apperrors.BrokerError(err)
	}

	s.metrics.RecordCallInitiated(string(sess.CallType))
	return sess, nil
}

// Accept moves CALLING to CONNECTED and relays the answer to the caller. An
// acceptance against an expired or already-resolved session is rejected as
// stale rather than silently connected.
func (s *Service) Accept(ctx context.Context, calleeID, callID uuid.UUID, answer json.RawMessage) (*domain.CallSession, error) {
	sess, err := s.getSession(ctx, callID)
	if err != nil {
		return nil, err
	}
	if sess.CalleeID != calleeID {
		return nil, apperrors.NotParticipantError()
	}
	if !sess.Status.CanTransition(domain.CallStatusConnected) {
		return nil, apperrors.StaleCallStateError()
	}

	now := time.Now()
	sess.Status = domain.CallStatusConnected
	sess.AcceptedAt = &now
	if err := s.callRepo.Update(ctx, sess); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	accepted := &CallAccepted{CallID: sess.CallID, Answer: answer, From: calleeID}
	if err := s.publish(ctx, sess.CallerID, constants.EventCallAccepted, accepted); err != nil {
		logger.Warn("failed to relay call answer",
			zap.String("call_id", sess.CallID.String()), zap.Error(err))
	}

	return sess, nil
}

// Decline terminates a ringing call as DECLINED and notifies the caller
func (s *Service) Decline(ctx context.Context, calleeID, callID uuid.UUID) error {
	sess, err := s.getSession(ctx, callID)
	if err != nil {
		return err
	}
	if sess.CalleeID != calleeID {
		return apperrors.NotParticipantError()
	}
	return s.finish(ctx, sess, domain.CallStatusDeclined, sess.CallerID, constants.EventCallDeclined, "")
}

// End terminates the call from either party. A call that never connected is
// recorded as MISSED, a connected one as ENDED.
func (s *Service) End(ctx context.Context, userID, callID uuid.UUID) error {
	sess, err := s.getSession(ctx, callID)
	if err != nil {
		return err
	}
	if !sess.Participant(userID) {
		return apperrors.NotParticipantError()
	}
	return s.finish(ctx, sess, sess.TerminalStatus(false), sess.OtherParty(userID), constants.EventCallEnded, "")
}

// Timeout terminates a call the caller gave up waiting on
func (s *Service) Timeout(ctx context.Context, userID, callID uuid.UUID) error {
	sess, err := s.getSession(ctx, callID)
	if err != nil {
		return err
	}
	if !sess.Participant(userID) {
		return apperrors.NotParticipantError()
	}
	return s.finish(ctx, sess, sess.TerminalStatus(false), sess.OtherParty(userID), constants.EventCallTimeout, "")
}

// RelayCandidate forwards an ICE candidate to the other party. Unknown call
// ids and non-participants are dropped without a response: already-ended
// calls routinely produce trailing candidates, and those must not resurrect
// error state on either side.
func (s *Service) RelayCandidate(ctx context.Context, senderID, callID uuid.UUID, candidate json.RawMessage) error {
	sess, err := s.callRepo.Get(ctx, callID)
	if err != nil {
		if err == redisRepo.ErrCallNotFound {
			return nil
		}
		return apperrors.DatabaseError(err)
	}
	if !sess.Participant(senderID) {
		logger.Debug("dropping candidate from non-participant",
			zap.String("call_id", callID.String()),
			zap.String("user_id", senderID.String()))
		return nil
	}

	relay := &IceCandidate{CallID: callID, From: senderID, Candidate: candidate}
	if err := s.publish(ctx, sess.OtherParty(senderID), constants.EventIceCandidate, relay); err != nil {
		logger.Warn("failed to relay candidate",
			zap.String("call_id", callID.String()), zap.Error(err))
	}
	return nil
}

// CleanupDisconnect terminates every live call touching a user whose
// connection dropped. Each step is best-effort; one failing call must not
// stop the sweep or the disconnect itself.
func (s *Service) CleanupDisconnect(ctx context.Context, userID uuid.UUID) {
	callIDs, err := s.callRepo.ActiveCallIDs(ctx, userID)
	if err != nil {
		logger.Warn("failed to list calls for disconnect cleanup",
			zap.String("user_id", userID.String()), zap.Error(err))
		return
	}

	for _, callID := range callIDs {
		sess, err := s.callRepo.Get(ctx, callID)
		if err != nil {
			if err != redisRepo.ErrCallNotFound {
				logger.Warn("failed to load call for disconnect cleanup",
					zap.String("call_id", callID.String()), zap.Error(err))
			}
			continue
		}
		if sess.Status.Terminal() {
			continue
		}

		err = s.finish(ctx, sess, sess.TerminalStatus(false), sess.OtherParty(userID), constants.EventCallEnded, "peer disconnected")
		if err != nil && !apperrors.IsCode(err, apperrors.ErrCodeStaleCallState) {
			logger.Warn("failed to end call on disconnect",
				zap.String("call_id", callID.String()), zap.Error(err))
		}
	}
}

// ListHistory returns the user's terminated calls, newest first
func (s *Service) ListHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallHistoryRecord, error) {
	if limit <= 0 || limit > constants.MaxPageSize {
		limit = constants.DefaultPageSize
	}
	records, err := s.history.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return records, nil
}

func (s *Service) resolveCallee(ctx context.Context, input *InitiateInput) (*domain.User, error) {
	if input.To != uuid.Nil {
		return s.userRepo.GetByID(ctx, input.To)
	}
	if input.ToPhone != "" {
		return s.userRepo.GetByPhone(ctx, input.ToPhone)
	}
	return nil, apperrors.MissingFieldError("to")
}

func (s *Service) getSession(ctx context.Context, callID uuid.UUID) (*domain.CallSession, error) {
	sess, err := s.callRepo.Get(ctx, callID)
	if err != nil {
		if err == redisRepo.ErrCallNotFound {
			return nil, apperrors.StaleCallStateError()
		}
		return nil, apperrors.DatabaseError(err)
	}
	return sess, nil
}

// finish performs one terminal transition: validate against the transition
// table, shorten the session's TTL, write the single history record, notify
// the other party. Duplicate terminal events fail the transition check and
// come back as stale-state, so the record and the notification happen once.
func (s *Service) finish(ctx context.Context, sess *domain.CallSession, status domain.CallStatus, notify uuid.UUID, event, reason string) error {
	if !sess.Status.CanTransition(status) {
		return apperrors.StaleCallStateError()
	}

	now := time.Now()
	sess.Status = status
	sess.EndedAt = &now
	if err := s.callRepo.Finalize(ctx, sess); err != nil {
		return apperrors.DatabaseError(err)
	}

	written, err := s.history.Record(ctx, sess.HistoryRecord())
	if err != nil {
		logger.Error("failed to record call history",
			zap.String("call_id", sess.CallID.String()), zap.Error(err))
	} else if written {
		s.metrics.RecordCallTerminated(string(status), sess.Duration())
	}

	if notify != uuid.Nil {
		payload := &CallTerminated{CallID: sess.CallID, Reason: reason}
		if err := s.publish(ctx, notify, event, payload); err != nil {
			logger.Warn("failed to notify call termination",
				zap.String("call_id", sess.CallID.String()), zap.Error(err))
		}
	}

	return nil
}

// publish wraps data in an envelope and hands it to the broker, but only
// when the target still has a live session somewhere.
func (s *Service) publish(ctx context.Context, to uuid.UUID, event string, data any) error {
	if _, err := s.registry.Lookup(ctx, to); err != nil {
		if err == redisRepo.ErrNotRegistered {
			return nil
		}
		return err
	}

	env, err := broker.NewEnvelope(to, event, data)
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, env)
}

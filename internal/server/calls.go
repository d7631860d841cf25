package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/circl-chat/circl-server/internal/database"
	"github.com/circl-chat/circl-server/internal/stats"
	"github.com/circl-chat/circl-server/internal/types"
	"github.com/teris-io/shortid"
)

type CallStatus string

const (
	CallInitiated   CallStatus = "initiated"
	CallRinging     CallStatus = "ringing"
	CallActive      CallStatus = "active"
	CallStatusEnded CallStatus = "ended"
	CallMissed      CallStatus = "missed"
	CallRejected    CallStatus = "rejected"
	CallBusy        CallStatus = "busy"
)

// terminal reports whether no further transition may leave the status.
func (s CallStatus) terminal() bool {
	switch s {
	case CallStatusEnded, CallMissed, CallRejected, CallBusy:
		return true
	}
	return false
}

// Call is the state machine for one signaling-relayed call. All state is
// guarded by the manager's lock; only snapshots leave it.
type Call struct {
	Id           string
	InitiatorId  int
	MediaType    types.MediaType
	RoomId       string
	Status       CallStatus
	Participants []types.CallParticipant
	StartedAt    time.Time
	EndedAt      time.Time
}

// CallManager owns every live call and drives its lifecycle:
// initiated -> ringing -> active -> {ended | missed | rejected | busy}.
// Transitions for a call are serialized; terminal states are final.
type CallManager struct {
	cs *ChatServer

	mu    sync.Mutex
	calls map[string]*Call
}

func newCallManager(cs *ChatServer) *CallManager {
	return &CallManager{
		cs:    cs,
		calls: make(map[string]*Call),
	}
}

// StartCall creates a ringing call and emits incomingCall to the other
// members of the room and callStarted to the initiator. A room with no other
// online members is allowed; the call rings to nobody and resolves to missed
// when the initiator hangs up or disconnects.
func (cm *CallManager) StartCall(s *Session, req *StartCall) (string, error) {
	roomId := req.RoomId
	if roomId == "" {
		cur, ok := cm.cs.rooms.CurrentRoom(s.ConnId)
		if !ok {
			return "", fmt.Errorf("session has no room: %w", ErrNotFound)
		}
		roomId = cur
	}
	if !cm.cs.rooms.Exists(roomId) {
		return "", fmt.Errorf("room %q: %w", roomId, ErrNotFound)
	}

	mediaType := req.Type
	if mediaType == "" {
		mediaType = types.MediaVideo
	}

	id, err := shortid.Generate()
	if err != nil {
		return "", fmt.Errorf("generate call id: %w", err)
	}
	callId := "call_" + id

	now := Now()
	call := &Call{
		Id:          callId,
		InitiatorId: s.User.Id,
		MediaType:   mediaType,
		RoomId:      roomId,
		Status:      CallRinging,
		Participants: []types.CallParticipant{{
			UserId:   s.User.Id,
			Username: s.User.Username,
			JoinedAt: now,
		}},
		StartedAt: now,
	}

	cm.mu.Lock()
	cm.calls[callId] = call
	cm.mu.Unlock()

	cm.cs.broadcastRoom(roomId, &ServerMessage{
		IncomingCall: &IncomingCall{
			CallId:   callId,
			CallerId: s.User.Id,
			Caller:   s.User.Username,
			Type:     mediaType,
			RoomId:   roomId,
			Offer:    req.Offer,
		},
	}, s.client)

	s.queue(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		CallStarted: &CallStarted{CallId: callId},
	})

	cm.cs.stats.Incr(stats.ActiveCalls)
	return callId, nil
}

// AcceptCall transitions a ringing call to active, appends the acceptor to
// the participant list and emits callAccepted to every participant.
func (cm *CallManager) AcceptCall(s *Session, req *AcceptCall) error {
	cm.mu.Lock()
	call, ok := cm.calls[req.CallId]
	if !ok {
		cm.mu.Unlock()
		return fmt.Errorf("call %q: %w", req.CallId, ErrNotFound)
	}
	if call.Status != CallRinging {
		cm.mu.Unlock()
		return fmt.Errorf("call %q is %s: %w", req.CallId, call.Status, ErrInvalidState)
	}

	call.Status = CallActive
	call.Participants = append(call.Participants, types.CallParticipant{
		UserId:   s.User.Id,
		Username: s.User.Username,
		JoinedAt: Now(),
	})
	participants := snapshotParticipants(call)
	cm.mu.Unlock()

	cm.emitToParticipants(participants, &ServerMessage{
		CallAccepted: &CallAccepted{
			CallId:       call.Id,
			Participants: participants,
			Answer:       req.Answer,
		},
	})

	return nil
}

// RelaySignal forwards an opaque signaling payload to the target user's live
// connection. If the target is not connected the signal is dropped silently;
// signaling is best-effort and the caller's own timeout covers the loss.
func (cm *CallManager) RelaySignal(s *Session, sig *WebrtcSignal) {
	target, ok := cm.cs.registry.LookupUser(sig.To)
	if !ok {
		return
	}

	target.queue(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Signal: &WebrtcSignal{
			From:   s.User.Id,
			Signal: sig.Signal,
			Type:   sig.Type,
		},
	})
}

// EndCall drives the call to ended, emits callEnded to all participants and
// hands the summary to the call record store asynchronously. A persistence
// failure is logged and never blocks the live end-call flow.
func (cm *CallManager) EndCall(callId string, endedBy int, reason string) (types.CallSummary, error) {
	cm.mu.Lock()
	call, ok := cm.calls[callId]
	if !ok {
		cm.mu.Unlock()
		return types.CallSummary{}, fmt.Errorf("call %q: %w", callId, ErrNotFound)
	}
	if call.Status.terminal() {
		cm.mu.Unlock()
		return types.CallSummary{}, fmt.Errorf("call %q is %s: %w", callId, call.Status, ErrInvalidState)
	}

	summary := cm.finalizeLocked(call, CallStatusEnded)
	cm.mu.Unlock()

	cm.finish(summary, endedBy, reason)
	return summary, nil
}

// EndAllForUser force-ends every call the user participates in, as if the
// user had hung up. Ringing calls nobody joined resolve to missed rather
// than ended.
func (cm *CallManager) EndAllForUser(userId int, reason string) []types.CallSummary {
	cm.mu.Lock()
	var summaries []types.CallSummary
	for _, call := range cm.calls {
		if call.Status.terminal() || !callHasParticipant(call, userId) {
			continue
		}

		status := CallStatusEnded
		if call.Status == CallRinging && call.InitiatorId == userId && len(call.Participants) == 1 {
			status = CallMissed
		}
		summaries = append(summaries, cm.finalizeLocked(call, status))
	}
	cm.mu.Unlock()

	for _, summary := range summaries {
		cm.finish(summary, userId, reason)
	}
	return summaries
}

func (cm *CallManager) Get(callId string) (Call, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	call, ok := cm.calls[callId]
	if !ok {
		return Call{}, false
	}

	cp := *call
	cp.Participants = snapshotParticipants(call)
	return cp, true
}

// finalizeLocked stamps the terminal state and builds the summary. The
// caller holds cm.mu.
func (cm *CallManager) finalizeLocked(call *Call, status CallStatus) types.CallSummary {
	now := Now()
	call.Status = status
	call.EndedAt = now
	for i := range call.Participants {
		if call.Participants[i].LeftAt == nil {
			left := now
			call.Participants[i].LeftAt = &left
		}
	}
	delete(cm.calls, call.Id)

	return types.CallSummary{
		Id:              call.Id,
		InitiatorId:     call.InitiatorId,
		MediaType:       call.MediaType,
		RoomId:          call.RoomId,
		Status:          string(status),
		Participants:    snapshotParticipants(call),
		StartedAt:       call.StartedAt,
		EndedAt:         now,
		DurationSeconds: int(now.Sub(call.StartedAt).Seconds()),
	}
}

// finish emits callEnded and persists the record outside any lock.
func (cm *CallManager) finish(summary types.CallSummary, endedBy int, reason string) {
	cm.emitToParticipants(summary.Participants, &ServerMessage{
		CallEnded: &CallEnded{
			CallId:   summary.Id,
			EndedBy:  endedBy,
			Reason:   reason,
			Duration: summary.DurationSeconds,
		},
	})
	cm.cs.stats.Decr(stats.ActiveCalls)

	record := database.CallRecord{
		Id:              summary.Id,
		InitiatorId:     summary.InitiatorId,
		MediaType:       string(summary.MediaType),
		RoomId:          summary.RoomId,
		Status:          summary.Status,
		StartedAt:       summary.StartedAt,
		EndedAt:         summary.EndedAt,
		DurationSeconds: summary.DurationSeconds,
	}
	for _, p := range summary.Participants {
		record.Participants = append(record.Participants, database.CallRecordParticipant{
			UserId:   p.UserId,
			JoinedAt: p.JoinedAt,
			LeftAt:   p.LeftAt,
		})
	}

	go func() {
		if err := cm.cs.db.CreateCallRecord(record); err != nil {
			cm.cs.log.Printf("save call record %q: %v", summary.Id, err)
		}
	}()
}

func (cm *CallManager) emitToParticipants(participants []types.CallParticipant, msg *ServerMessage) {
	msg.Timestamp = Now()
	for _, p := range participants {
		if target, ok := cm.cs.registry.LookupUser(p.UserId); ok {
			target.queue(msg)
		}
	}
}

func callHasParticipant(call *Call, userId int) bool {
	for _, p := range call.Participants {
		if p.UserId == userId {
			return true
		}
	}
	return false
}

func snapshotParticipants(call *Call) []types.CallParticipant {
	participants := make([]types.CallParticipant, len(call.Participants))
	copy(participants, call.Participants)
	return participants
}

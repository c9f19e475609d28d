package survey

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/topomesh/surveyd/identity"
	"github.com/topomesh/surveyd/overlay"
	"github.com/topomesh/surveyd/pkg/errors"
	"github.com/topomesh/surveyd/pkg/logtrace"
)

const defaultExpectedRoundDuration = 5 * time.Second

// ErrRoundThrottled is returned when a new survey round is commanded before
// the previous round's throttle window has elapsed.
var ErrRoundThrottled = errors.New("survey round throttled, retry after the throttle window")

// ArchiveRecord is one decoded answer handed to the archive.
type ArchiveRecord struct {
	SessionNonce string
	SurveyorID   string
	SurveyedID   string
	ReceivedAt   time.Time
	Topology     *TopologyResponseBody
}

// Archiver persists completed survey answers. Archiving is best-effort; a
// failing archiver never fails the survey path.
type Archiver interface {
	SaveResult(ctx context.Context, rec ArchiveRecord) error
}

// Config assembles a Manager. Seed, Quorum, Transport and Peers are
// required; zero values elsewhere take protocol defaults.
type Config struct {
	Seed      *identity.Seed
	Auth      Authorization
	Quorum    QuorumOracle
	Transport overlay.Transport
	Peers     overlay.PeerProvider

	// OverlayVersion is the local node's advertised overlay protocol
	// version. A node below the survey minimum ignores survey traffic
	// entirely.
	OverlayVersion uint32

	// ExpectedRoundDuration approximates one round of network agreement;
	// the throttle window is ThrottleMult times this.
	ExpectedRoundDuration time.Duration

	// LedgerNum supplies the current ledger sequence for request binding.
	LedgerNum func() uint32

	// Archiver, when set, receives every decoded answer.
	Archiver Archiver

	// Now overrides the clock, for simulation.
	Now func() time.Time
}

func (c *Config) applyDefaults() error {
	switch {
	case c.Seed == nil:
		return errors.New("survey manager requires a node seed")
	case c.Quorum == nil:
		return errors.New("survey manager requires a quorum oracle")
	case c.Transport == nil:
		return errors.New("survey manager requires a transport")
	case c.Peers == nil:
		return errors.New("survey manager requires a peer provider")
	}
	if c.Auth.MinOverlayVersion == 0 {
		c.Auth.MinOverlayVersion = MinOverlayVersionForSurvey
	}
	if c.Auth.ThrottleMult == 0 {
		c.Auth.ThrottleMult = ThrottleTimeoutMult
	}
	if c.ExpectedRoundDuration == 0 {
		c.ExpectedRoundDuration = defaultExpectedRoundDuration
	}
	if c.LedgerNum == nil {
		c.LedgerNum = func() uint32 { return 0 }
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

// Manager runs the survey protocol for one node: it originates rounds on
// operator command, answers requests addressed to it, relays everything else
// within policy, and aggregates the answers to its own rounds.
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	selfID identity.NodeID
	filter filter
	relay  *relay
	sess   *session
}

// NewManager builds a Manager from cfg.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	window := time.Duration(cfg.Auth.ThrottleMult) * cfg.ExpectedRoundDuration
	rel, err := newRelay(window)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:    cfg,
		selfID: cfg.Seed.NodeID(),
		filter: filter{auth: cfg.Auth, quorum: cfg.Quorum},
		relay:  rel,
		sess:   newSession(),
	}, nil
}

// NodeID returns the local node identity.
func (m *Manager) NodeID() identity.NodeID {
	return m.selfID
}

// State reports the session state, expiring it first if overdue.
func (m *Manager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess.expireIfDue(m.cfg.Now())
	return m.sess.state
}

// StartSurvey adds target to the current round's query set and emits the
// request. It never blocks: the call returns once the request is handed to
// the transport, or with ErrRoundThrottled when a fresh round is commanded
// inside the throttle window. Answers arrive asynchronously. Starting a node
// already queried this round is a no-op that does not reset its deadline.
func (m *Manager) StartSurvey(ctx context.Context, target identity.NodeID, duration time.Duration) error {
	if duration <= 0 {
		return errors.New("survey duration must be positive")
	}
	if target.IsZero() {
		return errors.New("survey target must be set")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.cfg.Now()
	m.sess.expireIfDue(now)
	if m.sess.state == SessionIdle {
		if !m.relay.admitNewRound(now) {
			return ErrRoundThrottled
		}
		key, err := NewResponseKey()
		if err != nil {
			return err
		}
		m.sess.activate(now, duration, key)
		logtrace.Info(ctx, "Survey session started", logtrace.Fields{
			logtrace.FieldModule:       "survey",
			logtrace.FieldNodeID:       m.selfID.String(),
			logtrace.FieldSessionNonce: m.sess.nonce.String(),
		})
	}

	if !m.sess.addTarget(target) {
		return nil
	}
	// Targeting a new node keeps the session alive for another duration.
	if deadline := now.Add(duration); deadline.After(m.sess.deadline) {
		m.sess.deadline = deadline
	}

	req := &overlay.SurveyRequest{
		SurveyorID:    m.selfID,
		SurveyedID:    target,
		SessionNonce:  m.sess.nonce,
		LedgerNum:     m.cfg.LedgerNum(),
		EncryptionKey: m.sess.key.Public(),
	}
	req.AuthTag = m.cfg.Seed.Sign(req.SigningDigest())

	msg := &overlay.Message{
		Type:          overlay.SurveyRequestMessage,
		Data:          req,
		CorrelationID: uuid.NewString(),
	}
	ctx = logtrace.CtxWithCorrelationID(ctx, msg.CorrelationID)

	// Never reprocess our own flood when it echoes back.
	m.relay.markProcessed(req.RelayDigest())
	m.broadcast(ctx, req.RelayDigest(), msg)

	logtrace.Info(ctx, "Survey request emitted", logtrace.Fields{
		logtrace.FieldModule:     "survey",
		logtrace.FieldSurveyedID: target.String(),
	})
	return nil
}

// StopSurvey ends the active session. Collected results remain readable
// until a new session starts.
func (m *Manager) StopSurvey(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess.state == SessionActive {
		m.sess.state = SessionIdle
		logtrace.Info(ctx, "Survey session stopped", logtrace.Fields{
			logtrace.FieldModule:       "survey",
			logtrace.FieldSessionNonce: m.sess.nonce.String(),
		})
	}
}

// SurveyResults returns the aggregate for the current session: every node
// queried mapped to its topology or nil. Safe to call mid-flight.
func (m *Manager) SurveyResults() Results {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess.expireIfDue(m.cfg.Now())
	return m.sess.snapshot()
}

// HandleMessage is the transport's delivery entry point.
func (m *Manager) HandleMessage(ctx context.Context, from identity.NodeID, msg *overlay.Message) {
	if msg.CorrelationID != "" {
		ctx = logtrace.CtxWithCorrelationID(ctx, msg.CorrelationID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// A node below the survey minimum does not understand these messages.
	if m.cfg.OverlayVersion < m.cfg.Auth.MinOverlayVersion {
		logtrace.Debug(ctx, "Ignoring survey message, local overlay version below minimum", logtrace.Fields{
			logtrace.FieldModule: "survey",
			logtrace.FieldNodeID: m.selfID.String(),
		})
		return
	}

	switch data := msg.Data.(type) {
	case *overlay.SurveyRequest:
		m.processRequest(ctx, msg, data)
	case *overlay.SurveyResponse:
		m.processResponse(ctx, msg, data)
	default:
		logtrace.Debug(ctx, "Ignoring message with unknown payload", logtrace.Fields{
			logtrace.FieldModule: "survey",
			logtrace.FieldPeerID: from.String(),
		})
	}
}

func (m *Manager) processRequest(ctx context.Context, msg *overlay.Message, req *overlay.SurveyRequest) {
	if !identity.Verify(req.SurveyorID, req.SigningDigest(), req.AuthTag) {
		logtrace.Debug(ctx, "Dropping survey request with invalid auth tag", logtrace.Fields{
			logtrace.FieldModule:     "survey",
			logtrace.FieldSurveyorID: req.SurveyorID.String(),
		})
		return
	}
	digest := req.RelayDigest()
	if !m.relay.markProcessed(digest) {
		return
	}
	if !m.filter.allow(ctx, req.SurveyorID) {
		return
	}
	if !m.relay.admitRound(ctx, req.SurveyorID, req.SessionNonce) {
		logtrace.Debug(ctx, "Dropping survey request from superseded round", logtrace.Fields{
			logtrace.FieldModule:       "survey",
			logtrace.FieldSurveyorID:   req.SurveyorID.String(),
			logtrace.FieldSessionNonce: req.SessionNonce.String(),
		})
		return
	}

	if req.SurveyedID == m.selfID {
		m.answer(ctx, req)
		return
	}
	m.broadcast(ctx, digest, msg)
}

// answer builds this node's topology, encrypts it to the surveyor's session
// key, and floods the response back.
func (m *Manager) answer(ctx context.Context, req *overlay.SurveyRequest) {
	body := buildTopology(m.cfg.Peers)
	encrypted, err := Seal(req.EncryptionKey, body)
	if err != nil {
		// Overflow here means the worst-case sizing is broken; say so loudly.
		logtrace.Error(ctx, "Failed to construct survey response", logtrace.Fields{
			logtrace.FieldModule: "survey",
			logtrace.FieldError:  err.Error(),
		})
		return
	}

	resp := &overlay.SurveyResponse{
		SurveyorID:    req.SurveyorID,
		SurveyedID:    m.selfID,
		SessionNonce:  req.SessionNonce,
		EncryptedBody: encrypted,
	}
	msg := &overlay.Message{
		Type:          overlay.SurveyResponseMessage,
		Data:          resp,
		CorrelationID: logtrace.CorrelationIDFromContext(ctx),
	}

	m.relay.markProcessed(resp.RelayDigest())
	m.broadcast(ctx, resp.RelayDigest(), msg)

	logtrace.Info(ctx, "Survey request answered", logtrace.Fields{
		logtrace.FieldModule:     "survey",
		logtrace.FieldSurveyorID: req.SurveyorID.String(),
		"inbound_peers":          len(body.InboundPeers),
		"outbound_peers":         len(body.OutboundPeers),
	})
}

func (m *Manager) processResponse(ctx context.Context, msg *overlay.Message, resp *overlay.SurveyResponse) {
	digest := resp.RelayDigest()
	if !m.relay.markProcessed(digest) {
		return
	}

	if resp.SurveyorID == m.selfID {
		m.consumeResponse(ctx, resp)
		return
	}

	// Relaying someone else's response is gated the same way as their
	// requests: the surveyor must be trusted at this hop.
	if !m.filter.allow(ctx, resp.SurveyorID) {
		return
	}
	m.broadcast(ctx, digest, msg)
}

func (m *Manager) consumeResponse(ctx context.Context, resp *overlay.SurveyResponse) {
	now := m.cfg.Now()
	m.sess.expireIfDue(now)
	if m.sess.state != SessionActive || resp.SessionNonce != m.sess.nonce {
		logtrace.Debug(ctx, "Dropping response for inactive or foreign session", logtrace.Fields{
			logtrace.FieldModule:       "survey",
			logtrace.FieldSessionNonce: resp.SessionNonce.String(),
		})
		return
	}

	body, err := Open(m.sess.key, resp.EncryptedBody)
	if err != nil {
		// Recovered locally: the node stays "no answer", other responses
		// keep flowing.
		logtrace.Warn(ctx, "Failed to open survey response", logtrace.Fields{
			logtrace.FieldModule:     "survey",
			logtrace.FieldSurveyedID: resp.SurveyedID.String(),
			logtrace.FieldError:      err.Error(),
		})
		return
	}

	if !m.sess.recordResponse(resp.SurveyedID, body) {
		logtrace.Debug(ctx, "Ignoring duplicate or unsolicited response", logtrace.Fields{
			logtrace.FieldModule:     "survey",
			logtrace.FieldSurveyedID: resp.SurveyedID.String(),
		})
		return
	}

	logtrace.Info(ctx, "Survey response recorded", logtrace.Fields{
		logtrace.FieldModule:     "survey",
		logtrace.FieldSurveyedID: resp.SurveyedID.String(),
		"inbound_peers":          len(body.InboundPeers),
		"outbound_peers":         len(body.OutboundPeers),
	})

	if m.cfg.Archiver != nil {
		rec := ArchiveRecord{
			SessionNonce: resp.SessionNonce.String(),
			SurveyorID:   resp.SurveyorID.String(),
			SurveyedID:   resp.SurveyedID.String(),
			ReceivedAt:   now,
			Topology:     body,
		}
		if err := m.cfg.Archiver.SaveResult(ctx, rec); err != nil {
			logtrace.Warn(ctx, "Failed to archive survey result", logtrace.Fields{
				logtrace.FieldModule: "survey",
				logtrace.FieldError:  err.Error(),
			})
		}
	}
}

// broadcast forwards msg to every connected survey-capable peer this digest
// has not been sent to yet.
func (m *Manager) broadcast(ctx context.Context, digest []byte, msg *overlay.Message) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(broadcastConcurrency)
	for _, peer := range overlay.ConnectedPeers(m.cfg.Peers) {
		if peer.ID == m.selfID {
			continue
		}
		if peer.OverlayVersion < m.cfg.Auth.MinOverlayVersion {
			logtrace.Debug(ctx, "Skipping peer below survey overlay version", logtrace.Fields{
				logtrace.FieldModule: "survey",
				logtrace.FieldPeerID: peer.ID.String(),
			})
			continue
		}
		if !m.relay.markSent(digest, peer.ID) {
			continue
		}
		g.Go(func() error {
			if err := m.cfg.Transport.Send(gctx, peer.ID, msg); err != nil {
				logtrace.Warn(gctx, "Failed to send survey message", logtrace.Fields{
					logtrace.FieldModule: "survey",
					logtrace.FieldPeerID: peer.ID.String(),
					logtrace.FieldError:  err.Error(),
				})
			}
			return nil
		})
	}
	_ = g.Wait()
}

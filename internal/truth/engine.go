// Package truth fuses multi-source, possibly out-of-order match events
// into a single authoritative view of match progress and outcome with a
// calibrated confidence score.
package truth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/mselser95/esports-arb/pkg/config"
	"github.com/mselser95/esports-arb/pkg/types"
	"go.uber.org/zap"
)

// Status is the match truth lifecycle state.
type Status string

const (
	StatusPreMatch       Status = "PRE_MATCH"
	StatusLive           Status = "LIVE"
	StatusPaused         Status = "PAUSED"
	StatusPendingConfirm Status = "PENDING_CONFIRM"
	StatusFinal          Status = "FINAL"
)

// Confidence seeds and bumps by source tier. Confidence is monotone
// non-decreasing within a single PENDING_CONFIRM episode.
var (
	tierSeed = map[types.SourceTier]float64{types.TierA: 0.90, types.TierB: 0.80, types.TierC: 0.70}
	tierBump = map[types.SourceTier]float64{types.TierA: 0.10, types.TierB: 0.08, types.TierC: 0.03}
	tierCap  = map[types.SourceTier]float64{types.TierA: 1.00, types.TierB: 0.95, types.TierC: 0.90}
)

// State is the authoritative per-match view.
type State struct {
	MatchID    string
	TeamAID    string
	TeamBID    string
	Status     Status
	ScoreA     int
	ScoreB     int
	MapIndex   int
	RoundIndex int

	Confidence   float64
	WinnerTeamID string

	LastEventMS   int64
	EndedAtMS     *int64
	FinalizedAtMS *int64
	LastSeq       *int64

	SeenEventIDs      map[string]struct{}
	SourcesConfirming map[string]struct{}
}

// clone returns a snapshot with independent containers.
func (s *State) clone() State {
	cp := *s
	cp.SeenEventIDs = make(map[string]struct{}, len(s.SeenEventIDs))
	for k := range s.SeenEventIDs {
		cp.SeenEventIDs[k] = struct{}{}
	}
	cp.SourcesConfirming = make(map[string]struct{}, len(s.SourcesConfirming))
	for k := range s.SourcesConfirming {
		cp.SourcesConfirming[k] = struct{}{}
	}
	if s.EndedAtMS != nil {
		v := *s.EndedAtMS
		cp.EndedAtMS = &v
	}
	if s.FinalizedAtMS != nil {
		v := *s.FinalizedAtMS
		cp.FinalizedAtMS = &v
	}
	if s.LastSeq != nil {
		v := *s.LastSeq
		cp.LastSeq = &v
	}
	return cp
}

// Config holds truth engine dependencies.
type Config struct {
	Truth  config.TruthConfig
	Logger *zap.Logger
}

// Engine is the per-match truth state machine. One goroutine mutates it:
// the partition consumer of its match id.
type Engine struct {
	cfg    config.TruthConfig
	logger *zap.Logger
	st     State
}

// New creates a truth engine in PRE_MATCH.
func New(matchID, teamAID, teamBID string, cfg *Config) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if matchID == "" {
		return nil, fmt.Errorf("match id cannot be empty")
	}

	return &Engine{
		cfg:    cfg.Truth,
		logger: cfg.Logger.With(zap.String("match_id", matchID)),
		st: State{
			MatchID:           matchID,
			TeamAID:           teamAID,
			TeamBID:           teamBID,
			Status:            StatusPreMatch,
			SeenEventIDs:      make(map[string]struct{}),
			SourcesConfirming: make(map[string]struct{}),
		},
	}, nil
}

// Status returns the current lifecycle state.
func (e *Engine) Status() Status { return e.st.Status }

// Confidence returns the current winner belief in [0,1].
func (e *Engine) Confidence() float64 { return e.st.Confidence }

// State returns a consistent snapshot of the current state.
func (e *Engine) State() State { return e.st.clone() }

// IsEffectivelyFinal reports whether the view is trustworthy enough to
// gate trades on.
func (e *Engine) IsEffectivelyFinal() bool {
	return (e.st.Status == StatusPendingConfirm || e.st.Status == StatusFinal) && e.st.Confidence >= 0.85
}

// WinnerIfFinal returns the winner team id only when effectively final.
func (e *Engine) WinnerIfFinal() (string, bool) {
	if !e.IsEffectivelyFinal() {
		return "", false
	}
	return e.st.WinnerTeamID, true
}

// OnEvent admits and applies one match event, returning the emitted
// TruthDelta or TruthFinal, or nil.
func (e *Engine) OnEvent(ev *types.MatchEvent) types.TruthOutput {
	if !e.admit(ev) {
		return nil
	}

	switch e.st.Status {
	case StatusPreMatch:
		return e.onPreMatch(ev)
	case StatusLive:
		return e.onLive(ev)
	case StatusPaused:
		return e.onPaused(ev)
	case StatusPendingConfirm:
		return e.onPendingConfirm(ev)
	case StatusFinal:
		if ev.Type == types.Correction {
			e.logger.Warn("correction-after-final-ignored",
				zap.String("source", ev.Source),
				zap.String("event_id", ev.EventID()))
		}
		return nil
	}
	return nil
}

// Tick finalizes a PENDING_CONFIRM match once max_wait has elapsed since
// the match ended.
func (e *Engine) Tick(nowMS int64) *types.TruthFinal {
	if e.st.Status != StatusPendingConfirm || e.st.EndedAtMS == nil {
		return nil
	}
	if nowMS-*e.st.EndedAtMS < e.cfg.MaxWaitMS {
		return nil
	}

	e.logger.Info("finalizing-on-timeout",
		zap.Int64("ended_at_ms", *e.st.EndedAtMS),
		zap.Int64("now_ms", nowMS))
	return e.finalize(nowMS)
}

// -----------------------------------------------------------------------------
// Admission
// -----------------------------------------------------------------------------

// admit applies deduplication and ordering checks. Replaying an admitted
// stream yields the same terminal state.
func (e *Engine) admit(ev *types.MatchEvent) bool {
	id := ev.SourceEventID
	if id == "" {
		id = fingerprint(ev)
	}
	if _, seen := e.st.SeenEventIDs[id]; seen {
		EventsDroppedTotal.WithLabelValues("duplicate").Inc()
		e.logger.Debug("duplicate-event-dropped", zap.String("dedupe_id", id))
		return false
	}
	e.st.SeenEventIDs[id] = struct{}{}

	if ev.Seq != nil {
		if e.st.LastSeq != nil && *ev.Seq <= *e.st.LastSeq {
			EventsDroppedTotal.WithLabelValues("stale_seq").Inc()
			return false
		}
		seq := *ev.Seq
		e.st.LastSeq = &seq
	} else if ev.TimestampMS() < e.st.LastEventMS-e.cfg.AllowedSkewMS {
		EventsDroppedTotal.WithLabelValues("stale_timestamp").Inc()
		return false
	}

	if ev.TimestampMS() > e.st.LastEventMS {
		e.st.LastEventMS = ev.TimestampMS()
	}
	return true
}

// fingerprint derives a 16-character dedupe id for events without a
// source event id.
func fingerprint(ev *types.MatchEvent) string {
	payload, _ := json.Marshal(ev.Payload)
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", ev.Type, ev.TimestampMS(), payload)))
	return hex.EncodeToString(h[:])[:16]
}

// -----------------------------------------------------------------------------
// State handlers
// -----------------------------------------------------------------------------

func (e *Engine) onPreMatch(ev *types.MatchEvent) types.TruthOutput {
	switch ev.Type {
	case types.MatchStarted:
		return e.setStatus(StatusLive, "")
	case types.MatchPaused:
		return e.setStatus(StatusPaused, "")
	}
	return nil
}

func (e *Engine) onLive(ev *types.MatchEvent) types.TruthOutput {
	switch ev.Type {
	case types.MatchPaused:
		return e.setStatus(StatusPaused, "")

	case types.ScoreUpdate:
		return e.applyScore(ev)

	case types.RoundEnded:
		if ev.Payload.RoundIndex != nil {
			e.st.RoundIndex = *ev.Payload.RoundIndex
		} else {
			e.st.RoundIndex++
		}
		e.st.Confidence = 0.60
		return e.delta("round", "", fmt.Sprintf("%d", e.st.RoundIndex), "")

	case types.MapEnded:
		if ev.Payload.MapIndex != nil {
			e.st.MapIndex = *ev.Payload.MapIndex
		} else {
			e.st.MapIndex++
		}
		e.st.Confidence = 0.75
		return e.delta("map", "", fmt.Sprintf("%d", e.st.MapIndex), "")

	case types.MapStarted:
		if ev.Payload.MapIndex != nil {
			e.st.MapIndex = *ev.Payload.MapIndex
		}
		return nil

	case types.MatchEnded:
		return e.onMatchEnded(ev)
	}
	return nil
}

func (e *Engine) onPaused(ev *types.MatchEvent) types.TruthOutput {
	switch ev.Type {
	case types.MatchResumed:
		return e.setStatus(StatusLive, "")
	case types.MatchEnded:
		return e.onMatchEnded(ev)
	}
	return nil
}

// onMatchEnded moves LIVE/PAUSED into PENDING_CONFIRM, seeding confidence
// by source tier, and finalizes immediately when a criterion already holds.
func (e *Engine) onMatchEnded(ev *types.MatchEvent) types.TruthOutput {
	winner := ev.Payload.WinnerTeamID
	if winner == "" {
		e.logger.Warn("match-ended-without-winner", zap.String("source", ev.Source))
		return nil
	}

	old := e.st.Status
	endedAt := ev.TimestampMS()
	e.st.WinnerTeamID = winner
	e.st.EndedAtMS = &endedAt
	e.st.Confidence = tierSeed[ev.Tier]
	e.st.SourcesConfirming = map[string]struct{}{ev.Source: {}}
	e.st.Status = StatusPendingConfirm
	TransitionsTotal.WithLabelValues(string(old), string(StatusPendingConfirm)).Inc()

	e.logger.Info("match-ended-pending-confirm",
		zap.String("winner_team_id", winner),
		zap.String("source", ev.Source),
		zap.String("tier", string(ev.Tier)),
		zap.Float64("confidence", e.st.Confidence))

	if e.shouldFinalize() {
		return e.finalize(ev.TimestampMS())
	}
	return e.deltaStatus(old, StatusPendingConfirm, "")
}

func (e *Engine) onPendingConfirm(ev *types.MatchEvent) types.TruthOutput {
	if ev.Type != types.MatchEnded {
		return nil
	}

	winner := ev.Payload.WinnerTeamID
	if winner == "" {
		return nil
	}

	if winner != e.st.WinnerTeamID {
		return e.contradiction(ev, winner)
	}

	e.st.SourcesConfirming[ev.Source] = struct{}{}
	bumped := e.st.Confidence + tierBump[ev.Tier]
	if limit := tierCap[ev.Tier]; bumped > limit {
		bumped = limit
	}
	if bumped > e.st.Confidence {
		e.st.Confidence = bumped
	}

	e.logger.Info("winner-confirmed",
		zap.String("source", ev.Source),
		zap.String("tier", string(ev.Tier)),
		zap.Float64("confidence", e.st.Confidence),
		zap.Int("sources_confirming", len(e.st.SourcesConfirming)))

	if e.shouldFinalize() {
		return e.finalize(ev.TimestampMS())
	}
	return e.delta("confidence", "", fmt.Sprintf("%.2f", e.st.Confidence), "confirmation")
}

// contradiction resets the pending outcome: a source reported a different
// winner, so the match is treated as still live with zero belief.
func (e *Engine) contradiction(ev *types.MatchEvent, winner string) types.TruthOutput {
	e.logger.Warn("winner-contradiction",
		zap.String("pending_winner", e.st.WinnerTeamID),
		zap.String("contradicting_winner", winner),
		zap.String("source", ev.Source))
	ContradictionsTotal.Inc()

	old := e.st.Status
	e.st.WinnerTeamID = ""
	e.st.EndedAtMS = nil
	e.st.SourcesConfirming = make(map[string]struct{})
	e.st.Confidence = 0
	e.st.Status = StatusLive
	TransitionsTotal.WithLabelValues(string(old), string(StatusLive)).Inc()

	return e.deltaStatus(old, StatusLive, "contradiction")
}

// -----------------------------------------------------------------------------
// Finalization
// -----------------------------------------------------------------------------

// shouldFinalize checks the three sufficient criteria: confidence over the
// confirm threshold, any Tier-A confirming source, or enough agreeing
// sources.
func (e *Engine) shouldFinalize() bool {
	if e.st.Confidence >= e.cfg.ConfirmThreshold {
		return true
	}
	for _, src := range e.cfg.TierASources {
		if _, ok := e.st.SourcesConfirming[src]; ok {
			return true
		}
	}
	return len(e.st.SourcesConfirming) >= e.cfg.RequiredSourcesForFinal
}

func (e *Engine) finalize(nowMS int64) *types.TruthFinal {
	old := e.st.Status
	e.st.Status = StatusFinal
	e.st.FinalizedAtMS = &nowMS
	TransitionsTotal.WithLabelValues(string(old), string(StatusFinal)).Inc()
	FinalizationsTotal.Inc()

	confirmedBy := make([]string, 0, len(e.st.SourcesConfirming))
	for src := range e.st.SourcesConfirming {
		confirmedBy = append(confirmedBy, src)
	}

	e.logger.Info("match-final",
		zap.String("winner_team_id", e.st.WinnerTeamID),
		zap.Float64("confidence", e.st.Confidence),
		zap.Strings("confirmed_by", confirmedBy))

	return &types.TruthFinal{
		BaseEvent:     types.NewBaseEvent(nowMS, ""),
		MatchID:       e.st.MatchID,
		WinnerTeamID:  e.st.WinnerTeamID,
		Confidence:    e.st.Confidence,
		ConfirmedBy:   confirmedBy,
		FinalizedAtMS: nowMS,
	}
}

// -----------------------------------------------------------------------------
// Emission helpers
// -----------------------------------------------------------------------------

func (e *Engine) applyScore(ev *types.MatchEvent) types.TruthOutput {
	changed := false
	old := fmt.Sprintf("%d-%d", e.st.ScoreA, e.st.ScoreB)
	if ev.Payload.TeamAScore != nil && *ev.Payload.TeamAScore != e.st.ScoreA {
		e.st.ScoreA = *ev.Payload.TeamAScore
		changed = true
	}
	if ev.Payload.TeamBScore != nil && *ev.Payload.TeamBScore != e.st.ScoreB {
		e.st.ScoreB = *ev.Payload.TeamBScore
		changed = true
	}
	if !changed {
		return nil
	}
	return e.delta("score", old, fmt.Sprintf("%d-%d", e.st.ScoreA, e.st.ScoreB), "")
}

func (e *Engine) setStatus(next Status, reason string) *types.TruthDelta {
	old := e.st.Status
	e.st.Status = next
	TransitionsTotal.WithLabelValues(string(old), string(next)).Inc()
	return e.deltaStatus(old, next, reason)
}

func (e *Engine) deltaStatus(old, next Status, reason string) *types.TruthDelta {
	d := e.delta("status", string(old), string(next), reason)
	e.logger.Info("truth-status-changed",
		zap.String("from", string(old)),
		zap.String("to", string(next)),
		zap.String("reason", reason))
	return d
}

func (e *Engine) delta(deltaType, oldValue, newValue, reason string) *types.TruthDelta {
	return &types.TruthDelta{
		BaseEvent:  types.NewBaseEvent(e.st.LastEventMS, ""),
		MatchID:    e.st.MatchID,
		DeltaType:  deltaType,
		OldValue:   oldValue,
		NewValue:   newValue,
		Confidence: e.st.Confidence,
		Reason:     reason,
	}
}

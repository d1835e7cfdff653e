package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"statechan/crypto"
	"statechan/native/channel"
	"statechan/native/dispute"
	"statechan/native/rewards"
)

type channelOpenParams struct {
	ID             string   `json:"id"`
	Participants   []string `json:"participants"`
	TimeoutSeconds uint64   `json:"timeoutSeconds"`
}

type channelOpenEnhancedParams struct {
	ID             string                 `json:"id"`
	Creator        string                 `json:"creator"`
	Participants   []string               `json:"participants"`
	TimeoutSeconds uint64                 `json:"timeoutSeconds"`
	Config         *channel.ChannelConfig `json:"config,omitempty"`
}

type channelActivateParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type rewardCalculationJSON struct {
	User                 string `json:"user"`
	BTCCommitment        uint64 `json:"btcCommitment"`
	CalculatedReward     uint64 `json:"calculatedReward"`
	CalculationTimestamp int64  `json:"calculationTimestamp"`
}

type channelUpdateParams struct {
	ID         string                  `json:"id"`
	Nonce      uint64                  `json:"nonce"`
	StateHash  string                  `json:"stateHash"`
	Payload    []rewardCalculationJSON `json:"payload,omitempty"`
	Signatures []string                `json:"signatures"`
}

type channelChallengeParams struct {
	ID                string `json:"id"`
	Challenger        string `json:"challenger"`
	DisputedStateHash string `json:"disputedStateHash"`
	Kind              string `json:"kind"`
	Evidence          string `json:"evidence,omitempty"`
}

type channelResolveParams struct {
	ID         string `json:"id"`
	Resolution string `json:"resolution"`
	Resolver   string `json:"resolver"`
}

type channelSettleParams struct {
	ID                string                  `json:"id"`
	FinalCalculations []rewardCalculationJSON `json:"finalCalculations"`
}

type channelIDParams struct {
	ID string `json:"id"`
}

type channelJSON struct {
	ID               string   `json:"id"`
	Participants     []string `json:"participants"`
	Nonce            uint64   `json:"nonce"`
	StateHash        string   `json:"stateHash"`
	Signatures       int      `json:"signatures"`
	Timeout          int64    `json:"timeout"`
	DisputePeriod    int64    `json:"disputePeriod"`
	LastUpdate       int64    `json:"lastUpdate"`
	Status           string   `json:"status"`
	SettlementAmount uint64   `json:"settlementAmount"`
	Disputed         bool     `json:"disputed"`
}

func marshalChannel(c *channel.Channel) channelJSON {
	participants := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		participants = append(participants, crypto.NewAddress(crypto.ParticipantPrefix, p[:]).String())
	}
	return channelJSON{
		ID:               hex.EncodeToString(c.ID[:]),
		Participants:     participants,
		Nonce:            c.Nonce,
		StateHash:        hex.EncodeToString(c.StateHash[:]),
		Signatures:       len(c.Signatures),
		Timeout:          c.Timeout,
		DisputePeriod:    c.DisputePeriod,
		LastUpdate:       c.LastUpdate,
		Status:           c.Status.String(),
		SettlementAmount: c.SettlementAmount,
		Disputed:         c.Dispute != nil,
	}
}

func decodeParams(raw json.RawMessage, dest interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("params required")
	}
	return json.Unmarshal(raw, dest)
}

func decodeChannelID(value string) ([32]byte, error) {
	var id [32]byte
	decoded, err := hex.DecodeString(value)
	if err != nil {
		return id, fmt.Errorf("invalid channel id: %w", err)
	}
	if len(decoded) != 32 {
		return id, fmt.Errorf("channel id must be 32 bytes, got %d", len(decoded))
	}
	copy(id[:], decoded)
	return id, nil
}

func decodeHash(value string) ([32]byte, error) {
	return decodeChannelID(value)
}

func decodeParticipant(value string) ([20]byte, error) {
	var addr [20]byte
	decoded, err := crypto.DecodeAddress(value)
	if err != nil {
		return addr, err
	}
	copy(addr[:], decoded.Bytes())
	return addr, nil
}

func decodeParticipants(values []string) ([][20]byte, error) {
	participants := make([][20]byte, 0, len(values))
	for _, v := range values {
		addr, err := decodeParticipant(v)
		if err != nil {
			return nil, err
		}
		participants = append(participants, addr)
	}
	return participants, nil
}

func decodeCalculations(values []rewardCalculationJSON) ([]rewards.RewardCalculation, error) {
	calcs := make([]rewards.RewardCalculation, 0, len(values))
	for _, v := range values {
		user, err := decodeParticipant(v.User)
		if err != nil {
			return nil, err
		}
		calcs = append(calcs, rewards.RewardCalculation{
			User:                 user,
			BTCCommitment:        v.BTCCommitment,
			CalculatedReward:     v.CalculatedReward,
			CalculationTimestamp: v.CalculationTimestamp,
		})
	}
	return calcs, nil
}

func (s *Server) writeEngineError(w http.ResponseWriter, id json.RawMessage, err error) {
	switch {
	case errors.Is(err, channel.ErrNotFound):
		s.writeError(w, id, codeNotFound, err.Error())
	case errors.Is(err, channel.ErrUnauthorized):
		s.writeError(w, id, codeForbidden, err.Error())
	case errors.Is(err, channel.ErrState):
		s.writeError(w, id, codeConflict, err.Error())
	case errors.Is(err, channel.ErrThresholdNotMet):
		s.writeError(w, id, codeThreshold, err.Error())
	case errors.Is(err, channel.ErrTiming):
		s.writeError(w, id, codeTiming, err.Error())
	case errors.Is(err, channel.ErrValidation):
		s.writeError(w, id, codeInvalidParams, err.Error())
	default:
		s.writeError(w, id, codeServerError, err.Error())
	}
}

func (s *Server) handleChannelOpen(w http.ResponseWriter, req rpcRequest) {
	var params channelOpenParams
	if err := decodeParams(req.Params, &params); err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	id, err := decodeChannelID(params.ID)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	participants, err := decodeParticipants(params.Participants)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	ch, err := s.registry.Create(id, participants, params.TimeoutSeconds)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.writeResult(w, req.ID, marshalChannel(ch))
}

func (s *Server) handleChannelOpenEnhanced(w http.ResponseWriter, req rpcRequest) {
	var params channelOpenEnhancedParams
	if err := decodeParams(req.Params, &params); err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	id, err := decodeChannelID(params.ID)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	creator, err := decodeParticipant(params.Creator)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	participants, err := decodeParticipants(params.Participants)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	cfg := channel.DefaultChannelConfig()
	if params.Config != nil {
		cfg = *params.Config
	}
	ch, err := s.registry.CreateEnhanced(id, creator, participants, params.TimeoutSeconds, cfg)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.writeResult(w, req.ID, marshalChannel(&ch.Channel))
}

func (s *Server) handleChannelActivate(w http.ResponseWriter, req rpcRequest) {
	var params channelActivateParams
	if err := decodeParams(req.Params, &params); err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	id, err := decodeChannelID(params.ID)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	caller, err := decodeParticipant(params.Caller)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	ch, err := s.registry.Engine().Activate(id, caller)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.writeResult(w, req.ID, marshalChannel(&ch.Channel))
}

func (s *Server) handleChannelUpdate(w http.ResponseWriter, req rpcRequest) {
	var params channelUpdateParams
	if err := decodeParams(req.Params, &params); err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	id, err := decodeChannelID(params.ID)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	stateHash, err := decodeHash(params.StateHash)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	payload, err := decodeCalculations(params.Payload)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	signatures := make([][]byte, 0, len(params.Signatures))
	for _, sigHex := range params.Signatures {
		sig, err := hex.DecodeString(sigHex)
		if err != nil {
			s.writeError(w, req.ID, codeInvalidParams, "invalid signature encoding")
			return
		}
		signatures = append(signatures, sig)
	}
	update := channel.StateUpdate{
		ChannelID: id,
		Nonce:     params.Nonce,
		StateHash: stateHash,
		Payload:   payload,
	}
	ch, err := s.registry.Update(id, update, signatures)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.writeResult(w, req.ID, marshalChannel(ch))
}

func (s *Server) handleChannelChallenge(w http.ResponseWriter, req rpcRequest) {
	var params channelChallengeParams
	if err := decodeParams(req.Params, &params); err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	id, err := decodeChannelID(params.ID)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	challenger, err := decodeParticipant(params.Challenger)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	disputedHash, err := decodeHash(params.DisputedStateHash)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	kind, err := channel.ParseDisputeKind(params.Kind)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	var evidence []byte
	if params.Evidence != "" {
		evidence, err = hex.DecodeString(params.Evidence)
		if err != nil {
			s.writeError(w, req.ID, codeInvalidParams, "invalid evidence encoding")
			return
		}
	}
	ch, err := s.registry.Challenge(id, challenger, disputedHash, kind, evidence)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.writeResult(w, req.ID, marshalChannel(ch))
}

func (s *Server) handleChannelResolve(w http.ResponseWriter, req rpcRequest) {
	var params channelResolveParams
	if err := decodeParams(req.Params, &params); err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	id, err := decodeChannelID(params.ID)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	resolution, err := dispute.ParseResolution(params.Resolution)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	resolver, err := decodeParticipant(params.Resolver)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	outcome, err := s.disputes.Resolve(id, resolution, resolver)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.writeResult(w, req.ID, outcome)
}

func (s *Server) handleChannelSettle(w http.ResponseWriter, req rpcRequest) {
	var params channelSettleParams
	if err := decodeParams(req.Params, &params); err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	id, err := decodeChannelID(params.ID)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	calcs, err := decodeCalculations(params.FinalCalculations)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	ch, err := s.registry.Settle(id, calcs)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.writeResult(w, req.ID, marshalChannel(ch))
}

func (s *Server) handleChannelGet(w http.ResponseWriter, req rpcRequest) {
	var params channelIDParams
	if err := decodeParams(req.Params, &params); err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	id, err := decodeChannelID(params.ID)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	ch, err := s.registry.Lookup(id)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.writeResult(w, req.ID, marshalChannel(ch))
}

func (s *Server) handleChannelValidate(w http.ResponseWriter, req rpcRequest) {
	var params channelIDParams
	if err := decodeParams(req.Params, &params); err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	id, err := decodeChannelID(params.ID)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	if err := s.registry.ValidateState(id); err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.writeResult(w, req.ID, map[string]bool{"valid": true})
}

func (s *Server) handleChannelCounters(w http.ResponseWriter, req rpcRequest) {
	s.writeResult(w, req.ID, s.registry.Counters())
}

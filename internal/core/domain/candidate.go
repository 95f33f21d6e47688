package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Candidate is the canonical ICE candidate shape: the candidate line plus the
// two optional media-description references.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// CandidateKind tags the outcome of candidate normalization.
type CandidateKind int

const (
	// CandidateCanonical is a usable candidate in canonical form.
	CandidateCanonical CandidateKind = iota
	// CandidateEndOfCandidates is the explicit empty/null end-of-gathering signal.
	CandidateEndOfCandidates
	// CandidateUnrecognized is a payload no known WebRTC stack shape matches.
	// Callers drop and log these; they never abort a negotiation.
	CandidateUnrecognized
)

func (k CandidateKind) String() string {
	switch k {
	case CandidateCanonical:
		return "canonical"
	case CandidateEndOfCandidates:
		return "end-of-candidates"
	default:
		return "unrecognized"
	}
}

// NormalizedCandidate is the tagged result of parsing an inbound candidate.
type NormalizedCandidate struct {
	Kind      CandidateKind
	Candidate Candidate
}

// NormalizeCandidate parses an inbound candidate payload into canonical form.
// Inbound shapes differ by the native stack that produced them: a bare
// string, an object with optional sdpMid/sdpMLineIndex, or the same object
// nested one level under a "candidate" key. Normalization is idempotent:
// an already-canonical candidate round-trips to the same value.
func NormalizeCandidate(raw json.RawMessage) NormalizedCandidate {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return NormalizedCandidate{Kind: CandidateEndOfCandidates}
	}

	// Bare string form.
	var line string
	if err := json.Unmarshal(raw, &line); err == nil {
		if line == "" {
			return NormalizedCandidate{Kind: CandidateEndOfCandidates}
		}
		return NormalizedCandidate{Kind: CandidateCanonical, Candidate: Candidate{Candidate: line}}
	}

	// Object form; fields parsed tolerantly so one odd field does not reject
	// the whole candidate.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return NormalizedCandidate{Kind: CandidateUnrecognized}
	}

	inner, ok := fields["candidate"]
	if !ok {
		return NormalizedCandidate{Kind: CandidateUnrecognized}
	}

	mid := parseSDPMid(fields["sdpMid"])
	index := parseSDPMLineIndex(fields["sdpMLineIndex"])

	inner = bytes.TrimSpace(inner)
	if len(inner) == 0 || bytes.Equal(inner, []byte("null")) {
		return NormalizedCandidate{Kind: CandidateEndOfCandidates}
	}

	// Nested object form ({"candidate": {"candidate": "...", ...}}): unwrap
	// one level, outer fields fill in whatever the inner shape is missing.
	if inner[0] == '{' {
		nested := NormalizeCandidate(inner)
		if nested.Kind != CandidateCanonical {
			return nested
		}
		if nested.Candidate.SDPMid == nil {
			nested.Candidate.SDPMid = mid
		}
		if nested.Candidate.SDPMLineIndex == nil {
			nested.Candidate.SDPMLineIndex = index
		}
		return nested
	}

	if err := json.Unmarshal(inner, &line); err != nil {
		return NormalizedCandidate{Kind: CandidateUnrecognized}
	}
	if line == "" {
		return NormalizedCandidate{Kind: CandidateEndOfCandidates}
	}

	return NormalizedCandidate{
		Kind: CandidateCanonical,
		Candidate: Candidate{
			Candidate:     line,
			SDPMid:        mid,
			SDPMLineIndex: index,
		},
	}
}

func parseSDPMid(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var mid string
	if err := json.Unmarshal(raw, &mid); err != nil {
		return nil
	}
	return &mid
}

// parseSDPMLineIndex accepts both the numeric form and the string-encoded
// form some stacks emit.
func parseSDPMLineIndex(raw json.RawMessage) *uint16 {
	if len(raw) == 0 {
		return nil
	}
	var n uint16
	if err := json.Unmarshal(raw, &n); err == nil {
		return &n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseUint(s, 10, 16); err == nil {
			n = uint16(v)
			return &n
		}
	}
	return nil
}

// Raw marshals the canonical candidate back to its wire form.
func (c Candidate) Raw() json.RawMessage {
	data, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	return data
}

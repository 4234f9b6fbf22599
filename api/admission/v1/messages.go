package admissionv1

import (
	"google.golang.org/protobuf/types/known/structpb"
)

// DecideRequest: {"address": string, "session_id": string}.
type DecideRequest struct {
	Address   string
	SessionID string
}

// DecideResponse mirrors gate.Verdict.
type DecideResponse struct {
	Allowed     bool
	Reason      string
	Message     string
	Fingerprint string
	Escalated   bool
	Degraded    bool
}

// LookupRequest selects a fingerprint directly or by raw address.
type LookupRequest struct {
	Address     string
	Fingerprint string
}

// Evidence is one diagnostic line attached to a ban.
type Evidence struct {
	Type    string
	Message string
}

// LookupResponse is the stored state of one fingerprint. Times are Unix
// milliseconds; zero means absent.
type LookupResponse struct {
	Fingerprint string
	Banned      bool
	BanReason   string
	BannedAt    int64
	Evidence    []Evidence
	HasSession  bool
	LastRequest int64
	SessionIDs  []string
	CreatedAt   int64
	Degraded    bool
}

func (r DecideRequest) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"address":    r.Address,
		"session_id": r.SessionID,
	})
}

func DecideRequestFrom(s *structpb.Struct) DecideRequest {
	return DecideRequest{
		Address:   str(s, "address"),
		SessionID: str(s, "session_id"),
	}
}

func (r DecideResponse) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"allowed":     r.Allowed,
		"reason":      r.Reason,
		"message":     r.Message,
		"fingerprint": r.Fingerprint,
		"escalated":   r.Escalated,
		"degraded":    r.Degraded,
	})
}

func DecideResponseFrom(s *structpb.Struct) DecideResponse {
	return DecideResponse{
		Allowed:     boolean(s, "allowed"),
		Reason:      str(s, "reason"),
		Message:     str(s, "message"),
		Fingerprint: str(s, "fingerprint"),
		Escalated:   boolean(s, "escalated"),
		Degraded:    boolean(s, "degraded"),
	}
}

func (r LookupRequest) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"address":     r.Address,
		"fingerprint": r.Fingerprint,
	})
}

func LookupRequestFrom(s *structpb.Struct) LookupRequest {
	return LookupRequest{
		Address:     str(s, "address"),
		Fingerprint: str(s, "fingerprint"),
	}
}

func (r LookupResponse) Struct() (*structpb.Struct, error) {
	evidence := make([]any, len(r.Evidence))
	for i, e := range r.Evidence {
		evidence[i] = map[string]any{"type": e.Type, "message": e.Message}
	}
	ids := make([]any, len(r.SessionIDs))
	for i, id := range r.SessionIDs {
		ids[i] = id
	}
	return structpb.NewStruct(map[string]any{
		"fingerprint":  r.Fingerprint,
		"banned":       r.Banned,
		"ban_reason":   r.BanReason,
		"banned_at":    float64(r.BannedAt),
		"evidence":     evidence,
		"has_session":  r.HasSession,
		"last_request": float64(r.LastRequest),
		"session_ids":  ids,
		"created_at":   float64(r.CreatedAt),
		"degraded":     r.Degraded,
	})
}

func LookupResponseFrom(s *structpb.Struct) LookupResponse {
	r := LookupResponse{
		Fingerprint: str(s, "fingerprint"),
		Banned:      boolean(s, "banned"),
		BanReason:   str(s, "ban_reason"),
		BannedAt:    int64(num(s, "banned_at")),
		HasSession:  boolean(s, "has_session"),
		LastRequest: int64(num(s, "last_request")),
		CreatedAt:   int64(num(s, "created_at")),
		Degraded:    boolean(s, "degraded"),
	}
	for _, v := range s.GetFields()["evidence"].GetListValue().GetValues() {
		e := v.GetStructValue()
		r.Evidence = append(r.Evidence, Evidence{Type: str(e, "type"), Message: str(e, "message")})
	}
	for _, v := range s.GetFields()["session_ids"].GetListValue().GetValues() {
		r.SessionIDs = append(r.SessionIDs, v.GetStringValue())
	}
	return r
}

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func boolean(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

func num(s *structpb.Struct, key string) float64 {
	return s.GetFields()[key].GetNumberValue()
}

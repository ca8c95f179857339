package wsapi

import (
	"encoding/json"

	"dex_go/internal/domain"
	"dex_go/internal/instruction"
)

// Method selects the channel a request travels on.
type Method string

const (
	MethodSubmit Method = "submit"
	MethodQuery  Method = "query"
)

// QueryKind names a read-only view.
type QueryKind string

const (
	QueryMarket        QueryKind = "market"
	QueryMarkets       QueryKind = "markets"
	QueryUserAccount   QueryKind = "user_account"
	QueryOwnerAccounts QueryKind = "owner_accounts"
	QueryMetrics       QueryKind = "metrics"
)

// Query is a state query. Key is the market, user account or owner.
type Query struct {
	Kind QueryKind  `json:"kind"`
	Key  domain.Key `json:"key,omitempty"`
}

// Request is one client message. The server assigns an ID when absent.
type Request struct {
	ID          string                   `json:"id,omitempty"`
	Method      Method                   `json:"method"`
	Instruction *instruction.Instruction `json:"instruction,omitempty"`
	Query       *Query                   `json:"query,omitempty"`
}

// Response answers the Request with the same ID.
type Response struct {
	ID        string          `json:"id"`
	OK        bool            `json:"ok"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// RemoteError is a rejection reported by the server. It matches the domain
// sentinel of the same kind under errors.Is.
type RemoteError struct {
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Kind + ": " + e.Message
}

func (e *RemoteError) Is(target error) bool {
	return domain.Kind(target) == e.Kind
}

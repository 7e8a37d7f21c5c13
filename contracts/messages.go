package contracts

import (
	"encoding/json"
	"fmt"
)

// Kind identifies one request/response pair handled by the bridge.
type Kind string

const (
	// KindSearch asks the backend to crawl a scholar profile and index
	// every paper it links.
	KindSearch Kind = "search"

	// KindSearchTerm queries the inverted index for a single term.
	KindSearchTerm Kind = "search-term"

	// KindTopN asks for the N terms with the highest total frequency
	// across the corpus.
	KindTopN Kind = "topn"
)

// Kinds returns every kind the bridge handles, in a stable order.
func Kinds() []Kind {
	return []Kind{KindSearch, KindSearchTerm, KindTopN}
}

func (k Kind) String() string {
	return string(k)
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSearch, KindSearchTerm, KindTopN:
		return true
	}
	return false
}

// Message is the surface shared by requests and responses.
type Message interface {
	Kind() Kind
	GetCorrelationID() string
}

// Request is a message the dispatcher can submit. The unexported
// marker keeps the set closed to the types declared in this package.
type Request interface {
	Message
	SetCorrelationID(id string)
	request()
}

// Response is a message a listener can resolve against the registry.
type Response interface {
	Message
	response()
}

// BaseMessage provides the correlation field shared by every message
// on the wire.
type BaseMessage struct {
	CorrelationID string `json:"correlation_id"`
}

// GetCorrelationID returns the correlation ID.
func (m BaseMessage) GetCorrelationID() string {
	return m.CorrelationID
}

// SetCorrelationID sets the correlation ID.
func (m *BaseMessage) SetCorrelationID(correlationID string) {
	m.CorrelationID = correlationID
}

// SearchRequest asks the backend to index the papers on a scholar
// profile page.
type SearchRequest struct {
	BaseMessage
	ScholarURL string `json:"scholar_url"`
}

// NewSearchRequest creates a search request for the given profile URL.
func NewSearchRequest(scholarURL string) *SearchRequest {
	return &SearchRequest{ScholarURL: scholarURL}
}

func (*SearchRequest) request() {}

func (*SearchRequest) Kind() Kind { return KindSearch }

// TermSearchRequest queries the index for one term.
type TermSearchRequest struct {
	BaseMessage
	Term string `json:"term"`
}

// NewTermSearchRequest creates a term search request.
func NewTermSearchRequest(term string) *TermSearchRequest {
	return &TermSearchRequest{Term: term}
}

func (*TermSearchRequest) request() {}

func (*TermSearchRequest) Kind() Kind { return KindSearchTerm }

// TopNRequest asks for the n most frequent terms in the corpus.
type TopNRequest struct {
	BaseMessage
	N int `json:"n"`
}

// NewTopNRequest creates a top-N request.
func NewTopNRequest(n int) *TopNRequest {
	return &TopNRequest{N: n}
}

func (*TopNRequest) request() {}

func (*TopNRequest) Kind() Kind { return KindTopN }

// SearchAck acknowledges that an indexing run was accepted. It carries
// nothing beyond the correlation id.
type SearchAck struct {
	BaseMessage
}

func (*SearchAck) response() {}

func (*SearchAck) Kind() Kind { return KindSearch }

// ScoredDocument is one hit in a term search result.
type ScoredDocument struct {
	DocID     string `json:"doc_id"`
	URL       string `json:"url"`
	DocName   string `json:"doc_name"`
	Citations int    `json:"citations"`
	Frequency int    `json:"frequency"`
}

// TermSearchResult lists the documents matching one term, ranked by
// the backend, with the query execution time in seconds.
type TermSearchResult struct {
	BaseMessage
	Results       []ScoredDocument `json:"results"`
	ExecutionTime float64          `json:"execution_time"`
}

func (*TermSearchResult) response() {}

func (*TermSearchResult) Kind() Kind { return KindSearchTerm }

// TermFrequency is one entry in a top-N listing.
type TermFrequency struct {
	Term           string `json:"term"`
	TotalFrequency int    `json:"total_frequency"`
}

// TopNResult lists the highest-frequency terms across the corpus.
type TopNResult struct {
	BaseMessage
	Results []TermFrequency `json:"results"`
}

func (*TopNResult) response() {}

func (*TopNResult) Kind() Kind { return KindTopN }

// Interface conformance checks.
var (
	_ Request = (*SearchRequest)(nil)
	_ Request = (*TermSearchRequest)(nil)
	_ Request = (*TopNRequest)(nil)

	_ Response = (*SearchAck)(nil)
	_ Response = (*TermSearchResult)(nil)
	_ Response = (*TopNResult)(nil)
)

// EncodeRequest serializes a request to its wire form.
func EncodeRequest(req Request) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", req.Kind(), err)
	}
	return payload, nil
}

// DecodeResponse parses payload as the response type paired with kind.
// A payload that does not parse, or parses without a correlation id,
// returns a DecodeError.
func DecodeResponse(kind Kind, payload []byte) (Response, error) {
	var resp Response
	switch kind {
	case KindSearch:
		resp = &SearchAck{}
	case KindSearchTerm:
		resp = &TermSearchResult{}
	case KindTopN:
		resp = &TopNResult{}
	default:
		return nil, &DecodeError{Kind: kind, Err: fmt.Errorf("unknown kind %q", string(kind))}
	}
	if err := json.Unmarshal(payload, resp); err != nil {
		return nil, &DecodeError{Kind: kind, Err: err}
	}
	if resp.GetCorrelationID() == "" {
		return nil, &DecodeError{Kind: kind, Err: fmt.Errorf("missing correlation id")}
	}
	return resp, nil
}

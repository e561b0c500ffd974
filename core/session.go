package core

import (
	"time"

	"github.com/google/uuid"
)

// QueryID uniquely identifies one query execution across the cluster.
type QueryID string

// NewQueryID generates a fresh, globally unique query identifier.
func NewQueryID() QueryID {
	return QueryID(uuid.NewString())
}

// SessionContext is the caller-supplied description of a query session:
// who is running the query and with which configuration. It is consumed
// once, at coordinator construction, to derive the immutable Session.
type SessionContext struct {
	User             string
	Source           string
	Catalog          string
	Schema           string
	Properties       map[string]string
	ExtraCredentials map[string]string
}

// CredentialsProvider contributes additional named credentials to a session
// at creation time. Providers are applied in registration order; the last
// writer wins on key collision.
type CredentialsProvider interface {
	Credentials() map[string]string
}

// Identity is the authenticated principal a query runs as, together with
// any extra credentials attached by the caller or by credential providers.
type Identity struct {
	User             string            `json:"user"`
	ExtraCredentials map[string]string `json:"extra_credentials,omitempty"`
}

// Session is the immutable execution context of a single query. It is
// created once at coordinator start and passed by reference to every
// downstream component. After transaction binding a Session is never
// mutated; WithTransaction returns a superseding copy instead.
type Session struct {
	queryID       QueryID
	identity      Identity
	source        string
	catalog       string
	schema        string
	properties    map[string]string
	transactionID TransactionID
	startTime     time.Time
}

// NewSession derives a Session from the caller context and the configured
// credential providers.
func NewSession(queryID QueryID, ctx SessionContext, providers []CredentialsProvider) *Session {
	credentials := make(map[string]string, len(ctx.ExtraCredentials))
	for k, v := range ctx.ExtraCredentials {
		credentials[k] = v
	}
	for _, provider := range providers {
		for k, v := range provider.Credentials() {
			credentials[k] = v
		}
	}

	properties := make(map[string]string, len(ctx.Properties))
	for k, v := range ctx.Properties {
		properties[k] = v
	}

	return &Session{
		queryID: queryID,
		identity: Identity{
			User:             ctx.User,
			ExtraCredentials: credentials,
		},
		source:     ctx.Source,
		catalog:    ctx.Catalog,
		schema:     ctx.Schema,
		properties: properties,
		startTime:  time.Now(),
	}
}

func (s *Session) QueryID() QueryID {
	return s.queryID
}

func (s *Session) Identity() Identity {
	return s.identity
}

func (s *Session) Catalog() string {
	return s.catalog
}

func (s *Session) Schema() string {
	return s.schema
}

func (s *Session) StartTime() time.Time {
	return s.startTime
}

// Property returns the named session property, or "" when unset.
func (s *Session) Property(name string) string {
	return s.properties[name]
}

// Properties returns a copy of all session properties.
func (s *Session) Properties() map[string]string {
	properties := make(map[string]string, len(s.properties))
	for k, v := range s.properties {
		properties[k] = v
	}
	return properties
}

// TransactionID returns the bound transaction id, if any.
func (s *Session) TransactionID() (TransactionID, bool) {
	return s.transactionID, s.transactionID != ""
}

// WithTransaction returns a copy of the session bound to the given
// transaction. The receiver is left untouched.
func (s *Session) WithTransaction(id TransactionID) *Session {
	bound := *s
	bound.transactionID = id
	return &bound
}

// SessionRepresentation is the serializable form of a Session, embedded in
// task descriptors so that every worker sees the same execution context.
type SessionRepresentation struct {
	QueryID          string            `json:"query_id"`
	User             string            `json:"user"`
	Source           string            `json:"source,omitempty"`
	Catalog          string            `json:"catalog,omitempty"`
	Schema           string            `json:"schema,omitempty"`
	Properties       map[string]string `json:"properties,omitempty"`
	ExtraCredentials map[string]string `json:"extra_credentials,omitempty"`
	TransactionID    string            `json:"transaction_id,omitempty"`
	StartTimeMillis  int64             `json:"start_time_millis"`
}

// Representation converts the session to its serializable form.
func (s *Session) Representation() SessionRepresentation {
	return SessionRepresentation{
		QueryID:          string(s.queryID),
		User:             s.identity.User,
		Source:           s.source,
		Catalog:          s.catalog,
		Schema:           s.schema,
		Properties:       s.properties,
		ExtraCredentials: s.identity.ExtraCredentials,
		TransactionID:    string(s.transactionID),
		StartTimeMillis:  s.startTime.UnixMilli(),
	}
}

// SessionFromRepresentation reconstructs a Session on the worker side.
func SessionFromRepresentation(rep SessionRepresentation) *Session {
	return &Session{
		queryID: QueryID(rep.QueryID),
		identity: Identity{
			User:             rep.User,
			ExtraCredentials: rep.ExtraCredentials,
		},
		source:        rep.Source,
		catalog:       rep.Catalog,
		schema:        rep.Schema,
		properties:    rep.Properties,
		transactionID: TransactionID(rep.TransactionID),
		startTime:     time.UnixMilli(rep.StartTimeMillis),
	}
}

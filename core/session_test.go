package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type staticCredentials map[string]string

func (c staticCredentials) Credentials() map[string]string {
	return c
}

func TestSessionCredentialMerge(t *testing.T) {
	ctx := SessionContext{
		User:             "alice",
		ExtraCredentials: map[string]string{"token": "caller"},
	}
	providers := []CredentialsProvider{
		staticCredentials{"s3-key": "first", "shared": "first"},
		staticCredentials{"gcs-key": "second", "shared": "second"},
	}

	session := NewSession(NewQueryID(), ctx, providers)

	credentials := session.Identity().ExtraCredentials
	require.Equal(t, "caller", credentials["token"])
	require.Equal(t, "first", credentials["s3-key"])
	require.Equal(t, "second", credentials["gcs-key"])
	// Providers apply in registration order; the last writer wins.
	require.Equal(t, "second", credentials["shared"])
}

func TestSessionWithTransactionSupersedes(t *testing.T) {
	session := NewSession(NewQueryID(), SessionContext{User: "alice"}, nil)

	_, bound := session.TransactionID()
	require.False(t, bound)

	boundSession := session.WithTransaction("txn-1")
	id, bound := boundSession.TransactionID()
	require.True(t, bound)
	require.Equal(t, TransactionID("txn-1"), id)

	// The original session value is untouched.
	_, bound = session.TransactionID()
	require.False(t, bound)
}

func TestSessionRepresentationRoundTrip(t *testing.T) {
	ctx := SessionContext{
		User:       "alice",
		Catalog:    "warehouse",
		Schema:     "public",
		Properties: map[string]string{"exchange_compression": "true"},
	}
	session := NewSession(NewQueryID(), ctx, nil).WithTransaction("txn-9")

	rebuilt := SessionFromRepresentation(session.Representation())
	require.Equal(t, session.QueryID(), rebuilt.QueryID())
	require.Equal(t, session.Identity().User, rebuilt.Identity().User)
	require.Equal(t, session.Catalog(), rebuilt.Catalog())
	require.Equal(t, "true", rebuilt.Property("exchange_compression"))

	id, bound := rebuilt.TransactionID()
	require.True(t, bound)
	require.Equal(t, TransactionID("txn-9"), id)
}

package graph

import (
	"context"
	"errors"
	"fmt"
)

// Client is the narrow surface the payment repository needs from a graph
// database.
type Client interface {
	ExecuteWrite(ctx context.Context, cypher string, params map[string]any) (Result, error)
	ExecuteRead(ctx context.Context, cypher string, params map[string]any) (Result, error)
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}

// Result is a simplified representation of a query response.
type Result struct {
	Records []Record
}

// Record groups key-value pairs returned from the graph engine.
type Record map[string]any

// Options configures a graph client implementation.
type Options struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
}

// ErrMissingURI indicates the graph URI is not provided.
var ErrMissingURI = errors.New("graph URI is required")

// SchemaStatements are the uniqueness constraints and indexes the payment
// graph relies on. They are idempotent.
var SchemaStatements = []string{
	"CREATE CONSTRAINT account_id IF NOT EXISTS FOR (a:Account) REQUIRE a.accountId IS UNIQUE",
	"CREATE CONSTRAINT payment_id IF NOT EXISTS FOR (t:Payment) REQUIRE t.transactionId IS UNIQUE",
	"CREATE CONSTRAINT payee_vpa IF NOT EXISTS FOR (p:Payee) REQUIRE p.vpa IS UNIQUE",
	"CREATE CONSTRAINT rule_name IF NOT EXISTS FOR (r:Rule) REQUIRE r.name IS UNIQUE",
	"CREATE INDEX payment_timestamp IF NOT EXISTS FOR (t:Payment) ON (t.timestampNs)",
	"CREATE INDEX payment_sender IF NOT EXISTS FOR (t:Payment) ON (t.senderId)",
}

// EnsureSchema applies SchemaStatements in order.
func EnsureSchema(ctx context.Context, client Client) error {
	for _, stmt := range SchemaStatements {
		if _, err := client.ExecuteWrite(ctx, stmt, nil); err != nil {
			return fmt.Errorf("apply schema %q: %w", stmt, err)
		}
	}
	return nil
}

// Package db instantiates the selected database backend for the store interface.
package db

import (
	"fmt"

	"github.com/chainward/gateway/lib/store"
	"github.com/chainward/gateway/lib/store/mongo"
	"github.com/chainward/gateway/lib/store/postgres"
)

// Database types available.
const (
	MONGODB  = "mongodb"
	POSTGRES = "postgres"
)

// New returns a connection to the specified database type.
func New(dbtype, conn string) (store.DB, error) {
	switch dbtype {
	case MONGODB:
		return mongo.New(conn)
	case POSTGRES:
		return postgres.New(conn)
	}

	return nil, fmt.Errorf("unknown database type %q", dbtype)
}

// Close closes the given database connection.
func Close(dbtype string, d store.DB) error {
	switch c := d.(type) {
	case *mongo.Mongo:
		return c.CloseMongo()
	case *postgres.Postgres:
		return c.ClosePostgres()
	}

	return nil
}

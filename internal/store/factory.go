package store

import (
	"fmt"

	"llmrouter/internal/storage"
)

// New creates the appropriate Store for the given storage backend.
func New(st storage.Storage) (Store, error) {
	switch st.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(st.SQLiteDB())

	case storage.TypePostgreSQL:
		pool := st.PostgreSQLPool()
		if pool == nil {
			return nil, fmt.Errorf("PostgreSQL pool is nil")
		}
		return NewPostgreSQLStore(pool)

	case storage.TypeMongoDB:
		db := st.MongoDatabase()
		if db == nil {
			return nil, fmt.Errorf("MongoDB database is nil")
		}
		return NewMongoDBStore(db)

	default:
		return nil, fmt.Errorf("unknown storage type: %s", st.Type())
	}
}

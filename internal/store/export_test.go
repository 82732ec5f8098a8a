package store

import "context"

// DropForTest removes what a test run created on a shared server.
func DropForTest(ctx context.Context, s Store) error {
	switch s := s.(type) {
	case *Mongo:
		return s.coll.Database().Drop(ctx)
	case *Postgres:
		_, err := s.pool.Exec(ctx, "drop table if exists tasks")
		return err
	}
	return nil
}

package helpers

import (
	"context"

	"github.com/onsi/gomega"

	"github.com/stacklok/record-sync/internal/record"
	"github.com/stacklok/record-sync/internal/seed"
	"github.com/stacklok/record-sync/internal/store"
	"github.com/stacklok/record-sync/internal/store/sqlite"
)

// SeedSQLite inserts count demo records into the SQLite file at path
func SeedSQLite(ctx context.Context, path string, count int) []record.Record {
	s, err := sqlite.New(ctx, path)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer s.Close()

	recs, err := seed.Load(ctx, s, count)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return recs
}

// InsertSQLite inserts one record into the SQLite file at path
func InsertSQLite(ctx context.Context, path string, fields record.Fields) record.Record {
	s, err := sqlite.New(ctx, path)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer s.Close()

	rec, err := s.Insert(ctx, fields)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return rec
}

// ReadSQLite returns every record of the SQLite file at path, by ascending ID
func ReadSQLite(ctx context.Context, path string) []record.Record {
	s, err := sqlite.New(ctx, path)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer s.Close()

	recs, err := s.Find(ctx, store.Query{Sort: store.SortIDAscending})
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return recs
}

// Names returns the name field of each record
func Names(recs []record.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		name, _ := r.Fields[seed.NameField].(string)
		out = append(out, name)
	}
	return out
}

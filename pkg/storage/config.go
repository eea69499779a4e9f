package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/levenlabs/go-lflag"
)

// provider is a Database that is set up from its own flags.
type provider interface {
	Database
	Validate() error
	Init(ctx context.Context) error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	providers := map[string]provider{
		"firestore": configuredFirestore(),
		"sqlite":    configuredSQLite(),
	}
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)

	name := lflag.String("storage-provider", "sqlite", "Storage provider to use (available: "+strings.Join(names, ", ")+")")

	var p struct{ Database }

	lflag.Do(func() {
		db, ok := providers[*name]
		if !ok {
			panic(fmt.Sprintf("unknown storage provider: %s", *name))
		}
		if err := db.Validate(); err != nil {
			panic(fmt.Sprintf("%s validation failed: %v", *name, err))
		}
		if err := db.Init(context.Background()); err != nil {
			panic(fmt.Sprintf("%s init failed: %v", *name, err))
		}
		p.Database = db
	})

	return &p
}

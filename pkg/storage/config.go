package storage

import (
	"context"
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, postgres, memory)")

	var p struct{ Database }

	fs := configuredFirestore()
	pg := configuredPostgres()
	mem := configuredMemory()

	lflag.Do(func() {
		var init interface {
			Database
			Validate() error
			Init(ctx context.Context) error
		}
		switch *provider {
		case "firestore":
			init = fs
		case "postgres":
			init = pg
		case "memory":
			init = mem
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
		if err := init.Validate(); err != nil {
			panic(fmt.Sprintf("%s validation failed: %v", *provider, err))
		}
		if err := init.Init(context.Background()); err != nil {
			panic(fmt.Sprintf("%s init failed: %v", *provider, err))
		}
		p.Database = init
	})

	return &p
}

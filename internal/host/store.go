package host

import (
	"fmt"
	"os"

	dbm "github.com/tendermint/tm-db"
)

const stateDBName = "carbon-state"

// OpenDB opens the contract state store. backend is a tm-db backend name
// ("memdb", "goleveldb"); dir is ignored for memdb.
func OpenDB(backend, dir string) (dbm.DB, error) {
	bt := dbm.BackendType(backend)
	if bt == "" {
		bt = dbm.GoLevelDBBackend
	}

	if bt != dbm.MemDBBackend {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	db, err := dbm.NewDB(stateDBName, bt, dir)
	if err != nil {
		return nil, fmt.Errorf("open state db (%s): %w", bt, err)
	}
	return db, nil
}

package main

import (
	"context"

	"outpost/pkg/store"
)

func initDB() {
	var err error
	db, err = store.Open(Config.DBDriver, Config.DBPath, Log)
	if err != nil {
		Log.Fatal().Err(err).Str("path", Config.DBPath).Msg("database open failed")
	}

	genesis, err := db.GenesisHash(context.Background())
	if err != nil {
		Log.Fatal().Err(err).Msg("genesis hash unavailable")
	}
	Log.Info().Str("driver", Config.DBDriver).Str("path", Config.DBPath).Str("genesis", genesis[:12]).Msg("database ready")
}

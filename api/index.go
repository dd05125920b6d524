package handler

import (
	"context"
	"net/http"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/app"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/config"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/logging"
)

var mux http.Handler

func init() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	// Note: On Vercel, db.sqlite is ephemeral unless using a remote SQL/Turso URL in DATABASE_URL
	a, err := app.New(context.Background(), cfg)
	if err != nil {
		panic(err)
	}

	// Clicks queued when the instance freezes are lost, which the recorder
	// already allows for. The expiry sweeper is not run here.
	go func() { _ = a.Recorder.Serve(context.Background()) }()

	mux = a.Handler
}

// Handler is the entrypoint for Vercel
func Handler(w http.ResponseWriter, r *http.Request) {
	mux.ServeHTTP(w, r)
}

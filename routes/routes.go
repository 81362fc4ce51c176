package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"github.com/marcus-crane/marquee/models"
	"github.com/marcus-crane/marquee/shared"
)

// Controller is the slice of the engine the HTTP surface is allowed to
// touch.
type Controller interface {
	Status() models.Status
	Stores(ctx context.Context) ([]models.StoreRef, error)
	SelectStore(ctx context.Context, id int64) (models.StoreRef, error)
	Logout(ctx context.Context) error
}

func renderJSONMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	res := map[string]string{"message": message}
	json.NewEncoder(w).Encode(res)
}

func renderJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.ResponseHTTP{Success: true, Data: data})
}

func Register(mux *http.ServeMux, ctl Controller, events http.Handler, allowedOrigins []string) http.Handler {

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "This is a Marquee signage player.\nYou can find the source code on <a href=\"https://github.com/marcus-crane/marquee\">Github</a>\n")
	})

	mux.HandleFunc("GET /api/v1", func(w http.ResponseWriter, r *http.Request) {
		renderJSONMessage(w, http.StatusOK, "This is the v1 endpoint of the Marquee API")
	})

	mux.HandleFunc("GET /api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		renderJSON(w, ctl.Status())
	})

	mux.HandleFunc("GET /api/v1/playing", func(w http.ResponseWriter, r *http.Request) {
		renderJSON(w, ctl.Status().NowShowing)
	})

	mux.HandleFunc("GET /api/v1/stores", func(w http.ResponseWriter, r *http.Request) {
		stores, err := ctl.Stores(r.Context())
		if err != nil {
			slog.Error("Failed to list stores", slog.String("error", err.Error()))
			renderJSONMessage(w, http.StatusBadGateway, "Stores could not be fetched right now")
			return
		}
		renderJSON(w, stores)
	})

	mux.HandleFunc("POST /api/v1/store", func(w http.ResponseWriter, r *http.Request) {
		qVal := r.URL.Query()
		if !qVal.Has("id") {
			renderJSONMessage(w, http.StatusBadRequest, "An ID did not appear to be provided")
			return
		}
		id, err := strconv.ParseInt(qVal.Get("id"), 10, 64)
		if err != nil {
			renderJSONMessage(w, http.StatusBadRequest, "Store IDs must be numeric")
			return
		}
		store, err := ctl.SelectStore(r.Context(), id)
		if errors.Is(err, shared.ErrUnknownStore) {
			renderJSONMessage(w, http.StatusNotFound, "That store does not exist")
			return
		}
		if err != nil {
			slog.Error("Failed to select store",
				slog.Int64("store_id", id),
				slog.String("error", err.Error()))
			renderJSONMessage(w, http.StatusBadGateway, "Something went wrong trying to select that store")
			return
		}
		renderJSON(w, store)
	})

	mux.HandleFunc("POST /api/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		err := ctl.Logout(r.Context())
		if errors.Is(err, shared.ErrNotPaired) {
			renderJSONMessage(w, http.StatusConflict, "This device is not paired")
			return
		}
		if err != nil {
			slog.Error("Failed to log out", slog.String("error", err.Error()))
			renderJSONMessage(w, http.StatusInternalServerError, "Something went wrong trying to log out")
			return
		}
		renderJSONMessage(w, http.StatusOK, "Device has been logged out")
	})

	mux.Handle("GET /events", events)

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Origin, Content-Type, Accept"},
	})

	handler := c.Handler(RateLimit(rate.Limit(10), 20, mux))

	return handler
}

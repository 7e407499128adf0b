package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"NetUnivMon/internal/config"
	"NetUnivMon/internal/query"

	"github.com/gorilla/mux"
)

// APIHandler serves historical queries against persisted snapshots.
type APIHandler struct {
	querier query.Querier
}

type aggregateRequest struct {
	TaskName string    `json:"task_name"`
	EndTime  time.Time `json:"end_time"`
}

type traceRequest struct {
	TaskName string            `json:"task_name"`
	FlowKeys map[string]string `json:"flow_keys"`
	EndTime  time.Time         `json:"end_time"`
}

func (h *APIHandler) aggregateFlowsHandler(w http.ResponseWriter, r *http.Request) {
	var req aggregateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	summaries, err := h.querier.AggregateFlows(r.Context(), req.TaskName, req.EndTime)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, summaries)
}

func (h *APIHandler) traceFlowHandler(w http.ResponseWriter, r *http.Request) {
	var req traceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.TaskName == "" {
		http.Error(w, "task_name is required", http.StatusBadRequest)
		return
	}

	lifecycle, err := h.querier.TraceFlow(r.Context(), req.TaskName, req.FlowKeys, req.EndTime)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, lifecycle)
}

func (h *APIHandler) heavyHittersHandler(w http.ResponseWriter, r *http.Request) {
	taskName := mux.Vars(r)["task"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	hitters, err := h.querier.QueryHeavyHitters(r.Context(), taskName, time.Time{}, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, hitters)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding API response: %v", err)
	}
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Find the first enabled ClickHouse writer config across both aggregator
	// families; exact and sketch snapshots land in the same database.
	var chCfg *config.ClickHouseConfig
	for _, writerDef := range cfg.Aggregator.Exact.Writers {
		if writerDef.Enabled && writerDef.Type == "clickhouse" {
			chCfg = &writerDef.ClickHouse
			break
		}
	}
	if chCfg == nil {
		for _, writerDef := range cfg.Aggregator.Sketch.Writers {
			if writerDef.Enabled && writerDef.Type == "clickhouse" {
				chCfg = &writerDef.ClickHouse
				break
			}
		}
	}
	if chCfg == nil {
		log.Fatalf("No enabled ClickHouse writer found in config. API server cannot start.")
	}

	querier, err := query.NewClickHouseQuerier(*chCfg)
	if err != nil {
		log.Fatalf("Failed to create querier: %v", err)
	}

	apiHandler := &APIHandler{querier: querier}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/aggregate", apiHandler.aggregateFlowsHandler).Methods("POST")
	r.HandleFunc("/api/v1/flows/trace", apiHandler.traceFlowHandler).Methods("POST")
	r.HandleFunc("/api/v1/heavy-hitters/{task}", apiHandler.heavyHittersHandler).Methods("GET")

	server := &http.Server{
		Addr:    cfg.API.QueryListenAddr,
		Handler: r,
	}

	go func() {
		log.Printf("Historical query API listening on %s", cfg.API.QueryListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)

	log.Println("Server exited.")
}

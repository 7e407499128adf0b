// Package api serves live queries against the engine's running tasks:
// frequency estimates, heavy hitters and G-sum evaluations, straight from
// the in-memory sketches rather than from persisted snapshots.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"

	"NetUnivMon/internal/engine/impl/sketch"
	"NetUnivMon/internal/engine/impl/sketch/statistic"
	"NetUnivMon/internal/model"

	"github.com/gorilla/mux"
)

// Server exposes the live query HTTP API over a set of running tasks.
type Server struct {
	tasks map[string]model.Task
}

// NewServer creates a live query server over tasks.
func NewServer(tasks []model.Task) *Server {
	byName := make(map[string]model.Task, len(tasks))
	for _, t := range tasks {
		byName[t.Name()] = t
	}
	return &Server{tasks: byName}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/tasks", s.handleTasks).Methods("GET")
	v1.HandleFunc("/query/{task}", s.handleQuery).Methods("GET")
	v1.HandleFunc("/heavy-hitters/{task}", s.handleHeavyHitters).Methods("GET")
	v1.HandleFunc("/gsum/{task}/{fn}", s.handleGSum).Methods("GET")
	v1.HandleFunc("/status/{task}", s.handleStatus).Methods("GET")
	return r
}

type taskInfo struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	infos := make([]taskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		infos = append(infos, taskInfo{Name: t.Name(), Fields: t.Fields()})
	}
	writeJSON(w, infos)
}

// handleQuery answers GET /api/v1/query/{task}?SrcIP=10.0.0.1&DstPort=443.
// The query parameters must cover the task's configured flow fields.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	task, ok := s.tasks[mux.Vars(r)["task"]]
	if !ok {
		http.Error(w, "unknown task", http.StatusNotFound)
		return
	}
	querier, ok := task.(model.FlowQuerier)
	if !ok {
		http.Error(w, "task does not support live queries", http.StatusBadRequest)
		return
	}

	flow, err := encodeFlowFromParams(task.Fields(), r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]interface{}{
		"task":  task.Name(),
		"flow":  task.DecodeFlowFunc()(flow, task.Fields()),
		"count": querier.Query(flow),
	})
}

type heavyHitterJSON struct {
	Flow  string `json:"flow"`
	Count int64  `json:"count"`
}

func (s *Server) handleHeavyHitters(w http.ResponseWriter, r *http.Request) {
	task, ok := s.tasks[mux.Vars(r)["task"]]
	if !ok {
		http.Error(w, "unknown task", http.StatusNotFound)
		return
	}

	decode := task.DecodeFlowFunc()
	var out []heavyHitterJSON
	switch snapshot := task.Snapshot().(type) {
	case []statistic.HeavyRecord:
		for _, hh := range snapshot {
			out = append(out, heavyHitterJSON{Flow: decode(hh.Flow, task.Fields()), Count: hh.Count})
		}
	default:
		http.Error(w, fmt.Sprintf("task snapshot type %T does not carry heavy hitters", snapshot), http.StatusBadRequest)
		return
	}
	writeJSON(w, out)
}

func (s *Server) handleGSum(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	task, ok := s.tasks[vars["task"]]
	if !ok {
		http.Error(w, "unknown task", http.StatusNotFound)
		return
	}
	ev, ok := task.(model.GSumEvaluator)
	if !ok {
		http.Error(w, "task does not support gsum evaluation", http.StatusBadRequest)
		return
	}

	value, err := ev.GSum(vars["fn"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]interface{}{
		"task":  task.Name(),
		"fn":    vars["fn"],
		"value": value,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	task, ok := s.tasks[mux.Vars(r)["task"]]
	if !ok {
		http.Error(w, "unknown task", http.StatusNotFound)
		return
	}

	status := map[string]interface{}{"task": task.Name()}
	if v, ok := task.(interface{ IsValid() bool }); ok {
		status["valid"] = v.IsValid()
	}
	if sz, ok := task.(interface{ StorageSize() int }); ok {
		status["storage_bytes"] = sz.StorageSize()
	}
	writeJSON(w, status)
}

// encodeFlowFromParams builds an encoded flow key from URL query parameters.
func encodeFlowFromParams(fields []string, r *http.Request) ([]byte, error) {
	var ft model.FiveTuple
	for _, f := range fields {
		raw := r.URL.Query().Get(f)
		if raw == "" {
			return nil, fmt.Errorf("missing query parameter %q", f)
		}
		switch f {
		case "SrcIP", "DstIP":
			ip := net.ParseIP(raw)
			if ip == nil {
				return nil, fmt.Errorf("invalid IP %q for field %s", raw, f)
			}
			if f == "SrcIP" {
				ft.SrcIP = ip
			} else {
				ft.DstIP = ip
			}
		case "SrcPort", "DstPort":
			port, err := strconv.ParseUint(raw, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("invalid port %q for field %s", raw, f)
			}
			if f == "SrcPort" {
				ft.SrcPort = uint16(port)
			} else {
				ft.DstPort = uint16(port)
			}
		case "Protocol":
			proto, err := strconv.ParseUint(raw, 10, 8)
			if err != nil {
				return nil, fmt.Errorf("invalid protocol %q", raw)
			}
			ft.Protocol = uint8(proto)
		default:
			return nil, fmt.Errorf("unsupported field %q", f)
		}
	}

	buf := make([]byte, sketch.MaxFieldSize)
	offset := 0
	for _, f := range fields {
		offset = sketch.EncodeField(buf, offset, f, &ft)
	}
	return buf[:offset], nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding API response: %v", err)
	}
}

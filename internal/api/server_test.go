package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"NetUnivMon/internal/config"
	"NetUnivMon/internal/engine/impl/sketch"
	"NetUnivMon/internal/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	task, err := sketch.New(config.SketchTaskDef{
		Name:       "per_src_univ",
		SktType:    "univmon",
		FlowFields: []string{"SrcIP"},
		Epsilon:    0.1,
		Gamma:      0.05,
		TopK:       16,
		Alpha:      0.1,
		Precise:    true,
	})
	if err != nil {
		t.Fatalf("sketch.New: %v", err)
	}

	for i := 0; i < 1000; i++ {
		task.ProcessPacket(&model.PacketInfo{
			Length: 64,
			FiveTuple: model.FiveTuple{
				SrcIP:    []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff, 10, 0, 0, 1},
				DstIP:    []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff, 192, 0, 2, 1},
				SrcPort:  1234,
				DstPort:  80,
				Protocol: 6,
			},
		})
	}

	return NewServer([]model.Task{task})
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestTasksEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := get(t, srv, "/api/v1/tasks")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /tasks returned %d", rec.Code)
	}
	var infos []struct {
		Name   string   `json:"name"`
		Fields []string `json:"fields"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &infos); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "per_src_univ" {
		t.Fatalf("unexpected task list: %+v", infos)
	}
}

func TestQueryEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := get(t, srv, "/api/v1/query/per_src_univ?SrcIP=10.0.0.1")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /query returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Count int64 `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Count != 1000 {
		t.Fatalf("count = %d, want 1000", resp.Count)
	}

	if rec := get(t, srv, "/api/v1/query/per_src_univ"); rec.Code != http.StatusBadRequest {
		t.Fatalf("query without parameters returned %d, want 400", rec.Code)
	}
	if rec := get(t, srv, "/api/v1/query/nope?SrcIP=10.0.0.1"); rec.Code != http.StatusNotFound {
		t.Fatalf("query for unknown task returned %d, want 404", rec.Code)
	}
}

func TestHeavyHittersEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := get(t, srv, "/api/v1/heavy-hitters/per_src_univ")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /heavy-hitters returned %d", rec.Code)
	}
	var hhs []struct {
		Flow  string `json:"flow"`
		Count int64  `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &hhs); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(hhs) == 0 {
		t.Fatal("no heavy hitters returned for a dominated stream")
	}
	if hhs[0].Flow != "10.0.0.1" {
		t.Fatalf("top flow = %q, want 10.0.0.1", hhs[0].Flow)
	}
}

func TestGSumEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := get(t, srv, "/api/v1/gsum/per_src_univ/l1")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /gsum returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Value != 1000 {
		t.Fatalf("gsum(l1) = %v, want 1000", resp.Value)
	}

	if rec := get(t, srv, "/api/v1/gsum/per_src_univ/nope"); rec.Code != http.StatusBadRequest {
		t.Fatalf("gsum with unknown fn returned %d, want 400", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := get(t, srv, "/api/v1/status/per_src_univ")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /status returned %d", rec.Code)
	}
	var resp struct {
		Valid        bool `json:"valid"`
		StorageBytes int  `json:"storage_bytes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !resp.Valid {
		t.Fatal("live task reported as invalid")
	}
	if resp.StorageBytes <= 0 {
		t.Fatalf("storage_bytes = %d, want > 0", resp.StorageBytes)
	}
}

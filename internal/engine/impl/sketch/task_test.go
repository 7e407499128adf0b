package sketch

import (
	"fmt"
	"net"
	"slices"
	"testing"

	"NetUnivMon/internal/config"
	"NetUnivMon/internal/engine/impl/sketch/statistic"
	"NetUnivMon/internal/model"
)

func packetFromSrc(i int) *model.PacketInfo {
	return &model.PacketInfo{
		Length: 64,
		FiveTuple: model.FiveTuple{
			SrcIP:    net.IPv4(10, byte(i>>16), byte(i>>8), byte(i)).To16(),
			DstIP:    net.IPv4(192, 0, 2, 1).To16(),
			SrcPort:  12345,
			DstPort:  443,
			Protocol: 6,
		},
	}
}

func TestCountMinTaskTracksTopSources(t *testing.T) {
	task, err := New(config.SketchTaskDef{
		Name:           "per_src_flow",
		SktType:        "countmin",
		FlowFields:     []string{"SrcIP"},
		Width:          1 << 16,
		Depth:          3,
		CountThreshold: 100,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Source i gets 10*(21-i) packets, so sources 1 and 2 dominate.
	truth := make(map[string]int)
	for i := 1; i <= 20; i++ {
		n := 10 * (21 - i)
		for j := 0; j < n; j++ {
			task.ProcessPacket(packetFromSrc(i))
		}
		truth[net.IPv4(10, 0, 0, byte(i)).To16().String()] = n
	}

	topk, ok := task.Snapshot().([]statistic.HeavyRecord)
	if !ok {
		t.Fatalf("Snapshot returned %T, want []statistic.HeavyRecord", task.Snapshot())
	}
	if len(topk) == 0 {
		t.Fatal("no heavy hitters reported")
	}
	if got := net.IP(topk[0].Flow).String(); got != "10.0.0.1" {
		t.Fatalf("top source = %s, want 10.0.0.1", got)
	}

	// Query should be close to the truth for every tracked source.
	q, ok := task.(model.FlowQuerier)
	if !ok {
		t.Fatal("sketch task does not implement FlowQuerier")
	}
	for i := 1; i <= 20; i++ {
		flow := net.IPv4(10, 0, 0, byte(i)).To16()
		want := int64(truth[flow.String()])
		got := q.Query(flow)
		if got < want || got > want+10 {
			t.Errorf("Query(10.0.0.%d) = %d, want about %d", i, got, want)
		}
	}
}

func TestUnivMonTaskEndToEnd(t *testing.T) {
	task, err := New(config.SketchTaskDef{
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
		t.Fatalf("New: %v", err)
	}

	// One dominant source over light background.
	for i := 0; i < 5000; i++ {
		task.ProcessPacket(packetFromSrc(1))
	}
	for i := 100; i < 300; i++ {
		task.ProcessPacket(packetFromSrc(i))
	}

	q := task.(model.FlowQuerier)
	dominant := net.IPv4(10, 0, 0, 1).To16()
	got := q.Query(dominant)
	if got < 4500 || got > 5500 {
		t.Fatalf("Query(dominant) = %d, want close to 5000", got)
	}

	topk := task.Snapshot().([]statistic.HeavyRecord)
	foundDominant := false
	for _, hh := range topk {
		if net.IP(hh.Flow).Equal(dominant) {
			foundDominant = true
		}
	}
	if !foundDominant {
		t.Fatal("dominant source missing from univmon heavy hitters")
	}

	// Live G-sum queries through the task surface.
	ev, ok := task.(model.GSumEvaluator)
	if !ok {
		t.Fatal("univmon task does not implement GSumEvaluator")
	}
	l1, err := ev.GSum("l1")
	if err != nil {
		t.Fatalf("GSum(l1): %v", err)
	}
	if l1 < 2000 || l1 > 12000 {
		t.Fatalf("GSum(l1) = %.0f, want in the ballpark of the 5200 ingested packets", l1)
	}

	task.Reset()
	if got := q.Query(dominant); got != 0 {
		t.Fatalf("Query after Reset = %d, want 0", got)
	}
}

func TestUnivMonTaskAlerterMsg(t *testing.T) {
	task, err := New(config.SketchTaskDef{
		Name:       "alert_univ",
		SktType:    "univmon",
		FlowFields: []string{"SrcIP"},
		Epsilon:    0.1,
		Gamma:      0.05,
		TopK:       16,
		Alpha:      0.1,
		Precise:    true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 3000; i++ {
		task.ProcessPacket(packetFromSrc(1))
	}

	rules := []config.AlerterRule{{
		Name:      "big-talker",
		TaskName:  "alert_univ",
		Metric:    "heavy_hitter_count",
		Operator:  ">",
		Threshold: 1000,
	}}
	msg := task.AlerterMsg(rules)
	if msg == "" {
		t.Fatal("AlerterMsg returned nothing for a triggered rule")
	}

	// Rules for other tasks must not fire.
	other := []config.AlerterRule{{
		Name:      "other",
		TaskName:  "some_other_task",
		Metric:    "heavy_hitter_count",
		Operator:  ">",
		Threshold: 0,
	}}
	if msg := task.AlerterMsg(other); msg != "" {
		t.Fatalf("AlerterMsg fired for a rule bound to another task: %q", msg)
	}
}

func TestTaskRejectsUnknownSketchType(t *testing.T) {
	_, err := New(config.SketchTaskDef{
		Name:       "bad",
		SktType:    "bloom",
		FlowFields: []string{"SrcIP"},
	})
	if err == nil {
		t.Fatal("New accepted an unknown sketch type")
	}
}

func TestDecodeFlowRoundTrip(t *testing.T) {
	task, err := New(config.SketchTaskDef{
		Name:           "five_tuple",
		SktType:        "countmin",
		FlowFields:     []string{"SrcIP", "DstIP", "SrcPort", "DstPort", "Protocol"},
		Width:          1 << 12,
		Depth:          3,
		CountThreshold: 1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ft := &model.FiveTuple{
		SrcIP:    net.ParseIP("10.1.2.3"),
		DstIP:    net.ParseIP("192.0.2.99"),
		SrcPort:  5353,
		DstPort:  53,
		Protocol: 17,
	}
	buf := make([]byte, MaxFieldSize)
	offset := 0
	for _, f := range task.Fields() {
		offset = EncodeField(buf, offset, f, ft)
	}
	if offset != 37 {
		t.Fatalf("encoded five-tuple is %d bytes, want 37", offset)
	}

	decoded := task.DecodeFlowFunc()(buf[:offset], task.Fields())
	want := fmt.Sprintf("%s %s %d %d %d", ft.SrcIP, ft.DstIP, ft.SrcPort, ft.DstPort, ft.Protocol)
	if decoded != want {
		t.Fatalf("DecodeFlow = %q, want %q", decoded, want)
	}

	if got := task.DecodeFlowFunc()([]byte{1, 2, 3}, task.Fields()); got != "010203" {
		t.Fatalf("DecodeFlow of a non-decodable key = %q, want hex fallback", got)
	}
}

func TestTaskSlices(t *testing.T) {
	// Heavy hitter output must stay sorted by count for the writers.
	task, err := New(config.SketchTaskDef{
		Name:           "sorted",
		SktType:        "countmin",
		FlowFields:     []string{"SrcIP"},
		Width:          1 << 14,
		Depth:          3,
		CountThreshold: 10,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 1; i <= 5; i++ {
		for j := 0; j < i*100; j++ {
			task.ProcessPacket(packetFromSrc(i))
		}
	}
	topk := task.Snapshot().([]statistic.HeavyRecord)
	if !slices.IsSortedFunc(topk, func(a, b statistic.HeavyRecord) int {
		return int(b.Count - a.Count)
	}) {
		t.Fatal("heavy hitters are not sorted by count descending")
	}
}

package sketch

import (
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"NetUnivMon/internal/config"
	"NetUnivMon/internal/engine/impl/sketch/statistic"
	"NetUnivMon/internal/factory"
	"NetUnivMon/internal/model"
)

// --- Factory Registration ---

func init() {
	factory.RegisterAggregator("sketch", func(cfg *config.Config) (*factory.TaskGroup, error) {
		sketchCfg := cfg.Aggregator.Sketch

		// Create all enabled writers for this aggregator group
		writers := make([]model.Writer, 0, len(sketchCfg.Writers))
		for _, writerDef := range sketchCfg.Writers {
			if !writerDef.Enabled {
				continue
			}

			interval, err := time.ParseDuration(writerDef.SnapshotInterval)
			if err != nil {
				log.Printf("Warning: invalid snapshot_interval for writer type '%s': %v, skipping.", writerDef.Type, err)
				continue
			}

			var writer model.Writer
			switch writerDef.Type {
			case "text":
				writer = NewTextWriter(writerDef.Text.RootPath, interval)
				log.Printf("Text writer created at %s", writerDef.Text.RootPath)
			case "clickhouse":
				writer, err = NewClickHouseWriter(writerDef.ClickHouse, interval)
				if err != nil {
					log.Printf("Warning: failed to create writer type '%s': %v, skipping.", writerDef.Type, err)
					continue
				}
				log.Printf("ClickHouse writer created for database %s at %s:%d", writerDef.ClickHouse.Database, writerDef.ClickHouse.Host, writerDef.ClickHouse.Port)
			default:
				log.Printf("Warning: unknown writer type '%s' in sketch aggregator config, skipping.", writerDef.Type)
				continue
			}
			writers = append(writers, writer)
		}

		// Create all tasks for this aggregator group
		tasks := make([]model.Task, len(sketchCfg.Tasks))
		for i, taskCfg := range sketchCfg.Tasks {
			task, err := New(taskCfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create sketch task '%s': %w", taskCfg.Name, err)
			}
			tasks[i] = task
		}

		return &factory.TaskGroup{Tasks: tasks, Writers: writers}, nil
	})
}

// --- Task Implementation ---

const (
	IPv6ByteSize  = 16
	PortByteSize  = 2
	ProtoByteSize = 1

	MaxFieldSize = 37 // IPv6(16) + IPv6(16) + Port(2) + Port(2) + Proto(1) = 37
)

var flowPool = sync.Pool{
	New: func() any {
		return make([]byte, MaxFieldSize)
	},
}

// Task runs one sketch over a configured flow key.
type Task struct {
	name string
	// flow key fields
	flowFields []string
	// the byte size of flow key
	flowSize uint32
	// data
	sketch statistic.Sketch
}

// New creates a new sketch task based on the provided configuration.
func New(cfg config.SketchTaskDef) (model.Task, error) {
	flowSize := uint32(0)
	for _, f := range cfg.FlowFields {
		flowSize += fieldByteSize(f)
	}
	if flowSize == 0 {
		return nil, fmt.Errorf("task '%s' has no recognized flow fields %v", cfg.Name, cfg.FlowFields)
	}

	var sketchImpl statistic.Sketch
	switch cfg.SktType {
	case "countmin":
		log.Printf("Creating CountMin sketch '%s' for flow fields %v (bytes %d) with width %d, depth %d, threshold %d",
			cfg.Name, cfg.FlowFields, flowSize, cfg.Width, cfg.Depth, cfg.CountThreshold)
		sketchImpl = statistic.NewCountMin(cfg.Width, cfg.Depth, cfg.CountThreshold, flowSize)
	case "univmon":
		log.Printf("Creating UnivMon sketch '%s' for flow fields %v (bytes %d, %d layers) with eps %.4f, gamma %.4f, topk %d, alpha %.2f, precise %t",
			cfg.Name, cfg.FlowFields, flowSize, 8*flowSize, cfg.Epsilon, cfg.Gamma, cfg.TopK, cfg.Alpha, cfg.Precise)
		um, err := statistic.NewUnivMon(cfg.Epsilon, cfg.Gamma, cfg.TopK, cfg.Alpha, int(flowSize), cfg.Precise)
		if err != nil {
			return nil, err
		}
		sketchImpl = um
	default:
		return nil, fmt.Errorf("unknown sketch type '%s' for task '%s'", cfg.SktType, cfg.Name)
	}

	return &Task{
		name:       cfg.Name,
		flowFields: cfg.FlowFields,
		flowSize:   flowSize,
		sketch:     sketchImpl,
	}, nil
}

// Name returns the name of the task.
func (t *Task) Name() string {
	return t.name
}

// Fields returns the flow key fields.
func (t *Task) Fields() []string {
	return t.flowFields
}

// DecodeFlowFunc returns the decoder for this task's flow keys.
func (t *Task) DecodeFlowFunc() func(flow []byte, fields []string) string {
	return t.DecodeFlow
}

// ProcessPacket feeds a single packet's flow key into the sketch.
func (t *Task) ProcessPacket(packetInfo *model.PacketInfo) {
	flow := flowPool.Get().([]byte)[:t.flowSize]
	defer flowPool.Put(flow)

	t.encodeFlow(flow, &packetInfo.FiveTuple)
	t.sketch.Insert(flow)
}

// Query returns the sketch's estimate for an encoded flow key.
func (t *Task) Query(flow []byte) int64 {
	return t.sketch.Query(flow)
}

// GSum evaluates a named function over the frequency distribution, if this
// task's sketch supports it.
func (t *Task) GSum(fn string) (float64, error) {
	um, ok := t.sketch.(*statistic.UnivMon)
	if !ok {
		return 0, fmt.Errorf("task '%s' does not support gsum evaluation", t.name)
	}
	return um.GSum(fn)
}

// StorageSize reports the sketch footprint in bytes, when the backend
// tracks it.
func (t *Task) StorageSize() int {
	if um, ok := t.sketch.(*statistic.UnivMon); ok {
		return um.StorageSize()
	}
	return 0
}

// IsValid reports whether the backend sketch is still live.
func (t *Task) IsValid() bool {
	if um, ok := t.sketch.(*statistic.UnivMon); ok {
		return um.IsValid()
	}
	return true
}

// Snapshot returns the current heavy hitters.
func (t *Task) Snapshot() any {
	return t.sketch.HeavyHitters()
}

// Reset clears the internal state of the task, preparing for a new measurement period.
func (t *Task) Reset() {
	t.sketch.Reset()
}

// AlerterMsg evaluates the given rules against the current heavy hitters and
// renders the triggered ones as an HTML fragment for the notifier.
func (t *Task) AlerterMsg(rules []config.AlerterRule) string {
	heavyHitters, ok := t.Snapshot().([]statistic.HeavyRecord)
	if !ok {
		log.Printf("ERROR: AlerterMsg in sketch task received unexpected snapshot type: %T", t.Snapshot())
		return ""
	}

	var triggeredMessages []string

	for _, rule := range rules {
		if rule.TaskName != t.name || rule.Metric != "heavy_hitter_count" {
			continue
		}

		var hitters []string
		for _, hitter := range heavyHitters {
			if check(float64(hitter.Count), rule.Threshold, rule.Operator) {
				hitters = append(hitters, fmt.Sprintf("<tr><td><code>%s</code></td><td>%d</td></tr>", t.DecodeFlow(hitter.Flow, t.flowFields), hitter.Count))
			}
		}

		if len(hitters) > 0 {
			itemsTable := fmt.Sprintf("<table border=\"1\" cellpadding=\"5\" cellspacing=\"0\">"+
				"<tr><th>Flow</th><th>Count</th></tr>%s</table>", strings.Join(hitters, ""))

			msg := fmt.Sprintf("<h3>Alert: %s</h3>"+
				"<ul>"+
				"<li><b>Task:</b> <code>%s</code></li>"+
				"<li><b>Metric:</b> <code>%s</code></li>"+
				"<li><b>Condition:</b> <code>%s %.2f</code></li>"+
				"</ul>"+
				"<p><b>Triggering Items:</b></p>%s",
				rule.Name, rule.TaskName, rule.Metric, rule.Operator, rule.Threshold, itemsTable)
			triggeredMessages = append(triggeredMessages, msg)
		}
	}

	return strings.Join(triggeredMessages, "<br><hr><br>")
}

// check compares a value against a threshold based on an operator.
func check(value, threshold float64, operator string) bool {
	switch operator {
	case ">":
		return value > threshold
	case "<":
		return value < threshold
	case "=":
		return value == threshold
	case ">=":
		return value >= threshold
	case "<=":
		return value <= threshold
	default:
		log.Printf("Warning: unknown operator '%s' in alerter rule", operator)
		return false
	}
}

// encodeFlow packs the configured fields of the 5-tuple into buf.
func (t *Task) encodeFlow(buf []byte, ft *model.FiveTuple) {
	offset := 0
	for _, f := range t.flowFields {
		offset = EncodeField(buf, offset, f, ft)
	}
}

// EncodeField appends one 5-tuple field to buf at offset and returns the new
// offset.
func EncodeField(buf []byte, offset int, field string, ft *model.FiveTuple) int {
	switch field {
	case "SrcIP":
		copy(buf[offset:], ft.SrcIP.To16())
		offset += IPv6ByteSize
	case "DstIP":
		copy(buf[offset:], ft.DstIP.To16())
		offset += IPv6ByteSize
	case "SrcPort":
		binary.BigEndian.PutUint16(buf[offset:], ft.SrcPort)
		offset += PortByteSize
	case "DstPort":
		binary.BigEndian.PutUint16(buf[offset:], ft.DstPort)
		offset += PortByteSize
	case "Protocol":
		buf[offset] = ft.Protocol
		offset += ProtoByteSize
	}
	return offset
}

// DecodeFlow renders an encoded flow key back into a readable string. Keys
// that are not field-decodable (e.g. a bare univmon key hash) come out as
// hex.
func (t *Task) DecodeFlow(flow []byte, fields []string) string {
	if int(t.flowSize) != len(flow) {
		return fmt.Sprintf("%x", flow)
	}

	var parts []string
	offset := 0

	for _, f := range fields {
		switch f {
		case "SrcIP", "DstIP":
			ip := net.IP(flow[offset : offset+IPv6ByteSize])
			parts = append(parts, ip.String())
			offset += IPv6ByteSize
		case "SrcPort", "DstPort":
			port := binary.BigEndian.Uint16(flow[offset : offset+PortByteSize])
			parts = append(parts, strconv.Itoa(int(port)))
			offset += PortByteSize
		case "Protocol":
			proto := flow[offset]
			parts = append(parts, strconv.Itoa(int(proto)))
			offset += ProtoByteSize
		}
	}

	return strings.Join(parts, " ")
}

func fieldByteSize(field string) uint32 {
	switch field {
	case "SrcIP", "DstIP":
		return IPv6ByteSize
	case "SrcPort", "DstPort":
		return PortByteSize
	case "Protocol":
		return ProtoByteSize
	default:
		return 0
	}
}

// Package analysis summarises a telemetry stream: per-source delivery,
// estimated loss and delay.
package analysis

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

const (
	rowMarker = "CSV,"
	numFields = 10
)

// txMarkers match a sensor send line in the simulator log and in the
// text and JSON slog output of a meshtel sensor.
var txMarkers = []string{"tx to ", "msg=tx ", `"msg":"tx"`}

func isTxLine(line string) bool {
	for _, m := range txMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// SourceStats aggregates the rows of one source address.
type SourceStats struct {
	Source    string  `yaml:"source"`
	Received  uint64  `yaml:"received"` // Rows, decoded or not
	Malformed uint64  `yaml:"malformed"`
	Lost      uint64  `yaml:"lost"` // Sum of gap estimates
	LossRate  float64 `yaml:"loss_rate"`
	LastSeq   uint32  `yaml:"last_seq"`
	MinDelay  uint32  `yaml:"min_delay_ticks"`
	AvgDelay  float64 `yaml:"avg_delay_ticks"`
	MaxDelay  uint32  `yaml:"max_delay_ticks"`

	decoded  uint64
	delaySum uint64
}

// Report is the result of Analyze.
type Report struct {
	TxCount   uint64         `yaml:"tx_count"` // Sensor transmit log lines
	RxCount   uint64         `yaml:"rx_count"` // Telemetry event rows
	Malformed uint64         `yaml:"malformed"`
	Lost      uint64         `yaml:"lost"`
	LossRate  float64        `yaml:"loss_rate"`
	Invalid   uint64         `yaml:"invalid_rows"` // Rows that could not be parsed
	Sources   []*SourceStats `yaml:"sources"`
}

// Analyze reads a telemetry stream. Lines may carry arbitrary text before
// the row marker, as simulator logs do; lines without it are ignored except
// for counting sensor transmit lines.
func Analyze(r io.Reader) (*Report, error) {
	rep := &Report{}
	bySource := make(map[string]*SourceStats)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()

		idx := strings.Index(line, rowMarker)
		if idx < 0 {
			if isTxLine(line) {
				rep.TxCount++
			}
			continue
		}

		fields, err := parseRow(line[idx:])
		if err != nil {
			rep.Invalid++
			continue
		}
		if fields[1] != "RX" {
			// Header row.
			continue
		}
		if err := rep.add(bySource, fields); err != nil {
			rep.Invalid++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read telemetry: %w", err)
	}

	rep.Sources = make([]*SourceStats, 0, len(bySource))
	for _, s := range bySource {
		s.finish()
		rep.Sources = append(rep.Sources, s)
	}
	slices.SortFunc(rep.Sources, func(a, b *SourceStats) int {
		return strings.Compare(a.Source, b.Source)
	})
	rep.LossRate = lossRate(rep.RxCount-rep.Malformed, rep.Lost)
	return rep, nil
}

func parseRow(s string) ([]string, error) {
	cr := csv.NewReader(strings.NewReader(s))
	cr.FieldsPerRecord = numFields
	return cr.Read()
}

func (rep *Report) add(bySource map[string]*SourceStats, f []string) error {
	src := f[2]
	recv := func() {
		s, ok := bySource[src]
		if !ok {
			s = &SourceStats{Source: src, MinDelay: math.MaxUint32}
			bySource[src] = s
		}
		s.Received++
		rep.RxCount++
	}

	if f[4] == "NA" {
		recv()
		bySource[src].Malformed++
		rep.Malformed++
		return nil
	}

	seq, err := strconv.ParseUint(f[4], 10, 32)
	if err != nil {
		return err
	}
	delay, err := strconv.ParseUint(f[7], 10, 32)
	if err != nil {
		return err
	}
	gap, err := strconv.ParseUint(f[9], 10, 32)
	if err != nil {
		return err
	}

	recv()
	s := bySource[src]
	s.decoded++
	s.LastSeq = uint32(seq)
	s.Lost += gap
	s.delaySum += delay
	s.MinDelay = min(s.MinDelay, uint32(delay))
	s.MaxDelay = max(s.MaxDelay, uint32(delay))
	rep.Lost += gap
	return nil
}

func (s *SourceStats) finish() {
	if s.decoded == 0 {
		s.MinDelay = 0
		return
	}
	s.AvgDelay = float64(s.delaySum) / float64(s.decoded)
	s.LossRate = lossRate(s.decoded, s.Lost)
}

// lossRate is lost / (delivered + lost).
func lossRate(delivered, lost uint64) float64 {
	if delivered+lost == 0 {
		return 0
	}
	return float64(lost) / float64(delivered+lost)
}

// WriteText renders the report as an aligned table.
func (rep *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tRECEIVED\tMALFORMED\tLOST\tLOSS\tLAST_SEQ\tMIN_DELAY\tAVG_DELAY\tMAX_DELAY")
	for _, s := range rep.Sources {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.2f%%\t%d\t%d\t%.1f\t%d\n",
			s.Source, s.Received, s.Malformed, s.Lost, s.LossRate*100,
			s.LastSeq, s.MinDelay, s.AvgDelay, s.MaxDelay)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\ntx_count=%d rx_count=%d malformed=%d lost=%d loss=%.2f%% invalid=%d\n",
		rep.TxCount, rep.RxCount, rep.Malformed, rep.Lost, rep.LossRate*100, rep.Invalid)
	return err
}

// WriteYAML renders the report as YAML.
func (rep *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rep); err != nil {
		return err
	}
	return enc.Close()
}

package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Header is the expected column layout of the long-format input.
var Header = []string{"subject_id", "predictor", "response"}

// ReadCSV reads a long-format table with one observation per row. The first
// row must name the columns (in any order); an empty or "NA" response is
// missing.
func ReadCSV(
	r io.Reader,
) (
	*Table, error,
) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	head, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("data: empty input")
		}
		return nil, fmt.Errorf("data: reading header: %w", err)
	}
	col := make(map[string]int, len(head))
	for i, name := range head {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range Header {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("data: missing column %q", name)
		}
	}

	var obs []Observation
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("data: line %d: %w", line, err)
		}

		id, err := strconv.Atoi(strings.TrimSpace(row[col["subject_id"]]))
		if err != nil {
			return nil, fmt.Errorf("data: line %d: subject_id: %w", line, err)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(row[col["predictor"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("data: line %d: predictor: %w", line, err)
		}
		y, err := parseResponse(row[col["response"]])
		if err != nil {
			return nil, fmt.Errorf("data: line %d: response: %w", line, err)
		}
		obs = append(obs, Observation{SubjectID: id, Predictor: x, Response: y})
	}

	return NewTable(obs)
}

func parseResponse(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "NA") || strings.EqualFold(s, "NaN") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// WriteCSV writes t in the layout ReadCSV accepts.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, s := range t.Subjects() {
		for _, o := range s.Observations {
			resp := "NA"
			if !o.Missing() {
				resp = strconv.FormatFloat(o.Response, 'g', -1, 64)
			}
			row := []string{
				strconv.Itoa(o.SubjectID),
				strconv.FormatFloat(o.Predictor, 'g', -1, 64),
				resp,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

package transit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"
	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// Extraction holds the expressions used to pull fields out of upstream
// responses: JSONPath for JSON bodies, XPath for XML bodies. Empty expressions
// are skipped.
type Extraction struct {
	TravelTime   string `yaml:"travel_time"`
	Segments     string `yaml:"segments"`
	SegmentLines string `yaml:"segment_lines"`
	Error        string `yaml:"error"`
	StationID    string `yaml:"station_id"`
	StationName  string `yaml:"station_name"`
	StationX     string `yaml:"station_x"`
	StationY     string `yaml:"station_y"`
}

// DefaultJSONExtraction matches ODsay style JSON responses.
func DefaultJSONExtraction() Extraction {
	return Extraction{
		TravelTime:   "$.result.globalTravelTime",
		Segments:     "$.result.driveInfoSet.driveInfo",
		SegmentLines: "$.result.driveInfoSet.driveInfo[*].laneName",
		Error:        "$.error",
		StationID:    "$.result.station[0].stationID",
		StationName:  "$.result.station[0].stationName",
		StationX:     "$.result.station[0].x",
		StationY:     "$.result.station[0].y",
	}
}

// DefaultXMLExtraction matches ODsay style XML responses.
func DefaultXMLExtraction() Extraction {
	return Extraction{
		TravelTime:   "//result/globalTravelTime",
		Segments:     "//result/driveInfoSet/driveInfo",
		SegmentLines: "//result/driveInfoSet/driveInfo/laneName",
		Error:        "//error",
		StationID:    "//result/station[1]/stationID",
		StationName:  "//result/station[1]/stationName",
		StationX:     "//result/station[1]/x",
		StationY:     "//result/station[1]/y",
	}
}

type field int

const (
	fieldTravelTime field = iota
	fieldSegments
	fieldSegmentLines
	fieldError
	fieldStationID
	fieldStationName
	fieldStationX
	fieldStationY
)

func (e Extraction) fields() map[field]string {
	return map[field]string{
		fieldTravelTime:   e.TravelTime,
		fieldSegments:     e.Segments,
		fieldSegmentLines: e.SegmentLines,
		fieldError:        e.Error,
		fieldStationID:    e.StationID,
		fieldStationName:  e.StationName,
		fieldStationX:     e.StationX,
		fieldStationY:     e.StationY,
	}
}

// document is a parsed response body.
type document interface {
	// value returns the scalar at f, rendered as text.
	value(f field) (string, bool)
	// values returns every scalar matched by f.
	values(f field) []string
	// count returns how many nodes f matches.
	count(f field) int
}

type extractor interface {
	parse(body []byte) (document, error)
}

type jsonExtractor struct {
	exprs map[field]gval.Evaluable
}

func newJSONExtractor(e Extraction) (*jsonExtractor, error) {
	x := &jsonExtractor{exprs: make(map[field]gval.Evaluable)}
	for f, src := range e.fields() {
		if src == "" {
			continue
		}
		ev, err := jsonpath.New(src)
		if err != nil {
			return nil, fmt.Errorf("invalid JSONPath %q: %w", src, err)
		}
		x.exprs[f] = ev
	}
	return x, nil
}

func (x *jsonExtractor) parse(body []byte) (document, error) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &jsonDocument{exprs: x.exprs, data: data}, nil
}

type jsonDocument struct {
	exprs map[field]gval.Evaluable
	data  any
}

func (d *jsonDocument) get(f field) (any, bool) {
	ev, ok := d.exprs[f]
	if !ok {
		return nil, false
	}
	v, err := ev(context.Background(), d.data)
	if err != nil || v == nil {
		return nil, false
	}
	return v, true
}

func (d *jsonDocument) value(f field) (string, bool) {
	v, ok := d.get(f)
	if !ok {
		return "", false
	}
	if list, isList := v.([]any); isList && len(list) == 0 {
		return "", false
	}
	return jsonText(v), true
}

func (d *jsonDocument) values(f field) []string {
	v, ok := d.get(f)
	if !ok {
		return nil
	}
	list, isList := v.([]any)
	if !isList {
		return []string{jsonText(v)}
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, jsonText(item))
	}
	return out
}

func (d *jsonDocument) count(f field) int {
	v, ok := d.get(f)
	if !ok {
		return 0
	}
	if list, isList := v.([]any); isList {
		return len(list)
	}
	return 1
}

func jsonText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

type xmlExtractor struct {
	exprs map[field]*xpath.Expr
}

func newXMLExtractor(e Extraction) (*xmlExtractor, error) {
	x := &xmlExtractor{exprs: make(map[field]*xpath.Expr)}
	for f, src := range e.fields() {
		if src == "" {
			continue
		}
		expr, err := xpath.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("invalid XPath %q: %w", src, err)
		}
		x.exprs[f] = expr
	}
	return x, nil
}

func (x *xmlExtractor) parse(body []byte) (document, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}
	return &xmlDocument{exprs: x.exprs, root: doc}, nil
}

type xmlDocument struct {
	exprs map[field]*xpath.Expr
	root  *xmlquery.Node
}

func (d *xmlDocument) value(f field) (string, bool) {
	expr, ok := d.exprs[f]
	if !ok {
		return "", false
	}
	n := xmlquery.QuerySelector(d.root, expr)
	if n == nil {
		return "", false
	}
	return strings.TrimSpace(n.InnerText()), true
}

func (d *xmlDocument) values(f field) []string {
	expr, ok := d.exprs[f]
	if !ok {
		return nil
	}
	nodes := xmlquery.QuerySelectorAll(d.root, expr)
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, strings.TrimSpace(n.InnerText()))
	}
	return out
}

func (d *xmlDocument) count(f field) int {
	expr, ok := d.exprs[f]
	if !ok {
		return 0
	}
	return len(xmlquery.QuerySelectorAll(d.root, expr))
}

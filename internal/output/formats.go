package output

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/herd/internal/engine"
)

// OutputFormat represents the available result formats
type OutputFormat string

const (
	// FormatText is the human-readable summary
	FormatText OutputFormat = "text"
	// FormatJSON outputs in JSON format
	FormatJSON OutputFormat = "json"
	// FormatYAML outputs in YAML format
	FormatYAML OutputFormat = "yaml"
	// FormatJUnit reports each task as a test case (for CI/CD integration)
	FormatJUnit OutputFormat = "junit"
	// FormatHTML is a standalone report page
	FormatHTML OutputFormat = "html"
)

// ParseFormat parses a format name.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML, FormatJUnit, FormatHTML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "xml":
		return FormatJUnit, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected text, json, yaml, junit or html)", s)
	}
}

// FormatForPath picks the format from a file extension, defaulting to JSON.
func FormatForPath(path string) OutputFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".xml":
		return FormatJUnit
	case ".html", ".htm":
		return FormatHTML
	case ".txt":
		return FormatText
	default:
		return FormatJSON
	}
}

// FormatResult encodes result in format. Text output carries no colors.
func FormatResult(result *engine.Result, format OutputFormat) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(result, "", "  ")
	case FormatYAML:
		return formatYAML(result)
	case FormatJUnit:
		return formatJUnit(result)
	case FormatHTML:
		return formatHTML(result)
	case FormatText, "":
		var buf bytes.Buffer
		writeSummary(&buf, NoColorScheme(), result)
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// formatYAML reuses the JSON field names: JSON is valid YAML, so the JSON
// document is parsed into a node tree and re-emitted in block style.
func formatYAML(result *engine.Result) ([]byte, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	blockStyle(&node)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func blockStyle(n *yaml.Node) {
	if n.Kind == yaml.MappingNode || n.Kind == yaml.SequenceNode {
		n.Style = 0
	}
	if n.Kind == yaml.ScalarNode && n.Style == yaml.DoubleQuotedStyle {
		n.Style = 0
	}
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// JUnitTestSuites represents the root element containing all test suites
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite represents a JUnit test suite
type JUnitTestSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Time      float64         `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	TestCases []JUnitTestCase `xml:"testcase"`
	SystemOut string          `xml:"system-out,omitempty"`
}

// JUnitTestCase represents a JUnit test case
type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

// JUnitFailure represents a JUnit test failure
type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

// formatJUnit reports every task name as a test case that fails when any
// execution of it failed. A credential leak is reported as a suite error.
func formatJUnit(result *engine.Result) ([]byte, error) {
	suite := JUnitTestSuite{
		Name:      result.Name,
		Time:      result.Duration.Seconds(),
		Timestamp: result.StartTime.Format(time.RFC3339),
		SystemOut: fmt.Sprintf("run %s: %d sessions spawned, %d succeeded, %d failed",
			result.RunID, result.Sessions.Spawned, result.Sessions.Succeeded, result.Sessions.Failed),
	}
	if result.Error != "" {
		suite.Errors = 1
	}

	if result.Metrics != nil {
		for _, ts := range result.Metrics.Tasks {
			tc := JUnitTestCase{
				Name:      ts.Name,
				Classname: "herd." + result.Name,
				Time:      ts.Latency.Mean.Seconds(),
				SystemOut: fmt.Sprintf("%d ok, %d failed, p95 %s", ts.Success, ts.Failures, ts.Latency.P95),
			}
			if ts.Failures > 0 {
				tc.Failure = &JUnitFailure{
					Message: fmt.Sprintf("%d of %d executions failed", ts.Failures, ts.Count()),
					Type:    formatErrorKinds(ts.Errors),
					Content: ts.LastError,
				}
				suite.Failures++
			}
			suite.TestCases = append(suite.TestCases, tc)
		}
	}
	suite.Tests = len(suite.TestCases)

	out, err := xml.MarshalIndent(JUnitTestSuites{TestSuites: []JUnitTestSuite{suite}}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JUnit report: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// Package render formats inspect output for the imitatoes CLI.
//
// A TTY stdout defaults to table, anything else to json; --format always
// wins. --no-color applies to table output only.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/imitatoes/cli/tui"
)

// Format is an output format.
type Format string

const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// maxCell bounds free-text columns in slice tables.
const maxCell = 60

// ParseFormat parses a --format value. Empty means "pick a default".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatTable, FormatYAML, "":
		return f, nil
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer writes values in one format.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer builds a renderer from the --format and --no-color flags,
// writing to the app's writer.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	var out io.Writer = os.Stdout
	if c.App != nil && c.App.Writer != nil {
		out = c.App.Writer
	}
	if format == "" {
		format = FormatJSON
		if f, ok := out.(*os.File); ok && isTTY(f) {
			format = FormatTable
		}
	}
	return &Renderer{format: format, noColor: c.Bool("no-color"), out: out}, nil
}

// NewRendererWithWriter creates a renderer writing to out.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// Format reports the selected format.
func (r *Renderer) Format() Format { return r.format }

// Render writes data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		v := reflect.ValueOf(data)
		if v.Kind() == reflect.Slice {
			return r.sliceTable(v)
		}
		return r.recordTable(v)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// RenderTUI opens the interactive browser for viewType.
func (r *Renderer) RenderTUI(viewType string, data any) error {
	if !tui.IsTUISupported(viewType) {
		return fmt.Errorf("--tui is not supported for %s", viewType)
	}
	return tui.Run(viewType, data)
}

func (r *Renderer) sliceTable(v reflect.Value) error {
	if v.Len() == 0 {
		_, err := fmt.Fprintln(r.out, "(no results)")
		return err
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	first := indirect(v.Index(0))
	if first.Kind() != reflect.Struct {
		for i := 0; i < v.Len(); i++ {
			fmt.Fprintln(w, cell(v.Index(i), maxCell))
		}
		return w.Flush()
	}

	t := first.Type()
	headers := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		headers = append(headers, strings.ToUpper(fieldName(t.Field(i))))
	}
	fmt.Fprintln(w, strings.Join(headers, "\t"))

	for i := 0; i < v.Len(); i++ {
		row := indirect(v.Index(i))
		cells := make([]string, 0, row.NumField())
		for j := 0; j < row.NumField(); j++ {
			cells = append(cells, cell(row.Field(j), maxCell))
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	return w.Flush()
}

func (r *Renderer) recordTable(v reflect.Value) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	v = indirect(v)

	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			fmt.Fprintf(w, "%s:\t%s\n", fieldName(t.Field(i)), cell(v.Field(i), 0))
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			fmt.Fprintf(w, "%v:\t%s\n", iter.Key().Interface(), cell(iter.Value(), 0))
		}
	case reflect.Invalid:
	default:
		fmt.Fprintf(w, "%v\n", v.Interface())
	}
	return w.Flush()
}

func fieldName(f reflect.StructField) string {
	if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
		return name
	}
	return strings.ToLower(f.Name)
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// cell formats one value for a table. Newlines in prompts are shown as
// " | " so rows stay on one line; limit > 0 truncates.
func cell(v reflect.Value, limit int) string {
	v = indirect(v)
	if !v.IsValid() {
		return ""
	}

	var s string
	switch x := v.Interface().(type) {
	case time.Time:
		if x.IsZero() {
			return ""
		}
		s = x.Format(time.RFC3339)
	case json.RawMessage:
		s = string(x)
	case fmt.Stringer:
		s = x.String()
	case []byte:
		s = fmt.Sprintf("[%d bytes]", len(x))
	default:
		switch v.Kind() {
		case reflect.Slice, reflect.Array:
			if v.Len() == 0 {
				return "[]"
			}
			s = fmt.Sprintf("[%d items]", v.Len())
		case reflect.Map:
			if v.Len() == 0 {
				return "{}"
			}
			s = fmt.Sprintf("{%d keys}", v.Len())
		case reflect.Struct:
			s = "{...}"
		default:
			s = fmt.Sprintf("%v", x)
		}
	}

	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " | ")
	if limit > 0 && len(s) > limit {
		s = s[:limit-3] + "..."
	}
	return s
}

func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/shaiso/Harvester/internal/domain"
)

// TemplateData — данные для шаблонов URL и body запросов.
//
// Доступ в шаблонах:
//   - {{ .Entity }}, {{ .Date }}, {{ .DateCompact }}
//   - {{ .Definition }}, {{ .Params.metric }}
//   - {{ .SubEntity }}, {{ join "," .BatchIDs }}
//   - {{ .Token }}, {{ env "ADS_REGION" }}
type TemplateData struct {
	Entity      string
	Date        string
	DateCompact string
	Backfill    bool
	Definition  string
	Params      map[string]string
	SubEntity   string
	BatchIDs    []string
	Token       string
}

// NewTemplateData собирает данные из запроса.
func NewTemplateData(req Request) TemplateData {
	d := TemplateData{Params: map[string]string{}}
	if req.Unit != nil {
		d.Entity = req.Unit.EntityID
		d.Date = req.Unit.DateString()
		d.DateCompact = req.Unit.Date.Format("20060102")
		d.Backfill = req.Unit.Backfill
	}
	d.Definition = req.Definition.ID
	for k, v := range req.Definition.Params {
		d.Params[k] = v
	}
	if req.Task != nil {
		d.SubEntity = req.Task.SubEntityID
		d.BatchIDs = req.Task.BatchIDs
		d.Token = req.Task.Token
	}
	return d
}

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — возвращает значение по умолчанию, если второй аргумент пустой
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	"join":  func(sep string, items []string) string { return strings.Join(items, sep) },
	"lower": strings.ToLower,
	"upper": strings.ToUpper,
	"env":   os.Getenv,

	// addDays — сдвигает дату YYYY-MM-DD (окна атрибуции)
	"addDays": func(days int, date string) string {
		t, err := time.Parse(domain.DateLayout, date)
		if err != nil {
			return date
		}
		return t.AddDate(0, 0, days).Format(domain.DateLayout)
	},
}

// Render рендерит строковый шаблон.
// Строка без "{{" возвращается как есть.
func Render(tmpl string, data TemplateData) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: parse: %v", ErrTemplate, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: render: %v", ErrTemplate, err)
	}

	return buf.String(), nil
}

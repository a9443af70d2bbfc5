package delivery

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/osteele/liquid"

	"github.com/locallift/backend/internal/models"
)

const subjectTemplate = `Your LocalLift weekly report for {{ week }}`

const textTemplate = `Weekly engagement report for {{ week }} (week of {{ period_start }})

{% for m in metrics %}- {{ m.label }}: {{ m.current }} vs {{ m.previous }} ({{ m.change }}, {{ m.trend }})
{% endfor %}{% if metrics.size == 0 %}No engagement was recorded.
{% endif %}{% if insights.size > 0 %}
Insights:
{% for i in insights %}- {{ i }}
{% endfor %}{% endif %}{% if recommendations.size > 0 %}
Recommendations:
{% for r in recommendations %}- {{ r }}
{% endfor %}{% endif %}`

const htmlTemplate = `<h1>Weekly engagement report for {{ week | escape }}</h1>
<p>Week of {{ period_start | escape }}</p>
<table>
<tr><th>Metric</th><th>This week</th><th>Last week</th><th>Change</th><th>Trend</th></tr>
{% for m in metrics %}<tr><td>{{ m.label | escape }}</td><td>{{ m.current }}</td><td>{{ m.previous }}</td><td>{{ m.change | escape }}</td><td>{{ m.trend }}</td></tr>
{% endfor %}</table>
{% if insights.size > 0 %}<h2>Insights</h2>
<ul>{% for i in insights %}<li>{{ i | escape }}</li>{% endfor %}</ul>
{% endif %}{% if recommendations.size > 0 %}<h2>Recommendations</h2>
<ul>{% for r in recommendations %}<li>{{ r | escape }}</li>{% endfor %}</ul>
{% endif %}`

const shortTemplate = `LocalLift {{ week }}: {% for m in metrics limit:3 %}{{ m.label }} {{ m.current }} ({{ m.change }}){% unless forloop.last %}, {% endunless %}{% endfor %}{% if metrics.size == 0 %}no activity{% endif %}`

// Renderer turns reports into payloads using fixed Liquid templates.
type Renderer struct {
	subject *liquid.Template
	text    *liquid.Template
	html    *liquid.Template
	short   *liquid.Template
}

func NewRenderer() (*Renderer, error) {
	engine := liquid.NewEngine()
	r := &Renderer{}
	for _, t := range []struct {
		dst **liquid.Template
		src string
		nm  string
	}{
		{&r.subject, subjectTemplate, "subject"},
		{&r.text, textTemplate, "text"},
		{&r.html, htmlTemplate, "html"},
		{&r.short, shortTemplate, "short"},
	} {
		tpl, err := engine.ParseString(t.src)
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", t.nm, err)
		}
		*t.dst = tpl
	}
	return r, nil
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func bindings(r models.WeeklyReport) liquid.Bindings {
	metrics := make([]map[string]any, 0, len(r.Metrics))
	for _, m := range r.Metrics {
		metrics = append(metrics, map[string]any{
			"kind":     string(m.MetricKind),
			"label":    m.MetricKind.Label(),
			"current":  formatValue(m.CurrentValue),
			"previous": formatValue(m.PreviousValue),
			"change":   m.ChangePercentage.String(),
			"trend":    string(m.Trend),
		})
	}
	return liquid.Bindings{
		"report_id":       r.ID,
		"client_id":       r.ClientID,
		"week":            r.Week().String(),
		"period_start":    r.PeriodStart.Format("2006-01-02"),
		"metrics":         metrics,
		"insights":        orEmpty(r.Insights),
		"recommendations": orEmpty(r.Recommendations),
	}
}

func orEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// Render produces every representation of r. JSON is the report document.
func (rn *Renderer) Render(r models.WeeklyReport) (Payload, error) {
	b := bindings(r)
	p := Payload{ReportID: r.ID, ClientID: r.ClientID}
	for _, t := range []struct {
		tpl *liquid.Template
		dst *string
		nm  string
	}{
		{rn.subject, &p.Subject, "subject"},
		{rn.text, &p.Text, "text"},
		{rn.html, &p.HTML, "html"},
		{rn.short, &p.Short, "short"},
	} {
		out, err := t.tpl.RenderString(b)
		if err != nil {
			return Payload{}, fmt.Errorf("render %s for report %s: %w", t.nm, r.ID, err)
		}
		*t.dst = out
	}

	doc, err := json.Marshal(r)
	if err != nil {
		return Payload{}, err
	}
	p.JSON = doc
	return p, nil
}

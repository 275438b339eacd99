package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/flosch/pongo2/v6"

	"github.com/sophialabs/meetpoint/internal/domain/meeting"
)

// DefaultTemplate renders candidates best first with per-participant detail.
const DefaultTemplate = `{% autoescape off %}Meeting options for snapshot {{ snapshot }} ({{ status }})
{% if error %}Error: {{ error }}
{% endif %}Overall: {{ overview.time }} average, {{ overview.transfers }} transfers, {{ overview.reach }}, {{ overview.rating }}
{% if origins %}
Origins:
{% for o in origins %}  {{ o.participant }}: {{ o.detail }}
{% endfor %}{% endif %}
{% for c in candidates %}{{ forloop.Counter }}. {{ c.name }}: {{ c.time }} average, {{ c.transfers }} transfers, {{ c.reach }}, {{ c.rating }}
{% for o in c.outcomes %}   - {{ o.participant }}: {{ o.detail }}
{% endfor %}{% empty %}No candidates.
{% endfor %}{% endautoescape %}`

// Renderer turns meeting updates into a plain text report.
type Renderer struct {
	tpl *pongo2.Template
}

// NewRenderer compiles source. An empty source selects DefaultTemplate.
func NewRenderer(source string) (*Renderer, error) {
	if source == "" {
		source = DefaultTemplate
	}
	tpl, err := pongo2.FromString(source)
	if err != nil {
		return nil, fmt.Errorf("failed to compile report template: %w", err)
	}
	return &Renderer{tpl: tpl}, nil
}

// Render writes the report for u to w.
func (r *Renderer) Render(w io.Writer, u meeting.Update) error {
	if err := r.tpl.ExecuteWriter(templateContext(u), w); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

func templateContext(u meeting.Update) pongo2.Context {
	byID := make(map[int]int, len(u.Summaries))
	for i, s := range u.Summaries {
		byID[s.Candidate.StationID] = i
	}

	// Ranked order first, then anything the ranking left out.
	order := make([]int, 0, len(u.Summaries))
	seen := make(map[int]bool, len(u.Summaries))
	for _, id := range u.Ranking {
		if i, ok := byID[id]; ok && !seen[i] {
			order = append(order, i)
			seen[i] = true
		}
	}
	for i := range u.Summaries {
		if !seen[i] {
			order = append(order, i)
		}
	}

	candidates := make([]map[string]any, 0, len(order))
	for _, i := range order {
		s := u.Summaries[i]
		outcomes := make([]map[string]any, 0, len(s.Outcomes))
		for _, o := range s.Outcomes {
			outcomes = append(outcomes, map[string]any{
				"participant": o.Participant,
				"detail":      outcomeDetail(o),
			})
		}
		candidates = append(candidates, map[string]any{
			"name":      s.Candidate.Name,
			"time":      formatSeconds(s.AverageTravelTime),
			"transfers": formatCount(s.AverageTransferCount),
			"reach":     s.Reachability(),
			"rating":    s.Rating.String(),
			"outcomes":  outcomes,
		})
	}

	origins := make([]map[string]any, 0, len(u.Origins))
	for _, o := range u.Origins {
		detail := o.Error
		if o.Station != nil {
			detail = fmt.Sprintf("%s (%d)", o.Station.Name, o.Station.ID)
		}
		origins = append(origins, map[string]any{"participant": o.Participant, "detail": detail})
	}

	ov := u.Overview
	return pongo2.Context{
		"snapshot": u.SnapshotID,
		"status":   string(u.Status),
		"error":    u.Error,
		"overview": map[string]any{
			"time":      formatSeconds(ov.AverageTravelTime),
			"transfers": formatCount(ov.AverageTransferCount),
			"reach":     fmt.Sprintf("%d of %d reachable", ov.SuccessCount, ov.TotalCount),
			"rating":    ov.Rating.String(),
		},
		"candidates": candidates,
		"origins":    origins,
	}
}

func outcomeDetail(o meeting.Outcome) string {
	if !o.OK {
		return fmt.Sprintf("%s (%s)", o.Failure, o.Reason)
	}
	secs := o.TravelTimeSeconds
	detail := (time.Duration(secs) * time.Second).String()
	switch {
	case o.TransferCount < 0:
		return detail
	case o.TransferCount == 1:
		return detail + ", 1 transfer"
	default:
		return detail + ", " + strconv.Itoa(o.TransferCount) + " transfers"
	}
}

func formatSeconds(v *int) string {
	if v == nil {
		return "n/a"
	}
	return (time.Duration(*v) * time.Second).String()
}

func formatCount(v *int) string {
	if v == nil {
		return "n/a"
	}
	return strconv.Itoa(*v)
}

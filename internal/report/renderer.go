package report

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"statusflow/internal/config"
	"statusflow/internal/metrics"
)

type Renderer struct {
	Inliner   *Inliner
	Publisher Publisher
	Metrics   *metrics.Recorder
	Log       logrus.FieldLogger
}

type Result struct {
	HTML     string      `json:"html"`
	Stats    InlineStats `json:"stats"`
	Location string      `json:"location,omitempty"`
}

// NewRenderer wires an inliner and publisher from the report config. A nil
// logger discards output.
func NewRenderer(cfg config.ReportConfig, workspace string, log logrus.FieldLogger, m *metrics.Recorder) (*Renderer, error) {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	in, err := NewInliner(InlinerOptions{
		Timeout: cfg.FetchTimeout(),
		RPS:     cfg.FetchRPS,
		Burst:   cfg.FetchBurst,
		Logger:  log.WithField("component", "inliner"),
		Metrics: m,
	})
	if err != nil {
		return nil, err
	}
	pub, err := PublisherFromConfig(cfg, workspace)
	if err != nil {
		return nil, err
	}
	return &Renderer{Inliner: in, Publisher: pub, Metrics: m, Log: log}, nil
}

// Render turns r into a self-contained HTML document and publishes it when a
// publisher is configured.
func (rd *Renderer) Render(ctx context.Context, r StatusReport) (Result, error) {
	doc, err := r.HTML()
	if err != nil {
		rd.Metrics.ObserveRender("error", 0)
		return Result{}, err
	}
	name := r.ProjectID + "-" + r.ObjectType
	return rd.RenderHTML(ctx, name, doc)
}

// RenderHTML inlines the images of an existing document.
func (rd *Renderer) RenderHTML(ctx context.Context, name, doc string) (Result, error) {
	start := time.Now()
	out, stats, err := rd.Inliner.Inline(ctx, doc)
	if err != nil {
		rd.Metrics.ObserveRender("error", time.Since(start))
		return Result{}, err
	}
	res := Result{HTML: out, Stats: stats}
	if rd.Publisher != nil {
		loc, err := rd.Publisher.Publish(ctx, name, []byte(out))
		if err != nil {
			rd.Metrics.ObserveRender("error", time.Since(start))
			return res, err
		}
		res.Location = loc
	}
	rd.Metrics.ObserveRender("ok", time.Since(start))
	if rd.Log != nil {
		rd.Log.WithFields(logrus.Fields{
			"name":     name,
			"inlined":  stats.Inlined,
			"dropped":  stats.Dropped,
			"location": res.Location,
		}).Info("report rendered")
	}
	return res, nil
}

package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/time/rate"

	"statusflow/internal/metrics"
)

const maxFetchBytes = 32 << 20

type InlinerOptions struct {
	Timeout time.Duration
	RPS     float64
	Burst   int
	// BaseURL resolves relative src attributes. Relative sources are dropped
	// when it is empty.
	BaseURL string
	Client  *http.Client
	Logger  logrus.FieldLogger
	Metrics *metrics.Recorder
}

// Inliner rewrites every <img> in an HTML document into a self-contained
// data URI with its display size set. Images that cannot be decoded or
// fetched are removed from the document.
type Inliner struct {
	client  *http.Client
	limiter *rate.Limiter
	base    *url.URL
	log     logrus.FieldLogger
	metrics *metrics.Recorder
}

type InlineStats struct {
	Inlined int `json:"inlined"`
	Scaled  int `json:"scaled"`
	Dropped int `json:"dropped"`
}

func NewInliner(opts InlinerOptions) (*Inliner, error) {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	in := &Inliner{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
		metrics: opts.Metrics,
	}
	if opts.BaseURL != "" {
		u, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		in.base = u
	}
	return in, nil
}

// Inline parses doc, replaces image sources and returns the re-rendered
// document. Only a malformed document or a cancelled context is an error.
func (in *Inliner) Inline(ctx context.Context, doc string) (string, InlineStats, error) {
	var stats InlineStats
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", stats, fmt.Errorf("parse html: %w", err)
	}
	var imgs []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Img {
			imgs = append(imgs, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	for _, n := range imgs {
		if err := ctx.Err(); err != nil {
			return "", stats, err
		}
		src := attr(n, "src")
		source := "remote"
		if IsDataImage(src) {
			source = "data"
		}
		img, err := in.load(ctx, src)
		if err != nil {
			in.log.WithError(err).WithField("src", truncate(src, 80)).Warn("dropping image")
			in.metrics.ObserveImage(source, "dropped")
			n.Parent.RemoveChild(n)
			stats.Dropped++
			continue
		}
		cssW, cssH := cssSize(attr(n, "width")), cssSize(attr(n, "height"))
		w, h, clamped := scaleDimensions(img.Width, img.Height, cssW, cssH)
		if clamped {
			stats.Scaled++
		}
		setAttr(n, "src", img.DataURI())
		setAttr(n, "width", strconv.Itoa(w))
		setAttr(n, "height", strconv.Itoa(h))
		in.metrics.ObserveImage(source, "inlined")
		stats.Inlined++
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return "", stats, fmt.Errorf("render html: %w", err)
	}
	return buf.String(), stats, nil
}

func (in *Inliner) load(ctx context.Context, src string) (Image, error) {
	if strings.TrimSpace(src) == "" {
		return Image{}, fmt.Errorf("empty src")
	}
	if IsDataImage(src) {
		data, err := DecodeDataURI(src)
		if err != nil {
			return Image{}, err
		}
		return DecodeImage(data)
	}
	data, err := in.fetch(ctx, src)
	if err != nil {
		return Image{}, err
	}
	return DecodeImage(data)
}

func (in *Inliner) fetch(ctx context.Context, src string) ([]byte, error) {
	u, err := url.Parse(strings.TrimSpace(src))
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		if in.base == nil {
			return nil, fmt.Errorf("relative src without base url")
		}
		u = in.base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if err := in.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := in.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: status %d", u.Redacted(), resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxFetchBytes {
		return nil, fmt.Errorf("fetch %s: body exceeds %d bytes", u.Redacted(), maxFetchBytes)
	}
	return data, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// cssSize parses "120" or "120px"; anything else is unset (-1).
func cssSize(v string) int {
	v = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(v)), "px")
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return -1
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

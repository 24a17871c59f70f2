// CLAUDE:SUMMARY Chrome implementation of dom.Document: page-side handle registry driven through Rod Eval + JSON.
// Package cdp implements the dom.Document and raster.Rasterizer contracts
// on a live Chrome tab through Rod.
//
// Elements are kept in a page-side registry namespaced by the operation
// ID; Go only ever sees integer handles. Every call is one Eval returning
// JSON, the same way the profiler talks to the page.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/snapexport/snapexport/internal/dom"
)

// prelude opens every script: it resolves the registry of the operation
// and defines reg/get. Scripts receive (op, ...args).
const prelude = `async (op, ...args) => {
	const root = (window.__snapexport = window.__snapexport || {});
	const R = (root[op] = root[op] || {els: [], idx: new Map()});
	const reg = (el) => {
		let i = R.idx.get(el);
		if (i === undefined) {
			i = R.els.length;
			R.els.push(el);
			R.idx.set(el, i);
		}
		return i;
	};
	const get = (h) => {
		const el = R.els[h];
		if (!el) throw new Error('snapexport: stale handle ' + h);
		return el;
	};
`

const deniedMarker = "__snapexport_denied__"

// Document is a dom.Document backed by a Rod page.
type Document struct {
	page *rod.Page
	op   string
}

// NewDocument binds a page to one operation.
func NewDocument(page *rod.Page, op string) *Document {
	return &Document{page: page, op: op}
}

// Page returns the underlying Rod page.
func (d *Document) Page() *rod.Page { return d.page }

func (d *Document) eval(ctx context.Context, body string, args ...any) (*proto.RuntimeRemoteObject, error) {
	js := prelude + body + "\n}"
	res, err := d.page.Context(ctx).Eval(js, append([]any{d.op}, args...)...)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (d *Document) evalJSON(ctx context.Context, out any, body string, args ...any) error {
	res, err := d.eval(ctx, body, args...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), out); err != nil {
		return fmt.Errorf("cdp: decode: %w", err)
	}
	return nil
}

func (d *Document) Lookup(ctx context.Context, id string) (dom.Handle, error) {
	res, err := d.eval(ctx, `
	const el = document.getElementById(args[0]);
	return el ? reg(el) : -1;`, id)
	if err != nil {
		return 0, fmt.Errorf("cdp: lookup #%s: %w", id, err)
	}
	h := res.Value.Int()
	if h < 0 {
		return 0, fmt.Errorf("%w: #%s", dom.ErrNotFound, id)
	}
	return dom.Handle(h), nil
}

func (d *Document) Probe(ctx context.Context, anchor dom.Handle) ([]dom.Probe, error) {
	var out []dom.Probe
	err := d.evalJSON(ctx, &out, `
	const anchor = get(args[0]);
	const out = [];
	for (const el of document.querySelectorAll('*')) {
		const p = {handle: reg(el), tag: el.tagName.toLowerCase()};
		try {
			const cs = getComputedStyle(el);
			const o = parseFloat(cs.opacity);
			p.role = el.getAttribute('role') || '';
			p.classes = Array.from(el.classList || []);
			p.position = cs.position;
			p.z_index = cs.zIndex;
			p.opacity = isNaN(o) ? 1 : o;
			p.background = cs.backgroundColor;
			p.related = el === anchor || el.contains(anchor) || anchor.contains(el);
		} catch (e) {
			p.err = String(e);
		}
		out.push(p);
	}
	return JSON.stringify(out);`, int(anchor))
	if err != nil {
		return nil, fmt.Errorf("cdp: probe: %w", err)
	}
	return out, nil
}

func (d *Document) InlineStyle(ctx context.Context, h dom.Handle, props []string) (dom.Style, error) {
	var out dom.Style
	err := d.evalJSON(ctx, &out, `
	const el = get(args[0]);
	const s = {};
	for (const p of args[1]) {
		s[p] = {value: el.style.getPropertyValue(p), priority: el.style.getPropertyPriority(p)};
	}
	return JSON.stringify(s);`, int(h), props)
	if err != nil {
		return nil, fmt.Errorf("cdp: inline style %d: %w", h, err)
	}
	return out, nil
}

func (d *Document) SetInlineStyle(ctx context.Context, h dom.Handle, s dom.Style) error {
	_, err := d.eval(ctx, `
	const el = get(args[0]);
	for (const [p, d] of Object.entries(args[1])) {
		if (!d.value) el.style.removeProperty(p);
		else el.style.setProperty(p, d.value, d.priority || '');
	}
	return true;`, int(h), s)
	if err != nil {
		return fmt.Errorf("cdp: set inline style %d: %w", h, err)
	}
	return nil
}

func (d *Document) Rect(ctx context.Context, h dom.Handle) (dom.Rect, error) {
	var r dom.Rect
	err := d.evalJSON(ctx, &r, `
	const b = get(args[0]).getBoundingClientRect();
	return JSON.stringify({x: b.left + window.scrollX, y: b.top + window.scrollY, width: b.width, height: b.height});`, int(h))
	if err != nil {
		return dom.Rect{}, fmt.Errorf("cdp: rect %d: %w", h, err)
	}
	return r, nil
}

func (d *Document) Mount(ctx context.Context, target dom.Handle, container dom.Style) (dom.Mount, error) {
	var m dom.Mount
	err := d.evalJSON(ctx, &m, `
	const t = get(args[0]);
	const box = document.createElement('div');
	box.setAttribute('data-snapexport', op);
	for (const [p, d] of Object.entries(args[1])) box.style.setProperty(p, d.value, d.priority || '');
	const copy = t.cloneNode(true);
	const kind = (el) => {
		if (el instanceof HTMLCanvasElement) return 1;
		if (el instanceof SVGSVGElement && !(el.parentElement && el.parentElement.closest('svg'))) return 2;
		return 0;
	};
	const pairs = [];
	const walk = (a, b) => {
		pairs.push({original: reg(a), clone: reg(b), kind: kind(a)});
		for (let i = 0; i < a.children.length; i++) walk(a.children[i], b.children[i]);
	};
	walk(t, copy);
	box.appendChild(copy);
	document.body.appendChild(box);
	return JSON.stringify({container: reg(box), root: reg(copy), pairs: pairs});`, int(target), container)
	if err != nil {
		return dom.Mount{}, fmt.Errorf("cdp: mount %d: %w", target, err)
	}
	return m, nil
}

func (d *Document) Unmount(ctx context.Context, container dom.Handle) error {
	_, err := d.eval(ctx, `
	const el = get(args[0]);
	if (!el.isConnected) throw new Error('snapexport: container is not attached');
	el.remove();
	return true;`, int(container))
	if err != nil {
		return fmt.Errorf("cdp: unmount %d: %w", container, err)
	}
	return nil
}

func (d *Document) Computed(ctx context.Context, hs []dom.Handle, props []string) ([]map[string]string, error) {
	ids := make([]int, len(hs))
	for i, h := range hs {
		ids[i] = int(h)
	}
	var out []map[string]string
	err := d.evalJSON(ctx, &out, `
	return JSON.stringify(args[0].map((h) => {
		const cs = getComputedStyle(get(h));
		const m = {};
		for (const p of args[1]) m[p] = cs.getPropertyValue(p);
		return m;
	}));`, ids, props)
	if err != nil {
		return nil, fmt.Errorf("cdp: computed: %w", err)
	}
	return out, nil
}

func (d *Document) Query(ctx context.Context, root dom.Handle, kind dom.Kind) ([]dom.Handle, error) {
	var sel string
	switch kind {
	case dom.KindCanvas:
		sel = "canvas"
	case dom.KindSVG:
		sel = "svg"
	default:
		sel = "*"
	}
	var out []dom.Handle
	err := d.evalJSON(ctx, &out, `
	const r = get(args[0]);
	const sel = args[1];
	const els = [r, ...r.querySelectorAll(sel)].filter((el) => el.matches(sel) &&
		(sel !== 'svg' || !(el.parentElement && el.parentElement.closest('svg'))));
	return JSON.stringify(els.map(reg));`, int(root), sel)
	if err != nil {
		return nil, fmt.Errorf("cdp: query %s: %w", sel, err)
	}
	return out, nil
}

func (d *Document) CanvasData(ctx context.Context, h dom.Handle) (string, error) {
	res, err := d.eval(ctx, `
	try {
		return get(args[0]).toDataURL('image/png');
	} catch (e) {
		if (e && e.name === 'SecurityError') return args[1];
		throw e;
	}`, int(h), deniedMarker)
	if err != nil {
		return "", fmt.Errorf("cdp: canvas %d: %w", h, err)
	}
	data := res.Value.Str()
	if data == deniedMarker {
		return "", dom.ErrSnapshotDenied
	}
	if !strings.HasPrefix(data, "data:image/") {
		return "", fmt.Errorf("cdp: canvas %d: unexpected encoding", h)
	}
	return data, nil
}

func (d *Document) SVGMarkup(ctx context.Context, h dom.Handle) (string, error) {
	res, err := d.eval(ctx, `
	const el = get(args[0]);
	const c = el.cloneNode(true);
	const b = el.getBoundingClientRect();
	const src = [el, ...el.querySelectorAll('*')];
	const dst = [c, ...c.querySelectorAll('*')];
	const keep = ['fill', 'stroke', 'stroke-width', 'opacity', 'font-family', 'font-size', 'font-weight', 'color'];
	src.forEach((s, i) => {
		const cs = getComputedStyle(s);
		for (const p of keep) dst[i].style.setProperty(p, cs.getPropertyValue(p));
	});
	c.setAttribute('width', b.width);
	c.setAttribute('height', b.height);
	return new XMLSerializer().serializeToString(c);`, int(h))
	if err != nil {
		return "", fmt.Errorf("cdp: svg %d: %w", h, err)
	}
	return res.Value.Str(), nil
}

func (d *Document) Substitute(ctx context.Context, h dom.Handle, img dom.Image) (dom.Handle, error) {
	res, err := d.eval(ctx, `
	const el = get(args[0]);
	const img = document.createElement('img');
	img.style.cssText = el.style.cssText;
	img.style.setProperty('width', args[2] + 'px', 'important');
	img.style.setProperty('height', args[3] + 'px', 'important');
	img.width = Math.round(args[2]);
	img.height = Math.round(args[3]);
	img.src = args[1];
	el.replaceWith(img);
	return reg(img);`, int(h), img.Src, img.Width, img.Height)
	if err != nil {
		return 0, fmt.Errorf("cdp: substitute %d: %w", h, err)
	}
	return dom.Handle(res.Value.Int()), nil
}

func (d *Document) Release(ctx context.Context) error {
	_, err := d.eval(ctx, `
	delete window.__snapexport[op];
	return true;`)
	if err != nil {
		return fmt.Errorf("cdp: release: %w", err)
	}
	return nil
}

var _ dom.Document = (*Document)(nil)

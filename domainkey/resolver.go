package domainkey

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrQueryTimeout is returned by Plugin.WaitReply when timeout elapses
// before a reply or error arrives (spec.md §6's "expired").
var ErrQueryTimeout = errors.New("domainkey: query timed out")

// Reply is one completed Plugin query: the concatenated TXT strings and
// whether the answer was DNSSEC-validated.
type Reply struct {
	TXT    []string
	DNSSEC bool
}

// Query is the opaque handle a Plugin hands back from Start, passed to
// WaitReply/Cancel. Concrete plugins define their own underlying type.
type Query interface{}

// Plugin is the five-operation DNS resolver contract spec.md §6 requires:
// init/start-query/wait-reply/cancel/close. It models OpenARC's
// callback-based resolver with opaque handles as a cancellable Go
// operation type instead of raw function pointers — start returns a
// Query token, WaitReply blocks up to a relative timeout (optionally
// invoking heartbeat periodically so a caller can interleave other work
// during a long wait), and Cancel must be called exactly once per Start
// that didn't already complete.
type Plugin interface {
	Init() error
	Start(qtype, qname string) (Query, error)
	WaitReply(q Query, timeout time.Duration, heartbeat func()) (Reply, error)
	Cancel(q Query) error
	Close() error
}

// heartbeatInterval is how often WaitReply invokes a non-nil heartbeat
// callback while a query is still outstanding.
const heartbeatInterval = time.Second

// netPlugin is the default Plugin, backed by net.Resolver. Go's stdlib
// resolver runs its own lookup asynchronously via context cancellation,
// so Start launches a goroutine and WaitReply selects on its result
// channel, the timer, and the heartbeat ticker.
type netPlugin struct {
	resolver *net.Resolver
}

// NewNetPlugin returns the default net.Resolver-backed Plugin.
func NewNetPlugin() Plugin {
	return &netPlugin{resolver: net.DefaultResolver}
}

func (p *netPlugin) Init() error { return nil }

type netQuery struct {
	cancel context.CancelFunc
	done   chan netResult
}

type netResult struct {
	txt []string
	err error
}

func (p *netPlugin) Start(qtype, qname string) (Query, error) {
	if qtype != "TXT" {
		return nil, fmt.Errorf("domainkey: unsupported query type %q", qtype)
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &netQuery{cancel: cancel, done: make(chan netResult, 1)}
	go func() {
		txt, err := p.resolver.LookupTXT(ctx, qname)
		q.done <- netResult{txt: txt, err: err}
	}()
	return q, nil
}

func (p *netPlugin) WaitReply(query Query, timeout time.Duration, heartbeat func()) (Reply, error) {
	q, ok := query.(*netQuery)
	if !ok {
		return Reply{}, fmt.Errorf("domainkey: invalid query handle")
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var tick <-chan time.Time
	if heartbeat != nil {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case res := <-q.done:
			if res.err != nil {
				return Reply{}, res.err
			}
			// net.Resolver never surfaces the upstream AD bit.
			return Reply{TXT: res.txt, DNSSEC: false}, nil
		case <-deadline.C:
			return Reply{}, ErrQueryTimeout
		case <-tick:
			heartbeat()
		}
	}
}

func (p *netPlugin) Cancel(query Query) error {
	q, ok := query.(*netQuery)
	if !ok {
		return fmt.Errorf("domainkey: invalid query handle")
	}
	q.cancel()
	return nil
}

func (p *netPlugin) Close() error { return nil }

// pluginTXTResolver adapts a Plugin into the synchronous TXTResolver/
// DNSSECResolver shape the rest of the package (and the cache/audit
// decorators in package arc) already expect, running every lookup
// through Init/Start/WaitReply, and Cancel on timeout — the plugin
// contract's "callers must invoke cancel exactly once per start-query"
// rule.
type pluginTXTResolver struct {
	plugin  Plugin
	timeout time.Duration
}

// NewPluginTXTResolver adapts plugin into a TXTResolver with a fixed
// per-query timeout.
func NewPluginTXTResolver(plugin Plugin, timeout time.Duration) TXTResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &pluginTXTResolver{plugin: plugin, timeout: timeout}
}

func (r *pluginTXTResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	txt, _, err := r.LookupTXTDNSSEC(ctx, name)
	return txt, err
}

func (r *pluginTXTResolver) LookupTXTDNSSEC(ctx context.Context, name string) ([]string, bool, error) {
	if err := r.plugin.Init(); err != nil {
		return nil, false, err
	}
	q, err := r.plugin.Start("TXT", name)
	if err != nil {
		return nil, false, err
	}

	timeout := r.timeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 && d < timeout {
			timeout = d
		}
	}

	reply, err := r.plugin.WaitReply(q, timeout, nil)
	if err != nil {
		if errors.Is(err, ErrQueryTimeout) {
			_ = r.plugin.Cancel(q)
		}
		return nil, false, err
	}
	return reply.TXT, reply.DNSSEC, nil
}

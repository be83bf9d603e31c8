package daemon

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/config"
	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// Decider decides whether navigation to host is blocked.
type Decider interface {
	Decide(host string) domain.Verdict
}

// Exchanger forwards a query upstream. *dns.Client implements it.
type Exchanger interface {
	Exchange(m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

// DNSGuard is a forwarding resolver that answers A/AAAA queries for blocked
// hosts with a sink address. It reads the rule engine concurrently with the
// event loop.
type DNSGuard struct {
	cfg      config.DNSConfig
	decider  Decider
	upstream Exchanger
	sinkV4   net.IP
	sinkV6   net.IP
	logger   *zap.Logger

	mu      sync.Mutex
	servers []*dns.Server
	addr    string
}

// NewDNSGuard creates a guard. Queries that are not blocked go to cfg.Upstream.
func NewDNSGuard(cfg config.DNSConfig, decider Decider, logger *zap.Logger) *DNSGuard {
	return NewDNSGuardWithExchanger(cfg, decider, &dns.Client{Timeout: 4 * time.Second}, logger)
}

// NewDNSGuardWithExchanger creates a guard with an injectable upstream (for testing).
func NewDNSGuardWithExchanger(cfg config.DNSConfig, decider Decider, upstream Exchanger, logger *zap.Logger) *DNSGuard {
	g := &DNSGuard{
		cfg:      cfg,
		decider:  decider,
		upstream: upstream,
		sinkV4:   net.IPv4zero,
		sinkV6:   net.IPv6zero,
		logger:   logger,
	}
	if ip := net.ParseIP(cfg.BlockedIP); ip != nil {
		if ip.To4() != nil {
			g.sinkV4 = ip
		} else {
			g.sinkV6 = ip
		}
	}
	return g
}

// ServeDNS implements dns.Handler.
func (g *DNSGuard) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	if err := w.WriteMsg(g.resolve(r)); err != nil {
		g.logger.Debug("failed to write dns response", zap.Error(err))
	}
}

// resolve answers r locally when the host is blocked, and upstream otherwise.
func (g *DNSGuard) resolve(r *dns.Msg) *dns.Msg {
	if len(r.Question) != 1 {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeFormatError)
		return m
	}

	q := r.Question[0]
	host := strings.TrimSuffix(q.Name, ".")
	if q.Qclass == dns.ClassINET && host != "" {
		if v := g.decider.Decide(host); v.Blocked {
			g.logger.Debug("blocked dns query",
				zap.String("host", host),
				zap.String("type", dns.TypeToString[q.Qtype]),
				zap.Int("rule", v.RuleID))
			return g.blockedReply(r)
		}
	}

	resp, _, err := g.upstream.Exchange(r, g.cfg.Upstream)
	if err != nil || resp == nil {
		g.logger.Warn("upstream dns query failed", zap.String("host", host), zap.Error(err))
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeServerFailure)
		m.RecursionAvailable = true
		return m
	}
	resp.Id = r.Id
	return resp
}

// blockedReply answers A and AAAA with the sink address; other types get an
// empty NOERROR answer so the host cannot be reached through them either.
func (g *DNSGuard) blockedReply(r *dns.Msg) *dns.Msg {
	m := new(dns.Msg)
	m.SetReply(r)
	m.RecursionAvailable = true

	q := r.Question[0]
	hdr := dns.RR_Header{
		Name:   q.Name,
		Rrtype: q.Qtype,
		Class:  dns.ClassINET,
		Ttl:    uint32(g.cfg.BlockedTTL),
	}
	switch q.Qtype {
	case dns.TypeA:
		m.Answer = append(m.Answer, &dns.A{Hdr: hdr, A: g.sinkV4})
	case dns.TypeAAAA:
		m.Answer = append(m.Answer, &dns.AAAA{Hdr: hdr, AAAA: g.sinkV6})
	}
	return m
}

// Start listens on cfg.Listen over UDP and TCP. It returns once both
// servers are accepting queries.
func (g *DNSGuard) Start() error {
	pc, err := net.ListenPacket("udp", g.cfg.Listen)
	if err != nil {
		return err
	}
	l, err := net.Listen("tcp", g.cfg.Listen)
	if err != nil {
		pc.Close()
		return err
	}
	return g.Serve(pc, l)
}

// Serve serves DNS on already bound listeners in background goroutines and
// waits until both servers have started.
func (g *DNSGuard) Serve(pc net.PacketConn, l net.Listener) error {
	mux := dns.NewServeMux()
	mux.Handle(".", g)

	udp := &dns.Server{PacketConn: pc, Net: "udp", Handler: mux}
	tcp := &dns.Server{Listener: l, Net: "tcp", Handler: mux}

	g.mu.Lock()
	g.servers = append(g.servers, udp, tcp)
	g.addr = pc.LocalAddr().String()
	g.mu.Unlock()

	ready := make(chan error, 2)
	for _, srv := range []*dns.Server{udp, tcp} {
		srv.NotifyStartedFunc = func() { ready <- nil }
		go func(srv *dns.Server) {
			if err := srv.ActivateAndServe(); err != nil {
				g.logger.Error("dns server stopped", zap.String("net", srv.Net), zap.Error(err))
				select {
				case ready <- err:
				default:
				}
			}
		}(srv)
	}
	for i := 0; i < 2; i++ {
		if err := <-ready; err != nil {
			return err
		}
	}

	g.logger.Info("dns guard listening",
		zap.String("udp", pc.LocalAddr().String()),
		zap.String("tcp", l.Addr().String()),
		zap.String("upstream", g.cfg.Upstream))
	return nil
}

// Addr returns the UDP address being served.
func (g *DNSGuard) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addr
}

// Shutdown stops all servers.
func (g *DNSGuard) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, srv := range g.servers {
		if err := srv.Shutdown(); err != nil {
			g.logger.Debug("dns server shutdown", zap.String("net", srv.Net), zap.Error(err))
		}
	}
	g.servers = nil
}
